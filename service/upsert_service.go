package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/luoxikang/wechat-work-archive/message"
	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
)

// PersistInput 一个批次的写入参数
type PersistInput struct {
	CorpID string
	// Scope 游标的范围键（见 Scope.Key）
	Scope    string
	Messages []*message.Decoded
	// AdvanceTo 本批成功处理的最大 seq；AdvanceCursor 为 false（回填）时不写游标
	AdvanceTo     int64
	AdvanceCursor bool
	SyncedAt      time.Time
}

// PersistResult 批次写入结果
type PersistResult struct {
	Committed         int
	SkippedDuplicates int
	Errors            int
	MediaFileIDs      []uint64
	CursorAdvancedTo  int64
}

// UpsertService 把解码后的消息幂等地写入存档，一个批次一个事务
type UpsertService struct {
	store  ArchiveStore
	policy RetryPolicy
	log    *zap.Logger
}

func NewUpsertService(store ArchiveStore, policy RetryPolicy, log *zap.Logger) *UpsertService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UpsertService{store: store, policy: policy, log: log}
}

// PersistBatch 事务失败时整批重试，直至 persist_max_attempts；耗尽返回 *PersistError，游标不动
func (s *UpsertService) PersistBatch(ctx context.Context, in PersistInput) (PersistResult, error) {
	if in.SyncedAt.IsZero() {
		in.SyncedAt = time.Now()
	}

	var res PersistResult
	attempts := 0
	op := func() error {
		attempts++
		res = PersistResult{}
		err := s.store.InBatch(ctx, func(w repository.BatchWriter) error {
			return s.apply(w, in, &res)
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			s.log.Warn("persist batch failed",
				zap.String("corp_id", in.CorpID), zap.String("scope", in.Scope),
				zap.Int("attempt", attempts), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, s.policy.backoff(ctx)); err != nil {
		if ctx.Err() != nil {
			return PersistResult{}, ctx.Err()
		}
		return PersistResult{}, &PersistError{Attempts: attempts, Err: err}
	}
	return res, nil
}

func (s *UpsertService) apply(w repository.BatchWriter, in PersistInput, res *PersistResult) error {
	groups := make(map[string]struct{})
	var media []*models.MediaFile

	for _, d := range in.Messages {
		if err := validateDecoded(d); err != nil {
			res.Errors++
			s.log.Debug("skip invalid message", zap.String("msg_id", d.MsgID), zap.Int64("seq", d.Seq), zap.Error(err))
			continue
		}
		if _, ok := groups[d.RoomID]; !ok {
			if err := w.EnsureGroup(&models.Group{
				RoomID:      d.RoomID,
				RoomName:    d.RoomID,
				OwnerCorpID: in.CorpID,
				IsActive:    true,
				CreateTime:  &d.Time,
			}); err != nil {
				return fmt.Errorf("ensure group %s: %w", d.RoomID, err)
			}
			groups[d.RoomID] = struct{}{}
		}

		row, err := toMessageRow(in.CorpID, d)
		if err != nil {
			res.Errors++
			continue
		}
		inserted, err := w.InsertMessage(row)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", d.MsgID, err)
		}
		if !inserted {
			res.SkippedDuplicates++
			continue
		}
		res.Committed++

		if err := applySideEffects(w, d); err != nil {
			return fmt.Errorf("apply %s side effects for %s: %w", d.Type, d.MsgID, err)
		}
		if d.Type.HasMedia() && d.Media != nil {
			media = append(media, &models.MediaFile{
				MsgID:          d.MsgID,
				CorpID:         in.CorpID,
				FileType:       d.Type,
				FileName:       d.Media.FileName,
				FileExt:        d.Media.Ext,
				SDKFileID:      d.Media.SDKFileID,
				FileSize:       d.Media.Size,
				MD5:            d.Media.MD5,
				DownloadStatus: models.DownloadPending,
			})
		}
	}

	if err := w.CreateMediaFiles(media); err != nil {
		return fmt.Errorf("create media files: %w", err)
	}
	for _, f := range media {
		res.MediaFileIDs = append(res.MediaFileIDs, f.ID)
	}
	for roomID := range groups {
		if err := w.RefreshGroupStats(roomID, in.SyncedAt); err != nil {
			return fmt.Errorf("refresh group %s stats: %w", roomID, err)
		}
	}
	if in.AdvanceCursor && in.AdvanceTo > 0 {
		if err := w.AdvanceCursor(in.CorpID, in.Scope, in.AdvanceTo); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		res.CursorAdvancedTo = in.AdvanceTo
	}
	return nil
}

func validateDecoded(d *message.Decoded) error {
	switch {
	case d == nil:
		return fmt.Errorf("nil message")
	case d.MsgID == "":
		return fmt.Errorf("empty msg_id")
	case d.Seq <= 0:
		return fmt.Errorf("non-positive seq %d", d.Seq)
	case d.RoomID == "":
		return fmt.Errorf("empty room_id")
	case !d.Type.Valid():
		return fmt.Errorf("unknown message type %q", d.Type)
	case d.Type == models.MessageTypeSystem && d.System == nil:
		return fmt.Errorf("system message without event")
	}
	return nil
}

func toMessageRow(corpID string, d *message.Decoded) (*models.Message, error) {
	to, err := json.Marshal(d.To)
	if err != nil {
		return nil, err
	}
	row := &models.Message{
		CorpID:       corpID,
		Seq:          d.Seq,
		MsgID:        d.MsgID,
		RoomID:       d.RoomID,
		MsgType:      d.Type,
		Action:       d.Action,
		MsgTime:      d.Time,
		FromUser:     d.From,
		ToUsers:      datatypes.JSON(to),
		Content:      d.Content,
		ReplyToMsgID: d.ReplyTo,
	}
	if len(d.Raw) > 0 {
		row.RawData = datatypes.JSON(d.Raw)
	}
	if d.Media != nil {
		b, err := json.Marshal(map[string]any{
			"sdkfileid": d.Media.SDKFileID,
			"md5sum":    d.Media.MD5,
			"filesize":  d.Media.Size,
			"filename":  d.Media.FileName,
			"fileext":   d.Media.Ext,
		})
		if err != nil {
			return nil, err
		}
		row.MediaData = datatypes.JSON(b)
	}
	return row, nil
}

// applySideEffects 只对新插入的消息执行，重放批次不会重复修改成员和群
func applySideEffects(w repository.BatchWriter, d *message.Decoded) error {
	switch d.Type {
	case models.MessageTypeSystem:
		return applySystemEvent(w, d)
	case models.MessageTypeRevoke:
		if d.RevokeOf == "" {
			return nil
		}
		return w.MarkRevoked(d.RevokeOf, d.Time)
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeVoice,
		models.MessageTypeVideo, models.MessageTypeFile, models.MessageTypeLocation,
		models.MessageTypeLink, models.MessageTypeMiniProgram, models.MessageTypeCard,
		models.MessageTypeEmotion:
		if d.From == "" {
			return nil
		}
		return w.TouchMember(d.RoomID, d.From, d.Time)
	}
	return fmt.Errorf("unhandled message type %q", d.Type)
}

func applySystemEvent(w repository.BatchWriter, d *message.Decoded) error {
	ev := d.System
	switch ev.Event {
	case message.SystemJoin:
		for _, uid := range ev.UserIDs {
			m, err := w.ActiveMember(d.RoomID, uid)
			if err != nil {
				return err
			}
			if m != nil {
				continue
			}
			if err := w.CreateMember(&models.Member{
				RoomID:   d.RoomID,
				UserID:   uid,
				JoinTime: d.Time,
				Role:     models.MemberRoleMember,
				Inviter:  ev.Operator,
				IsActive: true,
			}); err != nil {
				return err
			}
		}
	case message.SystemQuit:
		for _, uid := range ev.UserIDs {
			if err := w.QuitMember(d.RoomID, uid, d.Time); err != nil {
				return err
			}
		}
	case message.SystemSetRole:
		for _, uid := range ev.UserIDs {
			if err := w.SetMemberRole(d.RoomID, uid, ev.Role); err != nil {
				return err
			}
		}
	case message.SystemRename:
		return w.RenameGroup(d.RoomID, ev.Name)
	case message.SystemNotice:
		return w.SetGroupNotice(d.RoomID, ev.Notice)
	case message.SystemDismiss:
		return w.DeactivateGroup(d.RoomID, d.Time)
	default:
		return fmt.Errorf("unknown system event %q", ev.Event)
	}
	return nil
}
