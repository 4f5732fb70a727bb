package service

import (
	"context"
	"errors"

	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
)

var ErrNotFound = repository.ErrNotFound

// QueryService 存档只读查询
type QueryService struct {
	*Service
}

func NewQueryService(s *Service) *QueryService {
	return &QueryService{Service: s}
}

// GroupDetail 群详情，带消息统计
type GroupDetail struct {
	models.Group
	Stats repository.MessageStats `json:"stats"`
}

func (s *QueryService) ListGroups(ctx context.Context, f repository.GroupFilter) ([]models.Group, int64, error) {
	return repository.NewGroupDAO(s.DB.WithContext(ctx)).List(f)
}

func (s *QueryService) GetGroup(ctx context.Context, roomID string) (*GroupDetail, error) {
	db := s.DB.WithContext(ctx)
	g, err := repository.NewGroupDAO(db).FindByRoomID(roomID)
	if err != nil {
		return nil, err
	}
	stats, err := repository.NewMessageDAO(db).Stats(roomID)
	if err != nil {
		return nil, err
	}
	return &GroupDetail{Group: *g, Stats: stats}, nil
}

func (s *QueryService) ListMembers(ctx context.Context, roomID string, activeOnly bool, page, size int) ([]models.Member, int64, error) {
	return repository.NewMemberDAO(s.DB.WithContext(ctx)).ListByRoom(roomID, activeOnly, page, size)
}

func (s *QueryService) ListMessages(ctx context.Context, f repository.MessageFilter) ([]models.Message, int64, error) {
	return repository.NewMessageDAO(s.DB.WithContext(ctx)).ListByRoom(f)
}

// MessageDetail 消息及其媒体文件
type MessageDetail struct {
	models.Message
	Media []models.MediaFile `json:"media,omitempty"`
}

func (s *QueryService) GetMessage(ctx context.Context, msgID string) (*MessageDetail, error) {
	db := s.DB.WithContext(ctx)
	m, err := repository.NewMessageDAO(db).FindByMsgID(msgID)
	if err != nil {
		return nil, err
	}
	d := &MessageDetail{Message: *m}
	if m.MsgType.HasMedia() {
		files, err := repository.NewMediaDAO(db).ListByMsgID(msgID)
		if err != nil {
			return nil, err
		}
		d.Media = files
	}
	return d, nil
}

func (s *QueryService) ListMediaByMessage(ctx context.Context, msgID string) ([]models.MediaFile, error) {
	return repository.NewMediaDAO(s.DB.WithContext(ctx)).ListByMsgID(msgID)
}

func (s *QueryService) GroupStats(ctx context.Context, corpID string) (repository.GroupStats, error) {
	return repository.NewGroupDAO(s.DB.WithContext(ctx)).Stats(corpID)
}

func (s *QueryService) MessageStats(ctx context.Context, roomID string) (repository.MessageStats, error) {
	return repository.NewMessageDAO(s.DB.WithContext(ctx)).Stats(roomID)
}

// IsNotFound 查询结果不存在
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
