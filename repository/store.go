package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/luoxikang/wechat-work-archive/models"
)

// GormStore 基于 gorm 的存储实现，组合各 DAO
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB { return s.db }

// InBatch 开启一个事务执行 fn，fn 返回错误或 panic 时回滚
func (s *GormStore) InBatch(ctx context.Context, fn func(w BatchWriter) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newBatchTx(tx))
	})
}

func (s *GormStore) LoadCursor(ctx context.Context, corpID, scope string) (int64, error) {
	return NewCursorDAO(s.db.WithContext(ctx)).Get(corpID, scope)
}

func (s *GormStore) CreateTask(ctx context.Context, t *models.SyncTask) error {
	return NewTaskDAO(s.db.WithContext(ctx)).Create(t)
}

func (s *GormStore) SaveTask(ctx context.Context, t *models.SyncTask) error {
	return NewTaskDAO(s.db.WithContext(ctx)).SaveProgress(t)
}

func (s *GormStore) GetTask(ctx context.Context, taskID string) (*models.SyncTask, error) {
	return NewTaskDAO(s.db.WithContext(ctx)).FindByTaskID(taskID)
}

func (s *GormStore) ListTasks(ctx context.Context, f TaskFilter) ([]models.SyncTask, int64, error) {
	return NewTaskDAO(s.db.WithContext(ctx)).List(f)
}

func (s *GormStore) GetMedia(ctx context.Context, id uint64) (*models.MediaFile, error) {
	return NewMediaDAO(s.db.WithContext(ctx)).FindByID(id)
}

func (s *GormStore) TransitionMedia(ctx context.Context, id uint64, from, to models.DownloadStatus, out MediaOutcome) (bool, error) {
	return NewMediaDAO(s.db.WithContext(ctx)).Transition(id, from, to, out)
}

func (s *GormStore) IncrMediaAttempts(ctx context.Context, id uint64, ceiling int) (int, bool, error) {
	return NewMediaDAO(s.db.WithContext(ctx)).IncrAttempts(id, ceiling)
}

func (s *GormStore) FindCompletedByMD5(ctx context.Context, md5 string) (*models.MediaFile, error) {
	return NewMediaDAO(s.db.WithContext(ctx)).FindCompletedByMD5(md5)
}

func (s *GormStore) ListMediaIDs(ctx context.Context, status models.DownloadStatus, limit int) ([]uint64, error) {
	return NewMediaDAO(s.db.WithContext(ctx)).ListIDsByStatus(status, limit)
}

// BatchTx 事务内的 BatchWriter 实现
type BatchTx struct {
	groups   *GroupDAO
	messages *MessageDAO
	members  *MemberDAO
	media    *MediaDAO
	cursors  *CursorDAO
}

func newBatchTx(tx *gorm.DB) *BatchTx {
	return &BatchTx{
		groups:   NewGroupDAO(tx),
		messages: NewMessageDAO(tx),
		members:  NewMemberDAO(tx),
		media:    NewMediaDAO(tx),
		cursors:  NewCursorDAO(tx),
	}
}

func (b *BatchTx) EnsureGroup(g *models.Group) error { return b.groups.EnsureExists(g) }

func (b *BatchTx) InsertMessage(m *models.Message) (bool, error) {
	return b.messages.InsertIgnore(m)
}

func (b *BatchTx) MarkRevoked(msgID string, at time.Time) error {
	return b.messages.MarkRevoked(msgID, at)
}

func (b *BatchTx) ActiveMember(roomID, userID string) (*models.Member, error) {
	return b.members.FindActive(roomID, userID)
}

func (b *BatchTx) CreateMember(m *models.Member) error { return b.members.Create(m) }

func (b *BatchTx) QuitMember(roomID, userID string, at time.Time) error {
	return b.members.Quit(roomID, userID, at)
}

func (b *BatchTx) SetMemberRole(roomID, userID string, role models.MemberRole) error {
	return b.members.SetRole(roomID, userID, role)
}

func (b *BatchTx) TouchMember(roomID, userID string, at time.Time) error {
	return b.members.Touch(roomID, userID, at)
}

func (b *BatchTx) RenameGroup(roomID, name string) error { return b.groups.Rename(roomID, name) }

func (b *BatchTx) SetGroupNotice(roomID, notice string) error {
	return b.groups.SetNotice(roomID, notice)
}

// DeactivateGroup 停用群并级联停用成员
func (b *BatchTx) DeactivateGroup(roomID string, at time.Time) error {
	if err := b.groups.Deactivate(roomID); err != nil {
		return err
	}
	return b.members.DeactivateAll(roomID, at)
}

func (b *BatchTx) RefreshGroupStats(roomID string, syncedAt time.Time) error {
	n, err := b.members.CountActive(roomID)
	if err != nil {
		return err
	}
	return b.groups.UpdateStats(roomID, n, syncedAt)
}

func (b *BatchTx) CreateMediaFiles(files []*models.MediaFile) error {
	return b.media.CreateBatch(files)
}

func (b *BatchTx) AdvanceCursor(corpID, scope string, seq int64) error {
	return b.cursors.Advance(corpID, scope, seq)
}
