package repository

import (
	"errors"
	"time"

	"github.com/luoxikang/wechat-work-archive/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// BatchWriter 单个批次事务内可执行的写操作。
// 实现必须保证整批要么全部提交、要么全部回滚。
type BatchWriter interface {
	EnsureGroup(g *models.Group) error
	InsertMessage(m *models.Message) (bool, error)
	MarkRevoked(msgID string, at time.Time) error

	ActiveMember(roomID, userID string) (*models.Member, error)
	CreateMember(m *models.Member) error
	QuitMember(roomID, userID string, at time.Time) error
	SetMemberRole(roomID, userID string, role models.MemberRole) error
	TouchMember(roomID, userID string, at time.Time) error

	RenameGroup(roomID, name string) error
	SetGroupNotice(roomID, notice string) error
	DeactivateGroup(roomID string, at time.Time) error
	RefreshGroupStats(roomID string, syncedAt time.Time) error

	CreateMediaFiles(files []*models.MediaFile) error
	AdvanceCursor(corpID, scope string, seq int64) error
}

// TaskFilter 任务列表过滤条件
type TaskFilter struct {
	CorpID string
	RoomID string
	Status models.TaskStatus
	Page   int
	Size   int
}

// MediaOutcome 媒体状态迁移时一并写入的字段，零值字段不写
type MediaOutcome struct {
	LocalPath     string
	FileURL       string
	MD5           string
	MimeType      string
	FileSize      int64
	ErrorMessage  *string
	DownloadedAt  *time.Time
	ResetAttempts bool
}

// Updates 转成 gorm Updates 使用的字段表
func (o MediaOutcome) Updates(to models.DownloadStatus) map[string]any {
	u := map[string]any{"download_status": to}
	if o.LocalPath != "" {
		u["local_path"] = o.LocalPath
	}
	if o.FileURL != "" {
		u["file_url"] = o.FileURL
	}
	if o.MD5 != "" {
		u["md5"] = o.MD5
	}
	if o.MimeType != "" {
		u["mime_type"] = o.MimeType
	}
	if o.FileSize > 0 {
		u["file_size"] = o.FileSize
	}
	if o.ErrorMessage != nil {
		u["error_message"] = *o.ErrorMessage
	}
	if o.DownloadedAt != nil {
		u["downloaded_at"] = *o.DownloadedAt
	}
	if o.ResetAttempts {
		u["download_attempts"] = 0
	}
	return u
}

// Page 统一分页参数
func Page(page, size int) (offset, limit int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return (page - 1) * size, size
}
