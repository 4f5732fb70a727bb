package service

import (
	"context"

	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
)

// ArchiveStore 批次事务与游标读取，由 repository.GormStore 实现
type ArchiveStore interface {
	InBatch(ctx context.Context, fn func(w repository.BatchWriter) error) error
	LoadCursor(ctx context.Context, corpID, scope string) (int64, error)
}

// TaskStore 同步任务记录
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.SyncTask) error
	SaveTask(ctx context.Context, t *models.SyncTask) error
	GetTask(ctx context.Context, taskID string) (*models.SyncTask, error)
	ListTasks(ctx context.Context, f repository.TaskFilter) ([]models.SyncTask, int64, error)
}

// MediaRepo 媒体状态机所需的存储操作
type MediaRepo interface {
	GetMedia(ctx context.Context, id uint64) (*models.MediaFile, error)
	// TransitionMedia 条件更新：只有当前状态为 from 时才改为 to
	TransitionMedia(ctx context.Context, id uint64, from, to models.DownloadStatus, out repository.MediaOutcome) (bool, error)
	// IncrMediaAttempts 尝试次数小于 ceiling 时 +1；ok=false 表示已用尽
	IncrMediaAttempts(ctx context.Context, id uint64, ceiling int) (n int, ok bool, err error)
	FindCompletedByMD5(ctx context.Context, md5 string) (*models.MediaFile, error)
	ListMediaIDs(ctx context.Context, status models.DownloadStatus, limit int) ([]uint64, error)
}

var (
	_ ArchiveStore = (*repository.GormStore)(nil)
	_ TaskStore    = (*repository.GormStore)(nil)
	_ MediaRepo    = (*repository.GormStore)(nil)
)
