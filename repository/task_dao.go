package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/luoxikang/wechat-work-archive/models"
)

// TaskDAO 同步任务数据访问
type TaskDAO struct {
	db *gorm.DB
}

func NewTaskDAO(db *gorm.DB) *TaskDAO {
	return &TaskDAO{db: db}
}

func (dao *TaskDAO) WithDB(db *gorm.DB) *TaskDAO {
	if db == nil {
		return dao
	}
	return &TaskDAO{db: db}
}

func (dao *TaskDAO) Create(t *models.SyncTask) error {
	return dao.db.Create(t).Error
}

// SaveProgress 写入状态与计数器；已进入终态的记录不会再被修改
func (dao *TaskDAO) SaveProgress(t *models.SyncTask) error {
	terminal := []models.TaskStatus{models.TaskCompleted, models.TaskFailed, models.TaskCancelled}
	return dao.db.Model(&models.SyncTask{}).
		Where("task_id = ? AND status NOT IN ?", t.TaskID, terminal).
		Updates(map[string]any{
			"status":        t.Status,
			"start_time":    t.StartTime,
			"end_time":      t.EndTime,
			"progress":      t.Progress,
			"total_count":   t.TotalCount,
			"success_count": t.SuccessCount,
			"error_count":   t.ErrorCount,
			"skipped_count": t.SkippedCount,
			"error_message": t.ErrorMessage,
			"metadata":      t.Metadata,
		}).Error
}

func (dao *TaskDAO) FindByTaskID(taskID string) (*models.SyncTask, error) {
	var t models.SyncTask
	err := dao.db.Where("task_id = ?", taskID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (dao *TaskDAO) List(f TaskFilter) ([]models.SyncTask, int64, error) {
	q := dao.db.Model(&models.SyncTask{})
	if f.CorpID != "" {
		q = q.Where("corp_id = ?", f.CorpID)
	}
	if f.RoomID != "" {
		q = q.Where("room_id = ?", f.RoomID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := Page(f.Page, f.Size)
	var tasks []models.SyncTask
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&tasks).Error
	return tasks, total, err
}
