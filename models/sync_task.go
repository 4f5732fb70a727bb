package models

import (
	"time"

	"gorm.io/datatypes"
)

const TaskTypeSyncMessages = "sync_messages"

// SyncTask 同步任务记录，只由同步控制器修改，进入终态后不再变化
type SyncTask struct {
	ID           uint64         `gorm:"primarykey" json:"-"`
	TaskID       string         `gorm:"size:36;uniqueIndex;not null" json:"task_id"`
	CorpID       string         `gorm:"size:100;not null;index" json:"corp_id"`
	RoomID       string         `gorm:"size:100;index" json:"room_id"` // 为空表示全部群
	TaskType     string         `gorm:"size:50;not null" json:"task_type"`
	Trigger      TaskTrigger    `gorm:"size:20;not null" json:"trigger"`
	Status       TaskStatus     `gorm:"size:20;not null;index" json:"status"`
	StartTime    *time.Time     `json:"start_time"`
	EndTime      *time.Time     `json:"end_time"`
	RangeStart   *time.Time     `json:"range_start,omitempty"`
	RangeEnd     *time.Time     `json:"range_end,omitempty"`
	Progress     int64          `gorm:"default:0" json:"progress"`
	TotalCount   int64          `gorm:"default:0" json:"total_count"`
	SuccessCount int64          `gorm:"default:0" json:"success_count"`
	ErrorCount   int64          `gorm:"default:0" json:"error_count"`
	SkippedCount int64          `gorm:"default:0" json:"skipped_count"`
	ErrorMessage string         `gorm:"type:text" json:"error_message"`
	Metadata     datatypes.JSON `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (SyncTask) TableName() string {
	return prefix + "sync_task"
}

// ProgressPercentage 进度百分比（total 未知时为 0）
func (t *SyncTask) ProgressPercentage() float64 {
	if t.TotalCount <= 0 {
		return 0
	}
	p := float64(t.Progress) / float64(t.TotalCount) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Duration 运行时长；未结束时按 now 计算
func (t *SyncTask) Duration(now time.Time) time.Duration {
	if t.StartTime == nil {
		return 0
	}
	end := now
	if t.EndTime != nil {
		end = *t.EndTime
	}
	if end.Before(*t.StartTime) {
		return 0
	}
	return end.Sub(*t.StartTime)
}
