// Package audit 记录同步任务与媒体操作的审计日志
package audit

import (
	"context"
	"time"
)

// 审计动作
const (
	ActionSyncStarted   = "sync.started"
	ActionSyncCompleted = "sync.completed"
	ActionSyncFailed    = "sync.failed"
	ActionSyncCancelled = "sync.cancelled"
	ActionMediaFailed   = "media.failed"
	ActionMediaRetry    = "media.retry"
)

const (
	ResourceSyncTask  = "sync_task"
	ResourceMediaFile = "media_file"
)

// Event 一条审计记录
type Event struct {
	Action       string         `bson:"action" json:"action"`
	ResourceType string         `bson:"resource_type" json:"resource_type"`
	ResourceID   string         `bson:"resource_id" json:"resource_id"`
	CorpID       string         `bson:"corp_id,omitempty" json:"corp_id,omitempty"`
	Details      map[string]any `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt    time.Time      `bson:"created_at" json:"created_at"`
}

// Sink 审计写入端，写入失败不影响主流程
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Nop 未配置审计时使用
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
