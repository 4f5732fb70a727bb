package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luoxikang/wechat-work-archive/models"
)

type syncStarter interface {
	StartSync(ctx context.Context, req SyncRequest) (string, error)
}

// Scheduler 按固定间隔为每个租户触发一次全量范围的增量同步
type Scheduler struct {
	sync     syncStarter
	corpIDs  []string
	interval time.Duration
	log      *zap.Logger
}

func NewScheduler(s syncStarter, corpIDs []string, interval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{sync: s, corpIDs: corpIDs, interval: interval, log: log}
}

// Run 阻塞直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("auto sync scheduler started", zap.Duration("interval", s.interval), zap.Int("tenants", len(s.corpIDs)))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, corpID := range s.corpIDs {
		taskID, err := s.sync.StartSync(ctx, SyncRequest{
			Scope:   Scope{CorpID: corpID},
			Trigger: models.TriggerScheduled,
		})
		switch {
		case errors.Is(err, ErrSyncInProgress):
			s.log.Debug("scheduled sync skipped, run in progress", zap.String("corp_id", corpID))
		case err != nil:
			s.log.Warn("scheduled sync failed to start", zap.String("corp_id", corpID), zap.Error(err))
		default:
			s.log.Info("scheduled sync started", zap.String("corp_id", corpID), zap.String("task_id", taskID))
		}
	}
}
