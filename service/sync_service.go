package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/luoxikang/wechat-work-archive/audit"
	"github.com/luoxikang/wechat-work-archive/codec"
	"github.com/luoxikang/wechat-work-archive/message"
	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
)

const maxRecordedDecodeErrors = 50

var errTaskCancelled = errors.New("sync task cancelled")

// Scope 同步范围：某租户的全部群，或其中一个群
type Scope struct {
	CorpID string
	RoomID string
}

// Key 游标与运行锁使用的范围键
func (s Scope) Key() string {
	if s.RoomID == "" {
		return "all"
	}
	return "room:" + s.RoomID
}

// TimeRange 可选的时间窗口（闭区间）
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

func (r TimeRange) IsZero() bool { return r.Start == nil && r.End == nil }

func (r TimeRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

type SyncRequest struct {
	Scope   Scope
	Range   TimeRange
	Trigger models.TaskTrigger
}

// SyncTaskView 对外展示的任务
type SyncTaskView struct {
	models.SyncTask
	ProgressPercentage float64 `json:"progress_percentage"`
	DurationSeconds    float64 `json:"duration_seconds"`
}

// TaskObserver 每批提交后与进入终态时同步回调，实现方不应阻塞
type TaskObserver interface {
	OnTaskUpdate(t models.SyncTask)
}

type batchFetcher interface {
	FetchBatch(ctx context.Context, t Tenant, cursor int64, limit int) (Batch, error)
}

type batchPersister interface {
	PersistBatch(ctx context.Context, in PersistInput) (PersistResult, error)
}

type mediaQueue interface {
	Enqueue(ids ...uint64)
}

type SyncOptions struct {
	BatchSize   int
	MaxSyncDays int
	LockTTL     time.Duration
}

type runHandle struct {
	cancelled atomic.Bool
	done      chan struct{}
}

// SyncService 同步任务控制器：一个任务一个协程，批次间顺序执行
type SyncService struct {
	tenants TenantSet
	fetcher batchFetcher
	upsert  batchPersister
	cursors ArchiveStore
	tasks   TaskStore
	lock    RunLock
	media   mediaQueue
	audit   audit.Sink
	log     *zap.Logger
	opts    SyncOptions
	now     func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	runs      map[string]*runHandle
	observers []TaskObserver
}

type SyncDeps struct {
	Tenants TenantSet
	Fetcher batchFetcher
	Upsert  batchPersister
	Cursors ArchiveStore
	Tasks   TaskStore
	Lock    RunLock
	// Media 可选，为空时不触发媒体下载
	Media mediaQueue
	Audit audit.Sink
	Log   *zap.Logger
}

func NewSyncService(deps SyncDeps, opts SyncOptions) *SyncService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if deps.Lock == nil {
		deps.Lock = NewLocalRunLock()
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncService{
		tenants:    deps.Tenants,
		fetcher:    deps.Fetcher,
		upsert:     deps.Upsert,
		cursors:    deps.Cursors,
		tasks:      deps.Tasks,
		lock:       deps.Lock,
		media:      deps.Media,
		audit:      deps.Audit,
		log:        deps.Log,
		opts:       opts,
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		runs:       make(map[string]*runHandle),
	}
}

// AddObserver 注册任务进度观察者
func (s *SyncService) AddObserver(o TaskObserver) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

func (s *SyncService) validateRange(r TimeRange) error {
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return fmt.Errorf("%w: start is after end", ErrInvalidRange)
	}
	if r.Start != nil && s.opts.MaxSyncDays > 0 {
		earliest := s.now().AddDate(0, 0, -s.opts.MaxSyncDays)
		if r.Start.Before(earliest) {
			return fmt.Errorf("%w: start is more than %d days ago", ErrInvalidRange, s.opts.MaxSyncDays)
		}
	}
	return nil
}

// StartSync 创建任务并异步执行。同一范围已有活动任务时返回 ErrSyncInProgress（不排队）。
func (s *SyncService) StartSync(ctx context.Context, req SyncRequest) (string, error) {
	tenant, err := s.tenants.Resolve(req.Scope.CorpID)
	if err != nil {
		return "", err
	}
	req.Scope.CorpID = tenant.CorpID
	if err := s.validateRange(req.Range); err != nil {
		return "", err
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}

	taskID := uuid.NewString()
	key := runLockKey(tenant.CorpID, req.Scope)
	ok, err := s.lock.Acquire(ctx, key, taskID, s.opts.LockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return "", ErrSyncInProgress
	}

	task := &models.SyncTask{
		TaskID:     taskID,
		CorpID:     tenant.CorpID,
		RoomID:     req.Scope.RoomID,
		TaskType:   models.TaskTypeSyncMessages,
		Trigger:    req.Trigger,
		Status:     models.TaskPending,
		RangeStart: req.Range.Start,
		RangeEnd:   req.Range.End,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		_ = s.lock.Release(context.WithoutCancel(ctx), key, taskID)
		return "", fmt.Errorf("create sync task: %w", err)
	}

	h := &runHandle{done: make(chan struct{})}
	s.mu.Lock()
	s.runs[taskID] = h
	s.mu.Unlock()

	s.record(ctx, audit.ActionSyncStarted, task, map[string]any{
		"scope":   req.Scope.Key(),
		"trigger": string(req.Trigger),
	})
	s.log.Info("sync task created",
		zap.String("task_id", taskID), zap.String("corp_id", tenant.CorpID),
		zap.String("scope", req.Scope.Key()), zap.String("trigger", string(req.Trigger)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.baseCtx, h, task, tenant, req, key)
	}()
	return taskID, nil
}

type decodeFailure struct {
	Seq    int64  `json:"seq"`
	MsgID  string `json:"msg_id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func (s *SyncService) run(ctx context.Context, h *runHandle, task *models.SyncTask, tenant Tenant, req SyncRequest, lockKey string) {
	log := s.log.With(zap.String("task_id", task.TaskID), zap.String("corp_id", task.CorpID), zap.String("scope", req.Scope.Key()))

	start := s.now()
	task.Status = models.TaskRunning
	task.StartTime = &start
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		log.Warn("save running task failed", zap.Error(err))
	}

	err := s.loop(ctx, h, task, tenant, req, lockKey, log)
	s.finish(ctx, h, task, lockKey, err, log)
}

func (s *SyncService) loop(ctx context.Context, h *runHandle, task *models.SyncTask, tenant Tenant, req SyncRequest, lockKey string, log *zap.Logger) error {
	// 带时间范围的任务是回填，从头扫描且不推进游标
	backfill := !req.Range.IsZero()
	var cursor int64
	if !backfill {
		c, err := s.cursors.LoadCursor(ctx, tenant.CorpID, req.Scope.Key())
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		cursor = c
	}

	var failures []decodeFailure
	for {
		if h.cancelled.Load() {
			return errTaskCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.fetcher.FetchBatch(ctx, tenant, cursor, s.opts.BatchSize)
		if err != nil {
			return err
		}
		if len(batch.Envelopes) == 0 {
			return nil
		}

		var (
			msgs       []*message.Decoded
			decodeErrs int
			filtered   int
			advanceTo  int64
		)
		for _, env := range batch.Envelopes {
			d, err := codec.Decode(env, tenant.Key)
			if err != nil {
				decodeErrs++
				failures = appendFailure(failures, env, err)
				log.Warn("decode envelope failed", zap.Int64("seq", env.Seq), zap.String("msg_id", env.MsgID), zap.Error(err))
				continue
			}
			advanceTo = max(advanceTo, d.Seq)
			if d.RoomID == "" || (req.Scope.RoomID != "" && d.RoomID != req.Scope.RoomID) || !req.Range.Contains(d.Time) {
				filtered++
				continue
			}
			msgs = append(msgs, d)
		}

		res, err := s.upsert.PersistBatch(ctx, PersistInput{
			CorpID:        tenant.CorpID,
			Scope:         req.Scope.Key(),
			Messages:      msgs,
			AdvanceTo:     advanceTo,
			AdvanceCursor: !backfill,
			SyncedAt:      s.now(),
		})
		if err != nil {
			return err
		}

		n := int64(len(batch.Envelopes))
		task.TotalCount += n
		task.Progress += n
		task.SuccessCount += int64(res.Committed)
		task.ErrorCount += int64(decodeErrs + res.Errors)
		task.SkippedCount += int64(filtered + res.SkippedDuplicates)
		if decodeErrs > 0 {
			task.Metadata = failuresJSON(failures)
		}
		if err := s.tasks.SaveTask(ctx, task); err != nil {
			log.Warn("save task progress failed", zap.Error(err))
		}
		s.notify(*task)

		if err := s.lock.Refresh(ctx, lockKey, task.TaskID, s.opts.LockTTL); err != nil {
			log.Warn("refresh run lock failed", zap.Error(err))
		}
		if s.media != nil && len(res.MediaFileIDs) > 0 {
			s.media.Enqueue(res.MediaFileIDs...)
		}

		log.Debug("batch persisted",
			zap.Int64("cursor", cursor), zap.Int64("next_cursor", batch.NextCursor),
			zap.Int("committed", res.Committed), zap.Int("duplicates", res.SkippedDuplicates),
			zap.Int("decode_errors", decodeErrs), zap.Int("filtered", filtered))

		cursor = batch.NextCursor
		if !batch.HasMore {
			return nil
		}
	}
}

func appendFailure(list []decodeFailure, env message.Envelope, err error) []decodeFailure {
	f := decodeFailure{Seq: env.Seq, MsgID: env.MsgID, Reason: err.Error()}
	var de *codec.DecodeError
	if errors.As(err, &de) {
		f.Kind = de.Kind.String()
	}
	list = append(list, f)
	if len(list) > maxRecordedDecodeErrors {
		list = list[len(list)-maxRecordedDecodeErrors:]
	}
	return list
}

func failuresJSON(list []decodeFailure) datatypes.JSON {
	b, err := json.Marshal(map[string]any{"decode_errors": list})
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// finish 写终态、释放运行锁。调用方的 ctx 可能已取消，这里改用不可取消的 ctx
func (s *SyncService) finish(ctx context.Context, h *runHandle, task *models.SyncTask, lockKey string, runErr error, log *zap.Logger) {
	fctx := context.WithoutCancel(ctx)
	end := s.now()
	task.EndTime = &end

	action := audit.ActionSyncCompleted
	switch {
	case runErr == nil:
		task.Status = models.TaskCompleted
	case errors.Is(runErr, errTaskCancelled), errors.Is(runErr, context.Canceled):
		task.Status = models.TaskCancelled
		action = audit.ActionSyncCancelled
	default:
		task.Status = models.TaskFailed
		task.ErrorMessage = runErr.Error()
		action = audit.ActionSyncFailed
	}

	if err := s.tasks.SaveTask(fctx, task); err != nil {
		log.Error("save terminal task failed", zap.Error(err))
	}
	if err := s.lock.Release(fctx, lockKey, task.TaskID); err != nil {
		log.Warn("release run lock failed", zap.Error(err))
	}

	s.mu.Lock()
	delete(s.runs, task.TaskID)
	s.mu.Unlock()
	close(h.done)

	s.record(fctx, action, task, map[string]any{
		"total_count":   task.TotalCount,
		"success_count": task.SuccessCount,
		"error_count":   task.ErrorCount,
		"skipped_count": task.SkippedCount,
		"error":         task.ErrorMessage,
	})
	s.notify(*task)

	fields := []zap.Field{
		zap.String("status", string(task.Status)),
		zap.Int64("total", task.TotalCount),
		zap.Int64("success", task.SuccessCount),
		zap.Int64("errors", task.ErrorCount),
		zap.Int64("skipped", task.SkippedCount),
	}
	if runErr != nil && task.Status == models.TaskFailed {
		log.Error("sync task failed", append(fields, zap.Error(runErr))...)
		return
	}
	log.Info("sync task finished", fields...)
}

func (s *SyncService) notify(t models.SyncTask) {
	s.mu.Lock()
	obs := append([]TaskObserver(nil), s.observers...)
	s.mu.Unlock()
	for _, o := range obs {
		o.OnTaskUpdate(t)
	}
}

func (s *SyncService) record(ctx context.Context, action string, t *models.SyncTask, details map[string]any) {
	err := s.audit.Record(ctx, audit.Event{
		Action:       action,
		ResourceType: audit.ResourceSyncTask,
		ResourceID:   t.TaskID,
		CorpID:       t.CorpID,
		Details:      details,
		CreatedAt:    s.now(),
	})
	if err != nil {
		s.log.Warn("record audit event failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *SyncService) view(t *models.SyncTask) *SyncTaskView {
	return &SyncTaskView{
		SyncTask:           *t,
		ProgressPercentage: t.ProgressPercentage(),
		DurationSeconds:    t.Duration(s.now()).Seconds(),
	}
}

func (s *SyncService) GetTask(ctx context.Context, taskID string) (*SyncTaskView, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.view(t), nil
}

func (s *SyncService) ListTasks(ctx context.Context, f repository.TaskFilter) ([]*SyncTaskView, int64, error) {
	tasks, total, err := s.tasks.ListTasks(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*SyncTaskView, 0, len(tasks))
	for i := range tasks {
		out = append(out, s.view(&tasks[i]))
	}
	return out, total, nil
}

// CancelTask 只有本进程内仍在运行的任务才会返回 true；取消在下一个批次边界生效
func (s *SyncService) CancelTask(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	h, ok := s.runs[taskID]
	s.mu.Unlock()
	if ok {
		if h.cancelled.CompareAndSwap(false, true) {
			s.log.Info("sync task cancel requested", zap.String("task_id", taskID))
		}
		return true, nil
	}

	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrTaskNotFound
		}
		return false, err
	}
	return false, nil
}

// Wait 等待任务结束；任务不在本进程运行时立即返回
func (s *SyncService) Wait(ctx context.Context, taskID string) error {
	s.mu.Lock()
	h, ok := s.runs[taskID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 取消全部运行中的任务并等待其写完终态
func (s *SyncService) Close() {
	s.baseCancel()
	s.wg.Wait()
}
