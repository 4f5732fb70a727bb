package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luoxikang/wechat-work-archive/message"
	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
	"github.com/luoxikang/wechat-work-archive/wecom"
)

type syncFixture struct {
	tenant Tenant
	store  *memStore
	api    *fakeAPI
	media  *recordingQueue
	audit  *memAudit
	svc    *SyncService
}

func newSyncFixture(t *testing.T, batchSize int) *syncFixture {
	t.Helper()
	tn := testTenant(t)
	fx := &syncFixture{tenant: tn, store: newMemStore(), api: newFakeAPI(), media: &recordingQueue{}, audit: &memAudit{}}
	tokens := NewTokenService(fx.api)
	fx.svc = NewSyncService(SyncDeps{
		Tenants: TenantSet{tn.CorpID: tn},
		Fetcher: NewFetcher(fx.api, tokens, testPolicy, nil),
		Upsert:  NewUpsertService(fx.store, testPolicy, nil),
		Cursors: fx.store,
		Tasks:   fx.store,
		Media:   fx.media,
		Audit:   fx.audit,
	}, SyncOptions{BatchSize: batchSize, MaxSyncDays: 90, LockTTL: time.Minute})
	t.Cleanup(fx.svc.Close)
	return fx
}

func (fx *syncFixture) texts(t *testing.T, room string, from, to int64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		fx.api.envelopes = append(fx.api.envelopes, sealPayload(t, fx.tenant, seq, textPayload(seq, room, "alice", "hello")))
	}
}

func (fx *syncFixture) run(t *testing.T, req SyncRequest) models.SyncTask {
	t.Helper()
	id, err := fx.svc.StartSync(context.Background(), req)
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.svc.Wait(ctx, id); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return fx.store.task(id)
}

// observerFunc 同步观察者
type observerFunc func(models.SyncTask)

func (f observerFunc) OnTaskUpdate(t models.SyncTask) { f(t) }

func TestSync_EndToEnd(t *testing.T) {
	fx := newSyncFixture(t, 2)
	tn := fx.tenant
	fx.api.envelopes = []message.Envelope{
		sealPayload(t, tn, 1, systemPayload(1, "wr1", map[string]any{"event": "join", "userids": []string{"alice"}})),
		sealPayload(t, tn, 2, textPayload(2, "wr1", "alice", "hi")),
		sealPayload(t, tn, 3, imagePayload(3, "wr1", "alice", "sdk-1", "", 10)),
		{Seq: 4, MsgID: "m4", EncryptRandomKey: "AAAA", EncryptChatMsg: "AAAA", Signature: "bad"},
		sealPayload(t, tn, 5, textPayload(5, "", "alice", "no room")),
	}

	var (
		mu      sync.Mutex
		updates []models.SyncTask
	)
	fx.svc.AddObserver(observerFunc(func(u models.SyncTask) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	}))

	task := fx.run(t, SyncRequest{Scope: Scope{CorpID: testCorp}})

	if task.Status != models.TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", task.Status, task.ErrorMessage)
	}
	if task.TotalCount != 5 || task.Progress != 5 || task.SuccessCount != 3 || task.ErrorCount != 1 || task.SkippedCount != 1 {
		t.Fatalf("unexpected counters %+v", task)
	}
	if len(task.Metadata) == 0 {
		t.Fatalf("decode failure must be recorded in metadata")
	}
	if c, _ := fx.store.LoadCursor(context.Background(), testCorp, "all"); c != 5 {
		t.Fatalf("cursor = %d, want 5", c)
	}
	if ids := fx.media.all(); len(ids) != 1 {
		t.Fatalf("expected one media handoff, got %v", ids)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, u := range updates {
		if u.SuccessCount+u.ErrorCount > u.Progress || u.Progress > u.TotalCount {
			t.Fatalf("counters out of order: %+v", u)
		}
	}
	if last := updates[len(updates)-1]; last.Status != models.TaskCompleted {
		t.Fatalf("observers must see the terminal state, got %s", last.Status)
	}
}

func TestSync_CorruptedHighestSeqLeavesCursor(t *testing.T) {
	fx := newSyncFixture(t, 10)
	tn := fx.tenant
	first := sealPayload(t, tn, 1, textPayload(1, "wr1", "alice", "one"))
	bad := sealPayload(t, tn, 3, textPayload(3, "wr1", "alice", "three"))
	bad.Signature = first.Signature
	fx.api.envelopes = []message.Envelope{
		first,
		sealPayload(t, tn, 2, textPayload(2, "wr1", "bob", "two")),
		bad,
	}

	task := fx.run(t, SyncRequest{Scope: Scope{CorpID: testCorp}})

	if task.Status != models.TaskCompleted || task.SuccessCount != 2 || task.ErrorCount != 1 {
		t.Fatalf("unexpected task %s success=%d errors=%d", task.Status, task.SuccessCount, task.ErrorCount)
	}
	if c, _ := fx.store.LoadCursor(context.Background(), testCorp, "all"); c != 2 {
		t.Fatalf("cursor = %d, want 2", c)
	}
}

func TestSync_IncrementalResume(t *testing.T) {
	fx := newSyncFixture(t, 10)
	fx.texts(t, "wr1", 1, 3)
	fx.run(t, SyncRequest{Scope: Scope{CorpID: testCorp}})

	fx.texts(t, "wr1", 4, 6)
	task := fx.run(t, SyncRequest{Scope: Scope{CorpID: testCorp}})
	if task.TotalCount != 3 || task.SuccessCount != 3 {
		t.Fatalf("second run must only see new messages: %+v", task)
	}
}

func TestSync_ExclusivePerScope(t *testing.T) {
	fx := newSyncFixture(t, 10)
	fx.texts(t, "wr1", 1, 2)
	fx.api.chatGate = make(chan struct{})

	first, err := fx.svc.StartSync(context.Background(), SyncRequest{Scope: Scope{CorpID: testCorp}})
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	if _, err := fx.svc.StartSync(context.Background(), SyncRequest{Scope: Scope{CorpID: testCorp}}); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	// 不同范围可以并发
	second, err := fx.svc.StartSync(context.Background(), SyncRequest{Scope: Scope{CorpID: testCorp, RoomID: "wr1"}})
	if err != nil {
		t.Fatalf("room scope must not conflict: %v", err)
	}

	close(fx.api.chatGate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = fx.svc.Wait(ctx, first)
	_ = fx.svc.Wait(ctx, second)

	if _, err := fx.svc.StartSync(context.Background(), SyncRequest{Scope: Scope{CorpID: testCorp}}); err != nil {
		t.Fatalf("lock must be released after completion: %v", err)
	}
}

func TestSync_CancelBetweenBatches(t *testing.T) {
	fx := newSyncFixture(t, 2)
	fx.texts(t, "wr1", 1, 10)

	var taskID string
	var once sync.Once
	ready := make(chan struct{})
	fx.svc.AddObserver(observerFunc(func(u models.SyncTask) {
		<-ready
		if u.Status == models.TaskRunning && u.Progress == 4 {
			once.Do(func() { _, _ = fx.svc.CancelTask(context.Background(), taskID) })
		}
	}))

	id, err := fx.svc.StartSync(context.Background(), SyncRequest{Scope: Scope{CorpID: testCorp}})
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	taskID = id
	close(ready)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.svc.Wait(ctx, id); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	task := fx.store.task(id)
	if task.Status != models.TaskCancelled || task.Progress != 4 || task.SuccessCount != 4 {
		t.Fatalf("expected cancelled after 2 batches, got %+v", task)
	}
	if c, _ := fx.store.LoadCursor(context.Background(), testCorp, "all"); c != 4 {
		t.Fatalf("committed batches must keep their cursor, got %d", c)
	}

	if ok, err := fx.svc.CancelTask(context.Background(), id); ok || err != nil {
		t.Fatalf("cancel of a terminal task: ok=%v err=%v", ok, err)
	}
	if _, err := fx.svc.CancelTask(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSync_CompletesAfterTransientFailures(t *testing.T) {
	fx := newSyncFixture(t, 10)
	fx.texts(t, "wr1", 1, 3)
	fx.api.chatErrs = []error{serverBusy(), serverBusy()}

	task := fx.run(t, SyncRequest{Scope: Scope{CorpID: testCorp}})
	if task.Status != models.TaskCompleted || task.SuccessCount != 3 {
		t.Fatalf("expected completed, got %+v", task)
	}
}

func TestSync_FetchFailureFailsTask(t *testing.T) {
	fx := newSyncFixture(t, 10)
	fx.api.chatErrs = []error{&wecom.APIError{Op: "getchatdata", Code: 301042, Msg: "ip not allowed"}}

	task := fx.run(t, SyncRequest{Scope: Scope{CorpID: testCorp}})
	if task.Status != models.TaskFailed || task.ErrorMessage == "" || task.EndTime == nil {
		t.Fatalf("expected failed task with message, got %+v", task)
	}

	if _, err := fx.svc.StartSync(context.Background(), SyncRequest{Scope: Scope{CorpID: testCorp}}); err != nil {
		t.Fatalf("lock must be released after failure: %v", err)
	}
}

func TestSync_RangedBackfill(t *testing.T) {
	fx := newSyncFixture(t, 10)
	fx.texts(t, "wr1", 1, 6)
	fx.texts(t, "wr2", 7, 8)

	start := time.UnixMilli(msgTime(3))
	end := time.UnixMilli(msgTime(5))
	task := fx.run(t, SyncRequest{
		Scope: Scope{CorpID: testCorp, RoomID: "wr1"},
		Range: TimeRange{Start: &start, End: &end},
	})

	if task.Status != models.TaskCompleted || task.SuccessCount != 3 || task.SkippedCount != 5 {
		t.Fatalf("unexpected backfill counters %+v", task)
	}
	if c, _ := fx.store.LoadCursor(context.Background(), testCorp, "room:wr1"); c != 0 {
		t.Fatalf("backfill moved the cursor to %d", c)
	}
}

func TestSync_RequestValidation(t *testing.T) {
	fx := newSyncFixture(t, 10)
	now := time.Now()
	old := now.AddDate(0, 0, -91)
	later := now.Add(time.Hour)

	tests := []struct {
		name string
		req  SyncRequest
		want error
	}{
		{"start after end", SyncRequest{Scope: Scope{CorpID: testCorp}, Range: TimeRange{Start: &later, End: &now}}, ErrInvalidRange},
		{"too old", SyncRequest{Scope: Scope{CorpID: testCorp}, Range: TimeRange{Start: &old}}, ErrInvalidRange},
		{"unknown tenant", SyncRequest{Scope: Scope{CorpID: "nope"}}, ErrUnknownTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.svc.StartSync(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSync_GetAndListTasks(t *testing.T) {
	fx := newSyncFixture(t, 10)
	fx.texts(t, "wr1", 1, 2)
	task := fx.run(t, SyncRequest{Scope: Scope{CorpID: testCorp}})

	v, err := fx.svc.GetTask(context.Background(), task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if v.ProgressPercentage != 100 || v.DurationSeconds < 0 || v.Trigger != models.TriggerManual {
		t.Fatalf("unexpected view %+v", v)
	}
	if _, err := fx.svc.GetTask(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	list, total, err := fx.svc.ListTasks(context.Background(), repository.TaskFilter{Status: models.TaskCompleted})
	if err != nil || total != 1 || len(list) != 1 {
		t.Fatalf("ListTasks: total=%d len=%d err=%v", total, len(list), err)
	}
}

type countingStarter struct {
	mu    sync.Mutex
	calls []SyncRequest
	err   error
}

func (c *countingStarter) StartSync(_ context.Context, req SyncRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	return "task", c.err
}

func TestScheduler_Tick(t *testing.T) {
	starter := &countingStarter{err: ErrSyncInProgress}
	s := NewScheduler(starter, []string{"a", "b"}, time.Minute, nil)

	s.tick(context.Background())

	if len(starter.calls) != 2 {
		t.Fatalf("expected one start per tenant, got %d", len(starter.calls))
	}
	for _, req := range starter.calls {
		if req.Trigger != models.TriggerScheduled || req.Scope.RoomID != "" {
			t.Fatalf("unexpected scheduled request %+v", req)
		}
	}
}
