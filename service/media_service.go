package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/luoxikang/wechat-work-archive/audit"
	"github.com/luoxikang/wechat-work-archive/blobstore"
	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
	"github.com/luoxikang/wechat-work-archive/wecom"
)

var (
	errMediaTooLarge     = errors.New("media exceeds max file size")
	errAttemptsExhausted = errors.New("download attempts exhausted")
)

// MediaOptions 媒体下载参数
type MediaOptions struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	MaxFileSize int64
	// AllowedExt 为空表示不限制扩展名
	AllowedExt []string
	URLPrefix  string
	Backoff    RetryPolicy
	// SweepInterval 定期把 pending 记录重新入队，<=0 时只在启动时扫描一次
	SweepInterval time.Duration
}

// MediaService 有界队列 + ants 协程池下载媒体文件，状态机见 models.DownloadStatus
type MediaService struct {
	repo    MediaRepo
	api     wecom.Client
	tokens  tokenSource
	tenants TenantSet
	blobs   blobstore.Store
	audit   audit.Sink
	log     *zap.Logger
	opts    MediaOptions
	allowed map[string]struct{}

	queue chan uint64

	mu       sync.Mutex
	inflight map[uint64]bool // true: 处理结束后重新入队

	pool   *ants.Pool
	cancel context.CancelFunc
	done   chan struct{}
	tasks  sync.WaitGroup
}

func NewMediaService(repo MediaRepo, api wecom.Client, tokens tokenSource, tenants TenantSet,
	blobs blobstore.Store, sink audit.Sink, log *zap.Logger, opts MediaOptions) *MediaService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	allowed := make(map[string]struct{}, len(opts.AllowedExt))
	for _, ext := range opts.AllowedExt {
		allowed[normalizeExt(ext)] = struct{}{}
	}
	return &MediaService{
		repo:     repo,
		api:      api,
		tokens:   tokens,
		tenants:  tenants,
		blobs:    blobs,
		audit:    sink,
		log:      log,
		opts:     opts,
		allowed:  allowed,
		queue:    make(chan uint64, opts.QueueSize),
		inflight: make(map[uint64]bool),
	}
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Enqueue 非阻塞投递；已在队列或处理中的 id 忽略，队列满时丢弃（记录保持 pending，等待扫描）
func (s *MediaService) Enqueue(ids ...uint64) {
	for _, id := range ids {
		s.mu.Lock()
		if _, ok := s.inflight[id]; ok {
			s.mu.Unlock()
			continue
		}
		s.inflight[id] = false
		s.mu.Unlock()

		select {
		case s.queue <- id:
		default:
			s.release(id)
			s.log.Warn("media queue full, handoff dropped", zap.Uint64("media_id", id))
		}
	}
}

func (s *MediaService) release(id uint64) {
	s.mu.Lock()
	again := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if again {
		s.Enqueue(id)
	}
}

// requeue 入队；id 仍在 worker 手里时等它释放后再入队
func (s *MediaService) requeue(id uint64) {
	s.mu.Lock()
	if _, ok := s.inflight[id]; ok {
		s.inflight[id] = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Enqueue(id)
}

// Start 启动分发协程与 worker 池，并做一次恢复扫描
func (s *MediaService) Start(ctx context.Context) error {
	pool, err := ants.NewPool(s.opts.Workers)
	if err != nil {
		return fmt.Errorf("create media pool: %w", err)
	}
	s.pool = pool
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	if err := s.Recover(ctx); err != nil {
		s.log.Warn("media recovery sweep failed", zap.Error(err))
	}
	go s.dispatch(ctx)
	return nil
}

func (s *MediaService) dispatch(ctx context.Context) {
	defer close(s.done)

	var sweep <-chan time.Time
	if s.opts.SweepInterval > 0 {
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep:
			if err := s.Recover(ctx); err != nil {
				s.log.Warn("media sweep failed", zap.Error(err))
			}
		case id := <-s.queue:
			s.tasks.Add(1)
			err := s.pool.Submit(func() {
				defer s.tasks.Done()
				defer s.release(id)
				s.process(ctx, id)
			})
			if err != nil {
				s.tasks.Done()
				s.release(id)
				s.log.Error("submit media task failed", zap.Uint64("media_id", id), zap.Error(err))
			}
		}
	}
}

// Stop 停止分发并等待正在进行的下载退出；未完成的记录停留在 downloading，下次启动恢复
func (s *MediaService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.tasks.Wait()
	s.pool.Release()
}

// Recover 重新入队 pending 与遗留的 downloading 记录
func (s *MediaService) Recover(ctx context.Context) error {
	for _, st := range []models.DownloadStatus{models.DownloadDownloading, models.DownloadPending} {
		ids, err := s.repo.ListMediaIDs(ctx, st, s.opts.QueueSize)
		if err != nil {
			return fmt.Errorf("list %s media: %w", st, err)
		}
		s.Enqueue(ids...)
	}
	return nil
}

// Retry 外部显式重试：failed -> pending，清零尝试次数并入队
func (s *MediaService) Retry(ctx context.Context, id uint64) error {
	f, err := s.repo.GetMedia(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrMediaNotFound
	}
	if err != nil {
		return err
	}
	if f.DownloadStatus != models.DownloadFailed {
		return ErrMediaNotRetryable
	}
	empty := ""
	ok, err := s.repo.TransitionMedia(ctx, id, models.DownloadFailed, models.DownloadPending,
		repository.MediaOutcome{ErrorMessage: &empty, ResetAttempts: true})
	if err != nil {
		return err
	}
	if !ok {
		return ErrMediaNotRetryable
	}
	s.record(ctx, audit.ActionMediaRetry, f, map[string]any{"previous_error": f.ErrorMessage})
	s.requeue(id)
	return nil
}

// process 处理一个媒体文件，ctx 取消时直接返回
func (s *MediaService) process(ctx context.Context, id uint64) {
	log := s.log.With(zap.Uint64("media_id", id))
	f, err := s.repo.GetMedia(ctx, id)
	if err != nil {
		log.Warn("load media failed", zap.Error(err))
		return
	}

	switch f.DownloadStatus {
	case models.DownloadPending:
		ok, err := s.repo.TransitionMedia(ctx, id, models.DownloadPending, models.DownloadDownloading, repository.MediaOutcome{})
		if err != nil {
			log.Warn("claim media failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
	case models.DownloadDownloading:
		// 进程重启后遗留的记录，次数未用尽时继续下载
		if f.DownloadAttempts >= s.opts.MaxAttempts {
			s.fail(ctx, f, errAttemptsExhausted.Error())
			return
		}
	case models.DownloadCompleted, models.DownloadFailed:
		return
	}

	if reason := s.reject(f); reason != "" {
		s.fail(ctx, f, reason)
		return
	}
	if s.reuse(ctx, f) {
		return
	}

	tenant, err := s.tenants.Resolve(f.CorpID)
	if err != nil {
		s.fail(ctx, f, err.Error())
		return
	}

	b := backoff.WithContext(s.opts.Backoff.exponential(), ctx)
	var data []byte
	op := func() error {
		n, ok, err := s.repo.IncrMediaAttempts(ctx, id, s.opts.MaxAttempts)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("count attempt: %w", err))
		}
		if !ok {
			return backoff.Permanent(errAttemptsExhausted)
		}
		data, err = s.download(ctx, tenant, f)
		if err == nil {
			return nil
		}
		var de *MediaDownloadError
		if errors.As(err, &de) && !de.Retryable {
			return backoff.Permanent(err)
		}
		if n >= s.opts.MaxAttempts {
			return backoff.Permanent(err)
		}
		log.Warn("media download failed, will retry", zap.Int("attempt", n), zap.Error(err))
		return err
	}
	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, f, err.Error())
		return
	}

	if err := s.complete(ctx, f, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, f, err.Error())
	}
}

// reject 扩展名与已知大小的前置检查
func (s *MediaService) reject(f *models.MediaFile) string {
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[normalizeExt(f.FileExt)]; !ok {
			return fmt.Sprintf("file extension %q is not allowed", f.FileExt)
		}
	}
	if s.opts.MaxFileSize > 0 && f.FileSize > s.opts.MaxFileSize {
		return fmt.Sprintf("file size %d exceeds limit %d", f.FileSize, s.opts.MaxFileSize)
	}
	return ""
}

// reuse 相同 md5 已有下载结果时直接完成
func (s *MediaService) reuse(ctx context.Context, f *models.MediaFile) bool {
	if f.MD5 == "" {
		return false
	}
	hash := strings.ToLower(f.MD5)
	now := time.Now()
	empty := ""

	out := repository.MediaOutcome{MD5: hash, DownloadedAt: &now, ErrorMessage: &empty}
	if prev, err := s.repo.FindCompletedByMD5(ctx, hash); err == nil && prev != nil && prev.ID != f.ID && prev.LocalPath != "" {
		out.LocalPath, out.FileURL, out.MimeType, out.FileSize = prev.LocalPath, prev.FileURL, prev.MimeType, prev.FileSize
	} else if local, ok := s.blobs.Exists(hash); ok {
		out.LocalPath = local
		out.FileURL = s.fileURL(blobstore.PathFor(hash, strings.TrimPrefix(filepath.Ext(local), ".")))
	} else {
		return false
	}

	ok, err := s.repo.TransitionMedia(ctx, f.ID, models.DownloadDownloading, models.DownloadCompleted, out)
	if err != nil {
		s.log.Warn("complete media from existing blob failed", zap.Uint64("media_id", f.ID), zap.Error(err))
		return false
	}
	if ok {
		s.log.Debug("media reused by md5", zap.Uint64("media_id", f.ID), zap.String("md5", hash))
	}
	return true
}

// download 按 indexbuf 分片拉取直到 is_finish
func (s *MediaService) download(ctx context.Context, t Tenant, f *models.MediaFile) ([]byte, error) {
	tok, err := s.tokens.GetToken(ctx, t)
	if err != nil {
		return nil, &MediaDownloadError{MediaID: f.ID, Retryable: true, Err: err}
	}

	var (
		buf      []byte
		indexBuf string
	)
	for {
		chunk, err := s.api.GetMediaChunk(ctx, tok, f.SDKFileID, indexBuf)
		if err != nil {
			if wecom.IsInvalidToken(err) {
				s.tokens.Invalidate(ctx, t, tok)
			}
			retryable := wecom.IsTransient(err) || wecom.IsInvalidToken(err)
			return nil, &MediaDownloadError{MediaID: f.ID, Retryable: retryable, Err: err}
		}
		buf = append(buf, chunk.Data...)
		if s.opts.MaxFileSize > 0 && int64(len(buf)) > s.opts.MaxFileSize {
			return nil, &MediaDownloadError{MediaID: f.ID, Retryable: false, Err: errMediaTooLarge}
		}
		if chunk.IsFinish {
			break
		}
		if chunk.OutIndexBuf == "" {
			return nil, &MediaDownloadError{MediaID: f.ID, Retryable: true, Err: fmt.Errorf("chunk not finished but outindexbuf is empty")}
		}
		indexBuf = chunk.OutIndexBuf
	}

	sum := md5.Sum(buf)
	got := hex.EncodeToString(sum[:])
	if f.MD5 != "" && !strings.EqualFold(got, f.MD5) {
		return nil, &MediaDownloadError{MediaID: f.ID, Retryable: true, Err: fmt.Errorf("md5 mismatch: expected %s, got %s", f.MD5, got)}
	}
	return buf, nil
}

func (s *MediaService) complete(ctx context.Context, f *models.MediaFile, data []byte) error {
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	rel := blobstore.PathFor(hash, normalizeExt(f.FileExt))
	local, err := s.blobs.Write(rel, data)
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}

	now := time.Now()
	empty := ""
	ok, err := s.repo.TransitionMedia(ctx, f.ID, models.DownloadDownloading, models.DownloadCompleted, repository.MediaOutcome{
		LocalPath:    local,
		FileURL:      s.fileURL(rel),
		MD5:          hash,
		MimeType:     mimetype.Detect(data).String(),
		FileSize:     int64(len(data)),
		ErrorMessage: &empty,
		DownloadedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("mark media completed: %w", err)
	}
	if ok {
		s.log.Info("media downloaded", zap.Uint64("media_id", f.ID), zap.String("path", local), zap.Int("size", len(data)))
	}
	return nil
}

func (s *MediaService) fileURL(rel string) string {
	return strings.TrimSuffix(s.opts.URLPrefix, "/") + "/" + filepath.ToSlash(rel)
}

func (s *MediaService) fail(ctx context.Context, f *models.MediaFile, reason string) {
	ok, err := s.repo.TransitionMedia(ctx, f.ID, models.DownloadDownloading, models.DownloadFailed,
		repository.MediaOutcome{ErrorMessage: &reason})
	if err != nil {
		s.log.Error("mark media failed", zap.Uint64("media_id", f.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	s.log.Warn("media download failed", zap.Uint64("media_id", f.ID), zap.String("reason", reason))
	s.record(ctx, audit.ActionMediaFailed, f, map[string]any{"error": reason})
}

func (s *MediaService) record(ctx context.Context, action string, f *models.MediaFile, details map[string]any) {
	details["msg_id"] = f.MsgID
	err := s.audit.Record(ctx, audit.Event{
		Action:       action,
		ResourceType: audit.ResourceMediaFile,
		ResourceID:   fmt.Sprintf("%d", f.ID),
		CorpID:       f.CorpID,
		Details:      details,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		s.log.Warn("record audit event failed", zap.String("action", action), zap.Error(err))
	}
}
