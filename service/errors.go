package service

import (
	"errors"
	"fmt"
)

var (
	ErrSyncInProgress    = errors.New("a sync run is already active for this scope")
	ErrTaskNotFound      = errors.New("sync task not found")
	ErrInvalidRange      = errors.New("invalid sync time range")
	ErrUnknownTenant     = errors.New("unknown tenant")
	ErrMediaNotFound     = errors.New("media file not found")
	ErrMediaNotRetryable = errors.New("media file is not in failed state")
)

// AuthError 获取或刷新 access_token 失败
type AuthError struct {
	CorpID string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed for corp %s: %v", e.CorpID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchKind 拉取失败类别
type FetchKind int

const (
	FetchTransient FetchKind = iota + 1
	FetchPermanent
)

func (k FetchKind) String() string {
	switch k {
	case FetchTransient:
		return "transient"
	case FetchPermanent:
		return "permanent"
	}
	return "unknown"
}

// FetchError 拉取批次失败（重试耗尽或不可重试）
type FetchError struct {
	Kind     FetchKind
	CorpID   string
	Cursor   int64
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed for corp %s after cursor %d (%d attempts): %v",
		e.Kind, e.CorpID, e.Cursor, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistError 批次事务多次重试后仍失败，游标未推进
type PersistError struct {
	Attempts int
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist batch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// MediaDownloadError 单个媒体文件下载失败
type MediaDownloadError struct {
	MediaID   uint64
	Retryable bool
	Err       error
}

func (e *MediaDownloadError) Error() string {
	return fmt.Sprintf("download media %d: %v", e.MediaID, e.Err)
}

func (e *MediaDownloadError) Unwrap() error { return e.Err }
