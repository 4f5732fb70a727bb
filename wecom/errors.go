package wecom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// 企业微信错误码
const (
	CodeOK                 = 0
	CodeSystemBusy         = -1
	CodeInvalidCredential  = 40001
	CodeInvalidAccessToken = 40014
	CodeAccessTokenExpired = 42001
	CodeFreqLimit          = 45009
	CodeConcurrencyLimit   = 45033
)

// APIError 接口调用失败（HTTP 层或 errcode 非 0）
type APIError struct {
	Op         string
	HTTPStatus int
	Code       int
	Msg        string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("wecom %s: %v", e.Op, e.Err)
	case e.Code != CodeOK:
		return fmt.Sprintf("wecom %s: errcode=%d errmsg=%s", e.Op, e.Code, e.Msg)
	default:
		return fmt.Sprintf("wecom %s: http status %d", e.Op, e.HTTPStatus)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// InvalidToken access_token 失效或过期
func (e *APIError) InvalidToken() bool {
	switch e.Code {
	case CodeInvalidCredential, CodeInvalidAccessToken, CodeAccessTokenExpired:
		return true
	}
	return false
}

// Transient 网络错误、限频、5xx 可以重试
func (e *APIError) Transient() bool {
	if e.Err != nil {
		return !errors.Is(e.Err, context.Canceled)
	}
	if e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= 500 {
		return true
	}
	switch e.Code {
	case CodeSystemBusy, CodeFreqLimit, CodeConcurrencyLimit:
		return true
	}
	return false
}

// IsInvalidToken 判断 err 链中是否有 token 失效信号
func IsInvalidToken(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.InvalidToken()
}

// IsTransient 判断 err 链中是否为可重试错误
func IsTransient(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Transient()
}
