// Package wecom 企业微信会话存档 HTTP 客户端
package wecom

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/luoxikang/wechat-work-archive/message"
)

const (
	DefaultBaseURL = "https://qyapi.weixin.qq.com"

	pathGetToken     = "/cgi-bin/gettoken"
	pathGetChatData  = "/cgi-bin/msgaudit/getchatdata"
	pathGetMediaData = "/cgi-bin/msgaudit/getmediadata"
)

// Token access_token 及服务端给出的有效期
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// ChatData 一页会话存档
type ChatData struct {
	Envelopes []message.Envelope
	// HasMore 服务端未返回时为 nil
	HasMore *bool
}

// MediaChunk 媒体分片
type MediaChunk struct {
	Data        []byte
	OutIndexBuf string
	IsFinish    bool
}

// Client 会话存档接口
type Client interface {
	GetToken(ctx context.Context, corpID, secret string) (Token, error)
	GetChatData(ctx context.Context, accessToken string, seq int64, limit int) (*ChatData, error)
	GetMediaChunk(ctx context.Context, accessToken, sdkFileID, indexBuf string) (*MediaChunk, error)
}

// HTTPClient 基于 resty 的实现
type HTTPClient struct {
	rc *resty.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{rc: rc}
}

type baseResp struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type tokenResp struct {
	baseResp
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type chatDataReq struct {
	Seq     int64 `json:"seq"`
	Limit   int   `json:"limit"`
	Timeout int   `json:"timeout,omitempty"`
}

type chatDataResp struct {
	baseResp
	ChatData []message.Envelope `json:"chatdata"`
	HasMore  *bool              `json:"has_more,omitempty"`
}

type mediaReq struct {
	SDKFileID string `json:"sdkfileid"`
	IndexBuf  string `json:"indexbuf"`
}

type mediaResp struct {
	baseResp
	Data        string `json:"data"`
	OutIndexBuf string `json:"outindexbuf"`
	IsFinish    bool   `json:"is_finish"`
}

func (c *HTTPClient) GetToken(ctx context.Context, corpID, secret string) (Token, error) {
	var out tokenResp
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"corpid": corpID, "corpsecret": secret}).
		Get(pathGetToken)
	if err := c.decode("gettoken", resp, err, &out, &out.baseResp); err != nil {
		return Token{}, err
	}
	if out.AccessToken == "" {
		return Token{}, &APIError{Op: "gettoken", HTTPStatus: resp.StatusCode(), Msg: "empty access_token", Err: fmt.Errorf("empty access_token")}
	}
	return Token{AccessToken: out.AccessToken, ExpiresIn: time.Duration(out.ExpiresIn) * time.Second}, nil
}

func (c *HTTPClient) GetChatData(ctx context.Context, accessToken string, seq int64, limit int) (*ChatData, error) {
	var out chatDataResp
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("access_token", accessToken).
		SetBody(chatDataReq{Seq: seq, Limit: limit}).
		Post(pathGetChatData)
	if err := c.decode("getchatdata", resp, err, &out, &out.baseResp); err != nil {
		return nil, err
	}
	return &ChatData{Envelopes: out.ChatData, HasMore: out.HasMore}, nil
}

func (c *HTTPClient) GetMediaChunk(ctx context.Context, accessToken, sdkFileID, indexBuf string) (*MediaChunk, error) {
	var out mediaResp
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("access_token", accessToken).
		SetBody(mediaReq{SDKFileID: sdkFileID, IndexBuf: indexBuf}).
		Post(pathGetMediaData)
	if err := c.decode("getmediadata", resp, err, &out, &out.baseResp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, &APIError{Op: "getmediadata", HTTPStatus: resp.StatusCode(), Err: fmt.Errorf("decode media data: %w", err)}
	}
	return &MediaChunk{Data: data, OutIndexBuf: out.OutIndexBuf, IsFinish: out.IsFinish}, nil
}

// decode 统一处理网络错误、HTTP 状态码和 errcode
func (c *HTTPClient) decode(op string, resp *resty.Response, err error, out any, base *baseResp) error {
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &APIError{Op: op, HTTPStatus: resp.StatusCode()}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &APIError{Op: op, HTTPStatus: resp.StatusCode(), Msg: "invalid response body", Err: err}
	}
	if base.ErrCode != CodeOK {
		return &APIError{Op: op, HTTPStatus: resp.StatusCode(), Code: base.ErrCode, Msg: base.ErrMsg}
	}
	return nil
}
