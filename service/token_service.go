package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/luoxikang/wechat-work-archive/wecom"
)

const (
	defaultTokenTTL    = 7000 * time.Second
	defaultTokenMargin = 5 * time.Minute
)

// tokenSource 拉取与媒体下载依赖的 access_token 提供者
type tokenSource interface {
	GetToken(ctx context.Context, t Tenant) (string, error)
	Invalidate(ctx context.Context, t Tenant, badToken string)
}

type tokenEntry struct {
	token    string
	expireAt time.Time
}

// TokenService 缓存每个租户的 access_token。
// Redis Key 设计：
// - wa:token:{corp_id} -> access_token (String, TTL)
//
// 本地 map 为一级缓存；配置了 Redis 时多进程共享同一个 token。
// 刷新按 corp_id 合并（singleflight），同一租户同时只有一次 gettoken 请求。
type TokenService struct {
	api    wecom.Client
	rdb    *redis.Client
	log    *zap.Logger
	ttl    time.Duration
	margin time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]tokenEntry
	group   singleflight.Group
}

type TokenOption func(*TokenService)

// WithTokenRedis 开启 Redis 共享缓存
func WithTokenRedis(rdb *redis.Client) TokenOption {
	return func(s *TokenService) { s.rdb = rdb }
}

func WithTokenTTL(ttl, margin time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
		if margin >= 0 {
			s.margin = margin
		}
	}
}

func WithTokenLogger(l *zap.Logger) TokenOption {
	return func(s *TokenService) {
		if l != nil {
			s.log = l
		}
	}
}

func withTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

func NewTokenService(api wecom.Client, opts ...TokenOption) *TokenService {
	s := &TokenService{
		api:     api,
		log:     zap.NewNop(),
		ttl:     defaultTokenTTL,
		margin:  defaultTokenMargin,
		now:     time.Now,
		entries: make(map[string]tokenEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenService) tokenKey(corpID string) string {
	return "wa:token:" + corpID
}

// GetToken 剩余有效期大于安全边际时直接返回缓存，否则刷新。
// 刷新失败返回 *AuthError，不会退回旧 token。
func (s *TokenService) GetToken(ctx context.Context, t Tenant) (string, error) {
	if tok, ok := s.cached(t.CorpID); ok {
		return tok, nil
	}

	ch := s.group.DoChan(t.CorpID, func() (any, error) {
		// 调用方取消不应打断其它等待者共享的刷新
		return s.refresh(context.WithoutCancel(ctx), t)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *TokenService) cached(corpID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[corpID]
	if !ok {
		return "", false
	}
	if e.expireAt.Sub(s.now()) <= s.margin {
		return "", false
	}
	return e.token, true
}

func (s *TokenService) refresh(ctx context.Context, t Tenant) (string, error) {
	// 等待期间可能已有其它调用刷新过
	if tok, ok := s.cached(t.CorpID); ok {
		return tok, nil
	}

	if s.rdb != nil {
		tok, ttl, err := s.loadShared(ctx, t.CorpID)
		switch {
		case err == nil && ttl > s.margin:
			s.store(t.CorpID, tok, ttl)
			return tok, nil
		case err != nil && !errors.Is(err, redis.Nil):
			s.log.Warn("read shared token failed", zap.String("corp_id", t.CorpID), zap.Error(err))
		}
	}

	res, err := s.api.GetToken(ctx, t.CorpID, t.Secret)
	if err != nil {
		return "", &AuthError{CorpID: t.CorpID, Err: err}
	}
	life := s.ttl
	if res.ExpiresIn > 0 && res.ExpiresIn < life {
		life = res.ExpiresIn
	}
	s.store(t.CorpID, res.AccessToken, life)

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, s.tokenKey(t.CorpID), res.AccessToken, life).Err(); err != nil {
			s.log.Warn("write shared token failed", zap.String("corp_id", t.CorpID), zap.Error(err))
		}
	}
	s.log.Debug("access token refreshed", zap.String("corp_id", t.CorpID), zap.Duration("life", life))
	return res.AccessToken, nil
}

func (s *TokenService) loadShared(ctx context.Context, corpID string) (string, time.Duration, error) {
	pipe := s.rdb.Pipeline()
	get := pipe.Get(ctx, s.tokenKey(corpID))
	pttl := pipe.PTTL(ctx, s.tokenKey(corpID))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", 0, err
	}
	return get.Val(), pttl.Val(), nil
}

func (s *TokenService) store(corpID, token string, life time.Duration) {
	s.mu.Lock()
	s.entries[corpID] = tokenEntry{token: token, expireAt: s.now().Add(life)}
	s.mu.Unlock()
}

// Invalidate 丢弃缓存，下一次 GetToken 强制刷新。
// badToken 不为空时只在缓存仍是该 token 时才丢弃，避免把别人刚刷新的 token 删掉。
func (s *TokenService) Invalidate(ctx context.Context, t Tenant, badToken string) {
	s.mu.Lock()
	e, ok := s.entries[t.CorpID]
	drop := ok && (badToken == "" || e.token == badToken)
	if drop {
		delete(s.entries, t.CorpID)
	}
	s.mu.Unlock()
	if ok && !drop {
		return
	}

	if s.rdb != nil {
		var err error
		if badToken == "" {
			err = s.rdb.Del(ctx, s.tokenKey(t.CorpID)).Err()
		} else {
			// 共享 key 已被其它进程换成新 token 时保留
			err = releaseScript.Run(ctx, s.rdb, []string{s.tokenKey(t.CorpID)}, badToken).Err()
		}
		if err != nil {
			s.log.Warn("delete shared token failed", zap.String("corp_id", t.CorpID), zap.Error(err))
		}
	}
	s.group.Forget(t.CorpID)
}
