package service

import (
	"context"
	"errors"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/luoxikang/wechat-work-archive/message"
	"github.com/luoxikang/wechat-work-archive/wecom"
)

// Batch 一次拉取的结果
type Batch struct {
	// Envelopes 按 seq 升序，且全部大于请求的游标
	Envelopes  []message.Envelope
	NextCursor int64
	HasMore    bool
}

// Fetcher 按游标分页拉取会话存档，负责重试与 token 失效处理
type Fetcher struct {
	api    wecom.Client
	tokens tokenSource
	policy RetryPolicy
	log    *zap.Logger
}

func NewFetcher(api wecom.Client, tokens tokenSource, policy RetryPolicy, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{api: api, tokens: tokens, policy: policy, log: log}
}

// FetchBatch 拉取 cursor 之后最多 limit 条消息。
// 可重试错误按指数退避重试，直到 fetch_max_attempts；token 失效时刷新并只重试一次。
func (f *Fetcher) FetchBatch(ctx context.Context, t Tenant, cursor int64, limit int) (Batch, error) {
	attempts := 0
	authRetried := false

	var data *wecom.ChatData
	op := func() error {
		attempts++
		tok, err := f.tokens.GetToken(ctx, t)
		if err != nil {
			return backoff.Permanent(err)
		}
		data, err = f.api.GetChatData(ctx, tok, cursor, limit)
		if err == nil {
			return nil
		}
		if wecom.IsInvalidToken(err) {
			f.tokens.Invalidate(ctx, t, tok)
			if authRetried {
				return backoff.Permanent(&AuthError{CorpID: t.CorpID, Err: err})
			}
			authRetried = true
			tok, terr := f.tokens.GetToken(ctx, t)
			if terr != nil {
				return backoff.Permanent(terr)
			}
			data, err = f.api.GetChatData(ctx, tok, cursor, limit)
			if err == nil {
				return nil
			}
			if wecom.IsInvalidToken(err) {
				f.tokens.Invalidate(ctx, t, tok)
				return backoff.Permanent(&AuthError{CorpID: t.CorpID, Err: err})
			}
		}
		if !wecom.IsTransient(err) {
			return backoff.Permanent(err)
		}
		f.log.Warn("fetch chat data failed, will retry",
			zap.String("corp_id", t.CorpID), zap.Int64("cursor", cursor),
			zap.Int("attempt", attempts), zap.Error(err))
		return err
	}

	if err := backoff.Retry(op, f.policy.backoff(ctx)); err != nil {
		var authErr *AuthError
		switch {
		case errors.As(err, &authErr):
			return Batch{}, authErr
		case ctx.Err() != nil:
			return Batch{}, ctx.Err()
		case wecom.IsTransient(err):
			return Batch{}, &FetchError{Kind: FetchTransient, CorpID: t.CorpID, Cursor: cursor, Attempts: attempts, Err: err}
		default:
			return Batch{}, &FetchError{Kind: FetchPermanent, CorpID: t.CorpID, Cursor: cursor, Attempts: attempts, Err: err}
		}
	}
	return normalize(data, cursor, limit), nil
}

// normalize 排序、丢弃不大于游标以及重复的 seq
func normalize(data *wecom.ChatData, cursor int64, limit int) Batch {
	b := Batch{NextCursor: cursor}
	if data == nil {
		return b
	}
	envs := make([]message.Envelope, 0, len(data.Envelopes))
	for _, e := range data.Envelopes {
		if e.Seq > cursor {
			envs = append(envs, e)
		}
	}
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].Seq < envs[j].Seq })
	out := envs[:0]
	for _, e := range envs {
		if n := len(out); n > 0 && out[n-1].Seq == e.Seq {
			continue
		}
		out = append(out, e)
	}
	b.Envelopes = out
	if n := len(out); n > 0 {
		b.NextCursor = out[n-1].Seq
	}

	if data.HasMore != nil {
		b.HasMore = *data.HasMore
	} else {
		b.HasMore = limit > 0 && len(data.Envelopes) >= limit
	}
	// 空批次视为已追平，避免原地空转
	if len(out) == 0 {
		b.HasMore = false
	}
	return b
}
