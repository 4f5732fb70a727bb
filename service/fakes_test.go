package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luoxikang/wechat-work-archive/codec"
	"github.com/luoxikang/wechat-work-archive/message"
	"github.com/luoxikang/wechat-work-archive/wecom"
)

const testCorp = "corp-1"

var testPolicy = RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func testTenant(t *testing.T) Tenant {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	key, err := codec.NewTenantKey(raw)
	if err != nil {
		t.Fatalf("NewTenantKey: %v", err)
	}
	return Tenant{CorpID: testCorp, Secret: "secret", Key: key}
}

// sealPayload 把明文 JSON 封装成信封
func sealPayload(t *testing.T, tn Tenant, seq int64, payload map[string]any) message.Envelope {
	t.Helper()
	msgID, _ := payload["msgid"].(string)
	plain, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env, err := codec.Seal(seq, msgID, plain, tn.Key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return env
}

// testBase 测试消息的时间基准，msgtime = testBase + seq 秒
var testBase = time.Now().Add(-time.Hour).Truncate(time.Second)

func msgTime(seq int64) int64 {
	return testBase.Add(time.Duration(seq) * time.Second).UnixMilli()
}

func textPayload(seq int64, room, from, content string) map[string]any {
	return map[string]any{
		"msgid": fmt.Sprintf("m%d", seq), "action": "send", "from": from, "tolist": []string{},
		"roomid": room, "msgtime": msgTime(seq), "msgtype": "text",
		"text": map[string]any{"content": content},
	}
}

func imagePayload(seq int64, room, from, sdkFileID, md5sum string, size int) map[string]any {
	return map[string]any{
		"msgid": fmt.Sprintf("m%d", seq), "action": "send", "from": from,
		"roomid": room, "msgtime": msgTime(seq), "msgtype": "image",
		"image": map[string]any{"sdkfileid": sdkFileID, "md5sum": md5sum, "filesize": size},
	}
}

func systemPayload(seq int64, room string, body map[string]any) map[string]any {
	return map[string]any{
		"msgid": fmt.Sprintf("m%d", seq), "action": "send", "from": "",
		"roomid": room, "msgtime": msgTime(seq), "msgtype": "system", "system": body,
	}
}

func decodeAll(t *testing.T, tn Tenant, envs ...message.Envelope) []*message.Decoded {
	t.Helper()
	out := make([]*message.Decoded, 0, len(envs))
	for _, e := range envs {
		d, err := codec.Decode(e, tn.Key)
		if err != nil {
			t.Fatalf("Decode seq=%d: %v", e.Seq, err)
		}
		out = append(out, d)
	}
	return out
}

// fakeAPI 内存版会话存档接口
type fakeAPI struct {
	mu sync.Mutex

	envelopes []message.Envelope
	omitMore  bool

	// chatErrs 依次返回的错误，用完之后正常返回
	chatErrs  []error
	chatCalls int
	// chatGate 不为空时 GetChatData 在读取前等待
	chatGate chan struct{}

	tokenCalls int
	tokenErr   error

	media      map[string][]byte
	mediaErrs  map[string][]error
	mediaCalls map[string]int
	chunkSize  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		media:      map[string][]byte{},
		mediaErrs:  map[string][]error{},
		mediaCalls: map[string]int{},
	}
}

func (f *fakeAPI) GetToken(_ context.Context, corpID, _ string) (wecom.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	if f.tokenErr != nil {
		return wecom.Token{}, f.tokenErr
	}
	return wecom.Token{AccessToken: fmt.Sprintf("%s-tok-%d", corpID, f.tokenCalls), ExpiresIn: 2 * time.Hour}, nil
}

func (f *fakeAPI) GetChatData(ctx context.Context, _ string, seq int64, limit int) (*wecom.ChatData, error) {
	if f.chatGate != nil {
		select {
		case <-f.chatGate:
		case <-ctx.Done():
			return nil, &wecom.APIError{Op: "getchatdata", Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	if len(f.chatErrs) > 0 {
		err := f.chatErrs[0]
		f.chatErrs = f.chatErrs[1:]
		return nil, err
	}
	var out []message.Envelope
	remaining := 0
	for _, e := range f.envelopes {
		if e.Seq <= seq {
			continue
		}
		if len(out) < limit {
			out = append(out, e)
		} else {
			remaining++
		}
	}
	data := &wecom.ChatData{Envelopes: out}
	if !f.omitMore {
		more := remaining > 0
		data.HasMore = &more
	}
	return data, nil
}

func (f *fakeAPI) GetMediaChunk(_ context.Context, _ string, sdkFileID, indexBuf string) (*wecom.MediaChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaCalls[sdkFileID]++
	if errs := f.mediaErrs[sdkFileID]; len(errs) > 0 {
		f.mediaErrs[sdkFileID] = errs[1:]
		return nil, errs[0]
	}
	data, ok := f.media[sdkFileID]
	if !ok {
		return nil, &wecom.APIError{Op: "getmediadata", Code: 301052, Msg: "media not found"}
	}
	off := 0
	if indexBuf != "" {
		off, _ = strconv.Atoi(indexBuf)
	}
	size := f.chunkSize
	if size <= 0 {
		size = len(data)
	}
	end := min(off+size, len(data))
	return &wecom.MediaChunk{
		Data:        data[off:end],
		OutIndexBuf: strconv.Itoa(end),
		IsFinish:    end >= len(data),
	}, nil
}

func (f *fakeAPI) calls() (chat, token int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls, f.tokenCalls
}

func (f *fakeAPI) mediaCallCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mediaCalls[id]
}

func serverBusy() error {
	return &wecom.APIError{Op: "getchatdata", HTTPStatus: http.StatusServiceUnavailable}
}

func invalidToken() error {
	return &wecom.APIError{Op: "getchatdata", Code: wecom.CodeInvalidAccessToken, Msg: "invalid access_token"}
}

// fakeBlobs 内存版 blobstore.Store
type fakeBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{files: map[string][]byte{}} }

func (b *fakeBlobs) Write(rel string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[rel] = append([]byte(nil), data...)
	return "/blobs/" + rel, nil
}

func (b *fakeBlobs) Exists(hash string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for rel := range b.files {
		if strings.Contains(rel, hash) {
			return "/blobs/" + rel, true
		}
	}
	return "", false
}

// recordingQueue 记录交给媒体队列的 id
type recordingQueue struct {
	mu  sync.Mutex
	ids []uint64
}

func (q *recordingQueue) Enqueue(ids ...uint64) {
	q.mu.Lock()
	q.ids = append(q.ids, ids...)
	q.mu.Unlock()
}

func (q *recordingQueue) all() []uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uint64(nil), q.ids...)
}
