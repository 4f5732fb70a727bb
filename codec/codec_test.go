package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/luoxikang/wechat-work-archive/models"
)

func testKey(t *testing.T) TenantKey {
	t.Helper()
	k, err := NewTenantKey(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewTenantKey: %v", err)
	}
	return k
}

func TestParseEncodingAESKey(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, 32)
	s := base64.StdEncoding.EncodeToString(raw)
	if len(s) != 44 {
		t.Fatalf("unexpected base64 len %d", len(s))
	}
	k, err := ParseEncodingAESKey(s[:43])
	if err != nil {
		t.Fatalf("ParseEncodingAESKey: %v", err)
	}
	if !bytes.Equal(k.secret, raw) {
		t.Fatalf("key mismatch")
	}

	if _, err := ParseEncodingAESKey("short"); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestDecode_Text(t *testing.T) {
	key := testKey(t)
	plain := []byte(`{"msgid":"m1","action":"send","from":"alice","tolist":["bob"],"roomid":"wr1","msgtime":1700000000123,"msgtype":"text","text":{"content":"hello"}}`)
	env, err := Seal(10, "m1", plain, key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	d, err := Decode(env, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Seq != 10 || d.MsgID != "m1" || d.RoomID != "wr1" || d.From != "alice" {
		t.Fatalf("unexpected decoded: %+v", d)
	}
	if d.Type != models.MessageTypeText || d.Content != "hello" {
		t.Fatalf("unexpected content: %s %q", d.Type, d.Content)
	}
	if !d.Time.Equal(time.UnixMilli(1700000000123)) {
		t.Fatalf("unexpected time %v", d.Time)
	}
	if !bytes.Equal(d.Raw, plain) {
		t.Fatalf("raw payload not kept")
	}
}

func TestDecode_Media(t *testing.T) {
	key := testKey(t)
	plain := []byte(`{"msgid":"m2","from":"alice","roomid":"wr1","msgtime":1700000000000,"msgtype":"file","file":{"sdkfileid":"sdk-1","md5sum":"ABCDEF","filename":"a.PDF","fileext":"PDF","filesize":2048}}`)
	env, err := Seal(11, "m2", plain, key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	d, err := Decode(env, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Media == nil {
		t.Fatalf("expected media ref")
	}
	if d.Media.SDKFileID != "sdk-1" || d.Media.MD5 != "abcdef" || d.Media.Ext != "pdf" || d.Media.Size != 2048 {
		t.Fatalf("unexpected media ref: %+v", d.Media)
	}
}

func TestDecode_WeappAlias(t *testing.T) {
	key := testKey(t)
	plain := []byte(`{"msgid":"m3","roomid":"wr1","msgtime":1,"msgtype":"weapp","weapp":{"title":"mini"}}`)
	env, _ := Seal(12, "m3", plain, key)
	d, err := Decode(env, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Type != models.MessageTypeMiniProgram {
		t.Fatalf("expected miniprogram, got %s", d.Type)
	}
}

func TestDecode_Errors(t *testing.T) {
	key := testKey(t)
	good := []byte(`{"msgid":"m1","roomid":"wr1","msgtime":1,"msgtype":"text","text":{"content":"x"}}`)

	tests := []struct {
		name   string
		plain  []byte
		tamper bool
		kind   DecodeKind
	}{
		{name: "tampered signature", plain: good, tamper: true, kind: Integrity},
		{name: "bad json", plain: []byte(`{not json`), kind: Malformed},
		{name: "unknown msgtype", plain: []byte(`{"msgid":"m1","msgtime":1,"msgtype":"hologram"}`), kind: Malformed},
		{name: "msgid mismatch", plain: []byte(`{"msgid":"other","msgtime":1,"msgtype":"text","text":{"content":"x"}}`), kind: Malformed},
		{name: "missing body", plain: []byte(`{"msgid":"m1","msgtime":1,"msgtype":"image"}`), kind: Malformed},
		{name: "bad system event", plain: []byte(`{"msgid":"m1","msgtime":1,"msgtype":"system","system":{"event":"join"}}`), kind: Malformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Seal(1, "m1", tt.plain, key)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if tt.tamper {
				sig, _ := base64.StdEncoding.DecodeString(env.Signature)
				sig[0] ^= 0xff
				env.Signature = base64.StdEncoding.EncodeToString(sig)
			}
			_, err = Decode(env, key)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if de.Kind != tt.kind {
				t.Fatalf("expected %s, got %s (%v)", tt.kind, de.Kind, err)
			}
		})
	}
}

func TestDecode_WrongKey(t *testing.T) {
	key := testKey(t)
	other, _ := NewTenantKey(bytes.Repeat([]byte{0x01}, 32))
	env, _ := Seal(1, "m1", []byte(`{}`), key)

	_, err := Decode(env, other)
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != Integrity {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	key := testKey(t)
	plain := []byte(`{"msgid":"m1","roomid":"wr1","msgtime":5,"msgtype":"revoke","revoke":{"pre_msgid":"m0"}}`)
	env, _ := Seal(3, "m1", plain, key)
	a, err1 := Decode(env, key)
	b, err2 := Decode(env, key)
	if err1 != nil || err2 != nil {
		t.Fatalf("Decode: %v %v", err1, err2)
	}
	if a.RevokeOf != "m0" || a.RevokeOf != b.RevokeOf || a.Seq != b.Seq {
		t.Fatalf("non-deterministic decode: %+v %+v", a, b)
	}
}
