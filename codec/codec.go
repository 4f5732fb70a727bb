// Package codec 负责会话存档信封的校验、解密与解析，不做任何 I/O。
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luoxikang/wechat-work-archive/message"
	"github.com/luoxikang/wechat-work-archive/models"
)

// Decode 先校验签名，再解密，最后解析成结构化消息
func Decode(env message.Envelope, key TenantKey) (*message.Decoded, error) {
	plain, err := open(env, key)
	if err != nil {
		return nil, err
	}
	return parse(env, plain)
}

func open(env message.Envelope, key TenantKey) ([]byte, error) {
	integrity := func(reason string, err error) error {
		return &DecodeError{Kind: Integrity, Seq: env.Seq, MsgID: env.MsgID, Reason: reason, Err: err}
	}

	salt, err := decodeField(env.EncryptRandomKey)
	if err != nil {
		return nil, integrity("bad encrypt_random_key", err)
	}
	ct, err := decodeField(env.EncryptChatMsg)
	if err != nil {
		return nil, integrity("bad encrypt_chat_msg", err)
	}
	sig, err := decodeField(env.Signature)
	if err != nil {
		return nil, integrity("bad signature", err)
	}

	encKey, macKey, err := key.derive(salt)
	if err != nil {
		return nil, integrity("derive key", err)
	}
	if !hmac.Equal(sign(macKey, env.Seq, env.MsgID, ct), sig) {
		return nil, integrity("signature mismatch", nil)
	}

	if len(ct) < 2*aes.BlockSize || len(ct)%aes.BlockSize != 0 {
		return nil, integrity("ciphertext length", nil)
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, integrity("cipher", err)
	}
	iv, body := ct[:aes.BlockSize], ct[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, integrity("padding", err)
	}
	return plain, nil
}

func decodeField(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	return base64.StdEncoding.DecodeString(s)
}

// sign HMAC-SHA256(seq || msgid || ciphertext)
func sign(macKey []byte, seq int64, msgID string, ct []byte) []byte {
	m := hmac.New(sha256.New, macKey)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(seq))
	m.Write(b[:])
	m.Write([]byte(msgID))
	m.Write(ct)
	return m.Sum(nil)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("invalid block length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("invalid padding size")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return b[:len(b)-n], nil
}

func parse(env message.Envelope, plain []byte) (*message.Decoded, error) {
	malformed := func(reason string, err error) error {
		return &DecodeError{Kind: Malformed, Seq: env.Seq, MsgID: env.MsgID, Reason: reason, Err: err}
	}

	var p message.Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, malformed("invalid json", err)
	}
	if p.MsgID == "" {
		return nil, malformed("missing msgid", nil)
	}
	if p.MsgID != env.MsgID {
		return nil, malformed(fmt.Sprintf("msgid mismatch: payload %s", p.MsgID), nil)
	}
	if p.MsgTime <= 0 {
		return nil, malformed("missing msgtime", nil)
	}
	mt, ok := models.ParseMessageType(p.MsgType)
	if !ok {
		return nil, malformed(fmt.Sprintf("unknown msgtype %q", p.MsgType), nil)
	}

	d := &message.Decoded{
		Seq:     env.Seq,
		MsgID:   p.MsgID,
		Type:    mt,
		Action:  p.Action,
		From:    p.From,
		To:      p.ToList,
		RoomID:  p.RoomID,
		Time:    time.UnixMilli(p.MsgTime),
		ReplyTo: p.QuoteMsgID,
		Raw:     json.RawMessage(plain),
	}

	switch mt {
	case models.MessageTypeText:
		if p.Text == nil {
			return nil, malformed("missing text body", nil)
		}
		d.Content = p.Text.Content
	case models.MessageTypeImage, models.MessageTypeVoice, models.MessageTypeVideo,
		models.MessageTypeFile, models.MessageTypeEmotion:
		body := mediaBody(&p, mt)
		if body == nil || body.SDKFileID == "" {
			return nil, malformed(fmt.Sprintf("missing %s body", mt), nil)
		}
		d.Media = &message.MediaRef{
			SDKFileID: body.SDKFileID,
			MD5:       strings.ToLower(body.MD5Sum),
			Size:      body.Size(),
			FileName:  body.FileName,
			Ext:       mediaExt(mt, body),
		}
		d.Content = body.FileName
	case models.MessageTypeLocation:
		if p.Location == nil {
			return nil, malformed("missing location body", nil)
		}
		d.Content = strings.TrimSpace(p.Location.Title + " " + p.Location.Address)
	case models.MessageTypeLink:
		if p.Link == nil {
			return nil, malformed("missing link body", nil)
		}
		d.Content = strings.TrimSpace(p.Link.Title + " " + p.Link.LinkURL)
	case models.MessageTypeMiniProgram:
		if p.Weapp == nil {
			return nil, malformed("missing weapp body", nil)
		}
		d.Content = p.Weapp.Title
	case models.MessageTypeCard:
		if p.Card == nil {
			return nil, malformed("missing card body", nil)
		}
		d.Content = p.Card.UserID
	case models.MessageTypeRevoke:
		if p.Revoke == nil || p.Revoke.PreMsgID == "" {
			return nil, malformed("missing revoke target", nil)
		}
		d.RevokeOf = p.Revoke.PreMsgID
	case models.MessageTypeSystem:
		ev, err := systemEvent(p.System)
		if err != nil {
			return nil, malformed("system body", err)
		}
		d.System = ev
		d.Content = ev.Event
	}
	return d, nil
}

func mediaBody(p *message.Payload, mt models.MessageType) *message.MediaBody {
	switch mt {
	case models.MessageTypeImage:
		return p.Image
	case models.MessageTypeVoice:
		return p.Voice
	case models.MessageTypeVideo:
		return p.Video
	case models.MessageTypeFile:
		return p.File
	case models.MessageTypeEmotion:
		return p.Emotion
	}
	return nil
}

// mediaExt 会话存档只有文件消息带扩展名，其它类型按固定格式推断
func mediaExt(mt models.MessageType, b *message.MediaBody) string {
	switch mt {
	case models.MessageTypeImage:
		return "jpg"
	case models.MessageTypeVoice:
		return "amr"
	case models.MessageTypeVideo:
		return "mp4"
	case models.MessageTypeEmotion:
		if b.Type == 2 {
			return "png"
		}
		return "gif"
	}
	return strings.ToLower(strings.TrimPrefix(b.FileExt, "."))
}

func systemEvent(b *message.SystemBody) (*message.SystemEvent, error) {
	if b == nil {
		return nil, errors.New("missing")
	}
	ev := &message.SystemEvent{
		Event:    b.Event,
		UserIDs:  b.UserIDs,
		Operator: b.Operator,
		Name:     b.Name,
		Notice:   b.Notice,
	}
	switch b.Event {
	case message.SystemJoin, message.SystemQuit:
		if len(b.UserIDs) == 0 {
			return nil, fmt.Errorf("%s without userids", b.Event)
		}
	case message.SystemSetRole:
		role := models.MemberRole(b.Role)
		if len(b.UserIDs) == 0 || !role.Valid() {
			return nil, fmt.Errorf("set_role needs userids and a valid role")
		}
		ev.Role = role
	case message.SystemRename:
		if b.Name == "" {
			return nil, errors.New("rename without name")
		}
	case message.SystemDismiss, message.SystemNotice:
	default:
		return nil, fmt.Errorf("unknown event %q", b.Event)
	}
	return ev, nil
}
