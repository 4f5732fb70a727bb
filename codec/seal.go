package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/luoxikang/wechat-work-archive/message"
)

// Seal 生成与 Decode 对应的信封，用于回放工具和测试
func Seal(seq int64, msgID string, plain []byte, key TenantKey) (message.Envelope, error) {
	return SealWithRand(rand.Reader, seq, msgID, plain, key)
}

func SealWithRand(r io.Reader, seq int64, msgID string, plain []byte, key TenantKey) (message.Envelope, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(r, salt); err != nil {
		return message.Envelope{}, fmt.Errorf("random key: %w", err)
	}
	encKey, macKey, err := key.derive(salt)
	if err != nil {
		return message.Envelope{}, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return message.Envelope{}, err
	}

	padded := pkcs7Pad(append([]byte(nil), plain...), aes.BlockSize)
	ct := make([]byte, aes.BlockSize+len(padded))
	if _, err := io.ReadFull(r, ct[:aes.BlockSize]); err != nil {
		return message.Envelope{}, fmt.Errorf("iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, ct[:aes.BlockSize]).CryptBlocks(ct[aes.BlockSize:], padded)

	enc := base64.StdEncoding
	return message.Envelope{
		Seq:              seq,
		MsgID:            msgID,
		PublicKeyVer:     1,
		EncryptRandomKey: enc.EncodeToString(salt),
		EncryptChatMsg:   enc.EncodeToString(ct),
		Signature:        enc.EncodeToString(sign(macKey, seq, msgID, ct)),
	}, nil
}
