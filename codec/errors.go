package codec

import "fmt"

// DecodeKind 解码失败类别
type DecodeKind int

const (
	// Integrity 签名校验或解密失败
	Integrity DecodeKind = iota + 1
	// Malformed 解密成功但明文结构不合法
	Malformed
)

func (k DecodeKind) String() string {
	switch k {
	case Integrity:
		return "integrity"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// DecodeError 单条信封解码失败，对批次无致命影响
type DecodeError struct {
	Kind   DecodeKind
	Seq    int64
	MsgID  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s (seq=%d msgid=%s): %s: %v", e.Kind, e.Seq, e.MsgID, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s (seq=%d msgid=%s): %s", e.Kind, e.Seq, e.MsgID, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }
