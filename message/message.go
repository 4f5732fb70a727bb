package message

import (
	"encoding/json"
	"time"

	"github.com/luoxikang/wechat-work-archive/models"
)

// Envelope 会话存档接口返回的一条加密消息
type Envelope struct {
	Seq              int64  `json:"seq"`
	MsgID            string `json:"msgid"`
	PublicKeyVer     int    `json:"publickey_ver"`
	EncryptRandomKey string `json:"encrypt_random_key"`
	EncryptChatMsg   string `json:"encrypt_chat_msg"`
	Signature        string `json:"signature"`
}

// Payload 解密后的明文结构（会话存档 JSON）
type Payload struct {
	MsgID      string   `json:"msgid"`
	Action     string   `json:"action"` // send / recall / switch
	From       string   `json:"from"`
	ToList     []string `json:"tolist"`
	RoomID     string   `json:"roomid"`
	MsgTime    int64    `json:"msgtime"` // 毫秒
	MsgType    string   `json:"msgtype"`
	QuoteMsgID string   `json:"quote_msgid,omitempty"`

	Text     *TextBody     `json:"text,omitempty"`
	Image    *MediaBody    `json:"image,omitempty"`
	Voice    *MediaBody    `json:"voice,omitempty"`
	Video    *MediaBody    `json:"video,omitempty"`
	File     *MediaBody    `json:"file,omitempty"`
	Emotion  *MediaBody    `json:"emotion,omitempty"`
	Location *LocationBody `json:"location,omitempty"`
	Link     *LinkBody     `json:"link,omitempty"`
	Weapp    *WeappBody    `json:"weapp,omitempty"`
	Card     *CardBody     `json:"card,omitempty"`
	Revoke   *RevokeBody   `json:"revoke,omitempty"`
	System   *SystemBody   `json:"system,omitempty"`
}

type TextBody struct {
	Content string `json:"content"`
}

type MediaBody struct {
	SDKFileID  string `json:"sdkfileid"`
	MD5Sum     string `json:"md5sum"`
	FileSize   int64  `json:"filesize,omitempty"`
	VoiceSize  int64  `json:"voice_size,omitempty"`
	ImageSize  int64  `json:"imagesize,omitempty"`
	PlayLength int    `json:"play_length,omitempty"`
	FileName   string `json:"filename,omitempty"`
	FileExt    string `json:"fileext,omitempty"`
	Type       int    `json:"type,omitempty"` // 表情：1-gif 2-png
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// Size 不同类型的大小字段不一致
func (b *MediaBody) Size() int64 {
	switch {
	case b.FileSize > 0:
		return b.FileSize
	case b.VoiceSize > 0:
		return b.VoiceSize
	default:
		return b.ImageSize
	}
}

type LocationBody struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Address   string  `json:"address"`
	Title     string  `json:"title"`
	Zoom      int     `json:"zoom"`
}

type LinkBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	LinkURL     string `json:"link_url"`
	ImageURL    string `json:"image_url"`
}

type WeappBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Username    string `json:"username"`
	DisplayName string `json:"displayname"`
}

type CardBody struct {
	CorpName string `json:"corpname"`
	UserID   string `json:"userid"`
}

type RevokeBody struct {
	PreMsgID string `json:"pre_msgid"`
}

// 系统事件
const (
	SystemJoin    = "join"
	SystemQuit    = "quit"
	SystemSetRole = "set_role"
	SystemRename  = "rename"
	SystemDismiss = "dismiss"
	SystemNotice  = "notice"
)

type SystemBody struct {
	Event    string   `json:"event"`
	UserIDs  []string `json:"userids,omitempty"`
	Operator string   `json:"operator,omitempty"`
	Role     string   `json:"role,omitempty"`
	Name     string   `json:"name,omitempty"`
	Notice   string   `json:"notice,omitempty"`
}

// MediaRef 消息中引用的媒体
type MediaRef struct {
	SDKFileID string
	MD5       string
	Size      int64
	FileName  string
	Ext       string
}

// SystemEvent 由系统消息解析出的群/成员变更
type SystemEvent struct {
	Event    string
	UserIDs  []string
	Operator string
	Role     models.MemberRole
	Name     string
	Notice   string
}

// Decoded 解码后的结构化消息
type Decoded struct {
	Seq      int64
	MsgID    string
	Type     models.MessageType
	Action   string
	From     string
	To       []string
	RoomID   string
	Time     time.Time
	Content  string
	Media    *MediaRef
	System   *SystemEvent
	RevokeOf string
	ReplyTo  string
	Raw      json.RawMessage
}
