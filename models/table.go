package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	prefix = "wa_"
)

// TablePrefix 返回存档表统一前缀
func TablePrefix() string { return prefix }

// Group 群聊表（由消息流驱动创建，只停用不删除）
type Group struct {
	RoomID       string         `gorm:"primaryKey;size:100" json:"room_id"`
	RoomName     string         `gorm:"size:255" json:"room_name"`
	Creator      string         `gorm:"size:100" json:"creator"`
	Notice       string         `gorm:"type:text" json:"notice"`
	OwnerCorpID  string         `gorm:"size:100;index;not null" json:"owner_corp_id"`
	CreateTime   *time.Time     `json:"create_time"`
	MemberCount  int            `gorm:"default:0" json:"member_count"`
	LastSyncTime *time.Time     `json:"last_sync_time"`
	Metadata     datatypes.JSON `json:"metadata"`
	IsActive     bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Group) TableName() string {
	return prefix + "chat_group"
}

// Message 聊天消息表
// (corp_id, seq) 为游标键；msg_id 为去重键，重复投递不报错
type Message struct {
	ID           uint64         `gorm:"primarykey" json:"id"`
	CorpID       string         `gorm:"size:100;not null;uniqueIndex:idx_msg_corp_seq" json:"corp_id"`
	Seq          int64          `gorm:"not null;uniqueIndex:idx_msg_corp_seq" json:"seq"`
	MsgID        string         `gorm:"size:128;not null;uniqueIndex" json:"msg_id"`
	RoomID       string         `gorm:"size:100;not null;index:idx_msg_room_time" json:"room_id"`
	MsgType      MessageType    `gorm:"size:20;not null;index" json:"msg_type"`
	Action       string         `gorm:"size:20" json:"action"`
	MsgTime      time.Time      `gorm:"not null;index:idx_msg_room_time" json:"msg_time"`
	FromUser     string         `gorm:"size:100;index" json:"from_user"`
	ToUsers      datatypes.JSON `json:"to_users"`
	Content      string         `gorm:"type:text" json:"content"`
	MediaData    datatypes.JSON `json:"media_data,omitempty"`
	RawData      datatypes.JSON `json:"raw_data,omitempty"`
	IsRevoked    bool           `gorm:"default:false" json:"is_revoked"`
	RevokeTime   *time.Time     `json:"revoke_time"`
	ReplyToMsgID string         `gorm:"size:128" json:"reply_to_msg_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Message) TableName() string {
	return prefix + "chat_message"
}

// Member 群成员表
// 身份为 (room_id, user_id, join_time)，退群后再入群会产生新记录
type Member struct {
	ID           uint64         `gorm:"primarykey" json:"id"`
	RoomID       string         `gorm:"size:100;not null;uniqueIndex:idx_member_identity" json:"room_id"`
	UserID       string         `gorm:"size:100;not null;uniqueIndex:idx_member_identity" json:"user_id"`
	JoinTime     time.Time      `gorm:"not null;uniqueIndex:idx_member_identity" json:"join_time"`
	UserName     string         `gorm:"size:255" json:"user_name"`
	Role         MemberRole     `gorm:"size:20;default:member" json:"role"`
	Inviter      string         `gorm:"size:100" json:"inviter"`
	IsActive     bool           `gorm:"default:true;index" json:"is_active"`
	QuitTime     *time.Time     `json:"quit_time"`
	LastSeen     *time.Time     `json:"last_seen"`
	MessageCount int64          `gorm:"default:0" json:"message_count"`
	Metadata     datatypes.JSON `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Member) TableName() string {
	return prefix + "chat_member"
}

// MediaFile 媒体文件表，归属于唯一一条消息
type MediaFile struct {
	ID               uint64         `gorm:"primarykey" json:"id"`
	MsgID            string         `gorm:"size:128;not null;index" json:"msg_id"`
	CorpID           string         `gorm:"size:100;not null;index" json:"corp_id"`
	FileType         MessageType    `gorm:"size:20;not null" json:"file_type"`
	FileName         string         `gorm:"size:255" json:"file_name"`
	FileExt          string         `gorm:"size:20" json:"file_ext"`
	SDKFileID        string         `gorm:"type:text" json:"-"`
	FileSize         int64          `gorm:"default:0" json:"file_size"`
	MD5              string         `gorm:"size:32;index" json:"md5"`
	MimeType         string         `gorm:"size:100" json:"mime_type"`
	LocalPath        string         `gorm:"size:500" json:"local_path"`
	FileURL          string         `gorm:"size:500" json:"file_url"`
	DownloadStatus   DownloadStatus `gorm:"size:20;not null;default:pending;index" json:"download_status"`
	DownloadAttempts int            `gorm:"default:0" json:"download_attempts"`
	ErrorMessage     string         `gorm:"type:text" json:"error_message"`
	DownloadedAt     *time.Time     `json:"downloaded_at"`
	Metadata         datatypes.JSON `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (MediaFile) TableName() string {
	return prefix + "media_file"
}

// SyncCursor 每个租户（及同步范围）的增量游标
type SyncCursor struct {
	CorpID    string `gorm:"primaryKey;size:100"`
	Scope     string `gorm:"primaryKey;size:150"`
	Seq       int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (SyncCursor) TableName() string {
	return prefix + "sync_cursor"
}

// AllTables 返回需要迁移的全部表
func AllTables() []any {
	return []any{
		&Group{},
		&Message{},
		&Member{},
		&MediaFile{},
		&SyncTask{},
		&SyncCursor{},
	}
}
