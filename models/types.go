package models

// MessageType 消息类型（封闭集合）
type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeVoice       MessageType = "voice"
	MessageTypeVideo       MessageType = "video"
	MessageTypeFile        MessageType = "file"
	MessageTypeLocation    MessageType = "location"
	MessageTypeLink        MessageType = "link"
	MessageTypeMiniProgram MessageType = "miniprogram"
	MessageTypeCard        MessageType = "card"
	MessageTypeSystem      MessageType = "system"
	MessageTypeRevoke      MessageType = "revoke"
	MessageTypeEmotion     MessageType = "emotion"
)

// ParseMessageType 解析会话存档里的 msgtype；weapp 是小程序的别名
func ParseMessageType(s string) (MessageType, bool) {
	if s == "weapp" {
		return MessageTypeMiniProgram, true
	}
	t := MessageType(s)
	return t, t.Valid()
}

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVoice, MessageTypeVideo,
		MessageTypeFile, MessageTypeLocation, MessageTypeLink, MessageTypeMiniProgram,
		MessageTypeCard, MessageTypeSystem, MessageTypeRevoke, MessageTypeEmotion:
		return true
	}
	return false
}

// HasMedia 是否携带需要下载的媒体
func (t MessageType) HasMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVoice, MessageTypeVideo, MessageTypeFile, MessageTypeEmotion:
		return true
	case MessageTypeText, MessageTypeLocation, MessageTypeLink, MessageTypeMiniProgram,
		MessageTypeCard, MessageTypeSystem, MessageTypeRevoke:
		return false
	}
	return false
}

// MemberRole 群成员角色
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

func (r MemberRole) Valid() bool {
	switch r {
	case MemberRoleOwner, MemberRoleAdmin, MemberRoleMember:
		return true
	}
	return false
}

// DownloadStatus 媒体下载状态
// pending -> downloading -> completed | failed；failed -> pending 只能由外部显式重试触发
type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
)

func (s DownloadStatus) Valid() bool {
	switch s {
	case DownloadPending, DownloadDownloading, DownloadCompleted, DownloadFailed:
		return true
	}
	return false
}

// CanTransition 状态机合法迁移
func (s DownloadStatus) CanTransition(to DownloadStatus) bool {
	switch s {
	case DownloadPending:
		return to == DownloadDownloading
	case DownloadDownloading:
		return to == DownloadCompleted || to == DownloadFailed
	case DownloadFailed:
		return to == DownloadPending
	case DownloadCompleted:
		return false
	}
	return false
}

// TaskStatus 同步任务状态
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Terminal 终态之后任务记录不可再变更
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	case TaskPending, TaskRunning:
		return false
	}
	return false
}

// TaskTrigger 任务触发方式
type TaskTrigger string

const (
	TriggerManual    TaskTrigger = "manual"
	TriggerScheduled TaskTrigger = "scheduled"
)
