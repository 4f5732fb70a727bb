package cons

// WatchAll 订阅全部任务的进度
const WatchAll = "*"

// gin context 中使用的 key
const (
	ContextRequestIDKey = "request_id"
)

// 请求头
const (
	HeaderRequestID = "X-Request-ID"
)
