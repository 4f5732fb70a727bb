package message

// WS 下行帧类型
const (
	WsTypeTaskProgress = "task_progress" // 每批提交后推送
	WsTypeTaskFinished = "task_finished" // 进入终态
)

// TaskFrame 任务进度推送帧
type TaskFrame struct {
	Type         string  `json:"type"`
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	Progress     int64   `json:"progress"`
	TotalCount   int64   `json:"total_count"`
	SuccessCount int64   `json:"success_count"`
	ErrorCount   int64   `json:"error_count"`
	Percentage   float64 `json:"progress_percentage"`
	ErrorMessage string  `json:"error_message,omitempty"`
}
