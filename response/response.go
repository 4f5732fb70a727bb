package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code int    `json:"code" example:"0"`                    // 业务状态码
	Msg  string `json:"msg" example:"success"`               // 提示消息
	Data any    `json:"data,omitempty" swaggertype:"object"` // 响应数据
}

// Page 分页列表
type Page struct {
	Items any   `json:"items" swaggertype:"array,object"`
	Total int64 `json:"total" example:"42"`
	Page  int   `json:"page" example:"1"`
	Size  int   `json:"size" example:"20"`
}

// 业务状态码定义
// 使用说明：
// - 资源不存在、参数错误等使用对应的 HTTP 状态码，body 中同时带业务码
// - 成功统一 HTTP 200 + CodeSuccess
const (
	CodeSuccess        = 0     // 成功
	CodeParamError     = 10001 // 参数错误
	CodeNotFound       = 10002 // 资源不存在
	CodeSyncInProgress = 10003 // 同范围已有同步任务在运行
	CodeConflict       = 10004 // 状态不允许该操作
	CodeInternalError  = 99999 // 内部错误
)

// Success 成功响应
func Success(data any, args ...string) *Response {
	msg := "success"
	for _, arg := range args {
		msg = arg
	}
	return &Response{
		Code: CodeSuccess,
		Msg:  msg,
		Data: data,
	}
}

// Error 错误响应
func Error(code int, msg string) *Response {
	return &Response{
		Code: code,
		Msg:  msg,
	}
}

// OK 写入 HTTP 200
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Success(data))
}

// Fail 写入错误响应并终止后续 handler
func Fail(c *gin.Context, httpStatus, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, Error(code, msg))
}
