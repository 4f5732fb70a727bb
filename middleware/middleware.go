// Package middleware gin 中间件：请求 ID、zap 访问日志、panic 恢复
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luoxikang/wechat-work-archive/cons"
	"github.com/luoxikang/wechat-work-archive/response"
)

// RequestID 优先使用客户端传入的 X-Request-ID，没有时生成一个
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(cons.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(cons.ContextRequestIDKey, id)
		c.Header(cons.HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID 从 gin context 读取请求 ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(cons.ContextRequestIDKey)
}

// RequestLogger 每个请求一条结构化日志；5xx 记 error，4xx 记 warn
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// Recovery panic 时记录堆栈并返回统一的 500 响应
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		log.Error("panic recovered",
			zap.String("request_id", GetRequestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Any("error", err),
			zap.Stack("stack"),
		)
		response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "internal error")
	})
}
