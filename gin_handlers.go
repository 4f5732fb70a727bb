package archive

import (
	"github.com/gin-gonic/gin"

	"github.com/luoxikang/wechat-work-archive/middleware"
)

// RegisterRoutes 在 r 上挂载 /health 与 /api/v1 下的全部接口
func (e *ArchiveEngine) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", e.HandleHealth())

	v1 := r.Group("/api/v1")

	groups := v1.Group("/groups")
	groups.GET("", e.HandleListGroups())
	groups.GET("/:room_id", e.HandleGetGroup())
	groups.GET("/:room_id/messages", e.HandleListMessages())
	groups.GET("/:room_id/members", e.HandleListMembers())

	v1.GET("/messages/:msg_id", e.HandleGetMessage())
	v1.POST("/media/:id/retry", e.HandleRetryMedia())

	sync := v1.Group("/sync")
	sync.POST("", e.HandleStartSync())
	sync.GET("/tasks", e.HandleListTasks())
	sync.GET("/tasks/:task_id", e.HandleGetTask())
	sync.DELETE("/tasks/:task_id", e.HandleCancelTask())
	sync.GET("/tasks/:task_id/watch", e.HandleWatchTask())

	stats := v1.Group("/stats")
	stats.GET("/groups", e.HandleGroupStats())
	stats.GET("/messages", e.HandleMessageStats())
}

// NewRouter 带请求 ID、访问日志、恢复中间件和 Swagger 的 gin 引擎
func (e *ArchiveEngine) NewRouter() *gin.Engine {
	if !e.config.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequestLogger(e.log.Named("http")), middleware.Recovery(e.log))
	e.RegisterRoutes(r)
	RegisterSwagger(r, "")
	return r
}
