package archive

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luoxikang/wechat-work-archive/cons"
	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
	"github.com/luoxikang/wechat-work-archive/response"
	"github.com/luoxikang/wechat-work-archive/service"
)

// StartSyncReq 手动触发同步
type StartSyncReq struct {
	CorpID    string `json:"corp_id" example:"ww0000000000000000"` // 只有一个租户时可省略
	RoomID    string `json:"room_id" example:"wrOgQhDgAAMYQiS5ol9G7gK9JVAAAA"`
	StartTime string `json:"start_time" example:"2024-01-01T00:00:00+08:00"` // RFC3339 或 2006-01-02
	EndTime   string `json:"end_time" example:"2024-01-31T23:59:59+08:00"`
}

type StartSyncResp struct {
	TaskID string `json:"task_id" example:"0b7a9d2e-6c1f-4a55-9f0e-2d3c4b5a6978"`
	Status string `json:"status" example:"pending"`
}

type CancelTaskResp struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"` // false 表示任务不在本实例运行或已结束
}

// parseTime 支持 RFC3339 与日期；日期作为结束时间时取当天最后一刻
func parseTime(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func pageQuery(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

func pageResp(items any, total int64, page, size int) response.Page {
	return response.Page{Items: items, Total: total, Page: page, Size: size}
}

// fail 把服务层错误映射成 HTTP 状态与业务码
func (e *ArchiveEngine) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrMediaNotFound):
		response.Fail(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrSyncInProgress):
		response.Fail(c, http.StatusConflict, response.CodeSyncInProgress, err.Error())
	case errors.Is(err, service.ErrMediaNotRetryable):
		response.Fail(c, http.StatusConflict, response.CodeConflict, err.Error())
	case errors.Is(err, service.ErrInvalidRange), errors.Is(err, service.ErrUnknownTenant):
		response.Fail(c, http.StatusBadRequest, response.CodeParamError, err.Error())
	default:
		_ = c.Error(err)
		e.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "internal error")
	}
}

// HandleHealth 健康检查
// @Summary 健康检查
// @Description 检查数据库连通性
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response "healthy"
// @Failure 503 {object} response.Response "数据库不可用"
// @Router /health [get]
func (e *ArchiveEngine) HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := e.Store.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			response.Fail(c, http.StatusServiceUnavailable, response.CodeInternalError, "database unavailable")
			return
		}
		response.OK(c, gin.H{
			"status":  "healthy",
			"service": e.config.App.Name,
			"time":    time.Now().Format(time.RFC3339),
		})
	}
}

// HandleListGroups 群列表
// @Summary 群列表
// @Description 分页获取已归档的群
// @Tags 群
// @Produce json
// @Param corp_id query string false "企业ID"
// @Param keyword query string false "群名关键字"
// @Param is_active query bool false "只看在用/已解散"
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=response.Page{items=[]models.Group}} "群列表"
// @Failure 500 {object} response.Response "服务器错误"
// @Router /groups [get]
func (e *ArchiveEngine) HandleListGroups() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pageQuery(c)
		f := repository.GroupFilter{
			CorpID:  c.Query("corp_id"),
			Keyword: strings.TrimSpace(c.Query("keyword")),
			Page:    page,
			Size:    size,
		}
		if v := c.Query("is_active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				response.Fail(c, http.StatusBadRequest, response.CodeParamError, "is_active must be a bool")
				return
			}
			f.IsActive = &active
		}
		groups, total, err := e.Query.ListGroups(c.Request.Context(), f)
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, pageResp(groups, total, page, size))
	}
}

// HandleGetGroup 群详情
// @Summary 群详情
// @Description 群信息与消息统计
// @Tags 群
// @Produce json
// @Param room_id path string true "群ID"
// @Success 200 {object} response.Response{data=service.GroupDetail} "群详情"
// @Failure 404 {object} response.Response "群不存在"
// @Router /groups/{room_id} [get]
func (e *ArchiveEngine) HandleGetGroup() gin.HandlerFunc {
	return func(c *gin.Context) {
		g, err := e.Query.GetGroup(c.Request.Context(), c.Param("room_id"))
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, g)
	}
}

// HandleListMessages 群消息
// @Summary 群消息
// @Description 按时间倒序分页获取群消息
// @Tags 消息
// @Produce json
// @Param room_id path string true "群ID"
// @Param msg_type query string false "消息类型"
// @Param from_user query string false "发送者"
// @Param start_time query string false "开始时间"
// @Param end_time query string false "结束时间"
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=response.Page{items=[]models.Message}} "消息列表"
// @Failure 400 {object} response.Response "参数错误"
// @Router /groups/{room_id}/messages [get]
func (e *ArchiveEngine) HandleListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pageQuery(c)
		f := repository.MessageFilter{
			RoomID:   c.Param("room_id"),
			FromUser: c.Query("from_user"),
			Page:     page,
			Size:     size,
		}
		if v := c.Query("msg_type"); v != "" {
			t, ok := models.ParseMessageType(v)
			if !ok {
				response.Fail(c, http.StatusBadRequest, response.CodeParamError, "unknown msg_type")
				return
			}
			f.MsgType = t
		}
		var err error
		if f.Start, err = parseTime(c.Query("start_time"), false); err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeParamError, "invalid start_time")
			return
		}
		if f.End, err = parseTime(c.Query("end_time"), true); err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeParamError, "invalid end_time")
			return
		}
		msgs, total, err := e.Query.ListMessages(c.Request.Context(), f)
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, pageResp(msgs, total, page, size))
	}
}

// HandleListMembers 群成员
// @Summary 群成员
// @Description 默认只返回在群成员
// @Tags 群
// @Produce json
// @Param room_id path string true "群ID"
// @Param active_only query bool false "只看在群成员" default(true)
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=response.Page{items=[]models.Member}} "成员列表"
// @Router /groups/{room_id}/members [get]
func (e *ArchiveEngine) HandleListMembers() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pageQuery(c)
		activeOnly := true
		if v := c.Query("active_only"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				response.Fail(c, http.StatusBadRequest, response.CodeParamError, "active_only must be a bool")
				return
			}
			activeOnly = b
		}
		members, total, err := e.Query.ListMembers(c.Request.Context(), c.Param("room_id"), activeOnly, page, size)
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, pageResp(members, total, page, size))
	}
}

// HandleGetMessage 消息详情
// @Summary 消息详情
// @Description 消息及其媒体文件
// @Tags 消息
// @Produce json
// @Param msg_id path string true "消息ID"
// @Success 200 {object} response.Response{data=service.MessageDetail} "消息详情"
// @Failure 404 {object} response.Response "消息不存在"
// @Router /messages/{msg_id} [get]
func (e *ArchiveEngine) HandleGetMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := e.Query.GetMessage(c.Request.Context(), c.Param("msg_id"))
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, m)
	}
}

// HandleRetryMedia 重试下载失败的媒体
// @Summary 重试媒体下载
// @Description 只有 failed 状态的媒体可以重试，重试会清零尝试次数
// @Tags 媒体
// @Produce json
// @Param id path int true "媒体ID"
// @Success 200 {object} response.Response "已重新入队"
// @Failure 404 {object} response.Response "媒体不存在"
// @Failure 409 {object} response.Response "状态不允许重试"
// @Router /media/{id}/retry [post]
func (e *ArchiveEngine) HandleRetryMedia() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			response.Fail(c, http.StatusBadRequest, response.CodeParamError, "invalid media id")
			return
		}
		if e.Media == nil {
			response.Fail(c, http.StatusConflict, response.CodeConflict, "media download is disabled")
			return
		}
		if err := e.Media.Retry(c.Request.Context(), id); err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, gin.H{"id": id, "download_status": models.DownloadPending})
	}
}

// HandleStartSync 触发同步
// @Summary 触发同步
// @Description 不带时间范围时从游标增量同步；带时间范围时回填且不移动游标。同范围已有任务运行时返回 409
// @Tags 同步
// @Accept json
// @Produce json
// @Param req body StartSyncReq true "同步范围"
// @Success 200 {object} response.Response{data=StartSyncResp} "任务已创建"
// @Failure 400 {object} response.Response "参数错误"
// @Failure 409 {object} response.Response "已有同步任务在运行"
// @Router /sync [post]
func (e *ArchiveEngine) HandleStartSync() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartSyncReq
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.Fail(c, http.StatusBadRequest, response.CodeParamError, err.Error())
				return
			}
		}
		start, err := parseTime(req.StartTime, false)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeParamError, "invalid start_time")
			return
		}
		end, err := parseTime(req.EndTime, true)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.CodeParamError, "invalid end_time")
			return
		}
		taskID, err := e.Sync.StartSync(c.Request.Context(), service.SyncRequest{
			Scope:   service.Scope{CorpID: req.CorpID, RoomID: strings.TrimSpace(req.RoomID)},
			Range:   service.TimeRange{Start: start, End: end},
			Trigger: models.TriggerManual,
		})
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, StartSyncResp{TaskID: taskID, Status: string(models.TaskPending)})
	}
}

// HandleListTasks 同步任务列表
// @Summary 同步任务列表
// @Tags 同步
// @Produce json
// @Param corp_id query string false "企业ID"
// @Param room_id query string false "群ID"
// @Param status query string false "任务状态"
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=response.Page{items=[]service.SyncTaskView}} "任务列表"
// @Router /sync/tasks [get]
func (e *ArchiveEngine) HandleListTasks() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pageQuery(c)
		f := repository.TaskFilter{
			CorpID: c.Query("corp_id"),
			RoomID: c.Query("room_id"),
			Page:   page,
			Size:   size,
		}
		if v := c.Query("status"); v != "" {
			st := models.TaskStatus(v)
			if !st.Valid() {
				response.Fail(c, http.StatusBadRequest, response.CodeParamError, "unknown status")
				return
			}
			f.Status = st
		}
		tasks, total, err := e.Sync.ListTasks(c.Request.Context(), f)
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, pageResp(tasks, total, page, size))
	}
}

// HandleGetTask 同步任务详情
// @Summary 同步任务详情
// @Tags 同步
// @Produce json
// @Param task_id path string true "任务ID"
// @Success 200 {object} response.Response{data=service.SyncTaskView} "任务详情"
// @Failure 404 {object} response.Response "任务不存在"
// @Router /sync/tasks/{task_id} [get]
func (e *ArchiveEngine) HandleGetTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := e.Sync.GetTask(c.Request.Context(), c.Param("task_id"))
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, t)
	}
}

// HandleCancelTask 取消同步任务
// @Summary 取消同步任务
// @Description 在下一个批次边界生效，已提交的批次保留
// @Tags 同步
// @Produce json
// @Param task_id path string true "任务ID"
// @Success 200 {object} response.Response{data=CancelTaskResp} "取消结果"
// @Failure 404 {object} response.Response "任务不存在"
// @Router /sync/tasks/{task_id} [delete]
func (e *ArchiveEngine) HandleCancelTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")
		ok, err := e.Sync.CancelTask(c.Request.Context(), taskID)
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, CancelTaskResp{TaskID: taskID, Cancelled: ok})
	}
}

// HandleWatchTask 订阅任务进度
// @Summary 订阅任务进度（WebSocket）
// @Description task_id 为 * 时订阅全部任务；单任务订阅在终态帧之后关闭
// @Tags 同步
// @Param task_id path string true "任务ID"
// @Success 101 {object} message.TaskFrame "进度帧"
// @Failure 404 {object} response.Response "任务不存在"
// @Router /sync/tasks/{task_id}/watch [get]
func (e *ArchiveEngine) HandleWatchTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")
		var initial *models.SyncTask
		if taskID != cons.WatchAll {
			t, err := e.Sync.GetTask(c.Request.Context(), taskID)
			if err != nil {
				e.fail(c, err)
				return
			}
			initial = &t.SyncTask
		}
		e.Hub.ServeWS(c.Writer, c.Request, taskID, initial)
	}
}

// HandleGroupStats 群统计
// @Summary 群统计
// @Tags 统计
// @Produce json
// @Param corp_id query string false "企业ID"
// @Success 200 {object} response.Response{data=repository.GroupStats} "群统计"
// @Router /stats/groups [get]
func (e *ArchiveEngine) HandleGroupStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := e.Query.GroupStats(c.Request.Context(), c.Query("corp_id"))
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, s)
	}
}

// HandleMessageStats 消息统计
// @Summary 消息统计
// @Description 不传 room_id 时统计全部群
// @Tags 统计
// @Produce json
// @Param room_id query string false "群ID"
// @Success 200 {object} response.Response{data=repository.MessageStats} "消息统计"
// @Router /stats/messages [get]
func (e *ArchiveEngine) HandleMessageStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := e.Query.MessageStats(c.Request.Context(), c.Query("room_id"))
		if err != nil {
			e.fail(c, err)
			return
		}
		response.OK(c, s)
	}
}
