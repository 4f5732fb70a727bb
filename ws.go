package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luoxikang/wechat-work-archive/cons"
	"github.com/luoxikang/wechat-work-archive/message"
	"github.com/luoxikang/wechat-work-archive/models"
)

const (
	// Time 写入超时时间
	writeWait = 10 * time.Second

	// Time pong超时时间
	pongWait = 60 * time.Second

	// Send 对应的ping 必须小于pong
	pingPeriod = (pongWait * 9) / 10

	// Maximum 对等端允许消息大小，订阅端只发控制帧
	maxMessageSize = 512

	broadcastBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type frameEvent struct {
	taskID   string
	terminal bool
	payload  []byte
}

// Watcher 一个订阅任务进度的 websocket 连接
type Watcher struct {
	hub  *TaskHub
	conn *websocket.Conn
	send chan []byte

	// TaskID 为 cons.WatchAll 时接收全部任务
	TaskID string
}

// readPump 只处理 pong 与关闭，订阅端发来的数据帧直接丢弃
func (w *Watcher) readPump() {
	defer func() {
		select {
		case w.hub.unregister <- w:
		case <-w.hub.done:
		}
		_ = w.conn.Close()
	}()
	w.conn.SetReadLimit(maxMessageSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error { _ = w.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.hub.log.Debug("watcher read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump send 被关闭时发送关闭帧并退出
func (w *Watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = w.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = w.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"))
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TaskHub 把同步任务的进度推给 websocket 订阅者。
// 实现 service.TaskObserver：回调只做序列化和非阻塞投递，落后的订阅者会被断开。
type TaskHub struct {
	log *zap.Logger

	watchers   map[*Watcher]bool
	broadcast  chan frameEvent
	register   chan *Watcher
	unregister chan *Watcher
	done       chan struct{}
}

func NewTaskHub(log *zap.Logger) *TaskHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskHub{
		log:        log,
		watchers:   make(map[*Watcher]bool),
		broadcast:  make(chan frameEvent, broadcastBuffer),
		register:   make(chan *Watcher),
		unregister: make(chan *Watcher),
		done:       make(chan struct{}),
	}
}

// taskFrame 任务快照转推送帧
func taskFrame(t models.SyncTask) message.TaskFrame {
	typ := message.WsTypeTaskProgress
	if t.Status.Terminal() {
		typ = message.WsTypeTaskFinished
	}
	return message.TaskFrame{
		Type:         typ,
		TaskID:       t.TaskID,
		Status:       string(t.Status),
		Progress:     t.Progress,
		TotalCount:   t.TotalCount,
		SuccessCount: t.SuccessCount,
		ErrorCount:   t.ErrorCount,
		Percentage:   t.ProgressPercentage(),
		ErrorMessage: t.ErrorMessage,
	}
}

func (h *TaskHub) OnTaskUpdate(t models.SyncTask) {
	payload, err := json.Marshal(taskFrame(t))
	if err != nil {
		h.log.Warn("marshal task frame failed", zap.String("task_id", t.TaskID), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- frameEvent{taskID: t.TaskID, terminal: t.Status.Terminal(), payload: payload}:
	default:
		h.log.Debug("task frame dropped, hub busy", zap.String("task_id", t.TaskID))
	}
}

// Run 阻塞直到 ctx 取消，退出时关闭全部订阅
func (h *TaskHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for w := range h.watchers {
				delete(h.watchers, w)
				close(w.send)
			}
			return

		case w := <-h.register:
			h.watchers[w] = true

		case w := <-h.unregister:
			if _, ok := h.watchers[w]; ok {
				delete(h.watchers, w)
				close(w.send)
			}

		case ev := <-h.broadcast:
			for w := range h.watchers {
				if w.TaskID != cons.WatchAll && w.TaskID != ev.taskID {
					continue
				}
				select {
				case w.send <- ev.payload:
				default:
					// 缓冲区满，断开落后的订阅者
					delete(h.watchers, w)
					close(w.send)
					continue
				}
				// 单任务订阅在终态帧之后关闭
				if ev.terminal && w.TaskID == ev.taskID {
					delete(h.watchers, w)
					close(w.send)
				}
			}
		}
	}
}

// ServeWS 升级连接并订阅 taskID 的进度；initial 不为空时先推送一帧当前快照
func (h *TaskHub) ServeWS(w http.ResponseWriter, r *http.Request, taskID string, initial *models.SyncTask) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	watcher := &Watcher{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		TaskID: taskID,
	}
	if initial != nil {
		if payload, err := json.Marshal(taskFrame(*initial)); err == nil {
			watcher.send <- payload
		}
		if initial.Status.Terminal() {
			// 已结束的任务只推一帧快照
			close(watcher.send)
			go watcher.writePump()
			return
		}
	}
	select {
	case h.register <- watcher:
	case <-h.done:
		_ = conn.Close()
		return
	}
	h.log.Debug("watcher registered", zap.String("task_id", taskID))

	go watcher.writePump()
	go watcher.readPump()
}
