package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"moneymaker-go/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// SSE 注释心跳，防止代理断开空闲连接
	sseHeartbeat = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamContext 绑定请求和服务器生命周期；任一结束即取消。
func (s *Server) streamContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.streamCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// handleSSE 以 text/event-stream 推送状态快照，首条为当前快照。
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()

	ctx, cancel := s.streamContext(r.Context())
	defer cancel()

	id := "sse-" + uuid.NewString()
	updates, unsubscribe := s.store.Subscribe(ctx, id, s.cfg.PushInterval)
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("sse client connected", zap.String("id", id), zap.String("remote", r.RemoteAddr))
	defer s.logger.Debug("sse client disconnected", zap.String("id", id))

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case st, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				s.logger.Warn("marshal state failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", st.Version, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWS 升级为 websocket 并推送状态快照；客户端消息被忽略。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()

	ctx, cancel := s.streamContext(context.Background())
	defer cancel()

	id := "ws-" + uuid.NewString()
	updates, unsubscribe := s.store.Subscribe(ctx, id, s.cfg.PushInterval)
	defer unsubscribe()

	s.logger.Debug("websocket client connected", zap.String("id", id), zap.String("remote", r.RemoteAddr))
	defer s.logger.Debug("websocket client disconnected", zap.String("id", id))

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, updates)
}

// readPump 只处理控制帧；读出错即结束连接。
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 串行写出快照和 ping；退出时发送 close 帧。
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, updates <-chan store.AppState) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(st); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
