package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/internal/store"
)

// Config HTTP 服务配置
type Config struct {
	Addr         string
	PushInterval time.Duration // 每个推送连接的最小间隔
	RateLimit    float64       // 每 IP 每秒请求数，0 关闭
	Burst        int
	Metrics      http.Handler // 非空时挂载到 /metrics
}

// StatusSource 报告引擎是否在运行（engine.Scheduler 实现）
type StatusSource interface {
	Health() error
}

// Server exposes the state store over plain JSON, SSE and websocket.
type Server struct {
	cfg    Config
	store  *store.Store
	status StatusSource
	logger *logger.Logger

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex

	// 流连接的根 context，Stop 时取消
	streamCtx    context.Context
	cancelStream context.CancelFunc
	streams      sync.WaitGroup
	closing      atomic.Bool
}

// New 注册全部路由
func New(cfg Config, st *store.Store, status StatusSource, lg *logger.Logger) *Server {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = store.DefaultPushInterval
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          cfg,
		store:        st,
		status:       status,
		logger:       lg.Named("http"),
		streamCtx:    ctx,
		cancelStream: cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/isAlive", s.handleAlive)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/app/state", s.handleState)
	mux.HandleFunc("GET /api/balance", s.handleBalance)
	mux.HandleFunc("GET /api/orders/open", s.handleOpenOrders)
	mux.HandleFunc("GET /api/orders/filled", s.handleFilledOrders)
	mux.HandleFunc("GET /api/market", s.handleMarket)
	mux.HandleFunc("GET /api/app/state/listen", s.handleSSE)
	mux.HandleFunc("GET /api/app/state/ws", s.handleWS)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	var h http.Handler = mux
	h = rateLimit(cfg.RateLimit, cfg.Burst)(h)
	h = requestLogging(s.logger)(h)
	h = requestID(h)
	s.handler = h
	return s
}

// Handler 返回带中间件的根 handler（测试用 httptest）
func (s *Server) Handler() http.Handler { return s.handler }

// Start 监听并在后台服务
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.httpServer = srv
	s.listener = ln

	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.LogError(err, map[string]interface{}{"component": "http", "action": "serve"})
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop 拒绝新的推送连接，断开现有流，再优雅关闭。
func (s *Server) Stop() error {
	s.closing.Store(true)
	s.cancelStream()

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timeout waiting for stream connections to close")
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Health 服务未关闭即健康
func (s *Server) Health() error {
	if s.closing.Load() {
		return errors.New("http server closing")
	}
	return nil
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("I'm alive! :)"))
}

type healthResponse struct {
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Listeners int            `json:"listeners"`
	UpdatedAt time.Time      `json:"updatedAt"`
	State     store.AppState `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Listeners: s.store.ListenersCount(),
		State:     s.store.Get(),
	}
	resp.UpdatedAt = resp.State.UpdatedAt
	code := http.StatusOK
	if s.status != nil {
		if err := s.status.Health(); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Get().AccountBalance)
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Get().ActiveTrades)
}

func (s *Server) handleFilledOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Get().FilledOrders)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	st := s.store.Get().Market
	name := r.URL.Query().Get("market")
	if name == "" {
		writeJSON(w, http.StatusOK, st)
		return
	}
	t, ok := st.Tickers[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no ticker for market %s", name))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// writeJSON marshals v and writes it with status; falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
