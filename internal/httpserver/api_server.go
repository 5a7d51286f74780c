package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"lanrelay/internal/event"
	"lanrelay/internal/logger"
	"lanrelay/internal/relay"
	"lanrelay/internal/stats"
)

// APIServer 观测API服务器。只读地暴露统计快照和在线状态，
// 并通过WebSocket向展示层推送核心事件（只推不等）。
type APIServer struct {
	router   *mux.Router
	server   *http.Server
	log      logger.Logger
	relay    *relay.Server
	pipeline *stats.Pipeline
	bus      *event.Bus
	upgrader websocket.Upgrader
}

// NewAPIServer 创建观测API服务器
func NewAPIServer(addr string, log logger.Logger, rs *relay.Server, pipeline *stats.Pipeline, bus *event.Bus) *APIServer {
	s := &APIServer{
		router:   mux.NewRouter(),
		log:      log,
		relay:    rs,
		pipeline: pipeline,
		bus:      bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // LAN部署，允许所有源
			},
		},
	}

	s.setupRoutes()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *APIServer) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats/global", s.handleGlobalStats).Methods("GET")
	api.HandleFunc("/stats/users", s.handleTrackedUsers).Methods("GET")
	api.HandleFunc("/stats/users/{username}", s.handleUserStats).Methods("GET")
	api.HandleFunc("/online", s.handleOnline).Methods("GET")
	api.HandleFunc("/sessions", s.handleSessions).Methods("GET")

	s.router.HandleFunc("/ws/events", s.handleEventFeed)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// Start 启动HTTP服务
func (s *APIServer) Start() {
	s.log.Printf("Observability API listening on %s", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Printf("API server error: %v", err)
		}
	}()
}

// Shutdown 关闭HTTP服务
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugf("write response failed: %v", err)
	}
}

// handleGlobalStats 全局计数器快照
func (s *APIServer) handleGlobalStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.GlobalSnapshot())
}

// handleTrackedUsers 已有统计数据的用户列表
func (s *APIServer) handleTrackedUsers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"usernames": s.pipeline.TrackedUsernames(),
	})
}

// handleUserStats 单个用户的计数器快照
func (s *APIServer) handleUserStats(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	snap, ok := s.pipeline.UserSnapshot(username)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("no stats for user %q", username),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleOnline 当前在线用户
func (s *APIServer) handleOnline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"online": s.relay.Registry().OnlineUsernames(),
	})
}

// sessionInfo 会话概要，观测用
type sessionInfo struct {
	ID             string    `json:"id"`
	Username       string    `json:"username,omitempty"`
	State          string    `json:"state"`
	RemoteAddr     string    `json:"remote_addr"`
	OnlineSince    time.Time `json:"online_since"`
	FramesReceived uint64    `json:"frames_received"`
	FramesSent     uint64    `json:"frames_sent"`
	BytesReceived  uint64    `json:"bytes_received"`
	BytesSent      uint64    `json:"bytes_sent"`
}

// handleSessions 活跃会话及传输统计
func (s *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.relay.Registry().Snapshot()
	out := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionInfo{
			ID:             sess.ID.String(),
			Username:       sess.Username(),
			State:          sess.State().String(),
			RemoteAddr:     sess.RemoteAddr(),
			OnlineSince:    sess.OnlineSince,
			FramesReceived: sess.Stats.FramesReceived.Load(),
			FramesSent:     sess.Stats.FramesSent.Load(),
			BytesReceived:  sess.Stats.BytesReceived.Load(),
			BytesSent:      sess.Stats.BytesSent.Load(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleHealth 健康检查，附带服务器运行统计
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.relay.GetStats())
}

// handleEventFeed 升级为WebSocket并转发事件总线。
// 消费慢的订阅者会丢事件，断开时自动退订。
func (s *APIServer) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("Event feed upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, events := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(id)

	// 读取循环只为感知对端关闭
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readClosed:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
