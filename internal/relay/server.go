package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lanrelay/internal/directory"
	"lanrelay/internal/event"
	"lanrelay/internal/logger"
	"lanrelay/internal/session"
	"lanrelay/internal/stats"
)

// ServerConfig 中继服务器配置
type ServerConfig struct {
	Addr string
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	if addr == "" {
		addr = ":4444"
	}
	return &ServerConfig{Addr: addr}
}

// Server LAN聊天中继服务器。
// 一个接入循环顺序接受连接，每个连接一个处理协程，
// 统计管线作为独立的后台消费者。
type Server struct {
	config   *ServerConfig
	log      logger.Logger
	registry *session.Registry
	pipeline *stats.Pipeline
	dir      directory.Directory
	bus      *event.Bus

	listener net.Listener

	connWg sync.WaitGroup
	stopCh chan struct{}

	isRunning atomic.Bool

	// 统计信息
	totalConnections atomic.Uint64
	startTime        time.Time
}

// NewServer 创建中继服务器
func NewServer(config *ServerConfig, log logger.Logger, dir directory.Directory, pipeline *stats.Pipeline, bus *event.Bus) *Server {
	if config == nil {
		config = DefaultServerConfig("")
	}
	return &Server{
		config:   config,
		log:      log,
		registry: session.NewRegistry(),
		pipeline: pipeline,
		dir:      dir,
		bus:      bus,
		stopCh:   make(chan struct{}),
	}
}

// Registry 返回会话目录（观测API使用）
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Addr 返回实际监听地址，Start之前为空
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start 绑定端口并启动接入循环。绑定失败是启动期致命错误。
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.isRunning.Store(false)
		return fmt.Errorf("listen on %s failed: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.startTime = time.Now()

	s.log.Printf("Relay server listening on %s", ln.Addr())

	s.connWg.Add(1)
	go s.acceptLoop()

	return nil
}

// acceptLoop 顺序接受连接并派生处理协程。
// 单个连接的错误永远不终止接入循环。
func (s *Server) acceptLoop() {
	defer s.connWg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Printf("Accept failed: %v", err)
			continue
		}

		sess := session.New(conn)
		s.registry.Add(sess)
		s.totalConnections.Add(1)

		s.log.Printf("New connection %s from %s", sess.ID, sess.RemoteAddr())

		s.connWg.Add(1)
		go func() {
			defer s.connWg.Done()
			s.handleConnection(sess)
		}()
	}
}

// Shutdown 优雅关闭：停止接入，关闭所有会话，等待处理协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	s.log.Printf("Shutting down relay server...")

	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}

	for _, sess := range s.registry.Snapshot() {
		sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats 服务器统计信息
func (s *Server) GetStats() map[string]any {
	return map[string]any{
		"running":             s.isRunning.Load(),
		"uptime_seconds":      time.Since(s.startTime).Seconds(),
		"current_connections": s.registry.Count(),
		"total_connections":   s.totalConnections.Load(),
		"analyzed_messages":   s.pipeline.MessageCount(),
	}
}
