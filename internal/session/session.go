package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lanrelay/internal/protocol"
)

// State 会话协议状态
type State int32

const (
	StateConnecting State = iota
	StateGreeted
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateGreeted:
		return "GREETED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TransferStats 会话传输统计信息
type TransferStats struct {
	FramesReceived atomic.Uint64
	FramesSent     atomic.Uint64
	BytesReceived  atomic.Uint64
	BytesSent      atomic.Uint64
	LastActivity   atomic.Int64 // unix nano
}

// Session 表示一个已接受的客户端连接。
// 用户名在LOGIN成功前为空，绑定后在会话生命周期内不可变。
type Session struct {
	ID          uuid.UUID
	OnlineSince time.Time
	Stats       *TransferStats

	conn   net.Conn
	reader *protocol.FrameReader
	state  atomic.Int32

	// 用户名绑定一次，之后只读
	username   string
	usernameMu sync.RWMutex

	// 帧写入串行化，广播与路由转发可能并发写同一连接
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// New 为一个已接受的连接创建会话
func New(conn net.Conn) *Session {
	s := &Session{
		ID:          uuid.New(),
		OnlineSince: time.Now(),
		Stats:       &TransferStats{},
		conn:        conn,
		reader:      protocol.NewFrameReader(conn),
	}
	s.state.Store(int32(StateConnecting))
	s.Stats.LastActivity.Store(time.Now().UnixNano())
	return s
}

// State 返回当前协议状态
func (s *Session) State() State {
	return State(s.state.Load())
}

// SetState 切换协议状态
func (s *Session) SetState(st State) {
	s.state.Store(int32(st))
}

// Username 返回绑定的用户名，未登录时为空串
func (s *Session) Username() string {
	s.usernameMu.RLock()
	defer s.usernameMu.RUnlock()
	return s.username
}

// BindUsername 绑定用户名，只允许绑定一次
func (s *Session) BindUsername(name string) error {
	s.usernameMu.Lock()
	defer s.usernameMu.Unlock()
	if s.username != "" {
		return fmt.Errorf("session %s already bound to %q", s.ID, s.username)
	}
	s.username = name
	return nil
}

// RemoteAddr 返回对端地址
func (s *Session) RemoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// ReadFrame 阻塞读取下一个帧
func (s *Session) ReadFrame() (*protocol.Frame, error) {
	frame, err := s.reader.ReadFrame()
	if err != nil {
		return nil, err
	}
	s.Stats.FramesReceived.Add(1)
	s.Stats.BytesReceived.Add(uint64(len(frame.RawHeader) + len(frame.Payload)))
	s.Stats.LastActivity.Store(time.Now().UnixNano())
	return frame, nil
}

// SendFrame 编码并写入一个帧
func (s *Session) SendFrame(header any, payload []byte) error {
	buf, err := protocol.EncodeFrame(header, payload)
	if err != nil {
		return err
	}
	return s.writeRaw(buf)
}

// SendRaw 原样转发已编码的帧字节
func (s *Session) SendRaw(rawHeader, payload []byte) error {
	return s.writeRaw(protocol.EncodeRaw(rawHeader, payload))
}

func (s *Session) writeRaw(buf []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return net.ErrClosed
	}
	if _, err := s.conn.Write(buf); err != nil {
		return err
	}
	s.Stats.FramesSent.Add(1)
	s.Stats.BytesSent.Add(uint64(len(buf)))
	return nil
}

// Close 关闭底层连接并进入终止状态，可重复调用
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.SetState(StateClosed)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}
