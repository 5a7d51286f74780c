package relayclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"lanrelay/internal/logger"
	"lanrelay/internal/protocol"
)

// ClientState 客户端连接状态
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PushHandler 服务器推送帧处理器（MESSAGE/FILE/STATUS_UPDATE）
type PushHandler func(frame *protocol.Frame)

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// ClientConfig 客户端配置
type ClientConfig struct {
	Addr     string
	Username string

	DialTimeout    time.Duration
	RequestTimeout time.Duration

	EnableReconnect   bool
	ReconnectInterval time.Duration
	MaxReconnectTime  time.Duration

	Logger logger.Logger
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(addr, username string) *ClientConfig {
	return &ClientConfig{
		Addr:              addr,
		Username:          username,
		DialTimeout:       5 * time.Second,
		RequestTimeout:    10 * time.Second,
		EnableReconnect:   true,
		ReconnectInterval: 500 * time.Millisecond,
		MaxReconnectTime:  30 * time.Second,
		Logger:            logger.Nop{},
	}
}

// Client 中继客户端。握手和登录在Connect内完成，
// 断线后按指数退避自动重连并重跑握手。
type Client struct {
	config *ClientConfig
	log    logger.Logger

	mu      sync.Mutex
	conn    net.Conn
	decoder *protocol.FrameDecoder

	state atomic.Int32

	pushHandler  atomic.Value // PushHandler
	stateHandler atomic.Value // StateChangeHandler
	knownUsers   atomic.Value // []string, HELLO_RESPONSE的用户列表
	onlineUsers  atomic.Value // []string, 最近一次在线列表
	reconnectWg  sync.WaitGroup
	reconnects   atomic.Uint64

	// 等待响应的通道，按帧类型索引；一次只有一个未决请求
	waitersMu sync.Mutex
	waiters   map[protocol.FrameType]chan *protocol.Frame

	closeOnce sync.Once
	closedCh  chan struct{}
}

// New 创建客户端
func New(config *ClientConfig) *Client {
	log := config.Logger
	if log == nil {
		log = logger.Nop{}
	}
	c := &Client{
		config:   config,
		log:      log,
		waiters:  make(map[protocol.FrameType]chan *protocol.Frame),
		closedCh: make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State 当前连接状态
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(newState ClientState) {
	oldState := ClientState(c.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	if h, ok := c.stateHandler.Load().(StateChangeHandler); ok && h != nil {
		h(oldState, newState)
	}
}

// SetPushHandler 注册推送帧处理器
func (c *Client) SetPushHandler(h PushHandler) {
	c.pushHandler.Store(h)
}

// SetStateChangeHandler 注册状态变化处理器
func (c *Client) SetStateChangeHandler(h StateChangeHandler) {
	c.stateHandler.Store(h)
}

// KnownUsers 握手时服务器返回的已知用户列表
func (c *Client) KnownUsers() []string {
	if v, ok := c.knownUsers.Load().([]string); ok {
		return v
	}
	return nil
}

// OnlineUsers 最近一次收到的在线用户列表
func (c *Client) OnlineUsers() []string {
	if v, ok := c.onlineUsers.Load().([]string); ok {
		return v
	}
	return nil
}

// Reconnects 重连成功次数
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// Connect 建立连接并完成HELLO/LOGIN握手
func (c *Client) Connect(ctx context.Context) error {
	if c.State() == StateClosed {
		return errors.New("client is closed")
	}
	c.setState(StateConnecting)

	if err := c.dialAndHandshake(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateConnected)
	go c.readLoop()
	return nil
}

func (c *Client) dialAndHandshake(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Addr)
	if err != nil {
		return fmt.Errorf("dial %s failed: %w", c.config.Addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.decoder = protocol.NewFrameDecoder()
	c.mu.Unlock()

	// 握手阶段同步读响应，读循环还没启动
	if err := c.handshake(conn, c.decoder); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// nextFrame 从连接读取数据块喂给流式解码器，直到凑出一个完整的帧
func (c *Client) nextFrame(conn net.Conn, dec *protocol.FrameDecoder) (*protocol.Frame, error) {
	buf := make([]byte, 4096)
	for {
		frame, err := dec.Next()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}

		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		dec.Feed(buf[:n])
	}
}

// handshake HELLO换用户列表，配置了用户名则接着LOGIN
func (c *Client) handshake(conn net.Conn, dec *protocol.FrameDecoder) error {
	if err := c.writeFrame(protocol.NewHello(), nil); err != nil {
		return fmt.Errorf("send HELLO failed: %w", err)
	}
	frame, err := c.nextFrame(conn, dec)
	if err != nil {
		return fmt.Errorf("read HELLO_RESPONSE failed: %w", err)
	}
	var hello protocol.HelloResponse
	if err := frame.DecodeHeader(&hello); err != nil {
		return err
	}
	if hello.Status != protocol.StatusSuccess {
		return fmt.Errorf("handshake rejected: %s", hello.Status)
	}
	c.knownUsers.Store(hello.UserList)

	if c.config.Username == "" {
		return nil
	}

	if err := c.writeFrame(protocol.NewLogin(c.config.Username), nil); err != nil {
		return fmt.Errorf("send LOGIN failed: %w", err)
	}
	for {
		frame, err := c.nextFrame(conn, dec)
		if err != nil {
			return fmt.Errorf("read LOGIN_RESPONSE failed: %w", err)
		}
		// 登录响应前可能先到广播或已被路由过来的消息
		if frame.Type != protocol.TypeLoginResponse {
			c.handlePush(frame)
			continue
		}
		var login protocol.LoginResponse
		if err := frame.DecodeHeader(&login); err != nil {
			return err
		}
		c.onlineUsers.Store(login.OnlineUserList)
		return nil
	}
}

func (c *Client) writeFrame(header any, payload []byte) error {
	buf, err := protocol.EncodeFrame(header, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	_, err = conn.Write(buf)
	return err
}

// readLoop 连接存续期间的接收循环
func (c *Client) readLoop() {
	c.mu.Lock()
	conn := c.conn
	dec := c.decoder
	c.mu.Unlock()

	for {
		frame, err := c.nextFrame(conn, dec)
		if err != nil {
			c.onReadError(err)
			return
		}

		switch frame.Type {
		case protocol.TypeMessage, protocol.TypeFile:
			c.handlePush(frame)
		case protocol.TypeStatusUpdate:
			var update protocol.StatusUpdate
			if err := frame.DecodeHeader(&update); err == nil {
				c.onlineUsers.Store(update.OnlineUserList)
			}
			c.handlePush(frame)
		default:
			if !protocol.IsResponseType(frame.Type) {
				c.log.Debugf("ignoring frame with unknown type %q", frame.Type)
				continue
			}
			c.deliverResponse(frame)
		}
	}
}

func (c *Client) handlePush(frame *protocol.Frame) {
	if h, ok := c.pushHandler.Load().(PushHandler); ok && h != nil {
		h(frame)
	}
}

func (c *Client) deliverResponse(frame *protocol.Frame) {
	c.waitersMu.Lock()
	ch, ok := c.waiters[frame.Type]
	if ok {
		delete(c.waiters, frame.Type)
	}
	c.waitersMu.Unlock()

	if ok {
		ch <- frame
	} else {
		c.log.Debugf("unexpected response frame %s", frame.Type)
	}
}

// request 发送请求帧并等待指定类型的响应
func (c *Client) request(header any, payload []byte, want protocol.FrameType) (*protocol.Frame, error) {
	ch := make(chan *protocol.Frame, 1)

	c.waitersMu.Lock()
	if _, busy := c.waiters[want]; busy {
		c.waitersMu.Unlock()
		return nil, fmt.Errorf("request for %s already in flight", want)
	}
	c.waiters[want] = ch
	c.waitersMu.Unlock()

	if err := c.writeFrame(header, payload); err != nil {
		c.waitersMu.Lock()
		delete(c.waiters, want)
		c.waitersMu.Unlock()
		return nil, err
	}

	select {
	case frame := <-ch:
		return frame, nil
	case <-time.After(c.config.RequestTimeout):
		c.waitersMu.Lock()
		delete(c.waiters, want)
		c.waitersMu.Unlock()
		return nil, fmt.Errorf("timeout waiting for %s", want)
	case <-c.closedCh:
		return nil, errors.New("client closed")
	}
}

// SendText 发送文本消息并返回路由结果
func (c *Client) SendText(receiver, text string) (*protocol.MessageResponse, error) {
	payload := []byte(text)
	header := protocol.NewMessage(receiver, uint32(len(payload)))
	header.SenderName = c.config.Username

	frame, err := c.request(header, payload, protocol.TypeMessageResponse)
	if err != nil {
		return nil, err
	}
	var resp protocol.MessageResponse
	if err := frame.DecodeHeader(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendFile 发送文件内容并返回路由结果
func (c *Client) SendFile(receiver, filename string, data []byte) (*protocol.MessageResponse, error) {
	header := protocol.NewFile(receiver, filename, uint32(len(data)))
	header.SenderName = c.config.Username

	frame, err := c.request(header, data, protocol.TypeMessageResponse)
	if err != nil {
		return nil, err
	}
	var resp protocol.MessageResponse
	if err := frame.DecodeHeader(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bye 发送终止请求并等待确认
func (c *Client) Bye() error {
	_, err := c.request(protocol.NewBye(), nil, protocol.TypeByeResponse)
	return err
}

// onReadError 读失败后的处理：要么重连，要么落到断开状态
func (c *Client) onReadError(err error) {
	if c.State() == StateClosed {
		return
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	if !c.config.EnableReconnect {
		c.log.Printf("connection lost: %v", err)
		c.setState(StateDisconnected)
		return
	}

	c.log.Printf("connection lost, reconnecting: %v", err)
	c.setState(StateReconnecting)

	c.reconnectWg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop 指数退避重连，成功后重跑握手
func (c *Client) reconnectLoop() {
	defer c.reconnectWg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.ReconnectInterval
	policy.MaxElapsedTime = c.config.MaxReconnectTime

	operation := func() error {
		select {
		case <-c.closedCh:
			return backoff.Permanent(errors.New("client closed"))
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
		defer cancel()
		return c.dialAndHandshake(ctx)
	}

	if err := backoff.Retry(operation, policy); err != nil {
		c.log.Printf("reconnect gave up: %v", err)
		c.setState(StateDisconnected)
		return
	}

	c.reconnects.Add(1)
	c.setState(StateConnected)
	go c.readLoop()
}

// Close 关闭客户端，不再重连
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.closedCh)

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()

		c.reconnectWg.Wait()
	})
	return nil
}
