package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"lanrelay/internal/protocol"
	"lanrelay/internal/session"
	"lanrelay/internal/stats"
)

// handleConnection 单个连接的协议状态机循环。
// 帧按到达顺序处理；本会话的套接字错误只关闭本会话。
func (s *Server) handleConnection(sess *session.Session) {
	defer s.teardown(sess)

	for {
		frame, err := sess.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformedHeader) {
				// 协议错误：丢弃该帧，连接和状态不变
				s.log.Printf("Session %s: dropping malformed frame: %v", sess.ID, err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, protocol.ErrTruncated) {
				s.log.Printf("Session %s: read failed: %v", sess.ID, err)
			}
			return
		}

		if closed := s.dispatch(sess, frame); closed {
			return
		}
	}
}

// dispatch 按当前状态和帧类型驱动状态表，返回连接是否应终止
func (s *Server) dispatch(sess *session.Session, frame *protocol.Frame) bool {
	if !protocol.IsValidType(frame.Type) {
		s.log.Debugf("Session %s: ignoring frame with unknown type %q", sess.ID, frame.Type)
		return false
	}

	// BYE在任何状态下都有效
	if frame.Type == protocol.TypeBye {
		s.handleBye(sess)
		return true
	}

	switch sess.State() {
	case session.StateConnecting:
		if frame.Type == protocol.TypeHello {
			return s.handleHello(sess)
		}
	case session.StateGreeted:
		if frame.Type == protocol.TypeLogin {
			return s.handleLogin(sess, frame)
		}
	case session.StateAuthenticated, session.StateActive:
		switch frame.Type {
		case protocol.TypeMessage:
			return s.handleMessage(sess, frame)
		case protocol.TypeFile:
			return s.handleFile(sess, frame)
		}
	case session.StateClosed:
		return true
	}

	// 状态表之外的帧：忽略，不崩溃也不换状态
	s.log.Debugf("Session %s: ignoring %s frame in state %s",
		sess.ID, frame.Type, sess.State())
	return false
}

// handleHello 握手：回复已知用户列表，进入Greeted
func (s *Server) handleHello(sess *session.Session) bool {
	known, err := s.dir.Usernames(context.Background())
	if err != nil {
		s.log.Printf("Session %s: directory lookup failed: %v", sess.ID, err)
		known = nil
	}

	if err := sess.SendFrame(protocol.NewHelloResponse(known), nil); err != nil {
		s.log.Printf("Session %s: send HELLO_RESPONSE failed: %v", sess.ID, err)
		return true
	}
	sess.SetState(session.StateGreeted)
	return false
}

// handleLogin 绑定用户名，登记上线并广播在线状态
func (s *Server) handleLogin(sess *session.Session, frame *protocol.Frame) bool {
	var login protocol.Login
	if err := frame.DecodeHeader(&login); err != nil {
		s.log.Printf("Session %s: dropping malformed LOGIN: %v", sess.ID, err)
		return false
	}
	if login.Username == "" {
		s.log.Printf("Session %s: ignoring LOGIN without username", sess.ID)
		return false
	}

	if err := sess.BindUsername(login.Username); err != nil {
		s.log.Printf("Session %s: %v", sess.ID, err)
		return false
	}
	s.registry.Bind(sess)
	sess.SetState(session.StateAuthenticated)

	ctx := context.Background()
	_, knownBefore, err := s.dir.Lookup(ctx, login.Username)
	if err != nil {
		s.log.Printf("Session %s: directory lookup failed: %v", sess.ID, err)
	}
	if err := s.dir.MarkOnline(ctx, login.Username, sess.ID.String()); err != nil {
		s.log.Printf("Session %s: mark online failed: %v", sess.ID, err)
	}

	s.log.Printf("Session %s: logged in as %q", sess.ID, login.Username)

	online := s.registry.OnlineUsernames()
	if err := sess.SendFrame(protocol.NewLoginResponse(online), nil); err != nil {
		s.log.Printf("Session %s: send LOGIN_RESPONSE failed: %v", sess.ID, err)
		return true
	}

	s.broadcastStatus()
	if s.bus != nil {
		if !knownBefore {
			if names, err := s.dir.Usernames(ctx); err == nil {
				s.bus.PublishUserList(names)
			}
		}
	}
	return false
}

// handleMessage 文本消息路由
func (s *Server) handleMessage(sess *session.Session, frame *protocol.Frame) bool {
	var header protocol.Message
	if err := frame.DecodeHeader(&header); err != nil {
		s.log.Printf("Session %s: dropping malformed MESSAGE: %v", sess.ID, err)
		return false
	}

	delivered := s.route(sess, header.ReceiverName, frame)
	sess.SetState(session.StateActive)

	if delivered {
		s.pipeline.Enqueue(&stats.Message{
			SenderName:   sess.Username(),
			ReceiverName: header.ReceiverName,
			Timestamp:    time.Now(),
			Kind:         stats.KindText,
			Content:      string(frame.Payload),
		})
	}
	return false
}

// handleFile 文件消息路由。载荷是不透明字节，不做文本分析。
func (s *Server) handleFile(sess *session.Session, frame *protocol.Frame) bool {
	var header protocol.File
	if err := frame.DecodeHeader(&header); err != nil {
		s.log.Printf("Session %s: dropping malformed FILE: %v", sess.ID, err)
		return false
	}

	delivered := s.route(sess, header.ReceiverName, frame)
	sess.SetState(session.StateActive)

	if delivered {
		s.pipeline.Enqueue(&stats.Message{
			SenderName:   sess.Username(),
			ReceiverName: header.ReceiverName,
			Timestamp:    time.Now(),
			Kind:         stats.KindFile,
			Content:      header.Filename,
		})
	}
	return false
}

// route 查找接收方并原样转发头部+载荷。
// 接收方不在线时只告知发送方，离线消息不暂存（非目标）。
func (s *Server) route(sess *session.Session, receiverName string, frame *protocol.Frame) bool {
	receiver, ok := s.registry.FindByUsername(receiverName)
	if !ok {
		s.replyOffline(sess, receiverName, frame.PayloadSize)
		return false
	}

	if err := receiver.SendRaw(frame.RawHeader, frame.Payload); err != nil {
		// 接收方连接已死：只关闭接收方会话，发送方按离线处理
		s.log.Printf("Session %s: forward to %q failed: %v", sess.ID, receiverName, err)
		s.closeSession(receiver)
		s.replyOffline(sess, receiverName, frame.PayloadSize)
		return false
	}

	resp := protocol.NewMessageForwarded(sess.Username(), receiverName, frame.PayloadSize)
	if err := sess.SendFrame(resp, nil); err != nil {
		s.log.Printf("Session %s: send MESSAGE_RESPONSE failed: %v", sess.ID, err)
	}
	return true
}

func (s *Server) replyOffline(sess *session.Session, receiverName string, size uint32) {
	resp := protocol.NewMessageUserOffline(receiverName, size)
	if err := sess.SendFrame(resp, nil); err != nil {
		s.log.Printf("Session %s: send MESSAGE_RESPONSE failed: %v", sess.ID, err)
	}
}

// handleBye 确认后终止连接
func (s *Server) handleBye(sess *session.Session) {
	if err := sess.SendFrame(protocol.NewByeResponse(), nil); err != nil {
		s.log.Debugf("Session %s: send BYE_RESPONSE failed: %v", sess.ID, err)
	}
	s.log.Printf("Session %s: BYE", sess.ID)
}

// teardown 连接结束时的清理：注销、标记下线、广播新状态
func (s *Server) teardown(sess *session.Session) {
	sess.Close()
	if !s.registry.Remove(sess.ID) {
		return
	}

	if name := sess.Username(); name != "" {
		if err := s.dir.MarkOffline(context.Background(), name); err != nil {
			s.log.Printf("Session %s: mark offline failed: %v", sess.ID, err)
		}
	}

	s.log.Printf("Session %s closed (%s)", sess.ID, sess.RemoteAddr())

	// 服务器整体关闭时不再广播
	select {
	case <-s.stopCh:
		return
	default:
	}
	s.broadcastStatus()
}

// closeSession 因写失败而关闭某个会话，走与读失败相同的清理路径
func (s *Server) closeSession(sess *session.Session) {
	if s.removeQuiet(sess) {
		s.broadcastStatus()
	}
}

// removeQuiet 关闭并注销会话，不触发状态广播
func (s *Server) removeQuiet(sess *session.Session) bool {
	sess.Close()
	if !s.registry.Remove(sess.ID) {
		return false
	}
	if name := sess.Username(); name != "" {
		if err := s.dir.MarkOffline(context.Background(), name); err != nil {
			s.log.Printf("Session %s: mark offline failed: %v", sess.ID, err)
		}
	}
	return true
}

// broadcastStatus 向所有会话广播在线用户列表。
// 单个死连接不阻碍其余接收方，失败的会话移除后补发一次广播。
func (s *Server) broadcastStatus() {
	for {
		online := s.registry.OnlineUsernames()
		update := protocol.NewStatusUpdate(online)

		failed := s.registry.Broadcast(update, nil)
		for _, sess := range failed {
			s.log.Printf("Session %s: broadcast failed, closing", sess.ID)
			s.removeQuiet(sess)
		}

		if len(failed) == 0 {
			if s.bus != nil {
				s.bus.PublishStatus(online)
			}
			return
		}
	}
}
