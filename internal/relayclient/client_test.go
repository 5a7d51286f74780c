package relayclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanrelay/internal/protocol"
)

// scriptedServer 脚本化的对端：接收请求帧并按脚本回写，
// 回写可以被拆成任意小的分片，用来验证流式解码
type scriptedServer struct {
	t        *testing.T
	listener net.Listener
	connCh   chan net.Conn
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &scriptedServer{t: t, listener: listener, connCh: make(chan net.Conn, 1)}
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		s.connCh <- conn
	}()
	t.Cleanup(func() { listener.Close() })
	return s
}

func (s *scriptedServer) addr() string {
	return s.listener.Addr().String()
}

func (s *scriptedServer) accept() net.Conn {
	s.t.Helper()
	select {
	case conn := <-s.connCh:
		s.t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		s.t.Fatal("no connection accepted")
		return nil
	}
}

// writeFragmented 分片逐段写出，迫使对端跨多次Read拼帧
func writeFragmented(t *testing.T, conn net.Conn, buf []byte, chunkSize int) {
	t.Helper()
	for len(buf) > 0 {
		n := chunkSize
		if n > len(buf) {
			n = len(buf)
		}
		_, err := conn.Write(buf[:n])
		require.NoError(t, err)
		buf = buf[n:]
		time.Sleep(time.Millisecond)
	}
}

func encodeFrame(t *testing.T, header any, payload []byte) []byte {
	t.Helper()
	buf, err := protocol.EncodeFrame(header, payload)
	require.NoError(t, err)
	return buf
}

func TestConnectWithFragmentedResponses(t *testing.T) {
	server := newScriptedServer(t)

	go func() {
		conn := server.accept()
		reader := protocol.NewFrameReader(conn)

		if frame, err := reader.ReadFrame(); err != nil || frame.Type != protocol.TypeHello {
			return
		}
		// 握手响应逐字节写出，客户端必须跨多次读取才能拼出完整帧
		writeFragmented(t, conn, encodeFrame(t, protocol.NewHelloResponse([]string{"alice", "bob"}), nil), 1)

		if frame, err := reader.ReadFrame(); err != nil || frame.Type != protocol.TypeLogin {
			return
		}
		writeFragmented(t, conn, encodeFrame(t, protocol.NewLoginResponse([]string{"alice"}), nil), 3)
	}()

	cc := DefaultClientConfig(server.addr(), "alice")
	cc.EnableReconnect = false
	client := New(cc)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, []string{"alice", "bob"}, client.KnownUsers())
	assert.Equal(t, []string{"alice"}, client.OnlineUsers())
}

func TestReadLoopReassemblesSplitPush(t *testing.T) {
	server := newScriptedServer(t)

	go func() {
		conn := server.accept()
		reader := protocol.NewFrameReader(conn)

		if _, err := reader.ReadFrame(); err != nil {
			return
		}
		if _, err := conn.Write(encodeFrame(t, protocol.NewHelloResponse(nil), nil)); err != nil {
			return
		}
		if _, err := reader.ReadFrame(); err != nil {
			return
		}
		if _, err := conn.Write(encodeFrame(t, protocol.NewLoginResponse([]string{"alice"}), nil)); err != nil {
			return
		}

		// 带载荷的推送帧，头部和载荷都被切碎
		msg := protocol.NewMessage("alice", 5)
		msg.SenderName = "bob"
		writeFragmented(t, conn, encodeFrame(t, msg, []byte("hello")), 2)
	}()

	cc := DefaultClientConfig(server.addr(), "alice")
	cc.EnableReconnect = false
	client := New(cc)
	defer client.Close()

	received := make(chan *protocol.Frame, 1)
	client.SetPushHandler(func(frame *protocol.Frame) {
		if frame.Type == protocol.TypeMessage {
			received <- frame
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	select {
	case frame := <-received:
		assert.Equal(t, []byte("hello"), frame.Payload)
		var msg protocol.Message
		require.NoError(t, frame.DecodeHeader(&msg))
		assert.Equal(t, "bob", msg.SenderName)
	case <-time.After(2 * time.Second):
		t.Fatal("routed message never arrived")
	}
}

func TestReadLoopIgnoresUnknownFrameType(t *testing.T) {
	server := newScriptedServer(t)

	go func() {
		conn := server.accept()
		reader := protocol.NewFrameReader(conn)

		if _, err := reader.ReadFrame(); err != nil {
			return
		}
		if _, err := conn.Write(encodeFrame(t, protocol.NewHelloResponse(nil), nil)); err != nil {
			return
		}
		if _, err := reader.ReadFrame(); err != nil {
			return
		}
		if _, err := conn.Write(encodeFrame(t, protocol.NewLoginResponse(nil), nil)); err != nil {
			return
		}

		// 未知类型的帧必须被忽略，随后的正常帧照常处理
		if _, err := conn.Write(protocol.EncodeRaw([]byte(`{"type":"GOSSIP","payloadSize":0}`), nil)); err != nil {
			return
		}
		if _, err := conn.Write(encodeFrame(t, protocol.NewStatusUpdate([]string{"alice", "carol"}), nil)); err != nil {
			return
		}
	}()

	cc := DefaultClientConfig(server.addr(), "alice")
	cc.EnableReconnect = false
	client := New(cc)
	defer client.Close()

	updated := make(chan struct{}, 1)
	client.SetPushHandler(func(frame *protocol.Frame) {
		if frame.Type == protocol.TypeStatusUpdate {
			updated <- struct{}{}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("status update after unknown frame never arrived")
	}
	assert.Equal(t, StateConnected, client.State())
	assert.Equal(t, []string{"alice", "carol"}, client.OnlineUsers())
}
