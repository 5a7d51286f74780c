package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameRoundTrip 对所有帧类型验证 decode(encode(frame)) 还原等值帧
func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello")
	header := NewMessage("bob", uint32(len(payload)))
	header.SenderName = "alice"

	buf, err := EncodeFrame(header, payload)
	require.NoError(t, err)

	frame, err := NewFrameReader(bytes.NewReader(buf)).ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, TypeMessage, frame.Type)
	assert.Equal(t, uint32(5), frame.PayloadSize)
	assert.Equal(t, payload, frame.Payload)

	var decoded Message
	require.NoError(t, frame.DecodeHeader(&decoded))
	assert.Equal(t, *header, decoded)
}

// TestFrameRoundTripNoPayload 无载荷帧的往返
func TestFrameRoundTripNoPayload(t *testing.T) {
	for _, header := range []any{
		NewHello(),
		NewLogin("alice"),
		NewHelloResponse([]string{"alice", "bob"}),
		NewLoginResponse([]string{"alice"}),
		NewStatusUpdate([]string{"alice", "bob"}),
		NewMessageForwarded("alice", "bob", 5),
		NewMessageUserOffline("bob", 5),
		NewBye(),
		NewByeResponse(),
	} {
		buf, err := EncodeFrame(header, nil)
		require.NoError(t, err)

		frame, err := NewFrameReader(bytes.NewReader(buf)).ReadFrame()
		require.NoError(t, err)
		assert.Zero(t, frame.PayloadSize)
		assert.Nil(t, frame.Payload)
	}
}

// TestEncodePayloadMismatch 头部声明与实际载荷长度不一致时编码报错
func TestEncodePayloadMismatch(t *testing.T) {
	header := NewMessage("bob", 10)
	_, err := EncodeFrame(header, []byte("hello"))
	assert.ErrorIs(t, err, ErrPayloadMismatch)
}

// TestDecodeTruncated 声明的字节数未到齐、连接即关闭时报截断错误
func TestDecodeTruncated(t *testing.T) {
	payload := []byte("hello")
	buf, err := EncodeFrame(NewMessage("bob", uint32(len(payload))), payload)
	require.NoError(t, err)

	for _, cut := range []int{2, len(buf) - 7, len(buf) - 2} {
		_, err := NewFrameReader(bytes.NewReader(buf[:cut])).ReadFrame()
		assert.ErrorIs(t, err, ErrTruncated, "cut at %d", cut)
	}
}

// TestDecodeMalformedHeader 头部字节不是JSON对象时报格式错误
func TestDecodeMalformedHeader(t *testing.T) {
	for _, headerBytes := range [][]byte{
		[]byte("not json at all"),
		[]byte(`[1,2,3]`),
		[]byte(`"just a string"`),
		[]byte(`{"type": "MESSAGE"`),
	} {
		var buf bytes.Buffer
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(headerBytes)))
		buf.Write(prefix[:])
		buf.Write(headerBytes)

		_, err := NewFrameReader(&buf).ReadFrame()
		assert.ErrorIs(t, err, ErrMalformedHeader, "header %q", headerBytes)
	}
}

// TestDecodeOversizedFrame 超出大小上限的帧被拒绝
func TestDecodeOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxHeaderSize+1)
	buf.Write(prefix[:])

	_, err := NewFrameReader(&buf).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// 头部合法但声明的载荷超限
	headerBytes := []byte(`{"type":"FILE","receiverName":"bob","payloadSize":99999999}`)
	buf.Reset()
	binary.BigEndian.PutUint32(prefix[:], uint32(len(headerBytes)))
	buf.Write(prefix[:])
	buf.Write(headerBytes)

	_, err = NewFrameReader(&buf).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

// TestDecodeEOF 流结束返回io.EOF
func TestDecodeEOF(t *testing.T) {
	_, err := NewFrameReader(bytes.NewReader(nil)).ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

// TestEncodeRawPreservesBytes 路由转发用原始头部重组帧，字节级一致
func TestEncodeRawPreservesBytes(t *testing.T) {
	payload := []byte("hello")
	original, err := EncodeFrame(NewMessage("bob", uint32(len(payload))), payload)
	require.NoError(t, err)

	frame, err := NewFrameReader(bytes.NewReader(original)).ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, original, EncodeRaw(frame.RawHeader, frame.Payload))
}

// TestFrameDecoderPartialFeed 流式解码器按任意切分的输入工作
func TestFrameDecoderPartialFeed(t *testing.T) {
	payload := []byte("hello world")
	buf, err := EncodeFrame(NewMessage("bob", uint32(len(payload))), payload)
	require.NoError(t, err)

	fd := NewFrameDecoder()
	for i, b := range buf {
		frame, err := fd.Next()
		require.NoError(t, err)
		require.Nil(t, frame, "frame complete too early at byte %d", i)
		fd.Feed([]byte{b})
	}

	frame, err := fd.Next()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, TypeMessage, frame.Type)
	assert.Equal(t, payload, frame.Payload)
	assert.Zero(t, fd.BufferSize())
}

// TestFrameDecoderBackToBack 一次喂入多个帧逐个取出
func TestFrameDecoderBackToBack(t *testing.T) {
	first, err := EncodeFrame(NewHello(), nil)
	require.NoError(t, err)
	second, err := EncodeFrame(NewLogin("alice"), nil)
	require.NoError(t, err)

	fd := NewFrameDecoder()
	fd.Feed(append(append([]byte{}, first...), second...))

	frame, err := fd.Next()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, TypeHello, frame.Type)

	frame, err = fd.Next()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, TypeLogin, frame.Type)

	frame, err = fd.Next()
	require.NoError(t, err)
	assert.Nil(t, frame)
}

// TestTypePredicates 帧类型判定
func TestTypePredicates(t *testing.T) {
	assert.True(t, IsValidType(TypeMessage))
	assert.False(t, IsValidType(FrameType("NOPE")))
	assert.True(t, IsRequestType(TypeHello))
	assert.False(t, IsRequestType(TypeStatusUpdate))
	assert.True(t, IsResponseType(TypeStatusUpdate))
	assert.False(t, IsResponseType(TypeBye))
}
