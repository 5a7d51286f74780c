package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// 帧前缀长度：JSON头部字节数(4字节，大端序)
	LengthPrefixSize = 4
	// 最大头部大小限制（防止内存攻击）
	MaxHeaderSize = 64 * 1024
	// 最大载荷大小限制（文件传输按整帧发送）
	MaxPayloadSize = 16 * 1024 * 1024
)

var (
	ErrMalformedHeader = errors.New("malformed frame header")
	ErrTruncated       = errors.New("truncated frame")
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrPayloadMismatch = errors.New("payload size mismatch")
)

// Frame 表示一个完整的协议帧：JSON头部 + 可选的原始载荷。
// RawHeader 保留线路上的原始头部字节，转发时原样使用。
type Frame struct {
	Type        FrameType
	PayloadSize uint32
	RawHeader   []byte
	Payload     []byte
}

// envelope 头部公共字段，解码时先提取类型和载荷长度
type envelope struct {
	Type        FrameType `json:"type"`
	PayloadSize uint32    `json:"payloadSize"`
}

// EncodeFrame 将头部结构和载荷编码为二进制帧格式
// 帧格式: | headerLength(4字节) | JSON头部(变长) | 载荷(payloadSize字节) |
func EncodeFrame(header any, payload []byte) ([]byte, error) {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal frame header failed: %w", err)
	}
	if len(headerBytes) > MaxHeaderSize {
		return nil, ErrFrameTooLarge
	}

	var env envelope
	if err := json.Unmarshal(headerBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if int(env.PayloadSize) != len(payload) {
		return nil, fmt.Errorf("%w: header declares %d bytes, payload has %d",
			ErrPayloadMismatch, env.PayloadSize, len(payload))
	}

	buf := make([]byte, LengthPrefixSize+len(headerBytes)+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(headerBytes)))
	copy(buf[4:], headerBytes)
	copy(buf[4+len(headerBytes):], payload)

	return buf, nil
}

// EncodeRaw 用已有的原始头部字节重新组帧，用于路由转发
func EncodeRaw(rawHeader, payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(rawHeader)+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(rawHeader)))
	copy(buf[4:], rawHeader)
	copy(buf[4+len(rawHeader):], payload)
	return buf
}

// parseHeader 解析头部字节，校验其为JSON对象
func parseHeader(headerBytes []byte) (*Frame, error) {
	trimmed := bytes.TrimLeft(headerBytes, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedHeader
	}

	var env envelope
	if err := json.Unmarshal(headerBytes, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if env.PayloadSize > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	return &Frame{
		Type:        env.Type,
		PayloadSize: env.PayloadSize,
		RawHeader:   headerBytes,
	}, nil
}

// FrameReader 从数据流中阻塞式读取帧
type FrameReader struct {
	r io.Reader
}

// NewFrameReader 创建帧读取器
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame 读取下一个完整的帧。
// 头部和载荷分两步读取，载荷长度只信任头部声明的payloadSize。
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(fr.r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	headerLen := binary.BigEndian.Uint32(prefix[:])
	if headerLen == 0 || headerLen > MaxHeaderSize {
		return nil, ErrFrameTooLarge
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(fr.r, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	frame, err := parseHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	if frame.PayloadSize > 0 {
		frame.Payload = make([]byte, frame.PayloadSize)
		if _, err := io.ReadFull(fr.r, frame.Payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
	}

	return frame, nil
}

// DecodeHeader 将帧头部反序列化为指定类型的结构
func (f *Frame) DecodeHeader(v any) error {
	if err := json.Unmarshal(f.RawHeader, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return nil
}

// FrameDecoder 从数据块中逐步解码帧（用于按块输入的读取方式）
type FrameDecoder struct {
	buffer []byte
}

// NewFrameDecoder 创建新的帧解码器
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		buffer: make([]byte, 0, 1024),
	}
}

// Feed 向解码器输入数据
func (fd *FrameDecoder) Feed(data []byte) {
	fd.buffer = append(fd.buffer, data...)
}

// Next 尝试解码下一个完整的帧，数据不足时返回(nil, nil)
func (fd *FrameDecoder) Next() (*Frame, error) {
	if len(fd.buffer) < LengthPrefixSize {
		return nil, nil
	}

	headerLen := binary.BigEndian.Uint32(fd.buffer[0:4])
	if headerLen == 0 || headerLen > MaxHeaderSize {
		return nil, ErrFrameTooLarge
	}
	if len(fd.buffer) < LengthPrefixSize+int(headerLen) {
		return nil, nil
	}

	headerBytes := make([]byte, headerLen)
	copy(headerBytes, fd.buffer[LengthPrefixSize:LengthPrefixSize+int(headerLen)])

	frame, err := parseHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	frameSize := LengthPrefixSize + int(headerLen) + int(frame.PayloadSize)
	if len(fd.buffer) < frameSize {
		return nil, nil
	}

	if frame.PayloadSize > 0 {
		frame.Payload = make([]byte, frame.PayloadSize)
		copy(frame.Payload, fd.buffer[LengthPrefixSize+int(headerLen):frameSize])
	}

	fd.buffer = fd.buffer[frameSize:]
	return frame, nil
}

// Reset 重置解码器状态
func (fd *FrameDecoder) Reset() {
	fd.buffer = fd.buffer[:0]
}

// BufferSize 返回当前缓冲区大小
func (fd *FrameDecoder) BufferSize() int {
	return len(fd.buffer)
}
