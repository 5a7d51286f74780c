package stats

import (
	"sync"
	"time"
)

// Kind 消息种类
type Kind int

const (
	KindText Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindFile:
		return "FILE"
	default:
		return "UNKNOWN"
	}
}

// Message 统计分析单元，路由成功后由协议处理器构造，创建后不可变。
// 与线路上的帧是两回事：帧转发用原始字节，这里只留分析需要的字段。
type Message struct {
	SenderName   string
	ReceiverName string
	Timestamp    time.Time
	Kind         Kind
	Content      string
}

// MessageStore 消息历史存储。历史在进程生命周期内只增不减，
// 放在接口后面，换成有界或落盘的实现时不影响协议处理器。
type MessageStore interface {
	Append(msg *Message)
	Len() int
	Snapshot() []*Message
}

// MemoryStore 无界内存存储，与源系统行为一致
type MemoryStore struct {
	mu       sync.RWMutex
	messages []*Message
}

// NewMemoryStore 创建内存消息存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *MemoryStore) Snapshot() []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Message, len(m.messages))
	copy(out, m.messages)
	return out
}
