package event

import (
	"sync"
	"time"
)

// Type 事件类型
type Type string

const (
	TypeUserListChanged Type = "user_list_changed"
	TypeStatusUpdate    Type = "status_update"
	TypeCountersUpdated Type = "counters_updated"
)

// CountersScopeGlobal 全局计数器更新事件的作用域标识
const CountersScopeGlobal = "global"

// Event 推送给展示层的事件。核心只推不等，不关心消费结果。
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// 用户列表类事件携带用户名集合
	Users []string `json:"users,omitempty"`
	// 计数器更新事件携带作用域：用户名或 "global"
	Scope string `json:"scope,omitempty"`
}

// Bus 展示层事件总线。订阅者拿到带缓冲的通道，
// 缓冲满时事件被丢弃，发布方永不阻塞。
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe 注册订阅者，返回订阅ID和事件通道
func (b *Bus) Subscribe(buffer int) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe 注销订阅者并关闭其通道
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Close 关闭总线和所有订阅通道
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bus) publish(e Event) {
	e.Timestamp = time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// 消费慢的订阅者丢事件，不反压核心
		}
	}
}

// PublishUserList 已知用户列表变化
func (b *Bus) PublishUserList(users []string) {
	b.publish(Event{Type: TypeUserListChanged, Users: users})
}

// PublishStatus 在线状态变化
func (b *Bus) PublishStatus(online []string) {
	b.publish(Event{Type: TypeStatusUpdate, Users: online})
}

// PublishCounters 统计计数器更新，scope为用户名或global
func (b *Bus) PublishCounters(scope string) {
	b.publish(Event{Type: TypeCountersUpdated, Scope: scope})
}
