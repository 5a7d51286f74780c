package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry 在线会话目录，按用户名索引。
// 所有方法可被各连接的处理协程并发调用。
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Session
	byName map[string]*Session
}

// NewRegistry 创建会话目录
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uuid.UUID]*Session),
		byName: make(map[string]*Session),
	}
}

// Add 登记会话，用户名已绑定时同时建立名字索引
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[s.ID] = s
	if name := s.Username(); name != "" {
		r.byName[name] = s
	}
}

// Bind 在LOGIN后为已登记的会话建立名字索引
func (r *Registry) Bind(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[s.ID]; !ok {
		return
	}
	if name := s.Username(); name != "" {
		r.byName[name] = s
	}
}

// Remove 注销会话，返回是否存在
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if name := s.Username(); name != "" {
		// 名字索引可能已被同名的新会话占用
		if cur, ok := r.byName[name]; ok && cur.ID == id {
			delete(r.byName, name)
		}
	}
	return true
}

// FindByUsername 按用户名查找在线会话
func (r *Registry) FindByUsername(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byName[name]
	return s, ok
}

// OnlineUsernames 返回当前在线用户名的有序快照
func (r *Registry) OnlineUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count 返回登记的会话数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot 返回所有会话的快照
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	return sessions
}

// Broadcast 向所有会话发送同一个帧。
// 对快照迭代，单个接收方的写失败不影响其余接收方；
// 失败的会话收集后返回给调用方移除，不做重试。
func (r *Registry) Broadcast(header any, payload []byte) []*Session {
	var failed []*Session

	for _, s := range r.Snapshot() {
		if err := s.SendFrame(header, payload); err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}
