package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrUserExists 用户名已被占用
var ErrUserExists = errors.New("user already exists")

// UserRecord 已知用户的持久记录。离线用户同样保留。
type UserRecord struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	Online    bool      `json:"online"`
	SessionID string    `json:"session_id,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// Directory 用户目录契约。核心只消费这四个操作加已知用户枚举，
// 持久化方式由实现决定。
type Directory interface {
	Lookup(ctx context.Context, username string) (*UserRecord, bool, error)
	Create(ctx context.Context, username string) (*UserRecord, error)
	MarkOnline(ctx context.Context, username, sessionID string) error
	MarkOffline(ctx context.Context, username string) error
	Usernames(ctx context.Context) ([]string, error)
}

// MemoryDirectory 内存实现，默认运行模式和测试使用
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]*UserRecord
}

// NewMemory 创建内存用户目录
func NewMemory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]*UserRecord)}
}

// Lookup 查找用户记录，返回的是副本
func (d *MemoryDirectory) Lookup(ctx context.Context, username string) (*UserRecord, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.users[username]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// Create 创建用户记录，重名时返回ErrUserExists
func (d *MemoryDirectory) Create(ctx context.Context, username string) (*UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[username]; ok {
		return nil, ErrUserExists
	}
	now := time.Now()
	rec := &UserRecord{Username: username, CreatedAt: now, LastSeen: now}
	d.users[username] = rec
	cp := *rec
	return &cp, nil
}

// MarkOnline 标记用户上线并记录其会话，未知用户自动建档
func (d *MemoryDirectory) MarkOnline(ctx context.Context, username, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.users[username]
	if !ok {
		rec = &UserRecord{Username: username, CreatedAt: time.Now()}
		d.users[username] = rec
	}
	rec.Online = true
	rec.SessionID = sessionID
	rec.LastSeen = time.Now()
	return nil
}

// MarkOffline 标记用户下线，记录保留
func (d *MemoryDirectory) MarkOffline(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.users[username]
	if !ok {
		return nil
	}
	rec.Online = false
	rec.SessionID = ""
	rec.LastSeen = time.Now()
	return nil
}

// Usernames 返回已知用户名的有序列表，包含离线用户
func (d *MemoryDirectory) Usernames(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.users))
	for name := range d.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete 删除用户记录。已计算的统计计数不随之清除，
// 由统计管线独立持有直到进程退出。
func (d *MemoryDirectory) Delete(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, username)
	return nil
}
