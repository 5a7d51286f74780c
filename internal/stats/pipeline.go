package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"lanrelay/internal/event"
	"lanrelay/internal/logger"
)

const (
	// DefaultDrainInterval 批量消费间隔，分析成本与I/O路径解耦
	DefaultDrainInterval = 5 * time.Second
	// 入队缓冲，缓冲满时Enqueue阻塞形成背压
	queueCapacity = 4096
)

// pendingReply 尚未找到应答的已接收消息
type pendingReply struct {
	peer       string // 消息来自谁
	receivedAt time.Time
}

// Pipeline 统计管线。所有连接处理协程向同一队列入队，
// 单个工作协程按固定间隔批量消费并更新计数器。
type Pipeline struct {
	log   logger.Logger
	bus   *event.Bus
	store MessageStore

	queue         chan *Message
	drainInterval time.Duration

	// 计数器与词表由mu串行化；工作协程写，报表读快照
	mu     sync.RWMutex
	words  *WordLists
	users  map[string]*counters
	global *counters

	// 应答延迟簿记：每用户的发送时间线（有序）与未决接收
	sentTimes map[string][]time.Time
	pending   map[string][]pendingReply

	stopCh  chan struct{}
	doneCh  chan struct{}
	startMu sync.Mutex
	started bool
}

// Option 管线构造选项
type Option func(*Pipeline)

// WithDrainInterval 设置批量消费间隔
func WithDrainInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.drainInterval = d
		}
	}
}

// WithStore 替换消息历史存储实现
func WithStore(store MessageStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// New 创建统计管线
func New(log logger.Logger, bus *event.Bus, words *WordLists, opts ...Option) *Pipeline {
	if words == nil {
		words = NewWordLists(nil, nil, nil, nil)
	}
	p := &Pipeline{
		log:           log,
		bus:           bus,
		store:         NewMemoryStore(),
		queue:         make(chan *Message, queueCapacity),
		drainInterval: DefaultDrainInterval,
		words:         words,
		users:         make(map[string]*counters),
		global:        newCounters(),
		sentTimes:     make(map[string][]time.Time),
		pending:       make(map[string][]pendingReply),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start 启动工作协程
func (p *Pipeline) Start() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.worker()
}

// Stop 停止工作协程。已取出的批次总是处理完。
func (p *Pipeline) Stop() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
	<-p.doneCh
}

// Enqueue 提交一条消息记录。各连接并发入队，同一连接内保持到达顺序。
func (p *Pipeline) Enqueue(msg *Message) {
	select {
	case p.queue <- msg:
	case <-p.stopCh:
	}
}

// SetWordLists 运行时替换词表（配置热加载）。已计的数不重算。
func (p *Pipeline) SetWordLists(words *WordLists) {
	if words == nil {
		return
	}
	p.mu.Lock()
	p.words = words
	p.mu.Unlock()
}

// worker 批量消费循环
func (p *Pipeline) worker() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			// 停机前清空残留队列
			p.processBatch(p.drain())
			return
		case <-ticker.C:
			p.processBatch(p.drain())
		}
	}
}

// drain 取出队列中当前积压的全部消息
func (p *Pipeline) drain() []*Message {
	var batch []*Message
	for {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}

// processBatch 处理一个批次。单条坏记录跳过并告警，不影响批次其余部分。
func (p *Pipeline) processBatch(batch []*Message) {
	if len(batch) == 0 {
		return
	}

	p.mu.Lock()
	touched := make(map[string]bool)
	for _, msg := range batch {
		if err := p.processOne(msg, touched); err != nil {
			p.log.Printf("stats: skipping bad message record: %v", err)
		}
	}
	// 应答匹配放在批次末尾：同批内靠后的发送也能应答靠前的接收
	p.resolveReplies(touched)
	p.mu.Unlock()

	if p.bus != nil {
		for username := range touched {
			p.bus.PublishCounters(username)
		}
		p.bus.PublishCounters(event.CountersScopeGlobal)
	}
}

// processOne 处理单条消息，调用方持有p.mu
func (p *Pipeline) processOne(msg *Message, touched map[string]bool) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	if msg.SenderName == "" || msg.ReceiverName == "" {
		return fmt.Errorf("message without sender or receiver")
	}
	if msg.Timestamp.IsZero() {
		return fmt.Errorf("message from %s without timestamp", msg.SenderName)
	}

	p.store.Append(msg)

	sender := p.userCounters(msg.SenderName)
	receiver := p.userCounters(msg.ReceiverName)
	sender.sentCount++
	receiver.receivedCount++
	p.global.sentCount++
	p.global.receivedCount++
	touched[msg.SenderName] = true
	touched[msg.ReceiverName] = true

	if msg.Kind == KindText {
		p.analyzeText(msg.SenderName, msg.Content, sender)
	}

	// 应答延迟簿记：发送时间线保持有序，接收方挂入未决列表
	p.sentTimes[msg.SenderName] = insertSorted(p.sentTimes[msg.SenderName], msg.Timestamp)
	p.pending[msg.ReceiverName] = append(p.pending[msg.ReceiverName], pendingReply{
		peer:       msg.SenderName,
		receivedAt: msg.Timestamp,
	})

	return nil
}

// analyzeText 对文本消息做分词和词表统计
func (p *Pipeline) analyzeText(sender, content string, senderCounters *counters) {
	tokens := Tokenize(content)
	if len(tokens) == 0 {
		return
	}

	// 填充词：先做包含判定，命中后对全部token重扫一遍计数（与源系统一致）
	if containsAny(tokens, p.words.Fill) {
		for _, tok := range tokens {
			if p.words.Fill[tok] {
				senderCounters.fillWordCounts[tok]++
				p.global.fillWordCounts[tok]++
			}
		}
	}

	// 触发词同样的两段式，独立于填充词扫描
	hasTrigger := false
	for _, tok := range tokens {
		if p.words.containsAnyTrigger(tok) {
			hasTrigger = true
			break
		}
	}
	if hasTrigger {
		for _, tok := range tokens {
			switch {
			case p.words.Positive[tok]:
				senderCounters.positiveCounts[tok]++
				p.global.positiveCounts[tok]++
			case p.words.Neutral[tok]:
				senderCounters.neutralCounts[tok]++
				p.global.neutralCounts[tok]++
			case p.words.Negative[tok]:
				senderCounters.negativeCounts[tok]++
				p.global.negativeCounts[tok]++
			}
		}
	}

	// 用户指称：@<词> <词>
	for _, mention := range FindMentions(content) {
		senderCounters.mentionCounts[mention]++
		p.global.mentionCounts[mention]++
	}
}

// resolveReplies 应答延迟匹配。对每条A从B收到的未决消息，
// 在A的发送时间线上找时间严格靠后的最早一条，不消费该发送：
// 多条接收可以归因到同一条发送（与源系统一致，刻意未修正）。
func (p *Pipeline) resolveReplies(touched map[string]bool) {
	for user, pendings := range p.pending {
		sent := p.sentTimes[user]
		if len(sent) == 0 {
			continue
		}

		remaining := pendings[:0]
		for _, pr := range pendings {
			idx := sort.Search(len(sent), func(i int) bool {
				return sent[i].After(pr.receivedAt)
			})
			if idx == len(sent) {
				// 还没有更晚的发送，留到后续批次
				remaining = append(remaining, pr)
				continue
			}
			latency := sent[idx].Sub(pr.receivedAt)
			uc := p.userCounters(user)
			uc.replyLatency[pr.peer] = append(uc.replyLatency[pr.peer], latency)
			p.global.replyLatency[pr.peer] = append(p.global.replyLatency[pr.peer], latency)
			touched[user] = true
		}
		p.pending[user] = remaining
	}
}

// userCounters 取或建某用户的计数器。用户从目录删除也不清计数，
// 计数器存活到进程退出。调用方持有p.mu。
func (p *Pipeline) userCounters(username string) *counters {
	c, ok := p.users[username]
	if !ok {
		c = newCounters()
		p.users[username] = c
	}
	return c
}

// GlobalSnapshot 全局计数器快照
func (p *Pipeline) GlobalSnapshot() *CountersSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.global.snapshot("")
}

// UserSnapshot 某用户的计数器快照
func (p *Pipeline) UserSnapshot(username string) (*CountersSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.users[username]
	if !ok {
		return nil, false
	}
	return c.snapshot(username), true
}

// TrackedUsernames 已有计数器的用户名列表
func (p *Pipeline) TrackedUsernames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.users))
	for name := range p.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MessageCount 历史消息条数
func (p *Pipeline) MessageCount() int {
	return p.store.Len()
}

func containsAny(tokens []string, set map[string]bool) bool {
	for _, tok := range tokens {
		if set[tok] {
			return true
		}
	}
	return false
}

// insertSorted 将时间戳插入有序切片
func insertSorted(times []time.Time, t time.Time) []time.Time {
	idx := sort.Search(len(times), func(i int) bool {
		return times[i].After(t)
	})
	times = append(times, time.Time{})
	copy(times[idx+1:], times[idx:])
	times[idx] = t
	return times
}
