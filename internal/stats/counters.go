package stats

import (
	"time"
)

// WordLists 配置的词表。Fill为填充词，触发词按情感三分。
// 匹配区分大小写。
type WordLists struct {
	Fill     map[string]bool
	Positive map[string]bool
	Neutral  map[string]bool
	Negative map[string]bool
}

// NewWordLists 从配置的词条切片构建词表
func NewWordLists(fill, positive, neutral, negative []string) *WordLists {
	return &WordLists{
		Fill:     toSet(fill),
		Positive: toSet(positive),
		Neutral:  toSet(neutral),
		Negative: toSet(negative),
	}
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// containsAnyTrigger 任一触发词表命中即为真
func (wl *WordLists) containsAnyTrigger(token string) bool {
	return wl.Positive[token] || wl.Neutral[token] || wl.Negative[token]
}

// counters 一个统计作用域的计数器集合。
// 按用户一份，另有全局单例；只由统计工作协程写入。
type counters struct {
	fillWordCounts map[string]int
	positiveCounts map[string]int
	neutralCounts  map[string]int
	negativeCounts map[string]int
	mentionCounts  map[string]int
	sentCount      int
	receivedCount  int
	// 按对端用户的应答延迟样本，方向为 本用户←对端
	replyLatency map[string][]time.Duration
}

func newCounters() *counters {
	return &counters{
		fillWordCounts: make(map[string]int),
		positiveCounts: make(map[string]int),
		neutralCounts:  make(map[string]int),
		negativeCounts: make(map[string]int),
		mentionCounts:  make(map[string]int),
		replyLatency:   make(map[string][]time.Duration),
	}
}

// CountersSnapshot 计数器的深拷贝快照，供报表读取
type CountersSnapshot struct {
	Username        string                     `json:"username,omitempty"`
	FillWordCounts  map[string]int             `json:"fill_word_counts"`
	PositiveCounts  map[string]int             `json:"positive_counts"`
	NeutralCounts   map[string]int             `json:"neutral_counts"`
	NegativeCounts  map[string]int             `json:"negative_counts"`
	MentionCounts   map[string]int             `json:"mention_counts"`
	SentCount       int                        `json:"sent_count"`
	ReceivedCount   int                        `json:"received_count"`
	ReplyLatency    map[string][]time.Duration `json:"reply_latency_samples,omitempty"`
	AvgReplyLatency map[string]time.Duration   `json:"avg_reply_latency"`
}

func (c *counters) snapshot(username string) *CountersSnapshot {
	snap := &CountersSnapshot{
		Username:        username,
		FillWordCounts:  copyCounts(c.fillWordCounts),
		PositiveCounts:  copyCounts(c.positiveCounts),
		NeutralCounts:   copyCounts(c.neutralCounts),
		NegativeCounts:  copyCounts(c.negativeCounts),
		MentionCounts:   copyCounts(c.mentionCounts),
		SentCount:       c.sentCount,
		ReceivedCount:   c.receivedCount,
		ReplyLatency:    make(map[string][]time.Duration, len(c.replyLatency)),
		AvgReplyLatency: make(map[string]time.Duration, len(c.replyLatency)),
	}
	for peer, samples := range c.replyLatency {
		cp := make([]time.Duration, len(samples))
		copy(cp, samples)
		snap.ReplyLatency[peer] = cp

		var total time.Duration
		for _, d := range samples {
			total += d
		}
		if len(samples) > 0 {
			snap.AvgReplyLatency[peer] = total / time.Duration(len(samples))
		}
	}
	return snap
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
