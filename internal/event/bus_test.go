package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBusFanout 每个订阅者都收到发布的事件
func TestBusFanout(t *testing.T) {
	b := NewBus()
	defer b.Close()

	id1, ch1 := b.Subscribe(4)
	defer b.Unsubscribe(id1)
	id2, ch2 := b.Subscribe(4)
	defer b.Unsubscribe(id2)

	b.PublishStatus([]string{"alice"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeStatusUpdate, e.Type)
			assert.Equal(t, []string{"alice"}, e.Users)
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

// TestBusSlowSubscriberDrops 缓冲满的订阅者丢事件，发布方不阻塞
func TestBusSlowSubscriberDrops(t *testing.T) {
	b := NewBus()
	defer b.Close()

	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.PublishCounters("alice")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	// 只有缓冲里的那一条留下
	e := <-ch
	assert.Equal(t, TypeCountersUpdated, e.Type)
	assert.Equal(t, "alice", e.Scope)
}

// TestBusUnsubscribeClosesChannel 退订后通道关闭
func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	id, ch := b.Subscribe(1)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	// 重复退订无害
	b.Unsubscribe(id)
}

// TestBusCloseIsIdempotent 总线关闭后发布为空操作
func TestBusCloseIsIdempotent(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe(1)

	b.Close()
	b.Close()
	b.PublishUserList([]string{"alice"})

	_, ok := <-ch
	require.False(t, ok)
}
