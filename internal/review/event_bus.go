package review

import (
	"sync"
	"time"
)

// EventBusConfig 控制事件总线行为
type EventBusConfig struct {
	BufferSize int
}

// EventBus 按请求 ID 订阅的本地事件总线
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	seq    uint64
	buffer int
}

// NewEventBus 创建事件总线
func NewEventBus(cfg *EventBusConfig) *EventBus {
	buffer := 1
	if cfg != nil && cfg.BufferSize > 0 {
		buffer = cfg.BufferSize
	}
	return &EventBus{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: buffer,
	}
}

// Publish 发布事件
func (b *EventBus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	// 持读锁期间投递：取消订阅方在写锁里 close 通道，
	// 锁外迭代会撞上并发删除和向已关闭通道发送
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[evt.RequestID] {
		select {
		case ch <- evt:
		default:
			// 如果接收方处理慢则丢弃，保持非阻塞
		}
	}
}

// Subscribe 订阅指定请求的事件
func (b *EventBus) Subscribe(requestID string) (<-chan Event, func()) {
	if b == nil {
		return nil, nil
	}
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.seq++
	id := b.seq
	if _, ok := b.subs[requestID]; !ok {
		b.subs[requestID] = make(map[uint64]chan Event)
	}
	b.subs[requestID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.removeListener(requestID, id)
	}
	return ch, cancel
}

func (b *EventBus) removeListener(requestID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if listeners, ok := b.subs[requestID]; ok {
		if ch, exists := listeners[id]; exists {
			delete(listeners, id)
			close(ch)
		}
		if len(listeners) == 0 {
			delete(b.subs, requestID)
		}
	}
}
