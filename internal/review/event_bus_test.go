package review

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus(&EventBusConfig{BufferSize: 4})

	events, cancel := bus.Subscribe("req-1")
	defer cancel()

	bus.Publish(Event{Kind: EventStatusChanged, RequestID: "req-1", ToStatus: StatusApproved})
	bus.Publish(Event{Kind: EventStatusChanged, RequestID: "req-other", ToStatus: StatusRejected})

	select {
	case evt := <-events:
		require.Equal(t, "req-1", evt.RequestID)
		require.Equal(t, StatusApproved, evt.ToStatus)
		require.False(t, evt.OccurredAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("未收到事件")
	}

	// 其他请求的事件不会串台
	select {
	case evt := <-events:
		t.Fatalf("收到了不该收到的事件: %+v", evt)
	default:
	}
}

func TestEventBusCancelClosesChannel(t *testing.T) {
	bus := NewEventBus(nil)

	events, cancel := bus.Subscribe("req-1")
	cancel()

	_, ok := <-events
	require.False(t, ok)

	// 取消后发布不应 panic
	bus.Publish(Event{Kind: EventStatusChanged, RequestID: "req-1"})
}

// 发布跑在状态迁移的同步路径上，订阅方（SSE 断连）随时取消。
// 用 -race 跑这个用例可以暴露锁外迭代监听表的竞争
func TestEventBusConcurrentPublishAndCancel(t *testing.T) {
	bus := NewEventBus(&EventBusConfig{BufferSize: 1})

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				bus.Publish(Event{Kind: EventStatusChanged, RequestID: "req-1", ToStatus: StatusInReview})
			}
		}
	}()

	for i := 0; i < 500; i++ {
		events, cancel := bus.Subscribe("req-1")
		select {
		case <-events:
		default:
		}
		cancel()
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("发布方未在限期内退出")
	}
}

func TestEventBusDropsWhenSubscriberSlow(t *testing.T) {
	bus := NewEventBus(&EventBusConfig{BufferSize: 1})

	events, cancel := bus.Subscribe("req-1")
	defer cancel()

	// 缓冲满后丢弃，发布方不会阻塞
	bus.Publish(Event{Kind: EventStatusChanged, RequestID: "req-1", ToStatus: StatusInReview})
	bus.Publish(Event{Kind: EventStatusChanged, RequestID: "req-1", ToStatus: StatusApproved})

	evt := <-events
	require.Equal(t, StatusInReview, evt.ToStatus)

	select {
	case evt := <-events:
		t.Fatalf("第二条事件应被丢弃: %+v", evt)
	default:
	}
}
