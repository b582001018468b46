package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// 事件类型
const (
	TypeState     = "state"      // 引擎状态变更，Data 为 engine.ChangeEvent
	TypeSaved     = "saved"      // 存档写入
	TypeImported  = "imported"   // 导入完成
	TypeImportErr = "import_err" // 导入被拒绝
)

type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

const defaultBuffer = 16

// Hub 进程内事件扇出。Publish 从不阻塞：订阅者缓冲满时该事件对它丢弃。
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish 投递给所有订阅者，返回成功投递的数量
func (h *Hub) Publish(evt Event) int {
	if h == nil {
		return 0
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subs {
		select {
		case ch <- evt:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribe 订阅直到 ctx 取消，取消后通道被关闭
func (h *Hub) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	context.AfterFunc(ctx, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	})
	return ch
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 因订阅者缓冲已满而丢弃的事件累计数
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}
