package engine

import (
	"log/slog"
	"sync"
)

type listener struct {
	id int
	fn func(ChangeEvent)
}

// listenerSet 显式观察者列表，按订阅顺序投递
type listenerSet struct {
	mu     sync.Mutex
	nextID int
	items  []listener
}

func (s *listenerSet) add(fn func(ChangeEvent)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.items = append(s.items, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.items {
				if l.id == id {
					s.items = append(s.items[:i:i], s.items[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *listenerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// deliver 每个监听器拿到独立的快照副本，panic 不影响其他监听器
func (s *listenerSet) deliver(evt ChangeEvent) {
	s.mu.Lock()
	items := make([]listener, len(s.items))
	copy(items, s.items)
	s.mu.Unlock()

	for _, l := range items {
		e := cloneEvent(evt)
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("事件监听器 panic", "reason", evt.Reason, "panic", r)
				}
			}()
			l.fn(e)
		}()
	}
}

func cloneEvent(evt ChangeEvent) ChangeEvent {
	out := evt
	out.Snapshot = evt.Snapshot.Clone()
	if evt.Completions != nil {
		out.Completions = append(evt.Completions[:0:0], evt.Completions...)
	}
	if evt.CompletionCounts != nil {
		out.CompletionCounts = make(map[string]int, len(evt.CompletionCounts))
		for k, v := range evt.CompletionCounts {
			out.CompletionCounts[k] = v
		}
	}
	if evt.LevelUps != nil {
		out.LevelUps = append(evt.LevelUps[:0:0], evt.LevelUps...)
	}
	return out
}
