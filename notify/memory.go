package notify

import (
	"context"
	"sync"
)

// Publisher emits change events, for deployments without database triggers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// MemoryBus fans events out to in-process sources. Each source stands in for
// one process listening on the same channel.
type MemoryBus struct {
	mu      sync.Mutex
	sources []*MemorySource
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Subscribe returns a new source receiving every later publish.
func (b *MemoryBus) Subscribe(buffer int) *MemorySource {
	src := &MemorySource{
		ch:   make(chan Notification, buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.sources = append(b.sources, src)
	b.mu.Unlock()
	return src
}

// Publish delivers ev to every open source, blocking while a buffer is full.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return b.broadcast(ctx, Notification{Payload: payload})
}

// Resync tells every source the stream may have gaps, as a reconnect would.
func (b *MemoryBus) Resync(ctx context.Context) error {
	return b.broadcast(ctx, Notification{Resync: true})
}

func (b *MemoryBus) broadcast(ctx context.Context, n Notification) error {
	b.mu.Lock()
	sources := append([]*MemorySource(nil), b.sources...)
	b.mu.Unlock()

	for _, src := range sources {
		if err := src.deliver(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// MemorySource is an in-process Source.
type MemorySource struct {
	mu     sync.Mutex
	ch     chan Notification
	done   chan struct{}
	once   sync.Once
	closed bool
}

func (s *MemorySource) Notifications() <-chan Notification { return s.ch }

func (s *MemorySource) deliver(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- n:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery and closes the notification channel.
func (s *MemorySource) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
