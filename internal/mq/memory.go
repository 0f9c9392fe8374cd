package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrBufferFull is returned by MemoryBackend.Publish when the channel buffer
// has no room. The message is dropped.
var ErrBufferFull = errors.New("memory broker buffer full")

// MemoryBackend is an in-process broker. Messages published before anyone
// subscribes are buffered per channel.
type MemoryBackend struct {
	mu       sync.Mutex
	queues   map[string]chan Message
	seq      int
	closed   bool
	capacity int
}

const defaultMemoryCapacity = 1024

func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithCapacity(defaultMemoryCapacity)
}

// NewMemoryBackendWithCapacity buffers up to capacity messages per channel.
func NewMemoryBackendWithCapacity(capacity int) *MemoryBackend {
	if capacity < 1 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryBackend{
		queues:   make(map[string]chan Message),
		capacity: capacity,
	}
}

func (b *MemoryBackend) queue(channel string) (chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("memory broker closed")
	}
	q, ok := b.queues[channel]
	if !ok {
		q = make(chan Message, b.capacity)
		b.queues[channel] = q
	}
	return q, nil
}

// Publish enqueues a message without blocking.
func (b *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if channel == "" {
		return "", errors.New("memory channel is required")
	}
	q, err := b.queue(channel)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.seq++
	id := strconv.Itoa(b.seq)
	b.mu.Unlock()

	msg := Message{ID: id, Data: append([]byte(nil), data...), Attributes: attrs}
	select {
	case q <- msg:
		return id, nil
	default:
		return "", fmt.Errorf("%w: channel %s", ErrBufferFull, channel)
	}
}

// Subscribe delivers messages until ctx is done. Messages whose handler
// fails are requeued.
func (b *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if channel == "" {
		return errors.New("memory channel is required")
	}
	q, err := b.queue(channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q:
			if err := handler(ctx, msg); err != nil {
				select {
				case q <- msg:
				default:
				}
			}
		}
	}
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
