package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue memory-based queue implementation. A topic is consumed by a
// single goroutine, which preserves per-topic ordering.
type MemoryQueue struct {
	topics   map[string]*topic
	config   *MemoryQueueConfig
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	handlers map[string]MessageHandler
}

type topic struct {
	name     string
	messages chan []byte
}

// MemoryQueueConfig memory queue configuration
type MemoryQueueConfig struct {
	BufferSize int           `json:"buffer_size"`
	Timeout    time.Duration `json:"timeout"`
}

// NewMemoryQueue creates a new memory queue instance
func NewMemoryQueue(config *MemoryQueueConfig) (*MemoryQueue, error) {
	if config == nil {
		config = &MemoryQueueConfig{
			BufferSize: 1000,
			Timeout:    30 * time.Second,
		}
	}

	return &MemoryQueue{
		topics:   make(map[string]*topic),
		config:   config,
		done:     make(chan struct{}),
		handlers: make(map[string]MessageHandler),
	}, nil
}

func (mq *MemoryQueue) getOrCreateTopic(name string) *topic {
	t, exists := mq.topics[name]
	if !exists {
		t = &topic{
			name:     name,
			messages: make(chan []byte, mq.config.BufferSize),
		}
		mq.topics[name] = t
	}
	return t
}

// Publish publishes a message to the queue
func (mq *MemoryQueue) Publish(ctx context.Context, topicName string, message []byte) error {
	mq.mu.Lock()
	if mq.closed {
		mq.mu.Unlock()
		return ErrQueueClosed
	}
	t := mq.getOrCreateTopic(topicName)
	mq.mu.Unlock()

	select {
	case t.messages <- message:
		return nil
	case <-mq.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mq.config.Timeout):
		return ErrPublishTimeout
	}
}

// Subscribe subscribes to messages from the queue. The handler runs on a
// dedicated goroutine until ctx is cancelled; handler errors are skipped so
// one bad message cannot stall the topic.
func (mq *MemoryQueue) Subscribe(ctx context.Context, topicName string, handler MessageHandler) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return ErrQueueClosed
	}

	t := mq.getOrCreateTopic(topicName)
	mq.handlers[topicName] = handler

	go func() {
		for {
			select {
			case message := <-t.messages:
				if err := handler(ctx, topicName, message); err != nil {
					continue
				}
			case <-mq.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Close closes the queue connections
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil
	}
	mq.closed = true

	// Message channels are never closed; a Publish that raced past the
	// closed check must not hit a closed channel. Consumers and blocked
	// publishers exit through the done channel instead.
	close(mq.done)
	mq.topics = make(map[string]*topic)
	mq.handlers = make(map[string]MessageHandler)

	return nil
}

// Health checks the health of the queue
func (mq *MemoryQueue) Health() error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	if mq.closed {
		return ErrQueueClosed
	}
	return nil
}
