package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel carries collection paths changed by any writer.
const DefaultChannel = "docstore:changes"

// ChangeFeed fans out collection change notifications. With a Redis client
// the notifications cross process boundaries; without one they stay local.
type ChangeFeed struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu        sync.Mutex
	listeners map[string]map[uint64]chan struct{}
	nextID    uint64
}

// NewChangeFeed constructs a feed. client may be nil.
func NewChangeFeed(client *redis.Client, channel string, logger *slog.Logger) *ChangeFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeFeed{
		client:    client,
		channel:   channel,
		logger:    logger,
		listeners: make(map[string]map[uint64]chan struct{}),
	}
}

// Start subscribes to the Redis channel and dispatches until ctx ends.
// It returns once the subscription is confirmed.
func (f *ChangeFeed) Start(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				f.dispatch(msg.Payload)
			}
		}
	}()
	return nil
}

// Publish announces that the collection at path changed.
func (f *ChangeFeed) Publish(ctx context.Context, paths ...string) error {
	if f.client == nil {
		for _, path := range paths {
			f.dispatch(path)
		}
		return nil
	}
	var errs []error
	for _, path := range paths {
		if err := f.client.Publish(ctx, f.channel, path).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Listen returns a channel signalled whenever path changes. Signals are
// coalesced: a listener that falls behind sees one pending signal.
func (f *ChangeFeed) Listen(path string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.listeners[path] == nil {
		f.listeners[path] = make(map[uint64]chan struct{})
	}
	f.listeners[path][id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.listeners[path], id)
			if len(f.listeners[path]) == 0 {
				delete(f.listeners, path)
			}
		})
	}
}

func (f *ChangeFeed) dispatch(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.listeners[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
