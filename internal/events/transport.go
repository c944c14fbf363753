package events

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Transport carries serialized events between contexts. Send is
// fire-and-forget; contexts not listening at send time miss the message.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	// Listen subscribes and returns once the subscription is active.
	Listen(ctx context.Context) (Inbox, error)
}

// Inbox is an active subscription.
type Inbox interface {
	Messages() <-chan []byte
	Close() error
}

// RedisTransport uses a Redis pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
}

// NewRedisTransport binds the transport to a channel name.
func NewRedisTransport(client *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{client: client, channel: channel}
}

func (t *RedisTransport) Send(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, t.channel, payload).Err()
}

func (t *RedisTransport) Listen(ctx context.Context) (Inbox, error) {
	sub := t.client.Subscribe(ctx, t.channel)
	// wait for the subscribe confirmation so no message sent afterwards is lost
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	in := &redisInbox{sub: sub, out: make(chan []byte, 16)}
	go func() {
		defer close(in.out)
		for msg := range sub.Channel() {
			in.out <- []byte(msg.Payload)
		}
	}()
	return in, nil
}

type redisInbox struct {
	sub *redis.PubSub
	out chan []byte
}

func (i *redisInbox) Messages() <-chan []byte { return i.out }

func (i *redisInbox) Close() error {
	err := i.sub.Close()
	// drain so the relay goroutine can observe the closed channel
	go func() {
		for range i.out {
		}
	}()
	return err
}

// MemoryBroker connects buses living in one process.
type MemoryBroker struct {
	mu      sync.RWMutex
	inboxes map[*memoryInbox]struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{inboxes: make(map[*memoryInbox]struct{})}
}

// Transport returns a transport attached to the broker.
func (b *MemoryBroker) Transport() Transport {
	return memoryTransport{broker: b}
}

type memoryTransport struct {
	broker *MemoryBroker
}

var errBrokerFull = errors.New("inbox full, message dropped")

func (t memoryTransport) Send(_ context.Context, payload []byte) error {
	t.broker.mu.RLock()
	defer t.broker.mu.RUnlock()

	var dropped bool
	for in := range t.broker.inboxes {
		select {
		case in.ch <- append([]byte(nil), payload...):
		default:
			dropped = true
		}
	}
	if dropped {
		return errBrokerFull
	}
	return nil
}

func (t memoryTransport) Listen(_ context.Context) (Inbox, error) {
	in := &memoryInbox{broker: t.broker, ch: make(chan []byte, 64)}
	t.broker.mu.Lock()
	t.broker.inboxes[in] = struct{}{}
	t.broker.mu.Unlock()
	return in, nil
}

type memoryInbox struct {
	broker *MemoryBroker
	ch     chan []byte
	once   sync.Once
}

func (i *memoryInbox) Messages() <-chan []byte { return i.ch }

func (i *memoryInbox) Close() error {
	i.once.Do(func() {
		i.broker.mu.Lock()
		delete(i.broker.inboxes, i)
		i.broker.mu.Unlock()
		close(i.ch)
	})
	return nil
}
