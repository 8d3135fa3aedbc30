package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "iuran:feed:"

type envelope[T any] struct {
	Origin string   `json:"origin"`
	Event  Event[T] `json:"event"`
}

// Bridge mirrors a Hub across processes over Redis pub/sub. Local writes are
// published to the hub directly and forwarded; messages that originated in
// this process are skipped on receipt. Payloads are snappy-compressed JSON.
type Bridge[T any] struct {
	client  *redis.Client
	hub     *Hub[T]
	channel string
	origin  string
	log     *zap.Logger
}

func NewBridge[T any](client *redis.Client, hub *Hub[T], collection string, log *zap.Logger) *Bridge[T] {
	if client == nil || hub == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge[T]{
		client:  client,
		hub:     hub,
		channel: channelPrefix + collection,
		origin:  uuid.NewString(),
		log:     log.Named("feed.bridge").With(zap.String("collection", collection)),
	}
}

// Forward sends a locally committed event to peers.
func (b *Bridge[T]) Forward(ctx context.Context, ev Event[T]) error {
	if b == nil {
		return nil
	}
	payload, err := b.encode(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run consumes peer events until ctx is done.
func (b *Bridge[T]) Run(ctx context.Context) error {
	if b == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := b.deliver([]byte(msg.Payload)); err != nil {
				b.log.Warn("dropping malformed feed message", zap.Error(err))
			}
		}
	}
}

func (b *Bridge[T]) encode(ev Event[T]) ([]byte, error) {
	payload, err := json.Marshal(envelope[T]{Origin: b.origin, Event: ev})
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, payload), nil
}

func (b *Bridge[T]) deliver(compressed []byte) error {
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	var env envelope[T]
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	if env.Origin == b.origin {
		return nil
	}
	b.hub.Publish(env.Event)
	return nil
}
