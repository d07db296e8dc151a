package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Envelope is the wire frame on the fanout topic: the event type plus its
// JSON payload. The same frame is reused on the websocket so an envelope
// received from the bus can be pushed to clients without re-encoding.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: data}, nil
}

// Bus is the single shared topic that replicates chat events across
// instances. Every instance publishes to it and every instance's subscriber
// receives every event, its own included.
type Bus interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Handler receives every envelope seen on the topic, in subscription order
// for a single publisher.
type Handler func(envelope Envelope)

type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, eventType string, payload interface{}) error {
	envelope, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe opens the long-lived subscription and feeds every received
// envelope to handler from a background goroutine. It confirms the
// subscription before returning so no event published afterwards is missed.
// The goroutine exits when ctx is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	messages := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var envelope Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					log.Printf("Dropping malformed bus message: %v", err)
					continue
				}
				handler(envelope)
			}
		}
	}()
	return nil
}
