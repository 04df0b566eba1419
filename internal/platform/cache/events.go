package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultBedChannel is the Redis channel bed events are published on.
const DefaultBedChannel = "inaya:beds"

// Bed event types.
const (
	BedOccupied      = "bed.occupied"
	BedReleased      = "bed.released"
	BedCleaned       = "bed.cleaned"
	BedStatusChanged = "bed.status_changed"
)

// BedEvent reports a change of a bed's occupancy or status. A released bed
// with NeedsCleaning set is waiting for housekeeping.
type BedEvent struct {
	Type          string     `json:"type"`
	BedID         uuid.UUID  `json:"bed_id"`
	RoomID        uuid.UUID  `json:"room_id"`
	ServiceID     uuid.UUID  `json:"service_id"`
	AdmissionID   *uuid.UUID `json:"admission_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	NeedsCleaning bool       `json:"needs_cleaning,omitempty"`
	At            time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev BedEvent) error
}

// RedisPublisher publishes bed events as JSON on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultBedChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev BedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal bed event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish bed event: %w", err)
	}
	return nil
}

// Subscribe delivers the events published on the channel until ctx is
// cancelled. Undecodable payloads are logged and skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, logger zerolog.Logger) (<-chan BedEvent, error) {
	pubsub := p.client.Subscribe(ctx, p.channel)
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.channel, err)
	}

	out := make(chan BedEvent, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev BedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn().Err(err).Str("channel", p.channel).Msg("skipping malformed bed event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Publishers fans one event out to several publishers and joins their errors.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, ev BedEvent) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BedEvent) error { return nil }
