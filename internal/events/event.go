// Package events carries completion notifications for office commands.
//
// Every successful mutation produces exactly one Event. Callers correlate on
// (Type, Identifier) and block on a Recorder when they need to observe
// completion.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"officehub/pkg/requestcontext"
)

// Event is the wire form of a completion notification.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Tenant     string    `json:"tenant"`
	Identifier string    `json:"identifier"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New builds an event for the tenant and request time carried by ctx.
func New(ctx context.Context, eventType, identifier string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Tenant:     requestcontext.Tenant(ctx),
		Identifier: identifier,
		OccurredAt: requestcontext.Now(ctx),
	}
}

// Key is the partition and correlation key used by broker transports.
func (e Event) Key() string {
	return e.Tenant + "/" + e.Identifier
}

// Emitter accepts events produced by the office service.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Publisher moves encoded events onto an external transport.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Listener handles one delivered event.
type Listener func(ctx context.Context, event Event) error

func Marshal(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

func Unmarshal(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if e.Type == "" || e.Identifier == "" {
		return Event{}, fmt.Errorf("unmarshal event: type and identifier are required")
	}
	return e, nil
}

// PublishingEmitter encodes events and hands them to a Publisher directly,
// outside any database transaction.
type PublishingEmitter struct {
	publisher Publisher
}

func NewPublishingEmitter(p Publisher) *PublishingEmitter {
	return &PublishingEmitter{publisher: p}
}

func (e *PublishingEmitter) Emit(ctx context.Context, event Event) error {
	payload, err := Marshal(event)
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx, event.Key(), payload)
}

// Forward decodes transport payloads and re-emits them into target, typically
// the local Bus.
func Forward(target Emitter) func(ctx context.Context, key, payload []byte) error {
	return func(ctx context.Context, _, payload []byte) error {
		event, err := Unmarshal(payload)
		if err != nil {
			return err
		}
		return target.Emit(ctx, event)
	}
}

// LocalPublisher is a Publisher that decodes payloads straight back into an
// Emitter. The outbox worker uses it when events never leave the process.
type LocalPublisher struct {
	forward func(ctx context.Context, key, payload []byte) error
}

func NewLocalPublisher(target Emitter) *LocalPublisher {
	return &LocalPublisher{forward: Forward(target)}
}

func (p *LocalPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.forward(ctx, []byte(key), payload)
}
