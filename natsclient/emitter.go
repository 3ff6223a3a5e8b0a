package natsclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/BIGmindz/chainbridge/errors"
	"github.com/BIGmindz/chainbridge/event"
)

// Emitter publishes canonical events to the dashboard JetStream stream. The
// event id travels as the Nats-Msg-Id header, so redelivered publishes
// collapse server-side: consoles see each event at most once per dedup
// window.
type Emitter struct {
	client  *Client
	stream  string
	subject string
}

// DefaultStreamConfig is the dashboard stream the emitter publishes into.
func DefaultStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      "CHAINBRIDGE_EVENTS",
		Subjects:  []string{"chainbridge.events.>"},
		Retention: jetstream.LimitsPolicy,
		MaxMsgs:   1_000_000,
	}
}

// NewEmitter creates the emitter and ensures its stream exists.
func NewEmitter(ctx context.Context, client *Client) (*Emitter, error) {
	cfg := DefaultStreamConfig()
	if _, err := client.EnsureStream(ctx, cfg); err != nil {
		return nil, err
	}
	return &Emitter{
		client:  client,
		stream:  cfg.Name,
		subject: "chainbridge.events",
	}, nil
}

// Emit publishes one event. The subject encodes the event type so consoles
// can filter by subscription.
func (e *Emitter) Emit(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil event"), "Emitter", "Emit", "validate event")
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return errors.WrapInvalid(err, "Emitter", "Emit", "marshal event")
	}

	msg := &nats.Msg{
		Subject: e.Subject(evt.Type),
		Data:    data,
		Header: nats.Header{
			"Nats-Msg-Id": []string{evt.EventID},
		},
	}
	return e.client.PublishMsg(ctx, msg)
}

// Subject returns the publish subject for an event type, for example
// chainbridge.events.iot_geofence_enter.
func (e *Emitter) Subject(eventType event.Type) string {
	return e.subject + "." + strings.ToLower(string(eventType))
}
