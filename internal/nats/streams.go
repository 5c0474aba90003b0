package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/qtest-engine/internal/reporting"
)

// StreamEvents keeps lifecycle events of recent runs
const StreamEvents = "QTEST_EVENTS"

const (
	// SubjectEventsPrefix is followed by the event kind
	SubjectEventsPrefix = "qtest.events."

	// SubjectEventsAll matches every event subject
	SubjectEventsAll = SubjectEventsPrefix + ">"
)

// DefaultStreamConfig returns the configuration of the events stream
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:        StreamEvents,
		Subjects:    []string{SubjectEventsAll},
		MaxMsgs:     100000,
		MaxBytes:    1024 * 1024 * 100,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
		Description: "QTest engine run events",
	}
}

// SetupStreams creates the events stream
func (c *Client) SetupStreams(ctx context.Context) error {
	if c.JetStream() == nil {
		return ErrNotConnected
	}
	_, err := c.CreateStream(ctx, DefaultStreamConfig())
	return err
}

// SubjectForEvent returns the subject an event kind is published on, e.g. qtest.events.test.ended
func SubjectForEvent(kind reporting.EventKind) string {
	k := strings.TrimSpace(string(kind))
	if k == "" {
		k = "unknown"
	}
	return SubjectEventsPrefix + k
}

// decodeEvent parses a published event, taking the kind from the subject when the payload lacks it
func decodeEvent(subject string, data []byte) (reporting.Event, error) {
	var ev reporting.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode event on %s: %w", subject, err)
	}
	if ev.Kind == "" {
		ev.Kind = reporting.EventKind(strings.TrimPrefix(subject, SubjectEventsPrefix))
	}
	return ev, nil
}

// WatchEvents delivers events of runID (every run when empty) until ctx is done
func (c *Client) WatchEvents(ctx context.Context, runID string, fn func(reporting.Event)) error {
	js := c.JetStream()
	if js == nil {
		return ErrNotConnected
	}

	consumer, err := js.OrderedConsumer(ctx, StreamEvents, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectEventsAll},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create event consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ev, err := decodeEvent(msg.Subject(), msg.Data())
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed event")
			return
		}
		if runID != "" && ev.RunID != runID {
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to consume events: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}
