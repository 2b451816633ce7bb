package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

const (
	DefaultStream = "ALERTS"
	subjectPrefix = "alerts."
)

// NATSChannel publishes events to a JetStream stream on subject alerts.<action>
type NATSChannel struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	stream string
}

func NewNATSChannel(logger *zap.Logger, js nats.JetStreamContext, stream string) *NATSChannel {
	if stream == "" {
		stream = DefaultStream
	}
	return &NATSChannel{
		logger: logger.Named("nats"),
		js:     js,
		stream: stream,
	}
}

func (c *NATSChannel) Name() string { return "nats" }

// EnsureStream creates the alert stream if it does not exist yet
func (c *NATSChannel) EnsureStream() error {
	info, err := c.js.StreamInfo(c.stream)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if info != nil {
		return nil
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     c.stream,
		Subjects: []string{subjectPrefix + "*"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	c.logger.Info("Created alert stream", zap.String("stream", c.stream))
	return nil
}

// Subject returns the subject an action is published on
func (c *NATSChannel) Subject(action model.AlertAction) string {
	return subjectPrefix + string(action)
}

func (c *NATSChannel) Send(ctx context.Context, event model.AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(c.Subject(event.Action))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.AlertID+":"+string(event.Action)+":"+event.Timestamp.UTC().Format("20060102T150405.000000000"))

	if _, err := c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
