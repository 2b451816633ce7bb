package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNoReport means no agent report arrived since the previous collection
var ErrNoReport = errors.New("no report received since last collection")

// pushReport is the message a remote agent publishes
type pushReport struct {
	Metrics map[string]float64 `json:"metrics"`
}

// PushCollector receives metrics that remote agents publish on a NATS
// subject. Collect hands over the newest report received since the previous
// call, so a silent agent shows up as a failed collection.
type PushCollector struct {
	logger *zap.Logger
	sub    *nats.Subscription

	mu     sync.Mutex
	latest map[string]float64
}

func NewPushCollector(logger *zap.Logger, nc *nats.Conn, subject string) (*PushCollector, error) {
	if nc == nil {
		return nil, fmt.Errorf("push collector requires a NATS connection")
	}
	c := &PushCollector{logger: logger.With(zap.String("subject", subject))}

	sub, err := nc.Subscribe(subject, c.handleReport)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.sub = sub
	return c, nil
}

func (c *PushCollector) handleReport(msg *nats.Msg) {
	var report pushReport
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		c.logger.Error("Failed to unmarshal agent report", zap.Error(err))
		return
	}
	if len(report.Metrics) == 0 {
		c.logger.Warn("Agent report without metrics")
		return
	}

	c.mu.Lock()
	c.latest = report.Metrics
	c.mu.Unlock()
}

func (c *PushCollector) Collect(context.Context) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil, ErrNoReport
	}
	metrics := c.latest
	c.latest = nil
	return metrics, nil
}

func (c *PushCollector) Close() error {
	return c.sub.Unsubscribe()
}
