package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

var ErrUnknownChannel = errors.New("unknown notification channel")

// Dispatcher receives committed alert lifecycle events
type Dispatcher interface {
	Dispatch(ctx context.Context, event model.AlertEvent) error
}

// Channel delivers an event over one transport
type Channel interface {
	Name() string
	Send(ctx context.Context, event model.AlertEvent) error
}

// DispatchError reports a delivery failure on one channel
type DispatchError struct {
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Router fans events out to the channels named by the rule, or to the
// default channels when the rule names none.
type Router struct {
	logger   *zap.Logger
	channels map[string]Channel
	defaults []string
}

// NewRouter creates a router over the given channels
func NewRouter(logger *zap.Logger, defaults []string, channels ...Channel) *Router {
	r := &Router{
		logger:   logger.Named("notify"),
		channels: make(map[string]Channel, len(channels)),
		defaults: defaults,
	}
	for _, ch := range channels {
		r.channels[ch.Name()] = ch
	}
	return r
}

// Channels returns the registered channel names in sorted order
func (r *Router) Channels() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch sends the event to every target channel concurrently and joins
// the failures. A failing channel does not prevent delivery on the others.
func (r *Router) Dispatch(ctx context.Context, event model.AlertEvent) error {
	targets := event.Channels
	if len(targets) == 0 {
		targets = r.defaults
	}
	if len(targets) == 0 {
		r.logger.Debug("No channels for event",
			zap.String("alert_id", event.AlertID),
			zap.String("action", string(event.Action)))
		return nil
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, name := range targets {
		ch, ok := r.channels[name]
		if !ok {
			errs[i] = &DispatchError{Channel: name, Err: ErrUnknownChannel}
			continue
		}
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, event); err != nil {
				errs[i] = &DispatchError{Channel: ch.Name(), Err: err}
			}
		}(i, ch)
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Warn("Notification delivery failed",
			zap.String("alert_id", event.AlertID),
			zap.String("action", string(event.Action)),
			zap.Error(err))
	}
	return err
}

// Subject returns a one-line summary of the event
func Subject(event model.AlertEvent) string {
	name := event.RuleName
	if name == "" {
		name = event.RuleID
	}
	return fmt.Sprintf("[%s] %s %s on %s",
		strings.ToUpper(string(event.Severity)), name, event.Action, event.ResourceID)
}

// FormatMessage renders the human-readable text of an event
func FormatMessage(event model.AlertEvent) string {
	var b strings.Builder
	b.WriteString(Subject(event))
	if event.Message != "" {
		b.WriteString(": ")
		b.WriteString(event.Message)
	}
	if event.Actor != "" {
		fmt.Fprintf(&b, " (by %s)", event.Actor)
	}
	return b.String()
}
