package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/config"
	"github.com/mylaniakea/unity/internal/model"
)

// ErrUnknownType is returned by the factory for collector types it cannot build
var ErrUnknownType = errors.New("unknown collector type")

// Collector produces named metric values for one source
type Collector interface {
	Collect(ctx context.Context) (map[string]float64, error)
}

// Func adapts a plain function to the Collector interface
type Func func(ctx context.Context) (map[string]float64, error)

// Collect implements Collector
func (f Func) Collect(ctx context.Context) (map[string]float64, error) {
	return f(ctx)
}

// Factory builds the bundled collectors from configuration
type Factory struct {
	logger *zap.Logger
	nc     *nats.Conn
}

// NewFactory creates a collector factory. nc may be nil when no push
// collectors are configured.
func NewFactory(logger *zap.Logger, nc *nats.Conn) *Factory {
	return &Factory{logger: logger.Named("collector-factory"), nc: nc}
}

// PushSubject is the subject a push collector listens on unless configured
func PushSubject(id string) string {
	return "metrics." + id
}

// Build creates the collector declared by cfg
func (f *Factory) Build(cfg config.CollectorConfig) (Collector, error) {
	switch strings.ToLower(cfg.Type) {
	case "system":
		return NewSystemCollector(), nil
	case "disk":
		return NewDiskCollector(cfg.Mountpoints)
	case "docker":
		return NewDockerCollector(cfg.Host)
	case "database":
		return OpenDatabaseCollector(cfg.Driver, cfg.DSN, cfg.Query)
	case "http":
		return NewHTTPCollector(cfg.URL, cfg.Method, cfg.ExpectStatus, cfg.Timeout)
	case "command":
		return NewCommandCollector(cfg.Command, cfg.Args, cfg.Env, cfg.WorkingDir)
	case "push":
		subject := cfg.Subject
		if subject == "" {
			subject = PushSubject(cfg.ID)
		}
		return NewPushCollector(f.logger.Named(cfg.ID), f.nc, subject)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

// Descriptor converts the scheduling part of cfg into a descriptor
func Descriptor(cfg config.CollectorConfig) model.CollectorDescriptor {
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	category := cfg.Category
	if category == "" {
		category = strings.ToLower(cfg.Type)
	}
	return model.CollectorDescriptor{
		ID:         cfg.ID,
		Name:       name,
		Category:   category,
		Interval:   cfg.Interval,
		Timeout:    cfg.Timeout,
		StaleAfter: cfg.StaleAfter,
		Enabled:    !cfg.Disabled,
	}
}

// Close releases resources held by c when it owns any
func Close(c Collector) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
