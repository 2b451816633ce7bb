package notify

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/config"
)

// NewRouterFromConfig builds a router with every enabled channel. js may be
// nil when the NATS channel is disabled.
func NewRouterFromConfig(logger *zap.Logger, cfg config.NotifyConfig, js nats.JetStreamContext) (*Router, error) {
	var channels []Channel

	if cfg.Log.Enabled {
		channels = append(channels, NewLogChannel(logger))
	}
	if cfg.Webhook.Enabled {
		if cfg.Webhook.URL == "" {
			return nil, fmt.Errorf("webhook channel enabled without url")
		}
		channels = append(channels, NewWebhookChannel(logger, cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Webhook.Timeout))
	}
	if cfg.Email.Enabled {
		if cfg.Email.Host == "" || len(cfg.Email.To) == 0 {
			return nil, fmt.Errorf("email channel requires host and recipients")
		}
		channels = append(channels, NewEmailChannel(logger,
			cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From, cfg.Email.To))
	}
	if cfg.NATS.Enabled {
		if js == nil {
			return nil, fmt.Errorf("nats channel enabled without a jetstream connection")
		}
		ch := NewNATSChannel(logger, js, cfg.NATS.Stream)
		if err := ch.EnsureStream(); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	router := NewRouter(logger, cfg.DefaultChannels, channels...)
	for _, name := range cfg.DefaultChannels {
		if _, ok := router.channels[name]; !ok {
			return nil, fmt.Errorf("default channel %q is not enabled: %w", name, ErrUnknownChannel)
		}
	}
	return router, nil
}
