package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the hub
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Log        LogConfig         `mapstructure:"log"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Engine     EngineConfig      `mapstructure:"engine"`
	Alerting   AlertingConfig    `mapstructure:"alerting"`
	Rules      RulesConfig       `mapstructure:"rules"`
	Notify     NotifyConfig      `mapstructure:"notify"`
	NATS       NATSConfig        `mapstructure:"nats"`
	Admin      AdminConfig       `mapstructure:"admin"`
	Collectors []CollectorConfig `mapstructure:"collectors"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type SchedulerConfig struct {
	PoolSize    int `mapstructure:"pool_size"`
	QueueSize   int `mapstructure:"queue_size"`
	HistorySize int `mapstructure:"history_size"`
}

// EngineConfig controls the evaluation cycle and the retention jobs
type EngineConfig struct {
	EvaluationInterval time.Duration `mapstructure:"evaluation_interval"`
	MetricRetention    time.Duration `mapstructure:"metric_retention"`
	AlertRetention     time.Duration `mapstructure:"alert_retention"`
	ExecutionRetention time.Duration `mapstructure:"execution_retention"`
	PruneSchedule      string        `mapstructure:"prune_schedule"`
}

type AlertingConfig struct {
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
}

type RulesConfig struct {
	File string `mapstructure:"file"`
}

// NotifyConfig configures the notification channels. A channel is only
// built when it is enabled.
type NotifyConfig struct {
	DefaultChannels []string      `mapstructure:"default_channels"`
	Log             LogChannel    `mapstructure:"log"`
	Webhook         WebhookConfig `mapstructure:"webhook"`
	Email           EmailConfig   `mapstructure:"email"`
	NATS            NATSChannel   `mapstructure:"nats"`
}

type LogChannel struct {
	Enabled bool `mapstructure:"enabled"`
}

type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type NATSChannel struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries uint64        `mapstructure:"connect_retries"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// CollectorConfig declares one collector. Type selects the implementation;
// the remaining fields are read only by the types that need them.
type CollectorConfig struct {
	ID         string        `mapstructure:"id"`
	Name       string        `mapstructure:"name"`
	Type       string        `mapstructure:"type"`
	Category   string        `mapstructure:"category"`
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Disabled   bool          `mapstructure:"disabled"`

	// disk
	Mountpoints []string `mapstructure:"mountpoints"`

	// docker
	Host string `mapstructure:"host"`

	// database
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Query  string `mapstructure:"query"`

	// http
	URL          string `mapstructure:"url"`
	Method       string `mapstructure:"method"`
	ExpectStatus int    `mapstructure:"expect_status"`

	// command
	Command    string            `mapstructure:"command"`
	Args       []string          `mapstructure:"args"`
	Env        map[string]string `mapstructure:"env"`
	WorkingDir string            `mapstructure:"working_dir"`

	// push
	Subject string `mapstructure:"subject"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "unity")
	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.path", "unity.db")
	v.SetDefault("scheduler.pool_size", 8)
	v.SetDefault("scheduler.queue_size", 64)
	v.SetDefault("scheduler.history_size", 50)
	v.SetDefault("engine.evaluation_interval", time.Minute)
	v.SetDefault("engine.metric_retention", 7*24*time.Hour)
	v.SetDefault("engine.alert_retention", 30*24*time.Hour)
	v.SetDefault("engine.execution_retention", 7*24*time.Hour)
	v.SetDefault("engine.prune_schedule", "@hourly")
	v.SetDefault("alerting.dispatch_timeout", 10*time.Second)
	v.SetDefault("rules.file", "./config/rules.yaml")
	v.SetDefault("notify.default_channels", []string{"log"})
	v.SetDefault("notify.log.enabled", true)
	v.SetDefault("notify.webhook.timeout", 10*time.Second)
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.nats.stream", "ALERTS")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.addr", ":9110")
}

// Load reads configuration from path, or from ./config/config.yaml when path
// is empty. UNITY_ prefixed environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("unity")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints viper cannot express
func (c *Config) Validate() error {
	if c.Engine.EvaluationInterval <= 0 {
		return fmt.Errorf("engine.evaluation_interval must be positive")
	}
	if c.Scheduler.PoolSize <= 0 {
		return fmt.Errorf("scheduler.pool_size must be positive")
	}

	seen := make(map[string]struct{}, len(c.Collectors))
	for i, cc := range c.Collectors {
		if cc.ID == "" {
			return fmt.Errorf("collectors[%d]: id is required", i)
		}
		if _, dup := seen[cc.ID]; dup {
			return fmt.Errorf("collectors[%d]: duplicate id %q", i, cc.ID)
		}
		seen[cc.ID] = struct{}{}
		if cc.Interval <= 0 {
			return fmt.Errorf("collector %s: interval must be positive", cc.ID)
		}
		if cc.Timeout < 0 || cc.StaleAfter < 0 {
			return fmt.Errorf("collector %s: timeout and stale_after must not be negative", cc.ID)
		}
	}
	return nil
}
