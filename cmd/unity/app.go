package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/alerting"
	"github.com/mylaniakea/unity/internal/collector"
	"github.com/mylaniakea/unity/internal/config"
	"github.com/mylaniakea/unity/internal/engine"
	"github.com/mylaniakea/unity/internal/evaluator"
	"github.com/mylaniakea/unity/internal/notify"
	"github.com/mylaniakea/unity/internal/rules"
	"github.com/mylaniakea/unity/internal/scheduler"
	"github.com/mylaniakea/unity/internal/storage"
	"github.com/mylaniakea/unity/internal/telemetry"
)

// app holds the wired components of the hub
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *telemetry.Metrics

	db         *sql.DB
	nc         *nats.Conn
	samples    *storage.SQLiteMetricStore
	executions *storage.SQLiteExecutionStore

	scheduler  *scheduler.Scheduler
	alerts     *alerting.Manager
	router     *notify.Router
	engine     *engine.Engine
	collectors []collector.Collector
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(),
	}
	if err := a.init(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	var err error
	a.db, err = storage.Open(a.cfg.Storage.Path)
	if err != nil {
		return err
	}

	a.samples, err = storage.NewSQLiteMetricStore(a.logger, a.db)
	if err != nil {
		return err
	}
	alertStore, err := storage.NewSQLiteAlertStore(a.logger, a.db)
	if err != nil {
		return err
	}
	a.executions, err = storage.NewSQLiteExecutionStore(a.logger, a.db)
	if err != nil {
		return err
	}

	if needsNATS(a.cfg) {
		a.nc, err = connectNATS(a.logger, a.cfg)
		if err != nil {
			return err
		}
	}

	var js nats.JetStreamContext
	if a.cfg.Notify.NATS.Enabled {
		js, err = a.nc.JetStream()
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	a.router, err = notify.NewRouterFromConfig(a.logger, a.cfg.Notify, js)
	if err != nil {
		return err
	}

	a.alerts = alerting.NewManager(a.logger, alertStore, a.router,
		alerting.WithDispatchTimeout(a.cfg.Alerting.DispatchTimeout),
		alerting.WithMetrics(a.metrics))

	a.scheduler = scheduler.New(a.logger, a.samples, scheduler.Config{
		PoolSize:    a.cfg.Scheduler.PoolSize,
		QueueSize:   a.cfg.Scheduler.QueueSize,
		HistorySize: a.cfg.Scheduler.HistorySize,
	}, scheduler.WithExecutionRecorder(a.executions), scheduler.WithMetrics(a.metrics))

	factory := collector.NewFactory(a.logger, a.nc)
	for _, cc := range a.cfg.Collectors {
		c, err := factory.Build(cc)
		if err != nil {
			return fmt.Errorf("collector %s: %w", cc.ID, err)
		}
		a.collectors = append(a.collectors, c)
		if err := a.scheduler.Register(collector.Descriptor(cc), c); err != nil {
			return err
		}
	}

	a.engine = engine.New(a.logger, a.cfg.Engine, engine.Deps{
		Rules:      rules.NewFileSource(a.logger, a.cfg.Rules.File),
		Resources:  a.scheduler,
		Evaluator:  evaluator.New(a.samples),
		Alerts:     a.alerts,
		Metrics:    a.samples,
		Executions: a.executions,
		Telemetry:  a.metrics,
	})
	return nil
}

// close releases everything init acquired; it is safe on a partial app
func (a *app) close() {
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.alerts != nil {
		a.alerts.Wait()
	}
	for _, c := range a.collectors {
		if err := collector.Close(c); err != nil {
			a.logger.Warn("Failed to close collector", zap.Error(err))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// needsNATS reports whether the alert stream or any push collector is configured
func needsNATS(cfg *config.Config) bool {
	if cfg.Notify.NATS.Enabled {
		return true
	}
	for _, cc := range cfg.Collectors {
		if strings.EqualFold(cc.Type, "push") {
			return true
		}
	}
	return false
}

func connectNATS(logger *zap.Logger, cfg *config.Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		return err
	}
	retry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.NATS.ConnectRetries)
	err := backoff.RetryNotify(connect, retry, func(err error, wait time.Duration) {
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

func waitTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
