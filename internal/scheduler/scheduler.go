package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/collector"
	"github.com/mylaniakea/unity/internal/model"
	"github.com/mylaniakea/unity/internal/telemetry"
)

// SampleWriter is the part of the metric store the scheduler writes to
type SampleWriter interface {
	WriteBatch(ctx context.Context, samples []model.MetricSample) error
}

// ExecutionRecorder persists execution records
type ExecutionRecorder interface {
	Store(ctx context.Context, record *model.ExecutionRecord) error
}

// Config holds the configuration for the scheduler
type Config struct {
	PoolSize    int
	QueueSize   int
	HistorySize int
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithExecutionRecorder persists every execution record in addition to the in-memory history
func WithExecutionRecorder(recorder ExecutionRecorder) Option {
	return func(s *Scheduler) { s.recorder = recorder }
}

// WithMetrics reports scheduler activity to the given metrics
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = metrics }
}

// WithClock overrides the time source used for timestamps and health
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// entry is the scheduler's state for one registered collector
type entry struct {
	collector collector.Collector
	inFlight  atomic.Bool

	mu         sync.Mutex
	descriptor model.CollectorDescriptor
	history    []model.ExecutionRecord
	stop       chan struct{}
}

// Scheduler runs registered collectors on their own intervals, bounded by a
// shared worker pool, and keeps a health view of each of them.
type Scheduler struct {
	logger   *zap.Logger
	samples  SampleWriter
	recorder ExecutionRecorder
	metrics  *telemetry.Metrics
	now      func() time.Time
	cfg      Config

	entries *xsync.Map[string, *entry]
	pool    pond.Pool

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler writing collected samples to samples
func New(logger *zap.Logger, samples SampleWriter, cfg Config, opts ...Option) *Scheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}

	poolOpts := []pond.Option{}
	if cfg.QueueSize > 0 {
		poolOpts = append(poolOpts, pond.WithQueueSize(cfg.QueueSize))
	}

	s := &Scheduler{
		logger:  logger.Named("scheduler"),
		samples: samples,
		now:     time.Now,
		cfg:     cfg,
		entries: xsync.NewMap[string, *entry](),
		pool:    pond.NewPool(cfg.PoolSize, poolOpts...),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewMetrics()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register adds a collector. The descriptor's registration time is set to now
// and, if the scheduler is running and the collector is enabled, its timer starts.
func (s *Scheduler) Register(descriptor model.CollectorDescriptor, c collector.Collector) error {
	if descriptor.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescriptor)
	}
	if descriptor.Interval <= 0 {
		return fmt.Errorf("%w: collector %s: interval must be positive", ErrInvalidDescriptor, descriptor.ID)
	}
	if c == nil {
		return fmt.Errorf("%w: collector %s: nil collector", ErrInvalidDescriptor, descriptor.ID)
	}
	if descriptor.StaleAfter <= 0 {
		descriptor.StaleAfter = model.DefaultStaleAfter
	}
	descriptor.RegisteredAt = s.now()
	descriptor.LastExecution = nil
	descriptor.LastSuccess = nil

	e := &entry{collector: c, descriptor: descriptor}
	if _, loaded := s.entries.LoadOrStore(descriptor.ID, e); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateCollector, descriptor.ID)
	}

	s.logger.Info("Registered collector",
		zap.String("collector_id", descriptor.ID),
		zap.String("category", descriptor.Category),
		zap.Duration("interval", descriptor.Interval),
		zap.Bool("enabled", descriptor.Enabled))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && descriptor.Enabled {
		s.startTicker(descriptor.ID, e)
	}
	s.reportHealth(e)
	return nil
}

// Enable turns on a collector's timer
func (s *Scheduler) Enable(id string) error {
	return s.setEnabled(id, true)
}

// Disable stops future ticks of a collector. A run already in flight completes.
func (s *Scheduler) Disable(id string) error {
	return s.setEnabled(id, false)
}

func (s *Scheduler) setEnabled(id string, enabled bool) error {
	e, ok := s.entries.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectorNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e.mu.Lock()
	changed := e.descriptor.Enabled != enabled
	e.descriptor.Enabled = enabled
	e.mu.Unlock()

	if !changed {
		return nil
	}
	if enabled && s.running {
		s.startTicker(id, e)
	}
	if !enabled {
		s.stopTicker(e)
	}
	s.reportHealth(e)

	s.logger.Info("Collector toggled",
		zap.String("collector_id", id),
		zap.Bool("enabled", enabled))
	return nil
}

// Descriptor returns a copy of a registered descriptor
func (s *Scheduler) Descriptor(id string) (model.CollectorDescriptor, error) {
	e, ok := s.entries.Load(id)
	if !ok {
		return model.CollectorDescriptor{}, fmt.Errorf("%w: %s", ErrCollectorNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.descriptor, nil
}

// Descriptors returns copies of all registered descriptors ordered by id
func (s *Scheduler) Descriptors() []model.CollectorDescriptor {
	descriptors := make([]model.CollectorDescriptor, 0, s.entries.Size())
	s.entries.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		descriptors = append(descriptors, e.descriptor)
		e.mu.Unlock()
		return true
	})
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].ID < descriptors[j].ID })
	return descriptors
}

// Start starts the timers of all enabled collectors. Runs are cancelled when
// ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.running {
		return nil
	}
	s.running = true

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	started := 0
	s.entries.Range(func(id string, e *entry) bool {
		e.mu.Lock()
		enabled := e.descriptor.Enabled
		e.mu.Unlock()
		if enabled {
			s.startTicker(id, e)
			started++
		}
		return true
	})

	s.logger.Info("Scheduler started",
		zap.Int("collectors", started),
		zap.Int("pool_size", s.cfg.PoolSize))
	return nil
}

// Stop stops all timers, cancels runs in flight and waits for the worker
// pool to drain. A stopped scheduler cannot be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	s.entries.Range(func(_ string, e *entry) bool {
		s.stopTicker(e)
		return true
	})
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.StopAndWait()
	s.logger.Info("Scheduler stopped")
}

// startTicker must be called with s.mu held
func (s *Scheduler) startTicker(id string, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return
	}
	e.stop = make(chan struct{})
	s.wg.Add(1)
	go s.runTicker(id, e, e.descriptor.Interval, e.stop)
}

// stopTicker must be called with s.mu held
func (s *Scheduler) stopTicker(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (s *Scheduler) runTicker(id string, e *entry, interval time.Duration, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(id, e)
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// tick hands one scheduled run to the pool unless the previous run of the
// same collector is still in flight, in which case the tick is dropped.
// A tick racing a Disable is dropped too.
func (s *Scheduler) tick(id string, e *entry) {
	e.mu.Lock()
	enabled := e.descriptor.Enabled
	e.mu.Unlock()
	if !enabled {
		return
	}

	if !e.inFlight.CompareAndSwap(false, true) {
		s.metrics.CollectorSkipped.WithLabelValues(id, "in_flight").Inc()
		s.logger.Warn("Skipping tick, previous run still in flight",
			zap.String("collector_id", id))
		return
	}

	firedAt := s.now()
	var started atomic.Bool
	task := s.pool.Submit(func() {
		started.Store(true)
		s.execute(s.ctx, id, e, firedAt, false)
	})

	select {
	case <-task.Done():
		if err := task.Wait(); err != nil && !started.Load() {
			e.inFlight.Store(false)
			s.metrics.CollectorSkipped.WithLabelValues(id, "rejected").Inc()
			s.logger.Warn("Worker pool rejected tick",
				zap.String("collector_id", id),
				zap.Error(err))
		}
	default:
	}
}
