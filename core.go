// Package bookingwatch wires the event logger, request tracker, alert rule
// engine and verification agents into one process-wide core.
package bookingwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bookingwatch/internal/agents"
	"bookingwatch/internal/alerts"
	"bookingwatch/internal/api"
	"bookingwatch/internal/config"
	"bookingwatch/internal/engine"
	"bookingwatch/internal/eventlog"
	"bookingwatch/internal/ingest"
	"bookingwatch/internal/logging"
	"bookingwatch/internal/metrics"
	"bookingwatch/internal/notify"
	"bookingwatch/internal/storage"
	"bookingwatch/internal/tracker"
)

const Version = "0.1.0"

type Options struct {
	// Logger overrides the JSON stdout logger built from log_level.
	Logger *slog.Logger
	// ReloadInterval is the config file poll period.
	ReloadInterval time.Duration
	// SnapshotInterval is the snapshot file poll period.
	SnapshotInterval time.Duration
	Now              func() time.Time
}

type Core struct {
	cfg     *config.Manager
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collector
	store   storage.Store

	events     *eventlog.Logger
	dispatcher *notify.Dispatcher
	engine     *engine.Engine
	tracker    *tracker.Tracker
	agents     *agents.Manager
	scheduler  *agents.Scheduler
	latest     *ingest.Latest
	batches    chan ingest.Batch
	ingestHTTP *ingest.HTTPHandler

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	server  *http.Server
}

// Open loads the config at path and builds a core that follows file edits
// once started.
func Open(path string, opts Options) (*Core, error) {
	mgr, err := config.NewManager(config.ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(mgr, opts)
}

func New(cfg *config.Manager, opts Options) (*Core, error) {
	if cfg == nil {
		cfg = config.NewStaticManager(nil)
	}
	current := cfg.Get()
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(current.LogLevel)
	}

	store, err := storage.NewStore(current.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage %q: %w", current.Storage.Driver, err)
	}
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(initCtx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	collector := metrics.NewCollector()
	events := eventlog.New(logger, store, eventlog.Options{
		BufferSize:   current.EventLog.BufferSize,
		QueueSize:    current.EventLog.SinkQueue,
		PreviewBytes: current.EventLog.PreviewBytes,
		Metrics:      collector,
		Now:          opts.Now,
	})
	dispatcher := notify.NewDispatcher(current.Notifications, logger, events, collector)
	eng, err := engine.New(current, events, alerts.NewStore(current.Alerts.StoreLimit), dispatcher, store, engine.Options{
		Logger:  logger,
		Metrics: collector,
		Now:     opts.Now,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build rules: %w", err)
	}
	tr := tracker.New(events, tracker.Options{
		StoreLimit: current.Tracker.StoreLimit,
		Recorder:   eng,
		Metrics:    collector,
		Logger:     logger,
		Now:        opts.Now,
	})
	manager := agents.NewManager(eng, events, agents.Options{Logger: logger, Metrics: collector, Now: opts.Now})
	manager.Configure(current.Agents)

	var fallback ingest.Source
	if current.Ingest.SnapshotFile != "" {
		fallback = ingest.FileSource{Path: current.Ingest.SnapshotFile, Logger: logger}
	}
	latest := ingest.NewLatest(fallback)
	batches := make(chan ingest.Batch, 16)

	return &Core{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		metrics:    collector,
		store:      store,
		events:     events,
		dispatcher: dispatcher,
		engine:     eng,
		tracker:    tr,
		agents:     manager,
		scheduler:  agents.NewScheduler(manager, latest, logger),
		latest:     latest,
		batches:    batches,
		ingestHTTP: ingest.NewHTTPHandler(latest, batches, logger),
	}, nil
}

// Start launches the sink writer, booking feeds, agent schedules, the
// operator API and the config watcher. Everything stops with ctx or Close.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("core closed")
	}
	if c.started {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	current := c.cfg.Get()
	// Queued entries still flush after ctx ends.
	c.events.Start(context.WithoutCancel(ctx))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ingest.Consume(ctx, c.batches, c.agents, c.logger)
	}()
	ingest.StartKafka(ctx, current.Ingest.Kafka, c.latest, c.batches, c.logger)
	ingest.WatchSnapshot(ctx, current.Ingest.SnapshotFile, c.opts.SnapshotInterval, c.latest, c.batches, c.logger)

	if err := c.scheduler.Start(ctx); err != nil {
		c.logger.Error("agent scheduler started with errors", "err", err)
	}

	c.server = api.Start(ctx, c.apiDeps())

	if c.cfg.Path() != "" {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.cfg.Watch(ctx, c.opts.ReloadInterval, c.applyConfig, func(err error) {
				c.logger.Error("config reload failed", "path", c.cfg.Path(), "err", err)
			})
		}()
	}
	c.logger.Info("bookingwatch started", "version", Version, "config", c.cfg.Path())
	return nil
}

func (c *Core) applyConfig(cfg *config.Config) {
	if err := c.engine.UpdateConfig(cfg); err != nil {
		c.logger.Error("rule reload rejected", "err", err)
	}
	c.agents.Configure(cfg.Agents)
	if err := c.scheduler.Reload(); err != nil {
		c.logger.Error("agent schedule reload", "err", err)
	}
	c.logger.Info("config reloaded", "path", c.cfg.Path())
}

// Close stops background work and flushes pending sink writes.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.scheduler.Stop()
	c.wg.Wait()
	c.dispatcher.Wait()
	c.engine.Wait()
	c.events.Close()
	return c.store.Close()
}

func (c *Core) Config() *config.Manager      { return c.cfg }
func (c *Core) Logger() *slog.Logger         { return c.logger }
func (c *Core) Events() *eventlog.Logger     { return c.events }
func (c *Core) Tracker() *tracker.Tracker    { return c.tracker }
func (c *Core) Engine() *engine.Engine       { return c.engine }
func (c *Core) Agents() *agents.Manager      { return c.agents }
func (c *Core) Metrics() *metrics.Collector  { return c.metrics }
func (c *Core) Notifier() *notify.Dispatcher { return c.dispatcher }

// Handler serves the operator routes without binding a listener.
func (c *Core) Handler() http.Handler {
	return api.NewHandler(c.apiDeps())
}

func (c *Core) apiDeps() api.Deps {
	return api.Deps{
		Config:   c.cfg,
		Events:   c.events,
		Engine:   c.engine,
		Tracker:  c.tracker,
		Agents:   c.agents,
		Metrics:  c.metrics,
		Bookings: c.latest,
		Ingest:   c.ingestHTTP,
		Logger:   c.logger,
		Version:  Version,
	}
}
