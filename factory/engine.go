/*
Package factory assembles a ready-to-use credit engine from configuration.

PURPOSE:
  Every binary needs the same object graph: config, logger, storage backend,
  ledger, resetter and (optionally) the Kafka event publisher. The factory
  builds it once so the commands only contain their own flow.

WIRING:
  config.Config
    -> store.Open(Database)             credits.Backend
    -> credits.NewLedger(backend)        atomic resets when RESET_ATOMIC
    -> kafka.NewPublisher(brokers)       only when KAFKA_BROKERS is set
    -> credits.NewResetter(ledger, ...)  run log = backend

USAGE:
  engine, err := factory.Load(ctx, configPath)
  if err != nil { ... }
  defer engine.Close()
  report, err := engine.Resetter.ResetAll(ctx, target, force)

SEE ALSO:
  - config/config.go: Configuration sources
  - store/store.go: Backend selection
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warp/credit-engine/api"
	"github.com/warp/credit-engine/config"
	"github.com/warp/credit-engine/credits"
	"github.com/warp/credit-engine/events/kafka"
	"github.com/warp/credit-engine/store"
)

// Engine is the assembled object graph.
type Engine struct {
	Config   config.Config
	Logger   *slog.Logger
	Backend  credits.Backend
	Ledger   *credits.Ledger
	Resetter *credits.Resetter

	publisher *kafka.Publisher
}

type options struct {
	backend   credits.Backend
	confirmer credits.Confirmer
	logger    *slog.Logger
}

type Option func(*options)

// WithBackend uses an already opened backend instead of opening one from
// config. The engine takes ownership and closes it.
func WithBackend(b credits.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithConfirmer sets who confirms a non-forced bulk reset.
func WithConfirmer(c credits.Confirmer) Option {
	return func(o *options) { o.confirmer = c }
}

// WithLogger overrides the logger built from config.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Load reads and validates configuration, then builds the engine.
func Load(ctx context.Context, configPath string, opts ...Option) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return Build(ctx, cfg, opts...)
}

// Build assembles the engine from a validated config.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = config.NewLogger(cfg.Log.Level, cfg.Log.Format)
	}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = store.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{Config: cfg, Logger: logger, Backend: backend}

	e.Ledger = credits.NewLedger(backend, backend,
		credits.WithAtomicResets(cfg.Reset.Atomic),
		credits.WithLedgerLogger(logger),
	)

	resetterOpts := []credits.Option{
		credits.WithRunLog(backend),
		credits.WithWorkers(cfg.Reset.Workers),
		credits.WithLogger(logger),
	}
	if o.confirmer != nil {
		resetterOpts = append(resetterOpts, credits.WithConfirmer(o.confirmer))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		e.publisher = kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		resetterOpts = append(resetterOpts, credits.WithPublisher(e.publisher))
		logger.Info("publishing reset events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	e.Resetter = credits.NewResetter(e.Ledger, resetterOpts...)

	logger.Debug("engine ready", "driver", cfg.Database.Driver, "atomic", cfg.Reset.Atomic, "workers", cfg.Reset.Workers)
	return e, nil
}

// Scheduler returns a reset scheduler for the configured schedule.
func (e *Engine) Scheduler() *api.ResetScheduler {
	return api.NewResetScheduler(e.Resetter, e.Config.Reset, e.Logger)
}

// Handler returns the HTTP handler for this engine.
func (e *Engine) Handler() *api.Handler {
	return api.NewHandler(e.Resetter, e.Backend, e.Config.Reset)
}

// Close releases the publisher and the backend.
func (e *Engine) Close() error {
	var errs []error
	if e.publisher != nil {
		errs = append(errs, e.publisher.Close())
	}
	errs = append(errs, e.Backend.Close())
	return errors.Join(errs...)
}
