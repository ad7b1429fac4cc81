package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"chasingclaw/internal/adapter/channel"
	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/config"
	"chasingclaw/internal/usecase/bus"
	"chasingclaw/internal/usecase/cronjob"
)

// cronStore pairs a job store with its cleanup.
type cronStore struct {
	domain.CronStore
	close func() error
}

// openCronStore opens the configured job store.
func openCronStore(cfg config.CronConfig) (*cronStore, error) {
	switch cfg.Store {
	case "sqlite":
		s, err := cronjob.NewSQLiteStore(filepath.Join(cfg.DataDir, "cron.db"))
		if err != nil {
			return nil, err
		}
		return &cronStore{CronStore: s, close: s.Close}, nil
	case "file", "":
		s, err := cronjob.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return &cronStore{CronStore: s, close: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("unknown cron store %q (want: file, sqlite)", cfg.Store)
	}
}

// cronLocation resolves cron.timezone; empty means the local zone.
func cronLocation(cfg config.CronConfig) (*time.Location, error) {
	if cfg.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("cron.timezone: %w", err)
	}
	return loc, nil
}

// initCron opens the store and loads the persisted jobs. The caller sets
// the handler and deliverer once the agent and bus exist.
func initCron(ctx context.Context, cfg config.CronConfig, log *slog.Logger, opts ...cronjob.Option) (*cronjob.Service, func() error, error) {
	store, err := openCronStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("cron store: %w", err)
	}
	loc, err := cronLocation(cfg)
	if err != nil {
		store.close()
		return nil, nil, err
	}

	opts = append([]cronjob.Option{
		cronjob.WithLocation(loc),
		cronjob.WithPollInterval(cfg.PollInterval),
		cronjob.WithJobTimeout(cfg.JobTimeout),
	}, opts...)
	svc := cronjob.NewService(store, log, opts...)
	if err := svc.Load(ctx); err != nil {
		store.close()
		return nil, nil, fmt.Errorf("cron load: %w", err)
	}
	return svc, store.close, nil
}

// Runtime is the fully wired application.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Agent  *AgentComponents
	Bus    *bus.Bus
	Cron   *cronjob.Service     // nil when disabled
	HTTP   *channel.HTTPChannel // nil when disabled

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// deliverer forwards cron replies to the bus once it exists.
type deliverer struct {
	bus *bus.Bus
}

func (d *deliverer) PublishOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	if d.bus == nil {
		return domain.ErrBusClosed
	}
	return d.bus.PublishOutbound(ctx, msg)
}

// initRuntime wires the scheduler, the agent, the bus and the HTTP channel.
// Nothing is started.
func initRuntime(ctx context.Context, cfg *config.Config, provider domain.LLMProvider, log *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: log}

	deliver := &deliverer{}
	if cfg.Cron.Enabled {
		svc, closeStore, err := initCron(ctx, cfg.Cron, log, cronjob.WithDeliverer(deliver))
		if err != nil {
			return nil, err
		}
		rt.Cron = svc
		rt.closers = append(rt.closers, closeStore)
	}

	agent, err := initAgent(cfg, provider, rt.Cron, log)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.Agent = agent

	rt.Bus = bus.New(agent.Agent, bus.Config{
		QueueSize:   cfg.Bus.QueueSize,
		IdleTimeout: cfg.Bus.IdleTimeout,
	}, log)
	deliver.bus = rt.Bus

	if rt.Cron != nil {
		rt.Cron.SetHandler(agent.Agent)
	}

	if cfg.Channels.HTTP.Enabled {
		loc, _ := cronLocation(cfg.Cron)
		deps := channel.HTTPDeps{
			Bus:      rt.Bus,
			Sessions: agent.Sessions,
			Logger:   log,
			Location: loc,
		}
		if rt.Cron != nil {
			deps.Cron = rt.Cron
		}
		rt.HTTP = channel.NewHTTPChannel(cfg.Channels.HTTP, deps)

		unsubscribe := rt.Bus.SubscribeOutbound(domain.ChannelWebhook, func(ctx context.Context, msg domain.OutboundMessage) {
			if err := rt.HTTP.Send(ctx, msg); err != nil {
				log.Warn("webhook delivery failed", "chat_id", msg.ChatID, "error", err)
			}
		})
		rt.closers = append(rt.closers, func() error { unsubscribe(); return nil })
	}

	return rt, nil
}

// Start launches the scheduler and the HTTP channel.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt.Cron != nil {
		if err := rt.Cron.Start(ctx); err != nil {
			return fmt.Errorf("cron: %w", err)
		}
	}
	if rt.HTTP != nil {
		if err := rt.HTTP.Start(ctx); err != nil {
			return fmt.Errorf("http channel: %w", err)
		}
	}
	return nil
}

// Close stops every component in reverse start order. Only the first call
// has an effect.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.closeOnce.Do(func() { rt.closeErr = rt.close(ctx) })
	return rt.closeErr
}

func (rt *Runtime) close(ctx context.Context) error {
	var errs []error
	if rt.HTTP != nil {
		if err := rt.HTTP.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http channel: %w", err))
		}
	}
	if rt.Cron != nil {
		rt.Cron.Stop()
	}
	if rt.Bus != nil {
		rt.Bus.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
