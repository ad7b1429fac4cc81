package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chasingclaw/internal/infra/config"
	"chasingclaw/internal/infra/logger"
	"chasingclaw/internal/infra/tracer"
)

const shutdownTimeout = 10 * time.Second

// observability builds the logger and the tracer. The returned cleanup
// flushes both.
func observability(ctx context.Context, cfg *config.Config) (*slog.Logger, func(), error) {
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("tracer: %w", err)
	}
	return log, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		closeLog()
	}, nil
}

// bootstrap loads config and wires the runtime.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*Runtime, func(), error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, cleanup, err := observability(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	provider, err := initLLM(cfg, log)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("llm: %w", err)
	}
	rt, err := initRuntime(ctx, cfg, provider, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return rt, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.Close(sctx); err != nil {
			log.Error("shutdown error", "error", err)
		}
		cleanup()
	}, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent with the HTTP channel and the cron scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, shutdown, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer shutdown()

			if err := rt.Start(ctx); err != nil {
				return err
			}
			if rt.HTTP == nil && rt.Cron == nil {
				rt.Logger.Warn("nothing to serve: http channel and cron are both disabled")
				return nil
			}

			rt.Logger.Info("chasingclaw running", "http", rt.HTTP != nil, "cron", rt.Cron != nil)
			<-ctx.Done()
			rt.Logger.Info("shutting down")
			return nil
		},
	}
}
