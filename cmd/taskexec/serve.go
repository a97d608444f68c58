package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/taskexec/internal/auth"
	"github.com/loykin/taskexec/internal/cron"
	"github.com/loykin/taskexec/internal/metrics"
	"github.com/loykin/taskexec/internal/process"
	"github.com/loykin/taskexec/internal/server"
	tlsx "github.com/loykin/taskexec/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the HTTP API until ctx is cancelled or SIGINT/SIGTERM arrives,
// then kills every process still running.
func (c *command) Serve(ctx context.Context, configPath string) error {
	if configPath == "" {
		return errors.New("config file required for serve command. Use --config=config.toml or provide as argument")
	}
	c.global.ConfigPath = configPath
	s, err := c.load()
	if err != nil {
		return err
	}
	defer s.Close()

	if s.cfg.Server.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			s.logger.Warn("failed to register metrics", "error", err)
		}
	}

	// no signal hook: Serve owns SIGINT and SIGTERM
	registry := process.NewRegistry(process.WithRegistryLogger(s.logger))
	sup := s.supervisor(process.WithRegistry(registry))

	opts := []server.RouterOption{
		server.WithCommands(s.cfg.Specs),
		server.WithMetrics(s.cfg.Server.Metrics),
	}
	if s.cfg.Server.Auth.Enabled {
		svc, err := auth.NewService(s.cfg.Server.Auth)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		opts = append(opts, server.WithAuth(svc))
	}
	tlsCfg, err := tlsx.Setup(s.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, server.WithTLS(tlsCfg))
	}

	srv, err := server.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, sup, opts...)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info("taskexec serving", "listen", srv.Addr, "base_path", s.cfg.Server.BasePath,
		"commands", len(s.cfg.Specs), "tls", tlsCfg != nil, "auth", s.cfg.Server.Auth.Enabled)

	sched := cron.NewScheduler(sup, s.logger)
	for _, j := range s.cfg.Jobs() {
		if err := sched.Add(j); err != nil {
			_ = srv.Close()
			return fmt.Errorf("failed to add cron job %s: %w", j.Name, err)
		}
	}
	if err := sched.Start(); err != nil {
		_ = srv.Close()
		return fmt.Errorf("failed to start cron scheduler: %w", err)
	}
	if n := len(sched.Jobs()); n > 0 {
		s.logger.Info("started cron scheduler", "jobs", n)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	s.logger.Info("shutting down")
	n := registry.Shutdown()
	if n > 0 {
		s.logger.Warn("killed running processes", "count", n)
	}
	sched.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
