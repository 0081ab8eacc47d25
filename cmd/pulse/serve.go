package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stream-pulse/pulse/internal/config"
	"github.com/stream-pulse/pulse/internal/dispatch"
	"github.com/stream-pulse/pulse/internal/ingest"
	"github.com/stream-pulse/pulse/internal/logging"
	"github.com/stream-pulse/pulse/internal/pipeline"
	"github.com/stream-pulse/pulse/internal/procstats"
	"github.com/stream-pulse/pulse/internal/session"
	"github.com/stream-pulse/pulse/internal/telemetry"
	"github.com/stream-pulse/pulse/internal/ws"
)

func serveCmd(cfgPath *string) *cobra.Command {
	var (
		port   int
		host   string
		source string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest the upstream feed and serve filtered sessions over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if source != "" {
				cfg.Ingest.Source = source
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfgPath, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().StringVar(&source, "source", "", "override ingest.source (mock, websocket, http, file)")
	return cmd
}

func serve(ctx context.Context, cfgPath string, cfg *config.Config) error {
	log, level, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Server.AuthToken == "" && !isLoopback(cfg.Server.Host) {
		token, err := config.GenerateToken()
		if err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
		cfg.Server.AuthToken = token
		log.Warnw("no auth_token configured for a non-loopback listener; generated one", "token", token)
	}

	src, err := ingest.FromConfig(cfg.Ingest)
	if err != nil {
		return err
	}

	m := telemetry.New()
	disp := dispatch.New(session.NewRegistry(cfg.Server.MaxConnections), m)
	ingestor := ingest.New(src, log, m)

	stats, err := procstats.NewSampler(2 * time.Second)
	if err != nil {
		log.Warnw("process stats unavailable", "error", err)
		stats = nil
	}

	server := ws.NewServer(cfg, disp, ingestor.Health(), stats, log)
	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("listening", "addr", httpSrv.Addr, "source", src.Name())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return pipeline.New(ingestor, disp, log).Run(gctx, nil)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down")
		server.CloseAll(ws.ErrShutdown)
		if !server.Wait(cfg.Server.ShutdownTimeout) {
			log.Warnw("clients still connected at shutdown", "clients", server.ClientCount())
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if _, err := os.Stat(cfgPath); err == nil {
		g.Go(func() error {
			return watchConfig(gctx, cfgPath, cfg, server, level, log)
		})
	}

	if err := g.Wait(); err != nil {
		log.Errorw("exiting", "error", err)
		return err
	}
	return nil
}

func watchConfig(ctx context.Context, path string, running *config.Config, server *ws.Server, level zap.AtomicLevel, log *zap.SugaredLogger) error {
	return config.Watch(ctx, path, log, func(next *config.Config) {
		changes := config.Diff(running, next)
		if len(changes) == 0 {
			log.Infow("config file changed; nothing live-reloadable differs")
			return
		}
		merged := config.ApplyLive(running, next)
		if err := logging.SetLevel(level, merged.Log.Level); err != nil {
			log.Warnw("ignoring log level", "error", err)
		}
		server.SetConfig(merged)
		running = merged
		for _, c := range changes {
			log.Infow("config reloaded", "change", c)
		}
	})
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
