package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/deribit-rpc/internal/database"
	"github.com/rickgao/deribit-rpc/internal/metrics"
	"github.com/rickgao/deribit-rpc/internal/notify"
	"github.com/rickgao/deribit-rpc/internal/tape"
)

const shutdownTimeout = 10 * time.Second

func recordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Subscribe to the configured channels and tape every push to TimescaleDB",
		Long: `Opens one WebSocket session, subscribes to recorder.channels and
writes every notification into the notifications table. Serves /health
and the metrics endpoint on metrics.port until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateRecorder(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.record(ctx)
		},
	}
}

func (a *app) record(ctx context.Context) error {
	logger := a.logger

	pool, err := database.Connect(ctx, a.cfg.Database.Timescale, a.cfg.Instance.ID)
	if err != nil {
		return err
	}
	defer pool.Close()

	hypertable, err := database.EnsureSchema(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info("schema ready", "table", database.NotificationsTable, "hypertable", hypertable)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := metrics.New(
		metrics.WithRegistry(reg),
		metrics.WithConstLabels(prometheus.Labels{"instance": a.cfg.Instance.ID}),
	)

	bus := notify.NewBus(logger.With("component", "bus"))
	buffer := notify.NewBuffer[notify.Notification](1024, a.cfg.Recorder.BufferSize)
	writer := tape.NewWriter(
		tape.Config{
			BatchSize:     a.cfg.Recorder.BatchSize,
			FlushInterval: a.cfg.Recorder.FlushInterval,
		},
		buffer,
		pool,
		logger.With("component", "tape"),
		m,
	)
	detach := writer.Attach(bus)
	defer detach()

	client, err := a.newClient(bus, m)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler: newRouter(&health{
			client: client,
			db:     pool,
			writer: writer,
			buffer: buffer,
		}, reg, a.cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := writer.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("health server listening", "addr", srv.Addr, "metrics", a.cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		confirmed, err := client.Subscribe(gctx, a.cfg.Recorder.Channels, nil)
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("subscribe: %w", err)
		}
		logger.Info("recording",
			"channels", len(a.cfg.Recorder.Channels),
			"confirmed", len(confirmed),
		)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close client: %w", err))
		}
		if err := writer.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop tape writer: %w", err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown health server: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()

	st := writer.Stats()
	logger.Info("recorder stopped",
		"inserts", st.Inserts,
		"flushes", st.Flushes,
		"errors", st.Errors,
		"dropped", st.Dropped,
	)
	return err
}
