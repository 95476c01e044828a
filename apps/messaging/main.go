package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mahaj/dupahar-realtime/pkg/config"
	"github.com/mahaj/dupahar-realtime/pkg/db"
	"github.com/mahaj/dupahar-realtime/pkg/events"
	"github.com/mahaj/dupahar-realtime/pkg/metrics"
	"github.com/mahaj/dupahar-realtime/pkg/telemetry"
)

func main() {
	var cfg config.Messaging
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogLevel, "messaging")
	if err := run(cfg, log); err != nil {
		log.Error("messaging stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Messaging, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry, "messaging")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	// Schema creation belongs to a migration tool; the archive is small
	// enough to bootstrap itself.
	if err := db.EnsureSchema(ctx, cfg.Scylla); err != nil {
		return err
	}
	session, err := db.NewSession(cfg.Scylla)
	if err != nil {
		return err
	}
	defer session.Close()
	log.Info("connected to scylla", "hosts", cfg.Scylla.Hosts, "keyspace", cfg.Scylla.Keyspace)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	a := &archiver{history: db.NewHistory(session), metrics: m, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	defer srv.Close()

	log.Info("consuming", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID, "brokers", cfg.Kafka.Brokers)
	return events.NewConsumer(cfg.Kafka, a.handle, log).Run(ctx)
}
