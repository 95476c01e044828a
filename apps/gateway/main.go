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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mahaj/dupahar-realtime/pkg/auth"
	"github.com/mahaj/dupahar-realtime/pkg/broadcast"
	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/config"
	"github.com/mahaj/dupahar-realtime/pkg/conversation"
	"github.com/mahaj/dupahar-realtime/pkg/events"
	"github.com/mahaj/dupahar-realtime/pkg/gateway"
	"github.com/mahaj/dupahar-realtime/pkg/membership"
	"github.com/mahaj/dupahar-realtime/pkg/metrics"
	"github.com/mahaj/dupahar-realtime/pkg/objectstore"
	"github.com/mahaj/dupahar-realtime/pkg/presence"
	"github.com/mahaj/dupahar-realtime/pkg/ratelimit"
	"github.com/mahaj/dupahar-realtime/pkg/redisx"
	"github.com/mahaj/dupahar-realtime/pkg/snowflake"
	"github.com/mahaj/dupahar-realtime/pkg/store/postgres"
	"github.com/mahaj/dupahar-realtime/pkg/telemetry"
)

func main() {
	var cfg config.Gateway
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogLevel, "gateway")
	if err := run(cfg, log); err != nil {
		log.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Gateway, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry, "gateway")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := postgres.New(pool)
	if cfg.Postgres.Migrate {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
	}

	rdb, err := redisx.Open(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := membership.NewRegistry(st, log)
	hub := gateway.NewHub(registry, m, log)

	var out broadcast.Broadcaster = hub
	if cfg.Kafka.Enabled {
		origin := fmt.Sprintf("gateway-%d", cfg.NodeID)
		pub := events.NewPublisher(cfg.Kafka, origin)
		defer pub.Close()
		out = broadcast.Multi{hub, pub}

		// Every node needs every record, so each relays through its own group.
		relayCfg := cfg.Kafka
		relayCfg.GroupID = origin + "-relay"
		relay := events.NewConsumer(relayCfg, hub.Relay(origin), log.With("component", "relay"), events.Live())
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("relay stopped", "error", err)
			}
		}()
	}

	opts := []conversation.Option{
		conversation.WithLimiter(ratelimit.New(rdb, cfg.RateLimit.Sends, cfg.RateLimit.Window)),
	}
	if cfg.MinIO.Enabled {
		objects, err := objectstore.New(cfg.MinIO)
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return err
		}
		opts = append(opts, conversation.WithAttachments(objects))
	}

	tracker := presence.NewTracker(presence.Config{
		HeartbeatTimeout: cfg.Presence.HeartbeatTimeout,
		GracePeriod:      cfg.Presence.GracePeriod,
		SettleDelay:      cfg.Presence.Settle(),
	}, st, out, log,
		presence.WithCache(presence.NewRedisCache(rdb)),
		presence.WithCloser(hub.CloseUser),
		presence.WithObserver(m.Presence),
	)
	defer tracker.Close()

	svc := chat.Assemble(st, node, out, log, opts...)
	svc.SetRooms(hub)

	authn := auth.NewAuthenticator(auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.TTL), st)
	ws := gateway.NewServer(hub, authn, tracker, svc, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", telemetry.WrapHandler(ws, "ws.handshake"))
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Addr, "node", cfg.NodeID)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
