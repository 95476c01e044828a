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

	"github.com/gin-gonic/gin"

	"github.com/mahaj/dupahar-realtime/pkg/auth"
	"github.com/mahaj/dupahar-realtime/pkg/broadcast"
	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/config"
	"github.com/mahaj/dupahar-realtime/pkg/conversation"
	"github.com/mahaj/dupahar-realtime/pkg/db"
	"github.com/mahaj/dupahar-realtime/pkg/events"
	"github.com/mahaj/dupahar-realtime/pkg/objectstore"
	"github.com/mahaj/dupahar-realtime/pkg/presence"
	"github.com/mahaj/dupahar-realtime/pkg/ratelimit"
	"github.com/mahaj/dupahar-realtime/pkg/redisx"
	"github.com/mahaj/dupahar-realtime/pkg/snowflake"
	"github.com/mahaj/dupahar-realtime/pkg/store/postgres"
	"github.com/mahaj/dupahar-realtime/pkg/telemetry"
)

func main() {
	var cfg config.API
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogLevel, "api")
	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.API, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry, "api")
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

	// The API has no sockets of its own; realtime fan-out reaches the
	// gateways through the event log.
	var out broadcast.Broadcaster = broadcast.Discard{}
	if cfg.Kafka.Enabled {
		pub := events.NewPublisher(cfg.Kafka, fmt.Sprintf("api-%d", cfg.NodeID))
		defer pub.Close()
		out = pub
	}

	srv := &server{
		tokens: auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.TTL),
		users:  st,
		online: presence.NewRedisCache(rdb),
		log:    log,
	}
	srv.authn = auth.NewAuthenticator(srv.tokens, st)

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
		srv.uploads = objects
	}
	srv.chat = chat.Assemble(st, node, out, log, opts...)

	if session, err := db.NewSession(cfg.Scylla); err != nil {
		log.Warn("history archive unavailable, serving history from postgres", "error", err)
	} else {
		defer session.Close()
		srv.archive = db.NewHistory(session)
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           telemetry.WrapHandler(srv.routes(), "api"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.Addr)
		errc <- httpSrv.ListenAndServe()
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
	return httpSrv.Shutdown(shutdownCtx)
}
