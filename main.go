// Package main is the gradehub server entry point.
//
// It wires the process together in order: config, logging, database,
// repositories, websocket hub, optional Redis relay, services, handlers,
// routes. Nothing is global; every dependency is built here and injected.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/akinalp/gradehub/config"
	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/middleware"
	"github.com/akinalp/gradehub/services"
	"github.com/akinalp/gradehub/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Str("component", "main").Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Str("component", "main").Msg("server stopped with error")
	}
	log.Info().Str("component", "main").Msg("server stopped")
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// app is the fully wired server minus its listener.
type app struct {
	handler  http.Handler
	hub      *ws.Hub
	bus      *services.FanoutBus
	relay    *services.RedisRelay // nil without REDIS_URL
	limiters *RateLimiters
}

// newApp wires everything on top of an open database. rdb may be nil.
func newApp(cfg *config.Config, conn *sql.DB, rdb *redis.Client) *app {
	repos := initRepositories(conn)
	hub := ws.NewHub()

	var (
		relay      *services.RedisRelay
		relayIface services.Relay
	)
	if rdb != nil {
		relay = services.NewRedisRelay(rdb)
		relayIface = relay
	}

	svcs, limiters := initServices(repos, hub, relayIface, cfg)
	h := initHandlers(svcs, limiters, hub, cfg)

	mux := http.NewServeMux()
	eventsKeyMw := middleware.NewEventsKeyMiddleware(cfg.Events.APIKey, limiters.EventsKey)
	initRoutes(mux, h, svcs.Auth, eventsKeyMw)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", middleware.EventsKeyHeader},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
	})

	return &app{
		handler:  c.Handler(middleware.RequestLogger(mux)),
		hub:      hub,
		bus:      svcs.Bus,
		relay:    relay,
		limiters: limiters,
	}
}

// start launches the background loops on g. They all return when ctx ends.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return a.hub.Run(ctx)
	})

	a.bus.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		a.bus.Wait()
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(ctx, a.bus)
		})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		log.Info().Str("component", "main").Msg("redis relay enabled")
	}

	a := newApp(cfg, db.Conn, rdb)
	defer a.limiters.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.start(gctx, g)

	g.Go(func() error {
		log.Info().Str("component", "main").Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("component", "main").Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
