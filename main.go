package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/chinmina/crm-bridge/internal/audit"
	"github.com/chinmina/crm-bridge/internal/config"
	"github.com/chinmina/crm-bridge/internal/crm"
	"github.com/chinmina/crm-bridge/internal/observe"
	"github.com/chinmina/crm-bridge/internal/ratelimit"
	"github.com/chinmina/crm-bridge/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

func configureServerRoutes(ctx context.Context, cfg config.Config, svc EntityService) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// Entity payloads are small field maps; larger bodies are rejected rather
	// than forwarded to the CRM.
	requestLimitBytes := int64(256 << 10) // 256 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	standardRouteMiddleware := alice.New(requestLimiter)
	crmRouteMiddleware := alice.New(requestLimiter, audit.Middleware(cfg.RateLimit.KeyHeader))

	if cfg.RateLimit.Enabled {
		store := ratelimit.NewStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		store.StartJanitor(ctx)

		crmRouteMiddleware = crmRouteMiddleware.Append(
			ratelimit.Middleware(store, ratelimit.HeaderKeyFunc(cfg.RateLimit.KeyHeader)),
		)
	}

	mux.Handle("POST /entities/{type}/find", crmRouteMiddleware.Then(handleFindEntities(svc)))
	mux.Handle("POST /entities/{type}/search", crmRouteMiddleware.Then(handleSearchEntities(svc)))
	mux.Handle("GET /entities/{type}/fields", crmRouteMiddleware.Then(handleGetEntityFields(svc)))
	mux.Handle("GET /entities/{type}/{id}", crmRouteMiddleware.Then(handleGetEntity(svc)))
	mux.Handle("GET /entities/{type}/{id}/fields/{field}", crmRouteMiddleware.Then(handleGetFieldValue(svc)))
	mux.Handle("POST /entities/{type}", crmRouteMiddleware.Then(handleCreateEntity(svc)))
	mux.Handle("PATCH /entities/{type}/{id}", crmRouteMiddleware.Then(handleUpdateEntity(svc)))
	mux.Handle("DELETE /entities/{type}/{id}", crmRouteMiddleware.Then(handleDeleteEntity(svc)))
	mux.Handle("POST /users", crmRouteMiddleware.Then(handleGetUsers(svc)))

	// operational routes are not included in telemetry or rate limiting
	muxWithoutTelemetry.Handle("GET /metrics", standardRouteMiddleware.Then(handleMetrics(svc)))
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	client, err := crm.NewFromConfig(cfg, http.DefaultClient)
	if err != nil {
		return fmt.Errorf("CRM client configuration failed: %w", err)
	}

	// the client drains its queue before telemetry is flushed
	hooks := &server.ShutdownHooks{}
	hooks.AddClose("crm client", client)
	hooks.AddContext("telemetry", shutdownTelemetry)

	handler := configureServerRoutes(ctx, cfg, client)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		_ = hooks.Execute(context.WithoutCancel(ctx))
		return fmt.Errorf("server listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second

	err = server.Serve(ctx, srv, listener, shutdownTimeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
