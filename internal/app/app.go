package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/reconcile"
	"github.com/xenking/paygate/internal/events"
	"github.com/xenking/paygate/internal/handler"
	"github.com/xenking/paygate/pkg/health"
	"github.com/xenking/paygate/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("currency", cfg.Payments.Currency),
	)

	ceiling, err := cfg.Payments.Ceiling()
	if err != nil {
		return err
	}

	b, err := OpenBackend(ctx, lg, cfg.Storage)
	if err != nil {
		return err
	}
	defer b.Close()

	// Status change publishing.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		k := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := k.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		publisher = k
		lg.Info("Publishing status changes",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	registry, clients := gateways(lg, m, cfg)
	engine, err := reconcile.New(b.Store, registry,
		reconcile.WithCeiling(ceiling),
		reconcile.WithCurrency(cfg.Payments.Currency),
		reconcile.WithGatewayTimeout(cfg.Payments.GatewayTimeout),
		reconcile.WithChargeGateway(cfg.Payments.ChargeGateway),
		reconcile.WithPublisher(publisher),
		reconcile.WithTracerProvider(m.TracerProvider()),
		reconcile.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create engine")
	}

	// Health check service. Open gateway breakers are reported but never
	// take the service out of rotation.
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	if b.Ping != nil {
		healthSvc.AddReadinessCheck(cfg.Storage.Driver, 5*time.Second, b.Ping)
	}
	for _, c := range clients {
		healthSvc.AddInfoCheck("gateway:"+c.Name(), time.Second, c.Check, health.WithThresholds(1, 1))
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	security := handler.NewSecurityHandler(b.keyRepository(cfg.APIKeyHashes), cfg.APIKeyPepper)
	router := handler.NewHandler(handler.HandlerConfig{}, engine, security).Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payments.GatewayTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, "api_key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   httpmiddleware.SkipPrefix("/api/notify/", "/livez", "/readyz"),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("paygate-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening",
		zap.String("addr", cfg.Addr),
		zap.Strings("gateways", registry.Names()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
