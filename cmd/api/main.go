package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/teleconsult-api/internal/config"
	"github.com/jwalitptl/teleconsult-api/internal/handler/audit"
	"github.com/jwalitptl/teleconsult-api/internal/handler/availability"
	"github.com/jwalitptl/teleconsult-api/internal/handler/booking"
	"github.com/jwalitptl/teleconsult-api/internal/handler/consultation"
	"github.com/jwalitptl/teleconsult-api/internal/handler/health"
	"github.com/jwalitptl/teleconsult-api/internal/handler/payment"
	"github.com/jwalitptl/teleconsult-api/internal/handler/prescription"
	promhandler "github.com/jwalitptl/teleconsult-api/internal/handler/prometheus"
	"github.com/jwalitptl/teleconsult-api/internal/middleware"
	"github.com/jwalitptl/teleconsult-api/internal/repository/postgres"
	"github.com/jwalitptl/teleconsult-api/internal/router"
	auditService "github.com/jwalitptl/teleconsult-api/internal/service/audit"
	availabilityService "github.com/jwalitptl/teleconsult-api/internal/service/availability"
	bookingService "github.com/jwalitptl/teleconsult-api/internal/service/booking"
	consultationService "github.com/jwalitptl/teleconsult-api/internal/service/consultation"
	eventService "github.com/jwalitptl/teleconsult-api/internal/service/event"
	paymentService "github.com/jwalitptl/teleconsult-api/internal/service/payment"
	prescriptionService "github.com/jwalitptl/teleconsult-api/internal/service/prescription"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
	"github.com/jwalitptl/teleconsult-api/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Pretty:     cfg.Log.Pretty,
	})
	log.Logger = appLogger.ZL

	if appLogger.ZL.GetLevel() > logger.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, cfg.Database.LockTimeout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(cfg.Metrics.Namespace, "api", reg)
	httpMetrics := promhandler.New(cfg.Metrics.Namespace, reg, reg)

	auditor := auditService.NewService(repos.Audit)
	events := eventService.NewService(repos.Outbox)

	ledger := bookingService.NewLedger(repos.Bookings, cfg.Idempotency.CacheTTL, cfg.Idempotency.CleanupInterval)
	bookingSvc := bookingService.NewService(repos.Tx, repos.Slots, repos.Consultations, repos.Bookings,
		ledger, auditor, events, m, appLogger)
	consultationSvc := consultationService.NewService(repos.Tx, repos.Consultations, auditor, events, m, appLogger)
	paymentSvc := paymentService.NewService(repos.Tx, repos.Payments, repos.Consultations, auditor, events, m,
		appLogger, cfg.Payment.DefaultCurrency)
	availabilitySvc := availabilityService.NewService(repos.Tx, repos.Slots, auditor, appLogger)
	prescriptionSvc := prescriptionService.NewService(repos.Tx, repos.Prescriptions, repos.Consultations,
		auditor, events, appLogger)

	if err := middleware.RegisterValidators(); err != nil {
		appLogger.Fatal(err, "failed to register validators")
	}

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}

	r := router.NewRouter(
		middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer),
		health.NewHandler(db, httpMetrics.Handler()),
		httpMetrics,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   cfg.Server.RequestTimeout,
			MaxBodySize:      middleware.DefaultMaxBodySize,
			CORSConfig:       corsConfig,
		},
		booking.NewHandler(bookingSvc),
		consultation.NewHandler(consultationSvc),
		payment.NewHandler(paymentSvc),
		availability.NewHandler(availabilitySvc),
		prescription.NewHandler(prescriptionSvc),
		audit.NewHandler(auditor),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}
