// The ingest service accepts sample batches from edge devices, stores them
// in TimescaleDB, and serves realtime and historical queries to the
// dashboard.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solarhaus/telemetry/internal/auth"
	"github.com/solarhaus/telemetry/internal/cache"
	"github.com/solarhaus/telemetry/internal/config"
	"github.com/solarhaus/telemetry/internal/handlers"
	"github.com/solarhaus/telemetry/internal/metrics"
	"github.com/solarhaus/telemetry/internal/middleware"
	"github.com/solarhaus/telemetry/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	verifier := auth.ParseDeviceTokens(cfg.DeviceTokens)
	if verifier.Len() == 0 {
		// Refuse to run with an empty credential set rather than reject
		// every request at runtime.
		log.Fatal("DEVICE_TOKENS contains no valid device:token entries")
	}

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := st.Migrate(migrateCtx); err != nil {
		cancel()
		log.Fatalf("Migration failed: %v", err)
	}
	cancel()

	c, err := cache.NewRedis(cfg.CacheURL)
	if err != nil {
		log.Fatalf("Failed to connect to cache: %v", err)
	}
	defer c.Close()

	reg := prometheus.NewRegistry()
	sm := metrics.NewServerMetrics(reg)

	limits := handlers.Limits{
		MaxSamplesPerRequest: cfg.MaxSamplesPerRequest,
		MaxRequestBytes:      cfg.MaxRequestBytes,
	}
	cacheTTL := time.Duration(cfg.CacheTTLS) * time.Second

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.Health()).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/ingest", handlers.Ingest(verifier, st, c, limits, sm)).Methods(http.MethodPost)
	v1.HandleFunc("/realtime", handlers.Realtime(verifier, st, c, cacheTTL, sm)).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/series", handlers.Series(verifier, st)).Methods(http.MethodGet, http.MethodOptions)

	router.Use(middleware.CORS(cfg.DashboardOrigin))
	router.Use(middleware.RequestLog(sm))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("ingest service listening",
		"port", cfg.Port,
		"devices", verifier.Len(),
		"max_samples", cfg.MaxSamplesPerRequest,
		"cache_ttl_s", cfg.CacheTTLS,
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	slog.Info("ingest service stopped")
}
