// The edge daemon polls a Sungrow hybrid inverter over Modbus TCP,
// normalizes register readings into samples, spools them durably on local
// disk, and uploads batches to the ingest service.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solarhaus/telemetry/internal/config"
	"github.com/solarhaus/telemetry/internal/edge"
	"github.com/solarhaus/telemetry/internal/metrics"
	"github.com/solarhaus/telemetry/internal/poller"
	"github.com/solarhaus/telemetry/internal/registers"
	"github.com/solarhaus/telemetry/internal/spool"
	"github.com/solarhaus/telemetry/internal/uploader"
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadEdge()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.RawDebugEnabled {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	catalog, err := registers.NewCatalog()
	if err != nil {
		log.Fatalf("Register catalog: %v", err)
	}

	sp, err := spool.Open(cfg.SpoolPath)
	if err != nil {
		log.Fatalf("Failed to open spool at %s: %v", cfg.SpoolPath, err)
	}
	defer sp.Close()

	up, err := uploader.New(cfg.VPSBaseURL, cfg.VPSDeviceToken, cfg.BatchSize,
		uploader.WithMaxBackoff(time.Duration(cfg.MaxBackoffS)*time.Second))
	if err != nil {
		log.Fatalf("Uploader: %v", err)
	}

	dialer := &poller.TCPDialer{
		Addr:    fmt.Sprintf("%s:%d", cfg.SungrowHost, cfg.SungrowPort),
		SlaveID: byte(cfg.SungrowSlaveID),
	}
	p := poller.New(dialer, catalog, time.Duration(cfg.InterRegisterDelayMs)*time.Millisecond)

	reg := prometheus.NewRegistry()
	em := metrics.NewEdgeMetrics(reg)
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Warn("metrics listener stopped", "error", err)
			}
		}()
	}

	rawDebugEvery := 0
	if cfg.RawDebugEnabled {
		rawDebugEvery = cfg.RawDebugEveryNPolls
	}

	sup := &edge.Supervisor{
		Poller:         p,
		Catalog:        catalog,
		Spool:          sp,
		Uploader:       up,
		Liveness:       edge.NewLiveness(cfg.HealthPath),
		Metrics:        em,
		DeviceID:       cfg.DeviceID,
		PollInterval:   time.Duration(cfg.PollIntervalS) * time.Second,
		UploadInterval: time.Duration(cfg.UploadIntervalS) * time.Second,
		RawDebugEveryN: rawDebugEvery,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("edge daemon starting",
		"device_id", cfg.DeviceID,
		"inverter", cfg.SungrowHost,
		"poll_interval_s", cfg.PollIntervalS,
		"batch_size", cfg.BatchSize,
		"vps", cfg.VPSBaseURL,
		"token", config.MaskedToken(cfg.VPSDeviceToken),
	)

	sup.Run(ctx)
	slog.Info("edge daemon stopped")
}
