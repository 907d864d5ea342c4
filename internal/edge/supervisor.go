// Package edge runs the on-site daemon: a poll loop that turns Modbus
// register reads into spooled samples and an upload loop that drains the
// spool to the ingest service. The two loops share nothing but the spool,
// so a dead network never blocks polling and a dead inverter never blocks
// draining the backlog.
package edge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/solarhaus/telemetry/internal/metrics"
	"github.com/solarhaus/telemetry/internal/normalizer"
	"github.com/solarhaus/telemetry/internal/poller"
	"github.com/solarhaus/telemetry/internal/registers"
	"github.com/solarhaus/telemetry/internal/spool"
	"github.com/solarhaus/telemetry/internal/uploader"
)

// Supervisor owns the edge daemon's two loops and the liveness file.
type Supervisor struct {
	Poller   *poller.Poller
	Catalog  *registers.Catalog
	Spool    *spool.Spool
	Uploader *uploader.Uploader
	Liveness *Liveness
	Metrics  *metrics.EdgeMetrics

	DeviceID       string
	PollInterval   time.Duration
	UploadInterval time.Duration

	// RawDebugEveryN > 0 logs the full raw register map every N successful
	// polls, for field diagnosis of scaling problems.
	RawDebugEveryN int

	pollCount int
}

// Run starts both loops and blocks until ctx is canceled, then performs one
// final upload attempt to shorten the backlog before exit.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.uploadLoop(ctx)
	}()
	wg.Wait()

	// Shutdown flush: a single bounded attempt. Anything still pending
	// survives in the spool for the next start.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.Uploader.UploadBatch(flushCtx, s.Spool) {
		slog.Info("final upload flush succeeded")
	}
	s.updateSpoolGauge(flushCtx)
	if err := s.Liveness.Flush(); err != nil {
		slog.Warn("liveness flush on shutdown failed", "error", err)
	}
}

// pollLoop runs one poll cycle per interval. Cycle duration counts against
// the interval; a slow cycle starts the next one immediately.
func (s *Supervisor) pollLoop(ctx context.Context) {
	for {
		start := time.Now()
		s.pollCycle(ctx)

		elapsed := time.Since(start)
		if wait := s.PollInterval - elapsed; wait > 0 {
			if !sleepCtx(ctx, wait) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Supervisor) pollCycle(ctx context.Context) {
	raw := s.Poller.Poll(ctx)
	if raw == nil {
		if ctx.Err() == nil {
			s.Metrics.PollTotal.WithLabelValues("failure").Inc()
		}
		return
	}

	s.pollCount++
	if s.RawDebugEveryN > 0 && s.pollCount%s.RawDebugEveryN == 0 {
		slog.Debug("raw register snapshot", "registers", raw)
	}

	now := time.Now().UTC()
	sample, err := normalizer.Normalize(s.Catalog, raw, s.DeviceID, now)
	if err != nil {
		// The whole sample is dropped; a partially trusted sample would
		// poison the aggregates.
		slog.Warn("sample rejected", "error", err)
		s.Metrics.PollTotal.WithLabelValues("rejected").Inc()
		return
	}

	payload, err := sample.Encode()
	if err != nil {
		slog.Error("encode sample", "error", err)
		s.Metrics.PollTotal.WithLabelValues("rejected").Inc()
		return
	}
	if err := s.Spool.Enqueue(ctx, payload); err != nil {
		slog.Error("spool enqueue failed", "error", err)
		s.Metrics.PollTotal.WithLabelValues("failure").Inc()
		return
	}

	s.Metrics.PollTotal.WithLabelValues("success").Inc()
	s.Liveness.RecordPoll(now)
	s.updateSpoolGauge(ctx)
	if err := s.Liveness.Flush(); err != nil {
		slog.Warn("liveness flush failed", "error", err)
	}
}

// uploadLoop drains the spool batch by batch. After draining it (or after a
// failure) it sleeps: the regular interval when idle, the uploader's
// current backoff after a failure.
func (s *Supervisor) uploadLoop(ctx context.Context) {
	for {
		drainedAll := s.drain(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := s.UploadInterval
		if !drainedAll {
			wait = s.Uploader.CurrentBackoff()
		}
		s.Metrics.UploadBackoff.Set(s.Uploader.CurrentBackoff().Seconds())
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// drain uploads batches until the spool is empty or an attempt fails.
// Reports whether it stopped because the spool was empty.
func (s *Supervisor) drain(ctx context.Context) bool {
	for {
		n, err := s.Spool.Count(ctx)
		if err != nil {
			slog.Error("spool count failed", "error", err)
			return true
		}
		s.Metrics.SpoolDepth.Set(float64(n))
		if n == 0 {
			return true
		}

		if !s.Uploader.UploadBatch(ctx, s.Spool) {
			if ctx.Err() == nil {
				s.Metrics.UploadTotal.WithLabelValues("failure").Inc()
			}
			return false
		}
		s.Metrics.UploadTotal.WithLabelValues("success").Inc()
		s.Liveness.RecordUpload(time.Now().UTC())
		s.updateSpoolGauge(ctx)
		if err := s.Liveness.Flush(); err != nil {
			slog.Warn("liveness flush failed", "error", err)
		}
	}
}

func (s *Supervisor) updateSpoolGauge(ctx context.Context) {
	if n, err := s.Spool.Count(ctx); err == nil {
		s.Metrics.SpoolDepth.Set(float64(n))
		s.Liveness.SetSpoolCount(n)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
