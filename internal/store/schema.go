package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Schema DDL. All statements are idempotent so Migrate can run on every
// startup instead of through a migration tool.
const createSamplesTable = `
CREATE TABLE IF NOT EXISTS sungrow_samples (
    device_id       TEXT NOT NULL,
    ts              TIMESTAMPTZ NOT NULL,
    pv_power_w      DOUBLE PRECISION NOT NULL,
    pv_daily_kwh    DOUBLE PRECISION,
    battery_power_w DOUBLE PRECISION NOT NULL,
    battery_soc_pct DOUBLE PRECISION NOT NULL,
    battery_temp_c  DOUBLE PRECISION,
    load_power_w    DOUBLE PRECISION NOT NULL,
    export_power_w  DOUBLE PRECISION NOT NULL,
    sample_count    INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (device_id, ts)
);`

const createHypertable = `
SELECT create_hypertable('sungrow_samples', 'ts',
    chunk_time_interval => INTERVAL '7 days',
    if_not_exists => TRUE
);`

// aggregate describes one continuous aggregate view and its refresh policy.
// The refresh windows deliberately exclude the current bucket so readers
// only ever see stable aggregates.
type aggregate struct {
	view             string
	bucketInterval   string
	startOffset      string
	endOffset        string
	scheduleInterval string
}

var aggregates = []aggregate{
	{view: "sungrow_hourly", bucketInterval: "1 hour", startOffset: "3 hours", endOffset: "1 hour", scheduleInterval: "1 hour"},
	{view: "sungrow_daily", bucketInterval: "1 day", startOffset: "3 days", endOffset: "1 day", scheduleInterval: "1 day"},
	{view: "sungrow_monthly", bucketInterval: "1 month", startOffset: "3 months", endOffset: "1 month", scheduleInterval: "1 day"},
}

func (a aggregate) createSQL() string {
	// sample_count aggregates by SUM to stay weight-preserving if raw rows
	// are ever compacted into pre-aggregated samples.
	return fmt.Sprintf(`CREATE MATERIALIZED VIEW IF NOT EXISTS %s
WITH (timescaledb.continuous) AS
SELECT
    device_id,
    time_bucket('%s', ts) AS bucket,
    AVG(pv_power_w)       AS avg_pv_power_w,
    MAX(pv_power_w)       AS max_pv_power_w,
    AVG(battery_power_w)  AS avg_battery_power_w,
    AVG(battery_soc_pct)  AS avg_battery_soc_pct,
    AVG(load_power_w)     AS avg_load_power_w,
    AVG(export_power_w)   AS avg_export_power_w,
    SUM(sample_count)     AS sample_count
FROM sungrow_samples
GROUP BY device_id, bucket
WITH NO DATA`, a.view, a.bucketInterval)
}

func (a aggregate) policySQL() string {
	return fmt.Sprintf(`SELECT add_continuous_aggregate_policy('%s',
    start_offset      => INTERVAL '%s',
    end_offset        => INTERVAL '%s',
    schedule_interval => INTERVAL '%s',
    if_not_exists     => TRUE
)`, a.view, a.startOffset, a.endOffset, a.scheduleInterval)
}

// Migrate applies the schema: extension, hypertable, and the three
// continuous aggregates with their refresh policies. On plain Postgres
// (no TimescaleDB) the table is still created and the aggregate steps are
// skipped with a warning; the series endpoint then serves from the live
// bucketing fallback.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		slog.Warn("timescaledb extension unavailable, continuing with plain table", "error", err)
	}

	if _, err := s.db.ExecContext(ctx, createSamplesTable); err != nil {
		return fmt.Errorf("create sungrow_samples: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createHypertable); err != nil {
		slog.Warn("create_hypertable failed, continuing with plain table", "error", err)
		return nil
	}

	for _, agg := range aggregates {
		if _, err := s.db.ExecContext(ctx, agg.createSQL()); err != nil {
			slog.Warn("continuous aggregate unavailable", "view", agg.view, "error", err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, agg.policySQL()); err != nil {
			slog.Warn("refresh policy unavailable", "view", agg.view, "error", err)
		}
	}
	return nil
}
