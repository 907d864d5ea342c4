// Package store persists samples in PostgreSQL/TimescaleDB.
//
// The base table sungrow_samples is a hypertable partitioned on ts with
// 7-day chunks and a composite primary key (device_id, ts), the identity
// that makes ingest idempotent. Three continuous aggregates roll samples up
// into hourly, daily, and monthly buckets with refresh policies that lag the
// current bucket so readers only see stable aggregates.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/solarhaus/telemetry/internal/model"
)

// Store wraps the database pool. One instance is shared by all requests;
// database/sql hands each query its own pooled connection.
type Store struct {
	db *sql.DB
}

// New connects to the database and verifies the connection.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// InsertSamples bulk-inserts a batch with ON CONFLICT (device_id, ts)
// DO NOTHING and returns the number of rows actually inserted. Duplicates
// are not errors; they simply don't count.
func (s *Store) InsertSamples(ctx context.Context, samples []model.Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	const cols = 10
	placeholders := make([]string, 0, len(samples))
	args := make([]any, 0, len(samples)*cols)
	for i, smp := range samples {
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
		args = append(args,
			smp.DeviceID, smp.TS, smp.PVPowerW, smp.PVDailyKWh,
			smp.BatteryPowerW, smp.BatterySOCPct, smp.BatteryTempC,
			smp.LoadPowerW, smp.ExportPowerW, smp.SampleCount)
	}

	query := "INSERT INTO sungrow_samples " +
		"(device_id, ts, pv_power_w, pv_daily_kwh, battery_power_w, battery_soc_pct, " +
		"battery_temp_c, load_power_w, export_power_w, sample_count) VALUES " +
		strings.Join(placeholders, ", ") +
		" ON CONFLICT (device_id, ts) DO NOTHING"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert samples: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert samples rows affected: %w", err)
	}
	return inserted, nil
}

// Latest returns the greatest-ts sample for a device, or nil when the
// device has no stored data.
func (s *Store) Latest(ctx context.Context, deviceID string) (*model.Sample, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT device_id, ts, pv_power_w, pv_daily_kwh, battery_power_w, battery_soc_pct,
		        battery_temp_c, load_power_w, export_power_w, sample_count
		 FROM sungrow_samples
		 WHERE device_id = $1
		 ORDER BY ts DESC
		 LIMIT 1`, deviceID)

	var smp model.Sample
	err := row.Scan(&smp.DeviceID, &smp.TS, &smp.PVPowerW, &smp.PVDailyKWh,
		&smp.BatteryPowerW, &smp.BatterySOCPct, &smp.BatteryTempC,
		&smp.LoadPowerW, &smp.ExportPowerW, &smp.SampleCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest sample: %w", err)
	}
	smp.TS = smp.TS.UTC()
	return &smp, nil
}

// frameConfig maps a query frame to its aggregate view, the equivalent
// date_trunc unit for live bucketing, and the window-start truncation.
type frameConfig struct {
	view       string
	bucketUnit string // date_trunc unit matching the view's bucket width
	windowUnit string // truncation of now() for the window start; "" = all time
}

var frames = map[string]frameConfig{
	"day":   {view: "sungrow_hourly", bucketUnit: "hour", windowUnit: "day"},
	"month": {view: "sungrow_daily", bucketUnit: "day", windowUnit: "month"},
	"year":  {view: "sungrow_monthly", bucketUnit: "month", windowUnit: "year"},
	"all":   {view: "sungrow_monthly", bucketUnit: "month"},
}

// ValidFrame reports whether frame is one of day, month, year, all.
func ValidFrame(frame string) bool {
	_, ok := frames[frame]
	return ok
}

// windowStart computes the UTC left edge of the frame's window, or nil for
// an unbounded frame. Computed in Go so bucket boundaries are pinned to UTC
// regardless of the database session timezone.
func (fc frameConfig) windowStart(now time.Time) *time.Time {
	now = now.UTC()
	var start time.Time
	switch fc.windowUnit {
	case "day":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "year":
		start = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return nil
	}
	return &start
}

// Series returns bucketed aggregates for a device and frame, ascending by
// bucket. It queries the continuous aggregate view first and falls back to
// live bucketing over the base table when the view is unavailable (fresh
// environment, plain Postgres).
func (s *Store) Series(ctx context.Context, deviceID, frame string) ([]model.BucketRow, error) {
	fc, ok := frames[frame]
	if !ok {
		return nil, fmt.Errorf("invalid frame %q", frame)
	}
	start := fc.windowStart(time.Now())

	rows, err := s.querySeriesView(ctx, deviceID, fc, start)
	if err == nil {
		return rows, nil
	}
	slog.Warn("aggregate view query failed, falling back to live bucketing",
		"view", fc.view, "error", err)
	return s.querySeriesFallback(ctx, deviceID, fc, start)
}

func (s *Store) querySeriesView(ctx context.Context, deviceID string, fc frameConfig, start *time.Time) ([]model.BucketRow, error) {
	query := fmt.Sprintf(
		`SELECT bucket, avg_pv_power_w, max_pv_power_w, avg_battery_power_w,
		        avg_battery_soc_pct, avg_load_power_w, avg_export_power_w, sample_count
		 FROM %s
		 WHERE device_id = $1`, fc.view)
	args := []any{deviceID}
	if start != nil {
		query += " AND bucket >= $2"
		args = append(args, *start)
	}
	query += " ORDER BY bucket ASC"

	return s.scanBuckets(ctx, query, args...)
}

// querySeriesFallback computes the same aggregates on the fly from the base
// table with date_trunc bucketing, which left-aligns buckets exactly like
// the views' time_bucket widths.
func (s *Store) querySeriesFallback(ctx context.Context, deviceID string, fc frameConfig, start *time.Time) ([]model.BucketRow, error) {
	query := fmt.Sprintf(
		`SELECT date_trunc('%s', ts AT TIME ZONE 'UTC') AT TIME ZONE 'UTC' AS bucket,
		        AVG(pv_power_w)      AS avg_pv_power_w,
		        MAX(pv_power_w)      AS max_pv_power_w,
		        AVG(battery_power_w) AS avg_battery_power_w,
		        AVG(battery_soc_pct) AS avg_battery_soc_pct,
		        AVG(load_power_w)    AS avg_load_power_w,
		        AVG(export_power_w)  AS avg_export_power_w,
		        SUM(sample_count)    AS sample_count
		 FROM sungrow_samples
		 WHERE device_id = $1`, fc.bucketUnit)
	args := []any{deviceID}
	if start != nil {
		query += " AND ts >= $2"
		args = append(args, *start)
	}
	query += " GROUP BY bucket ORDER BY bucket ASC"

	return s.scanBuckets(ctx, query, args...)
}

func (s *Store) scanBuckets(ctx context.Context, query string, args ...any) ([]model.BucketRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []model.BucketRow{}
	for rows.Next() {
		var b model.BucketRow
		if err := rows.Scan(&b.Bucket, &b.AvgPVPowerW, &b.MaxPVPowerW,
			&b.AvgBatteryPowerW, &b.AvgBatterySOCPct, &b.AvgLoadPowerW,
			&b.AvgExportPowerW, &b.SampleCount); err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}
		b.Bucket = b.Bucket.UTC()
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
