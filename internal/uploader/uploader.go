// Package uploader drains the local spool to the ingest service over HTTPS.
//
// UploadBatch peeks a batch from the spool, POSTs it to {base_url}/v1/ingest
// with bearer authentication, and acknowledges the peeked rows only after a
// 2xx response. Failed uploads leave the spool untouched and double the
// backoff delay (capped), which the edge supervisor applies between
// attempts. TLS certificate verification is always on and the base URL must
// use the https scheme; both are enforced at construction.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/solarhaus/telemetry/internal/spool"
)

const (
	initialBackoff    = 1 * time.Second
	defaultMaxBackoff = 300 * time.Second
	defaultTimeout    = 30 * time.Second
)

// Uploader posts spooled samples to the ingest endpoint. It never sleeps
// itself; the supervisor paces calls and may consult CurrentBackoff.
type Uploader struct {
	ingestURL  string
	token      string
	batchSize  int
	maxBackoff time.Duration
	backoff    time.Duration
	client     *http.Client
}

// Option adjusts an Uploader at construction.
type Option func(*Uploader)

// WithMaxBackoff overrides the 300 s backoff cap.
func WithMaxBackoff(d time.Duration) Option {
	return func(u *Uploader) { u.maxBackoff = d }
}

// WithHTTPClient replaces the default client. Used by tests; production
// wiring keeps the default, which verifies TLS certificates.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) { u.client = c }
}

// New validates the base URL and builds an Uploader. A non-https scheme is
// a construction error: the edge never sends telemetry in the clear.
func New(baseURL, token string, batchSize int, opts ...Option) (*Uploader, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use https (got %q)", baseURL)
	}

	u := &Uploader{
		ingestURL:  baseURL + "/v1/ingest",
		token:      token,
		batchSize:  batchSize,
		maxBackoff: defaultMaxBackoff,
		backoff:    initialBackoff,
		client:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// CurrentBackoff is the delay to wait before the next attempt after a
// failure. Starts at 1 s, doubles per consecutive failure, capped, and
// resets to 1 s on success.
func (u *Uploader) CurrentBackoff() time.Duration { return u.backoff }

// batchRequest is the wire body for POST /v1/ingest.
type batchRequest struct {
	Samples []json.RawMessage `json:"samples"`
}

// UploadBatch peeks up to batchSize entries, uploads them, and acks exactly
// the peeked sequences on success. Returns false when the spool is empty or
// the upload failed; only upload failures advance the backoff.
func (u *Uploader) UploadBatch(ctx context.Context, sp *spool.Spool) bool {
	entries, err := sp.Peek(ctx, u.batchSize)
	if err != nil {
		slog.Error("spool peek failed", "error", err)
		return false
	}
	if len(entries) == 0 {
		return false
	}

	seqs := make([]int64, len(entries))
	samples := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		seqs[i] = e.Seq
		samples[i] = json.RawMessage(e.Payload)
	}

	body, err := json.Marshal(batchRequest{Samples: samples})
	if err != nil {
		slog.Error("marshal upload batch", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.ingestURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("build ingest request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.client.Do(req)
	if err != nil {
		// A canceled context is the caller shutting down, not the server
		// failing; it must not inflate the retry delay.
		if ctx.Err() != nil {
			slog.Debug("upload aborted", "error", err)
			return false
		}
		slog.Warn("upload failed (network error)", "error", err)
		u.increaseBackoff()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := sp.Ack(ctx, seqs); err != nil {
			// The server stored the batch; ingest is idempotent, so the
			// re-send after this failure inserts nothing twice.
			slog.Error("ack after successful upload failed", "error", err)
			return false
		}
		slog.Info("uploaded samples", "count", len(samples), "first_seq", seqs[0], "last_seq", seqs[len(seqs)-1])
		u.backoff = initialBackoff
		return true
	}

	slog.Warn("upload failed", "status", resp.StatusCode, "next_backoff", u.backoff)
	u.increaseBackoff()
	return false
}

func (u *Uploader) increaseBackoff() {
	u.backoff *= 2
	if u.backoff > u.maxBackoff {
		u.backoff = u.maxBackoff
	}
}
