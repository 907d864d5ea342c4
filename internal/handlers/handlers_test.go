package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solarhaus/telemetry/internal/model"
)

// fakeStore is an in-memory SampleStore with the real store's idempotency
// semantics: (device_id, ts) is a primary key and conflicts insert nothing.
type fakeStore struct {
	mu        sync.Mutex
	samples   map[string]model.Sample
	series    []model.BucketRow
	insertErr error
	latestErr error
	seriesErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{samples: make(map[string]model.Sample)}
}

func sampleKey(deviceID string, ts time.Time) string {
	return fmt.Sprintf("%s|%d", deviceID, ts.UnixNano())
}

func (f *fakeStore) InsertSamples(ctx context.Context, samples []model.Sample) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	var inserted int64
	for _, s := range samples {
		key := sampleKey(s.DeviceID, s.TS)
		if _, dup := f.samples[key]; dup {
			continue
		}
		f.samples[key] = s
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) Latest(ctx context.Context, deviceID string) (*model.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	var latest *model.Sample
	for _, s := range f.samples {
		if s.DeviceID != deviceID {
			continue
		}
		if latest == nil || s.TS.After(latest.TS) {
			cp := s
			latest = &cp
		}
	}
	return latest, nil
}

func (f *fakeStore) Series(ctx context.Context, deviceID, frame string) ([]model.BucketRow, error) {
	if f.seriesErr != nil {
		return nil, f.seriesErr
	}
	return f.series, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

// fakeCache records cache traffic for assertions.
type fakeCache struct {
	mu          sync.Mutex
	data        map[string][]byte
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
}

func (f *fakeCache) Delete(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
}

func (f *fakeCache) InvalidateDevice(ctx context.Context, deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, deviceID)
	delete(f.data, "realtime:"+deviceID)
}

func (f *fakeCache) invalidations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}
