package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-engine/internal/logger"
	"trading-engine/internal/scheduler"
)

// SyncStats are monotonic counters for the refresh loop. Snapshot values;
// safe to hand out.
type SyncStats struct {
	Cycles          int64     `json:"cycles"`
	Failures        int64     `json:"failures"`
	QuotesSynced    int64     `json:"quotes_synced"`
	StatsSynced     int64     `json:"stats_synced"`
	LastSyncAt      time.Time `json:"last_sync_at"`
	LastSyncElapsed string    `json:"last_sync_elapsed"`
}

// Sync periodically copies the latest database rows into the Redis cache.
type Sync struct {
	reader Reader
	cache  Cache
	sched  *scheduler.Scheduler

	mu      sync.Mutex
	running bool
	stats   SyncStats
}

// NewSync wires a reader and a cache. The sync owns its scheduler.
func NewSync(reader Reader, cache Cache) *Sync {
	return &Sync{
		reader: reader,
		cache:  cache,
		sched:  scheduler.New(),
	}
}

// Start begins refreshing every interval. The first refresh happens one
// interval after Start, not immediately.
func (s *Sync) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.sched.AddTask(func() {
		if err := s.SyncOnce(context.Background()); err != nil {
			logger.Warn(context.Background(), "Market data sync cycle failed", "error", err.Error())
		}
	}, interval)
	s.sched.Start()
	logger.Info(context.Background(), "Market data sync started", "interval", interval.String())
}

// Stop halts the refresh loop and waits for the scheduler worker to exit.
// An in-flight refresh finishes on its own.
func (s *Sync) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.sched.Stop()
	logger.Info(context.Background(), "Market data sync stopped")
}

// Running reports whether the refresh loop is active.
func (s *Sync) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SyncOnce performs one full refresh: latest raw quotes and price stats
// from the database into the cache. Individual store failures abort the
// pass and count as one failed cycle; the next cycle retries everything.
func (s *Sync) SyncOnce(ctx context.Context) error {
	timer := logger.StartOperation(ctx, "marketdata.sync")
	ctx = timer.GetContext()

	quotes, stats, err := s.syncOnce(ctx)

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.LastSyncAt = time.Now()
	s.stats.LastSyncElapsed = timer.Elapsed().String()
	if err != nil {
		s.stats.Failures++
	} else {
		s.stats.QuotesSynced += int64(quotes)
		s.stats.StatsSynced += int64(stats)
	}
	s.mu.Unlock()

	if err != nil {
		timer.EndWithError(err)
		return err
	}
	timer.End("quotes", quotes, "stats", stats)
	return nil
}

func (s *Sync) syncOnce(ctx context.Context) (int, int, error) {
	quotes, err := s.reader.LatestRawQuotes(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read raw quotes: %w", err)
	}
	for _, q := range quotes {
		if err := s.cache.StoreRawQuote(ctx, q); err != nil {
			return 0, 0, err
		}
	}

	stats, err := s.reader.LatestPriceStats(ctx)
	if err != nil {
		return len(quotes), 0, fmt.Errorf("read price stats: %w", err)
	}
	for _, ps := range stats {
		if err := s.cache.StorePriceStats(ctx, ps); err != nil {
			return len(quotes), 0, err
		}
	}
	return len(quotes), len(stats), nil
}

// Stats returns a snapshot of the counters.
func (s *Sync) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Healthy reports whether the cache answers a ping. The database is
// deliberately excluded: sessions trade off the cache, so a database
// outage degrades freshness without taking trading down.
func (s *Sync) Healthy(ctx context.Context) bool {
	return s.cache.Ping(ctx) == nil
}
