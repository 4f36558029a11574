// Package collector implements the background refresh orchestrator: the only
// writer of both cache tiers. It keeps current-period data fresh on a fixed
// schedule, backfills closed periods idempotently, and serializes work per
// (tenant, platform, period) key through the in-flight guard.
package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/adpulse/internal/cache"
	"github.com/ignite/adpulse/internal/config"
	"github.com/ignite/adpulse/internal/domain"
	"github.com/ignite/adpulse/internal/period"
	"github.com/ignite/adpulse/internal/upstream"
)

// When a synchronous collection is skipped because another holder owns the
// in-flight key, the holder may not have written yet. The read-back polls a
// few times before reporting failure.
const (
	skipReadAttempts = 5
	skipReadDelay    = 200 * time.Millisecond
)

// CurrentStore is the mutable current-period tier as the collector needs it.
type CurrentStore interface {
	Get(ctx context.Context, tenant, platform, periodID string) (*cache.Entry, error)
	Put(ctx context.Context, e cache.Entry) error
	Delete(ctx context.Context, tenant, platform, periodID string) error
}

// ArchiveStore is the immutable closed-period tier as the collector needs it.
type ArchiveStore interface {
	Get(ctx context.Context, tenant, platform string, summaryType domain.SummaryType, summaryDate time.Time) (*domain.ArchiveRecord, error)
	Insert(ctx context.Context, rec domain.ArchiveRecord) (bool, error)
	Replace(ctx context.Context, rec domain.ArchiveRecord) error
}

// TenantSource lists the tenants eligible for collection.
type TenantSource interface {
	ListEligible(ctx context.Context) ([]domain.Tenant, error)
}

// Guard serializes collections per key across processes.
type Guard interface {
	Acquire(ctx context.Context, tenant, platform, periodID string, ttl time.Duration) (*cache.Lock, error)
}

// Metrics receives collection outcome counts. The API layer wires Prometheus
// here; tests use the zero-value Noop.
type Metrics interface {
	JobFinished(platform string, state domain.CollectionState, d time.Duration)
	RunFinished(d time.Duration)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) JobFinished(string, domain.CollectionState, time.Duration) {}
func (NoopMetrics) RunFinished(time.Duration)                                 {}

// Collector runs refresh cycles against the upstream fetcher and writes the
// results into the correct tier.
type Collector struct {
	fetcher   upstream.Fetcher
	current   CurrentStore
	archive   ArchiveStore
	tenants   TenantSource
	guard     Guard
	metrics   Metrics
	refresh   config.RefreshConfig
	staleness time.Duration
	timeout   time.Duration
	platforms []string

	// sleep and now are replaceable in tests so backoff, batch pauses,
	// and period boundaries are controllable.
	sleep func(time.Duration)
	now   func() time.Time

	mu         sync.RWMutex
	lastReport *domain.RunReport
	isRunning  bool
}

// New creates a collector.
func New(fetcher upstream.Fetcher, current CurrentStore, archive ArchiveStore, tenants TenantSource, guard Guard, cfg *config.Config) *Collector {
	return &Collector{
		fetcher:   fetcher,
		current:   current,
		archive:   archive,
		tenants:   tenants,
		guard:     guard,
		metrics:   NoopMetrics{},
		refresh:   cfg.Refresh,
		staleness: cfg.Cache.StalenessThreshold(),
		timeout:   cfg.Upstream.Timeout(),
		platforms: cfg.Platforms,
		sleep:     time.Sleep,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics wires an observer for job/run outcomes.
func (c *Collector) SetMetrics(m Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// Start begins the scheduled refresh loop. It blocks until ctx is cancelled;
// cancellation stops dispatching new jobs while in-flight jobs finish or
// time out on their own.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	c.isRunning = true
	c.mu.Unlock()

	log.Println("[Collector] Starting refresh loop...")

	c.RefreshAll(ctx)

	ticker := time.NewTicker(c.refresh.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Collector] Stopping refresh loop...")
			c.mu.Lock()
			c.isRunning = false
			c.mu.Unlock()
			return
		case <-ticker.C:
			c.RefreshAll(ctx)
		}
	}
}

// IsRunning reports whether the scheduled loop is active.
func (c *Collector) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// LastReport returns the most recent run report, or nil before the first run.
func (c *Collector) LastReport() *domain.RunReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastReport
}

// RefreshAll collects the in-progress month and week for every eligible
// tenant and platform. Tenants are processed in fixed-size batches with a
// pause in between to stay under the shared upstream rate budget; one
// tenant's failure never stops the others.
func (c *Collector) RefreshAll(ctx context.Context) domain.RunReport {
	now := c.now()
	report := domain.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: now,
	}

	tenants, err := c.tenants.ListEligible(ctx)
	if err != nil {
		log.Printf("[Collector] Error listing tenants: %v", err)
		report.FinishedAt = c.now()
		c.storeReport(&report)
		return report
	}
	report.Tenants = len(tenants)

	log.Printf("[Collector] Run %s: refreshing %d tenants", report.RunID, len(tenants))
	start := time.Now()

	batchSize := c.refresh.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for i := 0; i < len(tenants); i += batchSize {
		if ctx.Err() != nil {
			log.Printf("[Collector] Run %s cancelled after %d tenants", report.RunID, i)
			break
		}

		end := i + batchSize
		if end > len(tenants) {
			end = len(tenants)
		}

		var wg sync.WaitGroup
		var resMu sync.Mutex
		for _, tenant := range tenants[i:end] {
			wg.Add(1)
			go func(t domain.Tenant) {
				defer wg.Done()
				results := c.refreshTenant(ctx, t, now)
				resMu.Lock()
				report.Jobs = append(report.Jobs, results...)
				resMu.Unlock()
			}(tenant)
		}
		wg.Wait()

		if end < len(tenants) {
			c.sleep(c.refresh.BatchPause())
		}
	}

	report.FinishedAt = c.now()
	c.storeReport(&report)
	c.metrics.RunFinished(time.Since(start))

	counts := report.Counts()
	log.Printf("[Collector] Run %s finished in %v: %d succeeded, %d skipped, %d failed",
		report.RunID, time.Since(start),
		counts[domain.CollectionSucceeded], counts[domain.CollectionSkipped],
		counts[domain.CollectionFailedRetryable]+counts[domain.CollectionFailedTerminal])

	return report
}

// refreshTenant refreshes the current month and current ISO week for every
// platform the tenant is eligible on.
func (c *Collector) refreshTenant(ctx context.Context, tenant domain.Tenant, now time.Time) []domain.JobResult {
	var results []domain.JobResult
	for _, platform := range c.platforms {
		if !tenant.Eligible(platform) {
			continue
		}
		for _, p := range []domain.Period{period.Month(now), period.Week(now)} {
			results = append(results, c.runJob(ctx, tenant, platform, p, false, true))
		}
	}
	return results
}

// RefreshOne runs a targeted collection for one period, for operator
// backfills and the reader's on-demand path. recollect authorizes
// overwriting an existing archive record.
func (c *Collector) RefreshOne(ctx context.Context, tenant domain.Tenant, platform string, p domain.Period, recollect bool) domain.JobResult {
	return c.runJob(ctx, tenant, platform, p, recollect, false)
}

// CollectPeriod is the reader's synchronous on-demand path: it runs the
// single-period collection and returns the resulting snapshot.
func (c *Collector) CollectPeriod(ctx context.Context, tenant domain.Tenant, platform string, p domain.Period) (*domain.MetricSnapshot, error) {
	res := c.runJob(ctx, tenant, platform, p, false, false)
	switch res.State {
	case domain.CollectionSucceeded:
		return c.readBack(ctx, tenant.ID, platform, p)
	case domain.CollectionSkipped:
		// Fresh data already present, or another collection holds the
		// key. In the latter case the holder may still be writing, so
		// poll briefly before giving up.
		var (
			snap *domain.MetricSnapshot
			err  error
		)
		for i := 0; i < skipReadAttempts; i++ {
			if i > 0 {
				c.sleep(skipReadDelay)
			}
			snap, err = c.readBack(ctx, tenant.ID, platform, p)
			if err == nil || ctx.Err() != nil {
				return snap, err
			}
		}
		return nil, err
	default:
		return nil, fmt.Errorf("collect %s/%s/%s: %s", tenant.ID, platform, p.ID, res.Error)
	}
}

// readBack fetches the snapshot a finished collection wrote.
func (c *Collector) readBack(ctx context.Context, tenantID, platform string, p domain.Period) (*domain.MetricSnapshot, error) {
	if p.IsClosed(c.now()) {
		st, _ := domain.SummaryTypeFor(p.Kind)
		rec, err := c.archive.Get(ctx, tenantID, platform, st, p.Start)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("collect %s/%s/%s: no archive record after collection", tenantID, platform, p.ID)
		}
		return &rec.Snapshot, nil
	}

	entry, err := c.current.Get(ctx, tenantID, platform, p.ID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("collect %s/%s/%s: no cache entry after collection", tenantID, platform, p.ID)
	}
	return &entry.Snapshot, nil
}

func (c *Collector) storeReport(r *domain.RunReport) {
	c.mu.Lock()
	c.lastReport = r
	c.mu.Unlock()
}
