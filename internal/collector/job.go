package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/adpulse/internal/cache"
	"github.com/ignite/adpulse/internal/domain"
	"github.com/ignite/adpulse/internal/funnel"
	"github.com/ignite/adpulse/internal/upstream"
)

// guardTTL bounds how long a crashed worker can hold an in-flight key.
const guardTTL = 10 * time.Minute

// runJob executes one (tenant, platform, period) collection end to end:
// in-flight lock, staleness check, bounded-retry fetch, parse, and the write
// into the tier the period belongs to.
//
// skipFresh is set on scheduled runs so a still-fresh current entry is not
// re-fetched; targeted calls always collect.
func (c *Collector) runJob(ctx context.Context, tenant domain.Tenant, platform string, p domain.Period, recollect, skipFresh bool) domain.JobResult {
	start := time.Now()
	result := domain.JobResult{
		Tenant:   tenant.ID,
		Platform: platform,
		PeriodID: p.ID,
		State:    domain.CollectionPending,
	}
	finish := func(state domain.CollectionState, err error) domain.JobResult {
		result.State = state
		result.Duration = time.Since(start)
		if err != nil {
			result.Error = err.Error()
		}
		c.metrics.JobFinished(platform, state, result.Duration)
		return result
	}

	accountRef := tenant.AccountRefs[platform]
	if accountRef == "" {
		return finish(domain.CollectionFailedTerminal, fmt.Errorf("tenant %s has no %s account", tenant.ID, platform))
	}
	if !p.IsCanonical() {
		return finish(domain.CollectionFailedTerminal, fmt.Errorf("period %s-%s is not canonical", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02")))
	}

	now := c.now()
	closed := p.IsClosed(now)

	// Idempotent backfill: a closed period that is already archived is
	// final unless this is an explicit recollection.
	if closed && !recollect {
		st, _ := domain.SummaryTypeFor(p.Kind)
		existing, err := c.archive.Get(ctx, tenant.ID, platform, st, p.Start)
		if err != nil {
			return finish(domain.CollectionFailedRetryable, err)
		}
		if existing != nil {
			return finish(domain.CollectionSkipped, nil)
		}
	}

	if skipFresh && !closed {
		entry, err := c.current.Get(ctx, tenant.ID, platform, p.ID)
		if err != nil {
			return finish(domain.CollectionFailedRetryable, err)
		}
		if !cache.IsStale(entry, now, c.staleness) {
			return finish(domain.CollectionSkipped, nil)
		}
	}

	lock, err := c.guard.Acquire(ctx, tenant.ID, platform, p.ID, guardTTL)
	if err != nil {
		return finish(domain.CollectionFailedRetryable, err)
	}
	if lock == nil {
		// Another collection for this key is in flight; it will write
		// the snapshot, so a second upstream call would be redundant.
		return finish(domain.CollectionSkipped, nil)
	}

	// Once in flight, the job completes its write even if the run is
	// cancelled: a half-written snapshot is worse than a late one. The
	// per-fetch timeout still bounds how long that can take.
	workCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := lock.Release(workCtx); err != nil {
			log.Printf("[Collector] Error releasing in-flight lock for %s/%s/%s: %v", tenant.ID, platform, p.ID, err)
		}
	}()

	result.State = domain.CollectionInFlight

	res, attempts, err := c.fetchWithRetry(workCtx, accountRef, platform, p)
	result.Attempts = attempts
	if err != nil {
		// The previous cached value, if any, stays untouched:
		// stale-but-available beats empty.
		if upstream.Terminal(err) {
			log.Printf("[Collector] Terminal failure for %s/%s/%s: %v", tenant.ID, platform, p.ID, err)
			return finish(domain.CollectionFailedTerminal, err)
		}
		log.Printf("[Collector] Giving up on %s/%s/%s after %d attempts: %v", tenant.ID, platform, p.ID, attempts, err)
		return finish(domain.CollectionFailedRetryable, err)
	}

	snapshot := buildSnapshot(tenant.ID, platform, p, res, c.now())

	if closed {
		if err := c.writeArchive(workCtx, snapshot, p, recollect); err != nil {
			return finish(domain.CollectionFailedRetryable, err)
		}
	} else {
		entry := cache.Entry{Snapshot: snapshot, LastUpdated: snapshot.CollectedAt}
		if err := c.current.Put(workCtx, entry); err != nil {
			return finish(domain.CollectionFailedRetryable, err)
		}
	}

	return finish(domain.CollectionSucceeded, nil)
}

// fetchWithRetry runs the upstream fetch under the per-task timeout,
// retrying retryable failures with exponential backoff up to the configured
// attempt bound. It returns the attempts used.
func (c *Collector) fetchWithRetry(ctx context.Context, accountRef, platform string, p domain.Period) (*upstream.Result, int, error) {
	maxAttempts := c.refresh.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		res, err := c.fetcher.FetchMetrics(fetchCtx, accountRef, platform, p.Start, p.End)
		timedOut := errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return res, attempt, nil
		}

		// A hung call surfaces as context.DeadlineExceeded; treat it
		// like any other transient failure. Errors the fetcher
		// classified itself pass through untouched.
		if timedOut {
			err = fmt.Errorf("%w: fetch timed out after %v", upstream.ErrTransient, c.timeout)
		}
		lastErr = err

		if upstream.Terminal(err) {
			return nil, attempt, err
		}
		if attempt < maxAttempts {
			backoff := c.refresh.BackoffBase() * (1 << (attempt - 1))
			log.Printf("[Collector] Retryable failure for %s/%s (attempt %d/%d), backing off %v: %v",
				platform, p.ID, attempt, maxAttempts, backoff, err)
			c.sleep(backoff)
		}
	}
	return nil, maxAttempts, lastErr
}

// writeArchive finalizes a closed period: insert-if-absent normally, replace
// on explicit recollection, then drop any leftover current-tier row so
// current lookups for the closed period miss and redirect to archive.
func (c *Collector) writeArchive(ctx context.Context, snapshot domain.MetricSnapshot, p domain.Period, recollect bool) error {
	st, ok := domain.SummaryTypeFor(p.Kind)
	if !ok {
		return fmt.Errorf("period kind %s cannot be archived", p.Kind)
	}

	rec := domain.ArchiveRecord{
		Tenant:      snapshot.Tenant,
		Platform:    snapshot.Platform,
		SummaryType: st,
		SummaryDate: p.Start,
		Snapshot:    snapshot,
		CollectedAt: snapshot.CollectedAt,
	}

	if recollect {
		if err := c.archive.Replace(ctx, rec); err != nil {
			return err
		}
		log.Printf("[Collector] Recollected archive record %s/%s/%s", rec.Tenant, rec.Platform, p.ID)
	} else {
		inserted, err := c.archive.Insert(ctx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			log.Printf("[Collector] Archive record %s/%s/%s already present, keeping original", rec.Tenant, rec.Platform, p.ID)
		}
	}

	if err := c.current.Delete(ctx, snapshot.Tenant, snapshot.Platform, p.ID); err != nil {
		log.Printf("[Collector] Error clearing current entry for archived period %s/%s/%s: %v",
			snapshot.Tenant, snapshot.Platform, p.ID, err)
	}
	return nil
}

// buildSnapshot folds the raw upstream result into a MetricSnapshot: spend
// and traffic totals summed across campaigns, raw events normalized through
// the funnel parser.
func buildSnapshot(tenantID, platform string, p domain.Period, res *upstream.Result, collectedAt time.Time) domain.MetricSnapshot {
	snapshot := domain.MetricSnapshot{
		Tenant:      tenantID,
		Platform:    platform,
		Period:      p,
		Campaigns:   res.Campaigns,
		Funnel:      funnel.Parse(res.RawEvents),
		CollectedAt: collectedAt,
	}
	for _, row := range res.Campaigns {
		snapshot.Spend += row.Spend
		snapshot.Impressions += row.Impressions
		snapshot.Clicks += row.Clicks
		snapshot.Conversions += row.Conversions
	}
	return snapshot
}
