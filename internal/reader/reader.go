// Package reader implements the read orchestrator: the read-only path that
// serves metric snapshots from the two cache tiers and only falls through to
// a synchronous collection when a canonical period has no data anywhere.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/adpulse/internal/cache"
	"github.com/ignite/adpulse/internal/domain"
	"github.com/ignite/adpulse/internal/period"
)

// ErrUnknownTenant is returned when the requested tenant does not exist.
var ErrUnknownTenant = errors.New("unknown tenant")

// CurrentStore is the current-period tier as the reader needs it.
type CurrentStore interface {
	Get(ctx context.Context, tenant, platform, periodID string) (*cache.Entry, error)
}

// ArchiveStore is the closed-period tier as the reader needs it.
type ArchiveStore interface {
	Get(ctx context.Context, tenant, platform string, summaryType domain.SummaryType, summaryDate time.Time) (*domain.ArchiveRecord, error)
	Insert(ctx context.Context, rec domain.ArchiveRecord) (bool, error)
}

// TenantSource resolves tenants for the on-demand collection path.
type TenantSource interface {
	Get(ctx context.Context, id string) (*domain.Tenant, error)
}

// OnDemandCollector is the refresh orchestrator's single-period path,
// invoked synchronously when a canonical period misses both tiers.
type OnDemandCollector interface {
	CollectPeriod(ctx context.Context, tenant domain.Tenant, platform string, p domain.Period) (*domain.MetricSnapshot, error)
}

// Result is a served snapshot plus its provenance. MissingPeriods lists the
// canonical sub-periods (and uncovered day spans) of a custom range that had
// no data in either tier; their metrics contribute zero to the aggregate.
type Result struct {
	Snapshot       domain.MetricSnapshot `json:"snapshot"`
	Source         domain.Source         `json:"source"`
	MissingPeriods []string              `json:"missing_periods,omitempty"`
}

// Reader orchestrates two-tier reads.
type Reader struct {
	current   CurrentStore
	archive   ArchiveStore
	tenants   TenantSource
	collector OnDemandCollector

	staleness       time.Duration
	retentionMonths int

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a reader.
func New(current CurrentStore, archive ArchiveStore, tenants TenantSource, collector OnDemandCollector, staleness time.Duration, retentionMonths int) *Reader {
	return &Reader{
		current:         current,
		archive:         archive,
		tenants:         tenants,
		collector:       collector,
		staleness:       staleness,
		retentionMonths: retentionMonths,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Fetch serves the snapshot for a tenant, platform, and inclusive date
// range. Canonical periods go through the two tiers with on-demand
// collection as the last resort; custom ranges are recomposed from
// canonical sub-periods and never trigger a live fetch.
func (r *Reader) Fetch(ctx context.Context, tenantID, platform string, start, end time.Time) (*Result, error) {
	now := r.now()

	if err := period.Validate(start, end, now, r.retentionMonths); err != nil {
		return nil, err
	}

	p := period.Classify(start, end)
	if p.IsCanonical() {
		return r.fetchCanonical(ctx, tenantID, platform, p, now)
	}
	return r.fetchCustom(ctx, tenantID, platform, p, now)
}

// fetchCanonical serves a monthly or weekly period.
func (r *Reader) fetchCanonical(ctx context.Context, tenantID, platform string, p domain.Period, now time.Time) (*Result, error) {
	if p.IsClosed(now) {
		return r.fetchClosed(ctx, tenantID, platform, p)
	}

	entry, err := r.current.Get(ctx, tenantID, platform, p.ID)
	if err != nil {
		return nil, err
	}
	if entry != nil && !cache.IsStale(entry, now, r.staleness) {
		return &Result{Snapshot: entry.Snapshot, Source: domain.SourceCurrentCache}, nil
	}

	// Miss or stale: collect synchronously. A failed refresh with a stale
	// entry on hand degrades to stale-but-available rather than an error.
	snapshot, collectErr := r.collectOnDemand(ctx, tenantID, platform, p)
	if collectErr != nil {
		if entry != nil {
			log.Printf("[Reader] Refresh failed for %s/%s/%s, serving stale entry from %s: %v",
				tenantID, platform, p.ID, entry.LastUpdated.Format(time.RFC3339), collectErr)
			return &Result{Snapshot: entry.Snapshot, Source: domain.SourceCurrentCache}, nil
		}
		return nil, collectErr
	}
	return &Result{Snapshot: *snapshot, Source: domain.SourceLive}, nil
}

// fetchClosed serves a closed canonical period. Closed periods are never
// re-fetched live just because a read missed: the archive is consulted
// first, a leftover current-tier row is migrated, and only a period absent
// from both tiers is backfilled through the collection path.
func (r *Reader) fetchClosed(ctx context.Context, tenantID, platform string, p domain.Period) (*Result, error) {
	st, _ := domain.SummaryTypeFor(p.Kind)

	rec, err := r.archive.Get(ctx, tenantID, platform, st, p.Start)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return &Result{Snapshot: rec.Snapshot, Source: domain.SourceArchive}, nil
	}

	// The period closed while its snapshot was still sitting in the
	// current tier: migrate it instead of calling upstream again.
	entry, err := r.current.Get(ctx, tenantID, platform, p.ID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if _, err := r.archive.Insert(ctx, domain.ArchiveRecord{
			Tenant:      tenantID,
			Platform:    platform,
			SummaryType: st,
			SummaryDate: p.Start,
			Snapshot:    entry.Snapshot,
			CollectedAt: entry.Snapshot.CollectedAt,
		}); err != nil {
			return nil, fmt.Errorf("migrate closed period %s: %w", p.ID, err)
		}
		log.Printf("[Reader] Migrated closed period %s/%s/%s from current tier to archive", tenantID, platform, p.ID)
		return &Result{Snapshot: entry.Snapshot, Source: domain.SourceArchive}, nil
	}

	// Nothing in either tier: archive-backfill through the collector.
	snapshot, err := r.collectOnDemand(ctx, tenantID, platform, p)
	if err != nil {
		return nil, err
	}
	return &Result{Snapshot: *snapshot, Source: domain.SourceLive}, nil
}

// fetchCustom recomposes an arbitrary range by summing its canonical
// sub-periods from the tiers. No live fetch is ever issued here; canonical
// periods are what bound upstream call volume.
func (r *Reader) fetchCustom(ctx context.Context, tenantID, platform string, p domain.Period, now time.Time) (*Result, error) {
	d := period.Decompose(p.Start, p.End)

	agg := domain.MetricSnapshot{
		Tenant:      tenantID,
		Platform:    platform,
		Period:      p,
		CollectedAt: time.Time{},
	}
	var missing []string

	for _, sub := range d.Periods {
		snap, err := r.readTier(ctx, tenantID, platform, sub, now)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			missing = append(missing, sub.ID)
			continue
		}
		addSnapshot(&agg, snap)
	}

	for _, gap := range d.Uncovered {
		missing = append(missing, fmt.Sprintf("%s..%s", gap.Start.Format("2006-01-02"), gap.End.Format("2006-01-02")))
	}

	return &Result{Snapshot: agg, Source: domain.SourceAggregatedCustom, MissingPeriods: missing}, nil
}

// readTier reads one canonical sub-period from whichever tier owns it,
// without triggering collection.
func (r *Reader) readTier(ctx context.Context, tenantID, platform string, p domain.Period, now time.Time) (*domain.MetricSnapshot, error) {
	if p.IsClosed(now) {
		st, _ := domain.SummaryTypeFor(p.Kind)
		rec, err := r.archive.Get(ctx, tenantID, platform, st, p.Start)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		return &rec.Snapshot, nil
	}

	entry, err := r.current.Get(ctx, tenantID, platform, p.ID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return &entry.Snapshot, nil
}

// collectOnDemand resolves the tenant and runs the collector's
// single-period path synchronously.
func (r *Reader) collectOnDemand(ctx context.Context, tenantID, platform string, p domain.Period) (*domain.MetricSnapshot, error) {
	tenant, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return r.collector.CollectPeriod(ctx, *tenant, platform, p)
}

// addSnapshot accumulates a sub-period snapshot into the aggregate. The
// aggregate's CollectedAt is the oldest contributing timestamp so freshness
// is never overstated.
func addSnapshot(agg *domain.MetricSnapshot, snap *domain.MetricSnapshot) {
	agg.Spend += snap.Spend
	agg.Impressions += snap.Impressions
	agg.Clicks += snap.Clicks
	agg.Conversions += snap.Conversions
	agg.Campaigns = append(agg.Campaigns, snap.Campaigns...)
	agg.Funnel.Add(snap.Funnel)
	if agg.CollectedAt.IsZero() || snap.CollectedAt.Before(agg.CollectedAt) {
		agg.CollectedAt = snap.CollectedAt
	}
}
