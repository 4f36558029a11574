package collector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/adpulse/internal/cache"
	"github.com/ignite/adpulse/internal/config"
	"github.com/ignite/adpulse/internal/domain"
	"github.com/ignite/adpulse/internal/period"
	"github.com/ignite/adpulse/internal/upstream"
)

// fakeArchive is an in-memory ArchiveStore.
type fakeArchive struct {
	mu       sync.Mutex
	records  map[string]domain.ArchiveRecord
	inserts  int
	replaces int
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{records: map[string]domain.ArchiveRecord{}}
}

func archiveKey(tenant, platform string, st domain.SummaryType, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%s", tenant, platform, st, date.Format("2006-01-02"))
}

func (f *fakeArchive) Get(_ context.Context, tenant, platform string, st domain.SummaryType, date time.Time) (*domain.ArchiveRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[archiveKey(tenant, platform, st, date)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeArchive) Insert(_ context.Context, rec domain.ArchiveRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	key := archiveKey(rec.Tenant, rec.Platform, rec.SummaryType, rec.SummaryDate)
	if _, ok := f.records[key]; ok {
		return false, nil
	}
	f.records[key] = rec
	return true, nil
}

func (f *fakeArchive) Replace(_ context.Context, rec domain.ArchiveRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces++
	f.records[archiveKey(rec.Tenant, rec.Platform, rec.SummaryType, rec.SummaryDate)] = rec
	return nil
}

// fakeTenants is a static TenantSource.
type fakeTenants struct{ tenants []domain.Tenant }

func (f *fakeTenants) ListEligible(context.Context) ([]domain.Tenant, error) {
	return f.tenants, nil
}

func testTenant(id string) domain.Tenant {
	return domain.Tenant{ID: id, Name: id, AccountRefs: map[string]string{"meta": "act_" + id}}
}

func testConfig() *config.Config {
	return &config.Config{
		Cache:   config.CacheConfig{StalenessMinutes: 180, RetentionMonths: 37},
		Refresh: config.RefreshConfig{IntervalMinutes: 180, BatchSize: 2, BatchPauseSeconds: 1, MaxAttempts: 3, BackoffBaseMS: 1},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds: 5,
		},
		Platforms: []string{"meta"},
	}
}

type env struct {
	collector *Collector
	current   *cache.CurrentStore
	archive   *fakeArchive
}

func newEnv(t *testing.T, fetcher upstream.Fetcher, tenants ...domain.Tenant) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	current := cache.NewCurrentStore(client)
	archive := newFakeArchive()

	c := New(fetcher, current, archive, &fakeTenants{tenants: tenants}, cache.NewGuard(client), testConfig())
	c.sleep = func(time.Duration) {}
	c.now = func() time.Time { return testNow }
	return &env{collector: c, current: current, archive: archive}
}

// testNow pins the clock mid-March so 2025-03 and 2025-W11 are open and any
// earlier period is closed.
var testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func staticFetcher(campaigns []domain.CampaignRow, events []domain.RawEvent) upstream.Fetcher {
	return upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		return &upstream.Result{Campaigns: campaigns, RawEvents: events}, nil
	})
}

func TestRefreshAllWritesCurrentTier(t *testing.T) {
	fetcher := staticFetcher(
		[]domain.CampaignRow{
			{CampaignID: "c1", Spend: 100.5, Impressions: 1000, Clicks: 50, Conversions: 5},
			{CampaignID: "c2", Spend: 49.5, Impressions: 500, Clicks: 25, Conversions: 2},
		},
		[]domain.RawEvent{{Type: "purchase", Count: 3, Value: 600}},
	)
	e := newEnv(t, fetcher, testTenant("t1"))

	report := e.collector.RefreshAll(context.Background())

	require.Equal(t, 1, report.Tenants)
	require.Len(t, report.Jobs, 2) // current month + current week
	for _, job := range report.Jobs {
		assert.Equal(t, domain.CollectionSucceeded, job.State, "job %s", job.PeriodID)
	}

	entry, err := e.current.Get(context.Background(), "t1", "meta", "2025-03")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 150.0, entry.Snapshot.Spend)
	assert.Equal(t, int64(1500), entry.Snapshot.Impressions)
	assert.Equal(t, int64(3), entry.Snapshot.Funnel.Reservations)

	weekID := period.Week(testNow).ID
	weekEntry, err := e.current.Get(context.Background(), "t1", "meta", weekID)
	require.NoError(t, err)
	assert.NotNil(t, weekEntry)

	// Current periods never land in the archive.
	assert.Empty(t, e.archive.records)
}

func TestRefreshAllSkipsFreshEntries(t *testing.T) {
	calls := 0
	fetcher := upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		calls++
		return &upstream.Result{}, nil
	})
	e := newEnv(t, fetcher, testTenant("t1"))

	e.collector.RefreshAll(context.Background())
	require.Equal(t, 2, calls)

	// A run shortly after finds both entries fresh and fetches nothing.
	e.collector.now = func() time.Time { return testNow.Add(time.Minute) }
	report := e.collector.RefreshAll(context.Background())
	assert.Equal(t, 2, calls)
	for _, job := range report.Jobs {
		assert.Equal(t, domain.CollectionSkipped, job.State)
	}
}

func TestRefreshOneClosedPeriodArchives(t *testing.T) {
	fetcher := staticFetcher(
		[]domain.CampaignRow{{CampaignID: "c1", Spend: 250}},
		[]domain.RawEvent{{Type: "purchase", Count: 1, Value: 90}},
	)
	e := newEnv(t, fetcher, testTenant("t1"))

	jan := period.Month(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	res := e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, false)
	require.Equal(t, domain.CollectionSucceeded, res.State)

	rec, err := e.archive.Get(context.Background(), "t1", "meta", domain.SummaryMonthly, jan.Start)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 250.0, rec.Snapshot.Spend)

	// No current-tier row for the closed period.
	entry, err := e.current.Get(context.Background(), "t1", "meta", "2025-01")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestBackfillIdempotent(t *testing.T) {
	calls := 0
	fetcher := upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		calls++
		return &upstream.Result{Campaigns: []domain.CampaignRow{{Spend: float64(100 * calls)}}}, nil
	})
	e := newEnv(t, fetcher, testTenant("t1"))

	jan := period.Month(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	res := e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, false)
	require.Equal(t, domain.CollectionSucceeded, res.State)
	require.Equal(t, 1, calls)

	// Second non-recollect backfill no-ops without an upstream call.
	res = e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, false)
	assert.Equal(t, domain.CollectionSkipped, res.State)
	assert.Equal(t, 1, calls)

	rec, _ := e.archive.Get(context.Background(), "t1", "meta", domain.SummaryMonthly, jan.Start)
	assert.Equal(t, 100.0, rec.Snapshot.Spend)

	// Explicit recollection overwrites.
	res = e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, true)
	require.Equal(t, domain.CollectionSucceeded, res.State)
	assert.Equal(t, 2, calls)

	rec, _ = e.archive.Get(context.Background(), "t1", "meta", domain.SummaryMonthly, jan.Start)
	assert.Equal(t, 200.0, rec.Snapshot.Spend)
	assert.Equal(t, 1, e.archive.replaces)
}

func TestRetryableFailureRetriesThenGivesUp(t *testing.T) {
	calls := 0
	fetcher := upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		calls++
		return nil, fmt.Errorf("%w: 503 from platform", upstream.ErrTransient)
	})
	e := newEnv(t, fetcher, testTenant("t1"))

	jan := period.Month(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	res := e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, false)

	assert.Equal(t, domain.CollectionFailedRetryable, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
	assert.Contains(t, res.Error, "503 from platform")
	assert.Empty(t, e.archive.records)
}

func TestHungFetchDemotedToTransient(t *testing.T) {
	fetcher := upstream.FetcherFunc(func(ctx context.Context, _, _ string, _, _ time.Time) (*upstream.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEnv(t, fetcher, testTenant("t1"))
	e.collector.timeout = 20 * time.Millisecond

	jan := period.Month(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	res := e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, false)

	assert.Equal(t, domain.CollectionFailedRetryable, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Error, "fetch timed out")
}

func TestTerminalFailureDoesNotRetryAndPreservesCache(t *testing.T) {
	e := newEnv(t, nil, testTenant("t1"))

	// Seed a previous snapshot for the current month.
	march := period.Month(testNow)
	seeded := cache.Entry{
		Snapshot:    domain.MetricSnapshot{Tenant: "t1", Platform: "meta", Period: march, Spend: 42},
		LastUpdated: testNow.Add(-24 * time.Hour),
	}
	require.NoError(t, e.current.Put(context.Background(), seeded))

	calls := 0
	e.collector.fetcher = upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		calls++
		return nil, fmt.Errorf("%w: token expired", upstream.ErrAuth)
	})

	res := e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", march, false)
	assert.Equal(t, domain.CollectionFailedTerminal, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
	assert.Contains(t, res.Error, "token expired")

	// Stale-but-available: the old entry is untouched.
	entry, err := e.current.Get(context.Background(), "t1", "meta", march.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 42.0, entry.Snapshot.Spend)
}

func TestOneTenantFailureDoesNotStopOthers(t *testing.T) {
	fetcher := upstream.FetcherFunc(func(_ context.Context, accountRef, _ string, _, _ time.Time) (*upstream.Result, error) {
		if accountRef == "act_bad" {
			return nil, fmt.Errorf("%w: account disabled", upstream.ErrPermission)
		}
		return &upstream.Result{Campaigns: []domain.CampaignRow{{Spend: 10}}}, nil
	})
	e := newEnv(t, fetcher, testTenant("bad"), testTenant("good"))

	report := e.collector.RefreshAll(context.Background())

	counts := report.Counts()
	assert.Equal(t, 2, counts[domain.CollectionSucceeded])
	assert.Equal(t, 2, counts[domain.CollectionFailedTerminal])

	entry, err := e.current.Get(context.Background(), "good", "meta", "2025-03")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestInFlightGuardDeduplicates(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fetcher := upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		close(started)
		<-release
		return &upstream.Result{}, nil
	})
	e := newEnv(t, fetcher, testTenant("t1"))

	jan := period.Month(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	done := make(chan domain.JobResult, 1)
	go func() {
		done <- e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, false)
	}()
	<-started

	// A duplicate trigger while the first collection is in flight no-ops.
	dup := e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", jan, false)
	assert.Equal(t, domain.CollectionSkipped, dup.State)

	close(release)
	first := <-done
	assert.Equal(t, domain.CollectionSucceeded, first.State)
	assert.Equal(t, 1, e.archive.inserts)
}

func TestCollectPeriodSkippedWaitsForHolder(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fetcher := upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		close(started)
		<-release
		return &upstream.Result{Campaigns: []domain.CampaignRow{{CampaignID: "c1", Spend: 55}}}, nil
	})
	e := newEnv(t, fetcher, testTenant("t1"))

	march := period.Month(testNow)
	holderDone := make(chan domain.JobResult, 1)
	go func() {
		holderDone <- e.collector.RefreshOne(context.Background(), testTenant("t1"), "meta", march, false)
	}()
	<-started

	// The skipped caller's first read finds nothing; during its wait the
	// holder finishes and writes, so a later read succeeds.
	var once sync.Once
	e.collector.sleep = func(time.Duration) {
		once.Do(func() {
			close(release)
			<-holderDone
		})
	}

	snap, err := e.collector.CollectPeriod(context.Background(), testTenant("t1"), "meta", march)
	require.NoError(t, err)
	assert.Equal(t, 55.0, snap.Spend)
}

func TestCancelledRunStopsDispatching(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fetcher := upstream.FetcherFunc(func(context.Context, string, string, time.Time, time.Time) (*upstream.Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &upstream.Result{}, nil
	})

	tenants := []domain.Tenant{testTenant("t1"), testTenant("t2"), testTenant("t3"), testTenant("t4")}
	e := newEnv(t, fetcher, tenants...)

	ctx, cancel := context.WithCancel(context.Background())
	e.collector.sleep = func(time.Duration) { cancel() } // cancel during the first batch pause

	report := e.collector.RefreshAll(ctx)

	// First batch (2 tenants x 2 periods) completed, later batches never
	// dispatched.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, calls)
	assert.Len(t, report.Jobs, 4)
}

func TestCollectPeriodReturnsSnapshot(t *testing.T) {
	fetcher := staticFetcher(
		[]domain.CampaignRow{{CampaignID: "c1", Spend: 77}},
		nil,
	)
	e := newEnv(t, fetcher, testTenant("t1"))

	jan := period.Month(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	snap, err := e.collector.CollectPeriod(context.Background(), testTenant("t1"), "meta", jan)
	require.NoError(t, err)
	assert.Equal(t, 77.0, snap.Spend)
	assert.Equal(t, "2025-01", snap.Period.ID)
}
