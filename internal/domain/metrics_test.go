package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDerivedRatiosZeroDenominators(t *testing.T) {
	var f FunnelMetrics
	assert.Zero(t, f.ROAS(0))
	assert.Zero(t, f.CostPerReservation(100))

	var s MetricSnapshot
	assert.Zero(t, s.CTR())
	assert.Zero(t, s.CPC())
}

func TestDerivedRatiosFinite(t *testing.T) {
	f := FunnelMetrics{Reservations: 3, ReservationValue: 600}
	roas := f.ROAS(200)
	cpr := f.CostPerReservation(200)

	assert.Equal(t, 3.0, roas)
	assert.InDelta(t, 66.67, cpr, 0.01)
	assert.False(t, math.IsNaN(roas) || math.IsInf(roas, 0))
	assert.False(t, math.IsNaN(cpr) || math.IsInf(cpr, 0))

	s := MetricSnapshot{Spend: 50, Impressions: 1000, Clicks: 40}
	assert.Equal(t, 0.04, s.CTR())
	assert.Equal(t, 1.25, s.CPC())
}

func TestFunnelAdd(t *testing.T) {
	a := FunnelMetrics{BookingStep1: 10, Reservations: 2, ReservationValue: 100}
	b := FunnelMetrics{BookingStep1: 5, BookingStep3: 1, Reservations: 1, ReservationValue: 50}

	a.Add(b)
	assert.Equal(t, int64(15), a.BookingStep1)
	assert.Equal(t, int64(1), a.BookingStep3)
	assert.Equal(t, int64(3), a.Reservations)
	assert.Equal(t, 150.0, a.ReservationValue)
}

func TestPeriodIsClosed(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

	closed := Period{End: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)}
	assert.True(t, closed.IsClosed(now))

	// A period ending today is still open.
	endsToday := Period{End: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)}
	assert.False(t, endsToday.IsClosed(now))

	future := Period{End: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)}
	assert.False(t, future.IsClosed(now))
}

func TestRunReportCounts(t *testing.T) {
	r := RunReport{Jobs: []JobResult{
		{State: CollectionSucceeded},
		{State: CollectionSucceeded},
		{State: CollectionSkipped},
		{State: CollectionFailedRetryable},
	}}

	counts := r.Counts()
	assert.Equal(t, 2, counts[CollectionSucceeded])
	assert.Equal(t, 1, counts[CollectionSkipped])
	assert.Len(t, r.Failed(), 1)
}
