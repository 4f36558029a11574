package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/adpulse/internal/domain"
)

func TestParseCanonicalPayload(t *testing.T) {
	events := []domain.RawEvent{
		{Type: "link_click", Count: 40},
		{Type: "omni_view_content", Count: 12},
		{Type: "omni_initiated_checkout", Count: 5, Value: 250.00},
		{Type: "purchase", Count: 3, Value: 600.00},
	}

	m := Parse(events)

	assert.Equal(t, int64(40), m.BookingStep1)
	assert.Equal(t, int64(12), m.BookingStep2)
	assert.Equal(t, int64(5), m.BookingStep3)
	assert.Equal(t, int64(3), m.Reservations)
	assert.Equal(t, 600.00, m.ReservationValue)
}

func TestParseSynonymsNotSummed(t *testing.T) {
	// Both types map to booking_step_2; only the higher-priority alias
	// ("omni_view_content") may contribute.
	events := []domain.RawEvent{
		{Type: "view_content", Count: 99},
		{Type: "omni_view_content", Count: 12},
	}

	m := Parse(events)
	assert.Equal(t, int64(12), m.BookingStep2)
}

func TestParseRepeatedTypeSummed(t *testing.T) {
	// The same type appearing several times is a per-day breakdown of one
	// action and accumulates, unlike distinct synonym types.
	events := []domain.RawEvent{
		{Type: "purchase", Count: 2, Value: 300},
		{Type: "link_click", Count: 10},
		{Type: "purchase", Count: 1, Value: 150},
		{Type: "link_click", Count: 5},
	}

	m := Parse(events)
	assert.Equal(t, int64(3), m.Reservations)
	assert.Equal(t, 450.0, m.ReservationValue)
	assert.Equal(t, int64(15), m.BookingStep1)
}

func TestParseLowerPriorityAliasUsedWhenAlone(t *testing.T) {
	events := []domain.RawEvent{
		{Type: "offsite_conversion.fb_pixel_purchase", Count: 7, Value: 1400},
	}

	m := Parse(events)
	assert.Equal(t, int64(7), m.Reservations)
	assert.Equal(t, 1400.0, m.ReservationValue)
}

func TestParseUnknownTypesIgnored(t *testing.T) {
	events := []domain.RawEvent{
		{Type: "page_engagement", Count: 500},
		{Type: "purchase", Count: 2, Value: 80},
	}

	m := Parse(events)
	assert.Equal(t, int64(2), m.Reservations)
	assert.Zero(t, m.BookingStep1)
}

func TestParseEmptyPayload(t *testing.T) {
	m := Parse(nil)
	assert.Equal(t, domain.FunnelMetrics{}, m)
}

func TestParseDeterministic(t *testing.T) {
	events := []domain.RawEvent{
		{Type: "purchase", Count: 3, Value: 600},
		{Type: "omni_purchase", Count: 3, Value: 600},
		{Type: "link_click", Count: 10},
		{Type: "click_to_call", Count: 4},
	}

	first := Parse(events)
	second := Parse(events)
	assert.Equal(t, first, second)
}

func TestDerivedRatiosFinite(t *testing.T) {
	var m domain.FunnelMetrics
	assert.Equal(t, 0.0, m.ROAS(0))
	assert.Equal(t, 0.0, m.CostPerReservation(100))

	m.Reservations = 4
	m.ReservationValue = 500
	assert.Equal(t, 5.0, m.ROAS(100))
	assert.Equal(t, 25.0, m.CostPerReservation(100))
	assert.Equal(t, 0.0, m.ROAS(0))
}
