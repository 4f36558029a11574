package domain

import (
	"time"
)

// Source identifies where a served snapshot came from.
type Source string

const (
	SourceCurrentCache     Source = "current-cache"
	SourceArchive          Source = "archive"
	SourceLive             Source = "live"
	SourceAggregatedCustom Source = "aggregated-custom"
)

// RawEvent is one upstream action row before funnel normalization. Type is
// the platform's event-type string, which is not a stable vocabulary.
type RawEvent struct {
	Type  string  `json:"type"`
	Count int64   `json:"count"`
	Value float64 `json:"value"`
}

// FunnelMetrics holds the canonical conversion funnel for one period.
// ROAS and CostPerReservation are derived, never stored independently.
type FunnelMetrics struct {
	ClickToCall      int64   `json:"click_to_call"`
	EmailContacts    int64   `json:"email_contacts"`
	BookingStep1     int64   `json:"booking_step_1"`
	BookingStep2     int64   `json:"booking_step_2"`
	BookingStep3     int64   `json:"booking_step_3"`
	Reservations     int64   `json:"reservations"`
	ReservationValue float64 `json:"reservation_value"`
}

// ROAS returns reservation value per unit of spend, 0 when spend is 0.
func (f FunnelMetrics) ROAS(spend float64) float64 {
	if spend == 0 {
		return 0
	}
	return f.ReservationValue / spend
}

// CostPerReservation returns spend per completed reservation, 0 when there
// are no reservations.
func (f FunnelMetrics) CostPerReservation(spend float64) float64 {
	if f.Reservations == 0 {
		return 0
	}
	return spend / float64(f.Reservations)
}

// Add accumulates another funnel into this one. Used when recomposing custom
// ranges from archived sub-periods.
func (f *FunnelMetrics) Add(other FunnelMetrics) {
	f.ClickToCall += other.ClickToCall
	f.EmailContacts += other.EmailContacts
	f.BookingStep1 += other.BookingStep1
	f.BookingStep2 += other.BookingStep2
	f.BookingStep3 += other.BookingStep3
	f.Reservations += other.Reservations
	f.ReservationValue += other.ReservationValue
}

// CampaignRow is one campaign's contribution to a snapshot.
type CampaignRow struct {
	CampaignID  string  `json:"campaign_id"`
	Name        string  `json:"name"`
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
}

// MetricSnapshot is the aggregated result for one tenant, platform, and
// period. CTR and CPC are always derived from their inputs to prevent drift.
type MetricSnapshot struct {
	Tenant      string        `json:"tenant"`
	Platform    string        `json:"platform"`
	Period      Period        `json:"period"`
	Spend       float64       `json:"spend"`
	Impressions int64         `json:"impressions"`
	Clicks      int64         `json:"clicks"`
	Conversions int64         `json:"conversions"`
	Campaigns   []CampaignRow `json:"campaigns"`
	Funnel      FunnelMetrics `json:"funnel"`
	CollectedAt time.Time     `json:"collected_at"`
}

// CTR returns clicks per impression, 0 when there are no impressions.
func (s MetricSnapshot) CTR() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Clicks) / float64(s.Impressions)
}

// CPC returns spend per click, 0 when there are no clicks.
func (s MetricSnapshot) CPC() float64 {
	if s.Clicks == 0 {
		return 0
	}
	return s.Spend / float64(s.Clicks)
}
