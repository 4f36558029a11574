package domain

import (
	"time"
)

// PeriodKind enumerates how a date range is classified.
type PeriodKind string

const (
	PeriodMonthly PeriodKind = "monthly"
	PeriodWeekly  PeriodKind = "weekly"
	PeriodCustom  PeriodKind = "custom"
)

// Period is a classified date range. Start and End are inclusive calendar
// dates (time component zeroed, UTC). ID is the canonical cache key for
// monthly ("2025-03") and weekly ("2025-W14") periods; custom periods have
// no stable ID and are never cached in the current-period tier.
type Period struct {
	Kind  PeriodKind `json:"kind"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	ID    string     `json:"id,omitempty"`
}

// IsCanonical returns true for periods eligible for caching under a stable ID.
func (p Period) IsCanonical() bool {
	return p.Kind == PeriodMonthly || p.Kind == PeriodWeekly
}

// IsClosed reports whether the period's end date has fully passed relative
// to now. A period ending "today" is still open: upstream numbers for the
// current day keep moving.
func (p Period) IsClosed(now time.Time) bool {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return p.End.Before(today)
}

// SummaryType is the archive-tier discriminator matching PeriodKind for
// canonical periods.
type SummaryType string

const (
	SummaryMonthly SummaryType = "monthly"
	SummaryWeekly  SummaryType = "weekly"
)

// SummaryTypeFor maps a canonical period kind to its archive summary type.
// Custom periods are never archived as a unit.
func SummaryTypeFor(kind PeriodKind) (SummaryType, bool) {
	switch kind {
	case PeriodMonthly:
		return SummaryMonthly, true
	case PeriodWeekly:
		return SummaryWeekly, true
	default:
		return "", false
	}
}
