package period

import (
	"errors"
	"fmt"
	"time"

	"github.com/ignite/adpulse/internal/domain"
)

// ErrInvalidRange is returned by Validate for ranges that can never be
// collected: inverted bounds, future end dates, or dates older than the
// tenant's retention horizon. Callers surface it immediately, never retry.
var ErrInvalidRange = errors.New("invalid date range")

// Classify determines the period shape of an inclusive date range.
//
// A range is monthly only when start is the first calendar day of a month and
// end is the last calendar day of that same month. This handles 28/29/30/31
// day months by construction; day-count heuristics misclassify cross-month
// spans of the same length and are deliberately not used here. A range is
// weekly only when it is exactly 7 days starting on a Monday (ISO week).
// Everything else is custom.
//
// Both orchestrators consume this single classification; callers must never
// re-derive period shape ad hoc.
func Classify(start, end time.Time) domain.Period {
	start = truncate(start)
	end = truncate(end)
	p := domain.Period{Kind: domain.PeriodCustom, Start: start, End: end}

	if start.Day() == 1 && sameMonth(start, end) && end.Day() == lastDayOfMonth(start) {
		p.Kind = domain.PeriodMonthly
		p.ID = MonthID(start)
		return p
	}

	if start.Weekday() == time.Monday && end.Equal(start.AddDate(0, 0, 6)) {
		p.Kind = domain.PeriodWeekly
		p.ID = WeekID(start)
		return p
	}

	return p
}

// Validate checks range bounds against the collection clock and the tenant's
// retention horizon (a rolling window in months). All failures wrap
// ErrInvalidRange.
//
// A canonical period that contains today is valid even though its end date
// has not arrived yet: the in-progress month and week are exactly what the
// current-period tier serves. Every other range must end on or before today.
func Validate(start, end, now time.Time, retentionMonths int) error {
	start = truncate(start)
	end = truncate(end)

	if start.After(end) {
		return fmt.Errorf("%w: start %s after end %s",
			ErrInvalidRange, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	today := truncate(now)
	if end.After(today) {
		p := Classify(start, end)
		if !p.IsCanonical() || start.After(today) {
			return fmt.Errorf("%w: end %s is in the future",
				ErrInvalidRange, end.Format("2006-01-02"))
		}
	}

	if retentionMonths > 0 {
		horizon := truncate(now.AddDate(0, -retentionMonths, 0))
		if start.Before(horizon) {
			return fmt.Errorf("%w: start %s precedes retention horizon %s",
				ErrInvalidRange, start.Format("2006-01-02"), horizon.Format("2006-01-02"))
		}
	}

	return nil
}

// MonthID returns the canonical cache key for the month containing t,
// e.g. "2025-03".
func MonthID(t time.Time) string {
	return t.Format("2006-01")
}

// WeekID returns the canonical ISO year-week key for the week containing t,
// e.g. "2025-W14".
func WeekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Month builds the monthly period containing t.
func Month(t time.Time) domain.Period {
	t = truncate(t)
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return domain.Period{Kind: domain.PeriodMonthly, Start: start, End: end, ID: MonthID(start)}
}

// Week builds the ISO week period containing t.
func Week(t time.Time) domain.Period {
	t = truncate(t)
	offset := (int(t.Weekday()) + 6) % 7 // days since Monday
	start := t.AddDate(0, 0, -offset)
	return domain.Period{Kind: domain.PeriodWeekly, Start: start, End: start.AddDate(0, 0, 6), ID: WeekID(start)}
}

// Decomposition is the result of breaking a custom range into canonical
// sub-periods. Uncovered holds the day spans at the edges that no fully
// contained month or week covers; readers report them as missing rather
// than issuing live fetches for them.
type Decomposition struct {
	Periods   []domain.Period
	Uncovered []domain.Period
}

// Decompose splits a custom range into the calendar months fully contained
// in it, then covers the leading/trailing remainders with fully contained
// ISO weeks. Anything still uncovered is returned as custom day spans.
// Keeping decomposition canonical is what bounds upstream call volume: the
// reader never fetches an arbitrary range directly.
func Decompose(start, end time.Time) Decomposition {
	start = truncate(start)
	end = truncate(end)

	var d Decomposition
	if start.After(end) {
		return d
	}

	cursor := start
	for !cursor.After(end) {
		m := Month(cursor)
		if m.Start.Equal(cursor) && !m.End.After(end) {
			d.Periods = append(d.Periods, m)
			cursor = m.End.AddDate(0, 0, 1)
			continue
		}
		// Remainder up to the next month boundary (or range end).
		nextMonth := Month(cursor).End.AddDate(0, 0, 1)
		segEnd := end
		if nextMonth.AddDate(0, 0, -1).Before(end) {
			segEnd = nextMonth.AddDate(0, 0, -1)
		}
		d.coverWithWeeks(cursor, segEnd)
		cursor = segEnd.AddDate(0, 0, 1)
	}
	return d
}

// coverWithWeeks fills [start, end] with fully contained ISO weeks, recording
// leftover day spans as uncovered.
func (d *Decomposition) coverWithWeeks(start, end time.Time) {
	cursor := start
	for !cursor.After(end) {
		w := Week(cursor)
		if w.Start.Equal(cursor) && !w.End.After(end) {
			d.Periods = append(d.Periods, w)
			cursor = w.End.AddDate(0, 0, 1)
			continue
		}
		// Leftover days until the next Monday or the segment end.
		segEnd := end
		nextMonday := w.End.AddDate(0, 0, 1)
		if nextMonday.AddDate(0, 0, -1).Before(end) {
			segEnd = nextMonday.AddDate(0, 0, -1)
		}
		d.addUncovered(cursor, segEnd)
		cursor = segEnd.AddDate(0, 0, 1)
	}
}

// addUncovered records a leftover day span, extending the previous span when
// the two are contiguous so a single gap never reports as several.
func (d *Decomposition) addUncovered(start, end time.Time) {
	if n := len(d.Uncovered); n > 0 {
		prev := &d.Uncovered[n-1]
		if prev.End.AddDate(0, 0, 1).Equal(start) {
			prev.End = end
			return
		}
	}
	d.Uncovered = append(d.Uncovered, domain.Period{
		Kind:  domain.PeriodCustom,
		Start: start,
		End:   end,
	})
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func lastDayOfMonth(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}
