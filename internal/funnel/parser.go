// Package funnel normalizes raw upstream action events into canonical
// conversion-funnel metrics.
//
// The upstream event-type vocabulary is not stable: the same underlying
// action shows up under several historical or platform-specific spellings
// (the same checkout can be reported as "omni_initiated_checkout" and
// "initiate_checkout" in different API versions). Each canonical step
// therefore carries a priority-ordered alias list, and only the FIRST alias
// present in the payload contributes — summing across synonyms would count
// the same event twice.
package funnel

import (
	"log"

	"github.com/ignite/adpulse/internal/domain"
)

// Step identifies one canonical funnel step.
type Step string

const (
	StepClickToCall      Step = "click_to_call"
	StepEmailContacts    Step = "email_contacts"
	StepBookingStep1     Step = "booking_step_1"
	StepBookingStep2     Step = "booking_step_2"
	StepBookingStep3     Step = "booking_step_3"
	StepReservations     Step = "reservations"
	StepReservationValue Step = "reservation_value"
)

// stepAliases maps each canonical step to its accepted raw event types, in
// priority order. Order matters: when a payload carries more than one
// spelling of the same step, the earliest listed type wins.
var stepAliases = map[Step][]string{
	StepClickToCall: {
		"click_to_call_call_confirm",
		"click_to_call_native_call_placed",
		"click_to_call",
	},
	StepEmailContacts: {
		"onsite_conversion.messaging_first_reply",
		"contact_email",
		"email_contact",
	},
	StepBookingStep1: {
		"link_click",
		"landing_page_view",
	},
	StepBookingStep2: {
		"omni_view_content",
		"view_content",
		"offsite_conversion.fb_pixel_view_content",
	},
	StepBookingStep3: {
		"omni_initiated_checkout",
		"initiate_checkout",
		"offsite_conversion.fb_pixel_initiate_checkout",
	},
	StepReservations: {
		"purchase",
		"omni_purchase",
		"offsite_conversion.fb_pixel_purchase",
	},
}

// steps is the parse order; reservation value rides on the reservations step.
var steps = []Step{
	StepClickToCall,
	StepEmailContacts,
	StepBookingStep1,
	StepBookingStep2,
	StepBookingStep3,
	StepReservations,
}

// Parse folds a raw event list into FunnelMetrics. It is deterministic and
// side-effect-free: re-parsing the same payload always yields the same
// numbers, which is what makes recollection safe. Unrecognized event types
// contribute nothing and are logged at warning level, never failed on.
// Absent steps default to zero.
func Parse(events []domain.RawEvent) domain.FunnelMetrics {
	byType := make(map[string]domain.RawEvent, len(events))
	for _, ev := range events {
		// Repeats of one type within a payload are partial tallies of the
		// same action (per-day or per-campaign breakdowns) and sum up.
		// Distinct synonym types never sum; the alias loop below picks one.
		agg := byType[ev.Type]
		agg.Type = ev.Type
		agg.Count += ev.Count
		agg.Value += ev.Value
		byType[ev.Type] = agg
	}

	var m domain.FunnelMetrics
	for _, step := range steps {
		for _, alias := range stepAliases[step] {
			ev, ok := byType[alias]
			if !ok {
				continue
			}
			switch step {
			case StepClickToCall:
				m.ClickToCall = ev.Count
			case StepEmailContacts:
				m.EmailContacts = ev.Count
			case StepBookingStep1:
				m.BookingStep1 = ev.Count
			case StepBookingStep2:
				m.BookingStep2 = ev.Count
			case StepBookingStep3:
				m.BookingStep3 = ev.Count
			case StepReservations:
				m.Reservations = ev.Count
				m.ReservationValue = ev.Value
			}
			break // first matching alias only
		}
	}

	for _, ev := range events {
		if !knownType(ev.Type) {
			log.Printf("[Funnel] Warning: unrecognized event type %q (count=%d), ignoring", ev.Type, ev.Count)
		}
	}

	return m
}

// knownType reports whether a type appears in any step's alias list.
func knownType(t string) bool {
	for _, aliases := range stepAliases {
		for _, a := range aliases {
			if a == t {
				return true
			}
		}
	}
	return false
}
