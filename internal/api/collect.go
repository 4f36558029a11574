package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/adpulse/internal/domain"
	"github.com/ignite/adpulse/internal/period"
)

// collectRequest is the body of POST /api/collect. An empty tenant means
// every eligible tenant; an empty platform means every configured platform.
// The range is decomposed into canonical periods; recollect authorizes
// overwriting archive records that already exist.
type collectRequest struct {
	Tenant    string `json:"tenant,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Recollect bool   `json:"recollect,omitempty"`
}

type collectResponse struct {
	Jobs            []domain.JobResult             `json:"jobs"`
	Counts          map[domain.CollectionState]int `json:"counts"`
	SkippedExisting []string                       `json:"skipped_existing,omitempty"`
	Uncovered       []string                       `json:"uncovered,omitempty"`
}

// TriggerCollect serves POST /api/collect: a manual collection or backfill.
// Canonical ranges run as a single job per tenant and platform; wider
// ranges are decomposed, and sub-periods already archived are skipped
// before any job is dispatched.
func (h *Handlers) TriggerCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start, err := parseDate(req.Start)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid start date, expected YYYY-MM-DD")
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end date, expected YYYY-MM-DD")
		return
	}
	if err := period.Validate(start, end, time.Now().UTC(), h.retentionMonths); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Platform != "" && !h.knownPlatform(req.Platform) {
		respondError(w, http.StatusBadRequest, "unknown platform: "+req.Platform)
		return
	}

	tenants, status, err := h.resolveTenants(r.Context(), req.Tenant)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}

	periods, uncovered := resolvePeriods(start, end)
	if len(periods) == 0 {
		respondError(w, http.StatusBadRequest, "range contains no collectable canonical period")
		return
	}

	resp := collectResponse{Uncovered: uncovered}
	for _, tenant := range tenants {
		for _, platform := range h.platforms {
			if req.Platform != "" && platform != req.Platform {
				continue
			}
			if !tenant.Eligible(platform) {
				continue
			}

			todo := periods
			if !req.Recollect {
				var skipped []string
				todo, skipped, err = h.filterArchived(r.Context(), tenant.ID, platform, periods, start, end)
				if err != nil {
					respondError(w, http.StatusInternalServerError, err.Error())
					return
				}
				resp.SkippedExisting = append(resp.SkippedExisting, skipped...)
			}

			for _, p := range todo {
				resp.Jobs = append(resp.Jobs, h.collector.RefreshOne(r.Context(), tenant, platform, p, req.Recollect))
			}
		}
	}

	resp.Counts = domain.RunReport{Jobs: resp.Jobs}.Counts()
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) resolveTenants(ctx context.Context, id string) ([]domain.Tenant, int, error) {
	if id == "" {
		tenants, err := h.tenants.ListEligible(ctx)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return tenants, 0, nil
	}

	tenant, err := h.tenants.Get(ctx, id)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if tenant == nil {
		return nil, http.StatusNotFound, fmt.Errorf("unknown tenant: %s", id)
	}
	return []domain.Tenant{*tenant}, 0, nil
}

// resolvePeriods turns a date range into the canonical periods to collect.
// A range that is itself canonical is one period; anything else is
// decomposed and the leftover day spans are reported back, never fetched.
func resolvePeriods(start, end time.Time) ([]domain.Period, []string) {
	if p := period.Classify(start, end); p.IsCanonical() {
		return []domain.Period{p}, nil
	}

	d := period.Decompose(start, end)
	var uncovered []string
	for _, gap := range d.Uncovered {
		uncovered = append(uncovered, gap.Start.Format("2006-01-02")+".."+gap.End.Format("2006-01-02"))
	}
	return d.Periods, uncovered
}

// filterArchived drops periods whose archive record already exists. One
// index query per summary type covers the whole range.
func (h *Handlers) filterArchived(ctx context.Context, tenantID, platform string, periods []domain.Period, from, to time.Time) ([]domain.Period, []string, error) {
	existing := make(map[domain.SummaryType]map[string]bool)

	var todo []domain.Period
	var skipped []string
	for _, p := range periods {
		st, ok := domain.SummaryTypeFor(p.Kind)
		if !ok {
			continue
		}

		dates, loaded := existing[st]
		if !loaded {
			var err error
			dates, err = h.archive.ExistingSummaryDates(ctx, tenantID, platform, st, from, to)
			if err != nil {
				return nil, nil, err
			}
			existing[st] = dates
		}

		if dates[p.Start.Format("2006-01-02")] {
			skipped = append(skipped, p.ID)
			continue
		}
		todo = append(todo, p)
	}
	return todo, skipped, nil
}
