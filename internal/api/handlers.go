package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ignite/adpulse/internal/domain"
	"github.com/ignite/adpulse/internal/period"
	"github.com/ignite/adpulse/internal/reader"
)

// MetricReader is the read orchestrator as the API needs it.
type MetricReader interface {
	Fetch(ctx context.Context, tenantID, platform string, start, end time.Time) (*reader.Result, error)
}

// CollectionService is the refresh orchestrator's surface for manual
// triggers and run inspection.
type CollectionService interface {
	RefreshOne(ctx context.Context, tenant domain.Tenant, platform string, p domain.Period, recollect bool) domain.JobResult
	LastReport() *domain.RunReport
	IsRunning() bool
}

// TenantDirectory resolves tenants for manual collection triggers.
type TenantDirectory interface {
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	ListEligible(ctx context.Context) ([]domain.Tenant, error)
}

// ArchiveIndex lists which summary dates are already final, so range
// backfills skip them without touching upstream.
type ArchiveIndex interface {
	ExistingSummaryDates(ctx context.Context, tenant, platform string, summaryType domain.SummaryType, from, to time.Time) (map[string]bool, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	reader          MetricReader
	collector       CollectionService
	tenants         TenantDirectory
	archive         ArchiveIndex
	platforms       []string
	retentionMonths int
	startTime       time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(r MetricReader, c CollectionService, t TenantDirectory, a ArchiveIndex, platforms []string, retentionMonths int) *Handlers {
	return &Handlers{
		reader:          r,
		collector:       c,
		tenants:         t,
		archive:         a,
		platforms:       platforms,
		retentionMonths: retentionMonths,
		startTime:       time.Now(),
	}
}

// metricsResponse flattens a reader result for the wire, with the derived
// rates computed server-side so clients never re-derive them.
type metricsResponse struct {
	Tenant         string               `json:"tenant"`
	Platform       string               `json:"platform"`
	Period         domain.Period        `json:"period"`
	Source         domain.Source        `json:"source"`
	CollectedAt    time.Time            `json:"collected_at"`
	MissingPeriods []string             `json:"missing_periods,omitempty"`
	Spend          float64              `json:"spend"`
	Impressions    int64                `json:"impressions"`
	Clicks         int64                `json:"clicks"`
	Conversions    int64                `json:"conversions"`
	CTR            float64              `json:"ctr"`
	CPC            float64              `json:"cpc"`
	Funnel         domain.FunnelMetrics `json:"funnel"`
	ROAS           float64              `json:"roas"`
	CostPerRes     float64              `json:"cost_per_reservation"`
	Campaigns      []domain.CampaignRow `json:"campaigns,omitempty"`
}

// GetMetrics serves GET /api/metrics?tenant=&platform=&start=&end=
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tenant := q.Get("tenant")
	platform := q.Get("platform")
	if tenant == "" || platform == "" {
		respondError(w, http.StatusBadRequest, "tenant and platform are required")
		return
	}
	if !h.knownPlatform(platform) {
		respondError(w, http.StatusBadRequest, "unknown platform: "+platform)
		return
	}

	start, err := parseDate(q.Get("start"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid start date, expected YYYY-MM-DD")
		return
	}
	end, err := parseDate(q.Get("end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end date, expected YYYY-MM-DD")
		return
	}

	res, err := h.reader.Fetch(r.Context(), tenant, platform, start, end)
	if err != nil {
		switch {
		case errors.Is(err, period.ErrInvalidRange):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, reader.ErrUnknownTenant):
			respondError(w, http.StatusNotFound, err.Error())
		default:
			// Upstream collection failed and no cached data could
			// absorb it.
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	snap := res.Snapshot
	respondJSON(w, http.StatusOK, metricsResponse{
		Tenant:         snap.Tenant,
		Platform:       snap.Platform,
		Period:         snap.Period,
		Source:         res.Source,
		CollectedAt:    snap.CollectedAt,
		MissingPeriods: res.MissingPeriods,
		Spend:          snap.Spend,
		Impressions:    snap.Impressions,
		Clicks:         snap.Clicks,
		Conversions:    snap.Conversions,
		CTR:            snap.CTR(),
		CPC:            snap.CPC(),
		Funnel:         snap.Funnel,
		ROAS:           snap.Funnel.ROAS(snap.Spend),
		CostPerRes:     snap.Funnel.CostPerReservation(snap.Spend),
		Campaigns:      snap.Campaigns,
	})
}

// GetLastRun serves GET /api/collect/last
func (h *Handlers) GetLastRun(w http.ResponseWriter, r *http.Request) {
	report := h.collector.LastReport()
	if report == nil {
		respondError(w, http.StatusNotFound, "no refresh run has completed yet")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run":    report,
		"counts": report.Counts(),
	})
}

// HealthCheck serves GET /healthz
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"collector_running": h.collector.IsRunning(),
		"uptime":            time.Since(h.startTime).String(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) knownPlatform(platform string) bool {
	for _, p := range h.platforms {
		if p == platform {
			return true
		}
	}
	return false
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
