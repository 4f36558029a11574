package domain

import (
	"time"
)

// ArchiveRecord is one closed-period row in the archive tier, keyed by
// (tenant, platform, summary type, summary date). Immutable once written
// under normal operation; only an explicit recollection may replace it.
type ArchiveRecord struct {
	Tenant        string         `json:"tenant" db:"tenant_id"`
	Platform      string         `json:"platform" db:"platform"`
	SummaryType   SummaryType    `json:"summary_type" db:"summary_type"`
	SummaryDate   time.Time      `json:"summary_date" db:"summary_date"`
	Snapshot      MetricSnapshot `json:"snapshot" db:"snapshot"`
	CollectedAt   time.Time      `json:"collected_at" db:"collected_at"`
	RecollectedAt *time.Time     `json:"recollected_at,omitempty" db:"recollected_at"`
}
