package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/adpulse/internal/domain"
)

// ArchiveRepo implements the closed-period archive tier against PostgreSQL.
type ArchiveRepo struct{ db *sql.DB }

// NewArchiveRepo creates a Postgres-backed archive repository.
func NewArchiveRepo(db *sql.DB) *ArchiveRepo { return &ArchiveRepo{db: db} }

// Get returns the archive record for the key, or nil when none exists.
func (r *ArchiveRepo) Get(ctx context.Context, tenant, platform string, summaryType domain.SummaryType, summaryDate time.Time) (*domain.ArchiveRecord, error) {
	rec := &domain.ArchiveRecord{
		Tenant:      tenant,
		Platform:    platform,
		SummaryType: summaryType,
	}

	var snapshotJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT summary_date, snapshot, collected_at, recollected_at
		FROM metric_archive
		WHERE tenant_id = $1 AND platform = $2 AND summary_type = $3 AND summary_date = $4
	`, tenant, platform, string(summaryType), summaryDate).Scan(
		&rec.SummaryDate, &snapshotJSON, &rec.CollectedAt, &rec.RecollectedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archive record: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("decode archive snapshot: %w", err)
	}
	return rec, nil
}

// Insert writes a record only if the key is absent, returning whether a row
// was written. This is the idempotent backfill path: a second sequential
// insert for the same key leaves the first write's values unchanged.
func (r *ArchiveRepo) Insert(ctx context.Context, rec domain.ArchiveRecord) (bool, error) {
	snapshotJSON, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return false, fmt.Errorf("encode archive snapshot: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO metric_archive
			(tenant_id, platform, summary_type, summary_date, snapshot, collected_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tenant_id, platform, summary_type, summary_date) DO NOTHING
	`, rec.Tenant, rec.Platform, string(rec.SummaryType), rec.SummaryDate, snapshotJSON, rec.CollectedAt)
	if err != nil {
		return false, fmt.Errorf("insert archive record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Replace overwrites the record for the key, inserting if absent. Reserved
// for the explicit recollection path; normal reads and refreshes must use
// Insert so closed periods stay immutable.
func (r *ArchiveRepo) Replace(ctx context.Context, rec domain.ArchiveRecord) error {
	snapshotJSON, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("encode archive snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO metric_archive
			(tenant_id, platform, summary_type, summary_date, snapshot, collected_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tenant_id, platform, summary_type, summary_date)
		DO UPDATE SET snapshot = EXCLUDED.snapshot,
		              collected_at = EXCLUDED.collected_at,
		              recollected_at = NOW(),
		              updated_at = NOW()
	`, rec.Tenant, rec.Platform, string(rec.SummaryType), rec.SummaryDate, snapshotJSON, rec.CollectedAt)
	if err != nil {
		return fmt.Errorf("replace archive record: %w", err)
	}
	return nil
}

// ExistingSummaryDates returns the summary dates already archived for the
// tenant and platform within [from, to]. Backfill planners use it to skip
// periods that are already final.
func (r *ArchiveRepo) ExistingSummaryDates(ctx context.Context, tenant, platform string, summaryType domain.SummaryType, from, to time.Time) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT summary_date
		FROM metric_archive
		WHERE tenant_id = $1 AND platform = $2 AND summary_type = $3
		  AND summary_date BETWEEN $4 AND $5
		ORDER BY summary_date
	`, tenant, platform, string(summaryType), from, to)
	if err != nil {
		return nil, fmt.Errorf("list archive dates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan archive date: %w", err)
		}
		out[d.Format("2006-01-02")] = true
	}
	return out, rows.Err()
}
