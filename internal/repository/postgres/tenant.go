package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/adpulse/internal/domain"
)

// TenantRepo reads tenant records and their platform account references.
// Tenants are owned by the administrative subsystem; this repository is
// read-only by design.
type TenantRepo struct{ db *sql.DB }

// NewTenantRepo creates a Postgres-backed tenant repository.
func NewTenantRepo(db *sql.DB) *TenantRepo { return &TenantRepo{db: db} }

// Get returns one tenant with its account refs, or nil when absent.
func (r *TenantRepo) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	t := &domain.Tenant{AccountRefs: map[string]string{}}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}

	if err := r.loadAccountRefs(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListEligible returns tenants that have at least one platform account ref
// configured, with all refs populated.
func (r *TenantRepo) ListEligible(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT t.id, t.name, t.created_at
		FROM tenants t
		JOIN tenant_accounts a ON a.tenant_id = t.id
		WHERE a.account_ref <> ''
		ORDER BY t.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list eligible tenants: %w", err)
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		t := domain.Tenant{AccountRefs: map[string]string{}}
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}

	for i := range out {
		if err := r.loadAccountRefs(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *TenantRepo) loadAccountRefs(ctx context.Context, t *domain.Tenant) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT platform, account_ref FROM tenant_accounts WHERE tenant_id = $1
	`, t.ID)
	if err != nil {
		return fmt.Errorf("load account refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var platform, ref string
		if err := rows.Scan(&platform, &ref); err != nil {
			return fmt.Errorf("scan account ref: %w", err)
		}
		if ref != "" {
			t.AccountRefs[platform] = ref
		}
	}
	return rows.Err()
}
