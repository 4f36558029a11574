package domain

import (
	"time"
)

// Tenant is a client whose ad accounts we collect for. Owned by the
// administrative subsystem; read-only here.
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// AccountRefs maps platform name ("meta", "google") to the upstream
	// account reference used for fetches. A tenant with no ref for a
	// platform is ineligible for that platform.
	AccountRefs map[string]string `json:"account_refs" db:"-"`
}

// Eligible reports whether the tenant can be collected for the platform.
func (t Tenant) Eligible(platform string) bool {
	return t.AccountRefs[platform] != ""
}
