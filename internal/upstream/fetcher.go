// Package upstream defines the contract for fetching campaign metrics from
// an ad platform. The concrete HTTP clients live outside this repository;
// collectors depend only on the Fetcher interface and the failure classes
// declared here.
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/adpulse/internal/domain"
)

// Failure classes. Collectors map these straight onto their retry/terminal
// decision: auth and permission failures are terminal for the tenant,
// rate-limit and transient failures re-enter the retry loop.
var (
	ErrAuth        = errors.New("upstream: invalid credentials")
	ErrPermission  = errors.New("upstream: permission denied")
	ErrRateLimited = errors.New("upstream: rate limited")
	ErrTransient   = errors.New("upstream: transient failure")
)

// Retryable reports whether an upstream error may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// Terminal reports whether an upstream error is final for the tenant.
func Terminal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrPermission)
}

// Result is the raw payload for one account and date range: the campaign
// breakdown plus the unnormalized action events the funnel parser consumes.
type Result struct {
	Campaigns []domain.CampaignRow
	RawEvents []domain.RawEvent
}

// Fetcher retrieves campaign metrics for an account between two inclusive
// dates. Implementations must honor ctx cancellation and deadlines; a hung
// call is converted by the caller's per-task timeout into a retryable
// failure.
type Fetcher interface {
	FetchMetrics(ctx context.Context, accountRef, platform string, start, end time.Time) (*Result, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, accountRef, platform string, start, end time.Time) (*Result, error)

func (f FetcherFunc) FetchMetrics(ctx context.Context, accountRef, platform string, start, end time.Time) (*Result, error) {
	return f(ctx, accountRef, platform, start, end)
}
