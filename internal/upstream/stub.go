package upstream

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ignite/adpulse/internal/domain"
)

// Stub is a deterministic in-process Fetcher for local development and the
// dev server profile. Numbers derive from a hash of (accountRef, platform,
// start, end) so repeated fetches for the same range agree, which keeps
// recollection comparisons meaningful even against the stub.
type Stub struct{}

func (Stub) FetchMetrics(_ context.Context, accountRef, platform string, start, end time.Time) (*Result, error) {
	days := int64(end.Sub(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	seed := hashSeed(accountRef + "|" + platform + "|" + start.Format("2006-01-02") + "|" + end.Format("2006-01-02"))

	clicks := int64(seed%50+10) * days
	res := &Result{
		Campaigns: []domain.CampaignRow{
			{
				CampaignID:  fmt.Sprintf("%s-brand", accountRef),
				Name:        "Brand",
				Spend:       float64(seed%200+50) * float64(days) / 10,
				Impressions: int64(seed%1000+500) * days,
				Clicks:      clicks / 2,
				Conversions: days,
			},
			{
				CampaignID:  fmt.Sprintf("%s-remarketing", accountRef),
				Name:        "Remarketing",
				Spend:       float64(seed%120+30) * float64(days) / 10,
				Impressions: int64(seed%700+300) * days,
				Clicks:      clicks - clicks/2,
				Conversions: days / 2,
			},
		},
		RawEvents: []domain.RawEvent{
			{Type: "link_click", Count: clicks},
			{Type: "omni_view_content", Count: clicks / 3},
			{Type: "omni_initiated_checkout", Count: clicks / 8},
			{Type: "purchase", Count: days, Value: float64(seed%400+100) * float64(days) / 4},
		},
	}
	return res, nil
}

func hashSeed(s string) int64 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int64(h.Sum32())
}
