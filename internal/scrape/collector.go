package scrape

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vaultis/vaultis/internal/budget"
)

// Snapshot is everything one budget-bounded run collected.
type Snapshot struct {
	Profile     *Profile
	Timeline    []TimelineItem
	SocialGraph []SocialGraphEntry
	SpentUSD    float64
}

// Collector drives a scrape run against an immutable budget plan. The
// timeline fetch is primary; the social graph is best-effort and is the
// first thing dropped when spend approaches the ceiling.
type Collector struct {
	client *Client
	plan   budget.Plan
	logger *slog.Logger
}

func NewCollector(client *Client, plan budget.Plan, logger *slog.Logger) *Collector {
	return &Collector{client: client, plan: plan, logger: logger}
}

// Run fetches the profile, then timeline pages, then social-graph pages,
// checking the budget before every paid page request.
func (c *Collector) Run(ctx context.Context, username string) (*Snapshot, error) {
	profile, err := c.client.FetchProfile(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("collect profile: %w", err)
	}

	snap := &Snapshot{Profile: profile}

	if err := c.collectTimeline(ctx, username, snap); err != nil {
		return nil, err
	}
	if err := c.collectSocialGraph(ctx, username, snap); err != nil {
		// Social graph is best-effort: a failure here degrades the
		// snapshot, it does not fail the run.
		c.logger.Warn("social graph collection degraded", "username", username, "error", err)
	}
	return snap, nil
}

func (c *Collector) collectTimeline(ctx context.Context, username string, snap *Snapshot) error {
	want := c.plan.TimelineItems
	cursor := ""
	for len(snap.Timeline) < want {
		limit := min(c.client.PageSize(), want-len(snap.Timeline))
		pageCost := float64(limit) * c.plan.TimelineItemCostUSD
		if !c.plan.Allows(snap.SpentUSD, pageCost) {
			c.logger.Warn("timeline fetch stopped at budget ceiling",
				"username", username, "collected", len(snap.Timeline), "spent_usd", snap.SpentUSD)
			return nil
		}

		page, err := c.client.FetchTimelinePage(ctx, username, cursor, limit)
		if err != nil {
			return fmt.Errorf("collect timeline: %w", err)
		}
		snap.Timeline = append(snap.Timeline, page.Items...)
		snap.SpentUSD += float64(len(page.Items)) * c.plan.TimelineItemCostUSD

		if page.NextCursor == "" || len(page.Items) == 0 {
			return nil
		}
		cursor = page.NextCursor
	}
	return nil
}

func (c *Collector) collectSocialGraph(ctx context.Context, username string, snap *Snapshot) error {
	want := c.plan.SocialGraphItems
	cursor := ""
	for len(snap.SocialGraph) < want {
		limit := min(c.client.PageSize(), want-len(snap.SocialGraph))
		pageCost := float64(limit) * c.plan.SocialGraphItemCostUSD
		if !c.plan.Allows(snap.SpentUSD, pageCost) {
			c.logger.Warn("social graph fetch stopped at budget ceiling",
				"username", username, "collected", len(snap.SocialGraph), "spent_usd", snap.SpentUSD)
			return nil
		}

		page, err := c.client.FetchSocialGraphPage(ctx, username, cursor, limit)
		if err != nil {
			return err
		}
		snap.SocialGraph = append(snap.SocialGraph, page.Items...)
		snap.SpentUSD += float64(len(page.Items)) * c.plan.SocialGraphItemCostUSD

		if page.NextCursor == "" || len(page.Items) == 0 {
			return nil
		}
		cursor = page.NextCursor
	}
	return nil
}
