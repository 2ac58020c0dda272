// Package budget computes the spend ceiling for one scrape run from a
// rolling monthly budget. The plan is computed once at dispatch time and
// passed immutably to the worker, which must stop issuing paid requests
// rather than re-derive or exceed it.
package budget

import "math"

// Config carries the provider pricing and the caps applied to every run.
type Config struct {
	MonthlyLimitUSD        float64
	PerRunLimitUSD         float64
	TimelineItemCostUSD    float64
	SocialGraphItemCostUSD float64
}

// Request describes what one scrape run wants to fetch and how much of the
// monthly budget is already spent before it starts.
type Request struct {
	TimelineItems            int
	SocialGraphItems         int
	MonthlySpentBeforeRunUSD float64
}

// Plan is the immutable budget handed to the worker.
type Plan struct {
	MonthlySpentBeforeRunUSD float64 `json:"monthly_spent_before_run_usd"`
	MonthlyLimitUSD          float64 `json:"monthly_limit_usd"`
	PerRunLimitUSD           float64 `json:"per_run_limit_usd"`
	MonthlyRemainingUSD      float64 `json:"monthly_remaining_usd"`
	EffectiveRunBudgetUSD    float64 `json:"effective_run_budget_usd"`

	TimelineItems    int `json:"timeline_items"`
	SocialGraphItems int `json:"social_graph_items"`

	TimelineItemCostUSD         float64 `json:"timeline_item_cost_usd"`
	SocialGraphItemCostUSD      float64 `json:"social_graph_item_cost_usd"`
	EstimatedTimelineCostUSD    float64 `json:"estimated_timeline_cost_usd"`
	EstimatedSocialGraphCostUSD float64 `json:"estimated_social_graph_cost_usd"`
	EstimatedMaxRunCostUSD      float64 `json:"estimated_max_run_cost_usd"`
}

// Allocate clamps the requested fetch to the effective run budget. The
// timeline fetch is primary and its item count is never reduced; the social
// graph is best-effort and its item count is truncated downward until the
// combined estimate fits.
func Allocate(cfg Config, req Request) Plan {
	monthlyRemaining := math.Max(0, cfg.MonthlyLimitUSD-req.MonthlySpentBeforeRunUSD)
	effective := math.Min(cfg.PerRunLimitUSD, monthlyRemaining)

	timelineItems := max(req.TimelineItems, 0)
	socialGraphItems := max(req.SocialGraphItems, 0)

	timelineCost := float64(timelineItems) * cfg.TimelineItemCostUSD

	if cfg.SocialGraphItemCostUSD > 0 {
		headroom := effective - timelineCost
		if headroom < 0 {
			headroom = 0
		}
		fit := int(math.Floor(headroom / cfg.SocialGraphItemCostUSD))
		if socialGraphItems > fit {
			socialGraphItems = fit
		}
	}
	socialGraphCost := float64(socialGraphItems) * cfg.SocialGraphItemCostUSD

	return Plan{
		MonthlySpentBeforeRunUSD:    req.MonthlySpentBeforeRunUSD,
		MonthlyLimitUSD:             cfg.MonthlyLimitUSD,
		PerRunLimitUSD:              cfg.PerRunLimitUSD,
		MonthlyRemainingUSD:         monthlyRemaining,
		EffectiveRunBudgetUSD:       effective,
		TimelineItems:               timelineItems,
		SocialGraphItems:            socialGraphItems,
		TimelineItemCostUSD:         cfg.TimelineItemCostUSD,
		SocialGraphItemCostUSD:      cfg.SocialGraphItemCostUSD,
		EstimatedTimelineCostUSD:    timelineCost,
		EstimatedSocialGraphCostUSD: socialGraphCost,
		EstimatedMaxRunCostUSD:      timelineCost + socialGraphCost,
	}
}

// Allows reports whether spending additional USD would still fit under the
// effective run budget once spentSoFar is counted.
func (p Plan) Allows(spentSoFar, additional float64) bool {
	return spentSoFar+additional <= p.EffectiveRunBudgetUSD
}
