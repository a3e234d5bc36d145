// Package metrics derives maintainer-responsiveness statistics from collected
// entities. All functions are pure over their inputs; censored data points
// (rounds that never received a review, closed issues with an unresolved
// closer) are excluded from latency distributions, never defaulted to zero.
package metrics

import (
	"slices"
	"sort"
	"time"

	"github.com/gdfm-dev/gdfm/internal/store"
)

// SizeTier is one change-size bucket for merge-time distributions. A tier with
// MaxLinesChanged of 0 is the unbounded catch-all.
type SizeTier struct {
	Name            string
	MaxLinesChanged int
}

// DefaultSizeTiers mirrors common small/medium/large review-size conventions.
func DefaultSizeTiers() []SizeTier {
	return []SizeTier{
		{Name: "xs", MaxLinesChanged: 10},
		{Name: "s", MaxLinesChanged: 100},
		{Name: "m", MaxLinesChanged: 500},
		{Name: "l", MaxLinesChanged: 2000},
		{Name: "xl"},
	}
}

// Config configures aggregation.
type Config struct {
	SizeTiers        []SizeTier
	AutomationActors []string
	ActivityWindow   time.Duration
	Now              func() time.Time
}

// Distribution summarizes a set of durations.
type Distribution struct {
	Count  int
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	Median time.Duration
	P90    time.Duration
}

// AssociationLatency is the review-latency summary for one author association.
// Rounds counts every reconstructed round; the distribution covers only the
// rounds whose first review exists.
type AssociationLatency struct {
	Association store.AuthorAssociation
	Rounds      int
	Reviewed    Distribution
}

// TierMergeTime is the merge-time summary for one change-size tier.
type TierMergeTime struct {
	Tier   string
	Merged Distribution
}

// IssueResolution splits issue-resolution time by the closing actor kind.
type IssueResolution struct {
	HumanClosed      Distribution
	AutomationClosed Distribution
	UnknownCloser    int
	Open             int
}

// Report is the full derived report for one repository.
type Report struct {
	Repository         string
	Maintainers        []string
	GeneratedAt        time.Time
	ReviewLatency      []AssociationLatency
	MergeTimeBySize    []TierMergeTime
	Issues             IssueResolution
	ActiveContributors int
}

// Aggregate computes the report from store read-backs.
func Aggregate(cfg Config, repo store.Repository, pulls []store.PullRequest, issues []store.Issue, rounds []store.ReviewRound, events []store.TimelineEvent) Report {
	now := time.Now()
	if cfg.Now != nil {
		now = cfg.Now()
	}
	tiers := cfg.SizeTiers
	if len(tiers) == 0 {
		tiers = DefaultSizeTiers()
	}

	report := Report{
		Repository:  repo.Path(),
		Maintainers: slices.Clone(repo.Maintainers),
		GeneratedAt: now,
	}
	report.ReviewLatency = reviewLatency(pulls, rounds)
	report.MergeTimeBySize = mergeTimeBySize(pulls, tiers)
	report.Issues = issueResolution(issues, cfg.AutomationActors)
	report.ActiveContributors = activeContributors(pulls, events, cfg.AutomationActors, cfg.ActivityWindow, now)
	return report
}

func reviewLatency(pulls []store.PullRequest, rounds []store.ReviewRound) []AssociationLatency {
	associationByNumber := make(map[int]store.AuthorAssociation, len(pulls))
	for _, pull := range pulls {
		associationByNumber[pull.Number] = pull.Association
	}

	counts := make(map[store.AuthorAssociation]int)
	latencies := make(map[store.AuthorAssociation][]time.Duration)
	for _, round := range rounds {
		association, ok := associationByNumber[round.PullNumber]
		if !ok {
			association = store.AssociationNone
		}
		counts[association]++
		if round.FirstReviewAt.IsZero() {
			continue
		}
		latencies[association] = append(latencies[association], round.FirstReviewAt.Sub(round.ReadyAt))
	}

	result := make([]AssociationLatency, 0, len(counts))
	for association, count := range counts {
		result = append(result, AssociationLatency{
			Association: association,
			Rounds:      count,
			Reviewed:    summarize(latencies[association]),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Association < result[j].Association })
	return result
}

func mergeTimeBySize(pulls []store.PullRequest, tiers []SizeTier) []TierMergeTime {
	byTier := make(map[string][]time.Duration, len(tiers))
	for _, pull := range pulls {
		if pull.MergedAt.IsZero() || pull.CreatedAt.IsZero() {
			continue
		}
		tier := tierFor(tiers, pull.Additions+pull.Deletions)
		byTier[tier] = append(byTier[tier], pull.MergedAt.Sub(pull.CreatedAt))
	}

	result := make([]TierMergeTime, 0, len(tiers))
	for _, tier := range tiers {
		result = append(result, TierMergeTime{
			Tier:   tier.Name,
			Merged: summarize(byTier[tier.Name]),
		})
	}
	return result
}

func tierFor(tiers []SizeTier, linesChanged int) string {
	for _, tier := range tiers {
		if tier.MaxLinesChanged <= 0 || linesChanged <= tier.MaxLinesChanged {
			return tier.Name
		}
	}
	return tiers[len(tiers)-1].Name
}

func issueResolution(issues []store.Issue, automationActors []string) IssueResolution {
	var human, automation []time.Duration
	result := IssueResolution{}
	for _, issue := range issues {
		if issue.ClosedAt.IsZero() {
			result.Open++
			continue
		}
		if issue.ClosedBy == "" {
			result.UnknownCloser++
			continue
		}
		resolution := issue.ClosedAt.Sub(issue.CreatedAt)
		if slices.Contains(automationActors, issue.ClosedBy) {
			automation = append(automation, resolution)
		} else {
			human = append(human, resolution)
		}
	}
	result.HumanClosed = summarize(human)
	result.AutomationClosed = summarize(automation)
	return result
}

func activeContributors(pulls []store.PullRequest, events []store.TimelineEvent, automationActors []string, window time.Duration, now time.Time) int {
	windowStart := time.Time{}
	if window > 0 {
		windowStart = now.Add(-window)
	}

	active := make(map[string]struct{})
	mark := func(login string, at time.Time) {
		if login == "" || at.IsZero() {
			return
		}
		if !windowStart.IsZero() && at.Before(windowStart) {
			return
		}
		if slices.Contains(automationActors, login) {
			return
		}
		active[login] = struct{}{}
	}

	for _, pull := range pulls {
		mark(pull.Author, pull.MergedAt)
	}
	for _, event := range events {
		if event.Kind == store.EventReviewSubmitted {
			mark(event.Actor, event.At)
		}
	}
	return len(active)
}

func summarize(samples []time.Duration) Distribution {
	if len(samples) == 0 {
		return Distribution{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, sample := range sorted {
		total += sample
	}

	return Distribution{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   total / time.Duration(len(sorted)),
		Median: percentile(sorted, 50),
		P90:    percentile(sorted, 90),
	}
}

// percentile uses the nearest-rank method over an ascending sample set.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
