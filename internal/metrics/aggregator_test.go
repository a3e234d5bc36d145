package metrics

import (
	"testing"
	"time"

	"github.com/gdfm-dev/gdfm/internal/store"
)

var aggBase = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func hoursAfter(hours int) time.Time {
	return aggBase.Add(time.Duration(hours) * time.Hour)
}

func TestReviewLatencyCountsCensoredRoundsWithoutSampling(t *testing.T) {
	t.Parallel()

	pulls := []store.PullRequest{
		{Number: 1, Association: store.AssociationMember},
		{Number: 2, Association: store.AssociationMember},
		{Number: 3, Association: store.AssociationNone},
	}
	rounds := []store.ReviewRound{
		{PullNumber: 1, ReadyAt: aggBase, FirstReviewAt: hoursAfter(2)},
		{PullNumber: 2, ReadyAt: aggBase, FirstReviewAt: hoursAfter(6)},
		// Censored: ready but never reviewed.
		{PullNumber: 2, Index: 1, ReadyAt: hoursAfter(8)},
		{PullNumber: 3, ReadyAt: aggBase, FirstReviewAt: hoursAfter(10)},
	}

	result := reviewLatency(pulls, rounds)
	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2 associations", len(result))
	}

	member := result[0]
	if member.Association != store.AssociationMember {
		t.Fatalf("result[0].Association = %s, want MEMBER (sorted)", member.Association)
	}
	if member.Rounds != 3 {
		t.Fatalf("member Rounds = %d, want 3 including censored", member.Rounds)
	}
	if member.Reviewed.Count != 2 {
		t.Fatalf("member Reviewed.Count = %d, want 2 excluding censored", member.Reviewed.Count)
	}
	if member.Reviewed.Min != 2*time.Hour || member.Reviewed.Max != 6*time.Hour {
		t.Fatalf("member Reviewed = %+v", member.Reviewed)
	}
	if member.Reviewed.Mean != 4*time.Hour {
		t.Fatalf("member Mean = %s, want 4h", member.Reviewed.Mean)
	}
}

func TestReviewLatencyOrphanRoundFallsBackToNone(t *testing.T) {
	t.Parallel()

	rounds := []store.ReviewRound{
		{PullNumber: 99, ReadyAt: aggBase, FirstReviewAt: hoursAfter(1)},
	}

	result := reviewLatency(nil, rounds)
	if len(result) != 1 || result[0].Association != store.AssociationNone {
		t.Fatalf("result = %+v, want single NONE bucket", result)
	}
}

func TestMergeTimeBySizeTiers(t *testing.T) {
	t.Parallel()

	tiers := []SizeTier{
		{Name: "small", MaxLinesChanged: 100},
		{Name: "large"},
	}
	pulls := []store.PullRequest{
		{Number: 1, Additions: 40, Deletions: 10, CreatedAt: aggBase, MergedAt: hoursAfter(4)},
		{Number: 2, Additions: 90, Deletions: 20, CreatedAt: aggBase, MergedAt: hoursAfter(40)},
		{Number: 3, Additions: 5, CreatedAt: aggBase},   // never merged
		{Number: 4, Additions: 100, CreatedAt: aggBase}, // never merged
	}

	result := mergeTimeBySize(pulls, tiers)
	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(result))
	}
	if result[0].Tier != "small" || result[0].Merged.Count != 1 {
		t.Fatalf("small tier = %+v", result[0])
	}
	if result[0].Merged.Median != 4*time.Hour {
		t.Fatalf("small Median = %s, want 4h", result[0].Merged.Median)
	}
	if result[1].Tier != "large" || result[1].Merged.Count != 1 {
		t.Fatalf("large tier = %+v (110 lines exceeds small cap)", result[1])
	}
}

func TestIssueResolutionSplitsByCloserKind(t *testing.T) {
	t.Parallel()

	issues := []store.Issue{
		{Number: 1, CreatedAt: aggBase, ClosedAt: hoursAfter(10), ClosedBy: "alice"},
		{Number: 2, CreatedAt: aggBase, ClosedAt: hoursAfter(20), ClosedBy: "stale[bot]"},
		{Number: 3, CreatedAt: aggBase, ClosedAt: hoursAfter(5)}, // closer unknown
		{Number: 4, CreatedAt: aggBase},                          // still open
	}

	result := issueResolution(issues, []string{"stale[bot]"})
	if result.HumanClosed.Count != 1 || result.HumanClosed.Median != 10*time.Hour {
		t.Fatalf("HumanClosed = %+v", result.HumanClosed)
	}
	if result.AutomationClosed.Count != 1 || result.AutomationClosed.Median != 20*time.Hour {
		t.Fatalf("AutomationClosed = %+v", result.AutomationClosed)
	}
	if result.UnknownCloser != 1 {
		t.Fatalf("UnknownCloser = %d, want 1", result.UnknownCloser)
	}
	if result.Open != 1 {
		t.Fatalf("Open = %d, want 1", result.Open)
	}
}

func TestActiveContributorsWindowAndAutomation(t *testing.T) {
	t.Parallel()

	now := hoursAfter(24 * 100)
	window := 90 * 24 * time.Hour

	pulls := []store.PullRequest{
		{Number: 1, Author: "alice", MergedAt: now.Add(-24 * time.Hour)},
		{Number: 2, Author: "old-timer", MergedAt: now.Add(-95 * 24 * time.Hour)},
		{Number: 3, Author: "never-merged"},
		{Number: 4, Author: "dependabot[bot]", MergedAt: now.Add(-time.Hour)},
	}
	events := []store.TimelineEvent{
		{Kind: store.EventReviewSubmitted, Actor: "bob", At: now.Add(-48 * time.Hour)},
		{Kind: store.EventReviewSubmitted, Actor: "alice", At: now.Add(-time.Hour)},
		{Kind: store.EventReadyForReview, Actor: "carol", At: now.Add(-time.Hour)},
	}

	got := activeContributors(pulls, events, []string{"dependabot[bot]"}, window, now)
	// alice (merge + review) and bob (review); carol only toggled readiness.
	if got != 2 {
		t.Fatalf("activeContributors = %d, want 2", got)
	}
}

func TestAggregateBuildsFullReport(t *testing.T) {
	t.Parallel()

	now := hoursAfter(24 * 30)
	cfg := Config{
		AutomationActors: []string{"stale[bot]"},
		ActivityWindow:   90 * 24 * time.Hour,
		Now:              func() time.Time { return now },
	}
	repo := store.Repository{Owner: "octo", Name: "widgets", Maintainers: []string{"alice"}}
	pulls := []store.PullRequest{
		{Number: 1, Author: "bob", Association: store.AssociationContributor, Additions: 8, CreatedAt: aggBase, MergedAt: hoursAfter(12)},
	}
	rounds := []store.ReviewRound{
		{PullNumber: 1, ReadyAt: aggBase, FirstReviewAt: hoursAfter(3)},
	}

	report := Aggregate(cfg, repo, pulls, nil, rounds, nil)
	if report.Repository != "octo/widgets" {
		t.Fatalf("Repository = %q", report.Repository)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("GeneratedAt = %s, want injected now", report.GeneratedAt)
	}
	if len(report.ReviewLatency) != 1 || report.ReviewLatency[0].Association != store.AssociationContributor {
		t.Fatalf("ReviewLatency = %+v", report.ReviewLatency)
	}
	// Default tiers apply when none are configured; 8 changed lines is xs.
	if len(report.MergeTimeBySize) != len(DefaultSizeTiers()) {
		t.Fatalf("len(MergeTimeBySize) = %d, want default tiers", len(report.MergeTimeBySize))
	}
	if report.MergeTimeBySize[0].Tier != "xs" || report.MergeTimeBySize[0].Merged.Count != 1 {
		t.Fatalf("xs tier = %+v", report.MergeTimeBySize[0])
	}
	if report.ActiveContributors != 1 {
		t.Fatalf("ActiveContributors = %d, want 1", report.ActiveContributors)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	sorted := []time.Duration{
		1 * time.Hour, 2 * time.Hour, 3 * time.Hour, 4 * time.Hour, 5 * time.Hour,
		6 * time.Hour, 7 * time.Hour, 8 * time.Hour, 9 * time.Hour, 10 * time.Hour,
	}

	testCases := []struct {
		name string
		p    int
		want time.Duration
	}{
		{name: "p50", p: 50, want: 5 * time.Hour},
		{name: "p90", p: 90, want: 9 * time.Hour},
		{name: "p100", p: 100, want: 10 * time.Hour},
		{name: "p1_clamps_to_first", p: 1, want: 1 * time.Hour},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := percentile(sorted, tc.p); got != tc.want {
				t.Fatalf("percentile(%d) = %s, want %s", tc.p, got, tc.want)
			}
		})
	}

	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("percentile(empty) = %s, want 0", got)
	}

	single := []time.Duration{3 * time.Hour}
	if got := percentile(single, 90); got != 3*time.Hour {
		t.Fatalf("percentile(single, 90) = %s, want 3h", got)
	}
}
