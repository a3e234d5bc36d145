package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdfm-dev/gdfm/internal/githubapi"
	"github.com/gdfm-dev/gdfm/internal/store"
	"github.com/gdfm-dev/gdfm/internal/timeline"
	"go.uber.org/zap"
)

// ErrNoProgress is returned when a run ends without persisting anything,
// typically because the quota was already exhausted at start.
var ErrNoProgress = errors.New("collection made no progress")

// Scope selects which entity kinds a run collects.
type Scope string

const (
	// ScopePulls collects pull requests only.
	ScopePulls Scope = "pulls"
	// ScopeIssues collects issues only.
	ScopeIssues Scope = "issues"
	// ScopeAll collects both.
	ScopeAll Scope = "all"
)

const (
	partTimeline = "timeline"
	partReviews  = "reviews"
	partDetail   = "detail"
	partClosedBy = "closed_by"

	reasonBudgetExhausted = "call_budget_exhausted"
)

// Config configures one collection run.
type Config struct {
	// Workers bounds the number of simultaneously in-flight entity collections.
	Workers int
	// MaxCalls caps the number of logical API fetches for the run; 0 is uncapped.
	MaxCalls int
	Scope    Scope
	// TimeBox aborts remaining unscheduled work after this duration; 0 is unbounded.
	TimeBox    time.Duration
	PullState  string
	IssueState string
}

// GitHubData is the remote API surface the collector consumes. It is satisfied
// by githubapi.DataClient and by deterministic fakes in tests.
type GitHubData interface {
	ListPullRequests(ctx context.Context, owner, repo, state string) (githubapi.PullListResult, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (githubapi.PullDetailResult, error)
	ListPullTimeline(ctx context.Context, owner, repo string, number int) (githubapi.TimelineResult, error)
	ListPullReviews(ctx context.Context, owner, repo string, number int) (githubapi.PullReviewsResult, error)
	ListIssues(ctx context.Context, owner, repo, state string) (githubapi.IssueListResult, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (githubapi.IssueDetailResult, error)
}

// Summary reports end-of-run entity and budget counters.
type Summary struct {
	PullsComplete  int
	PullsPartial   int
	PullsFailed    int
	IssuesComplete int
	IssuesPartial  int
	IssuesFailed   int
	RoundsReplaced int
	CallsUsed      int
	QuotaRemaining int
	Elapsed        time.Duration
}

// Progress reports whether anything was persisted.
func (s Summary) Progress() bool {
	return s.PullsComplete+s.PullsPartial+s.IssuesComplete+s.IssuesPartial > 0
}

// Collector runs one bounded-concurrency collection pass for a repository.
// Each top-level entity is attempted exactly once; failures stay scoped to
// their entity and are recorded as completeness markers rather than aborting
// the run.
type Collector struct {
	client  GitHubData
	store   store.Store
	tracker *githubapi.QuotaTracker
	cfg     Config
	logger  *zap.Logger
	metrics *Instrumentation

	calls atomic.Int64
}

// NewCollector creates a collector. metrics may be nil.
func NewCollector(client GitHubData, st store.Store, tracker *githubapi.QuotaTracker, cfg Config, logger *zap.Logger, metrics *Instrumentation) *Collector {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeAll
	}
	if cfg.PullState == "" {
		cfg.PullState = "all"
	}
	if cfg.IssueState == "" {
		cfg.IssueState = "all"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		client:  client,
		store:   st,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Run executes one collection pass.
func (c *Collector) Run(ctx context.Context, owner, repo string) (Summary, error) {
	if c.client == nil || c.store == nil {
		return Summary{}, fmt.Errorf("collector is not initialized")
	}

	if c.cfg.TimeBox > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TimeBox)
		defer cancel()
	}

	started := time.Now()
	summary := Summary{}

	var pullsErr, issuesErr error
	if c.cfg.Scope == ScopePulls || c.cfg.Scope == ScopeAll {
		pullsErr = c.collectPulls(ctx, owner, repo, &summary)
	}
	if c.cfg.Scope == ScopeIssues || c.cfg.Scope == ScopeAll {
		issuesErr = c.collectIssues(ctx, owner, repo, &summary)
	}

	summary.CallsUsed = int(c.calls.Load())
	summary.Elapsed = time.Since(started)
	if c.tracker != nil {
		snapshot := c.tracker.Snapshot()
		summary.QuotaRemaining = snapshot.Remaining
		c.metrics.setQuotaRemaining(snapshot.Remaining)
	}

	c.logger.Info("collection finished",
		zap.String("repository", owner+"/"+repo),
		zap.Int("pulls_complete", summary.PullsComplete),
		zap.Int("pulls_partial", summary.PullsPartial),
		zap.Int("pulls_failed", summary.PullsFailed),
		zap.Int("issues_complete", summary.IssuesComplete),
		zap.Int("issues_partial", summary.IssuesPartial),
		zap.Int("issues_failed", summary.IssuesFailed),
		zap.Int("calls_used", summary.CallsUsed),
		zap.Int("quota_remaining", summary.QuotaRemaining),
		zap.Duration("elapsed", summary.Elapsed),
	)

	runErr := errors.Join(pullsErr, issuesErr)
	if runErr != nil && !summary.Progress() {
		return summary, fmt.Errorf("%w: %w", ErrNoProgress, runErr)
	}
	if runErr != nil {
		// Scoped enumeration failure with progress elsewhere is reported but
		// does not fail the run.
		c.logger.Warn("collection completed with errors", zap.Error(runErr))
	}
	return summary, nil
}

func (c *Collector) collectPulls(ctx context.Context, owner, repo string, summary *Summary) error {
	if !c.takeCall("pulls_list") {
		return fmt.Errorf("pull enumeration skipped: %s", reasonBudgetExhausted)
	}

	list, err := c.client.ListPullRequests(ctx, owner, repo, c.cfg.PullState)
	if err != nil {
		return fmt.Errorf("enumerate pull requests: %w", err)
	}
	if list.Status != githubapi.EndpointStatusOK {
		return fmt.Errorf("enumerate pull requests: endpoint status %s", list.Status)
	}

	jobs := make(chan githubapi.PullSummary, len(list.Pulls))
	outcomes := make(chan entityOutcome, len(list.Pulls))

	var wg sync.WaitGroup
	for range c.cfg.Workers {
		wg.Go(func() {
			for pull := range jobs {
				outcomes <- c.collectPull(ctx, owner, repo, pull)
			}
		})
	}

	for _, pull := range list.Pulls {
		jobs <- pull
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		c.metrics.observeEntity("pull", string(outcome.completeness))
		switch outcome.completeness {
		case store.CompletenessComplete:
			summary.PullsComplete++
		case store.CompletenessPartial:
			summary.PullsPartial++
		default:
			summary.PullsFailed++
		}
		summary.RoundsReplaced += outcome.roundsReplaced
	}
	return nil
}

type entityOutcome struct {
	completeness   store.Completeness
	roundsReplaced int
}

func (c *Collector) collectPull(ctx context.Context, owner, repo string, summary githubapi.PullSummary) entityOutcome {
	pull := store.PullRequest{
		Owner:       owner,
		Repo:        repo,
		Number:      summary.Number,
		Title:       summary.Title,
		Author:      summary.User,
		Association: store.NormalizeAssociation(summary.AuthorAssociation),
		State:       summary.State,
		Draft:       summary.Draft,
		CreatedAt:   summary.CreatedAt,
		UpdatedAt:   summary.UpdatedAt,
		ClosedAt:    summary.ClosedAt,
		MergedAt:    summary.MergedAt,
	}

	var missing []string
	var firstFailure string

	fail := func(part, reason string) {
		missing = append(missing, part)
		if firstFailure == "" {
			firstFailure = reason
		}
	}

	if c.takeCall("pull_detail") {
		detail, err := c.client.GetPullRequest(ctx, owner, repo, summary.Number)
		switch {
		case err != nil:
			fail(partDetail, err.Error())
		case detail.Status != githubapi.EndpointStatusOK:
			fail(partDetail, "endpoint status "+string(detail.Status))
		default:
			pull.Commits = detail.Detail.Commits
			pull.Additions = detail.Detail.Additions
			pull.Deletions = detail.Detail.Deletions
			pull.ChangedFiles = detail.Detail.ChangedFiles
			pull.Draft = detail.Detail.Draft
		}
	} else {
		fail(partDetail, reasonBudgetExhausted)
	}

	var events []store.TimelineEvent
	timelineOK := false
	if c.takeCall("pull_timeline") {
		timelineResult, err := c.client.ListPullTimeline(ctx, owner, repo, summary.Number)
		switch {
		case err != nil:
			fail(partTimeline, err.Error())
		case timelineResult.Status != githubapi.EndpointStatusOK:
			fail(partTimeline, "endpoint status "+string(timelineResult.Status))
		default:
			timelineOK = true
			events = append(events, timelineEventsFromEntries(owner, repo, summary.Number, timelineResult.Events)...)
		}
	} else {
		fail(partTimeline, reasonBudgetExhausted)
	}

	reviewsOK := false
	if c.takeCall("pull_reviews") {
		reviewsResult, err := c.client.ListPullReviews(ctx, owner, repo, summary.Number)
		switch {
		case err != nil:
			fail(partReviews, err.Error())
		case reviewsResult.Status != githubapi.EndpointStatusOK:
			fail(partReviews, "endpoint status "+string(reviewsResult.Status))
		default:
			reviewsOK = true
			events = append(events, reviewEvents(owner, repo, summary.Number, len(events), reviewsResult.Reviews)...)
		}
	} else {
		fail(partReviews, reasonBudgetExhausted)
	}

	outcome := entityOutcome{completeness: store.CompletenessComplete}
	switch {
	case len(missing) == 0:
		pull.Completeness = store.CompletenessComplete
	case len(missing) >= 3:
		pull.Completeness = store.CompletenessFailed
		pull.FailureReason = firstFailure
		outcome.completeness = store.CompletenessFailed
	default:
		pull.Completeness = store.CompletenessPartial
		pull.MissingParts = missing
		outcome.completeness = store.CompletenessPartial
	}

	if err := c.store.UpsertPullRequest(ctx, pull); err != nil {
		c.logger.Error("persist pull request failed",
			zap.Int("number", pull.Number), zap.Error(err))
		outcome.completeness = store.CompletenessFailed
		return outcome
	}

	for _, event := range events {
		if err := c.store.AppendRawEvent(ctx, event); err != nil {
			c.logger.Error("persist raw event failed",
				zap.Int("number", pull.Number), zap.Error(err))
		}
	}

	// Rounds are recomputed only from a full event set; a partial stream
	// would fabricate transitions that never happened.
	if timelineOK && reviewsOK {
		rounds := timeline.Reconstruct(pull, events)
		if err := c.store.ReplaceReviewRounds(ctx, owner, repo, pull.Number, rounds); err != nil {
			c.logger.Error("persist review rounds failed",
				zap.Int("number", pull.Number), zap.Error(err))
		} else {
			outcome.roundsReplaced = len(rounds)
		}
	}

	return outcome
}

func (c *Collector) collectIssues(ctx context.Context, owner, repo string, summary *Summary) error {
	if !c.takeCall("issues_list") {
		return fmt.Errorf("issue enumeration skipped: %s", reasonBudgetExhausted)
	}

	list, err := c.client.ListIssues(ctx, owner, repo, c.cfg.IssueState)
	if err != nil {
		return fmt.Errorf("enumerate issues: %w", err)
	}
	if list.Status != githubapi.EndpointStatusOK {
		return fmt.Errorf("enumerate issues: endpoint status %s", list.Status)
	}

	jobs := make(chan githubapi.IssueSummary, len(list.Issues))
	outcomes := make(chan entityOutcome, len(list.Issues))

	var wg sync.WaitGroup
	for range c.cfg.Workers {
		wg.Go(func() {
			for issue := range jobs {
				outcomes <- c.collectIssue(ctx, owner, repo, issue)
			}
		})
	}

	for _, issue := range list.Issues {
		jobs <- issue
	}
	close(jobs)

	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		c.metrics.observeEntity("issue", string(outcome.completeness))
		switch outcome.completeness {
		case store.CompletenessComplete:
			summary.IssuesComplete++
		case store.CompletenessPartial:
			summary.IssuesPartial++
		default:
			summary.IssuesFailed++
		}
	}
	return nil
}

func (c *Collector) collectIssue(ctx context.Context, owner, repo string, summary githubapi.IssueSummary) entityOutcome {
	issue := store.Issue{
		Owner:        owner,
		Repo:         repo,
		Number:       summary.Number,
		Title:        summary.Title,
		Author:       summary.User,
		Association:  store.NormalizeAssociation(summary.AuthorAssociation),
		State:        summary.State,
		CreatedAt:    summary.CreatedAt,
		ClosedAt:     summary.ClosedAt,
		Labels:       summary.Labels,
		Completeness: store.CompletenessComplete,
	}

	// The closing actor is only reported by the issue detail endpoint, so the
	// extra fetch is spent on closed issues only.
	if !summary.ClosedAt.IsZero() {
		if c.takeCall("issue_detail") {
			detail, err := c.client.GetIssue(ctx, owner, repo, summary.Number)
			switch {
			case err != nil:
				issue.Completeness = store.CompletenessPartial
				issue.MissingParts = []string{partClosedBy}
			case detail.Status != githubapi.EndpointStatusOK:
				issue.Completeness = store.CompletenessPartial
				issue.MissingParts = []string{partClosedBy}
			default:
				issue.ClosedBy = detail.Detail.ClosedBy
			}
		} else {
			issue.Completeness = store.CompletenessPartial
			issue.MissingParts = []string{partClosedBy}
		}
	}

	outcome := entityOutcome{completeness: issue.Completeness}
	if err := c.store.UpsertIssue(ctx, issue); err != nil {
		c.logger.Error("persist issue failed",
			zap.Int("number", issue.Number), zap.Error(err))
		outcome.completeness = store.CompletenessFailed
	}
	return outcome
}

// takeCall consumes one unit of the run-level call budget.
func (c *Collector) takeCall(resource string) bool {
	for {
		used := c.calls.Load()
		if c.cfg.MaxCalls > 0 && used >= int64(c.cfg.MaxCalls) {
			return false
		}
		if c.calls.CompareAndSwap(used, used+1) {
			c.metrics.observeCall(resource)
			return true
		}
	}
}

// timelineEventsFromEntries maps raw timeline entries onto canonical events.
// Review submissions are sourced from the reviews endpoint instead, which
// carries the reviewer association; mapping them here too would double count.
func timelineEventsFromEntries(owner, repo string, number int, entries []githubapi.TimelineEntry) []store.TimelineEvent {
	events := make([]store.TimelineEvent, 0, len(entries))
	for i, entry := range entries {
		kind := mapEventKind(entry.Event)
		if kind == store.EventReviewSubmitted {
			continue
		}
		events = append(events, store.TimelineEvent{
			Owner:       owner,
			Repo:        repo,
			PullNumber:  number,
			ID:          entry.ID,
			Sequence:    i,
			Kind:        kind,
			Actor:       entry.Actor,
			Association: store.NormalizeAssociation(entry.AuthorAssociation),
			At:          entry.OccurredAt,
		})
	}
	return events
}

func reviewEvents(owner, repo string, number, sequenceBase int, reviews []githubapi.PullReview) []store.TimelineEvent {
	events := make([]store.TimelineEvent, 0, len(reviews))
	for i, review := range reviews {
		if review.SubmittedAt.IsZero() {
			// Pending reviews have no submission time and are not events yet.
			continue
		}
		events = append(events, store.TimelineEvent{
			Owner:       owner,
			Repo:        repo,
			PullNumber:  number,
			ID:          review.ID,
			Sequence:    sequenceBase + i,
			Kind:        store.EventReviewSubmitted,
			Actor:       review.User,
			Association: store.NormalizeAssociation(review.AuthorAssociation),
			At:          review.SubmittedAt,
		})
	}
	return events
}

func mapEventKind(raw string) store.EventKind {
	switch raw {
	case "ready_for_review":
		return store.EventReadyForReview
	case "convert_to_draft":
		return store.EventConvertedToDraft
	case "reviewed":
		return store.EventReviewSubmitted
	case "closed":
		return store.EventClosed
	case "merged":
		return store.EventMerged
	default:
		return store.EventOther
	}
}
