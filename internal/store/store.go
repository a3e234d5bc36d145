package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
)

// Store is the persistence boundary for collected entities. ReplaceReviewRounds
// performs an idempotent full replace per pull request because rounds are
// always fully recomputed. AppendRawEvent must deduplicate by source event
// identity so re-collection leaves the store unchanged.
type Store interface {
	SaveRepository(ctx context.Context, repo Repository) error
	GetRepository(ctx context.Context, owner, name string) (Repository, bool, error)

	UpsertPullRequest(ctx context.Context, pull PullRequest) error
	UpsertIssue(ctx context.Context, issue Issue) error
	ReplaceReviewRounds(ctx context.Context, owner, repo string, pullNumber int, rounds []ReviewRound) error
	AppendRawEvent(ctx context.Context, event TimelineEvent) error

	ListPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error)
	ListIssues(ctx context.Context, owner, repo string) ([]Issue, error)
	ListReviewRounds(ctx context.Context, owner, repo string) ([]ReviewRound, error)
	ListRawEvents(ctx context.Context, owner, repo string) ([]TimelineEvent, error)

	Purge(ctx context.Context, owner, repo string) error
}

// MemoryStore is an in-memory Store used by tests and one-shot runs.
type MemoryStore struct {
	mu     sync.RWMutex
	repos  map[string]Repository
	pulls  map[string]map[int]PullRequest
	issues map[string]map[int]Issue
	rounds map[string]map[int][]ReviewRound
	events map[string][]TimelineEvent
	seen   map[string]map[string]struct{}
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repos:  make(map[string]Repository),
		pulls:  make(map[string]map[int]PullRequest),
		issues: make(map[string]map[int]Issue),
		rounds: make(map[string]map[int][]ReviewRound),
		events: make(map[string][]TimelineEvent),
		seen:   make(map[string]map[string]struct{}),
	}
}

// SaveRepository inserts or replaces a tracked repository.
func (s *MemoryStore) SaveRepository(_ context.Context, repo Repository) error {
	if repo.Owner == "" || repo.Name == "" {
		return fmt.Errorf("repository owner and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := repo
	stored.Maintainers = slices.Clone(repo.Maintainers)
	s.repos[repoKey(repo.Owner, repo.Name)] = stored
	return nil
}

// GetRepository reads a tracked repository.
func (s *MemoryStore) GetRepository(_ context.Context, owner, name string) (Repository, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, ok := s.repos[repoKey(owner, name)]
	if !ok {
		return Repository{}, false, nil
	}
	repo.Maintainers = slices.Clone(repo.Maintainers)
	return repo, true, nil
}

// UpsertPullRequest inserts or updates one pull request.
func (s *MemoryStore) UpsertPullRequest(_ context.Context, pull PullRequest) error {
	if pull.Number <= 0 {
		return fmt.Errorf("pull number must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := repoKey(pull.Owner, pull.Repo)
	if s.pulls[key] == nil {
		s.pulls[key] = make(map[int]PullRequest)
	}
	pull.MissingParts = slices.Clone(pull.MissingParts)
	s.pulls[key][pull.Number] = pull
	return nil
}

// UpsertIssue inserts or updates one issue.
func (s *MemoryStore) UpsertIssue(_ context.Context, issue Issue) error {
	if issue.Number <= 0 {
		return fmt.Errorf("issue number must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := repoKey(issue.Owner, issue.Repo)
	if s.issues[key] == nil {
		s.issues[key] = make(map[int]Issue)
	}
	issue.Labels = slices.Clone(issue.Labels)
	issue.MissingParts = slices.Clone(issue.MissingParts)
	s.issues[key][issue.Number] = issue
	return nil
}

// ReplaceReviewRounds replaces the full round set for one pull request.
func (s *MemoryStore) ReplaceReviewRounds(_ context.Context, owner, repo string, pullNumber int, rounds []ReviewRound) error {
	if pullNumber <= 0 {
		return fmt.Errorf("pull number must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := repoKey(owner, repo)
	if s.rounds[key] == nil {
		s.rounds[key] = make(map[int][]ReviewRound)
	}
	s.rounds[key][pullNumber] = slices.Clone(rounds)
	return nil
}

// AppendRawEvent appends one audit event, deduplicated by source identity.
func (s *MemoryStore) AppendRawEvent(_ context.Context, event TimelineEvent) error {
	if event.PullNumber <= 0 {
		return fmt.Errorf("pull number must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := repoKey(event.Owner, event.Repo)
	if s.seen[key] == nil {
		s.seen[key] = make(map[string]struct{})
	}
	dedup := eventDedupKey(event)
	if _, exists := s.seen[key][dedup]; exists {
		return nil
	}
	s.seen[key][dedup] = struct{}{}
	s.events[key] = append(s.events[key], event)
	return nil
}

// ListPullRequests returns all pull requests for a repository ordered by number.
func (s *MemoryStore) ListPullRequests(_ context.Context, owner, repo string) ([]PullRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.pulls[repoKey(owner, repo)]
	result := make([]PullRequest, 0, len(stored))
	for _, pull := range stored {
		pull.MissingParts = slices.Clone(pull.MissingParts)
		result = append(result, pull)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// ListIssues returns all issues for a repository ordered by number.
func (s *MemoryStore) ListIssues(_ context.Context, owner, repo string) ([]Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.issues[repoKey(owner, repo)]
	result := make([]Issue, 0, len(stored))
	for _, issue := range stored {
		issue.Labels = slices.Clone(issue.Labels)
		issue.MissingParts = slices.Clone(issue.MissingParts)
		result = append(result, issue)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

// ListReviewRounds returns all rounds for a repository ordered by pull number
// then round index.
func (s *MemoryStore) ListReviewRounds(_ context.Context, owner, repo string) ([]ReviewRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.rounds[repoKey(owner, repo)]
	var result []ReviewRound
	for _, rounds := range stored {
		result = append(result, rounds...)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PullNumber != result[j].PullNumber {
			return result[i].PullNumber < result[j].PullNumber
		}
		return result[i].Index < result[j].Index
	})
	return result, nil
}

// ListRawEvents returns all audit events for a repository in append order.
func (s *MemoryStore) ListRawEvents(_ context.Context, owner, repo string) ([]TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[repoKey(owner, repo)]), nil
}

// Purge deletes everything stored for one repository.
func (s *MemoryStore) Purge(_ context.Context, owner, repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := repoKey(owner, repo)
	delete(s.repos, key)
	delete(s.pulls, key)
	delete(s.issues, key)
	delete(s.rounds, key)
	delete(s.events, key)
	delete(s.seen, key)
	return nil
}

func repoKey(owner, repo string) string {
	return owner + "/" + repo
}

// eventDedupKey derives a stable identity for an audit event. Source-assigned
// ids win; events without one fall back to a content hash.
func eventDedupKey(event TimelineEvent) string {
	if event.ID > 0 {
		return string(event.Kind) + ":" + strconv.FormatInt(event.ID, 10)
	}

	digest := sha1.Sum([]byte(fmt.Sprintf(
		"%d|%s|%s|%d|%d",
		event.PullNumber,
		event.Kind,
		event.Actor,
		event.At.UnixNano(),
		event.Sequence,
	)))
	return hex.EncodeToString(digest[:])
}
