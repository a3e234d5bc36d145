package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type redisCommander interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStoreConfig configures the Redis-backed store.
type RedisStoreConfig struct {
	Namespace string
}

// RedisStore is the durable Store backend. Each entity is one hash holding a
// JSON document, indexed by a per-repository set of entity numbers.
type RedisStore struct {
	client    redisCommander
	closeFn   func() error
	namespace string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisStoreFromCommander(client, closeFn, cfg)
}

func newRedisStoreFromCommander(client redisCommander, closeFn func() error, cfg RedisStoreConfig) *RedisStore {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "gdfm"
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &RedisStore{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
	}
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// SaveRepository inserts or replaces a tracked repository.
func (s *RedisStore) SaveRepository(ctx context.Context, repo Repository) error {
	if repo.Owner == "" || repo.Name == "" {
		return fmt.Errorf("repository owner and name are required")
	}
	return s.putDocument(ctx, s.key("repo", repo.Path()), repo)
}

// GetRepository reads a tracked repository.
func (s *RedisStore) GetRepository(ctx context.Context, owner, name string) (Repository, bool, error) {
	var repo Repository
	found, err := s.getDocument(ctx, s.key("repo", repoKey(owner, name)), &repo)
	if err != nil || !found {
		return Repository{}, false, err
	}
	return repo, true, nil
}

// UpsertPullRequest inserts or updates one pull request.
func (s *RedisStore) UpsertPullRequest(ctx context.Context, pull PullRequest) error {
	if pull.Number <= 0 {
		return fmt.Errorf("pull number must be > 0")
	}

	path := repoKey(pull.Owner, pull.Repo)
	if err := s.putDocument(ctx, s.key("pull", path, strconv.Itoa(pull.Number)), pull); err != nil {
		return err
	}
	return s.indexAdd(ctx, s.key("pulls", path), pull.Number)
}

// UpsertIssue inserts or updates one issue.
func (s *RedisStore) UpsertIssue(ctx context.Context, issue Issue) error {
	if issue.Number <= 0 {
		return fmt.Errorf("issue number must be > 0")
	}

	path := repoKey(issue.Owner, issue.Repo)
	if err := s.putDocument(ctx, s.key("issue", path, strconv.Itoa(issue.Number)), issue); err != nil {
		return err
	}
	return s.indexAdd(ctx, s.key("issues", path), issue.Number)
}

// ReplaceReviewRounds replaces the full round set for one pull request.
func (s *RedisStore) ReplaceReviewRounds(ctx context.Context, owner, repo string, pullNumber int, rounds []ReviewRound) error {
	if pullNumber <= 0 {
		return fmt.Errorf("pull number must be > 0")
	}

	path := repoKey(owner, repo)
	if err := s.putDocument(ctx, s.key("rounds", path, strconv.Itoa(pullNumber)), rounds); err != nil {
		return err
	}
	return s.indexAdd(ctx, s.key("roundsets", path), pullNumber)
}

// AppendRawEvent appends one audit event, deduplicated by source identity.
func (s *RedisStore) AppendRawEvent(ctx context.Context, event TimelineEvent) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}
	if event.PullNumber <= 0 {
		return fmt.Errorf("pull number must be > 0")
	}

	path := repoKey(event.Owner, event.Repo)
	added, err := s.client.SAdd(ctx, s.key("events:seen", path), eventDedupKey(event)).Result()
	if err != nil {
		return fmt.Errorf("mark event seen: %w", err)
	}
	if added == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.RPush(ctx, s.key("events", path), string(payload)).Err(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListPullRequests returns all pull requests for a repository.
func (s *RedisStore) ListPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	path := repoKey(owner, repo)
	numbers, err := s.indexMembers(ctx, s.key("pulls", path))
	if err != nil {
		return nil, err
	}

	result := make([]PullRequest, 0, len(numbers))
	for _, number := range numbers {
		var pull PullRequest
		found, err := s.getDocument(ctx, s.key("pull", path, strconv.Itoa(number)), &pull)
		if err != nil {
			return nil, err
		}
		if found {
			result = append(result, pull)
		}
	}
	return result, nil
}

// ListIssues returns all issues for a repository.
func (s *RedisStore) ListIssues(ctx context.Context, owner, repo string) ([]Issue, error) {
	path := repoKey(owner, repo)
	numbers, err := s.indexMembers(ctx, s.key("issues", path))
	if err != nil {
		return nil, err
	}

	result := make([]Issue, 0, len(numbers))
	for _, number := range numbers {
		var issue Issue
		found, err := s.getDocument(ctx, s.key("issue", path, strconv.Itoa(number)), &issue)
		if err != nil {
			return nil, err
		}
		if found {
			result = append(result, issue)
		}
	}
	return result, nil
}

// ListReviewRounds returns all rounds for a repository.
func (s *RedisStore) ListReviewRounds(ctx context.Context, owner, repo string) ([]ReviewRound, error) {
	path := repoKey(owner, repo)
	numbers, err := s.indexMembers(ctx, s.key("roundsets", path))
	if err != nil {
		return nil, err
	}

	var result []ReviewRound
	for _, number := range numbers {
		var rounds []ReviewRound
		found, err := s.getDocument(ctx, s.key("rounds", path, strconv.Itoa(number)), &rounds)
		if err != nil {
			return nil, err
		}
		if found {
			result = append(result, rounds...)
		}
	}
	return result, nil
}

// ListRawEvents returns all audit events for a repository in append order.
func (s *RedisStore) ListRawEvents(ctx context.Context, owner, repo string) ([]TimelineEvent, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redis store is not initialized")
	}

	raw, err := s.client.LRange(ctx, s.key("events", repoKey(owner, repo)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	result := make([]TimelineEvent, 0, len(raw))
	for _, item := range raw {
		var event TimelineEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		result = append(result, event)
	}
	return result, nil
}

// Purge deletes everything stored for one repository.
func (s *RedisStore) Purge(ctx context.Context, owner, repo string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}

	path := repoKey(owner, repo)
	keys := []string{
		s.key("repo", path),
		s.key("pulls", path),
		s.key("issues", path),
		s.key("roundsets", path),
		s.key("events", path),
		s.key("events:seen", path),
	}
	for _, index := range []string{"pulls", "issues", "roundsets"} {
		numbers, err := s.indexMembers(ctx, s.key(index, path))
		if err != nil {
			return err
		}
		entity := map[string]string{"pulls": "pull", "issues": "issue", "roundsets": "rounds"}[index]
		for _, number := range numbers {
			keys = append(keys, s.key(entity, path, strconv.Itoa(number)))
		}
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("purge repository keys: %w", err)
	}
	return nil
}

func (s *RedisStore) key(parts ...string) string {
	key := s.namespace
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

func (s *RedisStore) putDocument(ctx context.Context, key string, value any) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := s.client.HSet(ctx, key, map[string]any{"doc": string(payload)}).Err(); err != nil {
		return fmt.Errorf("write document %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getDocument(ctx context.Context, key string, target any) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("redis store is not initialized")
	}

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("read document %s: %w", key, err)
	}
	doc, ok := fields["doc"]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(doc), target); err != nil {
		return false, fmt.Errorf("unmarshal document %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) indexAdd(ctx context.Context, key string, number int) error {
	if err := s.client.SAdd(ctx, key, strconv.Itoa(number)).Err(); err != nil {
		return fmt.Errorf("index %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) indexMembers(ctx context.Context, key string) ([]int, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", key, err)
	}

	numbers := make([]int, 0, len(members))
	for _, member := range members {
		number, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		numbers = append(numbers, number)
	}
	slices.Sort(numbers)
	return numbers, nil
}
