package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedisClient struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	lists  map[string][]string
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
		lists:  make(map[string][]string),
	}
}

func (c *fakeRedisClient) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(values) != 1 {
		return redis.NewIntResult(0, fmt.Errorf("unsupported HSet argument format"))
	}
	fieldMap, ok := values[0].(map[string]any)
	if !ok {
		return redis.NewIntResult(0, fmt.Errorf("unsupported HSet value type"))
	}
	if _, exists := c.hashes[key]; !exists {
		c.hashes[key] = make(map[string]string)
	}

	changed := int64(0)
	for field, value := range fieldMap {
		if _, exists := c.hashes[key][field]; !exists {
			changed++
		}
		c.hashes[key][field] = fmt.Sprint(value)
	}
	return redis.NewIntResult(changed, nil)
}

func (c *fakeRedisClient) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.hashes[key]; !exists {
		return redis.NewMapStringStringResult(map[string]string{}, nil)
	}
	return redis.NewMapStringStringResult(maps.Clone(c.hashes[key]), nil)
}

func (c *fakeRedisClient) SAdd(_ context.Context, key string, members ...any) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sets[key]; !exists {
		c.sets[key] = make(map[string]struct{})
	}

	added := int64(0)
	for _, member := range members {
		memberKey := fmt.Sprint(member)
		if _, exists := c.sets[key][memberKey]; exists {
			continue
		}
		c.sets[key][memberKey] = struct{}{}
		added++
	}
	return redis.NewIntResult(added, nil)
}

func (c *fakeRedisClient) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := make([]string, 0, len(c.sets[key]))
	for member := range c.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return redis.NewStringSliceResult(members, nil)
}

func (c *fakeRedisClient) RPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, value := range values {
		c.lists[key] = append(c.lists[key], fmt.Sprint(value))
	}
	return redis.NewIntResult(int64(len(c.lists[key])), nil)
}

func (c *fakeRedisClient) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.lists[key]
	if start == 0 && stop == -1 {
		return redis.NewStringSliceResult(append([]string(nil), list...), nil)
	}
	return redis.NewStringSliceResult(nil, fmt.Errorf("unsupported LRange bounds"))
}

func (c *fakeRedisClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := int64(0)
	for _, key := range keys {
		if _, exists := c.hashes[key]; exists {
			delete(c.hashes, key)
			removed++
		}
		if _, exists := c.sets[key]; exists {
			delete(c.sets, key)
			removed++
		}
		if _, exists := c.lists[key]; exists {
			delete(c.lists, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func newRedisStoreForTest(t *testing.T) (*RedisStore, *fakeRedisClient) {
	t.Helper()
	client := newFakeRedisClient()
	st := newRedisStoreFromCommander(client, nil, RedisStoreConfig{Namespace: "gdfm-test"})
	return st, client
}

func TestRedisStoreRepositoryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := newRedisStoreForTest(t)

	if _, ok, err := st.GetRepository(ctx, "octo", "widgets"); err != nil || ok {
		t.Fatalf("GetRepository on empty store = ok %t err %v, want false nil", ok, err)
	}

	repo := Repository{Owner: "octo", Name: "widgets", Maintainers: []string{"alice"}}
	if err := st.SaveRepository(ctx, repo); err != nil {
		t.Fatalf("SaveRepository: %v", err)
	}

	got, ok, err := st.GetRepository(ctx, "octo", "widgets")
	if err != nil || !ok {
		t.Fatalf("GetRepository = ok %t err %v", ok, err)
	}
	if got.Path() != "octo/widgets" || len(got.Maintainers) != 1 {
		t.Fatalf("repository = %+v", got)
	}
}

func TestRedisStorePullRequestsSortedByNumber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := newRedisStoreForTest(t)

	for _, number := range []int{9, 2, 11} {
		pull := PullRequest{Owner: "octo", Repo: "widgets", Number: number, CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
		if err := st.UpsertPullRequest(ctx, pull); err != nil {
			t.Fatalf("UpsertPullRequest(%d): %v", number, err)
		}
	}

	pulls, err := st.ListPullRequests(ctx, "octo", "widgets")
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	for i, want := range []int{2, 9, 11} {
		if pulls[i].Number != want {
			t.Fatalf("pulls[%d].Number = %d, want %d", i, pulls[i].Number, want)
		}
	}
}

func TestRedisStoreReplaceReviewRounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := newRedisStoreForTest(t)

	ready := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := st.ReplaceReviewRounds(ctx, "octo", "widgets", 1, []ReviewRound{
		{Owner: "octo", Repo: "widgets", PullNumber: 1, Index: 0, ReadyAt: ready},
		{Owner: "octo", Repo: "widgets", PullNumber: 1, Index: 1, ReadyAt: ready.Add(time.Hour)},
	}); err != nil {
		t.Fatalf("ReplaceReviewRounds: %v", err)
	}

	if err := st.ReplaceReviewRounds(ctx, "octo", "widgets", 1, []ReviewRound{
		{Owner: "octo", Repo: "widgets", PullNumber: 1, Index: 0, ReadyAt: ready, FirstReviewer: "bob"},
	}); err != nil {
		t.Fatalf("ReplaceReviewRounds: %v", err)
	}

	rounds, err := st.ListReviewRounds(ctx, "octo", "widgets")
	if err != nil {
		t.Fatalf("ListReviewRounds: %v", err)
	}
	if len(rounds) != 1 || rounds[0].FirstReviewer != "bob" {
		t.Fatalf("rounds = %+v, want single replaced round", rounds)
	}
}

func TestRedisStoreAppendRawEventDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, client := newRedisStoreForTest(t)

	event := TimelineEvent{
		Owner:      "octo",
		Repo:       "widgets",
		PullNumber: 1,
		ID:         42,
		Kind:       EventReadyForReview,
		Actor:      "alice",
		At:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	for i := 0; i < 3; i++ {
		if err := st.AppendRawEvent(ctx, event); err != nil {
			t.Fatalf("AppendRawEvent: %v", err)
		}
	}

	events, err := st.ListRawEvents(ctx, "octo", "widgets")
	if err != nil {
		t.Fatalf("ListRawEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1 after dedup", len(events))
	}
	if events[0].Actor != "alice" || events[0].Kind != EventReadyForReview {
		t.Fatalf("event = %+v", events[0])
	}
	if len(client.lists["gdfm-test:events:octo/widgets"]) != 1 {
		t.Fatalf("event list length = %d, want 1", len(client.lists["gdfm-test:events:octo/widgets"]))
	}
}

func TestRedisStorePurgeRemovesAllKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, client := newRedisStoreForTest(t)

	if err := st.SaveRepository(ctx, Repository{Owner: "octo", Name: "widgets"}); err != nil {
		t.Fatalf("SaveRepository: %v", err)
	}
	if err := st.UpsertPullRequest(ctx, PullRequest{Owner: "octo", Repo: "widgets", Number: 1}); err != nil {
		t.Fatalf("UpsertPullRequest: %v", err)
	}
	if err := st.UpsertIssue(ctx, Issue{Owner: "octo", Repo: "widgets", Number: 2}); err != nil {
		t.Fatalf("UpsertIssue: %v", err)
	}
	if err := st.ReplaceReviewRounds(ctx, "octo", "widgets", 1, []ReviewRound{{Owner: "octo", Repo: "widgets", PullNumber: 1}}); err != nil {
		t.Fatalf("ReplaceReviewRounds: %v", err)
	}
	if err := st.AppendRawEvent(ctx, TimelineEvent{Owner: "octo", Repo: "widgets", PullNumber: 1, ID: 7, Kind: EventMerged, At: time.Now()}); err != nil {
		t.Fatalf("AppendRawEvent: %v", err)
	}

	if err := st.Purge(ctx, "octo", "widgets"); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	if _, ok, _ := st.GetRepository(ctx, "octo", "widgets"); ok {
		t.Fatalf("purged repository still present")
	}
	if pulls, _ := st.ListPullRequests(ctx, "octo", "widgets"); len(pulls) != 0 {
		t.Fatalf("purged pulls still present")
	}
	if events, _ := st.ListRawEvents(ctx, "octo", "widgets"); len(events) != 0 {
		t.Fatalf("purged events still present")
	}

	client.mu.Lock()
	leftover := len(client.hashes) + len(client.sets) + len(client.lists)
	client.mu.Unlock()
	if leftover != 0 {
		t.Fatalf("leftover keys after purge: hashes %v sets %v lists %v", client.hashes, client.sets, client.lists)
	}
}

func TestRedisStoreNamespacesKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, client := newRedisStoreForTest(t)

	if err := st.UpsertPullRequest(ctx, PullRequest{Owner: "octo", Repo: "widgets", Number: 5}); err != nil {
		t.Fatalf("UpsertPullRequest: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if _, ok := client.hashes["gdfm-test:pull:octo/widgets:5"]; !ok {
		t.Fatalf("document key missing, hashes = %v", client.hashes)
	}
	if _, ok := client.sets["gdfm-test:pulls:octo/widgets"]; !ok {
		t.Fatalf("index key missing, sets = %v", client.sets)
	}
}
