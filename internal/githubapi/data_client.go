package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultGitHubAPIBaseURL = "https://api.github.com/"

// EndpointStatus represents a normalized GitHub API endpoint outcome.
type EndpointStatus string

const (
	// EndpointStatusOK indicates a successful response.
	EndpointStatusOK EndpointStatus = "ok"
	// EndpointStatusForbidden indicates authorization failure or restricted access.
	EndpointStatusForbidden EndpointStatus = "forbidden"
	// EndpointStatusNotFound indicates the resource does not exist or is hidden.
	EndpointStatusNotFound EndpointStatus = "not_found"
	// EndpointStatusGone indicates the resource was deleted upstream.
	EndpointStatusGone EndpointStatus = "gone"
	// EndpointStatusUnprocessable indicates request validation/processing failure.
	EndpointStatusUnprocessable EndpointStatus = "unprocessable"
	// EndpointStatusUnavailable indicates a temporary service-side failure.
	EndpointStatusUnavailable EndpointStatus = "unavailable"
	// EndpointStatusUnknown indicates an unclassified non-success status.
	EndpointStatusUnknown EndpointStatus = "unknown"
)

// PullSummary is one pull request from the list endpoint. Size metrics are not
// populated by listing; they require the detail endpoint.
type PullSummary struct {
	Number            int
	Title             string
	User              string
	AuthorAssociation string
	State             string
	Draft             bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ClosedAt          time.Time
	MergedAt          time.Time
}

// PullListResult is the typed result for listing pull requests.
type PullListResult struct {
	Status   EndpointStatus
	Pulls    []PullSummary
	Metadata CallMetadata
}

// PullDetail carries the per-pull fields only the detail endpoint reports.
type PullDetail struct {
	Number       int
	Commits      int
	Additions    int
	Deletions    int
	ChangedFiles int
	Draft        bool
}

// PullDetailResult is the typed result for reading one pull request.
type PullDetailResult struct {
	Status   EndpointStatus
	Detail   PullDetail
	Metadata CallMetadata
}

// TimelineEntry is one raw timeline event in server-reported order. Event is
// the unmapped source event name; OccurredAt is created_at, or submitted_at
// for review entries.
type TimelineEntry struct {
	ID                int64
	Event             string
	Actor             string
	AuthorAssociation string
	OccurredAt        time.Time
}

// TimelineResult is the typed result for listing pull timeline events.
type TimelineResult struct {
	Status   EndpointStatus
	Events   []TimelineEntry
	Metadata CallMetadata
}

// PullReview is one pull request review submission.
type PullReview struct {
	ID                int64
	User              string
	State             string
	AuthorAssociation string
	SubmittedAt       time.Time
}

// PullReviewsResult is the typed result for listing pull reviews.
type PullReviewsResult struct {
	Status   EndpointStatus
	Reviews  []PullReview
	Metadata CallMetadata
}

// IssueSummary is one issue from the list endpoint. Pull requests surfaced by
// the issues endpoint are filtered out before this type is produced.
type IssueSummary struct {
	Number            int
	Title             string
	User              string
	AuthorAssociation string
	State             string
	CreatedAt         time.Time
	ClosedAt          time.Time
	Labels            []string
}

// IssueListResult is the typed result for listing issues.
type IssueListResult struct {
	Status   EndpointStatus
	Issues   []IssueSummary
	Metadata CallMetadata
}

// IssueDetail carries the per-issue fields only the detail endpoint reports.
type IssueDetail struct {
	Number   int
	ClosedBy string
}

// IssueDetailResult is the typed result for reading one issue.
type IssueDetailResult struct {
	Status   EndpointStatus
	Detail   IssueDetail
	Metadata CallMetadata
}

// DataClient is a typed GitHub REST data client for collection-relevant
// endpoints, built over the quota-aware request client.
type DataClient struct {
	baseURL       *url.URL
	requestClient *Client
}

// NewDataClient creates a typed data client.
func NewDataClient(baseURL string, requestClient *Client) (*DataClient, error) {
	if requestClient == nil {
		return nil, fmt.Errorf("request client is required")
	}

	parsed, err := parseAPIBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &DataClient{
		baseURL:       parsed,
		requestClient: requestClient,
	}, nil
}

// ListPullRequests lists repository pull requests with pagination support.
// state is open, closed or all.
func (c *DataClient) ListPullRequests(ctx context.Context, owner, repo, state string) (PullListResult, error) {
	trimmedOwner, trimmedRepo, err := requireOwnerRepo(owner, repo)
	if err != nil {
		return PullListResult{}, err
	}
	if state == "" {
		state = "all"
	}

	result := PullListResult{Status: EndpointStatusOK}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "pulls")
		query := reqURL.Query()
		query.Set("state", state)
		query.Set("sort", "created")
		query.Set("direction", "asc")
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))
		reqURL.RawQuery = query.Encode()

		resp, metadata, err := c.get(ctx, reqURL)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return PullListResult{}, fmt.Errorf("list pull requests: %w", err)
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []pullPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return PullListResult{}, fmt.Errorf("decode pull request list: %w", err)
		}

		for _, pull := range payload {
			typed := PullSummary{
				Number:            pull.Number,
				Title:             pull.Title,
				AuthorAssociation: pull.AuthorAssociation,
				State:             pull.State,
				Draft:             pull.Draft,
				CreatedAt:         parseRFC3339(pull.CreatedAt),
				UpdatedAt:         parseRFC3339(pull.UpdatedAt),
				ClosedAt:          parseNullableRFC3339(pull.ClosedAt),
				MergedAt:          parseNullableRFC3339(pull.MergedAt),
			}
			if pull.User != nil {
				typed.User = pull.User.Login
			}
			result.Pulls = append(result.Pulls, typed)
		}

		if len(payload) == 0 || !hasNextPage(resp.Header.Get("Link")) {
			break
		}
		page++
	}

	return result, nil
}

// GetPullRequest reads one pull request's detail including size metrics.
func (c *DataClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (PullDetailResult, error) {
	trimmedOwner, trimmedRepo, err := requireOwnerRepo(owner, repo)
	if err != nil {
		return PullDetailResult{}, err
	}
	if number <= 0 {
		return PullDetailResult{}, fmt.Errorf("pull number must be > 0")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "pulls", strconv.Itoa(number))

	resp, metadata, err := c.get(ctx, reqURL)
	if err != nil {
		return PullDetailResult{}, fmt.Errorf("get pull request: %w", err)
	}

	status := endpointStatusFromHTTP(resp.StatusCode)
	result := PullDetailResult{Status: status, Metadata: metadata}
	if status != EndpointStatusOK {
		_ = resp.Body.Close()
		return result, nil
	}

	var payload pullDetailPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return PullDetailResult{}, fmt.Errorf("decode pull request detail: %w", err)
	}

	result.Detail = PullDetail{
		Number:       payload.Number,
		Commits:      payload.Commits,
		Additions:    payload.Additions,
		Deletions:    payload.Deletions,
		ChangedFiles: payload.ChangedFiles,
		Draft:        payload.Draft,
	}
	return result, nil
}

// ListPullTimeline lists timeline events for one pull request in
// server-reported order with pagination support.
func (c *DataClient) ListPullTimeline(ctx context.Context, owner, repo string, number int) (TimelineResult, error) {
	trimmedOwner, trimmedRepo, err := requireOwnerRepo(owner, repo)
	if err != nil {
		return TimelineResult{}, err
	}
	if number <= 0 {
		return TimelineResult{}, fmt.Errorf("pull number must be > 0")
	}

	result := TimelineResult{Status: EndpointStatusOK}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(
			reqURL.Path,
			"repos",
			url.PathEscape(trimmedOwner),
			url.PathEscape(trimmedRepo),
			"issues",
			strconv.Itoa(number),
			"timeline",
		)
		query := reqURL.Query()
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))
		reqURL.RawQuery = query.Encode()

		resp, metadata, err := c.get(ctx, reqURL)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return TimelineResult{}, fmt.Errorf("list pull timeline: %w", err)
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []timelinePayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return TimelineResult{}, fmt.Errorf("decode pull timeline: %w", err)
		}

		for _, event := range payload {
			occurredAt := parseNullableRFC3339(event.CreatedAt)
			if occurredAt.IsZero() {
				occurredAt = parseNullableRFC3339(event.SubmittedAt)
			}
			typed := TimelineEntry{
				ID:                event.ID,
				Event:             event.Event,
				AuthorAssociation: event.AuthorAssociation,
				OccurredAt:        occurredAt,
			}
			if event.Actor != nil {
				typed.Actor = event.Actor.Login
			} else if event.User != nil {
				typed.Actor = event.User.Login
			}
			result.Events = append(result.Events, typed)
		}

		if len(payload) == 0 || !hasNextPage(resp.Header.Get("Link")) {
			break
		}
		page++
	}

	return result, nil
}

// ListPullReviews lists reviews for one pull request with pagination support.
func (c *DataClient) ListPullReviews(ctx context.Context, owner, repo string, number int) (PullReviewsResult, error) {
	trimmedOwner, trimmedRepo, err := requireOwnerRepo(owner, repo)
	if err != nil {
		return PullReviewsResult{}, err
	}
	if number <= 0 {
		return PullReviewsResult{}, fmt.Errorf("pull number must be > 0")
	}

	result := PullReviewsResult{Status: EndpointStatusOK}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(
			reqURL.Path,
			"repos",
			url.PathEscape(trimmedOwner),
			url.PathEscape(trimmedRepo),
			"pulls",
			strconv.Itoa(number),
			"reviews",
		)
		query := reqURL.Query()
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))
		reqURL.RawQuery = query.Encode()

		resp, metadata, err := c.get(ctx, reqURL)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return PullReviewsResult{}, fmt.Errorf("list pull reviews: %w", err)
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []reviewPayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return PullReviewsResult{}, fmt.Errorf("decode pull reviews: %w", err)
		}

		for _, review := range payload {
			typed := PullReview{
				ID:                review.ID,
				State:             review.State,
				AuthorAssociation: review.AuthorAssociation,
				SubmittedAt:       parseNullableRFC3339(review.SubmittedAt),
			}
			if review.User != nil {
				typed.User = review.User.Login
			}
			result.Reviews = append(result.Reviews, typed)
		}

		if len(payload) == 0 || !hasNextPage(resp.Header.Get("Link")) {
			break
		}
		page++
	}

	return result, nil
}

// ListIssues lists repository issues with pagination support. Pull requests,
// which the issues endpoint also surfaces, are filtered out.
func (c *DataClient) ListIssues(ctx context.Context, owner, repo, state string) (IssueListResult, error) {
	trimmedOwner, trimmedRepo, err := requireOwnerRepo(owner, repo)
	if err != nil {
		return IssueListResult{}, err
	}
	if state == "" {
		state = "all"
	}

	result := IssueListResult{Status: EndpointStatusOK}
	page := 1
	for {
		reqURL := c.cloneBaseURL()
		reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "issues")
		query := reqURL.Query()
		query.Set("state", state)
		query.Set("per_page", "100")
		query.Set("page", strconv.Itoa(page))
		reqURL.RawQuery = query.Encode()

		resp, metadata, err := c.get(ctx, reqURL)
		result.Metadata = mergeMetadata(result.Metadata, metadata)
		if err != nil {
			return IssueListResult{}, fmt.Errorf("list issues: %w", err)
		}

		status := endpointStatusFromHTTP(resp.StatusCode)
		if status != EndpointStatusOK {
			_ = resp.Body.Close()
			result.Status = status
			return result, nil
		}

		var payload []issuePayload
		if err := decodeJSONAndClose(resp, &payload); err != nil {
			return IssueListResult{}, fmt.Errorf("decode issue list: %w", err)
		}

		for _, issue := range payload {
			if issue.PullRequest != nil {
				continue
			}
			typed := IssueSummary{
				Number:            issue.Number,
				Title:             issue.Title,
				AuthorAssociation: issue.AuthorAssociation,
				State:             issue.State,
				CreatedAt:         parseRFC3339(issue.CreatedAt),
				ClosedAt:          parseNullableRFC3339(issue.ClosedAt),
			}
			if issue.User != nil {
				typed.User = issue.User.Login
			}
			for _, label := range issue.Labels {
				typed.Labels = append(typed.Labels, label.Name)
			}
			result.Issues = append(result.Issues, typed)
		}

		if len(payload) == 0 || !hasNextPage(resp.Header.Get("Link")) {
			break
		}
		page++
	}

	return result, nil
}

// GetIssue reads one issue's detail including the closing actor.
func (c *DataClient) GetIssue(ctx context.Context, owner, repo string, number int) (IssueDetailResult, error) {
	trimmedOwner, trimmedRepo, err := requireOwnerRepo(owner, repo)
	if err != nil {
		return IssueDetailResult{}, err
	}
	if number <= 0 {
		return IssueDetailResult{}, fmt.Errorf("issue number must be > 0")
	}

	reqURL := c.cloneBaseURL()
	reqURL.Path = joinURLPath(reqURL.Path, "repos", url.PathEscape(trimmedOwner), url.PathEscape(trimmedRepo), "issues", strconv.Itoa(number))

	resp, metadata, err := c.get(ctx, reqURL)
	if err != nil {
		return IssueDetailResult{}, fmt.Errorf("get issue: %w", err)
	}

	status := endpointStatusFromHTTP(resp.StatusCode)
	result := IssueDetailResult{Status: status, Metadata: metadata}
	if status != EndpointStatusOK {
		_ = resp.Body.Close()
		return result, nil
	}

	var payload issueDetailPayload
	if err := decodeJSONAndClose(resp, &payload); err != nil {
		return IssueDetailResult{}, fmt.Errorf("decode issue detail: %w", err)
	}

	result.Detail = IssueDetail{Number: payload.Number}
	if payload.ClosedBy != nil {
		result.Detail.ClosedBy = payload.ClosedBy.Login
	}
	return result, nil
}

func (c *DataClient) get(ctx context.Context, reqURL *url.URL) (*http.Response, CallMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, CallMetadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, metadata, err := c.requestClient.Do(req)
	if err != nil {
		return nil, metadata, err
	}
	if resp == nil {
		return nil, metadata, fmt.Errorf("nil response")
	}
	return resp, metadata, nil
}

func requireOwnerRepo(owner, repo string) (string, string, error) {
	trimmedOwner := strings.TrimSpace(owner)
	trimmedRepo := strings.TrimSpace(repo)
	if trimmedOwner == "" {
		return "", "", fmt.Errorf("owner is required")
	}
	if trimmedRepo == "" {
		return "", "", fmt.Errorf("repo is required")
	}
	return trimmedOwner, trimmedRepo, nil
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultGitHubAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func (c *DataClient) cloneBaseURL() *url.URL {
	cloned := *c.baseURL
	return &cloned
}

func joinURLPath(base string, segments ...string) string {
	trimmedBase := strings.TrimSuffix(base, "/")
	builder := strings.Builder{}
	builder.WriteString(trimmedBase)
	for _, segment := range segments {
		builder.WriteString("/")
		builder.WriteString(strings.TrimPrefix(segment, "/"))
	}
	return builder.String()
}

func endpointStatusFromHTTP(statusCode int) EndpointStatus {
	switch statusCode {
	case http.StatusForbidden:
		return EndpointStatusForbidden
	case http.StatusNotFound:
		return EndpointStatusNotFound
	case http.StatusGone:
		return EndpointStatusGone
	case http.StatusUnprocessableEntity:
		return EndpointStatusUnprocessable
	}
	if statusCode >= 200 && statusCode <= 299 {
		return EndpointStatusOK
	}
	if statusCode >= 500 {
		return EndpointStatusUnavailable
	}
	return EndpointStatusUnknown
}

func decodeJSONAndClose(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

func hasNextPage(linkHeader string) bool {
	if strings.TrimSpace(linkHeader) == "" {
		return false
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if strings.Contains(part, `rel="next"`) {
			return true
		}
	}
	return false
}

func parseRFC3339(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func parseNullableRFC3339(raw *string) time.Time {
	if raw == nil {
		return time.Time{}
	}
	return parseRFC3339(*raw)
}

func mergeMetadata(current CallMetadata, incoming CallMetadata) CallMetadata {
	current.Attempts += incoming.Attempts
	current.LastRateHeaders = incoming.LastRateHeaders
	current.Quota = incoming.Quota
	return current
}

type userPayload struct {
	Login string `json:"login"`
}

type pullPayload struct {
	Number            int          `json:"number"`
	Title             string       `json:"title"`
	User              *userPayload `json:"user"`
	AuthorAssociation string       `json:"author_association"`
	State             string       `json:"state"`
	Draft             bool         `json:"draft"`
	CreatedAt         string       `json:"created_at"`
	UpdatedAt         string       `json:"updated_at"`
	ClosedAt          *string      `json:"closed_at"`
	MergedAt          *string      `json:"merged_at"`
}

type pullDetailPayload struct {
	Number       int  `json:"number"`
	Commits      int  `json:"commits"`
	Additions    int  `json:"additions"`
	Deletions    int  `json:"deletions"`
	ChangedFiles int  `json:"changed_files"`
	Draft        bool `json:"draft"`
}

type timelinePayload struct {
	ID                int64        `json:"id"`
	Event             string       `json:"event"`
	Actor             *userPayload `json:"actor"`
	User              *userPayload `json:"user"`
	AuthorAssociation string       `json:"author_association"`
	CreatedAt         *string      `json:"created_at"`
	SubmittedAt       *string      `json:"submitted_at"`
}

type reviewPayload struct {
	ID                int64        `json:"id"`
	User              *userPayload `json:"user"`
	State             string       `json:"state"`
	AuthorAssociation string       `json:"author_association"`
	SubmittedAt       *string      `json:"submitted_at"`
}

type issueLabelPayload struct {
	Name string `json:"name"`
}

type issuePayload struct {
	Number            int                 `json:"number"`
	Title             string              `json:"title"`
	User              *userPayload        `json:"user"`
	AuthorAssociation string              `json:"author_association"`
	State             string              `json:"state"`
	CreatedAt         string              `json:"created_at"`
	ClosedAt          *string             `json:"closed_at"`
	Labels            []issueLabelPayload `json:"labels"`
	PullRequest       *struct{}           `json:"pull_request"`
}

type issueDetailPayload struct {
	Number   int          `json:"number"`
	ClosedBy *userPayload `json:"closed_by"`
}
