package store

import (
	"strings"
	"time"
)

// AuthorAssociation is the relationship between a contribution's author and the repository.
type AuthorAssociation string

const (
	// AssociationOwner marks the repository owner.
	AssociationOwner AuthorAssociation = "OWNER"
	// AssociationCollaborator marks a user invited to collaborate.
	AssociationCollaborator AuthorAssociation = "COLLABORATOR"
	// AssociationMember marks an organization member.
	AssociationMember AuthorAssociation = "MEMBER"
	// AssociationContributor marks a user with prior merged contributions.
	AssociationContributor AuthorAssociation = "CONTRIBUTOR"
	// AssociationFirstTimeContributor marks a user contributing for the first time.
	AssociationFirstTimeContributor AuthorAssociation = "FIRST_TIME_CONTRIBUTOR"
	// AssociationNone marks a user with no association.
	AssociationNone AuthorAssociation = "NONE"
)

// NormalizeAssociation maps a raw API association string onto the known enum.
func NormalizeAssociation(raw string) AuthorAssociation {
	switch AuthorAssociation(strings.ToUpper(strings.TrimSpace(raw))) {
	case AssociationOwner:
		return AssociationOwner
	case AssociationCollaborator:
		return AssociationCollaborator
	case AssociationMember:
		return AssociationMember
	case AssociationContributor:
		return AssociationContributor
	case AssociationFirstTimeContributor:
		return AssociationFirstTimeContributor
	default:
		return AssociationNone
	}
}

// Completeness describes how much of an entity's nested data was collected.
type Completeness string

const (
	// CompletenessComplete means every nested fetch for the entity succeeded.
	CompletenessComplete Completeness = "complete"
	// CompletenessPartial means one or more nested fetches failed; the entity
	// is persisted with the subresource kinds that are missing.
	CompletenessPartial Completeness = "partial"
	// CompletenessFailed means nothing beyond enumeration could be collected.
	CompletenessFailed Completeness = "failed"
)

// Repository is a tracked repository with its configured maintainer list.
type Repository struct {
	Owner       string
	Name        string
	Maintainers []string
}

// Path returns the owner/name form of the repository.
func (r Repository) Path() string {
	return r.Owner + "/" + r.Name
}

// PullRequest is one collected pull request. Identity fields are immutable;
// status and size fields are overwritten on re-collection.
type PullRequest struct {
	Owner       string
	Repo        string
	Number      int
	Title       string
	Author      string
	Association AuthorAssociation
	State       string
	Draft       bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    time.Time
	MergedAt    time.Time

	Commits      int
	Additions    int
	Deletions    int
	ChangedFiles int

	Completeness  Completeness
	MissingParts  []string
	FailureReason string
}

// Issue is one collected issue. ClosedBy is the login of the closing actor,
// empty while the issue is open or when the closer could not be resolved.
type Issue struct {
	Owner       string
	Repo        string
	Number      int
	Title       string
	Author      string
	Association AuthorAssociation
	State       string
	CreatedAt   time.Time
	ClosedAt    time.Time
	ClosedBy    string
	Labels      []string

	Completeness  Completeness
	MissingParts  []string
	FailureReason string
}

// EventKind classifies a timeline event for round reconstruction.
type EventKind string

const (
	// EventReadyForReview marks a draft-to-ready transition.
	EventReadyForReview EventKind = "ready_for_review"
	// EventConvertedToDraft marks a ready-to-draft transition.
	EventConvertedToDraft EventKind = "converted_to_draft"
	// EventReviewSubmitted marks a submitted review.
	EventReviewSubmitted EventKind = "review_submitted"
	// EventClosed marks the pull request or issue being closed.
	EventClosed EventKind = "closed"
	// EventMerged marks the pull request being merged.
	EventMerged EventKind = "merged"
	// EventOther is any event kind retained for audit only.
	EventOther EventKind = "other"
)

// TimelineEvent is one raw event belonging to exactly one pull request.
// Sequence preserves the server-reported order and breaks timestamp ties.
type TimelineEvent struct {
	Owner       string
	Repo        string
	PullNumber  int
	ID          int64
	Sequence    int
	Kind        EventKind
	Actor       string
	Association AuthorAssociation
	At          time.Time
}

// ReviewRound is one continuous ready-for-review interval of a pull request.
// A zero FirstReviewAt means no review was submitted during the round
// (censored); a zero ClosedByDraftAt means the round was still open when the
// event stream ended.
type ReviewRound struct {
	Owner                    string
	Repo                     string
	PullNumber               int
	Index                    int
	ReadyAt                  time.Time
	FirstReviewAt            time.Time
	FirstReviewer            string
	FirstReviewerAssociation AuthorAssociation
	ClosedByDraftAt          time.Time
}
