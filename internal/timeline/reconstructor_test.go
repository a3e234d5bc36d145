package timeline

import (
	"testing"
	"time"

	"github.com/gdfm-dev/gdfm/internal/store"
)

var baseTime = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func at(hours int) time.Time {
	return baseTime.Add(time.Duration(hours) * time.Hour)
}

func pull(draft bool) store.PullRequest {
	return store.PullRequest{
		Owner:     "octo",
		Repo:      "widgets",
		Number:    7,
		Draft:     draft,
		CreatedAt: baseTime,
	}
}

func event(seq int, kind store.EventKind, actor string, occurred time.Time) store.TimelineEvent {
	return store.TimelineEvent{
		Owner:      "octo",
		Repo:       "widgets",
		PullNumber: 7,
		Sequence:   seq,
		Kind:       kind,
		Actor:      actor,
		At:         occurred,
	}
}

func TestReconstructSingleRoundNeverDraft(t *testing.T) {
	t.Parallel()

	events := []store.TimelineEvent{
		event(0, store.EventReviewSubmitted, "alice", at(2)),
		event(1, store.EventReviewSubmitted, "bob", at(5)),
		event(2, store.EventMerged, "alice", at(6)),
	}

	rounds := Reconstruct(pull(false), events)
	if len(rounds) != 1 {
		t.Fatalf("len(rounds) = %d, want 1", len(rounds))
	}

	round := rounds[0]
	if round.Index != 0 {
		t.Fatalf("Index = %d, want 0", round.Index)
	}
	if !round.ReadyAt.Equal(baseTime) {
		t.Fatalf("ReadyAt = %s, want creation time", round.ReadyAt)
	}
	if !round.FirstReviewAt.Equal(at(2)) || round.FirstReviewer != "alice" {
		t.Fatalf("first review = %s by %q, want %s by alice", round.FirstReviewAt, round.FirstReviewer, at(2))
	}
	if !round.ClosedByDraftAt.IsZero() {
		t.Fatalf("ClosedByDraftAt = %s, want zero for open round", round.ClosedByDraftAt)
	}
}

func TestReconstructTwoRoundsAcrossDraftCycle(t *testing.T) {
	t.Parallel()

	events := []store.TimelineEvent{
		event(0, store.EventReadyForReview, "author", at(1)),
		event(1, store.EventReviewSubmitted, "alice", at(2)),
		event(2, store.EventConvertedToDraft, "author", at(3)),
		event(3, store.EventReadyForReview, "author", at(4)),
		event(4, store.EventReviewSubmitted, "bob", at(5)),
	}

	rounds := Reconstruct(pull(true), events)
	if len(rounds) != 2 {
		t.Fatalf("len(rounds) = %d, want 2", len(rounds))
	}

	first := rounds[0]
	if !first.ReadyAt.Equal(at(1)) || !first.FirstReviewAt.Equal(at(2)) || !first.ClosedByDraftAt.Equal(at(3)) {
		t.Fatalf("first round = %+v", first)
	}
	second := rounds[1]
	if second.Index != 1 {
		t.Fatalf("second Index = %d, want 1", second.Index)
	}
	if !second.ReadyAt.Equal(at(4)) || !second.FirstReviewAt.Equal(at(5)) || second.FirstReviewer != "bob" {
		t.Fatalf("second round = %+v", second)
	}
	if !second.ClosedByDraftAt.IsZero() {
		t.Fatalf("second round ClosedByDraftAt = %s, want zero", second.ClosedByDraftAt)
	}
}

func TestReconstructIgnoresReviewWhileDraft(t *testing.T) {
	t.Parallel()

	// A review left while the pull request sits in draft belongs to no round.
	events := []store.TimelineEvent{
		event(0, store.EventReviewSubmitted, "eager", at(1)),
		event(1, store.EventReadyForReview, "author", at(2)),
		event(2, store.EventReviewSubmitted, "alice", at(3)),
	}

	rounds := Reconstruct(pull(true), events)
	if len(rounds) != 1 {
		t.Fatalf("len(rounds) = %d, want 1", len(rounds))
	}
	if rounds[0].FirstReviewer != "alice" {
		t.Fatalf("FirstReviewer = %q, want alice", rounds[0].FirstReviewer)
	}
	if !rounds[0].FirstReviewAt.Equal(at(3)) {
		t.Fatalf("FirstReviewAt = %s, want %s", rounds[0].FirstReviewAt, at(3))
	}
}

func TestReconstructCensoredRoundHasNoFirstReview(t *testing.T) {
	t.Parallel()

	events := []store.TimelineEvent{
		event(0, store.EventReadyForReview, "author", at(1)),
	}

	rounds := Reconstruct(pull(true), events)
	if len(rounds) != 1 {
		t.Fatalf("len(rounds) = %d, want 1", len(rounds))
	}
	if !rounds[0].FirstReviewAt.IsZero() {
		t.Fatalf("FirstReviewAt = %s, want zero for censored round", rounds[0].FirstReviewAt)
	}
}

func TestReconstructDraftPullWithNoEventsHasNoRounds(t *testing.T) {
	t.Parallel()

	if rounds := Reconstruct(pull(true), nil); len(rounds) != 0 {
		t.Fatalf("len(rounds) = %d, want 0 for untouched draft", len(rounds))
	}
}

func TestReconstructLeadingConvertToDraftProvesReadyStart(t *testing.T) {
	t.Parallel()

	// The pull request is a draft now, but the leading converted_to_draft event
	// proves it opened ready, so a round starts at creation.
	events := []store.TimelineEvent{
		event(0, store.EventReviewSubmitted, "alice", at(1)),
		event(1, store.EventConvertedToDraft, "author", at(2)),
	}

	rounds := Reconstruct(pull(true), events)
	if len(rounds) != 1 {
		t.Fatalf("len(rounds) = %d, want 1", len(rounds))
	}
	round := rounds[0]
	if !round.ReadyAt.Equal(baseTime) {
		t.Fatalf("ReadyAt = %s, want creation time", round.ReadyAt)
	}
	if round.FirstReviewer != "alice" {
		t.Fatalf("FirstReviewer = %q, want alice", round.FirstReviewer)
	}
	if !round.ClosedByDraftAt.Equal(at(2)) {
		t.Fatalf("ClosedByDraftAt = %s, want %s", round.ClosedByDraftAt, at(2))
	}
}

func TestReconstructDuplicateTogglesCollapse(t *testing.T) {
	t.Parallel()

	events := []store.TimelineEvent{
		event(0, store.EventReadyForReview, "author", at(1)),
		event(1, store.EventReadyForReview, "author", at(2)),
		event(2, store.EventConvertedToDraft, "author", at(3)),
		event(3, store.EventConvertedToDraft, "author", at(4)),
	}

	rounds := Reconstruct(pull(true), events)
	if len(rounds) != 1 {
		t.Fatalf("len(rounds) = %d, want 1", len(rounds))
	}
	if !rounds[0].ReadyAt.Equal(at(1)) || !rounds[0].ClosedByDraftAt.Equal(at(3)) {
		t.Fatalf("round = %+v", rounds[0])
	}
}

func TestReconstructSortsUnorderedEvents(t *testing.T) {
	t.Parallel()

	events := []store.TimelineEvent{
		event(2, store.EventReviewSubmitted, "alice", at(3)),
		event(0, store.EventReadyForReview, "author", at(1)),
		event(1, store.EventConvertedToDraft, "author", at(5)),
	}

	rounds := Reconstruct(pull(true), events)
	if len(rounds) != 1 {
		t.Fatalf("len(rounds) = %d, want 1", len(rounds))
	}
	if rounds[0].FirstReviewer != "alice" || !rounds[0].ClosedByDraftAt.Equal(at(5)) {
		t.Fatalf("round = %+v", rounds[0])
	}
}

func TestReconstructTieBreaksOnSequence(t *testing.T) {
	t.Parallel()

	// Ready toggle and review share a timestamp; the lower sequence number
	// (the toggle) is replayed first so the review attributes to the round.
	shared := at(1)
	events := []store.TimelineEvent{
		event(1, store.EventReviewSubmitted, "alice", shared),
		event(0, store.EventReadyForReview, "author", shared),
	}

	rounds := Reconstruct(pull(true), events)
	if len(rounds) != 1 {
		t.Fatalf("len(rounds) = %d, want 1", len(rounds))
	}
	if rounds[0].FirstReviewer != "alice" {
		t.Fatalf("FirstReviewer = %q, want alice", rounds[0].FirstReviewer)
	}
}

func TestReconstructIsDeterministic(t *testing.T) {
	t.Parallel()

	events := []store.TimelineEvent{
		event(0, store.EventReadyForReview, "author", at(1)),
		event(1, store.EventReviewSubmitted, "alice", at(2)),
		event(2, store.EventConvertedToDraft, "author", at(3)),
	}

	first := Reconstruct(pull(true), events)
	second := Reconstruct(pull(true), events)
	if len(first) != len(second) {
		t.Fatalf("round counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("round %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
