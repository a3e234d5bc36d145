// Package timeline reconstructs review rounds from a pull request's raw event
// stream. A round is one continuous ready-for-review interval, bounded by a
// ready_for_review transition (or the pull request's creation when it was
// never a draft) and either a converted_to_draft transition or the end of the
// stream. The reconstruction is a pure function over a sorted event list; it
// performs no I/O.
package timeline

import (
	"sort"

	"github.com/gdfm-dev/gdfm/internal/store"
)

type phase int

const (
	awaitingReady phase = iota
	openForReview
)

// Reconstruct replays a pull request's events in chronological order and
// returns its full review round history. Round indices are contiguous from 0,
// ordered by ready time. Events other than draft toggles and review
// submissions carry no transitions.
func Reconstruct(pull store.PullRequest, events []store.TimelineEvent) []store.ReviewRound {
	sorted := sortEvents(events)

	current := awaitingReady
	var rounds []store.ReviewRound
	var open store.ReviewRound

	if startedReady(pull, sorted) {
		open = store.ReviewRound{
			Owner:      pull.Owner,
			Repo:       pull.Repo,
			PullNumber: pull.Number,
			Index:      0,
			ReadyAt:    pull.CreatedAt,
		}
		current = openForReview
	}

	for _, event := range sorted {
		switch event.Kind {
		case store.EventReadyForReview:
			if current != awaitingReady {
				continue
			}
			open = store.ReviewRound{
				Owner:      pull.Owner,
				Repo:       pull.Repo,
				PullNumber: pull.Number,
				Index:      len(rounds),
				ReadyAt:    event.At,
			}
			current = openForReview

		case store.EventReviewSubmitted:
			if current != openForReview {
				continue
			}
			if event.At.Before(open.ReadyAt) {
				continue
			}
			if open.FirstReviewAt.IsZero() {
				open.FirstReviewAt = event.At
				open.FirstReviewer = event.Actor
				open.FirstReviewerAssociation = event.Association
			}

		case store.EventConvertedToDraft:
			if current != openForReview {
				continue
			}
			open.ClosedByDraftAt = event.At
			rounds = append(rounds, open)
			current = awaitingReady
		}
	}

	if current == openForReview {
		rounds = append(rounds, open)
	}

	return rounds
}

// startedReady reports whether the pull request began its life in the
// ready-for-review state. The first draft toggle in the stream is
// authoritative: a leading converted_to_draft proves the pull request opened
// ready, a leading ready_for_review proves it opened as a draft. With no
// toggles at all, the current draft flag decides.
func startedReady(pull store.PullRequest, sorted []store.TimelineEvent) bool {
	for _, event := range sorted {
		switch event.Kind {
		case store.EventReadyForReview:
			return false
		case store.EventConvertedToDraft:
			return true
		}
	}
	return !pull.Draft
}

func sortEvents(events []store.TimelineEvent) []store.TimelineEvent {
	sorted := make([]store.TimelineEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].At.Equal(sorted[j].At) {
			return sorted[i].At.Before(sorted[j].At)
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})
	return sorted
}
