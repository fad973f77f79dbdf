package migration

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"activity_ingest/internal/domain"
)

// ErrCursorRegression aborts a chain whose cursor failed to move forward.
var ErrCursorRegression = errors.New("cursor did not advance")

// Step is the outcome of one page: the cursor to fetch next, or Done.
type Step struct {
	Next   *domain.Cursor
	Done   bool
	Reason string
}

func done(reason string) Step {
	return Step{Done: true, Reason: reason}
}

// NextStep decides where a chain goes after a page of itemCount items was read at
// current and the provider suggested the following cursor.
func NextStep(current domain.Cursor, suggested *domain.Cursor, itemCount int) (Step, error) {
	switch current.Kind {
	case domain.CursorRepoPage:
		return nextRepoPage(current, suggested, itemCount)
	case domain.CursorWindow:
		return nextWindow(current, suggested, itemCount)
	case domain.CursorBefore:
		return nextBefore(current, suggested, itemCount)
	}
	return Step{}, fmt.Errorf("unknown cursor kind %q", current.Kind)
}

// nextRepoPage moves to the next repository once the current one has no further page.
func nextRepoPage(current domain.Cursor, suggested *domain.Cursor, itemCount int) (Step, error) {
	if itemCount == 0 || suggested == nil {
		if current.RepoIndex+1 >= current.RepoCount {
			return done("all repositories exhausted"), nil
		}
		next := current
		next.RepoIndex++
		next.Page = 1
		return Step{Next: &next}, nil
	}

	sameRepo := suggested.RepoIndex == current.RepoIndex && suggested.Page > current.Page
	if !sameRepo && suggested.RepoIndex <= current.RepoIndex {
		return Step{}, fmt.Errorf("%w: repo %d page %d after repo %d page %d",
			ErrCursorRegression, suggested.RepoIndex, suggested.Page, current.RepoIndex, current.Page)
	}
	next := *suggested
	next.RepoCount = current.RepoCount
	return Step{Next: &next}, nil
}

// nextWindow slides the date window strictly backwards and stops at the floor.
func nextWindow(current domain.Cursor, suggested *domain.Cursor, itemCount int) (Step, error) {
	if itemCount == 0 {
		return done("history exhausted"), nil
	}
	if suggested == nil {
		return done("provider has no earlier window"), nil
	}
	if !suggested.WindowEnd.Before(current.WindowEnd) || !suggested.WindowStart.Before(current.WindowStart) {
		return Step{}, fmt.Errorf("%w: window %s..%s after %s..%s", ErrCursorRegression,
			suggested.WindowStart.Format(time.RFC3339), suggested.WindowEnd.Format(time.RFC3339),
			current.WindowStart.Format(time.RFC3339), current.WindowEnd.Format(time.RFC3339))
	}
	floor := current.Floor
	if !floor.IsZero() && !suggested.WindowEnd.After(floor) {
		return done("reached history floor"), nil
	}
	next := *suggested
	next.Floor = floor
	return Step{Next: &next}, nil
}

// nextBefore requires the opaque token to strictly decrease.
func nextBefore(current domain.Cursor, suggested *domain.Cursor, itemCount int) (Step, error) {
	if itemCount == 0 {
		return done("history exhausted"), nil
	}
	if suggested == nil || suggested.Before == "" {
		return done("provider has no earlier page"), nil
	}
	if current.Before != "" && !tokenBefore(suggested.Before, current.Before) {
		return Step{}, fmt.Errorf("%w: token %q is not before %q", ErrCursorRegression, suggested.Before, current.Before)
	}
	next := *suggested
	return Step{Next: &next}, nil
}

// tokenBefore orders tokens as timestamps, then integers, then strings.
func tokenBefore(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Before(tb)
	}
	ia, errA := strconv.ParseInt(a, 10, 64)
	ib, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ia < ib
	}
	return a < b
}
