package migration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity_ingest/internal/domain"
)

func TestNextStep_RepoPage(t *testing.T) {
	current := domain.Cursor{Kind: domain.CursorRepoPage, RepoIndex: 0, RepoCount: 2, Page: 3}

	step, err := NextStep(current, &domain.Cursor{Kind: domain.CursorRepoPage, RepoIndex: 0, Page: 4}, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, step.Next.Page)
	assert.Equal(t, 2, step.Next.RepoCount)

	step, err = NextStep(current, nil, 12)
	require.NoError(t, err)
	assert.False(t, step.Done)
	assert.Equal(t, 1, step.Next.RepoIndex)
	assert.Equal(t, 1, step.Next.Page)

	last := current
	last.RepoIndex = 1
	step, err = NextStep(last, nil, 0)
	require.NoError(t, err)
	assert.True(t, step.Done)

	_, err = NextStep(current, &domain.Cursor{Kind: domain.CursorRepoPage, RepoIndex: 0, Page: 3}, 100)
	assert.ErrorIs(t, err, ErrCursorRegression)
}

func TestNextStep_Window(t *testing.T) {
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	current := domain.Cursor{
		Kind:        domain.CursorWindow,
		WindowStart: end.AddDate(0, 0, -30),
		WindowEnd:   end,
		Floor:       end.AddDate(0, 0, -45),
	}
	earlier := domain.Cursor{Kind: domain.CursorWindow, WindowStart: end.AddDate(0, 0, -60), WindowEnd: current.WindowStart}

	step, err := NextStep(current, &earlier, 5)
	require.NoError(t, err)
	require.NotNil(t, step.Next)
	assert.Equal(t, current.Floor, step.Next.Floor)

	atFloor := domain.Cursor{Kind: domain.CursorWindow, WindowStart: end.AddDate(0, 0, -90), WindowEnd: current.Floor}
	step, err = NextStep(current, &atFloor, 5)
	require.NoError(t, err)
	assert.True(t, step.Done)

	step, err = NextStep(current, &earlier, 0)
	require.NoError(t, err)
	assert.True(t, step.Done)

	_, err = NextStep(current, &current, 5)
	assert.ErrorIs(t, err, ErrCursorRegression)
}

func TestNextStep_Before(t *testing.T) {
	current := domain.Cursor{Kind: domain.CursorBefore, Before: "2024-06-01T00:00:00Z"}

	step, err := NextStep(current, &domain.Cursor{Kind: domain.CursorBefore, Before: "2024-05-20T08:00:00Z"}, 10)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-20T08:00:00Z", step.Next.Before)

	_, err = NextStep(current, &domain.Cursor{Kind: domain.CursorBefore, Before: "2024-06-01T00:00:00Z"}, 10)
	assert.ErrorIs(t, err, ErrCursorRegression)

	step, err = NextStep(current, nil, 10)
	require.NoError(t, err)
	assert.True(t, step.Done)

	_, err = NextStep(domain.Cursor{Kind: domain.CursorBefore, Before: "100"}, &domain.Cursor{Kind: domain.CursorBefore, Before: "99"}, 1)
	assert.NoError(t, err)
	_, err = NextStep(domain.Cursor{Kind: domain.CursorBefore, Before: "99"}, &domain.Cursor{Kind: domain.CursorBefore, Before: "100"}, 1)
	assert.ErrorIs(t, err, ErrCursorRegression)
}

func TestNextStep_UnknownKind(t *testing.T) {
	_, err := NextStep(domain.Cursor{Kind: "sideways"}, nil, 1)
	assert.Error(t, err)
}
