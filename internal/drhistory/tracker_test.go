package drhistory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/models"
)

type fakeHistoryStore struct {
	last    models.DRAssignmentRef
	lastErr error
	counts  map[string]int
}

func (f *fakeHistoryStore) LastGlobalDRAssignment(context.Context) (models.DRAssignmentRef, error) {
	return f.last, f.lastErr
}

func (f *fakeHistoryStore) CountDRAssignments(_ context.Context, empCode string, _ int) (int, error) {
	return f.counts[empCode], nil
}

func TestLastGlobalDRAssignmentNoHistory(t *testing.T) {
	tr := NewTracker(&fakeHistoryStore{lastErr: db.ErrNotFound})

	ref, err := tr.LastGlobalDRAssignment(context.Background())
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestLastGlobalDRAssignmentPropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	tr := NewTracker(&fakeHistoryStore{lastErr: boom})

	_, err := tr.LastGlobalDRAssignment(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestIsConsecutiveGlobal(t *testing.T) {
	tr := NewTracker(&fakeHistoryStore{
		last: models.DRAssignmentRef{InterpreterEmpCode: "E2", BookingID: 11},
	})

	consecutive, err := tr.IsConsecutiveGlobal(context.Background(), "E2")
	require.NoError(t, err)
	require.True(t, consecutive)

	consecutive, err = tr.IsConsecutiveGlobal(context.Background(), "E1")
	require.NoError(t, err)
	require.False(t, consecutive)
}

func TestCountInWindow(t *testing.T) {
	tr := NewTracker(&fakeHistoryStore{counts: map[string]int{"E1": 3}})

	n, err := tr.CountInWindow(context.Background(), "E1", 30)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
