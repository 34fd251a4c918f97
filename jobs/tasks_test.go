package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDrafts struct {
	created int
	err     error
	calls   int
}

func (f *fakeDrafts) RepairAllShipments(context.Context) (int, error) {
	f.calls++
	return f.created, f.err
}

type fakeQuality struct {
	repaired int
	err      error
	calls    int
}

func (f *fakeQuality) RepairIncompleteChecks(context.Context) (int, error) {
	f.calls++
	return f.repaired, f.err
}

type fakeKeys struct {
	removed   int64
	err       error
	olderThan time.Duration
}

func (f *fakeKeys) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, f.err
}

func TestPipelineRepairHandlerRunsBothSweeps(t *testing.T) {
	drafts := &fakeDrafts{created: 2}
	quality := &fakeQuality{repaired: 1}
	handler := NewPipelineRepairHandler(drafts, quality, slog.Default(), nil)

	task, err := NewPipelineRepairTask(time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 1, drafts.calls)
	require.Equal(t, 1, quality.calls)
}

func TestPipelineRepairHandlerContinuesPastDraftFailure(t *testing.T) {
	drafts := &fakeDrafts{err: errors.New("db down")}
	quality := &fakeQuality{repaired: 3}
	handler := NewPipelineRepairHandler(drafts, quality, slog.Default(), nil)

	task, err := NewPipelineRepairTask(time.Now().UTC())
	require.NoError(t, err)
	err = handler(context.Background(), task)
	require.Error(t, err)
	require.Equal(t, 1, quality.calls)
}

func TestKeyCleanupHandlerPassesRetention(t *testing.T) {
	keys := &fakeKeys{removed: 4}
	handler := NewKeyCleanupHandler(keys, slog.Default(), nil)

	task, err := NewKeyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, 72*time.Hour, keys.olderThan)
}
