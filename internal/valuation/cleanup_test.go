package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypaper/polypaper/internal/domain"
)

func TestCleanupArchivesBeforeDeleting(t *testing.T) {
	history := &fakeHistoryStore{old: []domain.PricePoint{
		{TokenID: "tok-a"}, {TokenID: "tok-b"},
	}}
	snaps := &fakeSnapshotStore{old: map[int][]domain.PortfolioSnapshot{
		1: {{Resolution: 1}},
		5: {{Resolution: 5}, {Resolution: 5}},
	}}
	archiver := &recordingArchiver{}

	c := NewCleanup(history, snaps, archiver, 7*24*time.Hour, time.Hour, testLogger())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pruned, err := c.RunOnce(context.Background(), now)
	require.NoError(t, err)

	// 2 price rows + 1 one-minute row + 2 five-minute rows.
	assert.Equal(t, int64(5), pruned)
	assert.Len(t, archiver.points, 2)
	assert.Len(t, archiver.snaps, 3)

	// The unbounded 720-minute tier is never pruned.
	_, pruned720 := snaps.deleted[720]
	assert.False(t, pruned720)

	// Per-tier cutoffs follow the retention windows.
	assert.Equal(t, now.Add(-time.Hour), snaps.deleted[1])
	assert.Equal(t, now.Add(-24*time.Hour), snaps.deleted[5])
	require.Len(t, history.deleted, 1)
	assert.Equal(t, now.Add(-7*24*time.Hour), history.deleted[0])
}

func TestCleanupFailedArchiveAbortsDelete(t *testing.T) {
	history := &fakeHistoryStore{old: []domain.PricePoint{{TokenID: "tok-a"}}}
	snaps := &fakeSnapshotStore{}
	archiver := &recordingArchiver{err: assert.AnError}

	c := NewCleanup(history, snaps, archiver, time.Hour, time.Hour, testLogger())

	_, err := c.RunOnce(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Empty(t, history.deleted, "rows must not be deleted when archiving failed")
}

func TestCleanupWithoutArchiverStillPrunes(t *testing.T) {
	history := &fakeHistoryStore{old: []domain.PricePoint{{TokenID: "tok-a"}}}
	snaps := &fakeSnapshotStore{}

	c := NewCleanup(history, snaps, nil, time.Hour, time.Hour, testLogger())

	pruned, err := c.RunOnce(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
	assert.Len(t, history.deleted, 1)
}
