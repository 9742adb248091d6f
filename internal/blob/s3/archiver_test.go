package s3blob

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polypaper/polypaper/internal/domain"
)

type recordingWriter struct {
	puts map[string]string // path -> body
	typ  string
}

func (w *recordingWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = make(map[string]string)
	}
	w.puts[path] = string(body)
	w.typ = contentType
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func f64(v float64) *float64 { return &v }

// newTestArchiver pins the upload pass clock so object keys are
// deterministic.
func newTestArchiver(w *recordingWriter, passTime time.Time) *Archiver {
	a := NewArchiver(w, testLogger())
	a.now = func() time.Time { return passTime }
	return a
}

func TestArchivePricePointsGroupsByDay(t *testing.T) {
	w := &recordingWriter{}
	a := newTestArchiver(w, time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC))

	day1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	points := []domain.PricePoint{
		{TokenID: "tok-a", Midpoint: f64(0.42), At: day1},
		{TokenID: "tok-b", Midpoint: f64(0.58), At: day1.Add(5 * time.Minute)},
		{TokenID: "tok-a", Midpoint: f64(0.44), At: day2},
	}

	require.NoError(t, a.ArchivePricePoints(context.Background(), points))

	require.Len(t, w.puts, 2)
	assert.Equal(t, "application/x-ndjson", w.typ)

	body, ok := w.puts["archive/prices/2025/03/01/060000.jsonl"]
	require.True(t, ok)
	assert.Equal(t, 2, strings.Count(body, "\n"))
	assert.Contains(t, body, `"token_id":"tok-a"`)
	assert.Contains(t, body, `"midpoint":0.42`)

	_, ok = w.puts["archive/prices/2025/03/02/060000.jsonl"]
	assert.True(t, ok)
}

// Successive pruning passes can archive rows from the same UTC day. Each
// pass must land in its own object rather than overwrite the previous one.
func TestArchivePricePointsSameDayPassesKeepBothObjects(t *testing.T) {
	w := &recordingWriter{}
	a := NewArchiver(w, testLogger())

	passTimes := []time.Time{
		time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	var pass int
	a.now = func() time.Time {
		ts := passTimes[pass]
		return ts
	}

	at := time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)
	require.NoError(t, a.ArchivePricePoints(context.Background(), []domain.PricePoint{
		{TokenID: "tok-a", Midpoint: f64(0.40), At: at},
	}))
	pass = 1
	require.NoError(t, a.ArchivePricePoints(context.Background(), []domain.PricePoint{
		{TokenID: "tok-a", Midpoint: f64(0.45), At: at.Add(4 * time.Hour)},
	}))

	require.Len(t, w.puts, 2)

	first, ok := w.puts["archive/prices/2025/03/01/060000.jsonl"]
	require.True(t, ok)
	assert.Contains(t, first, `"midpoint":0.4`)

	second, ok := w.puts["archive/prices/2025/03/01/120000.jsonl"]
	require.True(t, ok)
	assert.Contains(t, second, `"midpoint":0.45`)
}

func TestArchiveSnapshotsWritesJSONL(t *testing.T) {
	w := &recordingWriter{}
	a := newTestArchiver(w, time.Date(2025, 6, 16, 0, 30, 0, 0, time.UTC))

	fundID := uuid.New()
	taken := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	snaps := []domain.PortfolioSnapshot{
		{FundID: fundID, Value: 10_250.5, Resolution: 30, TakenAt: taken},
	}

	require.NoError(t, a.ArchiveSnapshots(context.Background(), snaps))

	body, ok := w.puts["archive/snapshots/2025/06/15/003000.jsonl"]
	require.True(t, ok)
	assert.Contains(t, body, fundID.String())
	assert.Contains(t, body, `"resolution":30`)
	assert.Contains(t, body, "2025-06-15T12:30:00Z")
	assert.True(t, strings.HasSuffix(body, "\n"))
}
