package valuation

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polypaper/polypaper/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFundStore struct {
	funds []domain.Fund
}

func (f *fakeFundStore) Create(context.Context, domain.Fund) error { return nil }
func (f *fakeFundStore) GetByID(context.Context, uuid.UUID) (domain.Fund, error) {
	return domain.Fund{}, domain.ErrNotFound
}
func (f *fakeFundStore) ListByUser(context.Context, uuid.UUID) ([]domain.Fund, error) {
	return nil, nil
}
func (f *fakeFundStore) SetPrimary(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (f *fakeFundStore) ListWithOpenPositions(context.Context) ([]domain.Fund, error) {
	return f.funds, nil
}

type fakePositionStore struct {
	lots map[uuid.UUID][]domain.PositionLot
	err  map[uuid.UUID]error
}

func (f *fakePositionStore) ListByFund(_ context.Context, fundID uuid.UUID) ([]domain.PositionLot, error) {
	if err := f.err[fundID]; err != nil {
		return nil, err
	}
	return f.lots[fundID], nil
}

func (f *fakePositionStore) ListByFundToken(_ context.Context, fundID uuid.UUID, tokenID string) ([]domain.PositionLot, error) {
	var out []domain.PositionLot
	for _, l := range f.lots[fundID] {
		if l.TokenID == tokenID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeHistoryStore struct {
	latest   map[string]domain.PricePoint
	inserted []domain.PricePoint
	old      []domain.PricePoint
	deleted  []time.Time
}

func (f *fakeHistoryStore) InsertBatch(_ context.Context, points []domain.PricePoint) error {
	f.inserted = append(f.inserted, points...)
	return nil
}

func (f *fakeHistoryStore) LatestBefore(_ context.Context, tokenID string, _ time.Time) (domain.PricePoint, error) {
	p, ok := f.latest[tokenID]
	if !ok {
		return domain.PricePoint{}, domain.ErrNoPrice
	}
	return p, nil
}

func (f *fakeHistoryStore) ListBefore(_ context.Context, _ time.Time) ([]domain.PricePoint, error) {
	return f.old, nil
}

func (f *fakeHistoryStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deleted = append(f.deleted, before)
	return int64(len(f.old)), nil
}

type fakeSnapshotStore struct {
	inserted []domain.PortfolioSnapshot
	old      map[int][]domain.PortfolioSnapshot
	deleted  map[int]time.Time
}

func (f *fakeSnapshotStore) InsertBatch(_ context.Context, snaps []domain.PortfolioSnapshot) error {
	f.inserted = append(f.inserted, snaps...)
	return nil
}

func (f *fakeSnapshotStore) List(context.Context, uuid.UUID, int, time.Time) ([]domain.PortfolioSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) ListBefore(_ context.Context, resolution int, _ time.Time) ([]domain.PortfolioSnapshot, error) {
	return f.old[resolution], nil
}

func (f *fakeSnapshotStore) DeleteBefore(_ context.Context, resolution int, before time.Time) (int64, error) {
	if f.deleted == nil {
		f.deleted = make(map[int]time.Time)
	}
	f.deleted[resolution] = before
	return int64(len(f.old[resolution])), nil
}

type recordingArchiver struct {
	points []domain.PricePoint
	snaps  []domain.PortfolioSnapshot
	err    error
}

func (a *recordingArchiver) ArchivePricePoints(_ context.Context, points []domain.PricePoint) error {
	if a.err != nil {
		return a.err
	}
	a.points = append(a.points, points...)
	return nil
}

func (a *recordingArchiver) ArchiveSnapshots(_ context.Context, snaps []domain.PortfolioSnapshot) error {
	if a.err != nil {
		return a.err
	}
	a.snaps = append(a.snaps, snaps...)
	return nil
}
