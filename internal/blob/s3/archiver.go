package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polypaper/polypaper/internal/domain"
)

const archiveContentType = "application/x-ndjson"

// Archiver writes pruned rows to cold storage as JSONL files, one object
// per UTC day per pass, keyed as archive/{kind}/YYYY/MM/DD/HHMMSS.jsonl.
// The time-of-day suffix is the upload pass time, so successive passes
// covering the same day never overwrite each other. Uploads happen before
// the pruning pass deletes anything, so a failed upload keeps the rows in
// Postgres.
type Archiver struct {
	writer domain.BlobWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver uploading through writer.
func NewArchiver(writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

type archivedPricePoint struct {
	TokenID   string   `json:"token_id"`
	BestBid   *float64 `json:"best_bid,omitempty"`
	BestAsk   *float64 `json:"best_ask,omitempty"`
	Midpoint  *float64 `json:"midpoint,omitempty"`
	LastTrade *float64 `json:"last_trade,omitempty"`
	At        string   `json:"at"`
}

type archivedSnapshot struct {
	FundID     string  `json:"fund_id"`
	Value      float64 `json:"value"`
	Resolution int     `json:"resolution"`
	TakenAt    string  `json:"taken_at"`
}

// ArchivePricePoints uploads price history rows grouped by their UTC day.
func (a *Archiver) ArchivePricePoints(ctx context.Context, points []domain.PricePoint) error {
	byDay := make(map[string][]archivedPricePoint)
	for _, p := range points {
		day := p.At.UTC().Format("2006/01/02")
		byDay[day] = append(byDay[day], archivedPricePoint{
			TokenID:   p.TokenID,
			BestBid:   p.BestBid,
			BestAsk:   p.BestAsk,
			Midpoint:  p.Midpoint,
			LastTrade: p.LastTrade,
			At:        p.At.UTC().Format(time.RFC3339),
		})
	}
	return uploadByDay(ctx, a, "prices", byDay)
}

// ArchiveSnapshots uploads portfolio snapshot rows grouped by their UTC day.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, snaps []domain.PortfolioSnapshot) error {
	byDay := make(map[string][]archivedSnapshot)
	for _, s := range snaps {
		day := s.TakenAt.UTC().Format("2006/01/02")
		byDay[day] = append(byDay[day], archivedSnapshot{
			FundID:     s.FundID.String(),
			Value:      s.Value,
			Resolution: s.Resolution,
			TakenAt:    s.TakenAt.UTC().Format(time.RFC3339),
		})
	}
	return uploadByDay(ctx, a, "snapshots", byDay)
}

func uploadByDay[T any](ctx context.Context, a *Archiver, kind string, byDay map[string][]T) error {
	stamp := a.now().UTC().Format("150405")
	for day, rows := range byDay {
		data, err := marshalJSONL(rows)
		if err != nil {
			return fmt.Errorf("s3blob: marshal %s archive: %w", kind, err)
		}

		path := fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, day, stamp)
		if err := a.writer.Put(ctx, path, bytes.NewReader(data), archiveContentType); err != nil {
			return fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}

		a.logger.InfoContext(ctx, "archived rows",
			slog.String("path", path),
			slog.Int("rows", len(rows)),
		)
	}
	return nil
}

// marshalJSONL encodes rows as newline-delimited JSON.
func marshalJSONL[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
