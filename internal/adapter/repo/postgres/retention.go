package postgres

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// Retention windows in days. Price history is exported to cold storage
// before deletion; everything else is deleted in place.
const (
	CustomerDataRetentionDays = 90
	ErrorLogRetentionDays     = 90
	PipelineRunRetentionDays  = 180
	PriceHistoryRetentionDays = 365
)

// RetentionService runs the periodic purges at the close of the
// analytics workflow.
type RetentionService struct {
	Orders  domain.OrderRepository
	Errors  domain.ErrorRepository
	Runs    domain.RunRepository
	History domain.PriceHistoryRepository
	Blobs   domain.ObjectStore
}

func NewRetentionService(
	orders domain.OrderRepository,
	errs domain.ErrorRepository,
	runs domain.RunRepository,
	history domain.PriceHistoryRepository,
	blobs domain.ObjectStore,
) *RetentionService {
	return &RetentionService{Orders: orders, Errors: errs, Runs: runs, History: history, Blobs: blobs}
}

// PurgeReport tallies what one retention pass removed.
type PurgeReport struct {
	CustomerDataCleared int64
	ErrorRowsDeleted    int64
	RunRowsDeleted      int64
	HistoryRowsArchived int64
}

// Purge applies every retention window. Each purge is independent: a
// failure is logged and the pass continues, so one broken table cannot
// hold PII on the others past its window.
func (s *RetentionService) Purge(ctx context.Context) PurgeReport {
	now := time.Now().UTC()
	var rep PurgeReport
	var err error

	rep.CustomerDataCleared, err = s.Orders.PurgeCustomerData(ctx, now.AddDate(0, 0, -CustomerDataRetentionDays))
	if err != nil {
		slog.Error("customer data purge failed", slog.Any("error", err))
	}

	rep.ErrorRowsDeleted, err = s.Errors.DeleteOlderThan(ctx, now.AddDate(0, 0, -ErrorLogRetentionDays))
	if err != nil {
		slog.Error("error log purge failed", slog.Any("error", err))
	}

	rep.RunRowsDeleted, err = s.Runs.DeleteOlderThan(ctx, now.AddDate(0, 0, -PipelineRunRetentionDays))
	if err != nil {
		slog.Error("pipeline run purge failed", slog.Any("error", err))
	}

	rep.HistoryRowsArchived, err = s.archivePriceHistory(ctx, now.AddDate(0, 0, -PriceHistoryRetentionDays))
	if err != nil {
		slog.Error("price history archive failed", slog.Any("error", err))
	}

	slog.Info("retention purge finished",
		slog.Int64("customer_data_cleared", rep.CustomerDataCleared),
		slog.Int64("error_rows_deleted", rep.ErrorRowsDeleted),
		slog.Int64("run_rows_deleted", rep.RunRowsDeleted),
		slog.Int64("history_rows_archived", rep.HistoryRowsArchived))
	return rep
}

// archivePriceHistory exports year-old rows as CSV to the object store
// and deletes them only after the upload succeeded.
func (s *RetentionService) archivePriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.History.OlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=retention.archive_price_history: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	body, err := priceHistoryCSV(rows)
	if err != nil {
		return 0, fmt.Errorf("op=retention.archive_price_history: %w", err)
	}

	key := fmt.Sprintf("archives/price_history/price-history-%s.csv", time.Now().UTC().Format("2006-01-02"))
	if _, err := s.Blobs.Put(ctx, key, body, "text/csv"); err != nil {
		return 0, fmt.Errorf("op=retention.archive_price_history key=%s: %w", key, err)
	}

	deleted, err := s.History.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		// The export exists; the rows just survive until the next pass.
		return 0, fmt.Errorf("op=retention.archive_price_history: %w", err)
	}
	slog.Info("price history archived to cold storage",
		slog.String("key", key), slog.Int64("rows", deleted))
	return deleted, nil
}

func priceHistoryCSV(rows []domain.PriceChange) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "sticker_id", "old_price", "new_price", "pricing_tier", "reason", "created_at"}); err != nil {
		return nil, err
	}
	for _, p := range rows {
		rec := []string{
			p.ID,
			p.StickerID,
			strconv.FormatFloat(p.OldPrice, 'f', 2, 64),
			strconv.FormatFloat(p.NewPrice, 'f', 2, 64),
			string(p.Tier),
			p.Reason,
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
