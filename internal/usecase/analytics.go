package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stickertrendz/pipeline/internal/adapter/repo/postgres"
	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/fulfillment"
	"github.com/stickertrendz/pipeline/internal/service/metrics"
	"github.com/stickertrendz/pipeline/internal/service/ratelimiter"
	"github.com/stickertrendz/pipeline/internal/service/resilience"
	"github.com/stickertrendz/pipeline/internal/service/spend"
)

// receiptLookback is the receipt fetch window. It overlaps the 24 h
// schedule on purpose: inserts are idempotent on etsy_receipt_id, so a
// missed cycle loses nothing and an overlap creates nothing twice.
const receiptLookback = 25 * time.Hour

// AnalyticsSync pulls marketplace receipts into the order ledger, routes
// paid orders to fulfillment, applies retention, and mails the daily
// summary.
type AnalyticsSync struct {
	Runner    *Runner
	Governor  *ratelimiter.Governor
	Market    domain.Marketplace
	Orders    domain.OrderRepository
	Stickers  domain.StickerRepository
	Runs      domain.RunRepository
	Router    *fulfillment.Router
	Retention *postgres.RetentionService
	Reports   *metrics.Aggregator
	Spend     *spend.Tracker
	Retrier   *resilience.Retrier
	Alerter   domain.Alerter
	Cfg       config.Config
}

// Run executes one analytics_sync cycle and returns the exit code.
func (a *AnalyticsSync) Run(ctx context.Context) int {
	return a.Runner.Execute(ctx, domain.WorkflowAnalyticsSync, a.admission, a.body)
}

func (a *AnalyticsSync) admission(ctx context.Context) (string, error) {
	ok, err := a.Governor.CanProceed(ctx, domain.P0OrderReads)
	if err != nil {
		return "", err
	}
	if !ok {
		return "api_budget", nil
	}
	return "", nil
}

func (a *AnalyticsSync) body(ctx context.Context, scope *RunScope) error {
	if err := a.syncReceipts(ctx, scope); err != nil {
		return err
	}
	a.fulfillPaid(ctx, scope)
	a.Router.SweepStatuses(ctx, scope.RunID)
	a.Router.CheckOverdue(ctx)
	a.purge(ctx, scope)
	a.sendSummary(ctx, scope)
	return nil
}

func (a *AnalyticsSync) syncReceipts(ctx context.Context, scope *RunScope) error {
	since := time.Now().UTC().Add(-receiptLookback)
	var receipts []domain.Receipt
	err := a.Retrier.Do(ctx, "etsy", func(ctx context.Context) error {
		var rerr error
		receipts, rerr = a.Market.ListReceipts(ctx, since)
		return rerr
	})
	if err != nil {
		return fmt.Errorf("op=usecase.analytics: list receipts: %w", err)
	}
	scope.AddAPICalls(1)

	for _, rc := range receipts {
		if Deadline(ctx) {
			break
		}
		if a.syncOne(ctx, scope, rc) {
			scope.Count(func(c *domain.RunCounts) { c.OrdersSynced++ })
		}
	}
	return nil
}

// syncOne records one receipt as an order. Reports true only for a
// fresh insert; already-known receipts are a silent no-op.
func (a *AnalyticsSync) syncOne(ctx context.Context, scope *RunScope, rc domain.Receipt) bool {
	if _, err := a.Orders.GetByReceiptID(ctx, rc.ReceiptID); err == nil {
		return false
	} else if !errors.Is(err, domain.ErrNotFound) {
		scope.ItemError(ctx, "lookup_order", "postgres", err, map[string]any{"receipt_id": rc.ReceiptID})
		return false
	}

	s, err := a.Stickers.GetByListingID(ctx, rc.ListingID)
	if err != nil {
		scope.ItemError(ctx, "match_listing", "postgres", err, map[string]any{
			"receipt_id": rc.ReceiptID,
			"listing_id": rc.ListingID,
		})
		return false
	}

	o := domain.Order{
		StickerID:           s.ID,
		EtsyOrderID:         rc.ReceiptID,
		EtsyReceiptID:       rc.ReceiptID,
		Status:              rc.Status,
		Quantity:            rc.Quantity,
		UnitPrice:           rc.UnitPrice,
		TotalAmount:         rc.TotalAmount,
		PricingTierAtSale:   s.PricingTier,
		CustomerData:        rc.CustomerData,
		FulfillmentProvider: s.FulfillmentProvider,
		CreatedAt:           rc.CreatedAt,
	}
	if _, err := a.Orders.Insert(ctx, o); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false
		}
		scope.ItemError(ctx, "insert_order", "postgres", err, map[string]any{"receipt_id": rc.ReceiptID})
		return false
	}
	// Sales stats move only on first sight of a receipt, so reruns over
	// the lookback overlap cannot inflate them.
	if err := a.Stickers.IncrementSales(ctx, s.ID, rc.Quantity, rc.CreatedAt); err != nil {
		scope.ItemError(ctx, "increment_sales", "postgres", err, map[string]any{"sticker_id": s.ID})
	}
	return true
}

func (a *AnalyticsSync) fulfillPaid(ctx context.Context, scope *RunScope) {
	paid, err := a.Orders.ListByStatus(ctx, domain.OrderPaid)
	if err != nil {
		scope.ItemError(ctx, "list_paid_orders", "postgres", err, nil)
		return
	}
	for _, o := range paid {
		if Deadline(ctx) {
			return
		}
		if err := a.Router.Fulfill(ctx, o, scope.RunID); err != nil {
			scope.ItemError(ctx, "fulfill_order", domain.ServiceOf(err), err, map[string]any{"order_id": o.ID})
			continue
		}
		scope.Count(func(c *domain.RunCounts) { c.OrdersFulfilled++ })
	}
}

func (a *AnalyticsSync) purge(ctx context.Context, scope *RunScope) {
	report := a.Retention.Purge(ctx)
	scope.SetMetadata("retention", map[string]any{
		"customer_data_cleared": report.CustomerDataCleared,
		"error_rows_deleted":    report.ErrorRowsDeleted,
		"run_rows_deleted":      report.RunRowsDeleted,
		"history_rows_archived": report.HistoryRowsArchived,
	})
}

// sendSummary mails the daily operator digest. It is always attempted;
// repo failures degrade individual sections to zero inside Aggregator.
func (a *AnalyticsSync) sendSummary(ctx context.Context, scope *RunScope) {
	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)

	runs, err := a.Runs.ListSince(ctx, dayAgo)
	if err != nil {
		slog.WarnContext(ctx, "run history unavailable for summary", slog.Any("error", err))
	}

	in := metrics.SummaryInput{
		Runs:         runs,
		Daily:        a.Reports.Daily(ctx, now),
		MTD:          a.Reports.MTD(ctx, now),
		AISpendToday: a.Reports.AISpend(ctx, now),
		APICalls:     a.Reports.APIUsage(ctx, now),
		MaxListings:  a.Cfg.MaxActiveListings,
	}
	if mtd, err := a.Spend.MonthlySpend(ctx, now.Year(), now.Month()); err == nil {
		in.AISpendMTD = mtd
	}
	if active, err := a.Stickers.CountActiveListings(ctx); err == nil {
		in.ActiveListings = active
	}
	for _, r := range runs {
		if r.Workflow == domain.WorkflowPricingEngine {
			in.Repriced += r.Counts.PricesUpdated
			in.Archived += r.Counts.StickersArchived
		}
		if r.Status == domain.RunFailed {
			in.Alerts = append(in.Alerts, fmt.Sprintf("%s run failed at %s", r.Workflow, r.StartedAt.Format(time.RFC3339)))
		}
	}

	if err := a.Alerter.Send(ctx, metrics.SummarySubject(now), metrics.BuildSummary(in), "info"); err != nil {
		scope.ItemError(ctx, "daily_summary", "email", err, nil)
	}
}
