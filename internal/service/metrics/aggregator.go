// Package metrics aggregates the daily business numbers that feed the
// summary email and the cost tracking views.
package metrics

import (
	"log/slog"
	"math"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// Marketplace fee fraction applied to gross revenue.
const etsyFeeRate = 0.10

// Fallback per-unit print cost when the sticker row is unavailable.
const fallbackBaseCost = 1.50

// DailyReport is one day of business metrics.
type DailyReport struct {
	Date            string
	Orders          int
	GrossRevenue    float64
	COGS            float64
	EtsyFees        float64
	EstimatedProfit float64
	NewListings     int
	AvgOrderValue   float64
}

// MTDReport is the month-to-date aggregate.
type MTDReport struct {
	Month   string
	Orders  int
	Revenue float64
	COGS    float64
	Fees    float64
	Profit  float64
}

// Aggregator computes reports from the order, sticker, and run ledgers.
// Partial repo failures degrade the affected fields to zero rather than
// failing the report: the summary email always goes out.
type Aggregator struct {
	orders   domain.OrderRepository
	stickers domain.StickerRepository
	runs     domain.RunRepository
}

func NewAggregator(orders domain.OrderRepository, stickers domain.StickerRepository, runs domain.RunRepository) *Aggregator {
	return &Aggregator{orders: orders, stickers: stickers, runs: runs}
}

// Daily computes the report for the UTC day containing day.
func (a *Aggregator) Daily(ctx domain.Context, day time.Time) DailyReport {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	report := DailyReport{Date: start.Format("2006-01-02")}

	orders, err := a.orders.ListCreatedBetween(ctx, start, end)
	if err != nil {
		slog.WarnContext(ctx, "daily metrics order lookup failed", slog.Any("error", err))
	} else {
		a.fillRevenue(ctx, orders, &report)
	}

	newListings, err := a.stickers.CountPublishedBetween(ctx, start, end)
	if err != nil {
		slog.WarnContext(ctx, "daily metrics listing count failed", slog.Any("error", err))
	} else {
		report.NewListings = newListings
	}
	return report
}

func (a *Aggregator) fillRevenue(ctx domain.Context, orders []domain.Order, report *DailyReport) {
	var gross, cogs float64
	for _, o := range orders {
		if o.Status == domain.OrderRefunded {
			continue
		}
		report.Orders++
		gross += o.TotalAmount

		unitCost := fallbackBaseCost
		if o.StickerID != "" {
			if s, err := a.stickers.Get(ctx, o.StickerID); err == nil && s.BaseCost > 0 {
				unitCost = s.BaseCost
			}
		}
		cogs += unitCost * float64(o.Quantity)
	}

	report.GrossRevenue = round2(gross)
	report.COGS = round2(cogs)
	report.EtsyFees = round2(gross * etsyFeeRate)
	report.EstimatedProfit = round2(gross - cogs - report.EtsyFees)
	if report.Orders > 0 {
		report.AvgOrderValue = round2(gross / float64(report.Orders))
	}
}

// MTD computes the running month aggregate. COGS uses the flat fallback
// cost: the month view is a trend line, not an accounting statement.
func (a *Aggregator) MTD(ctx domain.Context, now time.Time) MTDReport {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	report := MTDReport{Month: start.Format("2006-01")}

	orders, err := a.orders.ListCreatedBetween(ctx, start, now)
	if err != nil {
		slog.WarnContext(ctx, "mtd metrics order lookup failed", slog.Any("error", err))
		return report
	}

	var gross, cogs float64
	for _, o := range orders {
		if o.Status == domain.OrderRefunded {
			continue
		}
		report.Orders++
		gross += o.TotalAmount
		cogs += fallbackBaseCost * float64(o.Quantity)
	}

	report.Revenue = round2(gross)
	report.COGS = round2(cogs)
	report.Fees = round2(gross * etsyFeeRate)
	report.Profit = round2(gross - cogs - report.Fees)
	return report
}

// AISpend returns the total AI cost booked to runs started on the UTC
// day containing day.
func (a *Aggregator) AISpend(ctx domain.Context, day time.Time) float64 {
	start := day.UTC().Truncate(24 * time.Hour)
	total, err := a.runs.SumCostSince(ctx, start, start.Add(24*time.Hour))
	if err != nil {
		slog.WarnContext(ctx, "ai spend lookup failed", slog.Any("error", err))
		return 0
	}
	return total
}

// APIUsage returns the marketplace API calls consumed by runs started
// on the UTC day containing day.
func (a *Aggregator) APIUsage(ctx domain.Context, day time.Time) int {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	runs, err := a.runs.ListSince(ctx, start)
	if err != nil {
		slog.WarnContext(ctx, "api usage lookup failed", slog.Any("error", err))
		return 0
	}

	total := 0
	for _, r := range runs {
		if r.StartedAt.Before(end) {
			total += r.APICallsUsed
		}
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
