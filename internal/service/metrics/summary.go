package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// SummaryInput carries everything the daily summary email reports on.
type SummaryInput struct {
	Runs           []domain.PipelineRun
	Daily          DailyReport
	MTD            MTDReport
	Repriced       int
	Archived       int
	ActiveListings int
	MaxListings    int
	AISpendToday   float64
	AISpendMTD     float64
	APICalls       int
	Alerts         []string
}

// BuildSummary renders the plain-text daily summary body. Sections are
// fixed so the operator's inbox filters keep working.
func BuildSummary(in SummaryInput) string {
	var b strings.Builder

	b.WriteString("=== Pipeline Health ===\n")
	if len(in.Runs) == 0 {
		b.WriteString("  No runs in the last 24 hours.\n")
	}
	for _, r := range in.Runs {
		b.WriteString(fmt.Sprintf("  %s: %s (errors: %d)\n",
			r.Workflow, r.Status, r.Counts.ErrorsCount))
	}

	b.WriteString("\n=== Revenue ===\n")
	b.WriteString(fmt.Sprintf("  Orders: %d\n", in.Daily.Orders))
	b.WriteString(fmt.Sprintf("  Gross Revenue: $%.2f\n", in.Daily.GrossRevenue))
	b.WriteString(fmt.Sprintf("  COGS: $%.2f\n", in.Daily.COGS))
	b.WriteString(fmt.Sprintf("  Etsy Fees: $%.2f\n", in.Daily.EtsyFees))
	b.WriteString(fmt.Sprintf("  Est. Profit: $%.2f\n", in.Daily.EstimatedProfit))
	b.WriteString(fmt.Sprintf("  Avg Order Value: $%.2f\n", in.Daily.AvgOrderValue))
	b.WriteString(fmt.Sprintf("  MTD Revenue: $%.2f (profit $%.2f over %d orders)\n",
		in.MTD.Revenue, in.MTD.Profit, in.MTD.Orders))

	b.WriteString("\n=== Pricing ===\n")
	b.WriteString(fmt.Sprintf("  Stickers Repriced: %d\n", in.Repriced))
	b.WriteString(fmt.Sprintf("  Stickers Archived: %d\n", in.Archived))
	b.WriteString(fmt.Sprintf("  Active Listings: %d / %d\n", in.ActiveListings, in.MaxListings))

	b.WriteString("\n=== Costs ===\n")
	b.WriteString(fmt.Sprintf("  AI Spend Today: $%.2f\n", in.AISpendToday))
	b.WriteString(fmt.Sprintf("  AI Spend MTD: $%.2f\n", in.AISpendMTD))
	b.WriteString(fmt.Sprintf("  Etsy API Calls: %d\n", in.APICalls))

	b.WriteString("\n=== Alerts ===\n")
	if len(in.Alerts) == 0 {
		b.WriteString("  No alerts today.\n")
	}
	for _, a := range in.Alerts {
		b.WriteString("  - " + a + "\n")
	}
	return b.String()
}

// SummarySubject returns the dated subject line.
func SummarySubject(day time.Time) string {
	return "Daily Summary " + day.UTC().Format("2006-01-02")
}
