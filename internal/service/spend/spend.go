// Package spend tracks AI spend against daily and monthly budget caps.
//
// Costs are read back from the pipeline_runs ledger, so every orchestrator
// sees the same cumulative totals regardless of which process spent them.
package spend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
)

// BudgetStatus is the monthly admission decision.
type BudgetStatus struct {
	CanProceed   bool
	MonthlySpend float64
	Warning      bool
	HardStop     bool
	Message      string
}

// DailyStatus reports today's spend against the daily warning threshold.
type DailyStatus struct {
	DailySpend float64
	Warning    bool
	Message    string
}

// Tracker reads cumulative costs from the run ledger and enforces the
// monthly warning / hard-stop thresholds.
type Tracker struct {
	runs    domain.RunRepository
	alerter domain.Alerter

	monthlyWarn float64
	monthlyCap  float64
	dailyWarn   float64

	inputRate  float64
	outputRate float64
	imageRate  float64

	mu      sync.Mutex
	alerted map[string]bool
}

// NewTracker wires a Tracker onto the run ledger and alerter using the
// configured thresholds and cost rates.
func NewTracker(runs domain.RunRepository, alerter domain.Alerter, cfg config.Config) *Tracker {
	return &Tracker{
		runs:        runs,
		alerter:     alerter,
		monthlyWarn: cfg.AIMonthlyWarningUSD,
		monthlyCap:  cfg.AIMonthlyBudgetCapUSD,
		dailyWarn:   cfg.AIDailyWarningUSD,
		inputRate:   cfg.LLMInputCostPerToken,
		outputRate:  cfg.LLMOutputCostPerToken,
		imageRate:   cfg.ReplicateCostPerImage,
		alerted:     make(map[string]bool),
	}
}

// EstimateCost is pure: token counts times the configured per-token rates
// plus images times the per-image rate. Token rates default to zero for
// free-tier models.
func (t *Tracker) EstimateCost(inputTokens, outputTokens, images int) float64 {
	llm := roundTo(float64(inputTokens)*t.inputRate+float64(outputTokens)*t.outputRate, 6)
	img := roundTo(float64(images)*t.imageRate, 4)
	return llm + img
}

// DailySpend sums ai_cost_estimate_usd over runs started today (UTC).
func (t *Tracker) DailySpend(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	total, err := t.runs.SumCostSince(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("op=spend.DailySpend: %w", err)
	}
	return roundTo(total, 4), nil
}

// MonthlySpend sums ai_cost_estimate_usd over runs started in the given
// month (UTC).
func (t *Tracker) MonthlySpend(ctx context.Context, year int, month time.Month) (float64, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	total, err := t.runs.SumCostSince(ctx, start, start.AddDate(0, 1, 0))
	if err != nil {
		return 0, fmt.Errorf("op=spend.MonthlySpend: %w", err)
	}
	return roundTo(total, 4), nil
}

// CheckBudget checks the current month's spend against the thresholds.
// A ledger-read failure fails open: spend is treated as zero so a broken
// ledger cannot halt the business, and the failure is logged.
// Warning and hard-stop alert emails each fire at most once per calendar
// month per process.
func (t *Tracker) CheckBudget(ctx context.Context) BudgetStatus {
	now := time.Now().UTC()
	monthly, err := t.MonthlySpend(ctx, now.Year(), now.Month())
	if err != nil {
		slog.Warn("budget check could not read spend ledger; failing open", slog.Any("error", err))
		monthly = 0
	}

	hardStop := monthly >= t.monthlyCap
	warning := monthly >= t.monthlyWarn
	monthKey := now.Format("2006-01")

	var message string
	switch {
	case hardStop:
		message = fmt.Sprintf("HARD STOP: monthly AI spend $%.2f exceeds cap $%.2f; AI operations halted", monthly, t.monthlyCap)
		slog.Error(message)
		t.alertOnce(ctx, "hard_stop:"+monthKey,
			fmt.Sprintf("AI budget exceeded: $%.2f of $%.2f", monthly, t.monthlyCap),
			message, "critical")
	case warning:
		message = fmt.Sprintf("WARNING: monthly AI spend $%.2f approaching cap $%.2f", monthly, t.monthlyCap)
		slog.Warn(message)
		t.alertOnce(ctx, "warning:"+monthKey,
			fmt.Sprintf("AI budget warning: $%.2f of $%.2f", monthly, t.monthlyCap),
			message, "warning")
	default:
		message = fmt.Sprintf("monthly AI spend $%.2f / $%.2f", monthly, t.monthlyCap)
		slog.Info(message)
	}

	return BudgetStatus{
		CanProceed:   !hardStop,
		MonthlySpend: monthly,
		Warning:      warning,
		HardStop:     hardStop,
		Message:      message,
	}
}

// CheckDailyBudget checks today's spend against the daily warning
// threshold. The daily warning is not latched; it fires on every check
// while spend stays above the threshold.
func (t *Tracker) CheckDailyBudget(ctx context.Context) DailyStatus {
	daily, err := t.DailySpend(ctx)
	if err != nil {
		slog.Warn("daily budget check could not read spend ledger; failing open", slog.Any("error", err))
		daily = 0
	}

	warning := daily >= t.dailyWarn
	var message string
	if warning {
		message = fmt.Sprintf("WARNING: daily AI spend $%.2f exceeds threshold $%.2f", daily, t.dailyWarn)
		slog.Warn(message)
		subject := fmt.Sprintf("Daily AI spend warning: $%.2f", daily)
		body := fmt.Sprintf("Daily AI spend has reached $%.2f, exceeding the $%.2f warning threshold.\n\nPlease review pipeline runs to ensure costs are under control.", daily, t.dailyWarn)
		if err := t.alerter.Send(ctx, subject, body, "warning"); err != nil {
			slog.Error("failed to send daily spend warning alert", slog.Any("error", err))
		}
	} else {
		message = fmt.Sprintf("daily AI spend $%.2f / $%.2f", daily, t.dailyWarn)
	}

	return DailyStatus{DailySpend: daily, Warning: warning, Message: message}
}

// alertOnce sends the alert unless the latch key already fired. Send
// failures leave the latch unset so the next check retries.
func (t *Tracker) alertOnce(ctx context.Context, key, subject, body, level string) {
	t.mu.Lock()
	if t.alerted[key] {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if err := t.alerter.Send(ctx, subject, body, level); err != nil {
		slog.Error("failed to send budget alert", slog.String("key", key), slog.Any("error", err))
		return
	}

	t.mu.Lock()
	t.alerted[key] = true
	t.mu.Unlock()
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
