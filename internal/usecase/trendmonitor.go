package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/stickertrendz/pipeline/internal/adapter/ai/openai"
	"github.com/stickertrendz/pipeline/internal/adapter/observability"
	"github.com/stickertrendz/pipeline/internal/config"
	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/dedup"
	"github.com/stickertrendz/pipeline/internal/service/moderation"
	"github.com/stickertrendz/pipeline/internal/service/ratelimiter"
	"github.com/stickertrendz/pipeline/internal/service/resilience"
	"github.com/stickertrendz/pipeline/internal/service/spend"
)

// Trends scoring at or above this overall value qualify for insertion.
const trendScoreThreshold = 7.0

// tokenConsumer is implemented by LLM clients that report token usage
// for cost accounting.
type tokenConsumer interface {
	ConsumedTokens() (in, out int)
}

// TrendMonitor discovers trend candidates, deduplicates and scores
// them, and seeds the trend table for the generation workflow.
type TrendMonitor struct {
	Runner     *Runner
	Governor   *ratelimiter.Governor
	Spend      *spend.Tracker
	Sources    []domain.TrendSource
	Trends     domain.TrendRepository
	Reconciler *dedup.Reconciler
	AI         domain.AIClient
	Retrier    *resilience.Retrier
	Lists      *moderation.Blocklists
	Alerter    domain.Alerter
	Cfg        config.Config
}

// Run executes one trend_monitor cycle and returns the exit code.
func (m *TrendMonitor) Run(ctx context.Context) int {
	return m.Runner.Execute(ctx, domain.WorkflowTrendMonitor, m.admission, m.body)
}

// admission gates on the shared API budget at the lowest priority;
// trend discovery is the first workload shed when the budget tightens.
func (m *TrendMonitor) admission(ctx context.Context) (string, error) {
	ok, err := m.Governor.CanProceed(ctx, domain.P3Analytics)
	if err != nil {
		return "", err
	}
	if !ok {
		return "api_budget", nil
	}
	if status := m.Spend.CheckBudget(ctx); !status.CanProceed {
		return "ai_budget", nil
	}
	return "", nil
}

func (m *TrendMonitor) body(ctx context.Context, scope *RunScope) error {
	candidates, failedSources := m.collect(ctx, scope)
	if failedSources == len(m.Sources) {
		return domain.Failf(domain.KindAPIError, "trend_sources", "all %d trend sources failed", len(m.Sources))
	}

	candidates = m.prefilter(candidates)
	canonical := m.Reconciler.Reconcile(ctx, dedup.Deduplicate(candidates))

	inserted, err := m.scoreAndInsert(ctx, scope, canonical)
	if err != nil {
		return err
	}
	scope.Count(func(c *domain.RunCounts) { c.TrendsFound = inserted })
	m.bookTokenCost(scope)

	m.writeSignal(ctx, inserted > 0)
	return nil
}

// collect fetches every source, tolerating individual failures.
func (m *TrendMonitor) collect(ctx context.Context, scope *RunScope) ([]domain.TrendCandidate, int) {
	var all []domain.TrendCandidate
	failed := 0
	for _, src := range m.Sources {
		if Deadline(ctx) {
			break
		}
		var batch []domain.TrendCandidate
		err := m.Retrier.Do(ctx, src.Name(), func(ctx context.Context) error {
			var ferr error
			batch, ferr = src.Fetch(ctx)
			return ferr
		})
		if err != nil {
			failed++
			scope.ItemError(ctx, "fetch_source", src.Name(), err, nil)
			continue
		}
		all = append(all, batch...)
	}
	return all, failed
}

// prefilter drops candidates whose topic trips a blocklist before any
// LLM spend happens on them.
func (m *TrendMonitor) prefilter(candidates []domain.TrendCandidate) []domain.TrendCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		if term, list, blocked := m.Lists.Match(c.Topic); blocked {
			slog.Debug("candidate blocked before scoring",
				slog.String("topic", c.Topic),
				slog.String("term", term),
				slog.String("list", list))
			continue
		}
		out = append(out, c)
	}
	return out
}

// scoreAndInsert scores the first batch of canonical trends with one
// LLM call and inserts qualifiers: the best five as discovered, the
// rest queued.
func (m *TrendMonitor) scoreAndInsert(ctx context.Context, scope *RunScope, canonical []domain.CanonicalTrend) (int, error) {
	if len(canonical) == 0 {
		return 0, nil
	}
	if len(canonical) > openai.MaxBatchTopics {
		canonical = canonical[:openai.MaxBatchTopics]
	}

	topics := make([]string, len(canonical))
	for i, c := range canonical {
		topics[i] = c.Topic
	}

	var scores []domain.TopicScore
	err := m.Retrier.Do(ctx, "openai", func(ctx context.Context) error {
		var serr error
		scores, serr = m.AI.BatchScore(ctx, topics)
		return serr
	})
	if err != nil {
		return 0, fmt.Errorf("op=usecase.scoreAndInsert: %w", err)
	}

	type qualifier struct {
		trend domain.CanonicalTrend
		score domain.TopicScore
	}
	var qualifiers []qualifier
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(canonical) {
			continue
		}
		observability.ObserveTrendScore(s.Overall)
		if s.Overall >= trendScoreThreshold {
			qualifiers = append(qualifiers, qualifier{trend: canonical[s.Index], score: s})
		}
	}
	sort.SliceStable(qualifiers, func(i, j int) bool {
		return qualifiers[i].score.Overall > qualifiers[j].score.Overall
	})

	inserted := 0
	for i, q := range qualifiers {
		status := domain.TrendQueued
		if i < m.Cfg.MaxTrendsPerCycle {
			status = domain.TrendDiscovered
		}
		if m.insertTrend(ctx, scope, q.trend, q.score, status) {
			inserted++
		}
	}
	return inserted, nil
}

func (m *TrendMonitor) insertTrend(ctx context.Context, scope *RunScope, c domain.CanonicalTrend, s domain.TopicScore, status domain.TrendStatus) bool {
	now := time.Now().UTC()
	_, err := m.Trends.Insert(ctx, domain.Trend{
		Topic:           c.Topic,
		NormalizedTopic: c.NormalizedTopic,
		Sources:         c.Sources,
		Keywords:        c.Keywords,
		VelocityScore:   s.Velocity,
		CommercialScore: s.Commercial,
		SafetyScore:     s.Safety,
		UniquenessScore: s.Uniqueness,
		OverallScore:    s.Overall,
		Status:          status,
		SourceData:      c.SourceData,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		// A concurrent run already inserted this topic; the reconcile
		// pass merged sources, nothing more to do.
		if errors.Is(err, domain.ErrConflict) {
			return false
		}
		scope.ItemError(ctx, "insert_trend", "postgres", err, map[string]any{"topic": c.Topic})
		return false
	}
	return true
}

func (m *TrendMonitor) bookTokenCost(scope *RunScope) {
	if tc, ok := m.AI.(tokenConsumer); ok {
		in, out := tc.ConsumedTokens()
		scope.AddCost(m.Spend.EstimateCost(in, out, 0))
	}
}

// writeSignal tells the scheduler whether downstream generation should
// fire.
func (m *TrendMonitor) writeSignal(ctx context.Context, newTrends bool) {
	if m.Cfg.TrendOutputFile == "" {
		return
	}
	line := fmt.Sprintf("new_trends=%t\n", newTrends)
	if err := os.WriteFile(m.Cfg.TrendOutputFile, []byte(line), 0o644); err != nil {
		slog.WarnContext(ctx, "failed to write trend output file",
			slog.String("path", m.Cfg.TrendOutputFile), slog.Any("error", err))
	}
}
