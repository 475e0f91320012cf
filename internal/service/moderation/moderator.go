package moderation

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/ledger"
)

const (
	// ApproveThreshold is the score below which content auto-approves.
	ApproveThreshold = 0.4
	// RejectThreshold is the score above which content auto-rejects;
	// scores between the two thresholds flag for manual review.
	RejectThreshold = 0.7
	// AutoRejectAfter is how long a flagged sticker may wait for manual
	// review before the sweep rejects it.
	AutoRejectAfter = 48 * time.Hour
)

// Result is one moderation decision.
type Result struct {
	Status     domain.ModerationStatus
	Score      float64
	Categories map[string]float64
	Reason     string
}

// Moderator runs the two-stage gate: blocklists on listing text, then
// the LLM moderation endpoint with score thresholds.
type Moderator struct {
	lists    *Blocklists
	ai       domain.AIClient
	stickers domain.StickerRepository
	alerter  domain.Alerter
	errs     *ledger.Errors
}

func NewModerator(
	lists *Blocklists,
	ai domain.AIClient,
	stickers domain.StickerRepository,
	alerter domain.Alerter,
	errs *ledger.Errors,
) *Moderator {
	return &Moderator{lists: lists, ai: ai, stickers: stickers, alerter: alerter, errs: errs}
}

// Moderate decides a status for one sticker without persisting it.
//
// Blocklist hits reject outright. Otherwise the description goes to the
// moderation endpoint; an endpoint failure flags for manual review
// rather than approving unseen content, and is recorded in the error
// ledger. Scores below ApproveThreshold approve, above RejectThreshold
// reject, and everything between flags with an operator alert.
func (m *Moderator) Moderate(ctx domain.Context, s domain.Sticker) Result {
	text := s.Description + " " + strings.Join(s.Tags, " ") + " " + s.Title

	if term, ok := m.lists.MatchTrademark(text); ok {
		slog.Info("sticker rejected by trademark blocklist",
			"sticker_id", s.ID, "term", term)
		return Result{
			Status: domain.ModerationRejected,
			Reason: "trademark_violation: " + term,
		}
	}
	if term, ok := m.lists.MatchKeyword(text); ok {
		slog.Info("sticker rejected by keyword blocklist",
			"sticker_id", s.ID, "term", term)
		return Result{
			Status: domain.ModerationRejected,
			Reason: "keyword_blocked: " + term,
		}
	}

	var (
		score      float64
		categories map[string]float64
	)
	if s.Description != "" {
		verdict, err := m.ai.Moderate(ctx, s.Description)
		if err != nil {
			slog.Error("moderation endpoint failed",
				"sticker_id", s.ID, "error", err)
			m.errs.Log(ctx, domain.ErrorEntry{
				Workflow: "sticker_generator",
				Step:     "moderation",
				Kind:     domain.KindOf(err),
				Message:  err.Error(),
				Service:  "openai",
				Context:  map[string]any{"sticker_id": s.ID},
			})
			return Result{
				Status: domain.ModerationFlagged,
				Reason: "moderation_api_unavailable",
			}
		}
		score = verdict.MaxScore
		categories = verdict.Categories
	}

	switch {
	case score > RejectThreshold:
		slog.Info("sticker auto-rejected", "sticker_id", s.ID, "score", score)
		return Result{
			Status:     domain.ModerationRejected,
			Score:      score,
			Categories: categories,
			Reason:     fmt.Sprintf("auto_rejected: score %.3f > %.1f", score, RejectThreshold),
		}
	case score >= ApproveThreshold:
		slog.Info("sticker flagged for review", "sticker_id", s.ID, "score", score)
		m.sendFlagAlert(ctx, s, score, categories)
		return Result{
			Status:     domain.ModerationFlagged,
			Score:      score,
			Categories: categories,
			Reason:     fmt.Sprintf("flagged_for_review: score %.3f", score),
		}
	default:
		slog.Info("sticker auto-approved", "sticker_id", s.ID, "score", score)
		return Result{
			Status:     domain.ModerationApproved,
			Score:      score,
			Categories: categories,
			Reason:     fmt.Sprintf("auto_approved: score %.3f < %.1f", score, ApproveThreshold),
		}
	}
}

// Apply moderates a sticker and persists the decision. A persistence
// failure keeps the decision; the sticker stays pending in the store
// and is re-moderated next cycle.
func (m *Moderator) Apply(ctx domain.Context, s domain.Sticker) Result {
	res := m.Moderate(ctx, s)
	if err := m.stickers.UpdateModeration(ctx, s.ID, res.Status, res.Score); err != nil {
		slog.Error("failed to persist moderation decision",
			"sticker_id", s.ID, "status", res.Status, "error", err)
	}
	return res
}

// SweepFlagged rejects flagged stickers that have waited past the
// review window and returns how many were rejected.
func (m *Moderator) SweepFlagged(ctx domain.Context) int {
	flagged, err := m.stickers.ListByModerationStatus(ctx, domain.ModerationFlagged)
	if err != nil {
		slog.Error("failed to list flagged stickers", "error", err)
		return 0
	}

	cutoff := time.Now().UTC().Add(-AutoRejectAfter)
	rejected := 0
	for _, s := range flagged {
		if s.CreatedAt.IsZero() || !s.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.stickers.UpdateModeration(ctx, s.ID, domain.ModerationRejected, s.ModerationScore); err != nil {
			slog.Error("failed to auto-reject flagged sticker",
				"sticker_id", s.ID, "error", err)
			continue
		}
		rejected++
		slog.Info("auto-rejected flagged sticker past review window",
			"sticker_id", s.ID, "window", AutoRejectAfter)
		m.sendAlert(ctx,
			fmt.Sprintf("Sticker auto-rejected after %dh", int(AutoRejectAfter.Hours())),
			fmt.Sprintf(
				"Sticker %s was auto-rejected because it was flagged for over %d hours without manual review.",
				s.ID, int(AutoRejectAfter.Hours())),
		)
	}

	if rejected > 0 {
		slog.Info("flagged sweep done", "rejected", rejected)
	}
	return rejected
}

func (m *Moderator) sendFlagAlert(ctx domain.Context, s domain.Sticker, score float64, categories map[string]float64) {
	if m.alerter == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sticker %s needs manual review.\n\n", s.ID)
	fmt.Fprintf(&b, "Title: %s\n", s.Title)
	fmt.Fprintf(&b, "Image: %s\n", s.ImageURL)
	fmt.Fprintf(&b, "Moderation score: %.3f\n", score)
	if len(categories) > 0 {
		b.WriteString("Categories:\n")
		names := make([]string, 0, len(categories))
		for name := range categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s: %.3f\n", name, categories[name])
		}
	}
	b.WriteString("\nReview within 48 hours or the sticker is auto-rejected.")

	m.sendAlert(ctx, "Sticker flagged for review: "+s.ID, b.String())
}

func (m *Moderator) sendAlert(ctx domain.Context, subject, body string) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Send(ctx, subject, body, "warning"); err != nil {
		slog.Warn("failed to send moderation alert", "subject", subject, "error", err)
	}
}
