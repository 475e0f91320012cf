// Package dedup merges cross-source trend candidates into canonical
// trends via keyword-set Jaccard similarity and reconciles the result
// against trends already in the store.
package dedup

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// SimilarityThreshold is the Jaccard score above which two candidates
// merge. Strictly greater: exactly 0.6 keeps them separate.
const SimilarityThreshold = 0.6

// suffixRules is a closed table applied in order; the first suffix that
// matches and leaves a residue of at least three characters wins.
var suffixRules = [...]struct{ suffix, replacement string }{
	{"ying", "y"},
	{"zing", "z"},
	{"ting", "t"},
	{"ning", "n"},
	{"ring", "r"},
	{"ling", "l"},
	{"ding", "d"},
	{"bing", "b"},
	{"ging", "g"},
	{"ping", "p"},
	{"ming", "m"},
	{"king", "k"},
	{"sing", "s"},
	{"ing", ""},
	{"ies", "y"},
	{"ness", ""},
	{"ment", ""},
	{"tion", ""},
	{"sion", ""},
	{"able", ""},
	{"ible", ""},
	{"ful", ""},
	{"less", ""},
	{"ous", ""},
	{"ive", ""},
	{"ed", ""},
	{"er", ""},
	{"est", ""},
	{"ly", ""},
	{"s", ""},
}

// Stem strips one common English suffix. Words of three characters or
// fewer pass through unchanged, as does any word whose stemmed residue
// would fall under three characters.
func Stem(word string) string {
	n := utf8.RuneCountInString(word)
	if n <= 3 {
		return word
	}
	for _, r := range suffixRules {
		if !strings.HasSuffix(word, r.suffix) {
			continue
		}
		if n-len(r.suffix)+len(r.replacement) < 3 {
			continue
		}
		return strings.TrimSuffix(word, r.suffix) + r.replacement
	}
	return word
}

// NormalizeTopic produces the order-independent dedup key for a topic:
// lowercase, strip everything but letters, digits, underscores, hyphens
// and spaces, drop single-character tokens, stem, sort, rejoin.
func NormalizeTopic(topic string) string {
	if topic == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			return r
		case r == '-' || r == '_':
			return r
		}
		return -1
	}, strings.ToLower(topic))

	var words []string
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) <= 1 {
			continue
		}
		words = append(words, Stem(w))
	}
	sort.Strings(words)
	return strings.Join(words, " ")
}

// Jaccard is |A∩B| / |A∪B|. Two empty sets score zero.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func keywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if k == "" {
			continue
		}
		set[Stem(strings.ToLower(k))] = struct{}{}
	}
	return set
}

// Deduplicate walks candidates in input order and merges any later
// candidate into the current canonical entry when the Jaccard
// similarity of their keyword sets exceeds SimilarityThreshold.
// Merging unions sources and keywords; the higher score hint keeps its
// topic string and source data. Similarity is always measured against
// the canonical entry's seed keywords, so the output is stable when
// fed back in.
func Deduplicate(candidates []domain.TrendCandidate) []domain.CanonicalTrend {
	if len(candidates) == 0 {
		return nil
	}

	merged := make([]bool, len(candidates))
	canonical := make([]domain.CanonicalTrend, 0, len(candidates))

	for i, seed := range candidates {
		if merged[i] {
			continue
		}

		out := domain.CanonicalTrend{
			Topic:      seed.Topic,
			SourceData: seed.SourceData,
			ScoreHint:  seed.ScoreHint,
		}
		sources := appendUnique(nil, seed.Source)
		keywords := appendUniqueAll(nil, seed.Keywords)
		seedSet := keywordSet(seed.Keywords)

		for j := i + 1; j < len(candidates); j++ {
			if merged[j] {
				continue
			}
			other := candidates[j]
			sim := Jaccard(seedSet, keywordSet(other.Keywords))
			if sim <= SimilarityThreshold {
				continue
			}
			merged[j] = true
			sources = appendUnique(sources, other.Source)
			keywords = appendUniqueAll(keywords, other.Keywords)
			if other.ScoreHint > out.ScoreHint {
				out.Topic = other.Topic
				out.ScoreHint = other.ScoreHint
				out.SourceData = other.SourceData
			}
			slog.Debug("merged trend candidate",
				slog.String("topic", other.Topic),
				slog.String("into", out.Topic),
				slog.Float64("similarity", sim))
		}

		out.Sources = sources
		out.Keywords = keywords
		out.NormalizedTopic = NormalizeTopic(out.Topic)
		canonical = append(canonical, out)
	}

	slog.Info("deduplicated trend candidates",
		slog.Int("candidates", len(candidates)),
		slog.Int("canonical", len(canonical)))
	return canonical
}

// Reconciler checks canonical trends against rows already in the store.
type Reconciler struct {
	trends domain.TrendRepository
}

func NewReconciler(trends domain.TrendRepository) *Reconciler {
	return &Reconciler{trends: trends}
}

// Reconcile returns the entries with no matching normalized_topic row.
// Matches extend the existing row's source set instead of producing a
// duplicate insert. A store read failure keeps the entry in the output
// so a flaky store cannot drop a discovered trend.
func (r *Reconciler) Reconcile(ctx context.Context, canonical []domain.CanonicalTrend) []domain.CanonicalTrend {
	fresh := make([]domain.CanonicalTrend, 0, len(canonical))

	for _, c := range canonical {
		if c.NormalizedTopic == "" {
			c.NormalizedTopic = NormalizeTopic(c.Topic)
		}

		existing, err := r.trends.GetByNormalizedTopic(ctx, c.NormalizedTopic)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Error("existing-trend lookup failed, keeping candidate",
					slog.String("normalized_topic", c.NormalizedTopic),
					slog.Any("error", err))
			}
			fresh = append(fresh, c)
			continue
		}

		mergedSources := appendUniqueAll(nil, existing.Sources)
		before := len(mergedSources)
		mergedSources = appendUniqueAll(mergedSources, c.Sources)
		if len(mergedSources) == before {
			slog.Debug("trend already known with same sources",
				slog.String("normalized_topic", c.NormalizedTopic))
			continue
		}

		if err := r.trends.UpdateSources(ctx, existing.ID, mergedSources); err != nil {
			slog.Error("failed to update trend sources",
				slog.String("trend_id", existing.ID),
				slog.Any("error", err))
			continue
		}
		slog.Info("extended sources of existing trend",
			slog.String("trend_id", existing.ID),
			slog.String("normalized_topic", c.NormalizedTopic))
	}

	slog.Info("reconciled canonical trends",
		slog.Int("canonical", len(canonical)),
		slog.Int("new", len(fresh)))
	return fresh
}

func appendUnique(dst []string, v string) []string {
	if v == "" {
		return dst
	}
	for _, s := range dst {
		if s == v {
			return dst
		}
	}
	return append(dst, v)
}

func appendUniqueAll(dst []string, vs []string) []string {
	for _, v := range vs {
		dst = appendUnique(dst, v)
	}
	return dst
}
