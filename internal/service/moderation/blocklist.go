// Package moderation gates sticker content: trademark and keyword
// blocklists, moderation score thresholds, and the flagged-review
// timeout sweep.
package moderation

import (
	"bufio"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Keyword entries at or below this length match on word boundaries so a
// blocked short word cannot fire inside a longer clean one.
const wordBoundaryMaxLen = 4

type keywordMatcher struct {
	term string
	re   *regexp.Regexp
}

// Blocklists holds the trademark and keyword term lists. Trademark
// terms match as substrings with simple deplural handling; keyword
// terms match on word boundaries when short.
type Blocklists struct {
	trademarks []string
	keywords   []keywordMatcher
}

// NewBlocklists builds matchers from explicit term lists. Terms are
// lowercased; blanks are dropped.
func NewBlocklists(trademarks, keywords []string) *Blocklists {
	b := &Blocklists{}
	for _, t := range trademarks {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			b.trademarks = append(b.trademarks, t)
		}
	}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		m := keywordMatcher{term: k}
		if len(k) <= wordBoundaryMaxLen {
			m.re = regexp.MustCompile(`\b` + regexp.QuoteMeta(k) + `\b`)
		}
		b.keywords = append(b.keywords, m)
	}
	return b
}

// LoadBlocklists reads the trademark and keyword files (one term per
// line, # comments). A missing file logs a warning and yields an empty
// list so moderation still runs on whatever is present.
func LoadBlocklists(trademarkPath, keywordPath string) *Blocklists {
	return NewBlocklists(readTerms(trademarkPath), readTerms(keywordPath))
}

func readTerms(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("blocklist file not available", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := sc.Err(); err != nil {
		slog.Warn("blocklist read failed", "path", path, "error", err)
	}
	slog.Info("loaded blocklist", "path", path, "terms", len(terms))
	return terms
}

// MatchTrademark reports the first trademark term found in text.
// Matching is case-insensitive substring, additionally comparing
// depluralized forms on both sides so "mouses" still hits "mouse".
func (b *Blocklists) MatchTrademark(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	depluraled := strings.TrimRight(lower, "s")

	for _, entry := range b.trademarks {
		if strings.Contains(lower, entry) {
			return entry, true
		}
		entryDepluraled := strings.TrimRight(entry, "s")
		if strings.Contains(lower, entryDepluraled) || strings.Contains(depluraled, entry) {
			return entry, true
		}
	}
	return "", false
}

// MatchKeyword reports the first keyword term found in text. Short
// terms require word boundaries; longer terms match as substrings.
func (b *Blocklists) MatchKeyword(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)

	for _, m := range b.keywords {
		if m.re != nil {
			if m.re.MatchString(lower) {
				return m.term, true
			}
			continue
		}
		if strings.Contains(lower, m.term) {
			return m.term, true
		}
	}
	return "", false
}

// Match checks both lists, trademark first. list is "trademark" or
// "keyword" when blocked.
func (b *Blocklists) Match(text string) (term, list string, blocked bool) {
	if t, ok := b.MatchTrademark(text); ok {
		return t, "trademark", true
	}
	if k, ok := b.MatchKeyword(text); ok {
		return k, "keyword", true
	}
	return "", "", false
}
