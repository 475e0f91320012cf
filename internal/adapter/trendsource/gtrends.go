package trendsource

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/pkg/textx"
)

const (
	gtrendsFeedURL = "https://trends.google.com/trending/rss?geo=US"
	gtrendsTimeout = 10 * time.Second

	// One feed fetch per cycle keeps us far below the block threshold.
	gtrendsMaxItems = 20
)

// GoogleTrends reads the daily trending-searches RSS feed. No auth, no
// score data: candidates carry a zero score hint and rely on AI scoring
// downstream.
type GoogleTrends struct {
	httpc   *http.Client
	feedURL string
}

func NewGoogleTrends() *GoogleTrends {
	return &GoogleTrends{
		httpc:   &http.Client{Timeout: gtrendsTimeout},
		feedURL: gtrendsFeedURL,
	}
}

func (g *GoogleTrends) Name() string { return "google_trends" }

// SetFeedURL points the source at a test server.
func (g *GoogleTrends) SetFeedURL(u string) { g.feedURL = u }

type gtrendsFeed struct {
	Channel struct {
		Items []struct {
			Title   string `xml:"title"`
			Traffic string `xml:"approx_traffic"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Fetch returns today's trending search terms. Any failure degrades to
// an empty slice: the feed is a supplementary source and a bad day for
// it never fails the cycle.
func (g *GoogleTrends) Fetch(ctx domain.Context) ([]domain.TrendCandidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.feedURL, nil)
	if err != nil {
		slog.WarnContext(ctx, "google trends request build failed", slog.Any("error", err))
		return nil, nil
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "google trends fetch failed, skipping", slog.Any("error", err))
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "google trends feed unavailable, skipping",
			slog.Int("status", resp.StatusCode))
		return nil, nil
	}

	var feed gtrendsFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		slog.WarnContext(ctx, "google trends feed decode failed, skipping", slog.Any("error", err))
		return nil, nil
	}

	var out []domain.TrendCandidate
	for _, item := range feed.Channel.Items {
		if len(out) >= gtrendsMaxItems {
			break
		}
		term := textx.Truncate(textx.SanitizeText(item.Title), maxTopicLength)
		if term == "" {
			continue
		}
		keywords := ExtractKeywords(term)
		if len(keywords) == 0 {
			keywords = []string{strings.ToLower(term)}
		}
		out = append(out, domain.TrendCandidate{
			Topic:    term,
			Keywords: keywords,
			Source:   g.Name(),
			SourceData: map[string]any{
				"type":           "today_search",
				"term":           term,
				"approx_traffic": item.Traffic,
			},
			ScoreHint: 0,
		})
	}

	slog.InfoContext(ctx, "google trends source fetched candidates", slog.Int("count", len(out)))
	return out, nil
}
