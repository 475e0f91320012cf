// Package trendsource fetches raw trend candidates from public
// upstreams: Reddit's unauthenticated JSON API and the Google Trends
// RSS feed. Both degrade gracefully, a failed upstream yields an empty
// slice rather than an error for the cycle.
package trendsource

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/pkg/textx"
)

const (
	redditBaseURL = "https://www.reddit.com"
	redditTimeout = 10 * time.Second

	postsPerSubreddit = 25
	maxTopicLength    = 500
	maxSelftextLength = 1000
)

// Reddit polls hot posts from the configured subreddits. Unauthenticated
// access allows roughly ten requests a minute, far above what a
// two-hour poll cycle needs.
type Reddit struct {
	httpc      *http.Client
	baseURL    string
	userAgent  string
	subreddits []string
}

func NewReddit(userAgent string, subreddits []string) *Reddit {
	return &Reddit{
		httpc:      &http.Client{Timeout: redditTimeout},
		baseURL:    redditBaseURL,
		userAgent:  userAgent,
		subreddits: subreddits,
	}
}

func (r *Reddit) Name() string { return "reddit" }

// SetBaseURL points the source at a test server.
func (r *Reddit) SetBaseURL(u string) { r.baseURL = u }

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	Selftext    string  `json:"selftext"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Fetch walks every configured subreddit and returns candidates sorted
// most-upvoted first. A subreddit that fails is logged and skipped.
func (r *Reddit) Fetch(ctx domain.Context) ([]domain.TrendCandidate, error) {
	var out []domain.TrendCandidate
	for _, sub := range r.subreddits {
		posts, err := r.fetchHot(ctx, sub)
		if err != nil {
			slog.WarnContext(ctx, "reddit subreddit fetch failed, skipping",
				slog.String("subreddit", sub), slog.Any("error", err))
			continue
		}
		for _, p := range posts {
			title := textx.Truncate(textx.SanitizeText(p.Title), maxTopicLength)
			body := textx.Truncate(textx.SanitizeText(p.Selftext), maxSelftextLength)
			keywords := ExtractKeywords(title + " " + body)
			if title == "" || len(keywords) == 0 {
				continue
			}
			out = append(out, domain.TrendCandidate{
				Topic:    title,
				Keywords: keywords,
				Source:   r.Name(),
				SourceData: map[string]any{
					"reddit_id":    p.ID,
					"subreddit":    sub,
					"score":        p.Score,
					"upvote_ratio": p.UpvoteRatio,
					"num_comments": p.NumComments,
				},
				ScoreHint: float64(p.Score),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ScoreHint > out[j].ScoreHint })
	slog.InfoContext(ctx, "reddit source fetched candidates", slog.Int("count", len(out)))
	return out, nil
}

func (r *Reddit) fetchHot(ctx domain.Context, subreddit string) ([]redditPost, error) {
	u := fmt.Sprintf("%s/r/%s/hot.json?%s", r.baseURL, subreddit,
		url.Values{"limit": {fmt.Sprint(postsPerSubreddit)}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("op=trendsource.fetchHot: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, domain.Fail(domain.KindAPIError, r.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.Failf(domain.KindRateLimit, r.Name(), "r/%s 429", subreddit)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Failf(domain.KindAPIError, r.Name(), "r/%s status %d", subreddit, resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, domain.Failf(domain.KindProcessingError, r.Name(), "decode r/%s: %v", subreddit, err)
	}

	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		posts = append(posts, c.Data)
	}
	return posts, nil
}
