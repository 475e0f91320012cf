package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stickertrendz/pipeline/internal/domain"
	"github.com/stickertrendz/pipeline/internal/service/ledger"
)

type stubErrorRepo struct {
	insertErr  error
	resolveErr error
	recentErr  error
	recent     []domain.ErrorEntry
	inserted   []domain.ErrorEntry
	resolved   []string
	nextID     int
}

func (r *stubErrorRepo) Insert(_ domain.Context, e domain.ErrorEntry) (string, error) {
	if r.insertErr != nil {
		return "", r.insertErr
	}
	r.inserted = append(r.inserted, e)
	r.nextID++
	return fmt.Sprintf("err-%d", r.nextID), nil
}
func (r *stubErrorRepo) Resolve(_ domain.Context, id string) error {
	if r.resolveErr != nil {
		return r.resolveErr
	}
	r.resolved = append(r.resolved, id)
	return nil
}
func (r *stubErrorRepo) Recent(_ domain.Context, _ string, limit int) ([]domain.ErrorEntry, error) {
	if r.recentErr != nil {
		return nil, r.recentErr
	}
	if limit > len(r.recent) {
		limit = len(r.recent)
	}
	return r.recent[:limit], nil
}

func (r *stubErrorRepo) DeleteOlderThan(_ domain.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func TestErrorsLog_RedactsBeforeInsert(t *testing.T) {
	t.Parallel()
	repo := &stubErrorRepo{}
	errs := ledger.NewErrors(repo)

	id := errs.Log(context.Background(), domain.ErrorEntry{
		Workflow: "analytics_sync",
		Step:     "order_sync",
		Kind:     domain.KindAPIError,
		Message:  "request failed: Bearer abcdef0123456789ABCDEF",
		Service:  "etsy",
		Context: map[string]any{
			"customer_email": "a@b.com",
			"endpoint":       "/v1/orders",
		},
	})
	assert.Equal(t, "err-1", id)

	require.Len(t, repo.inserted, 1)
	got := repo.inserted[0]
	assert.Equal(t, "request failed: [REDACTED]", got.Message)
	assert.NotContains(t, got.Message, "abcdef")
	assert.NotContains(t, got.Context, "customer_email")
	assert.Equal(t, "/v1/orders", got.Context["endpoint"])
	assert.False(t, got.Resolved)
}

func TestErrorsLog_WriteFailureReturnsEmptyID(t *testing.T) {
	t.Parallel()
	repo := &stubErrorRepo{insertErr: fmt.Errorf("connection refused")}
	errs := ledger.NewErrors(repo)

	id := errs.Log(context.Background(), domain.ErrorEntry{
		Workflow: "trend_monitor",
		Step:     "scoring",
		Kind:     domain.KindTimeout,
		Message:  "deadline exceeded",
	})
	assert.Empty(t, id)
}

func TestErrorsResolve(t *testing.T) {
	t.Parallel()
	repo := &stubErrorRepo{}
	errs := ledger.NewErrors(repo)

	require.NoError(t, errs.Resolve(context.Background(), "err-9"))
	assert.Equal(t, []string{"err-9"}, repo.resolved)

	repo.resolveErr = fmt.Errorf("row missing")
	assert.Error(t, errs.Resolve(context.Background(), "err-10"))
}

func TestConsecutiveFailures(t *testing.T) {
	t.Parallel()
	unresolved := domain.ErrorEntry{Resolved: false}
	resolved := domain.ErrorEntry{Resolved: true}

	cases := []struct {
		name   string
		recent []domain.ErrorEntry
		err    error
		n      int
		want   bool
	}{
		{name: "all unresolved", recent: []domain.ErrorEntry{unresolved, unresolved, unresolved}, n: 3, want: true},
		{name: "one resolved", recent: []domain.ErrorEntry{unresolved, resolved, unresolved}, n: 3, want: false},
		{name: "too few rows", recent: []domain.ErrorEntry{unresolved, unresolved}, n: 3, want: false},
		{name: "read failure", err: fmt.Errorf("timeout"), n: 3, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			repo := &stubErrorRepo{recent: tc.recent, recentErr: tc.err}
			errs := ledger.NewErrors(repo)
			assert.Equal(t, tc.want, errs.ConsecutiveFailures(context.Background(), "fulfillment", tc.n))
		})
	}
}

func TestErrorsRecent(t *testing.T) {
	t.Parallel()
	repo := &stubErrorRepo{recent: []domain.ErrorEntry{
		{Workflow: "pricing_engine", Step: "reprice"},
		{Workflow: "pricing_engine", Step: "archive"},
	}}
	errs := ledger.NewErrors(repo)

	rows, err := errs.Recent(context.Background(), "pricing_engine", 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	repo.recentErr = fmt.Errorf("unavailable")
	_, err = errs.Recent(context.Background(), "pricing_engine", 2)
	assert.Error(t, err)
}
