package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// TrendRepo persists canonical trends. topic_normalized carries a unique
// index; collisions surface as domain.ErrConflict so the caller can fall
// back to a source-union update.
type TrendRepo struct{ Pool PgxPool }

func NewTrendRepo(p PgxPool) *TrendRepo { return &TrendRepo{Pool: p} }

const trendColumns = `id, topic, topic_normalized, sources, keywords,
	score_velocity, score_commercial, score_safety, score_uniqueness,
	score_overall, status, source_data, created_at, updated_at`

func scanTrend(row pgx.Row) (domain.Trend, error) {
	var t domain.Trend
	err := row.Scan(&t.ID, &t.Topic, &t.NormalizedTopic, &t.Sources, &t.Keywords,
		&t.VelocityScore, &t.CommercialScore, &t.SafetyScore, &t.UniquenessScore,
		&t.OverallScore, &t.Status, &t.SourceData, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Insert stores a new trend and returns its id.
func (r *TrendRepo) Insert(ctx domain.Context, t domain.Trend) (string, error) {
	tracer := otel.Tracer("repo.trends")
	ctx, span := tracer.Start(ctx, "trends.Insert")
	defer span.End()
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO trends (id, topic, topic_normalized, sources, keywords,
		score_velocity, score_commercial, score_safety, score_uniqueness,
		score_overall, status, source_data, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := r.Pool.Exec(ctx, q, id, t.Topic, t.NormalizedTopic, t.Sources, t.Keywords,
		t.VelocityScore, t.CommercialScore, t.SafetyScore, t.UniquenessScore,
		t.OverallScore, t.Status, t.SourceData, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("op=trends.insert topic=%s: %w", t.NormalizedTopic, domain.ErrConflict)
		}
		return "", fmt.Errorf("op=trends.insert: %w", err)
	}
	return id, nil
}

// GetByNormalizedTopic loads the canonical row for a dedup key.
func (r *TrendRepo) GetByNormalizedTopic(ctx domain.Context, normalized string) (domain.Trend, error) {
	tracer := otel.Tracer("repo.trends")
	ctx, span := tracer.Start(ctx, "trends.GetByNormalizedTopic")
	defer span.End()
	q := `SELECT ` + trendColumns + ` FROM trends WHERE topic_normalized=$1`
	t, err := scanTrend(r.Pool.QueryRow(ctx, q, normalized))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trend{}, fmt.Errorf("op=trends.get_normalized: %w", domain.ErrNotFound)
		}
		return domain.Trend{}, fmt.Errorf("op=trends.get_normalized: %w", err)
	}
	return t, nil
}

// Get loads a trend by id.
func (r *TrendRepo) Get(ctx domain.Context, id string) (domain.Trend, error) {
	tracer := otel.Tracer("repo.trends")
	ctx, span := tracer.Start(ctx, "trends.Get")
	defer span.End()
	q := `SELECT ` + trendColumns + ` FROM trends WHERE id=$1`
	t, err := scanTrend(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trend{}, fmt.Errorf("op=trends.get: %w", domain.ErrNotFound)
		}
		return domain.Trend{}, fmt.Errorf("op=trends.get: %w", err)
	}
	return t, nil
}

// ListByStatus returns all trends in a lifecycle status, oldest first so
// the generation queue is served in discovery order.
func (r *TrendRepo) ListByStatus(ctx domain.Context, status domain.TrendStatus) ([]domain.Trend, error) {
	tracer := otel.Tracer("repo.trends")
	ctx, span := tracer.Start(ctx, "trends.ListByStatus")
	defer span.End()
	q := `SELECT ` + trendColumns + ` FROM trends WHERE status=$1 ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, status)
	if err != nil {
		return nil, fmt.Errorf("op=trends.list_by_status: %w", err)
	}
	defer rows.Close()
	var out []domain.Trend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, fmt.Errorf("op=trends.list_by_status: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateStatus moves a trend through its lifecycle.
func (r *TrendRepo) UpdateStatus(ctx domain.Context, id string, status domain.TrendStatus) error {
	tracer := otel.Tracer("repo.trends")
	ctx, span := tracer.Start(ctx, "trends.UpdateStatus")
	defer span.End()
	q := `UPDATE trends SET status=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=trends.update_status: %w", err)
	}
	return nil
}

// UpdateSources replaces the source set on an existing row; used when a
// re-discovered topic arrives from a new source.
func (r *TrendRepo) UpdateSources(ctx domain.Context, id string, sources []string) error {
	tracer := otel.Tracer("repo.trends")
	ctx, span := tracer.Start(ctx, "trends.UpdateSources")
	defer span.End()
	q := `UPDATE trends SET sources=$2, updated_at=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, sources, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=trends.update_sources: %w", err)
	}
	return nil
}

// UpdateScores stores the four scoring dimensions and the composite.
func (r *TrendRepo) UpdateScores(ctx domain.Context, id string, s domain.TopicScore, overall float64) error {
	tracer := otel.Tracer("repo.trends")
	ctx, span := tracer.Start(ctx, "trends.UpdateScores")
	defer span.End()
	q := `UPDATE trends SET score_velocity=$2, score_commercial=$3, score_safety=$4,
		score_uniqueness=$5, score_overall=$6, updated_at=$7 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, s.Velocity, s.Commercial, s.Safety, s.Uniqueness,
		overall, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=trends.update_scores: %w", err)
	}
	return nil
}
