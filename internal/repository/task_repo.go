package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devasignhq/contributor-app/internal/domain"
)

type TaskRepository interface {
	GetTask(ctx context.Context, taskID string) (domain.Task, error)
	Upsert(ctx context.Context, task domain.Task) error
	UpdateTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) (bool, error)
}

type PgTaskRepository struct {
	pool *pgxpool.Pool
}

func NewPgTaskRepository(pool *pgxpool.Pool) *PgTaskRepository {
	return &PgTaskRepository{pool: pool}
}

func (r *PgTaskRepository) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	const query = `
		SELECT id, creator_id, contributor_id, status, timeline, timeline_type,
		       accepted_at, timeline_updated_at, updated_at
		FROM tasks
		WHERE id = $1
	`
	var (
		task              domain.Task
		contributorID     *string
		unit              *string
		magnitude         *float64
		timelineUpdatedAt *time.Time
	)
	err := r.pool.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&task.CreatorID,
		&contributorID,
		&task.Status,
		&magnitude,
		&unit,
		&task.AcceptedAt,
		&timelineUpdatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	if contributorID != nil {
		task.ContributorID = *contributorID
	}
	if magnitude != nil && unit != nil {
		task.Timeline = domain.Timeline{Magnitude: *magnitude, Unit: domain.TimelineUnit(*unit)}
	}
	if timelineUpdatedAt != nil {
		task.TimelineUpdatedAt = timelineUpdatedAt.UTC()
	}
	return task, nil
}

func (r *PgTaskRepository) Upsert(ctx context.Context, task domain.Task) error {
	const query = `
		INSERT INTO tasks (id, creator_id, contributor_id, status, timeline, timeline_type,
		                   accepted_at, timeline_updated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			creator_id = EXCLUDED.creator_id,
			contributor_id = EXCLUDED.contributor_id,
			status = EXCLUDED.status,
			accepted_at = EXCLUDED.accepted_at,
			updated_at = EXCLUDED.updated_at
	`

	var contributorID, unit interface{}
	var magnitude interface{}
	if task.ContributorID != "" {
		contributorID = task.ContributorID
	}
	if !task.Timeline.IsZero() {
		magnitude = task.Timeline.Magnitude
		unit = string(task.Timeline.Unit)
	}
	var timelineUpdatedAt interface{}
	if !task.TimelineUpdatedAt.IsZero() {
		timelineUpdatedAt = task.TimelineUpdatedAt
	}
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.CreatorID,
		contributorID,
		task.Status,
		magnitude,
		unit,
		task.AcceptedAt,
		timelineUpdatedAt,
		updatedAt,
	)
	return err
}

// UpdateTimeline aplica last-writer-wins: solo escribe si at es posterior al ultimo cambio.
// Devuelve false cuando la fila ya tenia un timeline mas nuevo o no existe.
func (r *PgTaskRepository) UpdateTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) (bool, error) {
	const query = `
		UPDATE tasks
		SET timeline = $2, timeline_type = $3, timeline_updated_at = $4, updated_at = $5
		WHERE id = $1 AND (timeline_updated_at IS NULL OR timeline_updated_at < $4)
	`
	tag, err := r.pool.Exec(ctx, query,
		taskID,
		timeline.Magnitude,
		string(timeline.Unit),
		at,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
