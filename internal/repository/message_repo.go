package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devasignhq/contributor-app/internal/domain"
)

var ErrMessageNotFound = errors.New("message not found")

type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	ListByTaskID(ctx context.Context, taskID string) ([]domain.Message, error)
	ListSince(ctx context.Context, taskID, authorID string, since time.Time) ([]domain.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	CountUnread(ctx context.Context, taskID, viewerID string) (int, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

const messageColumns = `id, user_id, task_id, kind, body, metadata, attachments, read, created_at, updated_at`

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, user_id, task_id, kind, body, metadata, attachments, read, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var metadata []byte
	if message.Metadata != nil {
		raw, err := json.Marshal(message.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}
	attachments := message.Attachments
	if attachments == nil {
		attachments = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.UserID,
		message.TaskID,
		string(message.Kind),
		message.Body,
		metadata,
		attachments,
		message.Read,
		message.CreatedAt,
		message.UpdatedAt,
	)
	return err
}

func (r *PgMessageRepository) ListByTaskID(ctx context.Context, taskID string) ([]domain.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE task_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListSince incluye el borde (>=) para que el solapamiento con el cursor lo absorba el merge.
func (r *PgMessageRepository) ListSince(ctx context.Context, taskID, authorID string, since time.Time) ([]domain.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE task_id = $1 AND user_id = $2 AND created_at >= $3
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID, authorID, since)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (r *PgMessageRepository) MarkRead(ctx context.Context, messageID string) error {
	const query = `
		UPDATE messages
		SET read = TRUE, updated_at = $2
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, messageID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *PgMessageRepository) CountUnread(ctx context.Context, taskID, viewerID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE task_id = $1 AND user_id <> $2 AND read = FALSE
	`
	var count int
	err := r.pool.QueryRow(ctx, query, taskID, viewerID).Scan(&count)
	return count, err
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg      domain.Message
			kind     string
			metadata []byte
		)
		err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.TaskID,
			&kind,
			&msg.Body,
			&metadata,
			&msg.Attachments,
			&msg.Read,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		msg.Kind = domain.MessageKind(kind)
		if len(metadata) > 0 {
			var meta domain.MessageMetadata
			if err := json.Unmarshal(metadata, &meta); err != nil {
				return nil, err
			}
			msg.Metadata = &meta
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		msg.UpdatedAt = msg.UpdatedAt.UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
