package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devasignhq/contributor-app/internal/config"
)

// NewPool construye y devuelve un pool de conexiones configurado.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	creator_id          TEXT NOT NULL,
	contributor_id      TEXT,
	status              TEXT NOT NULL DEFAULT 'OPEN',
	timeline            DOUBLE PRECISION,
	timeline_type       TEXT,
	accepted_at         TIMESTAMPTZ,
	timeline_updated_at TIMESTAMPTZ,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'GENERAL',
	body        TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	attachments TEXT[] NOT NULL DEFAULT '{}',
	read        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_task_created_idx ON messages (task_id, created_at, id);
CREATE INDEX IF NOT EXISTS messages_task_author_idx ON messages (task_id, user_id, created_at);
`

// EnsureSchema crea las tablas de tareas y mensajes si no existen.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
