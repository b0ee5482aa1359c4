package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/config"
	"github.com/devasignhq/contributor-app/internal/db"
	"github.com/devasignhq/contributor-app/internal/feed"
	"github.com/devasignhq/contributor-app/internal/firestore"
	"github.com/devasignhq/contributor-app/internal/repository"
	"github.com/devasignhq/contributor-app/internal/service"
	"github.com/devasignhq/contributor-app/internal/taskapi"
)

// UnreadCounter lo implementan ambos backends.
type UnreadCounter interface {
	CountUnread(ctx context.Context, taskID, viewerID string) (int, error)
}

// Services agrupa lo que necesitan los binarios para abrir conversaciones.
type Services struct {
	Backend  service.MessageBackend
	Unread   UnreadCounter
	Board    *service.TaskBoard
	Registry *service.Registry
	Limiter  service.SendRateLimiter
	TaskAPI  *taskapi.Client
	Redis    *redis.Client

	closers []func()
}

// Close libera conexiones en orden inverso al de apertura.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Registry != nil {
		s.Registry.CloseAll()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Build arma backend, tablero de tareas, registry y rate limiter segun la config.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Services{}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		s.closers = append(s.closers, p.Close)
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = db.Ping(ctxPing, p)
		cancel()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := db.EnsureSchema(ctx, p); err != nil {
			s.Close()
			return nil, fmt.Errorf("db schema: %w", err)
		}
		pool = p
	}

	if cfg.RedisAddr != "" {
		s.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s.closers = append(s.closers, func() { _ = s.Redis.Close() })
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.Redis.Ping(ctxPing).Err()
		cancel()
		if err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		}
	}

	switch cfg.MessageBackend {
	case config.BackendFirestore:
		store, err := firestore.NewStore(ctx, cfg.FirestoreProjectID, cfg.FirestoreMessagesCollection, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = store.Close() })
		s.Backend = store
		s.Unread = store
	default:
		if pool == nil || s.Redis == nil {
			s.Close()
			return nil, fmt.Errorf("%w: postgres backend needs DATABASE_URL and REDIS_ADDR", config.ErrInvalidConfig)
		}
		f := feed.NewRedisFeed(s.Redis, repository.NewPgMessageRepository(pool), logger)
		s.Backend = f
		s.Unread = f
	}

	var (
		loader service.TaskLoader
		writer service.TimelineWriter
	)
	if pool != nil {
		taskRepo := repository.NewPgTaskRepository(pool)
		loader = taskRepo
		writer = taskRepo
	}
	if cfg.TaskAPIBaseURL != "" {
		s.TaskAPI = taskapi.NewClient(cfg.TaskAPIBaseURL, cfg.TaskAPIToken, cfg.TaskAPITimeout(), logger)
		loader = s.TaskAPI
	}
	if loader == nil {
		logger.Warn("no task source configured; conversations cannot be opened")
	}
	s.Board = service.NewTaskBoard(loader, writer, logger)

	loc, err := cfg.Location()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Registry = service.NewRegistry(s.Backend, s.Board, s.Board, logger, service.RegistryOptions{
		Location:    loc,
		Order:       service.ParseGroupOrder(cfg.GroupOrder),
		WatchBuffer: cfg.WatchBuffer,
	})

	if s.Redis != nil {
		s.Limiter = service.NewRedisSendRateLimiter(s.Redis, cfg.SendRateLimitWindow(), cfg.SendRateLimitMax)
	} else {
		s.Limiter = service.NewSendRateLimiter(cfg.SendRateLimitWindow(), cfg.SendRateLimitMax)
	}
	return s, nil
}
