package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
)

// TaskLoader obtiene una tarea del dueño externo (REST o Postgres).
type TaskLoader interface {
	GetTask(ctx context.Context, taskID string) (domain.Task, error)
}

// TimelineWriter persiste el timeline; devuelve false si el valor guardado ya es mas nuevo.
type TimelineWriter interface {
	UpdateTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) (bool, error)
}

// TaskBoard es el dueño local del estado de timeline de las tareas abiertas.
// Aplica last-writer-wins por timestamp y nunca retrocede.
type TaskBoard struct {
	loader TaskLoader
	writer TimelineWriter
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	tasks map[string]domain.Task
}

func NewTaskBoard(loader TaskLoader, writer TimelineWriter, logger *zap.Logger) *TaskBoard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskBoard{
		loader: loader,
		writer: writer,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		tasks:  make(map[string]domain.Task),
	}
}

// Put carga una tarea conocida sin pasar por el loader.
func (b *TaskBoard) Put(task domain.Task) {
	if b == nil || strings.TrimSpace(task.ID) == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[task.ID] = task
}

func (b *TaskBoard) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	if b == nil {
		return domain.Task{}, ErrServiceNotConfigured
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return domain.Task{}, domain.ErrTaskNotFound
	}

	b.mu.RLock()
	task, ok := b.tasks[taskID]
	b.mu.RUnlock()
	if ok {
		return task, nil
	}
	if b.loader == nil {
		return domain.Task{}, domain.ErrTaskNotFound
	}

	task, err := b.loader.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cached, ok := b.tasks[taskID]; ok {
		return cached, nil
	}
	b.tasks[taskID] = task
	return task, nil
}

// MutateTaskTimeline aplica un timeline aceptado. Una mutacion con timestamp igual
// o anterior al ultimo aplicado se ignora sin error.
func (b *TaskBoard) MutateTaskTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) error {
	if b == nil {
		return ErrServiceNotConfigured
	}
	task, err := b.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if !at.After(task.TimelineUpdatedAt) {
		b.logger.Debug("stale timeline mutation ignored",
			zap.String("task_id", taskID),
			zap.Time("at", at),
			zap.Time("current", task.TimelineUpdatedAt),
		)
		return nil
	}

	if b.writer != nil {
		applied, err := b.writer.UpdateTimeline(ctx, taskID, timeline, at)
		if err != nil {
			return fmt.Errorf("persist timeline %s: %w", taskID, err)
		}
		if !applied {
			b.logger.Debug("stored timeline is newer", zap.String("task_id", taskID), zap.Time("at", at))
			return nil
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.tasks[taskID]
	if !ok {
		current = task
	}
	if !at.After(current.TimelineUpdatedAt) {
		return nil
	}
	current.Timeline = timeline
	current.TimelineUpdatedAt = at
	current.UpdatedAt = b.now()
	b.tasks[taskID] = current
	return nil
}

// TimeLeft proyecta el tiempo restante de la tarea en el instante now.
func (b *TaskBoard) TimeLeft(ctx context.Context, taskID string, now time.Time) (domain.TimeLeft, error) {
	task, err := b.GetTask(ctx, taskID)
	if err != nil {
		return domain.TimeLeft{}, err
	}
	return task.TimeLeft(now), nil
}
