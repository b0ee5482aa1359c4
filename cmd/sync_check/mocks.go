package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devasignhq/contributor-app/internal/domain"
	"github.com/devasignhq/contributor-app/internal/service"
)

// --- Backend en memoria para las corridas ---

type memoryBackend struct {
	mu        sync.Mutex
	history   []domain.Message
	listeners map[string]func([]domain.Message)
	sent      int
	clock     time.Time
}

func newMemoryBackend(clock time.Time, history ...domain.Message) *memoryBackend {
	return &memoryBackend{
		history:   history,
		listeners: make(map[string]func([]domain.Message)),
		clock:     clock,
	}
}

func (m *memoryBackend) FetchConversationHistory(ctx context.Context, taskID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, 0, len(m.history))
	for _, msg := range m.history {
		if msg.TaskID == taskID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memoryBackend) SubscribeToNewMessages(ctx context.Context, req service.SubscribeRequest, onBatch func([]domain.Message), onError func(error)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[req.AuthorID] = onBatch
	return func() {
		m.mu.Lock()
		delete(m.listeners, req.AuthorID)
		m.mu.Unlock()
	}, nil
}

func (m *memoryBackend) SendMessage(ctx context.Context, input domain.CreateMessageInput) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	at := m.clock.Add(time.Duration(m.sent) * time.Second)
	msg := domain.Message{
		ID:          fmt.Sprintf("local-%d", m.sent),
		UserID:      input.UserID,
		TaskID:      input.TaskID,
		Kind:        input.Kind,
		Body:        input.Body,
		Metadata:    input.Metadata,
		Attachments: input.Attachments,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	m.history = append(m.history, msg)
	return msg, nil
}

func (m *memoryBackend) MarkMessageRead(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.history {
		if m.history[i].ID == messageID {
			m.history[i].Read = true
			return nil
		}
	}
	return service.ErrMessageNotFound
}

// deliver simula un lote que llega por el listener del autor indicado.
func (m *memoryBackend) deliver(authorID string, batch ...domain.Message) error {
	m.mu.Lock()
	onBatch := m.listeners[authorID]
	m.mu.Unlock()
	if onBatch == nil {
		return fmt.Errorf("no listener for %s", authorID)
	}
	onBatch(batch)
	return nil
}

// --- Tareas en memoria ---

type memoryTasks struct {
	tasks map[string]domain.Task
}

func (m *memoryTasks) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

// countingMutator cuenta cuantas veces se proyecto un timeline sobre la tarea.
type countingMutator struct {
	mu    sync.Mutex
	next  service.TimelineMutator
	calls int
}

func (m *countingMutator) MutateTaskTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.next.MutateTaskTimeline(ctx, taskID, timeline, at)
}

func (m *countingMutator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
