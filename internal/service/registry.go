package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
)

var ErrNotParticipant = errors.New("viewer is not a participant of the task")

// TaskSource resuelve la tarea para conocer al otro participante.
type TaskSource interface {
	GetTask(ctx context.Context, taskID string) (domain.Task, error)
}

type RegistryOptions struct {
	Location    *time.Location
	Order       GroupOrder
	WatchBuffer int
	Now         func() time.Time
}

// Registry mantiene una conversacion abierta por viewer. Abrir otra tarea cierra la anterior.
type Registry struct {
	backend MessageBackend
	tasks   TaskSource
	mutator TimelineMutator
	logger  *zap.Logger
	opts    RegistryOptions

	mu   sync.Mutex
	open map[string]*Conversation
}

func NewRegistry(backend MessageBackend, tasks TaskSource, mutator TimelineMutator, logger *zap.Logger, opts RegistryOptions) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		backend: backend,
		tasks:   tasks,
		mutator: mutator,
		logger:  logger,
		opts:    opts,
		open:    make(map[string]*Conversation),
	}
}

// Open devuelve la conversacion del viewer para la tarea, creandola y arrancandola si hace falta.
func (r *Registry) Open(ctx context.Context, viewerID, taskID string) (*Conversation, error) {
	if r == nil || r.backend == nil || r.tasks == nil {
		return nil, ErrServiceNotConfigured
	}
	viewerID = strings.TrimSpace(viewerID)
	taskID = strings.TrimSpace(taskID)
	if viewerID == "" || taskID == "" {
		return nil, ErrConversationInvalid
	}

	r.mu.Lock()
	if c, ok := r.open[viewerID]; ok && c.TaskID() == taskID {
		if st := c.State(); st == StateReady || st == StateLoading {
			r.mu.Unlock()
			return c, nil
		}
	}
	r.mu.Unlock()

	task, err := r.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != viewerID && task.ContributorID != viewerID {
		return nil, ErrNotParticipant
	}

	conv, err := NewConversation(ConversationParams{
		TaskID:         taskID,
		CounterpartyID: task.Counterparty(viewerID),
		ViewerID:       viewerID,
		Backend:        r.backend,
		Mutator:        r.mutator,
		Logger:         r.logger,
		Location:       r.opts.Location,
		Order:          r.opts.Order,
		WatchBuffer:    r.opts.WatchBuffer,
		Now:            r.opts.Now,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.open[viewerID]
	r.open[viewerID] = conv
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	if err := conv.Start(ctx); err != nil {
		r.forget(viewerID, conv)
		return nil, err
	}

	r.mu.Lock()
	current := r.open[viewerID] == conv
	r.mu.Unlock()
	if !current {
		conv.Close()
		return nil, ErrConversationClosed
	}
	return conv, nil
}

// Get devuelve la conversacion abierta del viewer si corresponde a la tarea.
func (r *Registry) Get(viewerID, taskID string) (*Conversation, error) {
	if r == nil {
		return nil, ErrServiceNotConfigured
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.open[strings.TrimSpace(viewerID)]
	if !ok || c.TaskID() != strings.TrimSpace(taskID) {
		return nil, ErrConversationNotStarted
	}
	return c, nil
}

// Close cierra la conversacion abierta del viewer, si la hay.
func (r *Registry) Close(viewerID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	c := r.open[viewerID]
	delete(r.open, viewerID)
	r.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func (r *Registry) CloseAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	convs := make([]*Conversation, 0, len(r.open))
	for viewer, c := range r.open {
		convs = append(convs, c)
		delete(r.open, viewer)
	}
	r.mu.Unlock()
	for _, c := range convs {
		c.Close()
	}
}

func (r *Registry) forget(viewerID string, conv *Conversation) {
	r.mu.Lock()
	if r.open[viewerID] == conv {
		delete(r.open, viewerID)
	}
	r.mu.Unlock()
	conv.Close()
}
