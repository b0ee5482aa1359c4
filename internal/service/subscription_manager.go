package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
)

// ParticipantRole identifica a cual de los dos participantes sigue un listener.
type ParticipantRole string

const (
	RoleCounterparty ParticipantRole = "counterparty"
	RoleViewer       ParticipantRole = "viewer"
)

// HistoryFetcher hace la carga unica del historial de una conversacion.
type HistoryFetcher interface {
	FetchConversationHistory(ctx context.Context, taskID string) ([]domain.Message, error)
}

// SubscribeRequest acota un listener: mensajes de la tarea escritos por AuthorID
// con created_at >= Since.
type SubscribeRequest struct {
	TaskID   string
	AuthorID string
	Since    time.Time
}

// MessageSubscriber abre un listener en vivo. onBatch recibe lotes en orden de llegada;
// onError se invoca una sola vez y el listener queda abandonado. La funcion devuelta
// cancela la suscripcion y debe ser segura de llamar mas de una vez.
type MessageSubscriber interface {
	SubscribeToNewMessages(ctx context.Context, req SubscribeRequest, onBatch func([]domain.Message), onError func(error)) (func(), error)
}

type MessageSender interface {
	SendMessage(ctx context.Context, input domain.CreateMessageInput) (domain.Message, error)
}

type ReadMarker interface {
	MarkMessageRead(ctx context.Context, messageID string) error
}

// MessageBackend agrupa los colaboradores externos que consume una conversacion.
type MessageBackend interface {
	HistoryFetcher
	MessageSubscriber
	MessageSender
	ReadMarker
}

// Cursors guarda el ultimo created_at visto por rol.
type Cursors struct {
	Counterparty time.Time `json:"counterparty"`
	Viewer       time.Time `json:"viewer"`
}

func (c Cursors) For(role ParticipantRole) time.Time {
	if role == RoleViewer {
		return c.Viewer
	}
	return c.Counterparty
}

// advance mueve el cursor del rol hacia adelante; nunca retrocede.
func (c *Cursors) advance(role ParticipantRole, at time.Time) {
	switch role {
	case RoleViewer:
		if at.After(c.Viewer) {
			c.Viewer = at
		}
	default:
		if at.After(c.Counterparty) {
			c.Counterparty = at
		}
	}
}

// DeriveCursors toma el created_at del ultimo mensaje de cada participante.
// Sin mensajes de un rol, su cursor queda en cero (desde el principio).
func DeriveCursors(messages []domain.Message, counterpartyID, viewerID string) Cursors {
	var c Cursors
	for _, m := range messages {
		switch {
		case m.AuthoredBy(counterpartyID):
			c.advance(RoleCounterparty, m.CreatedAt)
		case m.AuthoredBy(viewerID):
			c.advance(RoleViewer, m.CreatedAt)
		}
	}
	return c
}

type listenerHandle struct {
	role    ParticipantRole
	stop    func()
	once    sync.Once
	dropped bool
}

// close corre stop una sola vez; stop se asigna bajo el lock del manager antes de registrar.
func (h *listenerHandle) close() {
	if h.stop != nil {
		h.once.Do(h.stop)
	}
}

// subscriptionManager es dueño de los listeners en vivo de una conversacion,
// a lo sumo uno activo por rol.
type subscriptionManager struct {
	taskID     string
	subscriber MessageSubscriber
	logger     *zap.Logger

	mu      sync.Mutex
	closed  bool
	handles map[ParticipantRole]*listenerHandle
}

func newSubscriptionManager(taskID string, subscriber MessageSubscriber, logger *zap.Logger) *subscriptionManager {
	return &subscriptionManager{
		taskID:     taskID,
		subscriber: subscriber,
		logger:     logger,
		handles:    make(map[ParticipantRole]*listenerHandle),
	}
}

// open abre el listener de un rol. Un error al suscribir se devuelve como
// *SubscriptionError; un error posterior llega por onFailure y el listener se descarta.
func (m *subscriptionManager) open(
	role ParticipantRole,
	authorID string,
	since time.Time,
	onBatch func(ParticipantRole, []domain.Message),
	onFailure func(*SubscriptionError),
) error {
	if m.subscriber == nil {
		return &SubscriptionError{TaskID: m.taskID, Role: role, Err: ErrServiceNotConfigured}
	}
	if authorID == "" {
		m.logger.Info("listener skipped, participant unknown", zap.String("task_id", m.taskID), zap.String("role", string(role)))
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrConversationClosed
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	handle := &listenerHandle{role: role}

	req := SubscribeRequest{TaskID: m.taskID, AuthorID: authorID, Since: since}
	unsubscribe, err := m.subscriber.SubscribeToNewMessages(ctx, req,
		func(batch []domain.Message) {
			if len(batch) == 0 {
				return
			}
			onBatch(role, batch)
		},
		func(err error) {
			m.drop(handle)
			subErr := &SubscriptionError{TaskID: m.taskID, Role: role, Err: err}
			m.logger.Warn("listener dropped", zap.Error(subErr), zap.String("task_id", m.taskID), zap.String("role", string(role)))
			if onFailure != nil {
				onFailure(subErr)
			}
		},
	)
	if err != nil {
		cancel()
		return &SubscriptionError{TaskID: m.taskID, Role: role, Err: err}
	}
	stop := func() {
		if unsubscribe != nil {
			unsubscribe()
		}
		cancel()
	}

	m.mu.Lock()
	handle.stop = stop
	if m.closed || handle.dropped {
		m.mu.Unlock()
		handle.close()
		if m.closed {
			return ErrConversationClosed
		}
		return nil
	}
	prev := m.handles[role]
	m.handles[role] = handle
	m.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	m.logger.Debug("listener opened",
		zap.String("task_id", m.taskID),
		zap.String("role", string(role)),
		zap.Time("since", since),
	)
	return nil
}

func (m *subscriptionManager) drop(handle *listenerHandle) {
	m.mu.Lock()
	handle.dropped = true
	if m.handles[handle.role] == handle {
		delete(m.handles, handle.role)
	}
	stop := handle.stop
	m.mu.Unlock()
	if stop != nil {
		handle.once.Do(stop)
	}
}

// active devuelve los roles con listener vivo.
func (m *subscriptionManager) active() []ParticipantRole {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make([]ParticipantRole, 0, len(m.handles))
	for _, role := range []ParticipantRole{RoleCounterparty, RoleViewer} {
		if _, ok := m.handles[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// close desuscribe todos los listeners. Es idempotente.
func (m *subscriptionManager) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	handles := make([]*listenerHandle, 0, len(m.handles))
	for role, h := range m.handles {
		handles = append(handles, h)
		delete(m.handles, role)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
}
