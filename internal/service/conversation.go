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

type EventKind string

const (
	EventMerged            EventKind = "merged"
	EventRead              EventKind = "read"
	EventTimelineRequested EventKind = "timeline_requested"
	EventTimelineAccepted  EventKind = "timeline_accepted"
	EventTimelineRejected  EventKind = "timeline_rejected"
	EventListenerFailed    EventKind = "listener_failed"
	EventLoadFailed        EventKind = "load_failed"
)

// MergeEvent describe un cambio observable de la conversacion.
type MergeEvent struct {
	Kind        EventKind        `json:"kind"`
	TaskID      string           `json:"task_id"`
	Role        ParticipantRole  `json:"role,omitempty"`
	Messages    []domain.Message `json:"messages,omitempty"`
	Negotiation *Negotiation     `json:"negotiation,omitempty"`
	Error       string           `json:"error,omitempty"`
}

type ConversationState string

const (
	StateIdle    ConversationState = "idle"
	StateLoading ConversationState = "loading"
	StateReady   ConversationState = "ready"
	StateFailed  ConversationState = "failed"
	StateClosed  ConversationState = "closed"
)

const defaultWatchBuffer = 64

type ConversationParams struct {
	TaskID         string
	CounterpartyID string
	ViewerID       string
	Backend        MessageBackend
	Mutator        TimelineMutator
	Logger         *zap.Logger
	Location       *time.Location
	Order          GroupOrder
	WatchBuffer    int
	Now            func() time.Time
}

// SendInput es lo que el viewer envia; el resto del payload lo completa la conversacion.
type SendInput struct {
	Body        string
	Attachments []string
	Kind        domain.MessageKind
	Metadata    *domain.MessageMetadata
}

// Conversation sincroniza el historial de una tarea con sus dos listeners en vivo.
// Todas las escrituras al store pasan por el mismo lock.
type Conversation struct {
	taskID         string
	counterpartyID string
	viewerID       string

	backend     MessageBackend
	logger      *zap.Logger
	loc         *time.Location
	order       GroupOrder
	buffer      int
	now         func() time.Time
	interpreter *TimelineInterpreter
	tracker     *ReadTracker
	subs        *subscriptionManager

	mu          sync.Mutex
	state       ConversationState
	messages    []domain.Message
	cursors     Cursors
	watchers    map[int]chan MergeEvent
	nextWatcher int
}

func NewConversation(p ConversationParams) (*Conversation, error) {
	p.TaskID = strings.TrimSpace(p.TaskID)
	p.ViewerID = strings.TrimSpace(p.ViewerID)
	p.CounterpartyID = strings.TrimSpace(p.CounterpartyID)
	if p.Backend == nil {
		return nil, ErrServiceNotConfigured
	}
	if p.TaskID == "" || p.ViewerID == "" {
		return nil, ErrConversationInvalid
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	if p.Order == "" {
		p.Order = NewestFirst
	}
	if p.WatchBuffer <= 0 {
		p.WatchBuffer = defaultWatchBuffer
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	logger := p.Logger.With(zap.String("task_id", p.TaskID), zap.String("viewer_id", p.ViewerID))
	return &Conversation{
		taskID:         p.TaskID,
		counterpartyID: p.CounterpartyID,
		viewerID:       p.ViewerID,
		backend:        p.Backend,
		logger:         logger,
		loc:            p.Location,
		order:          p.Order,
		buffer:         p.WatchBuffer,
		now:            p.Now,
		interpreter:    NewTimelineInterpreter(p.TaskID, p.Mutator, logger),
		tracker:        NewReadTracker(p.ViewerID),
		subs:           newSubscriptionManager(p.TaskID, p.Backend, logger),
		state:          StateIdle,
		watchers:       make(map[int]chan MergeEvent),
	}, nil
}

func (c *Conversation) TaskID() string         { return c.taskID }
func (c *Conversation) ViewerID() string       { return c.viewerID }
func (c *Conversation) CounterpartyID() string { return c.counterpartyID }

// Start carga el historial, deriva los cursores y abre los dos listeners.
// Un resultado que llega despues de Close se descarta.
func (c *Conversation) Start(ctx context.Context) error {
	if c == nil || c.backend == nil {
		return ErrServiceNotConfigured
	}

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrConversationClosed
	case StateLoading, StateReady:
		c.mu.Unlock()
		return nil
	}
	c.state = StateLoading
	c.mu.Unlock()

	started := time.Now()
	history, err := c.backend.FetchConversationHistory(ctx, c.taskID)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		c.logger.Info("history discarded, conversation closed")
		return ErrConversationClosed
	}
	if err != nil {
		c.state = StateFailed
		loadErr := &LoadError{TaskID: c.taskID, Err: err}
		c.emitLocked(MergeEvent{Kind: EventLoadFailed, TaskID: c.taskID, Error: err.Error()})
		c.mu.Unlock()
		c.logger.Error("load conversation failed", zap.Error(err))
		return loadErr
	}

	merged, _ := mergeMessages(c.messages, c.ownMessages(history))
	c.messages = merged
	c.cursors = DeriveCursors(merged, c.counterpartyID, c.viewerID)
	c.interpreter.Seed(merged)
	c.state = StateReady
	cursors := c.cursors
	c.emitLocked(MergeEvent{Kind: EventMerged, TaskID: c.taskID, Messages: cloneMessages(merged)})
	c.mu.Unlock()

	c.logger.Info("conversation loaded",
		zap.Int("messages", len(merged)),
		zap.Duration("elapsed", time.Since(started)),
	)

	c.openListener(RoleCounterparty, c.counterpartyID, cursors.Counterparty)
	c.openListener(RoleViewer, c.viewerID, cursors.Viewer)
	return nil
}

func (c *Conversation) openListener(role ParticipantRole, authorID string, since time.Time) {
	err := c.subs.open(role, authorID, since, c.ingest, c.listenerFailed)
	if err == nil || errors.Is(err, ErrConversationClosed) {
		return
	}
	c.logger.Warn("listener not opened", zap.Error(err), zap.String("role", string(role)))
	c.emit(MergeEvent{Kind: EventListenerFailed, TaskID: c.taskID, Role: role, Error: err.Error()})
}

func (c *Conversation) listenerFailed(err *SubscriptionError) {
	c.emit(MergeEvent{Kind: EventListenerFailed, TaskID: c.taskID, Role: err.Role, Error: err.Err.Error()})
}

// ingest es el unico punto de entrada de mensajes nuevos: listeners y envios propios.
func (c *Conversation) ingest(role ParticipantRole, batch []domain.Message) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	merged, added := mergeMessages(c.messages, c.ownMessages(batch))
	if len(added) == 0 {
		c.mu.Unlock()
		return
	}
	c.messages = merged
	for _, m := range added {
		switch {
		case m.AuthoredBy(c.counterpartyID):
			c.cursors.advance(RoleCounterparty, m.CreatedAt)
		case m.AuthoredBy(c.viewerID):
			c.cursors.advance(RoleViewer, m.CreatedAt)
		}
	}
	c.emitLocked(MergeEvent{Kind: EventMerged, TaskID: c.taskID, Role: role, Messages: cloneMessages(added)})
	c.mu.Unlock()

	c.emit(c.interpreter.Apply(context.Background(), added)...)
}

// ownMessages descarta mensajes de otra tarea que un backend pudiera entregar tarde.
func (c *Conversation) ownMessages(batch []domain.Message) []domain.Message {
	out := batch[:0:0]
	for _, m := range batch {
		if m.TaskID != "" && m.TaskID != c.taskID {
			c.logger.Warn("message for another task ignored", zap.String("message_id", m.ID), zap.String("message_task_id", m.TaskID))
			continue
		}
		out = append(out, m)
	}
	return out
}

// Send envia un mensaje del viewer. El estado local solo cambia si el backend confirma.
func (c *Conversation) Send(ctx context.Context, in SendInput) (domain.Message, error) {
	if c == nil || c.backend == nil {
		return domain.Message{}, ErrServiceNotConfigured
	}

	in.Body = strings.TrimSpace(in.Body)
	if in.Kind == "" {
		in.Kind = domain.MessageKindGeneral
	}
	attachments := make([]string, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		if a = strings.TrimSpace(a); a != "" {
			attachments = append(attachments, a)
		}
	}
	switch in.Kind {
	case domain.MessageKindGeneral:
		if in.Body == "" && len(attachments) == 0 {
			return domain.Message{}, ErrEmptyMessage
		}
		in.Metadata = nil
	case domain.MessageKindTimelineRequest:
		if in.Metadata == nil {
			return domain.Message{}, domain.ErrInvalidTimeline
		}
		if err := in.Metadata.Timeline().Validate(); err != nil {
			return domain.Message{}, err
		}
	default:
		return domain.Message{}, ErrConversationInvalid
	}

	if err := c.requireReady(); err != nil {
		return domain.Message{}, err
	}
	// Una respuesta solo contesta una solicitud pendiente de la contraparte.
	if in.Kind == domain.MessageKindTimelineRequest && in.Metadata.Outcome != domain.OutcomePending {
		if !c.interpreter.pendingFrom(c.counterpartyID, in.Metadata.Timeline()) {
			return domain.Message{}, ErrNoPendingRequest
		}
	}

	msg, err := c.backend.SendMessage(ctx, domain.CreateMessageInput{
		UserID:      c.viewerID,
		TaskID:      c.taskID,
		Kind:        in.Kind,
		Body:        in.Body,
		Metadata:    in.Metadata,
		Attachments: attachments,
	})
	if err != nil {
		c.logger.Warn("send message failed", zap.Error(err))
		return domain.Message{}, &SendError{TaskID: c.taskID, Err: err}
	}

	c.ingest(RoleViewer, []domain.Message{msg})
	return msg, nil
}

// MessageVisible informa que un mensaje esta en pantalla con la fraccion visibleRatio.
// Un fallo al marcar como leido se registra y no se propaga.
func (c *Conversation) MessageVisible(ctx context.Context, messageID string, visibleRatio float64) error {
	if c == nil || c.backend == nil {
		return ErrServiceNotConfigured
	}
	messageID = strings.TrimSpace(messageID)

	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	idx := indexOfMessage(c.messages, messageID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	msg := c.messages[idx]
	c.mu.Unlock()

	if !c.tracker.Observe(msg, visibleRatio) {
		return nil
	}

	if err := c.backend.MarkMessageRead(ctx, messageID); err != nil {
		c.logger.Warn("mark read failed", zap.Error(&ReadMarkError{MessageID: messageID, Err: err}))
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	updated, changed := MarkMessageRead(c.messages, messageID, c.viewerID)
	if !changed {
		return nil
	}
	c.messages = updated
	if i := indexOfMessage(updated, messageID); i >= 0 {
		c.emitLocked(MergeEvent{Kind: EventRead, TaskID: c.taskID, Messages: []domain.Message{updated[i]}})
	}
	return nil
}

func (c *Conversation) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked()
}

func (c *Conversation) readyLocked() error {
	switch c.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrConversationClosed
	default:
		return ErrConversationNotStarted
	}
}

// Messages devuelve una copia del store ordenado.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMessages(c.messages)
}

// VisibleTimeline agrupa el store por dia; se recalcula en cada llamada.
func (c *Conversation) VisibleTimeline() []DayGroup {
	messages := c.Messages()
	return GroupByDay(messages, c.now(), c.loc, c.order)
}

func (c *Conversation) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return countUnread(c.messages, c.viewerID)
}

func (c *Conversation) Cursors() Cursors {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors
}

func (c *Conversation) Negotiations() []Negotiation {
	return c.interpreter.Negotiations()
}

func (c *Conversation) State() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveListeners devuelve los roles con listener abierto.
func (c *Conversation) ActiveListeners() []ParticipantRole {
	return c.subs.active()
}

// Watch registra un observador de eventos. La funcion devuelta lo da de baja.
// Un observador lento pierde eventos en lugar de bloquear la conversacion.
func (c *Conversation) Watch() (<-chan MergeEvent, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan MergeEvent, c.buffer)
	if c.state == StateClosed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
}

func (c *Conversation) emit(events ...MergeEvent) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		c.emitLocked(ev)
	}
}

func (c *Conversation) emitLocked(ev MergeEvent) {
	for id, ch := range c.watchers {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("watcher buffer full, event dropped", zap.Int("watcher", id), zap.String("kind", string(ev.Kind)))
		}
	}
}

// Close desuscribe los listeners y cierra los observadores. Es idempotente.
func (c *Conversation) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	for id, ch := range c.watchers {
		delete(c.watchers, id)
		close(ch)
	}
	c.mu.Unlock()

	c.subs.close()
	c.logger.Info("conversation closed")
}

func cloneMessages(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	copy(out, messages)
	return out
}
