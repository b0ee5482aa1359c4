package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/domain"
)

// TimelineMutator es el dueño del estado de timeline de la tarea.
type TimelineMutator interface {
	MutateTaskTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) error
}

type NegotiationState string

const (
	NegotiationPending  NegotiationState = "PENDING"
	NegotiationAccepted NegotiationState = "ACCEPTED"
	NegotiationRejected NegotiationState = "REJECTED"
)

// Negotiation sigue una solicitud de extension desde PENDING hasta su estado terminal.
type Negotiation struct {
	Request  *domain.Message  `json:"request,omitempty"`
	Response *domain.Message  `json:"response,omitempty"`
	State    NegotiationState `json:"state"`
	Timeline domain.Timeline  `json:"timeline"`
}

// TimelineInterpreter interpreta mensajes TIMELINE_REQUEST y proyecta los aceptados
// sobre el timeline de la tarea.
type TimelineInterpreter struct {
	taskID  string
	mutator TimelineMutator
	logger  *zap.Logger

	mu           sync.Mutex
	negotiations []*Negotiation
	applied      map[string]struct{}
}

func NewTimelineInterpreter(taskID string, mutator TimelineMutator, logger *zap.Logger) *TimelineInterpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimelineInterpreter{
		taskID:  taskID,
		mutator: mutator,
		logger:  logger,
		applied: make(map[string]struct{}),
	}
}

// Seed reconstruye las negociaciones desde el historial sin mutar la tarea:
// los outcomes historicos ya estan reflejados en el estado del backend.
func (i *TimelineInterpreter) Seed(history []domain.Message) {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, m := range history {
		if !m.IsTimelineRequest() {
			continue
		}
		if _, ok := i.applied[m.ID]; ok {
			continue
		}
		i.applied[m.ID] = struct{}{}
		i.trackLocked(m)
	}
}

// Apply procesa mensajes recien mergeados. Cada aceptacion dispara exactamente una
// mutacion; un rechazo o una solicitud pendiente no tocan la tarea.
func (i *TimelineInterpreter) Apply(ctx context.Context, added []domain.Message) []MergeEvent {
	if i == nil {
		return nil
	}

	var (
		events   []MergeEvent
		accepted []domain.Message
	)

	i.mu.Lock()
	for _, m := range added {
		if !m.IsTimelineRequest() {
			continue
		}
		if _, ok := i.applied[m.ID]; ok {
			continue
		}
		i.applied[m.ID] = struct{}{}

		n := i.trackLocked(m)
		snapshot := *n
		switch m.NegotiationOutcome() {
		case domain.OutcomeAccepted:
			accepted = append(accepted, m)
			events = append(events, MergeEvent{Kind: EventTimelineAccepted, TaskID: i.taskID, Messages: []domain.Message{m}, Negotiation: &snapshot})
		case domain.OutcomeRejected:
			events = append(events, MergeEvent{Kind: EventTimelineRejected, TaskID: i.taskID, Messages: []domain.Message{m}, Negotiation: &snapshot})
		default:
			events = append(events, MergeEvent{Kind: EventTimelineRequested, TaskID: i.taskID, Messages: []domain.Message{m}, Negotiation: &snapshot})
		}
	}
	i.mu.Unlock()

	for _, m := range accepted {
		i.project(ctx, m)
	}
	return events
}

func (i *TimelineInterpreter) project(ctx context.Context, m domain.Message) {
	if i.mutator == nil {
		i.logger.Warn("timeline accepted without mutator", zap.String("task_id", i.taskID), zap.String("message_id", m.ID))
		return
	}
	timeline := m.Metadata.Timeline()
	if err := i.mutator.MutateTaskTimeline(ctx, i.taskID, timeline, m.CreatedAt); err != nil {
		i.logger.Error("mutate task timeline failed",
			zap.Error(err),
			zap.String("task_id", i.taskID),
			zap.String("message_id", m.ID),
		)
		return
	}
	i.logger.Info("task timeline updated",
		zap.String("task_id", i.taskID),
		zap.String("message_id", m.ID),
		zap.Float64("magnitude", timeline.Magnitude),
		zap.String("unit", string(timeline.Unit)),
	)
}

// trackLocked registra el mensaje en la maquina de estados y devuelve la negociacion afectada.
func (i *TimelineInterpreter) trackLocked(m domain.Message) *Negotiation {
	msg := m
	var timeline domain.Timeline
	if m.Metadata != nil {
		timeline = m.Metadata.Timeline()
	}

	outcome := m.NegotiationOutcome()
	if outcome == domain.OutcomePending {
		n := &Negotiation{Request: &msg, State: NegotiationPending, Timeline: timeline}
		i.negotiations = append(i.negotiations, n)
		return n
	}

	state := NegotiationRejected
	if outcome == domain.OutcomeAccepted {
		state = NegotiationAccepted
	}
	for _, n := range i.negotiations {
		if n.State != NegotiationPending || n.Timeline != timeline {
			continue
		}
		if n.Request != nil && n.Request.UserID == m.UserID {
			continue
		}
		n.Response = &msg
		n.State = state
		return n
	}

	// Respuesta sin solicitud conocida: se registra ya en estado terminal.
	n := &Negotiation{Response: &msg, State: state, Timeline: timeline}
	i.negotiations = append(i.negotiations, n)
	return n
}

// pendingFrom indica si hay una solicitud PENDING de authorID por el mismo timeline.
func (i *TimelineInterpreter) pendingFrom(authorID string, timeline domain.Timeline) bool {
	if i == nil {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, n := range i.negotiations {
		if n.State == NegotiationPending && n.Timeline == timeline && n.Request != nil && n.Request.UserID == authorID {
			return true
		}
	}
	return false
}

// Negotiations devuelve una copia de las negociaciones en orden de llegada.
func (i *TimelineInterpreter) Negotiations() []Negotiation {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Negotiation, 0, len(i.negotiations))
	for _, n := range i.negotiations {
		out = append(out, *n)
	}
	return out
}

// DescribeNegotiation arma el texto informativo de un mensaje TIMELINE_REQUEST
// desde el punto de vista del viewer.
func DescribeNegotiation(m domain.Message, viewerID string) string {
	if !m.IsTimelineRequest() || m.Metadata == nil {
		return m.Body
	}
	requested := m.Metadata.Timeline().String()
	if m.AuthoredBy(viewerID) && m.NegotiationOutcome() == domain.OutcomePending {
		return fmt.Sprintf("You requested for an extension of %s.", requested)
	}
	switch m.NegotiationOutcome() {
	case domain.OutcomeAccepted:
		return fmt.Sprintf("Timeline extended by %s.", requested)
	case domain.OutcomeRejected:
		return fmt.Sprintf("Your %s extension request was rejected.", requested)
	default:
		return fmt.Sprintf("Extension of %s requested.", requested)
	}
}
