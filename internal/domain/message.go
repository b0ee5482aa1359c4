package domain

import (
	"strings"
	"time"
)

// MessageKind distingue mensajes comunes de solicitudes de cambio de timeline.
type MessageKind string

const (
	MessageKindGeneral         MessageKind = "GENERAL"
	MessageKindTimelineRequest MessageKind = "TIMELINE_REQUEST"
)

// Outcome es el resultado de una solicitud de extension de timeline.
type Outcome string

const (
	OutcomePending  Outcome = ""
	OutcomeAccepted Outcome = "ACCEPTED"
	OutcomeRejected Outcome = "REJECTED"
)

type MessageMetadata struct {
	RequestedTimeline float64      `json:"requested_timeline"`
	TimelineUnit      TimelineUnit `json:"timeline_unit"`
	Reason            string       `json:"reason,omitempty"`
	Outcome           Outcome      `json:"outcome,omitempty"`
}

// Timeline devuelve la magnitud/unidad solicitada como valor de dominio.
func (m MessageMetadata) Timeline() Timeline {
	return Timeline{Magnitude: m.RequestedTimeline, Unit: m.TimelineUnit}
}

type Message struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	TaskID      string           `json:"task_id"`
	Kind        MessageKind      `json:"kind"`
	Body        string           `json:"body"`
	Metadata    *MessageMetadata `json:"metadata,omitempty"`
	Attachments []string         `json:"attachments"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IsTimelineRequest indica si el mensaje participa en una negociacion de timeline.
func (m Message) IsTimelineRequest() bool {
	return m.Kind == MessageKindTimelineRequest
}

// NegotiationOutcome devuelve el outcome del mensaje, o pendiente si no hay metadata.
func (m Message) NegotiationOutcome() Outcome {
	if m.Metadata == nil {
		return OutcomePending
	}
	return m.Metadata.Outcome
}

func (m Message) AuthoredBy(userID string) bool {
	return userID != "" && m.UserID == userID
}

// CreateMessageInput es el payload de envio; el backend asigna id y timestamps.
type CreateMessageInput struct {
	UserID      string
	TaskID      string
	Kind        MessageKind
	Body        string
	Metadata    *MessageMetadata
	Attachments []string
}

// ResolveOutcome normaliza el outcome guardado por versiones anteriores, que lo
// escribian en reason junto con responded=true.
func ResolveOutcome(outcome, reason string, responded bool) (Outcome, string) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(outcome))) {
	case OutcomeAccepted:
		return OutcomeAccepted, reason
	case OutcomeRejected:
		return OutcomeRejected, reason
	}
	if !responded {
		return OutcomePending, reason
	}
	if Outcome(strings.TrimSpace(reason)) == OutcomeAccepted {
		return OutcomeAccepted, ""
	}
	if Outcome(strings.TrimSpace(reason)) == OutcomeRejected {
		return OutcomeRejected, ""
	}
	return OutcomeRejected, reason
}
