package service

import (
	"errors"
	"fmt"
)

var (
	ErrServiceNotConfigured   = errors.New("service not configured")
	ErrConversationClosed     = errors.New("conversation closed")
	ErrConversationNotStarted = errors.New("conversation not started")
	ErrConversationInvalid    = errors.New("conversation invalid input")
	ErrEmptyMessage           = errors.New("message body and attachments are empty")
	ErrMessageNotFound        = errors.New("message not found")
	ErrNoPendingRequest       = errors.New("no pending timeline request from counterparty")
	ErrNotTaskCreator         = errors.New("only the task creator can answer timeline requests")
)

// LoadError indica que fallo la carga inicial del historial; es fatal para la conversacion.
type LoadError struct {
	TaskID string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load conversation %s: %v", e.TaskID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SubscriptionError indica que un listener en vivo fallo y fue abandonado.
type SubscriptionError struct {
	TaskID string
	Role   ParticipantRole
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("listener %s for conversation %s: %v", e.Role, e.TaskID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ReadMarkError se registra y se ignora: el estado de lectura puede quedar atrasado.
type ReadMarkError struct {
	MessageID string
	Err       error
}

func (e *ReadMarkError) Error() string {
	return fmt.Sprintf("mark message %s read: %v", e.MessageID, e.Err)
}

func (e *ReadMarkError) Unwrap() error { return e.Err }

// SendError se devuelve al caller para que ofrezca reintentar.
type SendError struct {
	TaskID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message to conversation %s: %v", e.TaskID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
