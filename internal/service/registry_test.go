package service

import (
	"context"
	"errors"
	"testing"

	"github.com/devasignhq/contributor-app/internal/domain"
)

func registryTasks() *mockTaskSource {
	return &mockTaskSource{tasks: map[string]domain.Task{
		"task-1": {ID: "task-1", CreatorID: "pm", ContributorID: "dev"},
		"task-2": {ID: "task-2", CreatorID: "pm", ContributorID: "dev"},
	}}
}

func TestRegistryOpenResolvesCounterparty(t *testing.T) {
	backend := &mockBackend{}
	reg := NewRegistry(backend, registryTasks(), nil, nil, RegistryOptions{})
	defer reg.CloseAll()

	conv, err := reg.Open(context.Background(), "pm", "task-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if conv.CounterpartyID() != "dev" || conv.State() != StateReady {
		t.Fatalf("unexpected conversation %s/%s", conv.CounterpartyID(), conv.State())
	}
	again, err := reg.Open(context.Background(), "pm", "task-1")
	if err != nil || again != conv {
		t.Fatalf("expected same conversation, got %v", err)
	}
	if got, err := reg.Get("pm", "task-1"); err != nil || got != conv {
		t.Fatalf("expected Get to return open conversation, got %v", err)
	}
}

func TestRegistrySwitchClosesPrevious(t *testing.T) {
	backend := &mockBackend{}
	reg := NewRegistry(backend, registryTasks(), nil, nil, RegistryOptions{})
	defer reg.CloseAll()

	first, err := reg.Open(context.Background(), "dev", "task-1")
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	second, err := reg.Open(context.Background(), "dev", "task-2")
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	if first.State() != StateClosed {
		t.Fatalf("expected previous conversation closed, got %s", first.State())
	}
	if second.State() != StateReady {
		t.Fatalf("expected new conversation ready, got %s", second.State())
	}
	if _, err := reg.Get("dev", "task-1"); !errors.Is(err, ErrConversationNotStarted) {
		t.Fatalf("expected task-1 no longer open, got %v", err)
	}
}

func TestRegistryRejectsOutsiders(t *testing.T) {
	reg := NewRegistry(&mockBackend{}, registryTasks(), nil, nil, RegistryOptions{})
	if _, err := reg.Open(context.Background(), "stranger", "task-1"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := reg.Open(context.Background(), "dev", "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRegistryLoadFailureIsNotKept(t *testing.T) {
	backend := &mockBackend{historyErr: errors.New("down")}
	reg := NewRegistry(backend, registryTasks(), nil, nil, RegistryOptions{})

	_, err := reg.Open(context.Background(), "dev", "task-1")
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if _, err := reg.Get("dev", "task-1"); !errors.Is(err, ErrConversationNotStarted) {
		t.Fatalf("expected failed conversation dropped, got %v", err)
	}

	backend.mu.Lock()
	backend.historyErr = nil
	backend.mu.Unlock()
	if _, err := reg.Open(context.Background(), "dev", "task-1"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	reg.CloseAll()
}

func TestRegistryNotConfigured(t *testing.T) {
	var reg *Registry
	if _, err := reg.Open(context.Background(), "dev", "task-1"); !errors.Is(err, ErrServiceNotConfigured) {
		t.Fatalf("expected ErrServiceNotConfigured, got %v", err)
	}
}
