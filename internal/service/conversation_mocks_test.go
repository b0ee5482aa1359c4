package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devasignhq/contributor-app/internal/domain"
)

var baseTime = time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

func testMessage(id, author string, minute int) domain.Message {
	return domain.Message{
		ID:        id,
		UserID:    author,
		TaskID:    "task-1",
		Kind:      domain.MessageKindGeneral,
		Body:      "body " + id,
		CreatedAt: baseTime.Add(time.Duration(minute) * time.Minute),
		UpdatedAt: baseTime.Add(time.Duration(minute) * time.Minute),
	}
}

func timelineMessage(id, author string, minute int, magnitude float64, outcome domain.Outcome) domain.Message {
	m := testMessage(id, author, minute)
	m.Kind = domain.MessageKindTimelineRequest
	m.Body = ""
	m.Metadata = &domain.MessageMetadata{
		RequestedTimeline: magnitude,
		TimelineUnit:      domain.TimelineUnitWeek,
		Outcome:           outcome,
	}
	return m
}

type mockSubscription struct {
	req          SubscribeRequest
	onBatch      func([]domain.Message)
	onError      func(error)
	unsubscribed bool
}

type mockBackend struct {
	mu sync.Mutex

	history      []domain.Message
	historyErr   error
	fetchStarted chan struct{}
	fetchGate    chan struct{}

	subscribeErr error
	subs         []*mockSubscription

	sendErr error
	sent    []domain.CreateMessageInput

	markErr error
	marked  []string
}

func (m *mockBackend) FetchConversationHistory(ctx context.Context, taskID string) ([]domain.Message, error) {
	if m.fetchStarted != nil {
		m.fetchStarted <- struct{}{}
	}
	if m.fetchGate != nil {
		<-m.fetchGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	out := make([]domain.Message, len(m.history))
	copy(out, m.history)
	return out, nil
}

func (m *mockBackend) SubscribeToNewMessages(ctx context.Context, req SubscribeRequest, onBatch func([]domain.Message), onError func(error)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	sub := &mockSubscription{req: req, onBatch: onBatch, onError: onError}
	m.subs = append(m.subs, sub)
	return func() {
		m.mu.Lock()
		sub.unsubscribed = true
		m.mu.Unlock()
	}, nil
}

func (m *mockBackend) SendMessage(ctx context.Context, input domain.CreateMessageInput) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return domain.Message{}, m.sendErr
	}
	m.sent = append(m.sent, input)
	at := baseTime.Add(time.Hour + time.Duration(len(m.sent))*time.Minute)
	return domain.Message{
		ID:          fmt.Sprintf("sent-%d", len(m.sent)),
		UserID:      input.UserID,
		TaskID:      input.TaskID,
		Kind:        input.Kind,
		Body:        input.Body,
		Metadata:    input.Metadata,
		Attachments: input.Attachments,
		CreatedAt:   at,
		UpdatedAt:   at,
	}, nil
}

func (m *mockBackend) MarkMessageRead(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, messageID)
	return m.markErr
}

// subscription devuelve el listener abierto para el autor indicado.
func (m *mockBackend) subscription(authorID string) *mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.subs) - 1; i >= 0; i-- {
		if m.subs[i].req.AuthorID == authorID {
			return m.subs[i]
		}
	}
	return nil
}

func (m *mockBackend) deliver(authorID string, batch ...domain.Message) {
	sub := m.subscription(authorID)
	if sub == nil {
		panic("no subscription for " + authorID)
	}
	sub.onBatch(batch)
}

func (m *mockBackend) fail(authorID string, err error) {
	sub := m.subscription(authorID)
	if sub == nil {
		panic("no subscription for " + authorID)
	}
	sub.onError(err)
}

func (m *mockBackend) subscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *mockBackend) markedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.marked...)
}

type mutation struct {
	taskID   string
	timeline domain.Timeline
	at       time.Time
}

type mockMutator struct {
	mu    sync.Mutex
	calls []mutation
	err   error
}

func (m *mockMutator) MutateTaskTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mutation{taskID: taskID, timeline: timeline, at: at})
	return m.err
}

func (m *mockMutator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockTaskSource struct {
	tasks map[string]domain.Task
	err   error
	calls int
}

func (m *mockTaskSource) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	m.calls++
	if m.err != nil {
		return domain.Task{}, m.err
	}
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

func drainEvents(ch <-chan MergeEvent) []MergeEvent {
	var out []MergeEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func messageIDs(messages []domain.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
