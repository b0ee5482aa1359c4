package service

import (
	"context"
	"errors"
	"testing"

	"github.com/devasignhq/contributor-app/internal/domain"
)

func TestTimelineInterpreterAcceptedMutatesOnce(t *testing.T) {
	mutator := &mockMutator{}
	interp := NewTimelineInterpreter("task-1", mutator, nil)

	req := timelineMessage("req", "dev", 1, 2.5, domain.OutcomePending)
	accepted := timelineMessage("acc", "pm", 5, 2.5, domain.OutcomeAccepted)

	events := interp.Apply(context.Background(), []domain.Message{req})
	if len(events) != 1 || events[0].Kind != EventTimelineRequested {
		t.Fatalf("expected timeline_requested, got %+v", events)
	}
	if mutator.count() != 0 {
		t.Fatalf("expected no mutation for pending request")
	}

	events = interp.Apply(context.Background(), []domain.Message{accepted})
	if len(events) != 1 || events[0].Kind != EventTimelineAccepted {
		t.Fatalf("expected timeline_accepted, got %+v", events)
	}
	interp.Apply(context.Background(), []domain.Message{accepted})

	if mutator.count() != 1 {
		t.Fatalf("expected exactly one mutation, got %d", mutator.count())
	}
	call := mutator.calls[0]
	if call.taskID != "task-1" || call.timeline != (domain.Timeline{Magnitude: 2.5, Unit: domain.TimelineUnitWeek}) {
		t.Fatalf("unexpected mutation %+v", call)
	}
	if !call.at.Equal(accepted.CreatedAt) {
		t.Fatalf("expected mutation timestamp %v, got %v", accepted.CreatedAt, call.at)
	}

	negotiations := interp.Negotiations()
	if len(negotiations) != 1 {
		t.Fatalf("expected one negotiation, got %d", len(negotiations))
	}
	n := negotiations[0]
	if n.State != NegotiationAccepted || n.Request.ID != "req" || n.Response.ID != "acc" {
		t.Fatalf("unexpected negotiation %+v", n)
	}
}

func TestTimelineInterpreterRejectedDoesNotMutate(t *testing.T) {
	mutator := &mockMutator{}
	interp := NewTimelineInterpreter("task-1", mutator, nil)

	interp.Apply(context.Background(), []domain.Message{timelineMessage("req", "dev", 1, 1, domain.OutcomePending)})
	events := interp.Apply(context.Background(), []domain.Message{timelineMessage("rej", "pm", 2, 1, domain.OutcomeRejected)})

	if mutator.count() != 0 {
		t.Fatalf("expected no mutation on rejection, got %d", mutator.count())
	}
	if len(events) != 1 || events[0].Kind != EventTimelineRejected || events[0].Negotiation.State != NegotiationRejected {
		t.Fatalf("expected rejection event, got %+v", events)
	}
}

func TestTimelineInterpreterSeedNeverMutates(t *testing.T) {
	mutator := &mockMutator{}
	interp := NewTimelineInterpreter("task-1", mutator, nil)
	accepted := timelineMessage("acc", "pm", 5, 3, domain.OutcomeAccepted)

	interp.Seed([]domain.Message{
		timelineMessage("req", "dev", 1, 3, domain.OutcomePending),
		accepted,
		testMessage("plain", "dev", 6),
	})
	interp.Apply(context.Background(), []domain.Message{accepted})

	if mutator.count() != 0 {
		t.Fatalf("expected history to be replayed without mutations, got %d", mutator.count())
	}
	if got := interp.Negotiations(); len(got) != 1 || got[0].State != NegotiationAccepted {
		t.Fatalf("expected seeded accepted negotiation, got %+v", got)
	}
}

func TestTimelineInterpreterMatching(t *testing.T) {
	interp := NewTimelineInterpreter("task-1", &mockMutator{}, nil)

	interp.Apply(context.Background(), []domain.Message{
		timelineMessage("req-1", "dev", 1, 1, domain.OutcomePending),
		timelineMessage("req-2", "dev", 2, 2, domain.OutcomePending),
	})
	// Misma magnitud que req-2 pero escrita por el mismo autor: no la cierra.
	interp.Apply(context.Background(), []domain.Message{timelineMessage("self", "dev", 3, 2, domain.OutcomeRejected)})
	interp.Apply(context.Background(), []domain.Message{timelineMessage("resp", "pm", 4, 2, domain.OutcomeAccepted)})

	byRequest := make(map[string]Negotiation)
	for _, n := range interp.Negotiations() {
		if n.Request != nil {
			byRequest[n.Request.ID] = n
		}
	}
	if byRequest["req-1"].State != NegotiationPending {
		t.Fatalf("expected req-1 to stay pending, got %+v", byRequest["req-1"])
	}
	if n := byRequest["req-2"]; n.State != NegotiationAccepted || n.Response.ID != "resp" {
		t.Fatalf("expected req-2 accepted by resp, got %+v", n)
	}
	if got := len(interp.Negotiations()); got != 3 {
		t.Fatalf("expected 3 negotiations, got %d", got)
	}
}

func TestTimelineInterpreterMutatorErrorIsLogged(t *testing.T) {
	mutator := &mockMutator{err: errors.New("db down")}
	interp := NewTimelineInterpreter("task-1", mutator, nil)
	accepted := timelineMessage("acc", "pm", 5, 2, domain.OutcomeAccepted)

	interp.Apply(context.Background(), []domain.Message{accepted})
	interp.Apply(context.Background(), []domain.Message{accepted})
	if mutator.count() != 1 {
		t.Fatalf("expected a single attempt, got %d", mutator.count())
	}
}

func TestDescribeNegotiation(t *testing.T) {
	cases := []struct {
		name   string
		msg    domain.Message
		viewer string
		want   string
	}{
		{name: "own request", msg: timelineMessage("r", "dev", 1, 2.5, domain.OutcomePending), viewer: "dev", want: "You requested for an extension of 2.5 week(s)."},
		{name: "incoming request", msg: timelineMessage("r", "dev", 1, 2.5, domain.OutcomePending), viewer: "pm", want: "Extension of 2.5 week(s) requested."},
		{name: "accepted", msg: timelineMessage("a", "pm", 1, 2.5, domain.OutcomeAccepted), viewer: "dev", want: "Timeline extended by 2.5 week(s)."},
		{name: "rejected", msg: timelineMessage("x", "pm", 1, 2.5, domain.OutcomeRejected), viewer: "dev", want: "Your 2.5 week(s) extension request was rejected."},
		{name: "general", msg: testMessage("g", "pm", 1), viewer: "dev", want: "body g"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DescribeNegotiation(tc.msg, tc.viewer); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
