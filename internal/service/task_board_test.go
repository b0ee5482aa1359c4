package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devasignhq/contributor-app/internal/domain"
)

type mockTimelineWriter struct {
	calls   int
	applied bool
	err     error
}

func (m *mockTimelineWriter) UpdateTimeline(ctx context.Context, taskID string, timeline domain.Timeline, at time.Time) (bool, error) {
	m.calls++
	return m.applied, m.err
}

func boardTask() domain.Task {
	accepted := baseTime.Add(-24 * time.Hour)
	return domain.Task{
		ID:                "task-1",
		CreatorID:         "pm",
		ContributorID:     "dev",
		Timeline:          domain.Timeline{Magnitude: 1, Unit: domain.TimelineUnitWeek},
		AcceptedAt:        &accepted,
		TimelineUpdatedAt: baseTime,
	}
}

func TestTaskBoardMutateTaskTimeline(t *testing.T) {
	ctx := context.Background()
	extended := domain.Timeline{Magnitude: 2.5, Unit: domain.TimelineUnitWeek}

	t.Run("applies newer mutation", func(t *testing.T) {
		writer := &mockTimelineWriter{applied: true}
		board := NewTaskBoard(&mockTaskSource{tasks: map[string]domain.Task{"task-1": boardTask()}}, writer, nil)

		at := baseTime.Add(time.Hour)
		if err := board.MutateTaskTimeline(ctx, "task-1", extended, at); err != nil {
			t.Fatalf("mutate: %v", err)
		}
		task, _ := board.GetTask(ctx, "task-1")
		if task.Timeline != extended || !task.TimelineUpdatedAt.Equal(at) {
			t.Fatalf("expected timeline updated, got %+v", task)
		}
		if writer.calls != 1 {
			t.Fatalf("expected write-through, got %d", writer.calls)
		}
	})

	t.Run("ignores stale mutation", func(t *testing.T) {
		writer := &mockTimelineWriter{applied: true}
		board := NewTaskBoard(nil, writer, nil)
		board.Put(boardTask())

		if err := board.MutateTaskTimeline(ctx, "task-1", extended, baseTime); err != nil {
			t.Fatalf("mutate: %v", err)
		}
		task, _ := board.GetTask(ctx, "task-1")
		if task.Timeline.Magnitude != 1 || writer.calls != 0 {
			t.Fatalf("expected stale mutation ignored, got %+v (writes %d)", task, writer.calls)
		}
	})

	t.Run("stored value newer", func(t *testing.T) {
		board := NewTaskBoard(nil, &mockTimelineWriter{applied: false}, nil)
		board.Put(boardTask())

		if err := board.MutateTaskTimeline(ctx, "task-1", extended, baseTime.Add(time.Minute)); err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if task, _ := board.GetTask(ctx, "task-1"); task.Timeline.Magnitude != 1 {
			t.Fatalf("expected cache untouched, got %+v", task)
		}
	})

	t.Run("writer error", func(t *testing.T) {
		board := NewTaskBoard(nil, &mockTimelineWriter{err: errors.New("db down")}, nil)
		board.Put(boardTask())

		if err := board.MutateTaskTimeline(ctx, "task-1", extended, baseTime.Add(time.Minute)); err == nil {
			t.Fatalf("expected error from writer")
		}
		if task, _ := board.GetTask(ctx, "task-1"); task.Timeline.Magnitude != 1 {
			t.Fatalf("expected cache untouched on error, got %+v", task)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		board := NewTaskBoard(nil, nil, nil)
		err := board.MutateTaskTimeline(ctx, "missing", extended, baseTime)
		if !errors.Is(err, domain.ErrTaskNotFound) {
			t.Fatalf("expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestTaskBoardCachesLoader(t *testing.T) {
	source := &mockTaskSource{tasks: map[string]domain.Task{"task-1": boardTask()}}
	board := NewTaskBoard(source, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := board.GetTask(context.Background(), "task-1"); err != nil {
			t.Fatalf("get task: %v", err)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected loader called once, got %d", source.calls)
	}
}

func TestTaskBoardTimeLeftAfterExtension(t *testing.T) {
	board := NewTaskBoard(nil, nil, nil)
	board.Put(boardTask())
	ctx := context.Background()

	before, _ := board.TimeLeft(ctx, "task-1", baseTime)
	if before.TotalDays != 6 {
		t.Fatalf("expected 6 days left, got %+v", before)
	}

	if err := board.MutateTaskTimeline(ctx, "task-1", domain.Timeline{Magnitude: 2.5, Unit: domain.TimelineUnitWeek}, baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	after, _ := board.TimeLeft(ctx, "task-1", baseTime)
	if after.TotalDays != 18 || after.Formatted != "2 week(s) 4 day(s)" {
		t.Fatalf("expected 18 days left, got %+v", after)
	}
}
