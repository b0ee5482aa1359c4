package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTimelineWeekDecimalIsDays(t *testing.T) {
	tl := Timeline{Magnitude: 2.5, Unit: TimelineUnitWeek}

	total, err := tl.TotalDays()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if total != 19 {
		t.Fatalf("expected 19 days, got %d", total)
	}
	if got := tl.Format(); got != "2 week(s) 5 day(s)" {
		t.Fatalf("expected %q, got %q", "2 week(s) 5 day(s)", got)
	}
	if got := tl.String(); got != "2.5 week(s)" {
		t.Fatalf("expected raw request label, got %q", got)
	}
}

func TestTimelineParts(t *testing.T) {
	cases := []struct {
		name  string
		tl    Timeline
		weeks int
		days  int
	}{
		{name: "whole weeks", tl: Timeline{Magnitude: 3, Unit: TimelineUnitWeek}, weeks: 3},
		{name: "one day", tl: Timeline{Magnitude: 1.1, Unit: TimelineUnitWeek}, weeks: 1, days: 1},
		{name: "six days", tl: Timeline{Magnitude: 0.6, Unit: TimelineUnitWeek}, days: 6},
		{name: "days unit", tl: Timeline{Magnitude: 10, Unit: TimelineUnitDay}, days: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			weeks, days, err := tc.tl.Parts()
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if weeks != tc.weeks || days != tc.days {
				t.Fatalf("expected %d/%d, got %d/%d", tc.weeks, tc.days, weeks, days)
			}
		})
	}
}

func TestTimelineValidate(t *testing.T) {
	valid := []Timeline{
		{Magnitude: 2.5, Unit: TimelineUnitWeek},
		{Magnitude: 1, Unit: TimelineUnitWeek},
		{Magnitude: 4, Unit: TimelineUnitDay},
	}
	for _, tl := range valid {
		if err := tl.Validate(); err != nil {
			t.Fatalf("expected %+v valid, got %v", tl, err)
		}
	}

	invalid := []Timeline{
		{Magnitude: 0, Unit: TimelineUnitWeek},
		{Magnitude: -1, Unit: TimelineUnitDay},
		{Magnitude: 1.7, Unit: TimelineUnitWeek},
		{Magnitude: 1.25, Unit: TimelineUnitWeek},
		{Magnitude: 1.5, Unit: TimelineUnitDay},
		{Magnitude: 2, Unit: "MONTH"},
	}
	for _, tl := range invalid {
		if err := tl.Validate(); !errors.Is(err, ErrInvalidTimeline) {
			t.Fatalf("expected ErrInvalidTimeline for %+v, got %v", tl, err)
		}
	}
}

func TestFormatDays(t *testing.T) {
	cases := map[int]string{
		0:  "Less than 1 day",
		1:  "1 day",
		6:  "6 day(s)",
		7:  "1 week",
		8:  "1 week 1 day",
		15: "2 week(s) 1 day",
		19: "2 week(s) 5 day(s)",
	}
	for days, want := range cases {
		if got := FormatDays(days); got != want {
			t.Fatalf("FormatDays(%d): expected %q, got %q", days, want, got)
		}
	}
}

func TestTaskTimeLeft(t *testing.T) {
	accepted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	task := Task{
		ID:         "t1",
		Timeline:   Timeline{Magnitude: 2.5, Unit: TimelineUnitWeek},
		AcceptedAt: &accepted,
	}

	t.Run("remaining", func(t *testing.T) {
		left := task.TimeLeft(accepted.Add(24 * time.Hour))
		if !left.Valid || left.Overdue {
			t.Fatalf("expected valid pending deadline, got %+v", left)
		}
		if left.TotalDays != 18 || left.Formatted != "2 week(s) 4 day(s)" {
			t.Fatalf("unexpected time left %+v", left)
		}
		if left.Deadline == nil || !left.Deadline.Equal(accepted.AddDate(0, 0, 19)) {
			t.Fatalf("unexpected deadline %v", left.Deadline)
		}
	})

	t.Run("partial day rounds up", func(t *testing.T) {
		left := task.TimeLeft(accepted.AddDate(0, 0, 19).Add(-time.Hour))
		if left.TotalDays != 1 || left.Formatted != "1 day" {
			t.Fatalf("expected 1 day, got %+v", left)
		}
	})

	t.Run("overdue", func(t *testing.T) {
		left := task.TimeLeft(accepted.AddDate(0, 0, 21))
		if !left.Overdue || left.Formatted != "Overdue by 2 day(s)" || left.Summary() != "Overdue" {
			t.Fatalf("unexpected overdue projection %+v", left)
		}
	})

	t.Run("no deadline", func(t *testing.T) {
		left := Task{ID: "t2"}.TimeLeft(accepted)
		if left.Valid || left.Summary() != "No deadline set" {
			t.Fatalf("expected no deadline, got %+v", left)
		}
	})

	t.Run("invalid unit", func(t *testing.T) {
		bad := task
		bad.Timeline.Unit = "MONTH"
		if got := bad.TimeLeft(accepted).Formatted; got != "Invalid timeline type" {
			t.Fatalf("expected invalid type, got %q", got)
		}
	})
}

func TestTaskCounterparty(t *testing.T) {
	task := Task{CreatorID: "pm", ContributorID: "dev"}
	if got := task.Counterparty("dev"); got != "pm" {
		t.Fatalf("expected pm, got %q", got)
	}
	if got := task.Counterparty("pm"); got != "dev" {
		t.Fatalf("expected dev, got %q", got)
	}
}

func TestResolveOutcome(t *testing.T) {
	cases := []struct {
		name       string
		outcome    string
		reason     string
		responded  bool
		want       Outcome
		wantReason string
	}{
		{name: "explicit accepted", outcome: "accepted", reason: "ok", want: OutcomeAccepted, wantReason: "ok"},
		{name: "pending", reason: "need more time", want: OutcomePending, wantReason: "need more time"},
		{name: "legacy accepted", reason: "ACCEPTED", responded: true, want: OutcomeAccepted},
		{name: "legacy rejected tag", reason: "REJECTED", responded: true, want: OutcomeRejected},
		{name: "legacy free text", reason: "not now", responded: true, want: OutcomeRejected, wantReason: "not now"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := ResolveOutcome(tc.outcome, tc.reason, tc.responded)
			if got != tc.want || reason != tc.wantReason {
				t.Fatalf("expected %q/%q, got %q/%q", tc.want, tc.wantReason, got, reason)
			}
		})
	}
}
