package service

import (
	"testing"
	"time"

	"github.com/devasignhq/contributor-app/internal/domain"
)

func TestDateLabel(t *testing.T) {
	now := time.Date(2025, 3, 18, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "today", at: time.Date(2025, 3, 18, 0, 5, 0, 0, time.UTC), want: "Today"},
		{name: "yesterday", at: time.Date(2025, 3, 17, 23, 59, 0, 0, time.UTC), want: "Yesterday"},
		{name: "two days", at: time.Date(2025, 3, 16, 10, 0, 0, 0, time.UTC), want: "Sunday"},
		{name: "six days", at: time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC), want: "Wednesday"},
		{name: "seven days is absolute", at: time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC), want: "11th March 2025"},
		{name: "older", at: time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC), want: "1st December 2024"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DateLabel(tc.at, now, time.UTC); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDateLabelSeventhDaySuffix(t *testing.T) {
	now := time.Date(2025, 3, 29, 9, 0, 0, 0, time.UTC)
	at := now.AddDate(0, 0, -7)
	if got := DateLabel(at, now, time.UTC); got != "22nd March 2025" {
		t.Fatalf("expected 22nd March 2025, got %q", got)
	}
}

func TestDateLabelUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2025, 3, 18, 12, 0, 0, 0, time.UTC)
	at := time.Date(2025, 3, 18, 3, 0, 0, 0, time.UTC)

	if got := DateLabel(at, now, time.UTC); got != "Today" {
		t.Fatalf("expected Today in UTC, got %q", got)
	}
	if got := DateLabel(at, now, loc); got != "Yesterday" {
		t.Fatalf("expected Yesterday in UTC-5, got %q", got)
	}
}

func TestOrdinalSuffix(t *testing.T) {
	cases := map[int]string{
		1: "st", 2: "nd", 3: "rd", 4: "th",
		11: "th", 12: "th", 13: "th",
		21: "st", 22: "nd", 23: "rd", 30: "th", 31: "st",
	}
	for day, want := range cases {
		if got := OrdinalSuffix(day); got != want {
			t.Fatalf("OrdinalSuffix(%d): expected %q, got %q", day, want, got)
		}
	}
}

func TestGroupByDay(t *testing.T) {
	now := time.Date(2025, 3, 18, 12, 0, 0, 0, time.UTC)
	at := func(day, hour int) domain.Message {
		m := testMessage("", "pm", 0)
		m.CreatedAt = time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
		return m
	}
	a1, a2, a3, a4 := at(11, 15), at(16, 10), at(18, 8), at(18, 9)
	a1.ID, a2.ID, a3.ID, a4.ID = "a1", "a2", "a3", "a4"
	messages := []domain.Message{a1, a2, a3, a4}

	t.Run("newest first", func(t *testing.T) {
		groups := GroupByDay(messages, now, time.UTC, NewestFirst)
		labels := make([]string, 0, len(groups))
		for _, g := range groups {
			labels = append(labels, g.Label)
		}
		if !sameIDs(labels, []string{"Today", "Sunday", "11th March 2025"}) {
			t.Fatalf("unexpected labels %v", labels)
		}
		if got := messageIDs(groups[0].Messages); !sameIDs(got, []string{"a3", "a4"}) {
			t.Fatalf("expected ascending messages inside group, got %v", got)
		}
	})

	t.Run("oldest first", func(t *testing.T) {
		groups := GroupByDay(messages, now, time.UTC, OldestFirst)
		if groups[0].Label != "11th March 2025" || groups[2].Label != "Today" {
			t.Fatalf("unexpected order %+v", groups)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if groups := GroupByDay(nil, now, time.UTC, NewestFirst); len(groups) != 0 {
			t.Fatalf("expected no groups, got %d", len(groups))
		}
	})
}

func TestParseGroupOrder(t *testing.T) {
	if ParseGroupOrder("asc") != OldestFirst {
		t.Fatalf("expected asc")
	}
	if ParseGroupOrder("whatever") != NewestFirst {
		t.Fatalf("expected default desc")
	}
}
