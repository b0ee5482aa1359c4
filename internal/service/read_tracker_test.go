package service

import "testing"

func TestReadTrackerFiresOnce(t *testing.T) {
	tracker := NewReadTracker("dev")
	msg := testMessage("m1", "pm", 1)

	if tracker.Observe(msg, 0.3) {
		t.Fatalf("expected no trigger below threshold")
	}
	if tracker.Disposed("m1") {
		t.Fatalf("expected observation to stay active below threshold")
	}
	if !tracker.Observe(msg, 0.5) {
		t.Fatalf("expected trigger at threshold")
	}
	for _, ratio := range []float64{0, 1, 0.7} {
		if tracker.Observe(msg, ratio) {
			t.Fatalf("expected at most one trigger, fired again at %v", ratio)
		}
	}
}

func TestReadTrackerSkipsOwnAndRead(t *testing.T) {
	tracker := NewReadTracker("dev")

	own := testMessage("own", "dev", 1)
	if tracker.Observe(own, 1) || !tracker.Disposed("own") {
		t.Fatalf("expected own message disposed without trigger")
	}

	read := testMessage("read", "pm", 1)
	read.Read = true
	if tracker.Observe(read, 1) || !tracker.Disposed("read") {
		t.Fatalf("expected read message disposed without trigger")
	}
}
