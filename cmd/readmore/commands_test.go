package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/roelfdiedericks/readmore/internal/widget"
)

func TestCountRows(t *testing.T) {
	r := &redrawer{width: 10}
	tests := []struct {
		name string
		text string
		want int
	}{
		{"single short line", "hello", 1},
		{"empty line counts", "a\n\nb", 3},
		{"exact width", strings.Repeat("x", 10), 1},
		{"wraps", strings.Repeat("x", 11), 2},
		{"wide runes count once", strings.Repeat("é", 10), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.countRows(tt.text); got != tt.want {
				t.Errorf("countRows(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestRedrawerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := &redrawer{w: &buf, width: 80}
	r.draw("one")
	r.draw("one")
	r.draw("two")
	if got := buf.String(); got != "one\ntwo\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRedrawerTerminalRewinds(t *testing.T) {
	var buf bytes.Buffer
	r := &redrawer{w: &buf, tty: true, width: 80}
	r.draw("a\nb")
	r.draw("a\nb c")
	if !strings.Contains(buf.String(), "\033[2A") {
		t.Errorf("second draw should move up two rows: %q", buf.String())
	}
}

func TestSnapshotsWait(t *testing.T) {
	s := newSnapshots()
	go func() {
		s.push("id", widget.Snapshot{Phase: widget.Loading})
		time.Sleep(10 * time.Millisecond)
		s.push("id", widget.Snapshot{Phase: widget.Ready, Answer: "done"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.wait(ctx, func(s widget.Snapshot) bool { return s.Phase == widget.Ready }, nil)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if snap.Answer != "done" {
		t.Errorf("answer = %q", snap.Answer)
	}
}

func TestSnapshotsWaitCancelled(t *testing.T) {
	s := newSnapshots()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.wait(ctx, func(widget.Snapshot) bool { return false }, nil); err == nil {
		t.Error("wait should stop when ctx is done")
	}
}

func TestExploreView(t *testing.T) {
	if got := exploreView(widget.Snapshot{Phase: widget.Idle}); got != "" {
		t.Errorf("idle view = %q", got)
	}
	got := exploreView(widget.Snapshot{Phase: widget.Failed, Error: "busy", RetryInMs: 4000, Attempts: 2})
	if !strings.Contains(got, "busy") || !strings.Contains(got, "4s") {
		t.Errorf("failed view = %q", got)
	}
	got = exploreView(widget.Snapshot{Phase: widget.Ready, Answer: "<p>Bees <strong>dance</strong>.</p>"})
	if !strings.Contains(got, "**dance**") {
		t.Errorf("ready view = %q", got)
	}
}
