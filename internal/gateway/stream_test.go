package gateway

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestChunkEnds(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want []string
	}{
		{"short", "one two", 3, []string{"one two"}},
		{"exact group", "one two three", 3, []string{"one two three"}},
		{"groups", "one two three four five six seven", 3, []string{"one two three", "one two three four five six", "one two three four five six seven"}},
		{"markup and newlines", "<p>Bees\ndance to\n\ncommunicate.</p>", 2, []string{"<p>Bees\ndance", "<p>Bees\ndance to\n\ncommunicate.</p>"}},
		{"multibyte", "ñandú corre rápido ágil", 2, []string{"ñandú corre", "ñandú corre rápido ágil"}},
		{"empty", "", 3, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, end := range chunkEnds(tt.text, tt.n) {
				got = append(got, tt.text[:end])
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("snapshots = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStreamingSnapshots(t *testing.T) {
	answer := "<p>Honey bees perform a waggle dance to tell nest mates where flowers are.</p>"
	g, _, _ := newTestGateway(reply{text: answer})

	var snaps []string
	got, err := g.GetAnswerForSuggestion(context.Background(), "q", "a", func(s string) {
		snaps = append(snaps, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != answer {
		t.Errorf("answer = %q", got)
	}
	if len(snaps) < 2 {
		t.Fatalf("expected several snapshots, got %d", len(snaps))
	}
	for i, s := range snaps {
		if !strings.HasPrefix(answer, s) {
			t.Errorf("snapshot %d is not a prefix: %q", i, s)
		}
		if i > 0 && len(s) <= len(snaps[i-1]) {
			t.Errorf("snapshot %d does not grow", i)
		}
	}
	if snaps[len(snaps)-1] != answer {
		t.Errorf("last snapshot = %q, want full text", snaps[len(snaps)-1])
	}
	if first := snaps[0]; len(strings.Fields(first)) != 3 {
		t.Errorf("first snapshot should hold 3 words: %q", first)
	}

	// cached answers stream the same way
	var cached []string
	g.GetAnswerForSuggestion(context.Background(), "q", "a", func(s string) { cached = append(cached, s) })
	if strings.Join(cached, "|") != strings.Join(snaps, "|") {
		t.Errorf("cached delivery differs: %q", cached)
	}
}

func TestStreamingPacedAndCancellable(t *testing.T) {
	g, _, _ := newTestGateway(reply{text: "one two three four five six seven eight nine"})
	g.cfg.MinDelay = time.Hour
	g.cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	var snaps []string
	done := make(chan error, 1)
	go func() {
		_, err := g.GetAnswerForSuggestion(ctx, "q", "a", func(s string) {
			snaps = append(snaps, s)
			cancel()
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not stop on cancel")
	}
	if len(snaps) != 1 {
		t.Errorf("snapshots after cancel = %d, want 1", len(snaps))
	}
}

func TestChunkDelayRange(t *testing.T) {
	g, _, _ := newTestGateway()
	g.cfg.MinDelay = 50 * time.Millisecond
	g.cfg.MaxDelay = 150 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := g.chunkDelay()
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("delay %v out of range", d)
		}
	}
}
