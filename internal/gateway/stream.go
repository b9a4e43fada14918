package gateway

import (
	"context"
	"math/rand/v2"
	"time"
	"unicode"
	"unicode/utf8"
)

// deliver replays a complete answer through onChunk in word groups, pausing
// a random MinDelay..MaxDelay between groups. It returns once the full text
// has been delivered or ctx is done.
func (g *Gateway) deliver(ctx context.Context, text string, onChunk ChunkFunc) error {
	if onChunk == nil {
		return nil
	}
	ends := chunkEnds(text, g.cfg.WordsPerChunk)
	for i, end := range ends {
		if err := ctx.Err(); err != nil {
			return err
		}
		onChunk(text[:end])
		if i == len(ends)-1 {
			break
		}
		if d := g.chunkDelay(); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil
}

func (g *Gateway) chunkDelay() time.Duration {
	lo, hi := g.cfg.MinDelay, g.cfg.MaxDelay
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// chunkEnds returns the byte offsets at which snapshots end: after every n-th
// word, then the end of the text. Offsets are strictly increasing.
func chunkEnds(text string, n int) []int {
	if n <= 0 {
		n = 1
	}
	var ends []int
	words := 0
	inWord := false
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if inWord {
				inWord = false
				words++
				if words%n == 0 {
					ends = append(ends, i)
				}
			}
		} else {
			inWord = true
		}
		i += size
	}
	if len(ends) == 0 || ends[len(ends)-1] != len(text) {
		ends = append(ends, len(text))
	}
	return ends
}
