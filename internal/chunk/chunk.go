// Package chunk splits long replies into transport-safe segments at
// semantically sensible boundaries.
package chunk

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

const (
	// MaxTotalLen is the hard ceiling on a single reply. Anything longer is
	// truncated up front so the worst-case outbound message count is bounded.
	MaxTotalLen = 65000

	truncationNotice = "\n\n[message truncated]"
)

// Split breaks text into segments of at most maxLen characters each,
// prefix included. Boundaries are chosen in order of preference: a paragraph
// break in the upper half of the budget, a line break past 30%, a space past
// 20%, else a hard cut. Each chunk is right-trimmed and the remainder is
// left-trimmed. When more than one chunk results, each carries an "(i/N) "
// prefix. The result is recomputed per call.
func Split(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) > MaxTotalLen {
		runes = append(runes[:MaxTotalLen], []rune(truncationNotice)...)
	}
	if len(runes) <= maxLen {
		return []string{string(runes)}
	}

	// The prefix reserve depends on the chunk count, which depends on the
	// reserve. Start from the narrowest multi-chunk marker and re-split with
	// the actual widest prefix until the width stabilizes; widening the
	// reserve only ever grows the count, so this terminates.
	reserve := prefixWidth(2)
	var chunks []string
	for {
		chunks = splitAt(runes, maxLen-reserve)
		if w := prefixWidth(len(chunks)); w > reserve {
			reserve = w
			continue
		}
		break
	}

	for i := range chunks {
		chunks[i] = fmt.Sprintf("(%d/%d) %s", i+1, len(chunks), chunks[i])
	}
	return chunks
}

// prefixWidth is the length of the "(i/N) " marker for an n-chunk reply.
func prefixWidth(n int) int {
	return len(fmt.Sprintf("(%d/%d) ", n, n))
}

func splitAt(runes []rune, budget int) []string {
	if budget < 1 {
		budget = 1
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= budget {
			chunks = append(chunks, trimRight(runes))
			break
		}
		cut := findBreak(runes, budget)
		chunks = append(chunks, trimRight(runes[:cut]))
		runes = trimLeft(runes[cut:])
	}
	return chunks
}

// findBreak returns the cut position at or before budget, preferring a
// paragraph break (≥50% of budget), then a line break (≥30%), then a
// space (≥20%), else a hard cut exactly at budget.
func findBreak(runes []rune, budget int) int {
	window := runes[:budget]

	if idx := lastIndexSeq(window, '\n', '\n'); idx >= budget/2 {
		return idx
	}
	if idx := lastIndexRune(window, '\n'); idx >= budget*3/10 {
		return idx
	}
	if idx := lastIndexRune(window, ' '); idx >= budget/5 {
		return idx
	}
	return budget
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

func lastIndexSeq(runes []rune, a, b rune) int {
	for i := len(runes) - 2; i >= 0; i-- {
		if runes[i] == a && runes[i+1] == b {
			return i
		}
	}
	return -1
}

func trimRight(runes []rune) string {
	return strings.TrimRightFunc(string(runes), unicode.IsSpace)
}

func trimLeft(runes []rune) []rune {
	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return runes[i:]
}

// Pacer spaces consecutive chunk sends to respect channel rate expectations.
// The first call passes immediately; later calls wait out the interval.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer with the given inter-send delay. A non-positive
// delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next send slot or ctx cancellation.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
