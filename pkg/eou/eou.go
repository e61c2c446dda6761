// Package eou scores whether a user utterance is complete, so the engine
// can hold back a commit when the energy classifier declared silence
// suspiciously early (a mid-thought pause rather than a finished turn).
package eou

import (
	"context"
	"strings"
	"unicode"
)

// Detector scores end-of-utterance likelihood for a transcript snippet.
// Returns a probability in [0, 1]; higher means the user is done talking.
type Detector interface {
	EndOfUtterance(ctx context.Context, text string) (float64, error)
}

// Heuristic is the default detector: punctuation and length rules, no
// model required. Empty text scores neutral so a missing transcript never
// blocks a commit.
type Heuristic struct {
	// MinWords below which an unpunctuated utterance is considered
	// likely unfinished. Zero means 3.
	MinWords int
}

// EndOfUtterance implements Detector.
func (h *Heuristic) EndOfUtterance(_ context.Context, text string) (float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0.5, nil
	}

	last := []rune(text)[len([]rune(text))-1]
	switch last {
	case '.', '!', '?':
		return 0.9, nil
	case ',', ':', ';', '-':
		return 0.1, nil
	}

	minWords := h.MinWords
	if minWords == 0 {
		minWords = 3
	}
	words := strings.FieldsFunc(text, func(r rune) bool { return unicode.IsSpace(r) })
	if len(words) < minWords {
		return 0.3, nil
	}
	return 0.6, nil
}
