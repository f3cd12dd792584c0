// Package engine defines the contract between the editor and a
// sentence-mixing engine.
//
// An [Engine] ingests source videos ([Engine.GetVideos]) and, given a
// sentence, returns the ordered list of phoneme sequences ("candidates")
// that realise it from those sources ([Engine.ProcessSentence]).
//
// Interruption is cooperative: engines poll the context they are handed at
// their own checkpoints and, when it is done, return an error wrapping
// [ErrInterrupted]. Callers translate that into a recoverable outcome rather
// than a failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/phonemix/pkg/media"
)

// ErrInterrupted is wrapped by errors returned from an engine call that was
// cooperatively aborted.
var ErrInterrupted = errors.New("engine: interrupted")

// Candidate is one ordered phoneme sequence realising a sentence.
type Candidate []*media.Phoneme

// Duration returns the summed phoneme duration.
func (c Candidate) Duration() time.Duration {
	var d time.Duration
	for _, ph := range c {
		d += ph.Duration()
	}
	return d
}

// Engine is the sentence-mixing engine. Implementations must be safe for
// concurrent use.
type Engine interface {
	// ProcessSentence returns the candidates matching sentence against
	// videos, best first. seed makes tie-breaking deterministic.
	ProcessSentence(ctx context.Context, sentence string, videos []*media.Video, seed int64) ([]Candidate, error)

	// GetVideos loads the source videos for urls, in order.
	GetVideos(ctx context.Context, urls []string) ([]*media.Video, error)
}

// Checkpoint returns an error wrapping [ErrInterrupted] if ctx is done, and
// nil otherwise. Engines call it between units of work.
func Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return nil
}
