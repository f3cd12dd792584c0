package media

import (
	"context"
	"errors"
)

// ErrDecode wraps failures reported by a [Decoder].
var ErrDecode = errors.New("media: decode failed")

// Decoder decodes the media slice covered by a phoneme.
//
// DecodeClip samples frames every 1/fps seconds starting at the phoneme start
// and returns ceil(duration*fps) frames, together with the phoneme's audio at
// its native sample rate. Implementations must be safe for concurrent use.
type Decoder interface {
	DecodeClip(ctx context.Context, ph *Phoneme, fps int) (*Clip, error)
}

// Display accepts decoded frames for presentation. A preview calls ShowFrame
// from a single goroutine at a time.
type Display interface {
	ShowFrame(f Frame)
}

// AudioOutput starts playback of a buffer. Each call to Play returns an
// independent [Playback].
type AudioOutput interface {
	Play(buf AudioBuffer) (Playback, error)
}

// Playback controls one running audio stream.
type Playback interface {
	Pause()
	Resume()

	// Stop halts playback and releases the underlying device handle. It is
	// idempotent.
	Stop()

	// Done is closed when the stream reaches its end or is stopped.
	Done() <-chan struct{}
}
