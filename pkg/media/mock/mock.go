// Package mock provides in-memory implementations of [media.Decoder],
// [media.Display] and [media.AudioOutput] for use in unit tests.
//
// All mocks are safe for concurrent use and record their calls so tests can
// assert on call counts.
package mock

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/phonemix/pkg/media"
)

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock [media.Decoder] that synthesises solid-colour frames and
// silent audio sized from the phoneme duration.
type Decoder struct {
	mu sync.Mutex

	// SampleRate is the rate of synthesised audio. Defaults to 16000.
	SampleRate int

	// Delay is slept (respecting ctx) before each decode returns.
	Delay time.Duration

	// Err, when non-nil, is returned by every DecodeClip call.
	Err error

	// Calls counts DecodeClip invocations per phoneme ref string.
	Calls map[string]int
}

// DecodeClip implements [media.Decoder].
func (d *Decoder) DecodeClip(ctx context.Context, ph *media.Phoneme, fps int) (*media.Clip, error) {
	d.mu.Lock()
	if d.Calls == nil {
		d.Calls = make(map[string]int)
	}
	d.Calls[ph.Ref.String()]++
	delay, err, rate := d.Delay, d.Err, d.SampleRate
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		rate = 16000
	}

	n := FrameCount(ph.Duration(), fps)
	frames := make([]media.Frame, n)
	shade := uint8(len(ph.Label) * 40)
	for i := range frames {
		frames[i] = solid(color.RGBA{R: shade, G: uint8(i), B: 0, A: 255})
	}
	samples := int(ph.Duration().Seconds() * float64(rate))
	return &media.Clip{
		Frames: frames,
		Audio:  media.AudioBuffer{PCM: make([]byte, samples*2), SampleRate: rate},
	}, nil
}

// CallCount returns how many times ref was decoded.
func (d *Decoder) CallCount(ref media.PhonemeRef) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Calls[ref.String()]
}

// TotalCalls returns the number of DecodeClip calls across all phonemes.
func (d *Decoder) TotalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.Calls {
		n += c
	}
	return n
}

// FrameCount returns ceil(d*fps), the number of frames a decoder produces
// for a slice of length d.
func FrameCount(d time.Duration, fps int) int {
	return int(math.Ceil(d.Seconds() * float64(fps)))
}

func solid(c color.RGBA) media.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// ─── Display ──────────────────────────────────────────────────────────────────

// Display is a mock [media.Display] that records every frame shown.
type Display struct {
	mu     sync.Mutex
	frames []media.Frame
}

// ShowFrame implements [media.Display].
func (d *Display) ShowFrame(f media.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
}

// Shown returns the number of frames shown so far.
func (d *Display) Shown() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

// Last returns the most recently shown frame, or nil.
func (d *Display) Last() media.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil
	}
	return d.frames[len(d.frames)-1]
}

// ─── AudioOutput ──────────────────────────────────────────────────────────────

// AudioOutput is a mock [media.AudioOutput]. Playbacks never finish on their
// own; tests end them with [Playback.Finish].
type AudioOutput struct {
	mu sync.Mutex

	// PlayErr, when non-nil, is returned by Play.
	PlayErr error

	// Playbacks records every playback started, in order.
	Playbacks []*Playback
}

// Play implements [media.AudioOutput].
func (o *AudioOutput) Play(buf media.AudioBuffer) (media.Playback, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PlayErr != nil {
		return nil, o.PlayErr
	}
	p := &Playback{Buffer: buf, done: make(chan struct{})}
	o.Playbacks = append(o.Playbacks, p)
	return p, nil
}

// Started returns how many playbacks have been started.
func (o *AudioOutput) Started() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Playbacks)
}

// Latest returns the most recent playback, or nil.
func (o *AudioOutput) Latest() *Playback {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Playbacks) == 0 {
		return nil
	}
	return o.Playbacks[len(o.Playbacks)-1]
}

// Playback is a mock [media.Playback].
type Playback struct {
	Buffer media.AudioBuffer

	mu      sync.Mutex
	paused  bool
	stopped int
	once    sync.Once
	done    chan struct{}
}

// Pause implements [media.Playback].
func (p *Playback) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume implements [media.Playback].
func (p *Playback) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Stop implements [media.Playback].
func (p *Playback) Stop() {
	p.mu.Lock()
	p.stopped++
	p.mu.Unlock()
	p.Finish()
}

// Done implements [media.Playback].
func (p *Playback) Done() <-chan struct{} { return p.done }

// Finish simulates the stream reaching its end.
func (p *Playback) Finish() {
	p.once.Do(func() { close(p.done) })
}

// Paused reports whether the playback is paused.
func (p *Playback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// StopCount returns how many times Stop was called.
func (p *Playback) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
