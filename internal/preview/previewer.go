package preview

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Previewer plays the decoded frames and audio of one combo, or the animated
// placeholder shown while a combo is still building.
//
// Frames and audio are fixed at construction, so one Previewer can be cached
// and handed to many requesters. The playback state (cursor, pause flag,
// running goroutines) belongs to whichever player last called Run. All
// methods are safe for concurrent use.
type Previewer struct {
	key     project.ComboKey
	loading bool
	frames  []media.Frame
	audio   media.AudioBuffer
	fps     int

	mu       sync.Mutex
	cursor   int
	paused   bool
	stop     chan struct{} // closed by Stop; nil while idle
	done     chan struct{} // closed once the current run's goroutines exit
	playback media.Playback
}

// NewPreviewer returns an idle Previewer for key. fps below 1 is treated
// as 1.
func NewPreviewer(key project.ComboKey, frames []media.Frame, audio media.AudioBuffer, fps int) *Previewer {
	if fps < 1 {
		fps = 1
	}
	return &Previewer{key: key, frames: frames, audio: audio, fps: fps}
}

// Key returns the combo the preview was built for. ok is false for the
// loading placeholder.
func (p *Previewer) Key() (key project.ComboKey, ok bool) {
	return p.key, !p.loading
}

// Loading reports whether p is the loading placeholder.
func (p *Previewer) Loading() bool { return p.loading }

// Same reports whether p and o show the same thing: the same combo, or both
// the loading placeholder. Instance identity does not matter.
func (p *Previewer) Same(o *Previewer) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.loading || o.loading {
		return p.loading && o.loading
	}
	return p.key == o.key
}

// FrameCount returns the number of frames.
func (p *Previewer) FrameCount() int { return len(p.frames) }

// Frame returns frame i, or nil if out of range.
func (p *Previewer) Frame(i int) media.Frame {
	if i < 0 || i >= len(p.frames) {
		return nil
	}
	return p.frames[i]
}

// Audio returns the audio buffer. It is empty for the loading placeholder.
func (p *Previewer) Audio() media.AudioBuffer { return p.audio }

// FPS returns the frame rate the preview plays at.
func (p *Previewer) FPS() int { return p.fps }

// Cursor returns the index of the next frame to show.
func (p *Previewer) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Running reports whether a run was started and has neither been stopped
// nor reached its last frame.
func (p *Previewer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the current run ends, either because
// the last frame was shown without looping or because Stop was called. It is
// closed already if the preview never ran.
func (p *Previewer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Run starts playback from the first frame, stopping any previous run.
// Frames are pushed to display at the preview's frame rate; audio plays on
// out with its own clock. Either may be nil.
//
// With loop set the frame cursor wraps at the end and the audio restarts
// whenever its stream finishes; the two are not synchronised beyond starting
// together.
func (p *Previewer) Run(display media.Display, out media.AudioOutput, loop bool) {
	p.Stop()

	var pb media.Playback
	if out != nil && !p.audio.Empty() {
		var err error
		if pb, err = out.Play(p.audio); err != nil {
			slog.Warn("preview: audio playback failed, showing frames only", "combo", p.key, "err", err)
			pb = nil
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	p.mu.Lock()
	p.cursor = 0
	p.paused = false
	p.stop = stop
	p.done = done
	p.playback = pb
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.tick(display, loop, stop)
	}()
	if pb != nil && loop {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loopAudio(out, pb, stop)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
}

// Pause suspends frames and audio without moving the cursor.
func (p *Previewer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil || p.paused {
		return
	}
	p.paused = true
	if p.playback != nil {
		p.playback.Pause()
	}
}

// Unpause resumes after Pause.
func (p *Previewer) Unpause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil || !p.paused {
		return
	}
	p.paused = false
	if p.playback != nil {
		p.playback.Resume()
	}
}

// Stop halts frames and audio and releases the audio stream. It is
// idempotent, safe before Run, and waits for the run goroutines to exit, so
// it must not be called from [media.Display.ShowFrame].
func (p *Previewer) Stop() {
	p.mu.Lock()
	stop, done, pb := p.stop, p.done, p.playback
	p.stop, p.playback = nil, nil
	if stop != nil {
		close(stop)
	}
	p.mu.Unlock()

	if pb != nil {
		pb.Stop()
	}
	if stop != nil {
		<-done
	}
}

func (p *Previewer) tick(display media.Display, loop bool, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.paused {
			p.mu.Unlock()
			continue
		}
		if p.cursor >= len(p.frames) {
			if !loop || len(p.frames) == 0 {
				p.mu.Unlock()
				return
			}
			p.cursor = 0
		}
		f := p.frames[p.cursor]
		p.cursor++
		p.mu.Unlock()

		if display != nil && f != nil {
			display.ShowFrame(f)
		}
	}
}

// loopAudio restarts the audio each time its stream ends.
func (p *Previewer) loopAudio(out media.AudioOutput, cur media.Playback, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-cur.Done():
		}
		select {
		case <-stop:
			return
		default:
		}

		next, err := out.Play(p.audio)
		if err != nil {
			slog.Warn("preview: restarting looped audio failed", "combo", p.key, "err", err)
			return
		}

		p.mu.Lock()
		select {
		case <-stop:
			p.mu.Unlock()
			next.Stop()
			return
		default:
		}
		p.playback = next
		if p.paused {
			next.Pause()
		}
		p.mu.Unlock()
		cur = next
	}
}
