package editor

import (
	"sync"

	"github.com/MrWong99/phonemix/internal/preview"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Player shows one preview at a time on a display and audio output.
//
// The last preview handed to Show wins, whatever order the builds finished
// in. Showing a preview that is the same as the running one is a no-op, so
// duplicate deliveries for one combo do not restart playback.
type Player struct {
	display media.Display
	out     media.AudioOutput
	loop    bool

	mu      sync.Mutex
	current *preview.Previewer
}

// NewPlayer returns a Player. loop applies to combo previews; the loading
// placeholder always loops.
func NewPlayer(display media.Display, out media.AudioOutput, loop bool) *Player {
	return &Player{display: display, out: out, loop: loop}
}

// Show stops the current preview and runs pv.
func (p *Player) Show(pv *preview.Previewer) {
	if pv == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pv.Same(p.current) && p.current.Running() {
		return
	}
	if p.current != nil {
		p.current.Stop()
	}
	p.current = pv
	pv.Run(p.display, p.out, p.loop || pv.Loading())
}

// Current returns the preview last shown, or nil.
func (p *Player) Current() *preview.Previewer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop stops the current preview.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Stop()
	}
}
