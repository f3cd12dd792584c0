// Package editor drives an editing session without any UI: it turns row
// edits into analyses, analyses into preview builds and preview builds into
// playback.
//
// Editor methods are meant to be called from the foreground goroutine that
// runs the session's [task.Foreground], like a UI event handler would be.
// They are nevertheless safe for concurrent use.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/phonemix/internal/analysis"
	"github.com/MrWong99/phonemix/internal/preview"
	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/internal/task"
	"github.com/MrWong99/phonemix/pkg/engine"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Config holds the preview scheduling knobs.
type Config struct {
	// FPS is the frame rate of the loading placeholder.
	FPS int

	// WarmCount is how many leading combos are pre-built after an analysis.
	WarmCount int

	// Lookahead is how many combos after the selected one are pre-built.
	Lookahead int
}

// Deps are the collaborators an Editor drives.
type Deps struct {
	Project  *project.Project
	Engine   engine.Engine
	Runner   *task.Runner
	Pool     *analysis.Pool
	Previews *preview.Manager
	Player   *Player
}

// Events are optional callbacks, delivered on the foreground.
type Events struct {
	Analyzed       func(seg *project.Segment, combos []*project.Combo)
	AnalysisFailed func(seg *project.Segment, err error)
	SourcesLoaded  func(videos []*media.Video)
	SourcesFailed  func(err error)
	Progress       func(p task.Progress)
}

// Option configures an [Editor].
type Option func(*Editor)

// WithEvents registers session callbacks.
func WithEvents(ev Events) Option {
	return func(e *Editor) { e.events = ev }
}

// WithContext sets the parent context of background work started by the
// editor.
func WithContext(ctx context.Context) Option {
	return func(e *Editor) { e.ctx = ctx }
}

// Editor coordinates one project's analyses, previews and playback.
type Editor struct {
	project  *project.Project
	engine   engine.Engine
	runner   *task.Runner
	pool     *analysis.Pool
	previews *preview.Manager
	player   *Player
	loading  *preview.Previewer
	events   Events
	ctx      context.Context

	mu        sync.Mutex
	warmCount int
	lookahead int

	// pending holds registered analyses waiting for the source videos.
	pending map[*project.Segment]bool

	// rerun marks segments edited while their analysis ran; they are
	// scheduled again once it finished.
	rerun map[*project.Segment]bool
}

// New returns an Editor over deps.
func New(cfg Config, deps Deps, opts ...Option) *Editor {
	e := &Editor{
		project:   deps.Project,
		engine:    deps.Engine,
		runner:    deps.Runner,
		pool:      deps.Pool,
		previews:  deps.Previews,
		player:    deps.Player,
		loading:   preview.NewLoading(cfg.FPS),
		ctx:       context.Background(),
		warmCount: cfg.WarmCount,
		lookahead: cfg.Lookahead,
		pending:   make(map[*project.Segment]bool),
		rerun:     make(map[*project.Segment]bool),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Project returns the edited project.
func (e *Editor) Project() *project.Project { return e.project }

// SetPreviewWindow changes the warm count and lookahead for future requests.
func (e *Editor) SetPreviewWindow(warmCount, lookahead int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warmCount = max(warmCount, 0)
	e.lookahead = max(lookahead, 0)
}

// ── Sources ──────────────────────────────────────────────────────────────────

// LoadSources fetches the project's source videos in the background. Rows
// added before the sources are ready are analysed once they are.
func (e *Editor) LoadSources() (*task.Task[[]*media.Video], error) {
	urls := e.project.URLs()
	return task.Go(e.ctx, e.runner,
		func(ctx context.Context, report func(task.Progress)) ([]*media.Video, error) {
			report(task.Progress{Message: "loading source videos", Index: 0, Total: len(urls)})
			videos, err := e.engine.GetVideos(ctx, urls)
			if err != nil {
				return nil, fmt.Errorf("editor: load sources: %w", err)
			}
			report(task.Progress{Message: "source videos loaded", Index: len(urls), Total: len(urls)})
			return videos, nil
		},
		task.Notifier[[]*media.Video]{
			Progress: func(p task.Progress) {
				if e.events.Progress != nil {
					e.events.Progress(p)
				}
			},
			Result: func(videos []*media.Video) {
				if err := e.project.SetVideos(videos); err != nil {
					slog.Warn("editor: sources already loaded", "err", err)
					return
				}
				slog.Info("editor: source videos ready", "videos", len(videos))
				e.launchPending()
				if e.events.SourcesLoaded != nil {
					e.events.SourcesLoaded(videos)
				}
			},
			Error: func(err error) {
				slog.Error("editor: loading source videos failed", "err", err)
				if e.events.SourcesFailed != nil {
					e.events.SourcesFailed(err)
				}
			},
		})
}

func (e *Editor) launchPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for seg := range e.pending {
		if err := e.pool.Launch(seg); err != nil {
			slog.Warn("editor: launching deferred analysis failed", "sentence", seg.Sentence(), "err", err)
		}
	}
	clear(e.pending)
}

// ── Rows ─────────────────────────────────────────────────────────────────────

// AddRow appends a row and schedules its analysis.
func (e *Editor) AddRow(sentence string) int {
	i, ch := e.project.AddRow(sentence)
	e.apply(ch)
	return i
}

// InsertRow inserts a row at i and schedules its analysis.
func (e *Editor) InsertRow(i int, sentence string) error {
	ch, err := e.project.InsertRow(i, sentence)
	if err != nil {
		return err
	}
	e.apply(ch)
	return nil
}

// DuplicateRow copies row i below itself.
func (e *Editor) DuplicateRow(i int) error {
	ch, err := e.project.DuplicateRow(i)
	if err != nil {
		return err
	}
	e.apply(ch)
	return nil
}

// RemoveRow deletes row i. Work for its sentence is interrupted and
// cancelled once no row uses the sentence any more.
func (e *Editor) RemoveRow(i int) error {
	ch, err := e.project.RemoveRow(i)
	if err != nil {
		return err
	}
	e.apply(ch)
	return nil
}

// SetRowSentence edits the sentence of row i.
func (e *Editor) SetRowSentence(i int, sentence string) error {
	ch, err := e.project.SetRowSentence(i, sentence)
	if err != nil {
		return err
	}
	e.apply(ch)
	return nil
}

// SelectCombo chooses combo index for row i and previews it.
func (e *Editor) SelectCombo(i, index int) error {
	seg, err := e.project.Row(i)
	if err != nil {
		return err
	}
	if seg.ChosenIndex() != index {
		seg.SetChosenIndex(index)
		e.mu.Lock()
		e.schedule(seg)
		e.mu.Unlock()
	}
	return e.ShowRow(i)
}

// ShowRow previews the chosen combo of row i. The loading placeholder plays
// until the preview is ready; the following combos are built in the
// background.
func (e *Editor) ShowRow(i int) error {
	seg, err := e.project.Row(i)
	if err != nil {
		return err
	}
	return e.showSegment(seg)
}

func (e *Editor) showSegment(seg *project.Segment) error {
	chosen := seg.ChosenCombo()
	if chosen == nil {
		e.player.Show(e.loading)
		return nil
	}
	if pv, ok := e.previews.Cached(chosen.Key); ok {
		e.player.Show(pv)
	} else {
		e.player.Show(e.loading)
		if _, err := e.previews.ComputePreviews(e.ctx, e.runner, []*project.Combo{chosen}, e.player.Show); err != nil {
			return fmt.Errorf("editor: request preview: %w", err)
		}
	}

	e.mu.Lock()
	lookahead := e.lookahead
	e.mu.Unlock()
	combos := seg.Combos()
	from := chosen.Key.Index + 1
	to := min(from+lookahead, len(combos))
	if from < to {
		if _, err := e.previews.ComputePreviews(e.ctx, e.runner, combos[from:to], nil); err != nil {
			return fmt.Errorf("editor: request lookahead: %w", err)
		}
	}
	return nil
}

// apply reacts to a row edit.
func (e *Editor) apply(ch project.Change) {
	for _, s := range ch.Released {
		e.previews.Cancel(s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ch.Dropped != nil {
		e.drop(ch.Dropped)
	}
	if ch.Created || ch.Renamed {
		e.schedule(ch.Segment)
	}
}

// drop stops work for a segment no row uses. Must be called with e.mu held.
func (e *Editor) drop(seg *project.Segment) {
	delete(e.rerun, seg)
	if e.pending[seg] {
		delete(e.pending, seg)
		if err := e.pool.Discard(seg); err != nil {
			slog.Debug("editor: discarding deferred analysis", "sentence", seg.Sentence(), "err", err)
		}
		return
	}
	if e.pool.Launched(seg) {
		_ = e.pool.Interrupt(seg)
	}
}

// schedule makes sure an analysis of seg's current sentence will run. Must
// be called with e.mu held.
func (e *Editor) schedule(seg *project.Segment) {
	if seg.State() == project.StateEmpty {
		// Nothing to analyse, but work for the previous sentence is moot.
		e.drop(seg)
		return
	}
	if e.pool.Has(seg) {
		// A registered task reads the sentence when it starts, so only a
		// running one is stale.
		if e.pool.Launched(seg) {
			_ = e.pool.Interrupt(seg)
			e.rerun[seg] = true
		}
		return
	}
	if err := e.pool.AddWorker(seg, e.hooks(seg)); err != nil {
		slog.Warn("editor: registering analysis failed", "sentence", seg.Sentence(), "err", err)
		return
	}
	if !e.project.VideosReady() {
		e.pending[seg] = true
		return
	}
	if err := e.pool.Launch(seg); err != nil {
		slog.Warn("editor: launching analysis failed", "sentence", seg.Sentence(), "err", err)
	}
}

func (e *Editor) hooks(seg *project.Segment) analysis.Hooks {
	return analysis.Hooks{
		Result: func(combos []*project.Combo) {
			e.warm(combos)
			if e.events.Analyzed != nil {
				e.events.Analyzed(seg, combos)
			}
		},
		Error: func(err error) {
			if errors.Is(err, engine.ErrInterrupted) {
				slog.Debug("editor: analysis interrupted", "sentence", seg.Sentence())
				return
			}
			if e.events.AnalysisFailed != nil {
				e.events.AnalysisFailed(seg, err)
			}
		},
		Finished: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.rerun[seg] {
				return
			}
			delete(e.rerun, seg)
			if cur, ok := e.project.Segment(seg.Sentence()); ok && cur == seg {
				e.schedule(seg)
			}
		},
	}
}

// warm pre-builds the leading combos of a fresh analysis.
func (e *Editor) warm(combos []*project.Combo) {
	e.mu.Lock()
	n := min(e.warmCount, len(combos))
	e.mu.Unlock()
	if n == 0 {
		return
	}
	if _, err := e.previews.ComputePreviews(e.ctx, e.runner, combos[:n], nil); err != nil {
		slog.Warn("editor: warming previews failed", "err", err)
	}
}

// Quit cancels all outstanding preview requests, interrupts all analyses,
// stops playback and waits for background work to drain or ctx to end.
func (e *Editor) Quit(ctx context.Context) error {
	cancelled := e.previews.CancelAll()
	e.pool.InterruptAll()

	e.mu.Lock()
	for seg := range e.pending {
		_ = e.pool.Discard(seg)
	}
	clear(e.pending)
	clear(e.rerun)
	e.mu.Unlock()

	e.player.Stop()
	e.runner.Close()
	slog.Info("editor: shutting down", "cancelled_previews", cancelled)
	return e.runner.Wait(ctx)
}
