// Package project holds the editing model: a project of sentence rows, the
// [Segment] behind each row with its analysis state machine, and the
// [Combo] candidates an analysis produces.
//
// Within a project there is exactly one Segment instance per sentence. Rows
// with the same sentence share it, and the project reference-counts rows per
// sentence so that callers know when the last row of a sentence goes away
// and its pending work can be cancelled.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/phonemix/internal/resultstore"
	"github.com/MrWong99/phonemix/pkg/engine"
	"github.com/MrWong99/phonemix/pkg/media"
)

var (
	// ErrSourcesNotReady is returned by analyses started before
	// [Project.SetVideos].
	ErrSourcesNotReady = errors.New("project: source videos not loaded")

	// ErrSourcesLoaded is returned by a second [Project.SetVideos].
	ErrSourcesLoaded = errors.New("project: source videos already loaded")

	// ErrNoRow is returned for an out-of-range row index.
	ErrNoRow = errors.New("project: no such row")
)

// Option configures a [Project].
type Option func(*Project)

// WithResultStore memoizes engine results in store.
func WithResultStore(store resultstore.Store) Option {
	return func(p *Project) {
		p.store = store
	}
}

// Project is an editing session. All methods are safe for concurrent use.
type Project struct {
	seed    int64
	urls    []string
	sources string
	engine  engine.Engine
	store   resultstore.Store

	mu         sync.RWMutex
	videos     []*media.Video
	rows       []*Segment
	bySentence map[string]*Segment
	refs       map[*Segment]int
}

// New returns an empty project analysing sentences against the videos at
// urls with eng and seed.
func New(eng engine.Engine, seed int64, urls []string, opts ...Option) *Project {
	p := &Project{
		seed:       seed,
		urls:       slices.Clone(urls),
		sources:    resultstore.Fingerprint(urls),
		engine:     eng,
		bySentence: make(map[string]*Segment),
		refs:       make(map[*Segment]int),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Seed returns the engine seed.
func (p *Project) Seed() int64 { return p.seed }

// URLs returns the source video URLs.
func (p *Project) URLs() []string { return slices.Clone(p.urls) }

// SetVideos installs the loaded source videos. It may be called once.
func (p *Project) SetVideos(videos []*media.Video) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.videos != nil {
		return ErrSourcesLoaded
	}
	if videos == nil {
		videos = []*media.Video{}
	}
	p.videos = videos
	return nil
}

// VideosReady reports whether [Project.SetVideos] has been called.
func (p *Project) VideosReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.videos != nil
}

// Videos returns the loaded source videos, or nil before they are ready.
func (p *Project) Videos() []*media.Video {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.videos
}

// ── Rows ──────────────────────────────────────────────────────────────────────

// Change describes what a row edit did to the segment set.
type Change struct {
	// Segment is the segment now at the edited row (nil for removals).
	Segment *Segment

	// Created is set when Segment is a new instance that needs analysis.
	Created bool

	// Renamed is set when Segment was the only owner of its old sentence and
	// was edited in place. Any running analysis for it is stale.
	Renamed bool

	// Dropped is a segment no row references any more. Its running analysis
	// should be interrupted.
	Dropped *Segment

	// Released lists sentences no row uses any more. Pending previews for
	// them can be cancelled.
	Released []string
}

// AddRow appends a row for sentence and returns its index.
func (p *Project) AddRow(sentence string) (int, Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, created := p.acquire(sentence)
	p.rows = append(p.rows, seg)
	return len(p.rows) - 1, Change{Segment: seg, Created: created}
}

// InsertRow inserts a row for sentence at index i, shifting later rows.
func (p *Project) InsertRow(i int, sentence string) (Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i > len(p.rows) {
		return Change{}, fmt.Errorf("%w: %d", ErrNoRow, i)
	}
	seg, created := p.acquire(sentence)
	p.rows = slices.Insert(p.rows, i, seg)
	return Change{Segment: seg, Created: created}, nil
}

// DuplicateRow inserts a copy of row i right after it. The copy shares the
// segment instance.
func (p *Project) DuplicateRow(i int) (Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.rows) {
		return Change{}, fmt.Errorf("%w: %d", ErrNoRow, i)
	}
	seg := p.rows[i]
	p.refs[seg]++
	p.rows = slices.Insert(p.rows, i+1, seg)
	return Change{Segment: seg}, nil
}

// RemoveRow deletes row i.
func (p *Project) RemoveRow(i int) (Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.rows) {
		return Change{}, fmt.Errorf("%w: %d", ErrNoRow, i)
	}
	seg := p.rows[i]
	p.rows = slices.Delete(p.rows, i, i+1)
	var ch Change
	if p.release(seg) {
		ch.Dropped = seg
		ch.Released = []string{seg.Sentence()}
	}
	return ch, nil
}

// SetRowSentence changes the sentence of row i.
//
// If another row already uses sentence the row switches to that segment. If
// the row's segment is shared with other rows a new segment is created.
// Otherwise the segment is renamed in place.
func (p *Project) SetRowSentence(i int, sentence string) (Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.rows) {
		return Change{}, fmt.Errorf("%w: %d", ErrNoRow, i)
	}
	old := p.rows[i]
	oldSentence := old.Sentence()
	if oldSentence == sentence {
		return Change{Segment: old}, nil
	}

	if existing, ok := p.bySentence[sentence]; ok {
		p.refs[existing]++
		p.rows[i] = existing
		ch := Change{Segment: existing}
		if p.release(old) {
			ch.Dropped = old
			ch.Released = []string{oldSentence}
		}
		return ch, nil
	}

	if p.refs[old] > 1 {
		p.refs[old]--
		seg, _ := p.acquire(sentence)
		p.rows[i] = seg
		return Change{Segment: seg, Created: true}, nil
	}

	delete(p.bySentence, oldSentence)
	old.setSentence(sentence)
	p.bySentence[sentence] = old
	return Change{Segment: old, Renamed: true, Released: []string{oldSentence}}, nil
}

// Row returns the segment at row i.
func (p *Project) Row(i int) (*Segment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.rows) {
		return nil, fmt.Errorf("%w: %d", ErrNoRow, i)
	}
	return p.rows[i], nil
}

// Rows returns the segments of all rows in order. Shared segments appear
// once per row.
func (p *Project) Rows() []*Segment {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.rows)
}

// Len returns the number of rows.
func (p *Project) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rows)
}

// Segment returns the segment for sentence, if any row uses it.
func (p *Project) Segment(sentence string) (*Segment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seg, ok := p.bySentence[sentence]
	return seg, ok
}

// acquire returns the segment for sentence, creating it if needed, and takes
// a row reference. Must be called with p.mu held.
func (p *Project) acquire(sentence string) (*Segment, bool) {
	if seg, ok := p.bySentence[sentence]; ok {
		p.refs[seg]++
		return seg, false
	}
	seg := newSegment(p, sentence)
	p.bySentence[sentence] = seg
	p.refs[seg] = 1
	return seg, true
}

// release drops a row reference and reports whether it was the last one.
// Must be called with p.mu held.
func (p *Project) release(seg *Segment) bool {
	p.refs[seg]--
	if p.refs[seg] > 0 {
		return false
	}
	delete(p.refs, seg)
	if p.bySentence[seg.Sentence()] == seg {
		delete(p.bySentence, seg.Sentence())
	}
	return true
}

// ── Analysis ──────────────────────────────────────────────────────────────────

// analyze produces the combos for sentence, consulting the result store
// before the engine.
func (p *Project) analyze(ctx context.Context, sentence string) ([]*Combo, error) {
	videos := p.Videos()
	if videos == nil {
		return nil, ErrSourcesNotReady
	}
	key := resultstore.Key{Sentence: sentence, Seed: p.seed, Sources: p.sources}

	if p.store != nil {
		res, err := p.store.Get(ctx, key)
		switch {
		case err == nil:
			return resolveResult(videos, sentence, res)
		case !errors.Is(err, resultstore.ErrNotFound):
			slog.Warn("project: result store lookup failed, asking engine", "sentence", sentence, "err", err)
		}
	}

	candidates, err := p.engine.ProcessSentence(ctx, sentence, videos, p.seed)
	if err != nil {
		return nil, err
	}
	combos := make([]*Combo, len(candidates))
	res := make(resultstore.Result, len(candidates))
	for i, c := range candidates {
		combos[i] = &Combo{Key: ComboKey{Sentence: sentence, Index: i}, Phonemes: c}
		res[i] = combos[i].Refs()
	}

	if p.store != nil {
		if err := p.store.Put(ctx, key, res); err != nil {
			slog.Warn("project: storing analysis result failed", "sentence", sentence, "err", err)
		}
	}
	return combos, nil
}

// resolveResult turns stored references back into combos. A reference into
// a source that is not loaded fails the whole result.
func resolveResult(videos []*media.Video, sentence string, res resultstore.Result) ([]*Combo, error) {
	combos := make([]*Combo, len(res))
	for i, refs := range res {
		phonemes, err := media.ResolveAll(videos, refs)
		if err != nil {
			return nil, fmt.Errorf("project: load stored combo %d of %q: %w", i, sentence, err)
		}
		combos[i] = &Combo{Key: ComboKey{Sentence: sentence, Index: i}, Phonemes: phonemes}
	}
	return combos, nil
}
