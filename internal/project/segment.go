package project

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/phonemix/pkg/engine"
)

// State is the analysis state of a [Segment].
type State int

const (
	// StateNeedAnalysis is the initial state and the state after any edit or
	// failed analysis.
	StateNeedAnalysis State = iota

	// StateAnalyzing means an analysis is running for the current sentence.
	StateAnalyzing

	// StateAnalyzed means the combos match the current sentence.
	StateAnalyzed

	// StateEmpty is reported for a segment whose sentence is empty. Such a
	// segment has no combos and is never analysed.
	StateEmpty
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateNeedAnalysis:
		return "need-analysis"
	case StateAnalyzing:
		return "analyzing"
	case StateAnalyzed:
		return "analyzed"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Segment is one sentence row of the edited video together with its
// candidate combos and analysis state.
//
// The combo list is published through an atomic pointer and only ever
// replaced as a whole, so readers see either the previous or the new list.
// All methods are safe for concurrent use.
type Segment struct {
	project *Project

	mu       sync.Mutex
	sentence string
	chosen   int
	state    State

	// gen increments on every edit; an analysis only publishes its result
	// if no edit happened while it ran.
	gen uint64

	combos atomic.Pointer[[]*Combo]
}

func newSegment(p *Project, sentence string) *Segment {
	return &Segment{project: p, sentence: sentence}
}

// Sentence returns the current sentence.
func (s *Segment) Sentence() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentence
}

// ChosenIndex returns the index of the chosen combo.
func (s *Segment) ChosenIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chosen
}

// State returns the analysis state. An empty sentence always reports
// [StateEmpty].
func (s *Segment) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentence == "" {
		return StateEmpty
	}
	return s.state
}

// setSentence changes the sentence and invalidates prior results. Rows are
// renamed through [Project.SetRowSentence], which keeps the per-sentence
// index consistent.
func (s *Segment) setSentence(sentence string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentence == sentence {
		return
	}
	s.sentence = sentence
	s.chosen = 0
	s.invalidate()
}

// SetChosenIndex selects another combo. Like a sentence edit it forces the
// segment back to [StateNeedAnalysis]; a running analysis is not stopped and
// will not publish its result.
func (s *Segment) SetChosenIndex(i int) {
	if i < 0 {
		i = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chosen == i {
		return
	}
	s.chosen = i
	s.invalidate()
}

// invalidate must be called with s.mu held.
func (s *Segment) invalidate() {
	s.gen++
	s.state = StateNeedAnalysis
}

// Combos returns the current candidate list. The slice must not be
// modified. It is nil before the first successful analysis and for an empty
// sentence.
//
// After a sentence edit the list still holds the combos of the previous
// sentence until the next analysis completes; their keys tell them apart.
func (s *Segment) Combos() []*Combo {
	if s.Sentence() == "" {
		return nil
	}
	if p := s.combos.Load(); p != nil {
		return *p
	}
	return nil
}

// Combo returns combo i of the current list if that list belongs to the
// current sentence, or nil.
func (s *Segment) Combo(i int) *Combo {
	combos := s.Combos()
	if i < 0 || i >= len(combos) {
		return nil
	}
	c := combos[i]
	if c.Key.Sentence != s.Sentence() {
		return nil
	}
	return c
}

// ChosenCombo returns the chosen combo, or nil if it is not available for
// the current sentence.
func (s *Segment) ChosenCombo() *Combo {
	return s.Combo(s.ChosenIndex())
}

// Analyze asks the engine for the combos of the current sentence against
// the project's source videos and seed.
//
// On success the combo list is replaced and the state becomes
// [StateAnalyzed]. If ctx is cancelled the engine aborts cooperatively; the
// returned error wraps [engine.ErrInterrupted], the state returns to
// [StateNeedAnalysis] and the combos are left unchanged. An edit made while
// the analysis ran is reported the same way. Any other failure also leaves
// the segment in [StateNeedAnalysis] so it can be retried.
//
// Analyze on an empty sentence does nothing.
func (s *Segment) Analyze(ctx context.Context) ([]*Combo, error) {
	s.mu.Lock()
	sentence, gen := s.sentence, s.gen
	if sentence == "" {
		s.mu.Unlock()
		return nil, nil
	}
	s.state = StateAnalyzing
	s.mu.Unlock()

	combos, err := s.project.analyze(ctx, sentence)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// An edit already moved the state to StateNeedAnalysis.
		if err == nil {
			err = fmt.Errorf("%w: segment edited during analysis", engine.ErrInterrupted)
		}
		return nil, err
	}
	if err != nil {
		s.state = StateNeedAnalysis
		return nil, err
	}
	s.combos.Store(&combos)
	s.state = StateAnalyzed
	return combos, nil
}
