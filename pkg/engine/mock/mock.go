// Package mock provides a scripted implementation of [engine.Engine] for use
// in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/phonemix/pkg/engine"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Compile-time interface assertion.
var _ engine.Engine = (*Engine)(nil)

// Engine is a mock [engine.Engine]. Set the exported fields before use;
// inspect the call records afterwards. Use [Engine.SetBlock] and
// [Engine.SetStarted] once calls may already be in flight.
type Engine struct {
	mu sync.Mutex

	// Results maps a sentence to the candidates returned for it. Sentences
	// not in the map return no candidates.
	Results map[string][]engine.Candidate

	// ProcessErr, when non-nil, is returned by ProcessSentence.
	ProcessErr error

	// Block, when non-nil, makes ProcessSentence wait until the channel is
	// closed or the context is done. A done context yields
	// [engine.ErrInterrupted].
	Block chan struct{}

	// Started, when non-nil, receives the sentence as soon as
	// ProcessSentence is entered.
	Started chan string

	// Videos is returned by GetVideos.
	Videos []*media.Video

	// GetVideosErr, when non-nil, is returned by GetVideos.
	GetVideosErr error

	// ProcessCalls records the sentences passed to ProcessSentence.
	ProcessCalls []string

	// GetVideosCalls records the url lists passed to GetVideos.
	GetVideosCalls [][]string
}

// ProcessSentence implements [engine.Engine].
func (e *Engine) ProcessSentence(ctx context.Context, sentence string, _ []*media.Video, _ int64) ([]engine.Candidate, error) {
	e.mu.Lock()
	e.ProcessCalls = append(e.ProcessCalls, sentence)
	block, started := e.Block, e.Started
	res, err := e.Results[sentence], e.ProcessErr
	e.mu.Unlock()

	if started != nil {
		started <- sentence
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	if err := engine.Checkpoint(ctx); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetVideos implements [engine.Engine].
func (e *Engine) GetVideos(_ context.Context, urls []string) ([]*media.Video, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.GetVideosCalls = append(e.GetVideosCalls, urls)
	if e.GetVideosErr != nil {
		return nil, e.GetVideosErr
	}
	return e.Videos, nil
}

// SetBlock replaces Block. Calls already waiting keep their old channel.
func (e *Engine) SetBlock(ch chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Block = ch
}

// SetStarted replaces Started.
func (e *Engine) SetStarted(ch chan string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Started = ch
}

// ProcessCount returns how many times ProcessSentence was called.
func (e *Engine) ProcessCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ProcessCalls)
}
