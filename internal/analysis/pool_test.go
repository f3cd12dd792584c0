package analysis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/phonemix/internal/analysis"
	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/internal/task"
	"github.com/MrWong99/phonemix/pkg/engine"
	enginemock "github.com/MrWong99/phonemix/pkg/engine/mock"
	"github.com/MrWong99/phonemix/pkg/media"
)

type fixture struct {
	eng  *enginemock.Engine
	proj *project.Project
	pool *analysis.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fg := task.NewForeground()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fg.Run(context.Background())
	}()
	t.Cleanup(func() {
		fg.Close()
		<-done
	})

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	w := &media.Word{Text: "hello", Phonemes: []*media.Phoneme{
		{Label: "h", End: 100 * time.Millisecond},
		{Label: "eh", Start: 100 * time.Millisecond, End: 200 * time.Millisecond},
	}}
	v := &media.Video{URL: "src://a", Subtitles: []*media.Subtitle{{Words: []*media.Word{w}}}}
	media.Link(v)

	eng := &enginemock.Engine{Results: map[string][]engine.Candidate{
		"hello": {w.Phonemes, w.Phonemes[:1]},
	}}
	proj := project.New(eng, 1, []string{v.URL})
	if err := proj.SetVideos([]*media.Video{v}); err != nil {
		t.Fatalf("SetVideos: %v", err)
	}

	r := task.NewRunner(fg, 4, task.WithRunnerMetrics(m))
	return &fixture{
		eng:  eng,
		proj: proj,
		pool: analysis.NewPool(r, analysis.WithMetrics(m)),
	}
}

func (f *fixture) segment(t *testing.T, sentence string) *project.Segment {
	t.Helper()
	_, ch := f.proj.AddRow(sentence)
	return ch.Segment
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for analysis")
	}
}

func TestPool_AddLaunchResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seg := f.segment(t, "hello")

	var (
		mu     sync.Mutex
		states []project.State
	)
	f.pool.OnStateChange(func(s *project.Segment, st project.State) {
		if s != seg {
			t.Errorf("listener got segment %q", s.Sentence())
		}
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	var got []*project.Combo
	finished := make(chan struct{})
	err := f.pool.AddWorker(seg, analysis.Hooks{
		Result:   func(c []*project.Combo) { got = c },
		Error:    func(err error) { t.Errorf("unexpected error: %v", err) },
		Finished: func() { close(finished) },
	})
	if err != nil {
		t.Fatalf("AddWorker: %v", err)
	}
	if !f.pool.Has(seg) || f.pool.Launched(seg) {
		t.Fatal("worker should be registered but not launched")
	}
	if f.eng.ProcessCount() != 0 {
		t.Fatal("engine called before Launch")
	}

	if err := f.pool.Launch(seg); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := f.pool.Launch(seg); !errors.Is(err, analysis.ErrWorkerRunning) {
		t.Fatalf("second Launch err = %v, want ErrWorkerRunning", err)
	}
	wait(t, finished)

	if len(got) != 2 {
		t.Fatalf("result = %d combos, want 2", len(got))
	}
	if f.pool.Has(seg) {
		t.Error("worker still registered after Finished")
	}
	if seg.State() != project.StateAnalyzed {
		t.Errorf("state = %v, want analyzed", seg.State())
	}

	// The final state change is emitted right after Finished on the
	// foreground; post a barrier to observe it.
	barrier := make(chan struct{})
	if err := f.pool.AddWorker(seg, analysis.Hooks{Finished: func() { close(barrier) }}); err != nil {
		t.Fatalf("AddWorker: %v", err)
	}
	if err := f.pool.Launch(seg); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	wait(t, barrier)

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != project.StateAnalyzing || states[1] != project.StateAnalyzed {
		t.Errorf("states = %v, want [analyzing analyzed ...]", states)
	}
}

func TestPool_DuplicateUntilFinished(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	block := make(chan struct{})
	f.eng.SetBlock(block)
	started := make(chan string, 1)
	f.eng.SetStarted(started)
	seg := f.segment(t, "hello")

	finished := make(chan struct{})
	if err := f.pool.AddWorker(seg, analysis.Hooks{Finished: func() { close(finished) }}); err != nil {
		t.Fatalf("AddWorker: %v", err)
	}
	if err := f.pool.Launch(seg); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	<-started

	if err := f.pool.AddWorker(seg, analysis.Hooks{}); !errors.Is(err, analysis.ErrDuplicateWorker) {
		t.Fatalf("second AddWorker err = %v, want ErrDuplicateWorker", err)
	}

	close(block)
	wait(t, finished)

	if err := f.pool.AddWorker(seg, analysis.Hooks{}); err != nil {
		t.Fatalf("AddWorker after completion: %v", err)
	}
}

func TestPool_Interrupt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.eng.SetBlock(make(chan struct{}))
	started := make(chan string, 1)
	f.eng.SetStarted(started)
	seg := f.segment(t, "hello")

	errc := make(chan error, 1)
	finished := make(chan struct{})
	err := f.pool.AddWorker(seg, analysis.Hooks{
		Result:   func([]*project.Combo) { t.Error("Result after interrupt") },
		Error:    func(err error) { errc <- err },
		Finished: func() { close(finished) },
	})
	if err != nil {
		t.Fatalf("AddWorker: %v", err)
	}
	if err := f.pool.Launch(seg); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	<-started

	if err := f.pool.Interrupt(seg); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	wait(t, finished)

	if err := <-errc; !errors.Is(err, engine.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if seg.State() != project.StateNeedAnalysis {
		t.Errorf("state = %v, want need-analysis", seg.State())
	}
}

func TestPool_MissingWorker(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seg := f.segment(t, "hello")

	if err := f.pool.Launch(seg); !errors.Is(err, analysis.ErrNoWorker) {
		t.Errorf("Launch err = %v, want ErrNoWorker", err)
	}
	if err := f.pool.Interrupt(seg); !errors.Is(err, analysis.ErrNoWorker) {
		t.Errorf("Interrupt err = %v, want ErrNoWorker", err)
	}
}

func TestPool_Discard(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seg := f.segment(t, "hello")

	if err := f.pool.AddWorker(seg, analysis.Hooks{}); err != nil {
		t.Fatalf("AddWorker: %v", err)
	}
	if err := f.pool.Discard(seg); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if f.pool.Has(seg) {
		t.Fatal("worker still registered after Discard")
	}
	if err := f.pool.Discard(seg); !errors.Is(err, analysis.ErrNoWorker) {
		t.Errorf("second Discard err = %v, want ErrNoWorker", err)
	}

	block := make(chan struct{})
	f.eng.SetBlock(block)
	started := make(chan string, 1)
	f.eng.SetStarted(started)
	finished := make(chan struct{})
	if err := f.pool.AddWorker(seg, analysis.Hooks{Finished: func() { close(finished) }}); err != nil {
		t.Fatalf("AddWorker: %v", err)
	}
	if err := f.pool.Launch(seg); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	<-started
	if err := f.pool.Discard(seg); !errors.Is(err, analysis.ErrWorkerRunning) {
		t.Errorf("Discard of launched worker err = %v, want ErrWorkerRunning", err)
	}
	close(block)
	wait(t, finished)
}

func TestPool_InterruptAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.eng.SetBlock(make(chan struct{}))
	started := make(chan string, 2)
	f.eng.SetStarted(started)
	f.eng.Results["world"] = nil

	var wg sync.WaitGroup
	var interrupted sync.Map
	for _, s := range []string{"hello", "world"} {
		seg := f.segment(t, s)
		wg.Add(1)
		err := f.pool.AddWorker(seg, analysis.Hooks{
			Error: func(err error) {
				if errors.Is(err, engine.ErrInterrupted) {
					interrupted.Store(s, true)
				}
			},
			Finished: wg.Done,
		})
		if err != nil {
			t.Fatalf("AddWorker(%q): %v", s, err)
		}
		if err := f.pool.Launch(seg); err != nil {
			t.Fatalf("Launch(%q): %v", s, err)
		}
	}
	<-started
	<-started

	f.pool.InterruptAll()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	wait(t, done)

	for _, s := range []string{"hello", "world"} {
		if _, ok := interrupted.Load(s); !ok {
			t.Errorf("%q was not interrupted", s)
		}
	}
	if f.pool.Len() != 0 {
		t.Errorf("Len = %d after all finished, want 0", f.pool.Len())
	}
}
