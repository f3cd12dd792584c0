package editor_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/phonemix/internal/analysis"
	"github.com/MrWong99/phonemix/internal/editor"
	"github.com/MrWong99/phonemix/internal/framecache"
	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/internal/preview"
	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/internal/task"
	"github.com/MrWong99/phonemix/pkg/engine"
	enginemock "github.com/MrWong99/phonemix/pkg/engine/mock"
	"github.com/MrWong99/phonemix/pkg/media"
	mediamock "github.com/MrWong99/phonemix/pkg/media/mock"
)

type fixture struct {
	eng      *enginemock.Engine
	dec      *mediamock.Decoder
	display  *mediamock.Display
	previews *preview.Manager
	player   *editor.Player
	pool     *analysis.Pool
	ed       *editor.Editor

	analyzed chan string
	failed   chan error
	loaded   chan struct{}
}

func source() *media.Video {
	words := []*media.Word{{Text: "hello"}, {Text: "world"}}
	for wi, w := range words {
		for i := range 2 {
			start := time.Duration(wi*2+i) * 100 * time.Millisecond
			w.Phonemes = append(w.Phonemes, &media.Phoneme{Label: w.Text[i : i+1], Start: start, End: start + 100*time.Millisecond})
		}
	}
	v := &media.Video{URL: "src://corpus", Subtitles: []*media.Subtitle{{Words: words}}}
	media.Link(v)
	return v
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

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

	v := source()
	hello := v.Subtitles[0].Words[0].Phonemes
	world := v.Subtitles[0].Words[1].Phonemes
	eng := &enginemock.Engine{
		Videos: []*media.Video{v},
		Results: map[string][]engine.Candidate{
			"hello":       {hello, hello[:1], hello[1:]},
			"world":       {world},
			"hello world": {append(append(engine.Candidate{}, hello...), world...)},
		},
	}

	f := &fixture{
		eng:      eng,
		dec:      &mediamock.Decoder{},
		display:  &mediamock.Display{},
		analyzed: make(chan string, 16),
		failed:   make(chan error, 16),
		loaded:   make(chan struct{}, 1),
	}
	runner := task.NewRunner(fg, 4, task.WithRunnerMetrics(m))
	frames := framecache.New(f.dec, 25, framecache.WithMetrics(m))
	f.previews = preview.NewManager(preview.NewClipBuilder(frames, 2), preview.WithMetrics(m))
	f.pool = analysis.NewPool(runner, analysis.WithMetrics(m))
	f.player = editor.NewPlayer(f.display, &mediamock.AudioOutput{}, false)

	proj := project.New(eng, 3, []string{v.URL})
	f.ed = editor.New(
		editor.Config{FPS: 25, WarmCount: 2, Lookahead: 1},
		editor.Deps{
			Project:  proj,
			Engine:   eng,
			Runner:   runner,
			Pool:     f.pool,
			Previews: f.previews,
			Player:   f.player,
		},
		editor.WithEvents(editor.Events{
			Analyzed:       func(seg *project.Segment, _ []*project.Combo) { f.analyzed <- seg.Sentence() },
			AnalysisFailed: func(_ *project.Segment, err error) { f.failed <- err },
			SourcesLoaded:  func([]*media.Video) { f.loaded <- struct{}{} },
		}),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.ed.Quit(ctx); err != nil {
			t.Errorf("Quit: %v", err)
		}
	})
	return f
}

func (f *fixture) loadSources(t *testing.T) {
	t.Helper()
	if _, err := f.ed.LoadSources(); err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	select {
	case <-f.loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("sources not loaded")
	}
}

func expectAnalyzed(t *testing.T, f *fixture, want string) {
	t.Helper()
	select {
	case got := <-f.analyzed:
		if got != want {
			t.Fatalf("analyzed %q, want %q", got, want)
		}
	case err := <-f.failed:
		t.Fatalf("analysis failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("%q was not analysed", want)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEditor_DefersAnalysisUntilSourcesLoad(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ed.AddRow("hello")
	f.ed.AddRow("")

	time.Sleep(20 * time.Millisecond)
	if n := f.eng.ProcessCount(); n != 0 {
		t.Fatalf("engine called %d times before sources loaded", n)
	}

	f.loadSources(t)
	expectAnalyzed(t, f, "hello")

	seg, _ := f.ed.Project().Row(0)
	if seg.State() != project.StateAnalyzed {
		t.Errorf("state = %v, want analyzed", seg.State())
	}
	empty, _ := f.ed.Project().Row(1)
	if empty.State() != project.StateEmpty {
		t.Errorf("empty row state = %v, want empty", empty.State())
	}

	// The first WarmCount combos are built after analysis.
	combos := seg.Combos()
	eventually(t, "warm previews", func() bool {
		_, ok0 := f.previews.Cached(combos[0].Key)
		_, ok1 := f.previews.Cached(combos[1].Key)
		return ok0 && ok1
	})
	if _, ok := f.previews.Cached(combos[2].Key); ok {
		t.Error("combo beyond the warm count was built")
	}
}

func TestEditor_EditDuringAnalysisReruns(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.loadSources(t)

	block := make(chan struct{})
	f.eng.SetBlock(block)
	started := make(chan string, 4)
	f.eng.SetStarted(started)
	i := f.ed.AddRow("hello")
	<-started

	if err := f.ed.SetRowSentence(i, "world"); err != nil {
		t.Fatalf("SetRowSentence: %v", err)
	}
	close(block)

	expectAnalyzed(t, f, "world")
	seg, _ := f.ed.Project().Row(i)
	if seg.Sentence() != "world" || seg.State() != project.StateAnalyzed {
		t.Fatalf("segment = %q/%v, want world/analyzed", seg.Sentence(), seg.State())
	}
	if len(f.analyzed) != 0 {
		t.Errorf("stale analysis reported: %q", <-f.analyzed)
	}
}

func TestEditor_RemoveLastRowInterrupts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.loadSources(t)

	f.eng.SetBlock(make(chan struct{}))
	started := make(chan string, 4)
	f.eng.SetStarted(started)
	f.ed.AddRow("hello")
	f.ed.AddRow("hello")
	<-started

	if err := f.ed.RemoveRow(0); err != nil {
		t.Fatalf("RemoveRow: %v", err)
	}
	seg, _ := f.ed.Project().Row(0)
	if !f.pool.Has(seg) {
		t.Fatal("analysis stopped while another row still uses the sentence")
	}

	if err := f.ed.RemoveRow(0); err != nil {
		t.Fatalf("RemoveRow: %v", err)
	}
	eventually(t, "worker deregistration", func() bool { return f.pool.Len() == 0 })
	select {
	case s := <-f.analyzed:
		t.Fatalf("removed sentence %q reported as analysed", s)
	case err := <-f.failed:
		t.Fatalf("interrupt surfaced as failure: %v", err)
	default:
	}
}

func TestEditor_RenameToEmptyInterrupts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.loadSources(t)

	f.eng.SetBlock(make(chan struct{}))
	started := make(chan string, 4)
	f.eng.SetStarted(started)
	i := f.ed.AddRow("hello")
	<-started

	if err := f.ed.SetRowSentence(i, ""); err != nil {
		t.Fatalf("SetRowSentence: %v", err)
	}
	seg, _ := f.ed.Project().Row(i)
	if seg.State() != project.StateEmpty {
		t.Fatalf("state = %v, want empty", seg.State())
	}
	eventually(t, "worker deregistration", func() bool { return f.pool.Len() == 0 })
	if f.pool.Has(seg) {
		t.Error("analysis of the old sentence still registered")
	}
	select {
	case s := <-f.analyzed:
		t.Fatalf("%q reported as analysed after the row was cleared", s)
	case err := <-f.failed:
		t.Fatalf("interrupt surfaced as failure: %v", err)
	default:
	}
}

func TestEditor_ShowRowPlaysChosenCombo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.loadSources(t)
	i := f.ed.AddRow("hello")
	expectAnalyzed(t, f, "hello")

	if err := f.ed.SelectCombo(i, 1); err != nil {
		t.Fatalf("SelectCombo: %v", err)
	}
	seg, _ := f.ed.Project().Row(i)
	want := project.ComboKey{Sentence: "hello", Index: 1}
	eventually(t, "chosen preview", func() bool {
		cur := f.player.Current()
		if cur == nil {
			return false
		}
		key, ok := cur.Key()
		return ok && key == want
	})
	if seg.ChosenIndex() != 1 {
		t.Errorf("chosen = %d, want 1", seg.ChosenIndex())
	}

	// Lookahead builds the next combo too.
	eventually(t, "lookahead preview", func() bool {
		_, ok := f.previews.Cached(project.ComboKey{Sentence: "hello", Index: 2})
		return ok
	})

	// Changing the chosen index re-runs the analysis.
	expectAnalyzed(t, f, "hello")
	eventually(t, "frames on display", func() bool { return f.display.Shown() > 0 })
}

func TestEditor_DuplicateRowSharesSegment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.loadSources(t)
	f.ed.AddRow("world")
	expectAnalyzed(t, f, "world")

	if err := f.ed.DuplicateRow(0); err != nil {
		t.Fatalf("DuplicateRow: %v", err)
	}
	a, _ := f.ed.Project().Row(0)
	b, _ := f.ed.Project().Row(1)
	if a != b {
		t.Fatal("duplicated row does not share the segment")
	}
	time.Sleep(20 * time.Millisecond)
	if f.eng.ProcessCount() != 1 {
		t.Errorf("engine calls = %d, want 1", f.eng.ProcessCount())
	}
}
