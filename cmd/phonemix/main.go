// Command phonemix runs a headless sentence-mixing session: it loads the
// project from its configuration, analyses every row, streams previews of
// the chosen combos to websocket viewers and serves metrics and health
// probes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrWong99/phonemix/internal/analysis"
	"github.com/MrWong99/phonemix/internal/config"
	"github.com/MrWong99/phonemix/internal/editor"
	"github.com/MrWong99/phonemix/internal/framecache"
	"github.com/MrWong99/phonemix/internal/health"
	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/internal/preview"
	"github.com/MrWong99/phonemix/internal/previewsink"
	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/internal/resilience"
	"github.com/MrWong99/phonemix/internal/resultstore"
	"github.com/MrWong99/phonemix/internal/resultstore/postgres"
	"github.com/MrWong99/phonemix/internal/task"
	"github.com/MrWong99/phonemix/pkg/engine/phonetic"
	"github.com/MrWong99/phonemix/pkg/media"
	"github.com/MrWong99/phonemix/pkg/media/ffmpeg"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "phonemix.yaml", "path to the YAML configuration file")
	cycle := flag.Duration("cycle", 0, "advance the previewed row at this interval (0 keeps the first row)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "phonemix: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "phonemix: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("phonemix starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"sources", len(cfg.Project.Sources),
		"rows", len(cfg.Project.Sentences),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "phonemix",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Result store ──────────────────────────────────────────────────────────
	store, checks, closeStore, err := openStore(ctx, cfg.Store, metrics)
	if err != nil {
		slog.Error("failed to open result store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Session ───────────────────────────────────────────────────────────────
	eng := phonetic.New(engineOptions(cfg.Engine)...)
	proj := project.New(eng, cfg.Project.Seed, cfg.Project.Sources, project.WithResultStore(store))

	dec := ffmpeg.New(
		ffmpeg.WithBinary(cfg.Preview.FFmpegPath),
		ffmpeg.WithSize(cfg.Preview.Width, cfg.Preview.Height),
		ffmpeg.WithSampleRate(cfg.Preview.SampleRate),
	)
	frames := framecache.New(dec, cfg.Preview.FPS, framecache.WithMetrics(metrics))
	previews := preview.NewManager(
		preview.NewClipBuilder(frames, cfg.Preview.DecodeParallelism),
		preview.WithMetrics(metrics),
	)

	fg := task.NewForeground()
	runner := task.NewRunner(fg, cfg.Workers.Count, task.WithRunnerMetrics(metrics))
	pool := analysis.NewPool(runner, analysis.WithMetrics(metrics), analysis.WithContext(ctx))
	pool.OnStateChange(func(seg *project.Segment, st project.State) {
		slog.Debug("segment state changed", "sentence", seg.Sentence(), "state", st)
	})

	hub := previewsink.New(
		previewsink.WithJPEGQuality(cfg.Preview.JPEGQuality),
		previewsink.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		previewsink.WithMetrics(metrics),
	)
	player := editor.NewPlayer(hub, hub, cfg.Preview.Loop)

	var sourcesLoaded atomic.Bool
	sess := &session{proj: proj}
	ed := editor.New(
		editor.Config{
			FPS:       cfg.Preview.FPS,
			WarmCount: cfg.Preview.WarmCount,
			Lookahead: cfg.Preview.Lookahead,
		},
		editor.Deps{
			Project:  proj,
			Engine:   eng,
			Runner:   runner,
			Pool:     pool,
			Previews: previews,
			Player:   player,
		},
		editor.WithContext(ctx),
		editor.WithEvents(editor.Events{
			Analyzed: sess.analyzed,
			AnalysisFailed: func(seg *project.Segment, err error) {
				slog.Warn("analysis failed", "sentence", seg.Sentence(), "err", err)
			},
			SourcesLoaded: func(videos []*media.Video) {
				sourcesLoaded.Store(true)
				slog.Info("sources loaded", "videos", len(videos))
			},
			SourcesFailed: func(err error) {
				slog.Error("sources failed to load; analyses stay pending", "err", err)
			},
			Progress: func(p task.Progress) {
				slog.Info(p.Message, "done", p.Index, "total", p.Total)
			},
		}),
	)
	sess.ed = ed

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		fg.Post(func() { applyDiff(d, level, ed) })
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	checks = append(checks, health.Condition("sources", sourcesLoaded.Load, "source videos not loaded"))
	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", tel.Handler)
	mux.Handle("/preview", hub)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// ── Start the session on the foreground ──────────────────────────────────
	fg.Post(func() {
		if _, err := ed.LoadSources(); err != nil {
			slog.Error("failed to start loading sources", "err", err)
		}
		for _, s := range cfg.Project.Sentences {
			ed.AddRow(s)
		}
		sess.show()
	})
	if *cycle > 0 {
		go sess.cycle(ctx, fg, *cycle)
	}

	slog.Info("session ready, press Ctrl+C to shut down")

	runCtx, cancelRun := context.WithCancel(ctx)
	go func() {
		select {
		case err := <-srvErr:
			slog.Error("http server error", "err", err)
			cancelRun()
		case <-runCtx.Done():
		}
	}()
	if err := fg.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("foreground loop error", "err", err)
	}
	cancelRun()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	code := 0
	if err := ed.Quit(shutdownCtx); err != nil {
		slog.Error("editor shutdown error", "err", err)
		code = 1
	}
	fg.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// ── Session ───────────────────────────────────────────────────────────────────

// session tracks which row is on the preview sink. Its methods run on the
// foreground, apart from cycle.
type session struct {
	proj    *project.Project
	ed      *editor.Editor
	current int
}

// analyzed shows the current row as soon as its analysis lands.
func (s *session) analyzed(seg *project.Segment, combos []*project.Combo) {
	slog.Info("sentence analysed", "sentence", seg.Sentence(), "combos", len(combos))
	if row, err := s.proj.Row(s.current); err == nil && row == seg {
		s.show()
	}
}

func (s *session) show() {
	if s.proj.Len() == 0 {
		return
	}
	if err := s.ed.ShowRow(s.current); err != nil {
		slog.Warn("show row failed", "row", s.current, "err", err)
	}
}

func (s *session) cycle(ctx context.Context, fg *task.Foreground, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fg.Post(func() {
				if n := s.proj.Len(); n > 0 {
					s.current = (s.current + 1) % n
					s.show()
				}
			})
		}
	}
}

// ── Wiring helpers ────────────────────────────────────────────────────────────

func engineOptions(cfg config.EngineConfig) []phonetic.Option {
	var opts []phonetic.Option
	for _, m := range cfg.Manifests {
		opts = append(opts, phonetic.WithManifest(m.URL, m.Path))
	}
	if cfg.MaxCombos > 0 {
		opts = append(opts, phonetic.WithMaxCombos(cfg.MaxCombos))
	}
	if cfg.ChoicesPerWord > 0 {
		opts = append(opts, phonetic.WithChoicesPerWord(cfg.ChoicesPerWord))
	}
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(cfg.PhoneticThreshold))
	}
	if cfg.FuzzyThreshold > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(cfg.FuzzyThreshold))
	}
	return opts
}

// openStore returns the analysis result store. Without a DSN results live in
// memory; with one, PostgreSQL is guarded by a circuit breaker that falls
// back to memory.
func openStore(ctx context.Context, cfg config.StoreConfig, m *observe.Metrics) (resultstore.Store, []health.Checker, func(), error) {
	local := &resultstore.MemStore{}
	if cfg.PostgresDSN == "" {
		return local, nil, func() {}, nil
	}

	pg, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	guarded := resultstore.NewGuarded(pg, local, resilience.BreakerConfig{
		Name:         "postgres",
		MaxFailures:  cfg.Breaker.MaxFailures,
		ResetTimeout: cfg.Breaker.ResetTimeout,
		HalfOpenMax:  cfg.Breaker.HalfOpenMax,
	}, m)
	slog.Info("result store connected", "backend", "postgres")
	return guarded, []health.Checker{health.Ping("store", pg)}, pg.Close, nil
}

func applyDiff(d config.ConfigDiff, level *slog.LevelVar, ed *editor.Editor) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PreviewWindowChanged {
		ed.SetPreviewWindow(d.WarmCount, d.Lookahead)
		slog.Info("preview window changed", "warm_count", d.WarmCount, "lookahead", d.Lookahead)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
