package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields a default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults sets every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	p := &cfg.Preview
	if p.FPS == 0 {
		p.FPS = DefaultFPS
	}
	if p.WarmCount == 0 {
		p.WarmCount = DefaultWarmCount
	}
	if p.Lookahead == 0 {
		p.Lookahead = DefaultLookahead
	}
	if p.DecodeParallelism == 0 {
		p.DecodeParallelism = DefaultDecodeParallelism
	}
	if p.Width == 0 {
		p.Width = DefaultWidth
	}
	if p.Height == 0 {
		p.Height = DefaultHeight
	}
	if p.SampleRate == 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.JPEGQuality == 0 {
		p.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = DefaultWorkers
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Project
	seen := make(map[string]int, len(cfg.Project.Sources))
	for i, src := range cfg.Project.Sources {
		if src == "" {
			errs = append(errs, fmt.Errorf("project.sources[%d] is empty", i))
			continue
		}
		if prev, ok := seen[src]; ok {
			errs = append(errs, fmt.Errorf("project.sources[%d] %q is a duplicate of project.sources[%d]", i, src, prev))
		}
		seen[src] = i
	}
	if len(cfg.Project.Sources) == 0 && len(cfg.Project.Sentences) > 0 {
		slog.Warn("project.sentences are set but project.sources is empty; no combos can be found")
	}

	// Engine
	manifests := make(map[string]bool, len(cfg.Engine.Manifests))
	for i, m := range cfg.Engine.Manifests {
		prefix := fmt.Sprintf("engine.manifests[%d]", i)
		if m.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
		if m.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		manifests[m.URL] = true
	}
	for _, src := range cfg.Project.Sources {
		if src != "" && !manifests[src] {
			slog.Warn("project source has no engine manifest; loading it will fail", "source", src)
		}
	}
	if cfg.Engine.MaxCombos < 0 {
		errs = append(errs, fmt.Errorf("engine.max_combos %d must not be negative", cfg.Engine.MaxCombos))
	}
	if cfg.Engine.ChoicesPerWord < 0 {
		errs = append(errs, fmt.Errorf("engine.choices_per_word %d must not be negative", cfg.Engine.ChoicesPerWord))
	}
	if t := cfg.Engine.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("engine.phonetic_threshold %.2f is out of range [0, 1]", t))
	}
	if t := cfg.Engine.FuzzyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("engine.fuzzy_threshold %.2f is out of range [0, 1]", t))
	}

	// Preview
	p := cfg.Preview
	if p.FPS < 1 || p.FPS > 120 {
		errs = append(errs, fmt.Errorf("preview.fps %d is out of range [1, 120]", p.FPS))
	}
	if p.WarmCount < 0 {
		errs = append(errs, fmt.Errorf("preview.warm_count %d must not be negative", p.WarmCount))
	}
	if p.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("preview.lookahead %d must not be negative", p.Lookahead))
	}
	if p.DecodeParallelism < 1 {
		errs = append(errs, fmt.Errorf("preview.decode_parallelism %d must be positive", p.DecodeParallelism))
	}
	if p.Width < 1 || p.Height < 1 {
		errs = append(errs, fmt.Errorf("preview size %dx%d must be positive", p.Width, p.Height))
	}
	if p.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("preview.sample_rate %d is below 8000", p.SampleRate))
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("preview.jpeg_quality %d is out of range [1, 100]", p.JPEGQuality))
	}

	// Workers
	if cfg.Workers.Count < 1 {
		errs = append(errs, fmt.Errorf("workers.count %d must be positive", cfg.Workers.Count))
	}

	// Store
	b := cfg.Store.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("store.breaker values must not be negative"))
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; analysis results are kept in memory only")
	}

	return errors.Join(errs...)
}
