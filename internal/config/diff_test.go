package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/phonemix/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)

	d := config.Diff(a, b)
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, strings.Replace(sampleYAML, "log_level: debug", "log_level: warn", 1))

	d := config.Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("diff = %+v, want log level warn", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("restart required for %v", d.RestartRequired)
	}
}

func TestDiff_PreviewWindow(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)
	b.Preview.WarmCount = 9
	b.Preview.Lookahead = 3

	d := config.Diff(a, b)
	if !d.PreviewWindowChanged {
		t.Fatal("preview window change not detected")
	}
	if d.WarmCount != 9 || d.Lookahead != 3 {
		t.Errorf("window = %d/%d, want 9/3", d.WarmCount, d.Lookahead)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("window change must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"seed", func(c *config.Config) { c.Project.Seed = 7 }, "project"},
		{"sentences", func(c *config.Config) { c.Project.Sentences = nil }, "project"},
		{"max combos", func(c *config.Config) { c.Engine.MaxCombos = 1 }, "engine"},
		{"manifest path", func(c *config.Config) { c.Engine.Manifests[0].Path = "x.yaml" }, "engine"},
		{"fps", func(c *config.Config) { c.Preview.FPS = 12 }, "preview"},
		{"workers", func(c *config.Config) { c.Workers.Count = 1 }, "workers"},
		{"dsn", func(c *config.Config) { c.Store.PostgresDSN = "" }, "store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := mustLoad(t, sampleYAML)
			b := mustLoad(t, sampleYAML)
			tt.mutate(b)

			d := config.Diff(a, b)
			if !slices.Equal(d.RestartRequired, []string{tt.section}) {
				t.Errorf("restart required = %v, want [%s]", d.RestartRequired, tt.section)
			}
			if d.LogLevelChanged || d.PreviewWindowChanged {
				t.Errorf("unexpected hot change: %+v", d)
			}
		})
	}
}
