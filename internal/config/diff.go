package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; anything
// else is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PreviewWindowChanged is true when warm_count or lookahead changed.
	PreviewWindowChanged bool
	WarmCount            int
	Lookahead            int

	// RestartRequired names changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PreviewWindowChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{
		WarmCount: new.Preview.WarmCount,
		Lookahead: new.Preview.Lookahead,
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Preview.WarmCount != new.Preview.WarmCount || old.Preview.Lookahead != new.Preview.Lookahead {
		d.PreviewWindowChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Project.Seed != new.Project.Seed ||
		!slices.Equal(old.Project.Sources, new.Project.Sources) ||
		!slices.Equal(old.Project.Sentences, new.Project.Sentences) {
		d.RestartRequired = append(d.RestartRequired, "project")
	}
	if !engineEqual(old.Engine, new.Engine) {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	op, np := old.Preview, new.Preview
	op.WarmCount, op.Lookahead = np.WarmCount, np.Lookahead
	if op != np {
		d.RestartRequired = append(d.RestartRequired, "preview")
	}
	if old.Workers != new.Workers {
		d.RestartRequired = append(d.RestartRequired, "workers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	return d
}

func engineEqual(a, b EngineConfig) bool {
	return slices.Equal(a.Manifests, b.Manifests) &&
		a.MaxCombos == b.MaxCombos &&
		a.ChoicesPerWord == b.ChoicesPerWord &&
		a.PhoneticThreshold == b.PhoneticThreshold &&
		a.FuzzyThreshold == b.FuzzyThreshold
}
