// Package config provides the configuration schema, loader and file watcher
// for the phonemix editor service.
package config

import "time"

// LogLevel controls log verbosity for the phonemix server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [LoadFromReader] to zero-valued fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultFPS               = 25
	DefaultWarmCount         = 3
	DefaultLookahead         = 2
	DefaultDecodeParallelism = 4
	DefaultWidth             = 640
	DefaultHeight            = 360
	DefaultSampleRate        = 48000
	DefaultWorkers           = 4
	DefaultJPEGQuality       = 75
)

// Config is the root configuration structure for phonemix.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Project ProjectConfig `yaml:"project"`
	Engine  EngineConfig  `yaml:"engine"`
	Preview PreviewConfig `yaml:"preview"`
	Workers WorkersConfig `yaml:"workers"`
	Store   StoreConfig   `yaml:"store"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, the health probes and
	// the preview websocket (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins are the websocket origin patterns accepted by the
	// preview sink besides same-origin requests.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProjectConfig describes the project opened at startup.
type ProjectConfig struct {
	// Seed drives every random choice of the mixing engine.
	Seed int64 `yaml:"seed"`

	// Sources are the URLs of the source videos. They are fixed for the
	// lifetime of the project.
	Sources []string `yaml:"sources"`

	// Sentences are the initial rows, in order. Empty strings are allowed.
	Sentences []string `yaml:"sentences"`
}

// EngineConfig tunes the phonetic sentence-mixing engine.
type EngineConfig struct {
	// Manifests maps source URLs to corpus manifest files.
	Manifests []ManifestConfig `yaml:"manifests"`

	// MaxCombos caps the number of combos per sentence. Zero keeps the
	// engine default.
	MaxCombos int `yaml:"max_combos"`

	// ChoicesPerWord caps the source words considered per sentence word.
	ChoicesPerWord int `yaml:"choices_per_word"`

	// PhoneticThreshold is the minimum Jaro-Winkler similarity for words
	// whose Double Metaphone codes overlap, in [0, 1].
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum similarity for words without a phonetic
	// match, in [0, 1].
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// ManifestConfig binds a source URL to the manifest describing its
// subtitles, words and phonemes.
type ManifestConfig struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
}

// PreviewConfig controls preview construction and playback.
type PreviewConfig struct {
	FPS  int  `yaml:"fps"`
	Loop bool `yaml:"loop"`

	// WarmCount is how many leading combos are built right after an
	// analysis. Hot-reloadable.
	WarmCount int `yaml:"warm_count"`

	// Lookahead is how many combos after the selected one are built in the
	// background. Hot-reloadable.
	Lookahead int `yaml:"lookahead"`

	// DecodeParallelism bounds concurrent clip decodes within one build.
	DecodeParallelism int `yaml:"decode_parallelism"`

	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	SampleRate int    `yaml:"sample_rate"`
	FFmpegPath string `yaml:"ffmpeg_path"`

	// JPEGQuality is the frame quality sent to websocket viewers (1-100).
	JPEGQuality int `yaml:"jpeg_quality"`
}

// WorkersConfig sizes the background task runner.
type WorkersConfig struct {
	Count int `yaml:"count"`
}

// StoreConfig configures the analysis result store.
type StoreConfig struct {
	// PostgresDSN enables the PostgreSQL store. When empty, results are
	// memoized in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Breaker guards calls to PostgreSQL.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings. Zero values keep the
// breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}
