// Package media defines the source-media model used by phonemix: source
// videos, their subtitles, words and phonemes, plus the decoded frame and
// audio types that previews are assembled from.
//
// The collaborator interfaces at the edges of the preview pipeline also live
// here:
//
//   - [Decoder] turns a [Phoneme] into a decoded [Clip].
//   - [Display] accepts decoded frames for presentation.
//   - [AudioOutput] plays an [AudioBuffer] and returns a [Playback] handle.
//
// This package lives under pkg/ because decoders, displays and audio devices
// are expected to be implemented outside the editor core.
package media

import (
	"image"
	"time"
)

// Frame is a single decoded video frame. Frames are shared between previews
// once decoded and must be treated as immutable.
type Frame = *image.RGBA

// Video is a source video with its subtitle track. Phonemes reference their
// owning video so they can be decoded without consulting the project.
type Video struct {
	// URL is the canonical source address the video was ingested from. It is
	// the first component of every [PhonemeRef] into this video.
	URL string `yaml:"url"`

	// Path is the local media file decoders read from.
	Path string `yaml:"path"`

	// Subtitles is the ordered subtitle track.
	Subtitles []*Subtitle `yaml:"subtitles"`
}

// Subtitle is one timed subtitle line of a source video.
type Subtitle struct {
	Index int           `yaml:"-"`
	Start time.Duration `yaml:"start"`
	End   time.Duration `yaml:"end"`
	Text  string        `yaml:"text"`
	Words []*Word       `yaml:"words"`
}

// Word is a spoken word inside a subtitle line.
type Word struct {
	Index    int        `yaml:"-"`
	Text     string     `yaml:"text"`
	Phonemes []*Phoneme `yaml:"phonemes"`
}

// Phoneme is the atomic slice of source media that combos are built from.
// Start and End are absolute offsets into the owning video.
type Phoneme struct {
	Ref   PhonemeRef    `yaml:"-"`
	Label string        `yaml:"label"`
	Start time.Duration `yaml:"start"`
	End   time.Duration `yaml:"end"`

	// Video is the owning source video. Set by [Link].
	Video *Video `yaml:"-"`
}

// Duration returns the length of the phoneme. Inverted bounds yield zero.
func (p *Phoneme) Duration() time.Duration {
	if p.End <= p.Start {
		return 0
	}
	return p.End - p.Start
}

// Clip is the decoded content of one phoneme: frames sampled at a fixed
// rate and the matching audio.
type Clip struct {
	Frames []Frame
	Audio  AudioBuffer
}
