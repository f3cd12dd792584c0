package media

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingSource is returned by [Resolve] when a [PhonemeRef] points at a
// video, subtitle, word or phoneme that is not part of the loaded sources.
var ErrMissingSource = errors.New("media: missing source reference")

// PhonemeRef addresses a phoneme by position inside the loaded source set.
// Refs are plain values so combos can be persisted without decoded media.
type PhonemeRef struct {
	VideoURL string `json:"video_url" yaml:"video_url"`
	Subtitle int    `json:"subtitle" yaml:"subtitle"`
	Word     int    `json:"word" yaml:"word"`
	Phoneme  int    `json:"phoneme" yaml:"phoneme"`
}

// String returns the stable textual form "url#subtitle/word/phoneme". It is
// used as the phoneme identity key by caches.
func (r PhonemeRef) String() string {
	return r.VideoURL + "#" + strconv.Itoa(r.Subtitle) + "/" + strconv.Itoa(r.Word) + "/" + strconv.Itoa(r.Phoneme)
}

// ParseRef parses the output of [PhonemeRef.String].
func ParseRef(s string) (PhonemeRef, error) {
	i := strings.LastIndexByte(s, '#')
	if i < 0 {
		return PhonemeRef{}, fmt.Errorf("media: parse ref %q: missing '#'", s)
	}
	parts := strings.Split(s[i+1:], "/")
	if len(parts) != 3 {
		return PhonemeRef{}, fmt.Errorf("media: parse ref %q: want 3 indices, got %d", s, len(parts))
	}
	var idx [3]int
	for k, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return PhonemeRef{}, fmt.Errorf("media: parse ref %q: %w", s, err)
		}
		idx[k] = n
	}
	return PhonemeRef{VideoURL: s[:i], Subtitle: idx[0], Word: idx[1], Phoneme: idx[2]}, nil
}

// Link assigns indices, refs and back-pointers for every subtitle, word and
// phoneme of v. Call it after building or decoding a Video.
func Link(v *Video) {
	for si, sub := range v.Subtitles {
		sub.Index = si
		for wi, w := range sub.Words {
			w.Index = wi
			for pi, ph := range w.Phonemes {
				ph.Video = v
				ph.Ref = PhonemeRef{VideoURL: v.URL, Subtitle: si, Word: wi, Phoneme: pi}
			}
		}
	}
}

// Resolve looks ref up in videos. The returned error wraps [ErrMissingSource]
// and names the first missing level.
func Resolve(videos []*Video, ref PhonemeRef) (*Phoneme, error) {
	var video *Video
	for _, v := range videos {
		if v.URL == ref.VideoURL {
			video = v
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w: video %q is not loaded", ErrMissingSource, ref.VideoURL)
	}
	if ref.Subtitle < 0 || ref.Subtitle >= len(video.Subtitles) {
		return nil, fmt.Errorf("%w: video %q has no subtitle %d", ErrMissingSource, ref.VideoURL, ref.Subtitle)
	}
	sub := video.Subtitles[ref.Subtitle]
	if ref.Word < 0 || ref.Word >= len(sub.Words) {
		return nil, fmt.Errorf("%w: subtitle %d of %q has no word %d", ErrMissingSource, ref.Subtitle, ref.VideoURL, ref.Word)
	}
	word := sub.Words[ref.Word]
	if ref.Phoneme < 0 || ref.Phoneme >= len(word.Phonemes) {
		return nil, fmt.Errorf("%w: word %q has no phoneme %d", ErrMissingSource, word.Text, ref.Phoneme)
	}
	return word.Phonemes[ref.Phoneme], nil
}

// ResolveAll resolves every ref in order, stopping at the first failure.
func ResolveAll(videos []*Video, refs []PhonemeRef) ([]*Phoneme, error) {
	out := make([]*Phoneme, 0, len(refs))
	for _, r := range refs {
		ph, err := Resolve(videos, r)
		if err != nil {
			return nil, err
		}
		out = append(out, ph)
	}
	return out, nil
}
