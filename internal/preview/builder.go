package preview

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/phonemix/internal/framecache"
	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Builder constructs the Previewer for a combo. Build is expensive and is
// only called by a [Manager] holding the admission slot.
type Builder interface {
	Build(ctx context.Context, combo *project.Combo) (*Previewer, error)
}

// Compile-time interface assertion.
var _ Builder = (*ClipBuilder)(nil)

// ClipBuilder builds previews from decoded phoneme clips held in a frame
// cache.
type ClipBuilder struct {
	frames      *framecache.Cache
	parallelism int
}

// NewClipBuilder returns a ClipBuilder that fetches up to parallelism
// phoneme clips at once. parallelism below 1 is treated as 1.
func NewClipBuilder(frames *framecache.Cache, parallelism int) *ClipBuilder {
	if parallelism < 1 {
		parallelism = 1
	}
	return &ClipBuilder{frames: frames, parallelism: parallelism}
}

// Build fetches the clip of every phoneme in combo and joins them.
//
// The frame sequence is sampled on the combo's own timeline: frame i shows
// whatever phoneme covers i/fps seconds, so the preview has
// ceil(total duration * fps) frames however the phoneme boundaries fall.
// Audio is concatenated at the first phoneme's sample rate.
func (b *ClipBuilder) Build(ctx context.Context, combo *project.Combo) (*Previewer, error) {
	fps := b.frames.FPS()
	clips := make([]*media.Clip, len(combo.Phonemes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for i, ph := range combo.Phonemes {
		g.Go(func() error {
			clip, err := b.frames.Get(gctx, ph)
			if err != nil {
				return fmt.Errorf("preview: clip for %s: %w", ph.Ref, err)
			}
			clips[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	audio := make([]media.AudioBuffer, len(clips))
	for i, c := range clips {
		audio[i] = c.Audio
	}
	frames := sampleFrames(combo.Phonemes, clips, fps)
	return NewPreviewer(combo.Key, frames, media.Concat(audio...), fps), nil
}

// FrameCount returns ceil(d*fps).
func FrameCount(d time.Duration, fps int) int {
	if d <= 0 || fps <= 0 {
		return 0
	}
	return int((int64(d)*int64(fps) + int64(time.Second) - 1) / int64(time.Second))
}

func sampleFrames(phonemes []*media.Phoneme, clips []*media.Clip, fps int) []media.Frame {
	if len(phonemes) == 0 {
		return nil
	}
	bounds := make([]time.Duration, len(phonemes)+1)
	for i, ph := range phonemes {
		bounds[i+1] = bounds[i] + ph.Duration()
	}

	n := FrameCount(bounds[len(phonemes)], fps)
	frames := make([]media.Frame, n)
	k := 0
	var last media.Frame
	for i := range n {
		t := time.Duration(int64(i) * int64(time.Second) / int64(fps))
		for k < len(phonemes)-1 && t >= bounds[k+1] {
			k++
		}
		if f := frameAt(clips[k], t-bounds[k], fps); f != nil {
			last = f
		}
		frames[i] = last
	}
	fillLeading(frames)
	return frames
}

// fillLeading gives leading frameless slots the first real frame.
func fillLeading(frames []media.Frame) {
	first := -1
	for i, f := range frames {
		if f != nil {
			first = i
			break
		}
	}
	for i := 0; i < first; i++ {
		frames[i] = frames[first]
	}
}

func frameAt(clip *media.Clip, offset time.Duration, fps int) media.Frame {
	if clip == nil || len(clip.Frames) == 0 {
		return nil
	}
	i := int(int64(offset) * int64(fps) / int64(time.Second))
	if i >= len(clip.Frames) {
		i = len(clip.Frames) - 1
	}
	return clip.Frames[i]
}
