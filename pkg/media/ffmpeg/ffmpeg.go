// Package ffmpeg implements [media.Decoder] by shelling out to the ffmpeg
// binary. Video is decoded to raw RGBA frames at the requested rate and
// audio to little-endian int16 mono PCM.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"time"

	"github.com/MrWong99/phonemix/pkg/media"
)

// Compile-time interface assertion.
var _ media.Decoder = (*Decoder)(nil)

const (
	defaultWidth      = 320
	defaultHeight     = 180
	defaultSampleRate = 44100
)

// Option configures a [Decoder].
type Option func(*Decoder)

// WithBinary overrides the ffmpeg executable. Default: "ffmpeg" from PATH.
func WithBinary(path string) Option {
	return func(d *Decoder) {
		if path != "" {
			d.binary = path
		}
	}
}

// WithSize sets the output frame size. Non-positive values are ignored.
func WithSize(width, height int) Option {
	return func(d *Decoder) {
		if width > 0 && height > 0 {
			d.width, d.height = width, height
		}
	}
}

// WithSampleRate sets the audio output rate. Zero keeps the default.
func WithSampleRate(rate int) Option {
	return func(d *Decoder) {
		if rate > 0 {
			d.sampleRate = rate
		}
	}
}

// Decoder decodes phoneme slices with ffmpeg. It is safe for concurrent use;
// every call spawns its own processes.
type Decoder struct {
	binary     string
	width      int
	height     int
	sampleRate int
}

// New returns a Decoder with the given options applied.
func New(opts ...Option) *Decoder {
	d := &Decoder{
		binary:     "ffmpeg",
		width:      defaultWidth,
		height:     defaultHeight,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// DecodeClip implements [media.Decoder].
func (d *Decoder) DecodeClip(ctx context.Context, ph *media.Phoneme, fps int) (*media.Clip, error) {
	if ph.Video == nil || ph.Video.Path == "" {
		return nil, fmt.Errorf("%w: phoneme %s has no media file", media.ErrDecode, ph.Ref)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("%w: fps must be positive, got %d", media.ErrDecode, fps)
	}

	want := int(math.Ceil(ph.Duration().Seconds() * float64(fps)))
	frames, err := d.decodeFrames(ctx, ph, fps, want)
	if err != nil {
		return nil, err
	}
	pcm, err := d.decodeAudio(ctx, ph)
	if err != nil {
		return nil, err
	}
	return &media.Clip{
		Frames: frames,
		Audio:  media.AudioBuffer{PCM: pcm, SampleRate: d.sampleRate},
	}, nil
}

func (d *Decoder) decodeFrames(ctx context.Context, ph *media.Phoneme, fps, want int) ([]media.Frame, error) {
	args := append(seekArgs(ph),
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", fps, d.width, d.height),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: video pipe: %v", media.ErrDecode, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", media.ErrDecode, err)
	}

	frameSize := d.width * d.height * 4
	r := bufio.NewReaderSize(stdout, frameSize)
	frames := make([]media.Frame, 0, want)
	for len(frames) < want {
		img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
		if _, err := io.ReadFull(r, img.Pix); err != nil {
			break
		}
		frames = append(frames, img)
	}
	// Drain so ffmpeg can exit when it produced more frames than needed.
	_, _ = io.Copy(io.Discard, r)
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg video %s: %v: %s", media.ErrDecode, ph.Ref, err, stderr.Bytes())
	}
	if len(frames) == 0 && want > 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no frames for %s", media.ErrDecode, ph.Ref)
	}
	// Pad short reads with the last frame so every phoneme has exactly
	// ceil(duration*fps) frames.
	for len(frames) < want {
		frames = append(frames, frames[len(frames)-1])
	}
	return frames, nil
}

func (d *Decoder) decodeAudio(ctx context.Context, ph *media.Phoneme) ([]byte, error) {
	args := append(seekArgs(ph),
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg audio %s: %v: %s", media.ErrDecode, ph.Ref, err, stderr.Bytes())
	}
	return stdout.Bytes(), nil
}

func seekArgs(ph *media.Phoneme) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", seconds(ph.Start),
		"-t", seconds(ph.Duration()),
		"-i", ph.Video.Path,
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
