package media

import (
	"log/slog"
	"time"
)

// AudioBuffer holds little-endian int16 mono PCM at SampleRate Hz.
type AudioBuffer struct {
	PCM        []byte
	SampleRate int
}

// Duration returns the play time of the buffer.
func (b AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	samples := len(b.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(b.SampleRate)
}

// Empty reports whether the buffer holds no samples.
func (b AudioBuffer) Empty() bool { return len(b.PCM) < 2 }

// Concat joins buffers in order. The result uses the sample rate of the
// first non-empty buffer; buffers at other rates are resampled to it.
func Concat(buffers ...AudioBuffer) AudioBuffer {
	var out AudioBuffer
	total := 0
	for _, b := range buffers {
		total += len(b.PCM)
	}
	for _, b := range buffers {
		if b.Empty() {
			continue
		}
		if out.SampleRate == 0 {
			out.SampleRate = b.SampleRate
			out.PCM = make([]byte, 0, total)
		}
		pcm := b.PCM
		if b.SampleRate != out.SampleRate {
			slog.Debug("media: resampling phoneme audio", "from", b.SampleRate, "to", out.SampleRate)
			pcm = ResampleMono16(pcm, b.SampleRate, out.SampleRate)
		}
		out.PCM = append(out.PCM, pcm[:len(pcm)&^1]...)
	}
	return out
}

// ResampleMono16 converts mono int16 PCM from srcRate to dstRate with linear
// interpolation. Invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sampleAt(pcm, idx+1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}
