package media_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/phonemix/pkg/media"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func testVideo() *media.Video {
	v := &media.Video{
		URL: "https://example.com/v1",
		Subtitles: []*media.Subtitle{{
			Text: "hello world",
			Words: []*media.Word{
				{Text: "hello", Phonemes: []*media.Phoneme{
					{Label: "HH", Start: 0, End: 100 * time.Millisecond},
					{Label: "AH", Start: 100 * time.Millisecond, End: 200 * time.Millisecond},
				}},
				{Text: "world", Phonemes: []*media.Phoneme{
					{Label: "W", Start: 300 * time.Millisecond, End: 450 * time.Millisecond},
				}},
			},
		}},
	}
	media.Link(v)
	return v
}

func TestLink_AssignsRefs(t *testing.T) {
	t.Parallel()

	v := testVideo()
	ph := v.Subtitles[0].Words[1].Phonemes[0]
	want := media.PhonemeRef{VideoURL: v.URL, Subtitle: 0, Word: 1, Phoneme: 0}
	if ph.Ref != want {
		t.Errorf("Ref = %+v, want %+v", ph.Ref, want)
	}
	if ph.Video != v {
		t.Error("phoneme back-pointer not set")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	videos := []*media.Video{testVideo()}
	url := videos[0].URL

	tests := []struct {
		name    string
		ref     media.PhonemeRef
		wantErr bool
	}{
		{"found", media.PhonemeRef{VideoURL: url, Subtitle: 0, Word: 0, Phoneme: 1}, false},
		{"unknown video", media.PhonemeRef{VideoURL: "https://example.com/other"}, true},
		{"subtitle out of range", media.PhonemeRef{VideoURL: url, Subtitle: 3}, true},
		{"word out of range", media.PhonemeRef{VideoURL: url, Word: 9}, true},
		{"phoneme out of range", media.PhonemeRef{VideoURL: url, Word: 1, Phoneme: 1}, true},
		{"negative index", media.PhonemeRef{VideoURL: url, Word: -1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ph, err := media.Resolve(videos, tc.ref)
			if tc.wantErr {
				if !errors.Is(err, media.ErrMissingSource) {
					t.Fatalf("err = %v, want ErrMissingSource", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if ph.Ref != tc.ref {
				t.Errorf("resolved ref = %+v, want %+v", ph.Ref, tc.ref)
			}
		})
	}
}

func TestParseRef_RoundTripsString(t *testing.T) {
	t.Parallel()

	ref := media.PhonemeRef{VideoURL: "https://youtube.com/watch?v=a#b", Subtitle: 4, Word: 2, Phoneme: 7}
	got, err := media.ParseRef(ref.String())
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	if got != ref {
		t.Errorf("ParseRef = %+v, want %+v", got, ref)
	}
	if _, err := media.ParseRef("no-separator"); err == nil {
		t.Error("expected error for missing separator")
	}
}

func TestConcat_ResamplesToFirstRate(t *testing.T) {
	t.Parallel()

	a := media.AudioBuffer{PCM: samplesToBytes([]int16{1, 2, 3, 4}), SampleRate: 16000}
	b := media.AudioBuffer{PCM: samplesToBytes([]int16{10, 10, 10, 10, 10, 10, 10, 10}), SampleRate: 32000}

	out := media.Concat(media.AudioBuffer{}, a, b)
	if out.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", out.SampleRate)
	}
	got := bytesToSamples(out.PCM)
	if len(got) != 8 {
		t.Fatalf("samples = %d, want 8", len(got))
	}
	for i, want := range []int16{1, 2, 3, 4} {
		if got[i] != want {
			t.Errorf("sample %d = %d, want %d", i, got[i], want)
		}
	}
	if got[4] != 10 {
		t.Errorf("resampled sample = %d, want 10", got[4])
	}
}

func TestAudioBuffer_Duration(t *testing.T) {
	t.Parallel()

	buf := media.AudioBuffer{PCM: make([]byte, 2*8000), SampleRate: 16000}
	if got := buf.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got)
	}
	if (media.AudioBuffer{}).Duration() != 0 {
		t.Error("zero buffer should have zero duration")
	}
}

func TestPhoneme_Duration(t *testing.T) {
	t.Parallel()

	ph := &media.Phoneme{Start: time.Second, End: 500 * time.Millisecond}
	if ph.Duration() != 0 {
		t.Errorf("inverted phoneme duration = %v, want 0", ph.Duration())
	}
}
