package preview

import (
	"image"
	"image/color"
	"math"

	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/pkg/media"
)

const (
	loadingWidth  = 160
	loadingHeight = 90
	loadingDots   = 8
)

// NewLoading returns the placeholder shown while a combo's preview is still
// building: one second of a spinning dot animation at fps, with no audio.
// Play it with loop set.
func NewLoading(fps int) *Previewer {
	if fps < 1 {
		fps = 1
	}
	frames := make([]media.Frame, fps)
	for i := range frames {
		frames[i] = spinnerFrame(float64(i) / float64(fps))
	}
	p := NewPreviewer(project.ComboKey{}, frames, media.AudioBuffer{}, fps)
	p.loading = true
	return p
}

// spinnerFrame draws a ring of dots with the highlight at phase (0..1).
func spinnerFrame(phase float64) media.Frame {
	img := image.NewRGBA(image.Rect(0, 0, loadingWidth, loadingHeight))
	bg := color.RGBA{R: 16, G: 16, B: 20, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}

	cx, cy, r := loadingWidth/2, loadingHeight/2, 24.0
	lit := int(phase*loadingDots) % loadingDots
	for d := range loadingDots {
		a := 2 * math.Pi * float64(d) / loadingDots
		x := cx + int(r*math.Cos(a))
		y := cy + int(r*math.Sin(a))
		shade := uint8(80)
		if d == lit {
			shade = 240
		}
		fillSquare(img, x, y, 3, color.RGBA{R: shade, G: shade, B: shade, A: 255})
	}
	return img
}

func fillSquare(img *image.RGBA, x, y, half int, c color.RGBA) {
	for py := y - half; py <= y+half; py++ {
		for px := x - half; px <= x+half; px++ {
			img.SetRGBA(px, py, c)
		}
	}
}
