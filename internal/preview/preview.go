// Package preview implements the PreviewEncoder of spec.md §4.12: draws
// detection/track overlays onto a frame, encodes JPEG, and publishes to
// a per-camera newest-frame-wins buffer for the external HTTP layer to
// serve on the port portalloc assigned. Drawing is grounded directly on
// internal/stream/mjpeg.go's drawBox/drawLabel in the marcopennelli-orbo
// reference repo (manual image.RGBA rectangle drawing plus
// golang.org/x/image/font/basicfont for labels).
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/technosupport/visionserve/internal/model"
)

// Overlay is one drawable annotation: a class-colored box plus an
// optional label (track id, attribute summary, etc).
type Overlay struct {
	Box   model.BBox
	Color color.RGBA
	Label string
}

// Encoder owns the newest-frame-wins publish buffer for one camera.
type Encoder struct {
	quality int

	mu     sync.Mutex
	latest []byte
	seq    uint64
}

// New constructs an Encoder. quality<=0 defaults to 85 (the JPEG quality
// the teacher's mjpeg encoder uses).
func New(quality int) *Encoder {
	if quality <= 0 {
		quality = 85
	}
	return &Encoder{quality: quality}
}

// Publish draws overlays onto f, encodes JPEG, and stores it as the
// newest frame, discarding whatever was previously buffered — consumers
// never see a backlog, per spec.md §4.12.
func (e *Encoder) Publish(f model.Frame, overlays []Overlay) error {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	fillFromRGB24(img, f)

	for _, ov := range overlays {
		drawBox(img, ov.Box, ov.Color, 2)
		if ov.Label != "" {
			drawLabel(img, ov.Box.X, ov.Box.Y-5, ov.Label, ov.Color)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return fmt.Errorf("preview: encode: %w", err)
	}

	e.mu.Lock()
	e.latest = buf.Bytes()
	e.seq = f.Seq
	e.mu.Unlock()
	return nil
}

// Snapshot returns the newest published JPEG, if any.
func (e *Encoder) Snapshot() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return nil, false
	}
	out := make([]byte, len(e.latest))
	copy(out, e.latest)
	return out, true
}

func fillFromRGB24(dst *image.RGBA, f model.Frame) {
	stride := f.Width * 3
	for y := 0; y < f.Height; y++ {
		row := y * stride
		if row+stride > len(f.Pixels) {
			break
		}
		for x := 0; x < f.Width; x++ {
			i := row + x*3
			dst.Set(x, y, color.RGBA{R: f.Pixels[i], G: f.Pixels[i+1], B: f.Pixels[i+2], A: 255})
		}
	}
}

func drawBox(img *image.RGBA, b model.BBox, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	x, y, w, h := b.X, b.Y, b.W, b.H
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if i < 0 {
				continue
			}
			if yy := y + t; yy >= 0 && yy < bounds.Max.Y {
				img.Set(i, yy, c)
			}
			if yy := y + h - t; yy >= 0 && yy < bounds.Max.Y {
				img.Set(i, yy, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if j < 0 {
				continue
			}
			if xx := x + t; xx >= 0 && xx < bounds.Max.X {
				img.Set(xx, j, c)
			}
			if xx := x + w - t; xx >= 0 && xx < bounds.Max.X {
				img.Set(xx, j, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	bounds := img.Bounds()
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < bounds.Max.X && py >= 0 && py < bounds.Max.Y {
				img.Set(px, py, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
