// Package personfilter narrows a Detector's output down to person-class
// boxes suitable for attribute analysis and re-identification, applying
// the padding/alignment/size rules of spec.md §4.6. It is pure
// transformation: no goroutines, no shared state.
package personfilter

import (
	"github.com/technosupport/visionserve/internal/model"
)

const personClassID = 0

// Params bundles the per-call tunables named in spec.md §4.6 / §6.
type Params struct {
	PadFraction float64 // default 0.10, clamped [0, 0.30]
	AlignPixels int      // default 16
	MinCropSide int      // default 64
}

// DefaultParams returns the spec.md §6 defaults.
func DefaultParams() Params {
	return Params{PadFraction: 0.10, AlignPixels: 16, MinCropSide: 64}
}

func (p Params) normalized() Params {
	if p.PadFraction < 0 {
		p.PadFraction = 0
	}
	if p.PadFraction > 0.30 {
		p.PadFraction = 0.30
	}
	if p.AlignPixels <= 0 {
		p.AlignPixels = 16
	}
	if p.MinCropSide <= 0 {
		p.MinCropSide = 64
	}
	return p
}

// Select filters dets down to person-class boxes, pads each by
// PadFraction, aligns width to a multiple of AlignPixels, clamps to
// frame bounds, and discards any crop narrower or shorter than
// MinCropSide on either side — per spec.md §4.6's edge cases.
func Select(dets []model.Detection, frameW, frameH int, p Params) []model.BBox {
	crops := SelectIndexed(dets, frameW, frameH, p)
	out := make([]model.BBox, len(crops))
	for i, c := range crops {
		out[i] = c.Box
	}
	return out
}

// Crop pairs a padded crop box with the index of the detection it came
// from in the caller's original slice, so downstream stages (reid,
// attributes, tracker) can correlate a crop back to its detection.
type Crop struct {
	Box    model.BBox
	DetIdx int
}

// SelectIndexed is Select plus the originating detection index for each
// retained crop.
func SelectIndexed(dets []model.Detection, frameW, frameH int, p Params) []Crop {
	p = p.normalized()
	out := make([]Crop, 0, len(dets))
	for i, d := range dets {
		if d.ClassID != personClassID {
			continue
		}
		box, ok := padAndClamp(d.BBox, frameW, frameH, p)
		if !ok {
			continue
		}
		out = append(out, Crop{Box: box, DetIdx: i})
	}
	return out
}

func padAndClamp(b model.BBox, frameW, frameH int, p Params) (model.BBox, bool) {
	padW := int(float64(b.W) * p.PadFraction)
	padH := int(float64(b.H) * p.PadFraction)

	x := b.X - padW
	y := b.Y - padH
	w := b.W + 2*padW
	h := b.H + 2*padH

	w = alignUp(w, p.AlignPixels)

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+w > frameW {
		w = frameW - x
	}
	if y+h > frameH {
		h = frameH - y
	}
	if w <= 0 || h <= 0 {
		return model.BBox{}, false
	}
	if w < p.MinCropSide || h < p.MinCropSide {
		return model.BBox{}, false
	}
	return model.BBox{X: x, Y: y, W: w, H: h}, true
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}
