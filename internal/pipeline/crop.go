package pipeline

import "github.com/technosupport/visionserve/internal/model"

// cropFrame extracts the packed RGB24 sub-rectangle named by box from f,
// clamping to the frame bounds defensively (personfilter already clamps,
// but a crop built from a stale frame size should never panic here).
func cropFrame(f model.Frame, box model.BBox, det model.Detection) model.PersonCrop {
	x0, y0, w, h := box.X, box.Y, box.W, box.H
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x0+w > f.Width {
		w = f.Width - x0
	}
	if y0+h > f.Height {
		h = f.Height - y0
	}
	if w <= 0 || h <= 0 {
		return model.PersonCrop{SourceID: f.SourceID, FrameSeq: f.Seq, Detection: det}
	}

	pixels := make([]byte, w*h*3)
	for row := 0; row < h; row++ {
		srcOff := ((y0+row)*f.Width + x0) * 3
		dstOff := row * w * 3
		if srcOff+w*3 > len(f.Pixels) {
			break
		}
		copy(pixels[dstOff:dstOff+w*3], f.Pixels[srcOff:srcOff+w*3])
	}

	return model.PersonCrop{
		SourceID:  f.SourceID,
		FrameSeq:  f.Seq,
		Detection: det,
		Pixels:    pixels,
		Width:     w,
		Height:    h,
	}
}
