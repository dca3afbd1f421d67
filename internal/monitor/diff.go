package monitor

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// diffTolerance is the per-pixel channel tolerance: a pixel counts as
// changed when its summed RGB delta exceeds this fraction of full scale.
const diffTolerance = 0.1

// DiffRatio compares two PNG-encoded frames and returns the fraction of
// pixels that differ beyond the tolerance. A missing previous frame or a
// dimension mismatch (screen resized between ticks) counts as fully
// different.
func DiffRatio(prevPNG, currPNG []byte) (float64, error) {
	if len(currPNG) == 0 {
		return 0, fmt.Errorf("monitor: empty current frame")
	}
	if len(prevPNG) == 0 {
		return 1.0, nil
	}

	prevImg, err := imaging.Decode(bytes.NewReader(prevPNG))
	if err != nil {
		return 0, fmt.Errorf("monitor: decode previous frame: %w", err)
	}
	currImg, err := imaging.Decode(bytes.NewReader(currPNG))
	if err != nil {
		return 0, fmt.Errorf("monitor: decode current frame: %w", err)
	}

	prev := imaging.Clone(prevImg)
	curr := imaging.Clone(currImg)
	if prev.Bounds().Dx() != curr.Bounds().Dx() || prev.Bounds().Dy() != curr.Bounds().Dy() {
		return 1.0, nil
	}

	total := prev.Bounds().Dx() * prev.Bounds().Dy()
	if total == 0 {
		return 0, nil
	}

	maxDelta := diffTolerance * 3 * 255
	changed := 0
	// Clone always yields NRGBA, four bytes per pixel; alpha is ignored.
	for i := 0; i+3 < len(prev.Pix) && i+3 < len(curr.Pix); i += 4 {
		d := absInt(int(prev.Pix[i])-int(curr.Pix[i])) +
			absInt(int(prev.Pix[i+1])-int(curr.Pix[i+1])) +
			absInt(int(prev.Pix[i+2])-int(curr.Pix[i+2]))
		if float64(d) > maxDelta {
			changed++
		}
	}
	return float64(changed) / float64(total), nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
