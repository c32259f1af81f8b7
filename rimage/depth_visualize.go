package rimage

import (
	"math"
)

// invalidDisparityColor is written for samples with no measurement and for fields with no range.
var invalidDisparityColor = [colorImageChannels]uint8{255, 0, 255, 0}

// DisparityRange returns the smallest and largest valid samples of the field. NaN and infinite
// samples are skipped. If there are no valid samples ok is false and min > max.
func DisparityRange(field *DisparityField) (min, max float32, ok bool) {
	min = math.MaxFloat32
	max = -math.MaxFloat32
	for _, s := range field.data {
		if !validDisparity(s) {
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max, min <= max
}

// VisualizeDisparity renders a disparity field as a false-color image of the same dimensions.
//
// Valid samples are normalized over the field's own range: the nearest samples are red and the
// farthest blue, with channel 0 always 255. Samples with no measurement, and every sample of a
// field whose range is empty or a single value, get channels (255, 0, 255, 0). The output depends
// only on the input.
func VisualizeDisparity(field *DisparityField) *ColorImage {
	min, max, _ := DisparityRange(field)
	delta := float64(max) - float64(min)

	pix := make([]uint8, colorImageChannels*len(field.data))
	for i, s := range field.data {
		px := pix[colorImageChannels*i : colorImageChannels*(i+1) : colorImageChannels*(i+1)]
		if !validDisparity(s) || delta <= 0 {
			copy(px, invalidDisparityColor[:])
			continue
		}
		normal := (float64(s) - float64(min)) / delta
		px[0] = 255
		px[1] = clampChannel(255 * normal)
		px[2] = 0
		px[3] = clampChannel(255 * (1 - normal))
	}

	img, err := BuildColorImage(pix, field.width, field.height)
	if err != nil {
		// pix is always sized from the field
		panic(err)
	}
	return img
}

func validDisparity(s float32) bool {
	return !math.IsNaN(float64(s)) && !math.IsInf(float64(s), 0)
}

// clampChannel truncates toward zero and clamps to a byte.
func clampChannel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// InvalidCount returns the number of samples with no measurement.
func InvalidCount(field *DisparityField) int {
	n := 0
	for _, s := range field.data {
		if !validDisparity(s) {
			n++
		}
	}
	return n
}
