package rimage

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedDepthEncoding is returned for encodings the converter cannot produce or read.
	// Receiving it means the caller passed a frame or target the sensor never delivers.
	ErrUnsupportedDepthEncoding = errors.New("unsupported depth encoding")

	// ErrDepthFrameSize is returned when a frame's samples do not cover its dimensions.
	ErrDepthFrameSize = errors.New("depth samples do not match dimensions")
)

// ConvertDepth re-encodes `frame` into the canonical disparity encoding. `target` must be
// CanonicalDepthEncoding.
//
// A frame already in the canonical encoding is returned without copying its samples. Depth
// samples become 1/depth; a depth that is NaN, not positive or infinite has no meaningful
// disparity and becomes NaN. The result always has the frame's dimensions.
func ConvertDepth(frame *DepthFrame, target DepthEncoding) (*DisparityField, error) {
	if target != CanonicalDepthEncoding {
		return nil, errors.Wrapf(ErrUnsupportedDepthEncoding, "cannot convert to %v", target)
	}
	if err := frame.validate(); err != nil {
		return nil, err
	}

	switch {
	case frame.Encoding.IsDisparity():
		// Half precision samples are already widened in memory, so both disparity encodings share
		// the source samples.
		return &DisparityField{width: frame.Width, height: frame.Height, data: frame.Data}, nil
	case frame.Encoding.IsDepth():
		data := make([]float32, len(frame.Data))
		for i, depth := range frame.Data {
			data[i] = depthToDisparity(depth)
		}
		return &DisparityField{width: frame.Width, height: frame.Height, data: data}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDepthEncoding, "cannot convert from %v", frame.Encoding)
	}
}

func depthToDisparity(depth float32) float32 {
	if depth <= 0 || math.IsNaN(float64(depth)) || math.IsInf(float64(depth), 1) {
		return float32(math.NaN())
	}
	return 1 / depth
}
