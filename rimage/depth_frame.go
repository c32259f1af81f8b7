package rimage

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DepthEncoding identifies how the samples of a DepthFrame are interpreted.
type DepthEncoding int

const (
	// EncodingUnknown is the zero value and never valid.
	EncodingUnknown DepthEncoding = iota
	// DisparityFloat32 is 1/meters at single precision. This is the canonical encoding every
	// frame is converted to before visualization.
	DisparityFloat32
	// DisparityFloat16 is 1/meters, delivered at half precision by the sensor.
	DisparityFloat16
	// DepthFloat32 is meters at single precision.
	DepthFloat32
	// DepthFloat16 is meters, delivered at half precision by the sensor.
	DepthFloat16
)

// CanonicalDepthEncoding is the encoding DisparityFields are always in.
const CanonicalDepthEncoding = DisparityFloat32

var depthEncodingNames = map[DepthEncoding]string{
	DisparityFloat32: "disparity_f32",
	DisparityFloat16: "disparity_f16",
	DepthFloat32:     "depth_f32",
	DepthFloat16:     "depth_f16",
}

func (enc DepthEncoding) String() string {
	if name, ok := depthEncodingNames[enc]; ok {
		return name
	}
	return "unknown"
}

// IsDisparity returns whether samples are inverse distances.
func (enc DepthEncoding) IsDisparity() bool {
	return enc == DisparityFloat32 || enc == DisparityFloat16
}

// IsDepth returns whether samples are distances.
func (enc DepthEncoding) IsDepth() bool {
	return enc == DepthFloat32 || enc == DepthFloat16
}

// DepthEncodingFromString parses an encoding name such as "disparity_f32".
func DepthEncodingFromString(name string) (DepthEncoding, error) {
	for enc, encName := range depthEncodingNames {
		if strings.EqualFold(encName, name) {
			return enc, nil
		}
	}
	return EncodingUnknown, errors.Wrapf(ErrUnsupportedDepthEncoding, "%q", name)
}

// A DepthFrame is a grid of depth samples as produced by a sensor, one per pixel, row-major.
// NaN marks a pixel with no valid measurement. Frames are not modified after they are produced.
type DepthFrame struct {
	Width     int
	Height    int
	Encoding  DepthEncoding
	Timestamp time.Time
	Data      []float32
}

// NewDepthFrame returns a frame over `data`, checking that it matches the dimensions.
func NewDepthFrame(width, height int, encoding DepthEncoding, timestamp time.Time, data []float32) (*DepthFrame, error) {
	frame := &DepthFrame{
		Width:     width,
		Height:    height,
		Encoding:  encoding,
		Timestamp: timestamp,
		Data:      data,
	}
	if err := frame.validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

func (f *DepthFrame) validate() error {
	if f.Width < 0 || f.Height < 0 || len(f.Data) != f.Width*f.Height {
		return errors.Wrapf(ErrDepthFrameSize, "%dx%d frame with %d samples", f.Width, f.Height, len(f.Data))
	}
	return nil
}

// At returns the sample at (x, y).
func (f *DepthFrame) At(x, y int) float32 {
	return f.Data[y*f.Width+x]
}

// A DisparityField is a DepthFrame in the canonical DisparityFloat32 encoding. Higher values are
// closer. NaN samples are preserved from the source frame.
type DisparityField struct {
	width  int
	height int
	data   []float32
}

// NewDisparityField returns a field over `data`, checking that it matches the dimensions. The
// field does not copy `data`; callers must not modify it afterwards.
func NewDisparityField(width, height int, data []float32) (*DisparityField, error) {
	if width < 0 || height < 0 || len(data) != width*height {
		return nil, errors.Wrapf(ErrDepthFrameSize, "%dx%d field with %d samples", width, height, len(data))
	}
	return &DisparityField{width: width, height: height, data: data}, nil
}

// Width returns the number of columns.
func (df *DisparityField) Width() int {
	return df.width
}

// Height returns the number of rows.
func (df *DisparityField) Height() int {
	return df.height
}

// At returns the disparity at (x, y).
func (df *DisparityField) At(x, y int) float32 {
	return df.data[y*df.width+x]
}

// Len returns the number of samples.
func (df *DisparityField) Len() int {
	return len(df.data)
}
