package rimage

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Z16 depth is in millimeters.
const z16UnitsPerMeter = 1000

// DecodeZ16 reads a Z16 buffer, one little-endian uint16 millimeter value per pixel, into a
// DepthFloat32 frame in meters. A zero sample means no measurement and becomes NaN.
func DecodeZ16(raw []byte, width, height int, timestamp time.Time) (*DepthFrame, error) {
	if width < 0 || height < 0 || len(raw) != 2*width*height {
		return nil, errors.Wrapf(ErrDepthFrameSize, "z16 buffer length (%d) not expected size (%d)", len(raw), 2*width*height)
	}
	data := make([]float32, width*height)
	for i := range data {
		z := binary.LittleEndian.Uint16(raw[2*i : 2*i+2])
		if z == 0 {
			data[i] = float32(math.NaN())
			continue
		}
		data[i] = float32(z) / z16UnitsPerMeter
	}
	return &DepthFrame{Width: width, Height: height, Encoding: DepthFloat32, Timestamp: timestamp, Data: data}, nil
}

// EncodeZ16 writes a depth frame as Z16. Samples that are NaN, not positive or out of range are
// written as zero.
func EncodeZ16(frame *DepthFrame) ([]byte, error) {
	if !frame.Encoding.IsDepth() {
		return nil, errors.Wrapf(ErrUnsupportedDepthEncoding, "z16 cannot hold %v", frame.Encoding)
	}
	if err := frame.validate(); err != nil {
		return nil, err
	}
	raw := make([]byte, 2*len(frame.Data))
	for i, depth := range frame.Data {
		mm := math.Round(float64(depth) * z16UnitsPerMeter)
		if math.IsNaN(mm) || mm <= 0 || mm > math.MaxUint16 {
			continue
		}
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(mm))
	}
	return raw, nil
}

// DecodeFloatDepth reads a buffer of little-endian floats into a frame of the given encoding.
// Float32 encodings take four bytes per sample, Float16 encodings two. Half precision samples are
// widened to float32.
func DecodeFloatDepth(raw []byte, width, height int, encoding DepthEncoding, timestamp time.Time) (*DepthFrame, error) {
	sampleSize, err := floatSampleSize(encoding)
	if err != nil {
		return nil, err
	}
	if width < 0 || height < 0 || len(raw) != sampleSize*width*height {
		return nil, errors.Wrapf(ErrDepthFrameSize, "%v buffer length (%d) not expected size (%d)",
			encoding, len(raw), sampleSize*width*height)
	}

	data := make([]float32, width*height)
	for i := range data {
		offset := sampleSize * i
		if sampleSize == 4 {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[offset:]))
		} else {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[offset:])).Float32()
		}
	}
	return &DepthFrame{Width: width, Height: height, Encoding: encoding, Timestamp: timestamp, Data: data}, nil
}

// EncodeFloatDepth is the inverse of DecodeFloatDepth. Float16 encodings round to the nearest
// representable half.
func EncodeFloatDepth(frame *DepthFrame) ([]byte, error) {
	sampleSize, err := floatSampleSize(frame.Encoding)
	if err != nil {
		return nil, err
	}
	if err := frame.validate(); err != nil {
		return nil, err
	}
	raw := make([]byte, sampleSize*len(frame.Data))
	for i, sample := range frame.Data {
		offset := sampleSize * i
		if sampleSize == 4 {
			binary.LittleEndian.PutUint32(raw[offset:], math.Float32bits(sample))
		} else {
			binary.LittleEndian.PutUint16(raw[offset:], float16.Fromfloat32(sample).Bits())
		}
	}
	return raw, nil
}

func floatSampleSize(encoding DepthEncoding) (int, error) {
	switch encoding {
	case DisparityFloat32, DepthFloat32:
		return 4, nil
	case DisparityFloat16, DepthFloat16:
		return 2, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDepthEncoding, "no float layout for %v", encoding)
	}
}
