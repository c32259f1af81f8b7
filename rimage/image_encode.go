package rimage

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"

	"go.viam.com/depthcam/utils"
)

// ErrUnsupportedMimeType is returned for image formats that have no encoder or decoder.
var ErrUnsupportedMimeType = errors.New("unsupported mime type")

// jpegQuality is used for every jpeg this package writes.
const jpegQuality = 75

// EncodeImage encodes the image by the given MIME type.
func EncodeImage(img image.Image, mimeType string) ([]byte, error) {
	var buf bytes.Buffer
	switch mimeType {
	case utils.MimeTypeJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	case utils.MimeTypePNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case utils.MimeTypeQOI:
		if err := qoi.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedMimeType, "do not know how to encode %q", mimeType)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes the bytes by the given MIME type.
func DecodeImage(data []byte, mimeType string) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	switch mimeType {
	case utils.MimeTypeJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case utils.MimeTypePNG:
		img, err = png.Decode(bytes.NewReader(data))
	case utils.MimeTypeQOI:
		img, err = qoi.Decode(bytes.NewReader(data))
	default:
		return nil, errors.Wrapf(ErrUnsupportedMimeType, "do not know how to decode %q", mimeType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s", mimeType)
	}
	return img, nil
}
