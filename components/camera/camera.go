// Package camera defines the dual-camera sensor that captures photos together with depth, and
// the values it hands to the capture pipelines.
package camera

import (
	"bytes"
	"image"
	"strings"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

// ErrMIMETypeBytesMismatch indicates that the Photo's mimeType does not match the image bytes header.
//
// For example, if the image bytes are JPEG, but the mimeType is PNG, this error will be returned.
// This likely means there is a bug in the sensor that produced the photo.
var ErrMIMETypeBytesMismatch = errors.New("mime_type does not match the image bytes")

// Photo is a captured color image. It holds either encoded bytes, a decoded image, or both, and
// converts between them on demand.
type Photo struct {
	data      []byte
	img       image.Image
	mimeType  string
	Timestamp time.Time
}

// PhotoFromBytes constructs a Photo from encoded bytes and their mime type.
func PhotoFromBytes(data []byte, mimeType string, timestamp time.Time) (*Photo, error) {
	if data == nil {
		return nil, errors.New("must provide image bytes to construct a photo from bytes")
	}
	if mimeType == "" {
		return nil, errors.New("must provide a mime type to construct a photo")
	}
	return &Photo{data: data, mimeType: mimeType, Timestamp: timestamp}, nil
}

// PhotoFromImage constructs a Photo from an image.Image. An empty mime type means jpeg.
func PhotoFromImage(img image.Image, mimeType string, timestamp time.Time) (*Photo, error) {
	if img == nil {
		return nil, errors.New("must provide image to construct a photo from image")
	}
	if mimeType == "" {
		mimeType = utils.MimeTypeJPEG
	}
	return &Photo{img: img, mimeType: mimeType, Timestamp: timestamp}, nil
}

// Image returns the decoded image, decoding the bytes the first time.
func (p *Photo) Image() (image.Image, error) {
	if p.img != nil {
		return p.img, nil
	}
	if p.data == nil {
		return nil, errors.New("no image or image bytes available")
	}

	_, header, err := image.DecodeConfig(bytes.NewReader(p.data))
	if err != nil {
		return nil, errors.Wrap(err, "could not decode image config")
	}
	if header != "" && !strings.Contains(p.mimeType, header) {
		return nil, errors.Wrapf(ErrMIMETypeBytesMismatch, "expected %s, got %s", p.mimeType, header)
	}

	img, err := rimage.DecodeImage(p.data, p.mimeType)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode bytes into image.Image")
	}
	p.img = img
	return p.img, nil
}

// Bytes returns the encoded image, encoding it the first time.
func (p *Photo) Bytes() ([]byte, error) {
	if p.data != nil {
		return p.data, nil
	}
	if p.img == nil {
		return nil, errors.New("no image or image bytes available")
	}

	data, err := rimage.EncodeImage(p.img, p.mimeType)
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode image with encoding %s", p.mimeType)
	}
	p.data = data
	return p.data, nil
}

// MimeType returns the mime type of the Photo.
func (p *Photo) MimeType() string {
	return p.mimeType
}
