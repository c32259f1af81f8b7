package utils

import "strings"

const (
	// MimeTypeJPEG is regular jpgs.
	MimeTypeJPEG = "image/jpeg"

	// MimeTypePNG is regular pngs.
	MimeTypePNG = "image/png"

	// MimeTypeQOI is for .qoi "Quite OK Image" for lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"

	// MimeTypeRawDepth is a raw rimage.DepthFrame.
	MimeTypeRawDepth = "image/raw-depth"

	// MimeTypeRawZ16 is little-endian 16-bit millimeter depth.
	MimeTypeRawZ16 = "image/raw-z16"
)

// MimeTypeFromCodec maps a short codec name ("jpeg", "png", "qoi") to its mime type. Full mime
// types are returned as is.
func MimeTypeFromCodec(codec string) string {
	switch strings.ToLower(codec) {
	case "", "jpeg", "jpg":
		return MimeTypeJPEG
	case "png":
		return MimeTypePNG
	case "qoi":
		return MimeTypeQOI
	default:
		return codec
	}
}
