package rimage

import (
	"image"
	"image/color"
	"strings"

	"github.com/pkg/errors"
)

// ErrColorImageSize is returned when a pixel buffer does not cover its dimensions.
var ErrColorImageSize = errors.New("pixel buffer does not match dimensions")

// colorImageChannels is the number of 8-bit channels per pixel.
const colorImageChannels = 4

// ChannelLayout says how the four channels of a ColorImage map to alpha and color when it is
// rendered.
type ChannelLayout int

const (
	// LayoutARGB treats channel 0 as alpha and channels 1-3 as red, green and blue.
	LayoutARGB ChannelLayout = iota
	// LayoutRGBA treats channels 0-2 as red, green and blue and channel 3 as alpha.
	LayoutRGBA
)

func (l ChannelLayout) String() string {
	switch l {
	case LayoutARGB:
		return "argb"
	case LayoutRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// ChannelLayoutFromString parses "argb" or "rgba". The empty string is LayoutARGB.
func ChannelLayoutFromString(name string) (ChannelLayout, error) {
	switch strings.ToLower(name) {
	case "", "argb":
		return LayoutARGB, nil
	case "rgba":
		return LayoutRGBA, nil
	default:
		return LayoutARGB, errors.Errorf("unknown channel layout %q", name)
	}
}

// ColorImage is a packed 4-channel, 8-bit image: 4 bytes per pixel, row-major, no row padding.
type ColorImage struct {
	width  int
	height int
	pix    []uint8
	layout ChannelLayout
}

// BuildColorImage binds `pix` to the given dimensions without copying it.
func BuildColorImage(pix []uint8, width, height int) (*ColorImage, error) {
	if width < 0 || height < 0 || len(pix) != colorImageChannels*width*height {
		return nil, errors.Wrapf(ErrColorImageSize, "%d bytes for %dx%d", len(pix), width, height)
	}
	return &ColorImage{width: width, height: height, pix: pix}, nil
}

// WithLayout returns a view of the same pixels rendered with a different channel layout.
func (ci *ColorImage) WithLayout(layout ChannelLayout) *ColorImage {
	return &ColorImage{width: ci.width, height: ci.height, pix: ci.pix, layout: layout}
}

// Width returns the horizontal size of the image.
func (ci *ColorImage) Width() int {
	return ci.width
}

// Height returns the vertical size of the image.
func (ci *ColorImage) Height() int {
	return ci.height
}

// Channels is always 4.
func (ci *ColorImage) Channels() int {
	return colorImageChannels
}

// Layout returns the channel layout used by At.
func (ci *ColorImage) Layout() ChannelLayout {
	return ci.layout
}

// Pix returns the packed channel bytes. It must not be modified.
func (ci *ColorImage) Pix() []uint8 {
	return ci.pix
}

// Channel returns the raw value of channel c at (x, y).
func (ci *ColorImage) Channel(x, y, c int) uint8 {
	return ci.pix[colorImageChannels*(y*ci.width+x)+c]
}

// Bounds returns the image bounds.
func (ci *ColorImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, ci.width, ci.height)
}

// ColorModel returns the non-premultiplied RGBA model.
func (ci *ColorImage) ColorModel() color.Model {
	return color.NRGBAModel
}

// At returns the color at (x, y) according to the layout.
func (ci *ColorImage) At(x, y int) color.Color {
	return ci.NRGBAAt(x, y)
}

// NRGBAAt returns the color at (x, y) according to the layout. Out of bounds points are
// transparent black.
func (ci *ColorImage) NRGBAAt(x, y int) color.NRGBA {
	if !(image.Point{x, y}.In(ci.Bounds())) {
		return color.NRGBA{}
	}
	i := colorImageChannels * (y*ci.width + x)
	c := ci.pix[i : i+colorImageChannels : i+colorImageChannels]
	if ci.layout == LayoutRGBA {
		return color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]}
	}
	return color.NRGBA{A: c[0], R: c[1], G: c[2], B: c[3]}
}
