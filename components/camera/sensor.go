package camera

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/depthcam/rimage"
)

// DeviceType is the kind of capture device.
type DeviceType string

// DeviceDualCamera is the device type depth capture needs.
const DeviceDualCamera DeviceType = "dual_camera"

// Position is where a device faces.
type Position string

// PositionBack is the back facing position.
const PositionBack Position = "back"

// A Device is a capture device a sensor found.
type Device struct {
	ID       string
	Type     DeviceType
	Position Position
	// DepthEncodings lists the encodings depth frames from this device may arrive in.
	DepthEncodings []rimage.DepthEncoding
}

// Orientation of the depth data connection.
type Orientation int

// Depth orientations. The zero value is OrientationPortrait.
const (
	OrientationPortrait Orientation = iota
	OrientationPortraitUpsideDown
	OrientationLandscapeLeft
	OrientationLandscapeRight
)

var orientationNames = []string{"portrait", "portrait_upside_down", "landscape_left", "landscape_right"}

func (o Orientation) String() string {
	if o < 0 || int(o) >= len(orientationNames) {
		return "unknown"
	}
	return orientationNames[o]
}

// OrientationFromString parses an orientation name. The empty string is OrientationPortrait.
func OrientationFromString(name string) (Orientation, error) {
	if name == "" {
		return OrientationPortrait, nil
	}
	for i, n := range orientationNames {
		if strings.EqualFold(n, name) {
			return Orientation(i), nil
		}
	}
	return OrientationPortrait, errors.Errorf("unknown orientation %q", name)
}

// SessionPreset selects the quality level of a capture session.
type SessionPreset string

// PresetPhoto is the preset for high resolution still photos.
const PresetPhoto SessionPreset = "photo"

// SessionConfig is applied once to a sensor before it starts running.
type SessionConfig struct {
	Preset SessionPreset
	Device Device

	PhotoOutput bool
	DepthOutput bool

	DepthFilteringEnabled bool
	DepthDeliveryEnabled  bool
	DepthOrientation      Orientation
}

// CaptureRequest asks the sensor for one photo.
type CaptureRequest struct {
	ID string
	// MimeType is the codec the photo should be encoded with.
	MimeType string
	// DepthDeliveryEnabled asks for a depth frame alongside the photo.
	DepthDeliveryEnabled bool
}

// CaptureEventType is a step in the lifecycle of a CaptureRequest.
type CaptureEventType int

// Capture events, in the order a sensor reports them. DidFinishProcessing carries the result and
// is reported exactly once per accepted request. DidFinishCapture is always last.
const (
	EventWillBeginCapture CaptureEventType = iota
	EventWillCapturePhoto
	EventDidCapturePhoto
	EventDidFinishProcessing
	EventDidFinishCapture
)

func (e CaptureEventType) String() string {
	switch e {
	case EventWillBeginCapture:
		return "will_begin_capture"
	case EventWillCapturePhoto:
		return "will_capture_photo"
	case EventDidCapturePhoto:
		return "did_capture_photo"
	case EventDidFinishProcessing:
		return "did_finish_processing"
	case EventDidFinishCapture:
		return "did_finish_capture"
	default:
		return "unknown"
	}
}

// A CaptureEvent is reported by a sensor for a CaptureRequest.
type CaptureEvent struct {
	Type      CaptureEventType
	RequestID string

	// Photo and Depth are only set on EventDidFinishProcessing. Depth is nil when the request did
	// not ask for depth or the sensor could not produce it.
	Photo *Photo
	Depth *rimage.DepthFrame

	// Err is set when processing or the capture as a whole failed.
	Err error
}

// A Sensor is a camera subsystem that can stream depth frames and capture photos.
//
// Handlers and capture callbacks are called from the sensor's own goroutines and must not block
// for long.
type Sensor interface {
	// FindDevice returns the device of the given type and position.
	FindDevice(ctx context.Context, deviceType DeviceType, position Position) (Device, error)

	// Configure applies a session configuration. It is called once, before StartRunning.
	Configure(ctx context.Context, cfg SessionConfig) error

	// StartRunning and StopRunning start and stop the flow of depth frames and allow captures.
	StartRunning(ctx context.Context) error
	StopRunning(ctx context.Context) error

	// DepthDeliverySupported reports whether photos can be captured with depth.
	DepthDeliverySupported() bool

	// SetDepthFrameHandler sets the function called with each streamed depth frame.
	SetDepthFrameHandler(handler func(*rimage.DepthFrame))

	// SetFailureHandler sets the function called when the sensor fails while running.
	SetFailureHandler(handler func(error))

	// CapturePhoto submits a capture request. Events for the request are reported to onEvent
	// after CapturePhoto returns. If an error is returned no events are reported.
	CapturePhoto(ctx context.Context, req CaptureRequest, onEvent func(CaptureEvent)) error

	// Close releases the sensor.
	Close(ctx context.Context) error
}
