package depthcapture

import "github.com/pkg/errors"

var (
	// ErrDeviceUnavailable is returned when the sensor has no back dual camera.
	ErrDeviceUnavailable = errors.New("no back dual camera available")

	// ErrConfigurationRejected is returned when the sensor refuses the session configuration.
	ErrConfigurationRejected = errors.New("sensor rejected session configuration")

	// ErrCaptureFailed is the outcome of a capture the sensor reported as failed.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrCaptureInProgress is returned when a shot is requested while another is in flight.
	ErrCaptureInProgress = errors.New("capture already in progress")

	// ErrSessionNotRunning is returned when a shot is requested while the session is not running.
	ErrSessionNotRunning = errors.New("capture session is not running")

	// ErrSessionFailed is returned once the sensor has failed. A failed session cannot be restarted.
	ErrSessionFailed = errors.New("capture session failed")

	// ErrSessionClosed is returned by a closed coordinator.
	ErrSessionClosed = errors.New("capture session closed")
)
