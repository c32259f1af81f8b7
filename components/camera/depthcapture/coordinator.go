// Package depthcapture captures photos with depth from a dual camera and renders depth as a
// false-color image, both for a live preview stream and for each still capture.
package depthcapture

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

// A Coordinator owns a configured capture session on a sensor and the two pipelines fed by it.
//
// Observers are called one at a time on a single delivery goroutine. They must not call Stop or
// Close, which wait for deliveries in progress.
type Coordinator struct {
	logger   logging.Logger
	sensor   camera.Sensor
	settings settings
	device   camera.Device

	queue     *utils.SerialQueue
	observers *observers
	stream    *streamPipeline
	still     *stillPipeline

	// lifecycleMu serializes Start, Stop and Close.
	lifecycleMu   sync.Mutex
	sensorRunning bool
	closed        bool

	stateMu  sync.RWMutex
	state    SessionState
	stopping bool
	failure  error
}

// NewCoordinator finds the back dual camera and configures a photo session with depth on it. No
// coordinator is returned if either step fails. The sensor must already be authorized.
func NewCoordinator(ctx context.Context, sensor camera.Sensor, conf Config, logger logging.Logger) (*Coordinator, error) {
	s, err := conf.settings("capture")
	if err != nil {
		return nil, err
	}

	device, err := sensor.FindDevice(ctx, camera.DeviceDualCamera, camera.PositionBack)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	sessionConf := camera.SessionConfig{
		Preset:                camera.PresetPhoto,
		Device:                device,
		PhotoOutput:           true,
		DepthOutput:           true,
		DepthFilteringEnabled: s.depthFiltering,
		DepthDeliveryEnabled:  true,
		DepthOrientation:      s.depthOrientation,
	}
	if err := sensor.Configure(ctx, sessionConf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationRejected, err)
	}

	queue := utils.NewSerialQueue(logger.Sublogger("delivery"))
	obs := &observers{}
	c := &Coordinator{
		logger:    logger,
		sensor:    sensor,
		settings:  s,
		device:    device,
		queue:     queue,
		observers: obs,
		stream:    newStreamPipeline(logger.Sublogger("stream"), queue, obs, s.layout),
		still:     newStillPipeline(logger.Sublogger("still"), sensor, queue, obs, s.mimeType, s.layout),
		state:     StateConfigured,
	}
	sensor.SetDepthFrameHandler(c.stream.onFrame)
	sensor.SetFailureHandler(c.onSensorFailure)

	logger.Infow("capture session configured",
		"device", device.ID,
		"photo_mime_type", s.mimeType,
		"depth_orientation", s.depthOrientation,
		"depth_filtering", s.depthFiltering,
	)
	return c, nil
}

// Device returns the device the session was configured on.
func (c *Coordinator) Device() camera.Device {
	return c.device
}

// State returns the session state.
func (c *Coordinator) State() SessionState {
	c.stateMu.RLock()
	state := c.state
	c.stateMu.RUnlock()
	if state == StateRunning && c.still.captureState() != CaptureIdle {
		return StateCapturingPhoto
	}
	return state
}

// CaptureState returns the state of the still capture pipeline.
func (c *Coordinator) CaptureState() CaptureState {
	return c.still.captureState()
}

// Stats returns counters for both pipelines.
func (c *Coordinator) Stats() Stats {
	var stats Stats
	c.stream.addStats(&stats)
	c.still.addStats(&stats)
	return stats
}

// SetDepthObserver sets the function that receives depth visualizations from both pipelines. A
// nil observer unregisters the current one.
func (c *Coordinator) SetDepthObserver(observer DepthObserver) {
	c.observers.setDepth(observer)
}

// SetPhotoObserver sets the function that receives captured photos. A nil observer unregisters the
// current one.
func (c *Coordinator) SetPhotoObserver(observer PhotoObserver) {
	c.observers.setPhoto(observer)
}

// Start starts the sensor and the depth stream. Starting a running session does nothing.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	c.stateMu.RLock()
	state, failure := c.state, c.failure
	c.stateMu.RUnlock()
	switch state {
	case StateRunning:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %w", ErrSessionFailed, failure)
	default:
	}

	c.stream.start()
	guard := utils.NewGuard(c.stream.stop)
	defer guard.OnFail()
	if err := c.sensor.StartRunning(ctx); err != nil {
		return errors.Wrap(err, "could not start sensor")
	}
	c.sensorRunning = true
	c.still.setAccepting(true)

	c.stateMu.Lock()
	if c.state == StateFailed {
		// the sensor failed while starting
		failure := c.failure
		c.stateMu.Unlock()
		c.still.setAccepting(false)
		return fmt.Errorf("%w: %w", ErrSessionFailed, failure)
	}
	c.state = StateRunning
	c.stateMu.Unlock()
	guard.Success()

	c.logger.Infow("capture session started")
	return nil
}

// Stop stops the depth stream, waits for an in-flight capture and stops the sensor. Nothing is
// delivered to the depth observer from the stream once Stop begins. Stopping a session that is not
// running does nothing.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.stop(ctx)
}

func (c *Coordinator) stop(ctx context.Context) error {
	c.stateMu.Lock()
	running := c.state == StateRunning
	if running {
		c.stopping = true
	}
	c.stateMu.Unlock()
	if !running && !c.sensorRunning {
		return nil
	}

	c.stream.stop()
	drainErr := c.still.drain(ctx, c.settings.drainTimeout)

	var stopErr error
	if c.sensorRunning {
		if err := c.sensor.StopRunning(ctx); err != nil {
			stopErr = errors.Wrap(err, "could not stop sensor")
		}
		c.sensorRunning = false
	}

	c.stateMu.Lock()
	if c.state == StateRunning {
		c.state = StateStopped
	}
	c.stopping = false
	c.stateMu.Unlock()

	c.logger.Infow("capture session stopped")
	return multierr.Combine(drainErr, stopErr)
}

// TakeShot requests a photo with depth. It fails with ErrSessionNotRunning unless the session is
// running, and with ErrCaptureInProgress while another shot is in flight. The results are given to
// the observers before the returned capture is done.
func (c *Coordinator) TakeShot(ctx context.Context) (*PendingCapture, error) {
	c.stateMu.RLock()
	state, stopping := c.state, c.stopping
	c.stateMu.RUnlock()
	if state != StateRunning || stopping {
		return nil, errors.Wrapf(ErrSessionNotRunning, "session is %v", state)
	}
	return c.still.takeShot(ctx)
}

// Close stops the session and the delivery goroutine. The coordinator cannot be used afterwards.
func (c *Coordinator) Close(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.stop(ctx)
	c.sensor.SetDepthFrameHandler(nil)
	c.sensor.SetFailureHandler(nil)
	err = multierr.Combine(err, c.queue.Flush(ctx))

	c.stream.close()
	c.queue.Close()
	return err
}

// onSensorFailure is the sensor's failure handler. A failed session stays failed.
func (c *Coordinator) onSensorFailure(err error) {
	c.stateMu.Lock()
	if c.state == StateFailed {
		c.stateMu.Unlock()
		return
	}
	c.state = StateFailed
	c.failure = err
	c.stateMu.Unlock()

	c.logger.Errorw("capture session failed", "error", err)
	c.still.setAccepting(false)
	c.stream.stop()
	c.still.abandon(fmt.Errorf("%w: %w", ErrSessionFailed, err))
}
