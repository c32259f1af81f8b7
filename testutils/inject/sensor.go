// Package inject provides camera sensors whose methods can be replaced in tests.
package inject

import (
	"context"
	"sync"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/rimage"
)

// Sensor is an injected sensor. Each method calls its injected function if set, then the embedded
// sensor if set, and otherwise behaves like an idle back dual camera that accepts everything.
// Handlers passed to the Set methods are always recorded so tests can call them.
type Sensor struct {
	camera.Sensor

	FindDeviceFunc             func(ctx context.Context, deviceType camera.DeviceType, position camera.Position) (camera.Device, error)
	ConfigureFunc              func(ctx context.Context, cfg camera.SessionConfig) error
	StartRunningFunc           func(ctx context.Context) error
	StopRunningFunc            func(ctx context.Context) error
	DepthDeliverySupportedFunc func() bool
	CapturePhotoFunc           func(ctx context.Context, req camera.CaptureRequest, onEvent func(camera.CaptureEvent)) error
	CloseFunc                  func(ctx context.Context) error

	mu             sync.Mutex
	depthHandler   func(*rimage.DepthFrame)
	failureHandler func(error)
}

// FindDevice calls the injected FindDevice or the real version.
func (s *Sensor) FindDevice(ctx context.Context, deviceType camera.DeviceType, position camera.Position) (camera.Device, error) {
	if s.FindDeviceFunc != nil {
		return s.FindDeviceFunc(ctx, deviceType, position)
	}
	if s.Sensor != nil {
		return s.Sensor.FindDevice(ctx, deviceType, position)
	}
	return camera.Device{
		ID:             "injected",
		Type:           deviceType,
		Position:       position,
		DepthEncodings: []rimage.DepthEncoding{rimage.DisparityFloat32},
	}, nil
}

// Configure calls the injected Configure or the real version.
func (s *Sensor) Configure(ctx context.Context, cfg camera.SessionConfig) error {
	if s.ConfigureFunc != nil {
		return s.ConfigureFunc(ctx, cfg)
	}
	if s.Sensor != nil {
		return s.Sensor.Configure(ctx, cfg)
	}
	return nil
}

// StartRunning calls the injected StartRunning or the real version.
func (s *Sensor) StartRunning(ctx context.Context) error {
	if s.StartRunningFunc != nil {
		return s.StartRunningFunc(ctx)
	}
	if s.Sensor != nil {
		return s.Sensor.StartRunning(ctx)
	}
	return nil
}

// StopRunning calls the injected StopRunning or the real version.
func (s *Sensor) StopRunning(ctx context.Context) error {
	if s.StopRunningFunc != nil {
		return s.StopRunningFunc(ctx)
	}
	if s.Sensor != nil {
		return s.Sensor.StopRunning(ctx)
	}
	return nil
}

// DepthDeliverySupported calls the injected DepthDeliverySupported or the real version.
func (s *Sensor) DepthDeliverySupported() bool {
	if s.DepthDeliverySupportedFunc != nil {
		return s.DepthDeliverySupportedFunc()
	}
	if s.Sensor != nil {
		return s.Sensor.DepthDeliverySupported()
	}
	return true
}

// SetDepthFrameHandler records the handler and passes it to the real version.
func (s *Sensor) SetDepthFrameHandler(handler func(*rimage.DepthFrame)) {
	s.mu.Lock()
	s.depthHandler = handler
	s.mu.Unlock()
	if s.Sensor != nil {
		s.Sensor.SetDepthFrameHandler(handler)
	}
}

// SetFailureHandler records the handler and passes it to the real version.
func (s *Sensor) SetFailureHandler(handler func(error)) {
	s.mu.Lock()
	s.failureHandler = handler
	s.mu.Unlock()
	if s.Sensor != nil {
		s.Sensor.SetFailureHandler(handler)
	}
}

// CapturePhoto calls the injected CapturePhoto or the real version.
func (s *Sensor) CapturePhoto(ctx context.Context, req camera.CaptureRequest, onEvent func(camera.CaptureEvent)) error {
	if s.CapturePhotoFunc != nil {
		return s.CapturePhotoFunc(ctx, req, onEvent)
	}
	if s.Sensor != nil {
		return s.Sensor.CapturePhoto(ctx, req, onEvent)
	}
	return nil
}

// Close calls the injected Close or the real version.
func (s *Sensor) Close(ctx context.Context) error {
	if s.CloseFunc != nil {
		return s.CloseFunc(ctx)
	}
	if s.Sensor != nil {
		return s.Sensor.Close(ctx)
	}
	return nil
}

// SendDepthFrame calls the recorded depth frame handler, if any, as the sensor would.
func (s *Sensor) SendDepthFrame(frame *rimage.DepthFrame) {
	s.mu.Lock()
	handler := s.depthHandler
	s.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}

// Fail calls the recorded failure handler, if any, as the sensor would.
func (s *Sensor) Fail(err error) {
	s.mu.Lock()
	handler := s.failureHandler
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
