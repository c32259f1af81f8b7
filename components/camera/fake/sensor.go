// Package fake implements a simulated dual camera that streams a synthetic depth gradient and
// captures gradient photos, for running the capture pipelines without hardware.
package fake

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

// Model is the sensor model name of the fake.
const Model = "fake"

const (
	defaultWidth       = 320
	defaultHeight      = 240
	defaultFPS         = 15
	defaultNaNFraction = 0.05
	defaultEncoding    = "depth_f32"

	// encodingZ16 streams millimeter frames through the Z16 wire format.
	encodingZ16 = "z16"

	nearMeters = 0.5
	farMeters  = 5.0
)

// ErrSimulatedFailure is reported through the failure handler when fail_after_frames is reached.
var ErrSimulatedFailure = errors.New("simulated sensor failure")

func init() {
	camera.RegisterSensor(Model, camera.Registration[*Config]{
		Constructor: func(ctx context.Context, conf *Config, logger logging.Logger) (camera.Sensor, error) {
			return NewSensor(ctx, conf, logger)
		},
	})
}

// Config are the attributes of the fake sensor.
type Config struct {
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	FPS    float64 `json:"fps,omitempty"`
	// Encoding is a depth encoding name such as "disparity_f16", or "z16".
	Encoding       string  `json:"encoding,omitempty"`
	DepthSupported *bool   `json:"depth_supported,omitempty"`
	NaNFraction    float64 `json:"nan_fraction,omitempty"`
	// FailAfterFrames makes the sensor fail after streaming this many frames. Zero never fails.
	FailAfterFrames int `json:"fail_after_frames,omitempty"`
}

// Validate checks that the config attributes are valid for a fake sensor.
func (conf *Config) Validate(path string) error {
	if conf.Width < 0 || conf.Height < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("invalid resolution %dx%d", conf.Width, conf.Height))
	}
	if conf.FPS < 0 {
		return goutils.NewConfigValidationError(path, errors.New("fps cannot be negative"))
	}
	if conf.NaNFraction < 0 || conf.NaNFraction >= 1 {
		return goutils.NewConfigValidationError(path, errors.New("nan_fraction must be in [0, 1)"))
	}
	if conf.FailAfterFrames < 0 {
		return goutils.NewConfigValidationError(path, errors.New("fail_after_frames cannot be negative"))
	}
	if conf.Encoding != "" && conf.Encoding != encodingZ16 {
		if _, err := rimage.DepthEncodingFromString(conf.Encoding); err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

func (conf *Config) withDefaults() Config {
	out := *conf
	if out.Width == 0 {
		out.Width = defaultWidth
	}
	if out.Height == 0 {
		out.Height = defaultHeight
	}
	if out.FPS == 0 {
		out.FPS = defaultFPS
	}
	if out.Encoding == "" {
		out.Encoding = defaultEncoding
	}
	if out.DepthSupported == nil {
		supported := true
		out.DepthSupported = &supported
	}
	if out.NaNFraction == 0 {
		out.NaNFraction = defaultNaNFraction
	}
	return out
}

// Sensor is a simulated back dual camera.
type Sensor struct {
	logger logging.Logger
	conf   Config
	clock  clock.Clock

	mu             sync.Mutex
	session        *camera.SessionConfig
	workers        utils.StoppableWorkers
	depthHandler   func(*rimage.DepthFrame)
	failureHandler func(error)
	frames         int
	failed         bool
	closed         bool
}

// NewSensor returns a fake sensor that is not yet configured.
func NewSensor(ctx context.Context, conf *Config, logger logging.Logger) (*Sensor, error) {
	return newSensor(conf, clock.New(), logger)
}

func newSensor(conf *Config, clk clock.Clock, logger logging.Logger) (*Sensor, error) {
	if err := conf.Validate("fake"); err != nil {
		return nil, err
	}
	return &Sensor{logger: logger, conf: conf.withDefaults(), clock: clk}, nil
}

// FindDevice only finds the back dual camera.
func (s *Sensor) FindDevice(ctx context.Context, deviceType camera.DeviceType, position camera.Position) (camera.Device, error) {
	if deviceType != camera.DeviceDualCamera || position != camera.PositionBack {
		return camera.Device{}, errors.Errorf("no %s camera at the %s", deviceType, position)
	}
	encoding, err := s.depthEncoding()
	if err != nil {
		return camera.Device{}, err
	}
	return camera.Device{
		ID:             "fake-dual-camera",
		Type:           deviceType,
		Position:       position,
		DepthEncodings: []rimage.DepthEncoding{encoding},
	}, nil
}

// Configure accepts one photo session configuration.
func (s *Sensor) Configure(ctx context.Context, cfg camera.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return errors.New("sensor is closed")
	case s.session != nil:
		return errors.New("session is already configured")
	case cfg.Preset != camera.PresetPhoto:
		return errors.Errorf("unsupported session preset %q", cfg.Preset)
	case !cfg.PhotoOutput:
		return errors.New("session has no photo output")
	case cfg.Device.Type != camera.DeviceDualCamera:
		return errors.Errorf("device %q cannot produce depth", cfg.Device.ID)
	}
	s.session = &cfg
	s.logger.Debugw("session configured", "depth_output", cfg.DepthOutput, "orientation", cfg.DepthOrientation)
	return nil
}

// StartRunning starts streaming depth frames at the configured rate.
func (s *Sensor) StartRunning(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return errors.New("sensor is closed")
	case s.session == nil:
		return errors.New("session is not configured")
	case s.failed:
		return ErrSimulatedFailure
	case s.workers != nil:
		return nil
	}

	ticker := s.clock.Ticker(time.Duration(float64(time.Second) / s.conf.FPS))
	s.workers = utils.NewStoppableWorkers()
	if s.session.DepthOutput {
		s.workers.AddWorkers(func(ctx context.Context) {
			defer ticker.Stop()
			s.streamFrames(ctx, ticker)
		})
	} else {
		ticker.Stop()
	}
	return nil
}

func (s *Sensor) streamFrames(ctx context.Context, ticker *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		s.frames++
		seq := s.frames
		failNow := s.conf.FailAfterFrames > 0 && seq > s.conf.FailAfterFrames
		if failNow {
			s.failed = true
		}
		depthHandler, failureHandler := s.depthHandler, s.failureHandler
		s.mu.Unlock()

		if failNow {
			s.logger.Warnw("simulating sensor failure", "frames", seq-1)
			if failureHandler != nil {
				failureHandler(ErrSimulatedFailure)
			}
			return
		}

		frame, err := s.nextDepthFrame(int64(seq))
		if err != nil {
			s.logger.Errorw("could not produce depth frame", "error", err)
			continue
		}
		if depthHandler != nil {
			depthHandler(frame)
		}
	}
}

// StopRunning stops streaming and cancels captures in flight. It waits for the sensor's
// goroutines to return.
func (s *Sensor) StopRunning(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	return nil
}

// DepthDeliverySupported is set by the depth_supported attribute.
func (s *Sensor) DepthDeliverySupported() bool {
	return *s.conf.DepthSupported
}

// SetDepthFrameHandler sets the function called with each streamed frame.
func (s *Sensor) SetDepthFrameHandler(handler func(*rimage.DepthFrame)) {
	s.mu.Lock()
	s.depthHandler = handler
	s.mu.Unlock()
}

// SetFailureHandler sets the function called when the simulated failure happens.
func (s *Sensor) SetFailureHandler(handler func(error)) {
	s.mu.Lock()
	s.failureHandler = handler
	s.mu.Unlock()
}

// CapturePhoto captures a gradient photo and, if asked and supported, a depth frame. Events are
// reported from a separate goroutine.
func (s *Sensor) CapturePhoto(ctx context.Context, req camera.CaptureRequest, onEvent func(camera.CaptureEvent)) error {
	switch req.MimeType {
	case utils.MimeTypeJPEG, utils.MimeTypePNG, utils.MimeTypeQOI:
	default:
		return errors.Wrapf(rimage.ErrUnsupportedMimeType, "cannot capture %q", req.MimeType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers == nil {
		return errors.New("sensor is not running")
	}
	if !s.workers.AddWorkers(func(ctx context.Context) { s.capture(ctx, req, onEvent) }) {
		return errors.New("sensor is stopping")
	}
	return nil
}

func (s *Sensor) capture(ctx context.Context, req camera.CaptureRequest, onEvent func(camera.CaptureEvent)) {
	event := func(eventType camera.CaptureEventType) camera.CaptureEvent {
		return camera.CaptureEvent{Type: eventType, RequestID: req.ID}
	}
	defer onEvent(event(camera.EventDidFinishCapture))

	onEvent(event(camera.EventWillBeginCapture))
	onEvent(event(camera.EventWillCapturePhoto))
	onEvent(event(camera.EventDidCapturePhoto))

	result := event(camera.EventDidFinishProcessing)
	photo, err := s.photo(req.MimeType)
	if err == nil && req.DepthDeliveryEnabled && s.DepthDeliverySupported() {
		result.Depth, err = s.nextDepthFrame(s.clock.Now().UnixNano())
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		result.Err = err
	} else {
		result.Photo = photo
	}
	onEvent(result)
}

// photo renders and encodes the yellow to blue gradient.
func (s *Sensor) photo(mimeType string) (*camera.Photo, error) {
	width, height := s.conf.Width, s.conf.Height
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	totalDist := math.Hypot(float64(width), float64(height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dist := math.Hypot(float64(x), float64(y)) / totalDist
			img.SetNRGBA(x, y, color.NRGBA{uint8(255 - (255 * dist)), uint8(255 - (255 * dist)), uint8(255 * dist), 255})
		}
	}
	photo, err := camera.PhotoFromImage(img, mimeType, s.clock.Now())
	if err != nil {
		return nil, err
	}
	// the sensor hands out encoded photos
	if _, err := photo.Bytes(); err != nil {
		return nil, err
	}
	return photo, nil
}

func (s *Sensor) depthEncoding() (rimage.DepthEncoding, error) {
	if s.conf.Encoding == encodingZ16 {
		return rimage.DepthFloat32, nil
	}
	return rimage.DepthEncodingFromString(s.conf.Encoding)
}

// nextDepthFrame renders a depth gradient that grows from near at the top left to far at the
// bottom right, with holes. The frame is passed through the configured wire encoding.
func (s *Sensor) nextDepthFrame(seed int64) (*rimage.DepthFrame, error) {
	width, height := s.conf.Width, s.conf.Height
	rng := rand.New(rand.NewSource(seed))
	totalDist := math.Hypot(float64(width), float64(height))

	depth := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if rng.Float64() < s.conf.NaNFraction {
				depth[i] = float32(math.NaN())
				continue
			}
			dist := math.Hypot(float64(x), float64(y)) / totalDist
			depth[i] = float32(nearMeters + (farMeters-nearMeters)*dist)
		}
	}
	now := s.clock.Now()

	if s.conf.Encoding == encodingZ16 {
		raw, err := rimage.EncodeZ16(&rimage.DepthFrame{
			Width: width, Height: height, Encoding: rimage.DepthFloat32, Timestamp: now, Data: depth,
		})
		if err != nil {
			return nil, err
		}
		return rimage.DecodeZ16(raw, width, height, now)
	}

	encoding, err := rimage.DepthEncodingFromString(s.conf.Encoding)
	if err != nil {
		return nil, err
	}
	if encoding.IsDisparity() {
		for i, d := range depth {
			depth[i] = 1 / d
		}
	}
	frame, err := rimage.NewDepthFrame(width, height, encoding, now, depth)
	if err != nil {
		return nil, err
	}
	if encoding == rimage.DisparityFloat32 || encoding == rimage.DepthFloat32 {
		return frame, nil
	}
	raw, err := rimage.EncodeFloatDepth(frame)
	if err != nil {
		return nil, err
	}
	return rimage.DecodeFloatDepth(raw, width, height, encoding, now)
}

// Close stops the sensor. It cannot be used afterwards.
func (s *Sensor) Close(ctx context.Context) error {
	err := s.StopRunning(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}
