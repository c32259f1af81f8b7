package depthcapture

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/testutils/inject"
	"go.viam.com/depthcam/utils"
)

const waitTimeout = 5 * time.Second

// captureCall is a CapturePhoto call seen by the injected sensor.
type captureCall struct {
	ctx     context.Context
	req     camera.CaptureRequest
	onEvent func(camera.CaptureEvent)
}

// complete sends the events a successful sensor sends for the call, with photo and depth as the
// result.
func (cc captureCall) complete(photo *camera.Photo, depth *rimage.DepthFrame) {
	cc.progress()
	cc.onEvent(camera.CaptureEvent{
		Type:      camera.EventDidFinishProcessing,
		RequestID: cc.req.ID,
		Photo:     photo,
		Depth:     depth,
	})
	cc.finish()
}

func (cc captureCall) progress() {
	for _, typ := range []camera.CaptureEventType{
		camera.EventWillBeginCapture,
		camera.EventWillCapturePhoto,
		camera.EventDidCapturePhoto,
	} {
		cc.onEvent(camera.CaptureEvent{Type: typ, RequestID: cc.req.ID})
	}
}

func (cc captureCall) finish() {
	cc.onEvent(camera.CaptureEvent{Type: camera.EventDidFinishCapture, RequestID: cc.req.ID})
}

// testSensor wraps an injected sensor that records capture calls.
type testSensor struct {
	*inject.Sensor

	mu           sync.Mutex
	starts       int
	stops        int
	sessionConf  camera.SessionConfig
	captureCalls chan captureCall
}

func newTestSensor() *testSensor {
	ts := &testSensor{
		Sensor:       &inject.Sensor{},
		captureCalls: make(chan captureCall, 8),
	}
	ts.ConfigureFunc = func(ctx context.Context, cfg camera.SessionConfig) error {
		ts.mu.Lock()
		ts.sessionConf = cfg
		ts.mu.Unlock()
		return nil
	}
	ts.StartRunningFunc = func(ctx context.Context) error {
		ts.mu.Lock()
		ts.starts++
		ts.mu.Unlock()
		return nil
	}
	ts.StopRunningFunc = func(ctx context.Context) error {
		ts.mu.Lock()
		ts.stops++
		ts.mu.Unlock()
		return nil
	}
	ts.CapturePhotoFunc = func(ctx context.Context, req camera.CaptureRequest, onEvent func(camera.CaptureEvent)) error {
		ts.captureCalls <- captureCall{ctx: ctx, req: req, onEvent: onEvent}
		return nil
	}
	return ts
}

func (ts *testSensor) counts() (starts, stops int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.starts, ts.stops
}

func (ts *testSensor) nextCapture(t *testing.T) captureCall {
	t.Helper()
	select {
	case call := <-ts.captureCalls:
		return call
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a capture request")
		return captureCall{}
	}
}

func newTestCoordinator(t *testing.T, conf Config) (*Coordinator, *testSensor) {
	t.Helper()
	ts := newTestSensor()
	c, err := NewCoordinator(context.Background(), ts, conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	})
	return c, ts
}

func startCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	test.That(t, c.Start(context.Background()), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateRunning)
}

// depthFrame returns a width x 1 depth frame whose depths increase from 1m by 1m per pixel.
func depthFrame(t *testing.T, width int) *rimage.DepthFrame {
	t.Helper()
	data := make([]float32, width)
	for i := range data {
		data[i] = float32(i + 1)
	}
	frame, err := rimage.NewDepthFrame(width, 1, rimage.DepthFloat32, time.Now(), data)
	test.That(t, err, test.ShouldBeNil)
	return frame
}

func holeyDisparityFrame(t *testing.T) *rimage.DepthFrame {
	t.Helper()
	nan := float32(math.NaN())
	frame, err := rimage.NewDepthFrame(2, 2, rimage.DisparityFloat32, time.Now(), []float32{0.5, nan, 1, nan})
	test.That(t, err, test.ShouldBeNil)
	return frame
}

func testPhoto(t *testing.T) *camera.Photo {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 60), G: uint8(y * 80), B: 30, A: 255})
		}
	}
	data, err := rimage.EncodeImage(img, utils.MimeTypePNG)
	test.That(t, err, test.ShouldBeNil)
	photo, err := camera.PhotoFromBytes(data, utils.MimeTypePNG, time.Now())
	test.That(t, err, test.ShouldBeNil)
	return photo
}

// visualizationRecorder is a depth observer that records every visualization.
type visualizationRecorder struct {
	ch chan DepthVisualization
}

func newVisualizationRecorder() *visualizationRecorder {
	return &visualizationRecorder{ch: make(chan DepthVisualization, 16)}
}

func (vr *visualizationRecorder) observe(vis DepthVisualization) {
	vr.ch <- vis
}

func (vr *visualizationRecorder) next(t *testing.T) DepthVisualization {
	t.Helper()
	select {
	case vis := <-vr.ch:
		return vis
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a depth visualization")
		return DepthVisualization{}
	}
}

func (vr *visualizationRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case vis := <-vr.ch:
		t.Fatalf("unexpected %v visualization (seq %d)", vis.Source, vis.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

type deliveredPhoto struct {
	requestID string
	photo     *camera.Photo
}

type photoRecorder struct {
	ch chan deliveredPhoto
}

func newPhotoRecorder() *photoRecorder {
	return &photoRecorder{ch: make(chan deliveredPhoto, 4)}
}

func (pr *photoRecorder) observe(requestID string, photo *camera.Photo) {
	pr.ch <- deliveredPhoto{requestID: requestID, photo: photo}
}

func (pr *photoRecorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case p := <-pr.ch:
		t.Fatalf("unexpected photo for request %s", p.requestID)
	default:
	}
}

func waitCapture(t *testing.T, pc *PendingCapture) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := pc.Wait(ctx)
	test.That(t, ctx.Err(), test.ShouldBeNil)
	return err
}
