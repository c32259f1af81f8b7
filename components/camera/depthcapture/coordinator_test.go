package depthcapture

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

func TestNewCoordinator(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{DepthOrientation: "landscape_right", DepthFiltering: true})
	test.That(t, c.State(), test.ShouldEqual, StateConfigured)
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureIdle)
	test.That(t, c.Device().Type, test.ShouldEqual, camera.DeviceDualCamera)
	test.That(t, c.Device().Position, test.ShouldEqual, camera.PositionBack)

	ts.mu.Lock()
	sessionConf := ts.sessionConf
	ts.mu.Unlock()
	test.That(t, sessionConf.Preset, test.ShouldEqual, camera.PresetPhoto)
	test.That(t, sessionConf.Device, test.ShouldResemble, c.Device())
	test.That(t, sessionConf.PhotoOutput, test.ShouldBeTrue)
	test.That(t, sessionConf.DepthOutput, test.ShouldBeTrue)
	test.That(t, sessionConf.DepthDeliveryEnabled, test.ShouldBeTrue)
	test.That(t, sessionConf.DepthFilteringEnabled, test.ShouldBeTrue)
	test.That(t, sessionConf.DepthOrientation, test.ShouldEqual, camera.OrientationLandscapeRight)

	starts, stops := ts.counts()
	test.That(t, starts, test.ShouldEqual, 0)
	test.That(t, stops, test.ShouldEqual, 0)
}

func TestNewCoordinatorErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	t.Run("no device", func(t *testing.T) {
		ts := newTestSensor()
		ts.FindDeviceFunc = func(ctx context.Context, deviceType camera.DeviceType, position camera.Position) (camera.Device, error) {
			return camera.Device{}, errors.New("no such device")
		}
		configured := false
		ts.ConfigureFunc = func(ctx context.Context, cfg camera.SessionConfig) error {
			configured = true
			return nil
		}
		c, err := NewCoordinator(ctx, ts, Config{}, logger)
		test.That(t, c, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrDeviceUnavailable), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no such device")
		test.That(t, configured, test.ShouldBeFalse)
	})

	t.Run("configuration rejected", func(t *testing.T) {
		ts := newTestSensor()
		ts.ConfigureFunc = func(ctx context.Context, cfg camera.SessionConfig) error {
			return errors.New("cannot add depth output")
		}
		c, err := NewCoordinator(ctx, ts, Config{}, logger)
		test.That(t, c, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrConfigurationRejected), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "cannot add depth output")
	})

	t.Run("invalid config", func(t *testing.T) {
		ts := newTestSensor()
		searched := false
		ts.FindDeviceFunc = func(ctx context.Context, deviceType camera.DeviceType, position camera.Position) (camera.Device, error) {
			searched = true
			return camera.Device{}, nil
		}
		c, err := NewCoordinator(ctx, ts, Config{PhotoCodec: "hevc"}, logger)
		test.That(t, c, test.ShouldBeNil)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, searched, test.ShouldBeFalse)
	})
}

func TestStartStopIdempotent(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	ctx := context.Background()

	test.That(t, c.Stop(ctx), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateConfigured)

	startCoordinator(t, c)
	startCoordinator(t, c)
	starts, _ := ts.counts()
	test.That(t, starts, test.ShouldEqual, 1)

	test.That(t, c.Stop(ctx), test.ShouldBeNil)
	test.That(t, c.Stop(ctx), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateStopped)
	_, stops := ts.counts()
	test.That(t, stops, test.ShouldEqual, 1)

	startCoordinator(t, c)
	starts, _ = ts.counts()
	test.That(t, starts, test.ShouldEqual, 2)
}

func TestStartFailure(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	ts.StartRunningFunc = func(ctx context.Context) error {
		return errors.New("camera busy")
	}
	vr := newVisualizationRecorder()
	c.SetDepthObserver(vr.observe)

	err := c.Start(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera busy")
	test.That(t, c.State(), test.ShouldEqual, StateConfigured)

	ts.SendDepthFrame(depthFrame(t, 3))
	vr.expectNone(t)
	test.That(t, c.Stats().FramesReceived, test.ShouldEqual, uint64(0))

	_, err = c.TakeShot(context.Background())
	test.That(t, errors.Is(err, ErrSessionNotRunning), test.ShouldBeTrue)
}

func TestStreamVisualization(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	vr := newVisualizationRecorder()
	c.SetDepthObserver(vr.observe)

	// frames before start are ignored
	ts.SendDepthFrame(depthFrame(t, 3))
	vr.expectNone(t)

	startCoordinator(t, c)
	frame := depthFrame(t, 3)
	ts.SendDepthFrame(frame)
	vis := vr.next(t)
	test.That(t, vis.Source, test.ShouldEqual, SourceStream)
	test.That(t, vis.Seq, test.ShouldEqual, uint64(1))
	test.That(t, vis.RequestID, test.ShouldBeEmpty)
	test.That(t, vis.FrameTimestamp, test.ShouldEqual, frame.Timestamp)
	test.That(t, vis.InvalidPixels, test.ShouldEqual, 0)
	test.That(t, vis.Image.Width(), test.ShouldEqual, 3)
	test.That(t, vis.Image.Height(), test.ShouldEqual, 1)
	test.That(t, vis.Image.Layout(), test.ShouldEqual, rimage.LayoutARGB)

	// the nearest pixel is red and the farthest blue
	for ch, want := range []uint8{255, 255, 0, 0} {
		test.That(t, vis.Image.Channel(0, 0, ch), test.ShouldEqual, want)
	}
	for ch, want := range []uint8{255, 0, 0, 255} {
		test.That(t, vis.Image.Channel(2, 0, ch), test.ShouldEqual, want)
	}

	ts.SendDepthFrame(holeyDisparityFrame(t))
	vis = vr.next(t)
	test.That(t, vis.Seq, test.ShouldEqual, uint64(2))
	test.That(t, vis.InvalidPixels, test.ShouldEqual, 2)
	for ch, want := range []uint8{255, 0, 255, 0} {
		test.That(t, vis.Image.Channel(1, 0, ch), test.ShouldEqual, want)
	}

	test.That(t, c.queue.Flush(context.Background()), test.ShouldBeNil)
	stats := c.Stats()
	test.That(t, stats.FramesReceived, test.ShouldEqual, uint64(2))
	test.That(t, stats.FramesDelivered, test.ShouldEqual, uint64(2))
	test.That(t, stats.ConversionErrors, test.ShouldEqual, uint64(0))
}

func TestStreamRGBALayout(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{ChannelLayout: "rgba"})
	vr := newVisualizationRecorder()
	c.SetDepthObserver(vr.observe)
	startCoordinator(t, c)

	ts.SendDepthFrame(depthFrame(t, 3))
	vis := vr.next(t)
	test.That(t, vis.Image.Layout(), test.ShouldEqual, rimage.LayoutRGBA)
	// channels are the same, only their interpretation changes
	test.That(t, vis.Image.Channel(0, 0, 0), test.ShouldEqual, uint8(255))
	nrgba := vis.Image.NRGBAAt(0, 0)
	test.That(t, nrgba.R, test.ShouldEqual, uint8(255))
	test.That(t, nrgba.G, test.ShouldEqual, uint8(255))
	test.That(t, nrgba.A, test.ShouldEqual, uint8(0))
}

func TestStreamConversionError(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	vr := newVisualizationRecorder()
	c.SetDepthObserver(vr.observe)
	startCoordinator(t, c)

	ts.SendDepthFrame(&rimage.DepthFrame{Width: 4, Height: 4, Encoding: rimage.DepthFloat32, Data: []float32{1, 2}})
	testWaitFor(t, func() bool { return c.Stats().ConversionErrors == 1 })
	ts.SendDepthFrame(depthFrame(t, 2))
	vis := vr.next(t)
	test.That(t, vis.Image.Width(), test.ShouldEqual, 2)
	test.That(t, c.Stats().ConversionErrors, test.ShouldEqual, uint64(1))
}

func TestStreamKeepsNewest(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	release := make(chan struct{})
	delivered := make(chan DepthVisualization, 8)
	first := true
	c.SetDepthObserver(func(vis DepthVisualization) {
		delivered <- vis
		if first {
			first = false
			<-release
		}
	})
	startCoordinator(t, c)

	frameAt := func(sec int64) *rimage.DepthFrame {
		frame := depthFrame(t, 2)
		frame.Timestamp = time.Unix(sec, 0)
		return frame
	}

	ts.SendDepthFrame(frameAt(1))
	test.That(t, (<-delivered).FrameTimestamp, test.ShouldEqual, time.Unix(1, 0))

	for sec := int64(2); sec <= 4; sec++ {
		ts.SendDepthFrame(frameAt(sec))
	}
	testWaitFor(t, func() bool {
		stats := c.Stats()
		return stats.FramesDropped+stats.VisualizationsDropped == 2
	})
	close(release)

	select {
	case vis := <-delivered:
		test.That(t, vis.FrameTimestamp, test.ShouldEqual, time.Unix(4, 0))
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the newest frame")
	}
	test.That(t, c.queue.Flush(context.Background()), test.ShouldBeNil)
	select {
	case vis := <-delivered:
		t.Fatalf("frame at %v was delivered after a newer one", vis.FrameTimestamp)
	default:
	}
	test.That(t, c.Stats().FramesReceived, test.ShouldEqual, uint64(4))
	test.That(t, c.Stats().FramesDelivered, test.ShouldEqual, uint64(2))
}

func TestStopSuppressesStream(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	release := make(chan struct{})
	delivered := make(chan DepthVisualization, 8)
	first := true
	c.SetDepthObserver(func(vis DepthVisualization) {
		delivered <- vis
		if first {
			first = false
			<-release
		}
	})
	startCoordinator(t, c)

	frameAt := func(sec int64) *rimage.DepthFrame {
		frame := depthFrame(t, 2)
		frame.Timestamp = time.Unix(sec, 0)
		return frame
	}

	ts.SendDepthFrame(frameAt(1))
	test.That(t, (<-delivered).FrameTimestamp, test.ShouldEqual, time.Unix(1, 0))

	// a second frame arrives while the first is still being delivered
	ts.SendDepthFrame(frameAt(2))
	generation := c.stream.generation.Load()

	stopped := make(chan error, 1)
	go func() {
		stopped <- c.Stop(context.Background())
	}()
	testWaitFor(t, func() bool { return c.stream.generation.Load() != generation })
	close(release)

	select {
	case err := <-stopped:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for stop")
	}
	test.That(t, c.State(), test.ShouldEqual, StateStopped)
	test.That(t, c.queue.Flush(context.Background()), test.ShouldBeNil)
	select {
	case vis := <-delivered:
		t.Fatalf("frame at %v was delivered after stop", vis.FrameTimestamp)
	default:
	}

	ts.SendDepthFrame(frameAt(3))
	test.That(t, c.queue.Flush(context.Background()), test.ShouldBeNil)
	select {
	case vis := <-delivered:
		t.Fatalf("frame at %v was delivered while stopped", vis.FrameTimestamp)
	default:
	}

	startCoordinator(t, c)
	ts.SendDepthFrame(frameAt(4))
	select {
	case vis := <-delivered:
		test.That(t, vis.FrameTimestamp, test.ShouldEqual, time.Unix(4, 0))
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame after restart")
	}
}

func TestTakeShot(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{PhotoCodec: "png"})
	vr := newVisualizationRecorder()
	pr := newPhotoRecorder()
	c.SetDepthObserver(vr.observe)
	c.SetPhotoObserver(pr.observe)
	ctx := context.Background()

	_, err := c.TakeShot(ctx)
	test.That(t, errors.Is(err, ErrSessionNotRunning), test.ShouldBeTrue)

	startCoordinator(t, c)
	pending, err := c.TakeShot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pending.ID(), test.ShouldNotBeEmpty)
	test.That(t, pending.Err(), test.ShouldBeNil)

	call := ts.nextCapture(t)
	test.That(t, call.req.ID, test.ShouldEqual, pending.ID())
	test.That(t, call.req.MimeType, test.ShouldEqual, utils.MimeTypePNG)
	test.That(t, call.req.DepthDeliveryEnabled, test.ShouldBeTrue)
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureRequested)
	test.That(t, c.State(), test.ShouldEqual, StateCapturingPhoto)

	call.progress()
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureAwaitingResult)

	// a second shot is rejected without disturbing the first
	_, err = c.TakeShot(ctx)
	test.That(t, errors.Is(err, ErrCaptureInProgress), test.ShouldBeTrue)
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureAwaitingResult)

	photo := testPhoto(t)
	depth := depthFrame(t, 3)
	call.onEvent(camera.CaptureEvent{
		Type:      camera.EventDidFinishProcessing,
		RequestID: call.req.ID,
		Photo:     photo,
		Depth:     depth,
	})
	call.finish()
	test.That(t, waitCapture(t, pending), test.ShouldBeNil)
	test.That(t, pending.Err(), test.ShouldBeNil)

	// deliveries happen before the capture is done
	vis := vr.next(t)
	test.That(t, vis.Source, test.ShouldEqual, SourceStill)
	test.That(t, vis.RequestID, test.ShouldEqual, pending.ID())
	test.That(t, vis.Seq, test.ShouldEqual, uint64(0))
	test.That(t, vis.FrameTimestamp, test.ShouldEqual, depth.Timestamp)
	test.That(t, vis.Image.Width(), test.ShouldEqual, 3)

	select {
	case got := <-pr.ch:
		test.That(t, got.requestID, test.ShouldEqual, pending.ID())
		test.That(t, got.photo, test.ShouldPointTo, photo)
		img, err := got.photo.Image()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 4)
	default:
		t.Fatal("photo was not delivered before the capture finished")
	}

	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureIdle)
	test.That(t, c.State(), test.ShouldEqual, StateRunning)
	stats := c.Stats()
	test.That(t, stats.CapturesRequested, test.ShouldEqual, uint64(1))
	test.That(t, stats.CapturesCompleted, test.ShouldEqual, uint64(1))
	test.That(t, stats.CapturesFailed, test.ShouldEqual, uint64(0))

	// the next shot is accepted once idle
	next, err := c.TakeShot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, next.ID(), test.ShouldNotEqual, pending.ID())
	ts.nextCapture(t).complete(testPhoto(t), nil)
	test.That(t, waitCapture(t, next), test.ShouldBeNil)
}

func TestCaptureErrorAfterResult(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	ts := newTestSensor()
	c, err := NewCoordinator(context.Background(), ts, Config{}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()
	pr := newPhotoRecorder()
	c.SetPhotoObserver(pr.observe)
	startCoordinator(t, c)

	pending, err := c.TakeShot(context.Background())
	test.That(t, err, test.ShouldBeNil)
	call := ts.nextCapture(t)
	call.progress()
	photo := testPhoto(t)
	call.onEvent(camera.CaptureEvent{Type: camera.EventDidFinishProcessing, RequestID: call.req.ID, Photo: photo})
	call.onEvent(camera.CaptureEvent{
		Type:      camera.EventDidFinishCapture,
		RequestID: call.req.ID,
		Err:       errors.New("shutter stuck"),
	})

	// the delivered result wins over the late error
	test.That(t, waitCapture(t, pending), test.ShouldBeNil)
	select {
	case got := <-pr.ch:
		test.That(t, got.photo, test.ShouldPointTo, photo)
	default:
		t.Fatal("photo was not delivered before the capture finished")
	}
	stats := c.Stats()
	test.That(t, stats.CapturesCompleted, test.ShouldEqual, uint64(1))
	test.That(t, stats.CapturesFailed, test.ShouldEqual, uint64(0))
	test.That(t, logs.FilterMessage("capture reported an error after its result").Len(), test.ShouldEqual, 1)
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureIdle)
}

func TestTakeShotWithoutDepthSupport(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	ts.DepthDeliverySupportedFunc = func() bool { return false }
	vr := newVisualizationRecorder()
	pr := newPhotoRecorder()
	c.SetDepthObserver(vr.observe)
	c.SetPhotoObserver(pr.observe)
	startCoordinator(t, c)

	pending, err := c.TakeShot(context.Background())
	test.That(t, err, test.ShouldBeNil)
	call := ts.nextCapture(t)
	test.That(t, call.req.DepthDeliveryEnabled, test.ShouldBeFalse)
	test.That(t, call.req.MimeType, test.ShouldEqual, utils.MimeTypeJPEG)

	call.complete(testPhoto(t), nil)
	test.That(t, waitCapture(t, pending), test.ShouldBeNil)
	test.That(t, (<-pr.ch).requestID, test.ShouldEqual, pending.ID())
	vr.expectNone(t)
}

func TestTakeShotStillConversionError(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	vr := newVisualizationRecorder()
	pr := newPhotoRecorder()
	c.SetDepthObserver(vr.observe)
	c.SetPhotoObserver(pr.observe)
	startCoordinator(t, c)

	pending, err := c.TakeShot(context.Background())
	test.That(t, err, test.ShouldBeNil)
	badDepth := &rimage.DepthFrame{Width: 3, Height: 3, Encoding: rimage.DepthFloat32, Data: []float32{1}}
	ts.nextCapture(t).complete(testPhoto(t), badDepth)

	test.That(t, waitCapture(t, pending), test.ShouldBeNil)
	test.That(t, (<-pr.ch).requestID, test.ShouldEqual, pending.ID())
	vr.expectNone(t)
	test.That(t, c.Stats().ConversionErrors, test.ShouldEqual, uint64(1))
}

func TestTakeShotFailures(t *testing.T) {
	t.Run("sensor refuses request", func(t *testing.T) {
		c, ts := newTestCoordinator(t, Config{})
		ts.CapturePhotoFunc = func(ctx context.Context, req camera.CaptureRequest, onEvent func(camera.CaptureEvent)) error {
			return errors.New("shutter stuck")
		}
		startCoordinator(t, c)

		pending, err := c.TakeShot(context.Background())
		test.That(t, pending, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrCaptureFailed), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "shutter stuck")
		test.That(t, c.CaptureState(), test.ShouldEqual, CaptureIdle)
		test.That(t, c.Stats().CapturesFailed, test.ShouldEqual, uint64(1))
	})

	t.Run("processing error", func(t *testing.T) {
		c, ts := newTestCoordinator(t, Config{})
		pr := newPhotoRecorder()
		c.SetPhotoObserver(pr.observe)
		startCoordinator(t, c)

		pending, err := c.TakeShot(context.Background())
		test.That(t, err, test.ShouldBeNil)
		call := ts.nextCapture(t)
		call.progress()
		call.onEvent(camera.CaptureEvent{
			Type:      camera.EventDidFinishProcessing,
			RequestID: call.req.ID,
			Err:       errors.New("out of memory"),
		})
		test.That(t, c.CaptureState(), test.ShouldEqual, CaptureFailed)
		call.finish()

		err = waitCapture(t, pending)
		test.That(t, errors.Is(err, ErrCaptureFailed), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "out of memory")
		test.That(t, c.CaptureState(), test.ShouldEqual, CaptureIdle)
		pr.expectNone(t)
		test.That(t, c.Stats().CapturesFailed, test.ShouldEqual, uint64(1))
	})

	t.Run("undecodable photo", func(t *testing.T) {
		c, ts := newTestCoordinator(t, Config{})
		pr := newPhotoRecorder()
		c.SetPhotoObserver(pr.observe)
		startCoordinator(t, c)

		pending, err := c.TakeShot(context.Background())
		test.That(t, err, test.ShouldBeNil)
		photo, err := camera.PhotoFromBytes([]byte("not an image"), utils.MimeTypeJPEG, time.Now())
		test.That(t, err, test.ShouldBeNil)
		ts.nextCapture(t).complete(photo, depthFrame(t, 2))

		test.That(t, errors.Is(waitCapture(t, pending), ErrCaptureFailed), test.ShouldBeTrue)
		pr.expectNone(t)
	})

	t.Run("finished without result", func(t *testing.T) {
		c, ts := newTestCoordinator(t, Config{})
		startCoordinator(t, c)

		pending, err := c.TakeShot(context.Background())
		test.That(t, err, test.ShouldBeNil)
		call := ts.nextCapture(t)
		call.progress()
		call.finish()
		test.That(t, errors.Is(waitCapture(t, pending), ErrCaptureFailed), test.ShouldBeTrue)
		test.That(t, c.CaptureState(), test.ShouldEqual, CaptureIdle)
	})
}

func TestStaleCaptureEvents(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	pr := newPhotoRecorder()
	c.SetPhotoObserver(pr.observe)
	startCoordinator(t, c)
	ctx := context.Background()

	first, err := c.TakeShot(ctx)
	test.That(t, err, test.ShouldBeNil)
	firstCall := ts.nextCapture(t)
	firstCall.complete(testPhoto(t), nil)
	test.That(t, waitCapture(t, first), test.ShouldBeNil)
	<-pr.ch

	second, err := c.TakeShot(ctx)
	test.That(t, err, test.ShouldBeNil)
	secondCall := ts.nextCapture(t)
	secondCall.progress()

	// events for the finished request change nothing
	firstCall.complete(testPhoto(t), nil)
	test.That(t, c.queue.Flush(ctx), test.ShouldBeNil)
	pr.expectNone(t)
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureAwaitingResult)

	// neither do events naming another request
	secondCall.onEvent(camera.CaptureEvent{Type: camera.EventDidFinishCapture, RequestID: "someone-else"})
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureAwaitingResult)

	secondCall.onEvent(camera.CaptureEvent{
		Type:      camera.EventDidFinishProcessing,
		RequestID: secondCall.req.ID,
		Photo:     testPhoto(t),
	})
	secondCall.finish()
	test.That(t, waitCapture(t, second), test.ShouldBeNil)
	test.That(t, (<-pr.ch).requestID, test.ShouldEqual, second.ID())
	test.That(t, c.Stats().CapturesCompleted, test.ShouldEqual, uint64(2))
}

func TestStopWaitsForCapture(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	pr := newPhotoRecorder()
	c.SetPhotoObserver(pr.observe)
	startCoordinator(t, c)

	pending, err := c.TakeShot(context.Background())
	test.That(t, err, test.ShouldBeNil)
	call := ts.nextCapture(t)

	stopped := make(chan error, 1)
	go func() {
		stopped <- c.Stop(context.Background())
	}()

	testWaitFor(t, func() bool {
		_, err := c.TakeShot(context.Background())
		return errors.Is(err, ErrSessionNotRunning)
	})
	select {
	case <-stopped:
		t.Fatal("stop returned before the capture finished")
	default:
	}

	call.complete(testPhoto(t), depthFrame(t, 2))
	select {
	case err := <-stopped:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for stop")
	}
	test.That(t, waitCapture(t, pending), test.ShouldBeNil)
	test.That(t, (<-pr.ch).requestID, test.ShouldEqual, pending.ID())
	test.That(t, c.State(), test.ShouldEqual, StateStopped)
}

func TestStopDrainTimeout(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{DrainTimeout: "50ms"})
	pr := newPhotoRecorder()
	c.SetPhotoObserver(pr.observe)
	startCoordinator(t, c)

	pending, err := c.TakeShot(context.Background())
	test.That(t, err, test.ShouldBeNil)
	call := ts.nextCapture(t)
	call.progress()

	err = c.Stop(context.Background())
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	test.That(t, errors.Is(waitCapture(t, pending), ErrSessionNotRunning), test.ShouldBeTrue)
	test.That(t, c.CaptureState(), test.ShouldEqual, CaptureIdle)
	test.That(t, c.State(), test.ShouldEqual, StateStopped)

	// the abandoned request finishing late delivers nothing
	call.complete(testPhoto(t), nil)
	test.That(t, c.queue.Flush(context.Background()), test.ShouldBeNil)
	pr.expectNone(t)
}

func TestSensorFailure(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	ts := newTestSensor()
	c, err := NewCoordinator(context.Background(), ts, Config{}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	}()
	vr := newVisualizationRecorder()
	c.SetDepthObserver(vr.observe)
	startCoordinator(t, c)

	pending, err := c.TakeShot(context.Background())
	test.That(t, err, test.ShouldBeNil)
	call := ts.nextCapture(t)

	ts.Fail(errors.New("thermal shutdown"))
	test.That(t, c.State(), test.ShouldEqual, StateFailed)
	err = waitCapture(t, pending)
	test.That(t, errors.Is(err, ErrSessionFailed), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "thermal shutdown")
	test.That(t, logs.FilterMessage("capture session failed").Len(), test.ShouldEqual, 1)

	// a second failure is not reported again
	ts.Fail(errors.New("again"))
	test.That(t, logs.FilterMessage("capture session failed").Len(), test.ShouldEqual, 1)

	ts.SendDepthFrame(depthFrame(t, 2))
	vr.expectNone(t)
	call.complete(testPhoto(t), depthFrame(t, 2))
	test.That(t, c.queue.Flush(context.Background()), test.ShouldBeNil)
	vr.expectNone(t)

	_, err = c.TakeShot(context.Background())
	test.That(t, errors.Is(err, ErrSessionNotRunning), test.ShouldBeTrue)
	err = c.Start(context.Background())
	test.That(t, errors.Is(err, ErrSessionFailed), test.ShouldBeTrue)

	test.That(t, c.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateFailed)
	_, stops := ts.counts()
	test.That(t, stops, test.ShouldEqual, 1)
}

func TestClose(t *testing.T) {
	ts := newTestSensor()
	c, err := NewCoordinator(context.Background(), ts, Config{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	vr := newVisualizationRecorder()
	c.SetDepthObserver(vr.observe)
	startCoordinator(t, c)

	test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateStopped)
	_, stops := ts.counts()
	test.That(t, stops, test.ShouldEqual, 1)

	// handlers were removed from the sensor
	ts.SendDepthFrame(depthFrame(t, 2))
	vr.expectNone(t)

	test.That(t, errors.Is(c.Start(context.Background()), ErrSessionClosed), test.ShouldBeTrue)
	_, err = c.TakeShot(context.Background())
	test.That(t, errors.Is(err, ErrSessionNotRunning), test.ShouldBeTrue)
}

func TestObserverPanicDoesNotStopDelivery(t *testing.T) {
	c, ts := newTestCoordinator(t, Config{})
	delivered := make(chan DepthVisualization, 2)
	panicked := make(chan struct{})
	first := true
	c.SetDepthObserver(func(vis DepthVisualization) {
		if first {
			first = false
			close(panicked)
			panic("observer bug")
		}
		delivered <- vis
	})
	startCoordinator(t, c)

	ts.SendDepthFrame(depthFrame(t, 2))
	select {
	case <-panicked:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the first delivery")
	}
	ts.SendDepthFrame(depthFrame(t, 3))
	select {
	case vis := <-delivered:
		test.That(t, vis.Image.Width(), test.ShouldEqual, 3)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for delivery after a panic")
	}
}

func testWaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}
