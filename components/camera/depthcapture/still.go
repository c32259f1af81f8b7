package depthcapture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

// PendingCapture is a capture request that has been accepted by the sensor.
type PendingCapture struct {
	id   string
	done chan struct{}
	once sync.Once
	err  error
}

func newPendingCapture(id string) *PendingCapture {
	return &PendingCapture{id: id, done: make(chan struct{})}
}

// ID returns the request ID the sensor reports events for.
func (pc *PendingCapture) ID() string {
	return pc.id
}

// Done is closed once the capture has finished and its results, if any, were delivered.
func (pc *PendingCapture) Done() <-chan struct{} {
	return pc.done
}

// Err returns why the capture failed. It is only meaningful once Done is closed.
func (pc *PendingCapture) Err() error {
	select {
	case <-pc.done:
		return pc.err
	default:
		return nil
	}
}

// Wait blocks until the capture is done or ctx is.
func (pc *PendingCapture) Wait(ctx context.Context) error {
	select {
	case <-pc.done:
		return pc.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (pc *PendingCapture) finish(err error) {
	pc.once.Do(func() {
		pc.err = err
		close(pc.done)
	})
}

// stillPipeline runs one photo+depth capture at a time through
// Idle -> Requested -> AwaitingResult -> Finalizing -> Idle, or through Failed back to Idle.
type stillPipeline struct {
	logger    logging.Logger
	sensor    camera.Sensor
	queue     *utils.SerialQueue
	observers *observers
	mimeType  string
	layout    rimage.ChannelLayout

	mu        sync.Mutex
	state     CaptureState
	current   *PendingCapture
	outcome   error
	accepting bool

	requested        atomic.Uint64
	completed        atomic.Uint64
	failed           atomic.Uint64
	conversionErrors atomic.Uint64
}

func newStillPipeline(
	logger logging.Logger,
	sensor camera.Sensor,
	queue *utils.SerialQueue,
	obs *observers,
	mimeType string,
	layout rimage.ChannelLayout,
) *stillPipeline {
	return &stillPipeline{
		logger:    logger,
		sensor:    sensor,
		queue:     queue,
		observers: obs,
		mimeType:  mimeType,
		layout:    layout,
	}
}

func (sp *stillPipeline) captureState() CaptureState {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.state
}

func (sp *stillPipeline) setAccepting(accepting bool) {
	sp.mu.Lock()
	sp.accepting = accepting
	sp.mu.Unlock()
}

// takeShot submits a capture request. It is rejected unless the pipeline is idle.
func (sp *stillPipeline) takeShot(ctx context.Context) (*PendingCapture, error) {
	sp.mu.Lock()
	if !sp.accepting {
		sp.mu.Unlock()
		return nil, ErrSessionNotRunning
	}
	if sp.state != CaptureIdle {
		state := sp.state
		sp.mu.Unlock()
		return nil, errors.Wrapf(ErrCaptureInProgress, "capture is %v", state)
	}
	pc := newPendingCapture(uuid.NewString())
	sp.state = CaptureRequested
	sp.current = pc
	sp.outcome = nil
	sp.mu.Unlock()

	req := camera.CaptureRequest{
		ID:                   pc.id,
		MimeType:             sp.mimeType,
		DepthDeliveryEnabled: sp.sensor.DepthDeliverySupported(),
	}
	sp.requested.Inc()
	sp.logger.CDebugw(ctx, "requesting capture", "request_id", pc.id, "depth", req.DepthDeliveryEnabled)

	if err := sp.sensor.CapturePhoto(ctx, req, func(ev camera.CaptureEvent) { sp.handleEvent(pc, ev) }); err != nil {
		sp.mu.Lock()
		if sp.current == pc {
			sp.state = CaptureIdle
			sp.current = nil
		}
		sp.mu.Unlock()
		sp.failed.Inc()
		err = fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		pc.finish(err)
		return nil, err
	}
	return pc, nil
}

// handleEvent is called by the sensor for each lifecycle event of pc.
func (sp *stillPipeline) handleEvent(pc *PendingCapture, ev camera.CaptureEvent) {
	sp.mu.Lock()
	if sp.current != pc || (ev.RequestID != "" && ev.RequestID != pc.id) {
		sp.mu.Unlock()
		sp.logger.Debugw("ignoring event for stale capture", "event", ev.Type, "request_id", ev.RequestID)
		return
	}

	switch ev.Type {
	case camera.EventWillBeginCapture:
		if sp.state == CaptureRequested {
			sp.state = CaptureAwaitingResult
		}
		sp.mu.Unlock()
		sp.logger.Debugw("capture began", "request_id", pc.id)
	case camera.EventWillCapturePhoto, camera.EventDidCapturePhoto:
		sp.mu.Unlock()
		sp.logger.Debugw("capture progress", "request_id", pc.id, "event", ev.Type)
	case camera.EventDidFinishProcessing:
		if sp.state != CaptureRequested && sp.state != CaptureAwaitingResult {
			state := sp.state
			sp.mu.Unlock()
			sp.logger.Warnw("ignoring repeated capture result", "request_id", pc.id, "state", state)
			return
		}
		if ev.Err != nil {
			sp.failLocked(pc, ev.Err)
			sp.mu.Unlock()
			return
		}
		sp.state = CaptureFinalizing
		sp.mu.Unlock()
		sp.finalize(pc, ev)
	case camera.EventDidFinishCapture:
		if sp.state == CaptureRequested || sp.state == CaptureAwaitingResult {
			cause := ev.Err
			if cause == nil {
				cause = errors.New("capture finished without a result")
			}
			sp.failLocked(pc, cause)
		} else if ev.Err != nil && sp.state == CaptureFinalizing {
			// the result was already handed to the observers, so it stays the outcome
			sp.logger.Warnw("capture reported an error after its result", "request_id", pc.id, "error", ev.Err)
		}
		sp.mu.Unlock()
		sp.scheduleIdle(pc)
	default:
		sp.mu.Unlock()
		sp.logger.Warnw("ignoring unknown capture event", "request_id", pc.id, "event", ev.Type)
	}
}

// failLocked records a failed outcome. Results of the request are discarded.
func (sp *stillPipeline) failLocked(pc *PendingCapture, cause error) {
	sp.state = CaptureFailed
	sp.outcome = fmt.Errorf("%w: %w", ErrCaptureFailed, cause)
	sp.logger.Warnw("capture failed", "request_id", pc.id, "error", cause)
}

// finalize converts and renders the depth of a successful capture and schedules both deliveries.
func (sp *stillPipeline) finalize(pc *PendingCapture, ev camera.CaptureEvent) {
	if ev.Photo == nil {
		sp.fail(pc, errors.New("capture result has no photo"))
		return
	}
	if _, err := ev.Photo.Image(); err != nil {
		sp.fail(pc, err)
		return
	}

	var vis *DepthVisualization
	if ev.Depth == nil {
		sp.logger.Debugw("capture has no depth data", "request_id", pc.id)
	} else if field, err := rimage.ConvertDepth(ev.Depth, rimage.CanonicalDepthEncoding); err != nil {
		sp.conversionErrors.Inc()
		sp.logger.Warnw("could not convert capture depth", "request_id", pc.id, "error", err)
	} else {
		if min, max, ok := rimage.DisparityRange(field); ok {
			sp.logger.Debugw("capture disparity range", "request_id", pc.id, "min", min, "max", max)
		}
		vis = &DepthVisualization{
			Source:         SourceStill,
			Image:          rimage.VisualizeDisparity(field).WithLayout(sp.layout),
			FrameTimestamp: ev.Depth.Timestamp,
			RequestID:      pc.id,
			InvalidPixels:  rimage.InvalidCount(field),
		}
	}

	photo := ev.Photo
	deliver := func() {
		if !sp.isCurrent(pc) {
			return
		}
		if vis != nil {
			if observer := sp.observers.depthObserver(); observer != nil {
				observer(*vis)
			}
		}
		if observer := sp.observers.photoObserver(); observer != nil {
			observer(pc.id, photo)
		}
	}
	if err := sp.queue.Submit(deliver); err != nil {
		sp.logger.Debugw("dropping capture results", "request_id", pc.id, "error", err)
	}
}

func (sp *stillPipeline) fail(pc *PendingCapture, cause error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.current == pc {
		sp.failLocked(pc, cause)
	}
}

func (sp *stillPipeline) isCurrent(pc *PendingCapture) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.current == pc
}

// scheduleIdle returns the pipeline to idle after the request's deliveries have run.
func (sp *stillPipeline) scheduleIdle(pc *PendingCapture) {
	if err := sp.queue.Submit(func() { sp.toIdle(pc) }); err != nil {
		sp.toIdle(pc)
	}
}

func (sp *stillPipeline) toIdle(pc *PendingCapture) {
	sp.mu.Lock()
	if sp.current != pc {
		sp.mu.Unlock()
		return
	}
	outcome := sp.outcome
	sp.state = CaptureIdle
	sp.current = nil
	sp.outcome = nil
	sp.mu.Unlock()

	if outcome != nil {
		sp.failed.Inc()
	} else {
		sp.completed.Inc()
	}
	pc.finish(outcome)
}

// abandon gives up on the in-flight capture, if any. Later events for it are ignored.
func (sp *stillPipeline) abandon(cause error) {
	sp.mu.Lock()
	pc := sp.current
	if pc == nil {
		sp.mu.Unlock()
		return
	}
	sp.state = CaptureIdle
	sp.current = nil
	sp.outcome = nil
	sp.mu.Unlock()

	sp.failed.Inc()
	sp.logger.Warnw("abandoning capture", "request_id", pc.id, "reason", cause)
	pc.finish(cause)
}

// drain stops accepting shots and waits for the in-flight capture, if any, to finish. If it does
// not finish within timeout or before ctx is done, it is abandoned.
func (sp *stillPipeline) drain(ctx context.Context, timeout time.Duration) error {
	sp.mu.Lock()
	sp.accepting = false
	pc := sp.current
	sp.mu.Unlock()
	if pc == nil {
		return nil
	}

	stopSlowLogging := utils.SlowLogger(ctx, "waiting for in-flight capture", sp.logger, "request_id", pc.id)
	defer stopSlowLogging()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-pc.Done():
		return nil
	case <-ctx.Done():
		sp.abandon(ErrSessionNotRunning)
		return errors.Wrap(ctx.Err(), "in-flight capture did not finish")
	}
}

func (sp *stillPipeline) addStats(stats *Stats) {
	stats.CapturesRequested = sp.requested.Load()
	stats.CapturesCompleted = sp.completed.Load()
	stats.CapturesFailed = sp.failed.Load()
	stats.ConversionErrors += sp.conversionErrors.Load()
}
