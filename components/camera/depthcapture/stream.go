package depthcapture

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

// streamPipeline turns streamed depth frames into visualizations for the depth observer.
//
// Frames pass through a one-slot inbox to a single processing goroutine, and the resulting
// visualizations through a one-slot pending delivery on the delivery queue. Both slots keep only
// the newest item, so a slow observer or slow conversion sees the latest frame and never a
// backlog.
type streamPipeline struct {
	logger    logging.Logger
	queue     *utils.SerialQueue
	observers *observers
	layout    rimage.ChannelLayout
	workers   utils.StoppableWorkers

	// deliverMu is held for reading while a delivery runs and for writing while running changes,
	// so a stop waits for an in-flight delivery. Frames and visualizations carry the generation
	// they were received in and are dropped once it changes.
	deliverMu  sync.RWMutex
	running    bool
	generation atomic.Uint64

	inboxMu sync.Mutex
	inbox   *streamFrame
	notify  chan struct{}

	pendingMu sync.Mutex
	pending   *streamVisualization

	seq                   atomic.Uint64
	framesReceived        atomic.Uint64
	framesDropped         atomic.Uint64
	visualizationsDropped atomic.Uint64
	framesDelivered       atomic.Uint64
	conversionErrors      atomic.Uint64
}

type streamFrame struct {
	frame      *rimage.DepthFrame
	generation uint64
}

type streamVisualization struct {
	vis        DepthVisualization
	generation uint64
}

func newStreamPipeline(
	logger logging.Logger,
	queue *utils.SerialQueue,
	obs *observers,
	layout rimage.ChannelLayout,
) *streamPipeline {
	sp := &streamPipeline{
		logger:    logger,
		queue:     queue,
		observers: obs,
		layout:    layout,
		notify:    make(chan struct{}, 1),
	}
	sp.workers = utils.NewStoppableWorkers(sp.processLoop)
	return sp
}

// onFrame is the sensor's depth frame handler. It never blocks on conversion or delivery.
func (sp *streamPipeline) onFrame(frame *rimage.DepthFrame) {
	if frame == nil {
		return
	}
	sp.deliverMu.RLock()
	running, generation := sp.running, sp.generation.Load()
	sp.deliverMu.RUnlock()
	if !running {
		return
	}
	sp.framesReceived.Inc()

	sp.inboxMu.Lock()
	if sp.inbox != nil {
		sp.framesDropped.Inc()
	}
	sp.inbox = &streamFrame{frame: frame, generation: generation}
	sp.inboxMu.Unlock()

	select {
	case sp.notify <- struct{}{}:
	default:
	}
}

func (sp *streamPipeline) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sp.notify:
		}

		sp.inboxMu.Lock()
		next := sp.inbox
		sp.inbox = nil
		sp.inboxMu.Unlock()
		if next == nil || !sp.isCurrent(next.generation) {
			continue
		}
		sp.process(next)
	}
}

func (sp *streamPipeline) process(in *streamFrame) {
	field, err := rimage.ConvertDepth(in.frame, rimage.CanonicalDepthEncoding)
	if err != nil {
		sp.conversionErrors.Inc()
		sp.logger.Warnw("dropping depth frame that could not be converted", "error", err)
		return
	}
	vis := DepthVisualization{
		Source:         SourceStream,
		Image:          rimage.VisualizeDisparity(field).WithLayout(sp.layout),
		FrameTimestamp: in.frame.Timestamp,
		Seq:            sp.seq.Inc(),
		InvalidPixels:  rimage.InvalidCount(field),
	}
	sp.offer(&streamVisualization{vis: vis, generation: in.generation})
}

// offer puts a visualization in the pending slot, replacing an undelivered older one. Only the
// call that fills an empty slot schedules a delivery.
func (sp *streamPipeline) offer(next *streamVisualization) {
	sp.pendingMu.Lock()
	defer sp.pendingMu.Unlock()
	if sp.pending != nil {
		sp.visualizationsDropped.Inc()
		sp.pending = next
		return
	}
	sp.pending = next
	if err := sp.queue.Submit(sp.deliverPending); err != nil {
		sp.pending = nil
		sp.visualizationsDropped.Inc()
	}
}

// deliverPending runs on the delivery queue.
func (sp *streamPipeline) deliverPending() {
	sp.pendingMu.Lock()
	next := sp.pending
	sp.pending = nil
	sp.pendingMu.Unlock()
	if next == nil {
		return
	}

	sp.deliverMu.RLock()
	defer sp.deliverMu.RUnlock()
	if !sp.running || sp.generation.Load() != next.generation {
		sp.visualizationsDropped.Inc()
		return
	}
	observer := sp.observers.depthObserver()
	if observer == nil {
		return
	}
	observer(next.vis)
	sp.framesDelivered.Inc()
}

func (sp *streamPipeline) isCurrent(generation uint64) bool {
	sp.deliverMu.RLock()
	defer sp.deliverMu.RUnlock()
	return sp.running && sp.generation.Load() == generation
}

// start lets frames through. Frames from before the last stop stay suppressed.
func (sp *streamPipeline) start() {
	sp.deliverMu.Lock()
	sp.running = true
	sp.deliverMu.Unlock()
}

// stop suppresses every frame and visualization not yet delivered. It waits for a delivery in
// progress, so it must not be called from the depth observer.
func (sp *streamPipeline) stop() {
	// Bumping first suppresses queued deliveries while an in-flight one finishes. Bumping again
	// under the lock covers frames accepted in between.
	sp.generation.Inc()
	sp.deliverMu.Lock()
	sp.running = false
	sp.generation.Inc()
	sp.deliverMu.Unlock()

	sp.inboxMu.Lock()
	sp.inbox = nil
	sp.inboxMu.Unlock()
}

// close stops the processing goroutine.
func (sp *streamPipeline) close() {
	sp.stop()
	sp.workers.Stop()
}

func (sp *streamPipeline) addStats(stats *Stats) {
	stats.FramesReceived = sp.framesReceived.Load()
	stats.FramesDropped = sp.framesDropped.Load()
	stats.VisualizationsDropped = sp.visualizationsDropped.Load()
	stats.FramesDelivered = sp.framesDelivered.Load()
	stats.ConversionErrors = sp.conversionErrors.Load()
}
