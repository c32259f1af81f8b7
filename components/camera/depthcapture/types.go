package depthcapture

import (
	"sync"
	"time"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/rimage"
)

// SessionState is the lifecycle state of a Coordinator.
type SessionState int

// Session states. StateCapturingPhoto is reported instead of StateRunning while a shot is in
// flight.
const (
	StateUninitialized SessionState = iota
	StateConfigured
	StateRunning
	StateCapturingPhoto
	StateStopped
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateCapturingPhoto:
		return "capturing_photo"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CaptureState is the state of the still capture pipeline.
type CaptureState int

// Capture states.
const (
	CaptureIdle CaptureState = iota
	CaptureRequested
	CaptureAwaitingResult
	CaptureFinalizing
	CaptureFailed
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureRequested:
		return "requested"
	case CaptureAwaitingResult:
		return "awaiting_result"
	case CaptureFinalizing:
		return "finalizing"
	case CaptureFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source says which pipeline produced a DepthVisualization.
type Source int

// Visualization sources.
const (
	SourceStream Source = iota
	SourceStill
)

func (s Source) String() string {
	if s == SourceStill {
		return "still"
	}
	return "stream"
}

// A DepthVisualization is a rendered depth frame handed to the depth observer. The observer owns
// Image from then on.
type DepthVisualization struct {
	Source         Source
	Image          *rimage.ColorImage
	FrameTimestamp time.Time

	// Seq numbers stream visualizations from 1 in the order they were converted. It is zero for
	// stills.
	Seq uint64
	// RequestID is the capture request a still visualization belongs to.
	RequestID string
	// InvalidPixels is the number of pixels with no depth measurement.
	InvalidPixels int
}

// DepthObserver receives depth visualizations.
type DepthObserver func(DepthVisualization)

// PhotoObserver receives captured photos. The photo is already decoded.
type PhotoObserver func(requestID string, photo *camera.Photo)

// Stats counts what the pipelines did since the coordinator was created.
type Stats struct {
	FramesReceived        uint64
	FramesDropped         uint64
	VisualizationsDropped uint64
	FramesDelivered       uint64
	ConversionErrors      uint64

	CapturesRequested uint64
	CapturesCompleted uint64
	CapturesFailed    uint64
}

// observers holds the single depth and photo observer.
type observers struct {
	mu    sync.RWMutex
	depth DepthObserver
	photo PhotoObserver
}

func (o *observers) setDepth(f DepthObserver) {
	o.mu.Lock()
	o.depth = f
	o.mu.Unlock()
}

func (o *observers) setPhoto(f PhotoObserver) {
	o.mu.Lock()
	o.photo = f
	o.mu.Unlock()
}

func (o *observers) depthObserver() DepthObserver {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.depth
}

func (o *observers) photoObserver() PhotoObserver {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.photo
}
