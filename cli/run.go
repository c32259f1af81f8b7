package cli

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/components/camera/depthcapture"
	"go.viam.com/depthcam/config"
	"go.viam.com/depthcam/logging"
)

func readConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	path := c.String(generalFlagConfig)
	if path == "" {
		return nil, errors.New("a config file is required, pass one with --config")
	}
	cfg, err := config.Read(path, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	if c.Bool(generalFlagDebug) {
		cfg.Debug = true
	}
	return cfg, nil
}

// ValidateAction is the corresponding action for 'validate'.
func ValidateAction(c *cli.Context) error {
	cfg, err := readConfig(c, logging.NewLogger("depthcam"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s is valid, sensor model %q\n", cfg.ConfigFilePath, cfg.Sensor.Model)
	return nil
}

// ListModelsAction is the corresponding action for 'models'.
func ListModelsAction(c *cli.Context) error {
	for _, model := range camera.RegisteredSensorModels() {
		fmt.Fprintln(c.App.Writer, model)
	}
	return nil
}

// RunAction is the corresponding action for 'run'.
func RunAction(c *cli.Context) (err error) {
	logger := logging.NewLogger("depthcam")
	cfg, err := readConfig(c, logger)
	if err != nil {
		return err
	}
	if err := logging.UpdateLoggerConfig(cfg.LogConfig, logger); err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel())

	ctx, stopSignals := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	if duration := c.Duration(runFlagDuration); duration > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	ctx = runContext(ctx, cfg)

	sensor, err := camera.NewSensor(ctx, cfg.Sensor.Model, cfg.Sensor.Attributes, logger.Sublogger("sensor"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, sensor.Close(context.Background()))
	}()

	coord, err := depthcapture.NewCoordinator(ctx, sensor, cfg.Capture, logger.Sublogger("capture"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, coord.Close(context.Background()))
	}()

	summary := &runSummary{logger: logger}
	coord.SetDepthObserver(summary.observeDepth)
	coord.SetPhotoObserver(summary.observePhoto)

	if err := coord.Start(ctx); err != nil {
		return err
	}
	takeShots(ctx, coord, c.Int(runFlagShots), c.Duration(runFlagShotInterval), logger)
	<-ctx.Done()

	if err := coord.Stop(context.Background()); err != nil {
		logger.Warnw("capture session did not stop cleanly", "error", err)
	}
	fmt.Fprintln(c.App.Writer, summary.render(coord.Stats()))
	if coord.State() == depthcapture.StateFailed {
		return depthcapture.ErrSessionFailed
	}
	return nil
}

// runContext enables context debug logging for debug runs, so capture requests are logged even by
// loggers the log config quiets.
func runContext(ctx context.Context, cfg *config.Config) context.Context {
	if !cfg.Debug {
		return ctx
	}
	return logging.EnableDebugMode(ctx, "")
}

func takeShots(ctx context.Context, coord *depthcapture.Coordinator, shots int, interval time.Duration, logger logging.Logger) {
	for i := 0; i < shots; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
		pending, err := coord.TakeShot(ctx)
		if err != nil {
			logger.Warnw("could not take shot", "error", err)
			continue
		}
		if err := pending.Wait(ctx); err != nil {
			logger.Warnw("shot failed", "request_id", pending.ID(), "error", err)
		}
	}
}

// runSummary counts what the observers were given during a run.
type runSummary struct {
	logger logging.Logger

	mu                   sync.Mutex
	streamVisualizations int
	stillVisualizations  int
	photos               int
	lastPhotoBounds      image.Rectangle
	lastFrameTime        time.Time

	// one sample per visualization
	invalidFractions []float64
	// seconds between consecutive stream visualizations
	frameIntervals []float64
}

func (rs *runSummary) observeDepth(vis depthcapture.DepthVisualization) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	switch vis.Source {
	case depthcapture.SourceStill:
		rs.stillVisualizations++
		rs.logger.Infow("still depth visualized",
			"request_id", vis.RequestID,
			"width", vis.Image.Width(),
			"height", vis.Image.Height(),
			"invalid_pixels", vis.InvalidPixels,
		)
	default:
		rs.streamVisualizations++
		if !rs.lastFrameTime.IsZero() {
			rs.frameIntervals = append(rs.frameIntervals, vis.FrameTimestamp.Sub(rs.lastFrameTime).Seconds())
		}
		rs.lastFrameTime = vis.FrameTimestamp
		rs.logger.Debugw("depth frame visualized", "seq", vis.Seq, "invalid_pixels", vis.InvalidPixels)
	}
	if pixels := vis.Image.Width() * vis.Image.Height(); pixels > 0 {
		rs.invalidFractions = append(rs.invalidFractions, float64(vis.InvalidPixels)/float64(pixels))
	}
}

func (rs *runSummary) observePhoto(requestID string, photo *camera.Photo) {
	img, err := photo.Image()
	if err != nil {
		rs.logger.Warnw("delivered photo cannot be decoded", "request_id", requestID, "error", err)
		return
	}
	rs.mu.Lock()
	rs.photos++
	rs.lastPhotoBounds = img.Bounds()
	rs.mu.Unlock()
	rs.logger.Infow("photo captured",
		"request_id", requestID,
		"mime_type", photo.MimeType(),
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
	)
}

// render prints the pipeline counters and what the observers saw as a table.
func (rs *runSummary) render(pipelineStats depthcapture.Stats) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Counter", "Value"})
	t.AppendRows([]table.Row{
		{"frames received", pipelineStats.FramesReceived},
		{"frames dropped", pipelineStats.FramesDropped},
		{"visualizations dropped", pipelineStats.VisualizationsDropped},
		{"frames delivered", pipelineStats.FramesDelivered},
		{"conversion errors", pipelineStats.ConversionErrors},
		{"captures requested", pipelineStats.CapturesRequested},
		{"captures completed", pipelineStats.CapturesCompleted},
		{"captures failed", pipelineStats.CapturesFailed},
		{"stream visualizations", rs.streamVisualizations},
		{"still visualizations", rs.stillVisualizations},
		{"photos", rs.photos},
	})
	if mean, err := stats.Mean(rs.invalidFractions); err == nil {
		worst, _ := stats.Max(rs.invalidFractions)
		t.AppendRow(table.Row{"invalid pixels", fmt.Sprintf("%.1f%% mean, %.1f%% worst", 100*mean, 100*worst)})
	}
	if median, err := stats.Median(rs.frameIntervals); err == nil && median > 0 {
		t.AppendRow(table.Row{"stream rate", fmt.Sprintf("%.1f fps", 1/median)})
	}
	if rs.photos > 0 {
		t.AppendRow(table.Row{"photo size", fmt.Sprintf("%dx%d", rs.lastPhotoBounds.Dx(), rs.lastPhotoBounds.Dy())})
	}
	return t.Render()
}
