package depthcapture

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/rimage"
	"go.viam.com/depthcam/utils"
)

// defaultDrainTimeout bounds how long Stop waits for an in-flight capture.
const defaultDrainTimeout = 5 * time.Second

// Config configures a Coordinator. The zero value is valid.
type Config struct {
	// PhotoCodec is "jpeg" (default), "png" or "qoi".
	PhotoCodec string `json:"photo_codec,omitempty"`
	// DepthOrientation is the orientation of the depth connection, "portrait" by default.
	DepthOrientation string `json:"depth_orientation,omitempty"`
	DepthFiltering   bool   `json:"depth_filtering,omitempty"`
	// ChannelLayout is how visualizations render their channels, "argb" by default.
	ChannelLayout string `json:"channel_layout,omitempty"`
	// DrainTimeout is a duration string such as "3s".
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	switch utils.MimeTypeFromCodec(conf.PhotoCodec) {
	case utils.MimeTypeJPEG, utils.MimeTypePNG, utils.MimeTypeQOI:
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unsupported photo_codec %q", conf.PhotoCodec))
	}
	if _, err := camera.OrientationFromString(conf.DepthOrientation); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if _, err := rimage.ChannelLayoutFromString(conf.ChannelLayout); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if conf.DrainTimeout != "" {
		d, err := time.ParseDuration(conf.DrainTimeout)
		if err != nil {
			return goutils.NewConfigValidationError(path, errors.Wrap(err, "invalid drain_timeout"))
		}
		if d <= 0 {
			return goutils.NewConfigValidationError(path, errors.New("drain_timeout must be positive"))
		}
	}
	return nil
}

// settings is a validated Config.
type settings struct {
	mimeType         string
	depthOrientation camera.Orientation
	depthFiltering   bool
	layout           rimage.ChannelLayout
	drainTimeout     time.Duration
}

func (conf *Config) settings(path string) (settings, error) {
	if err := conf.Validate(path); err != nil {
		return settings{}, err
	}
	// errors were checked by Validate
	orientation, _ := camera.OrientationFromString(conf.DepthOrientation)
	layout, _ := rimage.ChannelLayoutFromString(conf.ChannelLayout)
	drainTimeout := defaultDrainTimeout
	if conf.DrainTimeout != "" {
		drainTimeout, _ = time.ParseDuration(conf.DrainTimeout)
	}
	return settings{
		mimeType:         utils.MimeTypeFromCodec(conf.PhotoCodec),
		depthOrientation: orientation,
		depthFiltering:   conf.DepthFiltering,
		layout:           layout,
		drainTimeout:     drainTimeout,
	}, nil
}
