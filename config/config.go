// Package config defines the structures to configure a depth capture run.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthcam/components/camera"
	"go.viam.com/depthcam/components/camera/depthcapture"
	"go.viam.com/depthcam/logging"
)

// A Config describes the sensor to capture from, how to capture and how to log.
type Config struct {
	// ConfigFilePath is the path the config was read from, if any.
	ConfigFilePath string `json:"-"`

	Debug     bool                          `json:"debug,omitempty"`
	LogConfig []logging.LoggerPatternConfig `json:"log,omitempty"`

	Sensor  SensorConfig        `json:"sensor"`
	Capture depthcapture.Config `json:"capture"`
}

// SensorConfig selects a registered sensor model and its attributes.
type SensorConfig struct {
	Model      string                 `json:"model"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (sc *SensorConfig) Validate(path string) error {
	if sc.Model == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "model")
	}
	_, err := camera.ConvertAttributes(sc.Model, sc.Attributes, path)
	return err
}

// Ensure validates the config. Every invalid section is reported.
func (c *Config) Ensure(logger logging.Logger) error {
	var errs error
	for idx, lpc := range c.LogConfig {
		if err := validateLogPattern(lpc); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("log.%d", idx), err))
		}
	}
	if err := c.Sensor.Validate("sensor"); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := c.Capture.Validate("capture"); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil && logger != nil {
		for _, err := range multierr.Errors(errs) {
			logger.Errorw("invalid config", "error", err)
		}
	}
	return errs
}

// LogLevel returns the base level for loggers no pattern matches.
func (c *Config) LogLevel() logging.Level {
	if c.Debug {
		return logging.DEBUG
	}
	return logging.INFO
}

func validateLogPattern(lpc logging.LoggerPatternConfig) error {
	if !logging.ValidatePattern(lpc.Pattern) {
		return errors.Errorf("invalid logger pattern %q", lpc.Pattern)
	}
	if _, err := logging.LevelFromString(lpc.Level); err != nil {
		return err
	}
	return nil
}
