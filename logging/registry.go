package logging

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var globalLoggerRegistry = newRegistry()

// Registry tracks named loggers so their levels can be driven by logger pattern configs.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// UpdateLoggerConfig applies logger pattern configs to every logger created with NewLogger (and
// their subloggers), including loggers registered later.
func UpdateLoggerConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, errorLogger)
}

// RegisteredLoggerNames returns the sorted names of all registered loggers.
func RegisteredLoggerNames() []string {
	return globalLoggerRegistry.registeredLoggerNames()
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// levelFromConfig returns the level the last matching pattern assigns to `name`. Later patterns
// take precedence over earlier ones. Expects lr.mu to be held.
func (lr *Registry) levelFromConfig(name string) (Level, bool, error) {
	var (
		matched bool
		level   Level
	)
	for _, lpc := range lr.logConfig {
		if !ValidatePattern(lpc.Pattern) {
			continue
		}
		r, err := regexp.Compile(patternRegex(lpc.Pattern))
		if err != nil {
			return INFO, false, err
		}
		if !r.MatchString(name) {
			continue
		}
		level, err = LevelFromString(lpc.Level)
		if err != nil {
			return INFO, false, err
		}
		matched = true
	}
	return level, matched, nil
}

// UpdateConfig stores the new pattern configs and re-levels every registered logger. Loggers no
// pattern matches go back to INFO.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	for _, lpc := range logConfig {
		if !ValidatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
		}
		if _, err := LevelFromString(lpc.Level); err != nil {
			return errors.Wrapf(err, "invalid level for logger pattern %q", lpc.Pattern)
		}
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = logConfig

	for name, logger := range lr.loggers {
		level, matched, err := lr.levelFromConfig(name)
		if err != nil {
			return err
		}
		if !matched {
			level = INFO
		}
		logger.SetLevel(level)
	}
	return nil
}

func (lr *Registry) registeredLoggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// getOrRegister will either:
//   - return an existing logger for the input logger `name` or
//   - register the input `logger` for the given logger `name` and configure it based on the
//     existing patterns.
//
// Such that if concurrent callers try registering the same logger, the "winner"s logger will be
// registered and all losers will return the winning logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	if level, matched, err := lr.levelFromConfig(name); err == nil && matched {
		logger.SetLevel(level)
	}
	return logger
}
