package logging

import (
	"regexp"
	"strings"
)

// LoggerPatternConfig is an instance of a level specification for a given logger.
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

const (
	// a name section such as "capture" or "depth_stream"
	loggerSection = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// a section or a `*` wildcard
	loggerPatternSection = `(` + loggerSection + `|\*)`
)

var loggerPatternRegexp = regexp.MustCompile(`^` + loggerPatternSection + `(\.` + loggerPatternSection + `)*$`)

// ValidatePattern reports whether `pattern` is a valid dotted logger name pattern, where a
// section may be a `*` wildcard.
func ValidatePattern(pattern string) bool {
	return loggerPatternRegexp.MatchString(pattern)
}

var patternToRegex = strings.NewReplacer(`*`, `.*`, `.`, `\.`)

// patternRegex anchors a valid pattern into a regular expression over full logger names.
func patternRegex(pattern string) string {
	return "^" + patternToRegex.Replace(pattern) + "$"
}
