package logging

import (
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose name matches Pattern. A `*` matches
// any run of characters, e.g. "armgaze.tracker.*".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

// e.g. "foo", "foo-bar" or "*", joined by dots.
const (
	validLoggerSectionName             = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	validLoggerName                    = `^` + validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

// Validate checks the pattern syntax and level name.
func (cfg LoggerPatternConfig) Validate() error {
	if !loggerPatternRegexp.MatchString(cfg.Pattern) {
		return errors.Errorf("invalid logger pattern %q", cfg.Pattern)
	}
	_, err := LevelFromString(cfg.Level)
	return err
}

func buildRegexFromPattern(pattern string) string {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteRune(ch)
		}
	}
	matcher.WriteRune('$')
	return matcher.String()
}

type levelPattern struct {
	matcher *regexp.Regexp
	level   Level
}

// levelRegistry is shared by a root logger and all of its subloggers.
type levelRegistry struct {
	mu       sync.RWMutex
	patterns []levelPattern
	loggers  []registeredLogger
}

// registeredLogger is a sublogger whose level follows the patterns. base is the level it was
// created with, restored when no pattern matches it anymore.
type registeredLogger struct {
	name  string
	level AtomicLevel
	base  Level
}

func (reg *levelRegistry) register(name string, level AtomicLevel, base Level) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.loggers = append(reg.loggers, registeredLogger{name: name, level: level, base: base})
}

func (reg *levelRegistry) levelFor(name string) (Level, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	// last match wins so later config entries refine earlier ones
	for i := len(reg.patterns) - 1; i >= 0; i-- {
		if reg.patterns[i].matcher.MatchString(name) {
			return reg.patterns[i].level, true
		}
	}
	return DEBUG, false
}

func (reg *levelRegistry) set(cfgs []LoggerPatternConfig) error {
	patterns := make([]levelPattern, 0, len(cfgs))
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		level, err := LevelFromString(cfg.Level)
		if err != nil {
			return err
		}
		patterns = append(patterns, levelPattern{regexp.MustCompile(buildRegexFromPattern(cfg.Pattern)), level})
	}
	reg.mu.Lock()
	reg.patterns = patterns
	loggers := reg.loggers
	reg.mu.Unlock()

	for _, l := range loggers {
		level, ok := reg.levelFor(l.name)
		if !ok {
			level = l.base
		}
		l.level.Set(level)
	}
	return nil
}

// ApplyPatterns registers level patterns on the logger tree rooted at logger. Existing subloggers
// are updated in place and later ones pick the patterns up when they are created.
func ApplyPatterns(logger Logger, cfgs []LoggerPatternConfig) error {
	imp, ok := logger.(*impl)
	if !ok {
		return errors.Errorf("cannot apply log patterns to %T", logger)
	}
	if err := imp.registry.set(cfgs); err != nil {
		return err
	}
	if level, ok := imp.registry.levelFor(imp.name); ok {
		imp.SetLevel(level)
	}
	return nil
}
