// Package config defines the demo's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"

	"github.com/armgaze/armgaze/components/arm"
	"github.com/armgaze/armgaze/components/pantilt"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/services/navigation"
	"github.com/armgaze/armgaze/utils"
	"github.com/armgaze/armgaze/web/monitor"
)

const (
	// MaxArms is how many arms the demo drives.
	MaxArms = 2
	// MaxScriptWaypoints bounds the waypoint script.
	MaxScriptWaypoints = 12
)

// Config is the whole configuration file.
type Config struct {
	PollInterval Duration `json:"poll_interval,omitempty"`
	// SafetyMarginDeg defaults to gaze.DefaultSafetyMarginDeg when omitted.
	SafetyMarginDeg *float64 `json:"safety_margin_deg,omitempty"`
	InvertPan       bool     `json:"invert_pan,omitempty"`
	InvertTilt      bool     `json:"invert_tilt,omitempty"`

	PanTilt PanTiltConfig `json:"pan_tilt"`
	Arms    []ArmConfig   `json:"arms"`

	Script      []Waypoint `json:"script,omitempty"`
	DemoGoals   []string   `json:"demo_goals,omitempty"`
	ResumeDelay Duration   `json:"resume_delay,omitempty"`
	// DemoMode is "script" (the default) or "reactive".
	DemoMode string `json:"demo_mode,omitempty"`

	Navigation *navigation.Config `json:"navigation,omitempty"`
	Monitor    *monitor.Config    `json:"monitor,omitempty"`

	Debug     bool                          `json:"debug,omitempty"`
	LogConfig []logging.LoggerPatternConfig `json:"log,omitempty"`
	LogFile   *LogFileConfig                `json:"log_file,omitempty"`
}

// DefaultLogFileMaxSize is the size at which the log file is rotated when max_size is omitted.
const DefaultLogFileMaxSize = "100MB"

// LogFileConfig mirrors the log to a file that is rotated by size.
type LogFileConfig struct {
	Path string `json:"path"`
	// MaxSize is a human readable size such as "20MB".
	MaxSize    string `json:"max_size,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *LogFileConfig) Validate(path string) error {
	if c.Path == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if c.MaxBackups < 0 {
		return goutils.NewConfigValidationError(path, errors.New("max_backups must not be negative"))
	}
	if _, err := c.MaxSizeMB(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// MaxSizeMB returns the rotation size in whole megabytes, at least one.
func (c *LogFileConfig) MaxSizeMB() (int, error) {
	size := c.MaxSize
	if size == "" {
		size = DefaultLogFileMaxSize
	}
	bytes, err := units.FromHumanSize(size)
	if err != nil {
		return 0, errors.Wrap(err, "invalid max_size")
	}
	if bytes <= 0 {
		return 0, errors.Errorf("max_size must be positive, got %q", size)
	}
	return int((bytes + units.MB - 1) / units.MB), nil
}

// PanTiltConfig picks the head driver. Every other field of the JSON object is passed to the
// driver as its attributes.
type PanTiltConfig struct {
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the raw object for the driver.
func (c *PanTiltConfig) UnmarshalJSON(data []byte) error {
	type plain PanTiltConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = PanTiltConfig(p)
	c.Attributes = append(json.RawMessage(nil), data...)
	return nil
}

// ArmConfig is one arm. Fields the demo does not know are passed to the driver as attributes.
type ArmConfig struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// Offset is the translation from the arm origin to the head's rotation center, in the arm frame.
	Offset r3.Vector `json:"offset"`
	// Gaze marks the arm the head follows.
	Gaze bool `json:"gaze,omitempty"`
	// Script marks the arm that plays the waypoint script.
	Script bool `json:"script,omitempty"`

	Attributes json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the raw object for the driver.
func (c *ArmConfig) UnmarshalJSON(data []byte) error {
	type plain ArmConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ArmConfig(p)
	c.Attributes = append(json.RawMessage(nil), data...)
	return nil
}

// Waypoint is one cartesian script step in meters and radians. Fingers is "open", "closed" or
// empty; empty follows the default pattern (open for the first two steps, closed after).
type Waypoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	ThetaX  float64 `json:"theta_x"`
	ThetaY  float64 `json:"theta_y"`
	ThetaZ  float64 `json:"theta_z"`
	Fingers string  `json:"fingers,omitempty"`
}

// Pose converts the waypoint to an arm pose.
func (w Waypoint) Pose() arm.Pose {
	pose := arm.Pose{
		Position:    r3.Vector{X: w.X, Y: w.Y, Z: w.Z},
		Orientation: r3.Vector{X: w.ThetaX, Y: w.ThetaY, Z: w.ThetaZ},
	}
	switch w.Fingers {
	case "open":
		pose.Fingers = arm.FingersOpen
	case "closed":
		pose.Fingers = arm.FingersClosed
	}
	return pose
}

// Validate ensures all parts of the waypoint are valid.
func (w Waypoint) Validate(path string) error {
	for _, v := range []float64{w.X, w.Y, w.Z, w.ThetaX, w.ThetaY, w.ThetaZ} {
		if !utils.IsFinite(v) {
			return goutils.NewConfigValidationError(path, errors.New("coordinates must be finite"))
		}
	}
	switch w.Fingers {
	case "", "open", "closed":
		return nil
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("fingers must be open or closed, got %q", w.Fingers))
	}
}

// Duration is a time.Duration written as a string such as "500ms" in JSON.
type Duration time.Duration

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(value * float64(time.Second))
	default:
		return errors.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if c.PollInterval < 0 {
		return goutils.NewConfigValidationError("poll_interval", errors.New("must not be negative"))
	}
	if c.ResumeDelay < 0 {
		return goutils.NewConfigValidationError("resume_delay", errors.New("must not be negative"))
	}
	if m := c.SafetyMargin(); m < 0 || !utils.IsFinite(m) {
		return goutils.NewConfigValidationError("safety_margin_deg",
			errors.Wrapf(gaze.ErrInvalidConfiguration, "must be a non-negative number, got %v", m))
	}

	if c.PanTilt.Type == "" {
		return goutils.NewConfigValidationFieldRequiredError("pan_tilt", "type")
	}
	if err := pantilt.Registry.Validate("pan_tilt", c.PanTilt.Type, c.PanTilt.Attributes); err != nil {
		return err
	}

	if err := c.validateArms(); err != nil {
		return err
	}
	if err := c.validateScript(); err != nil {
		return err
	}

	if c.Navigation != nil {
		if err := c.Navigation.Validate("navigation"); err != nil {
			return err
		}
	}
	if c.Monitor != nil {
		if err := c.Monitor.Validate("monitor"); err != nil {
			return err
		}
	}
	for i, lc := range c.LogConfig {
		if err := lc.Validate(); err != nil {
			return goutils.NewConfigValidationError(fmt.Sprintf("log.%d", i), err)
		}
	}
	if c.LogFile != nil {
		if err := c.LogFile.Validate("log_file"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateArms() error {
	if len(c.Arms) == 0 {
		return goutils.NewConfigValidationFieldRequiredError("", "arms")
	}
	if len(c.Arms) > MaxArms {
		return goutils.NewConfigValidationError("arms", errors.Errorf("at most %d arms are supported, got %d", MaxArms, len(c.Arms)))
	}
	for i, a := range c.Arms {
		path := fmt.Sprintf("arms.%d", i)
		if a.Name == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, "name")
		}
		if a.Type == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, "type")
		}
		if !utils.VectorIsFinite(a.Offset) {
			return goutils.NewConfigValidationError(path, errors.New("offset must be finite"))
		}
		if err := arm.Registry.Validate(path, a.Type, a.Attributes); err != nil {
			return err
		}
	}
	names := lo.Map(c.Arms, func(a ArmConfig, _ int) string { return a.Name })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return goutils.NewConfigValidationError("arms", errors.Errorf("duplicate arm names %v", dups))
	}
	if n := lo.CountBy(c.Arms, func(a ArmConfig) bool { return a.Gaze }); n != 1 {
		return goutils.NewConfigValidationError("arms", errors.Errorf("exactly one arm must set gaze, got %d", n))
	}
	if n := lo.CountBy(c.Arms, func(a ArmConfig) bool { return a.Script }); n > 1 {
		return goutils.NewConfigValidationError("arms", errors.Errorf("at most one arm may set script, got %d", n))
	}
	return nil
}

func (c *Config) validateScript() error {
	_, hasScriptArm := lo.Find(c.Arms, func(a ArmConfig) bool { return a.Script })
	switch {
	case hasScriptArm && len(c.Script) == 0:
		return goutils.NewConfigValidationFieldRequiredError("", "script")
	case !hasScriptArm && len(c.Script) > 0:
		return goutils.NewConfigValidationError("script", errors.New("no arm sets script"))
	case len(c.Script) > MaxScriptWaypoints:
		return goutils.NewConfigValidationError("script",
			errors.Errorf("at most %d waypoints are supported, got %d", MaxScriptWaypoints, len(c.Script)))
	}
	for i, w := range c.Script {
		if err := w.Validate(fmt.Sprintf("script.%d", i)); err != nil {
			return err
		}
	}
	if len(c.DemoGoals) > 0 && !hasScriptArm {
		return goutils.NewConfigValidationError("demo_goals", errors.New("no arm sets script"))
	}
	switch c.DemoMode {
	case "", "script":
	case "reactive":
		if !hasScriptArm {
			return goutils.NewConfigValidationError("demo_mode", errors.New("no arm sets script"))
		}
	default:
		return goutils.NewConfigValidationError("demo_mode",
			errors.Errorf("must be script or reactive, got %q", c.DemoMode))
	}
	return nil
}

// SafetyMargin returns the configured margin or the default.
func (c *Config) SafetyMargin() float64 {
	if c.SafetyMarginDeg == nil {
		return gaze.DefaultSafetyMarginDeg
	}
	return *c.SafetyMarginDeg
}

// AimerOptions returns the gaze options the config asks for.
func (c *Config) AimerOptions() []gaze.Option {
	return []gaze.Option{
		gaze.WithSafetyMargin(c.SafetyMargin()),
		gaze.WithInvertPan(c.InvertPan),
		gaze.WithInvertTilt(c.InvertTilt),
	}
}

// ScriptPoses converts the script to arm poses.
func (c *Config) ScriptPoses() []arm.Pose {
	return lo.Map(c.Script, func(w Waypoint, _ int) arm.Pose { return w.Pose() })
}
