// Package gaze turns a point in a robot arm's coordinate frame into pan/tilt angles for a camera
// head mounted at a fixed offset from the arm's origin.
//
// Frame convention (arm frame, meters): -Y is in front of the arm base, +Z is up, and +X is the
// arm's left as seen by someone facing the arm. The camera head looks along -Y, so from the
// camera's own point of view -X is to its left.
//
// Angle convention (degrees): positive tilt is up, negative pan turns the head toward the camera's
// left. Heads wired the other way are handled with WithInvertPan / WithInvertTilt.
package gaze

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/armgaze/armgaze/utils"
)

const (
	// DefaultSafetyMarginDeg keeps commands this far inside each mechanical stop.
	DefaultSafetyMarginDeg = 5.0
	// DefaultEpsilon is the lateral or vertical distance, in meters, below which an axis is
	// considered centered.
	DefaultEpsilon = 1e-6
)

var (
	// ErrInvalidInput is returned for non-finite target or offset coordinates.
	ErrInvalidInput = errors.New("invalid aim input")
	// ErrInvalidConfiguration is returned for head limits or margins that cannot be clamped against.
	ErrInvalidConfiguration = errors.New("invalid head configuration")
)

// Point3 is a position in the arm frame, in meters.
type Point3 = r3.Vector

// MountOffset is the translation from the arm origin to the head's rotation center, in the arm
// frame, in meters.
type MountOffset = r3.Vector

// AimAngles are absolute head angles in degrees.
type AimAngles struct {
	Pan  float64 `json:"pan_deg"`
	Tilt float64 `json:"tilt_deg"`
}

// HeadLimits are the mechanical range of a head in degrees, as reported by its driver.
type HeadLimits struct {
	MinPan  float64 `json:"min_pan_deg"`
	MaxPan  float64 `json:"max_pan_deg"`
	MinTilt float64 `json:"min_tilt_deg"`
	MaxTilt float64 `json:"max_tilt_deg"`
}

// Validate checks that both axes have a finite, non-empty range.
func (l HeadLimits) Validate() error {
	for name, v := range map[string]float64{
		"min_pan": l.MinPan, "max_pan": l.MaxPan, "min_tilt": l.MinTilt, "max_tilt": l.MaxTilt,
	} {
		if !utils.IsFinite(v) {
			return errors.Wrapf(ErrInvalidConfiguration, "%s is %v", name, v)
		}
	}
	if l.MinPan >= l.MaxPan {
		return errors.Wrapf(ErrInvalidConfiguration, "min_pan %v must be below max_pan %v", l.MinPan, l.MaxPan)
	}
	if l.MinTilt >= l.MaxTilt {
		return errors.Wrapf(ErrInvalidConfiguration, "min_tilt %v must be below max_tilt %v", l.MinTilt, l.MaxTilt)
	}
	return nil
}

// Option configures an Aimer.
type Option func(*Aimer)

// WithSafetyMargin sets the margin kept from each limit, in degrees.
func WithSafetyMargin(deg float64) Option {
	return func(a *Aimer) {
		a.margin = deg
	}
}

// WithInvertPan flips the pan sign for heads whose positive pan turns left.
func WithInvertPan(invert bool) Option {
	return func(a *Aimer) {
		a.invertPan = invert
	}
}

// WithInvertTilt flips the tilt sign for heads whose positive tilt looks down.
func WithInvertTilt(invert bool) Option {
	return func(a *Aimer) {
		a.invertTilt = invert
	}
}

// WithEpsilon sets the centered-axis threshold in meters.
func WithEpsilon(meters float64) Option {
	return func(a *Aimer) {
		a.epsilon = meters
	}
}

// An Aimer computes head angles against one head's limits. It is immutable once built and safe
// for concurrent use.
type Aimer struct {
	limits     HeadLimits
	margin     float64
	epsilon    float64
	invertPan  bool
	invertTilt bool

	panLo, panHi   float64
	tiltLo, tiltHi float64
}

// NewAimer validates limits and options up front so a misconfigured head is caught at setup
// rather than on the first control cycle.
func NewAimer(limits HeadLimits, opts ...Option) (*Aimer, error) {
	a := &Aimer{
		limits:  limits,
		margin:  DefaultSafetyMarginDeg,
		epsilon: DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if !utils.IsFinite(a.margin) || a.margin < 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "safety margin must be a non-negative number, got %v", a.margin)
	}
	if !utils.IsFinite(a.epsilon) || a.epsilon < 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "epsilon must be a non-negative number, got %v", a.epsilon)
	}

	a.panLo, a.panHi = limits.MinPan+a.margin, limits.MaxPan-a.margin
	a.tiltLo, a.tiltHi = limits.MinTilt+a.margin, limits.MaxTilt-a.margin
	if a.panLo > a.panHi {
		return nil, errors.Wrapf(ErrInvalidConfiguration,
			"safety margin %v leaves no pan range in [%v, %v]", a.margin, limits.MinPan, limits.MaxPan)
	}
	if a.tiltLo > a.tiltHi {
		return nil, errors.Wrapf(ErrInvalidConfiguration,
			"safety margin %v leaves no tilt range in [%v, %v]", a.margin, limits.MinTilt, limits.MaxTilt)
	}
	return a, nil
}

// Limits returns the head limits the aimer was built with.
func (a *Aimer) Limits() HeadLimits {
	return a.limits
}

// SafetyMargin returns the margin in degrees.
func (a *Aimer) SafetyMargin() float64 {
	return a.margin
}

// Bounds returns the effective [lo, hi] ranges after the margin is applied.
func (a *Aimer) Bounds() (panLo, panHi, tiltLo, tiltHi float64) {
	return a.panLo, a.panHi, a.tiltLo, a.tiltHi
}

// Aim returns the angles that point the head at target. A target behind the head, beside it or at
// its rotation center has no usable direction and yields the centered head. Non-finite input
// returns ErrInvalidInput and must not be forwarded to a driver.
func (a *Aimer) Aim(target Point3, offset MountOffset) (AimAngles, error) {
	if err := checkFinite("target", target); err != nil {
		return AimAngles{}, err
	}
	if err := checkFinite("offset", offset); err != nil {
		return AimAngles{}, err
	}

	rel := target.Sub(offset)

	var pan, tilt float64
	if rel.Y < 0 {
		forward := -rel.Y
		if math.Abs(rel.X) > a.epsilon {
			pan = utils.RadToDeg(math.Atan2(rel.X, forward))
		}
		if math.Abs(rel.Z) > a.epsilon {
			tilt = utils.RadToDeg(math.Atan2(rel.Z, forward))
		}
	}

	if a.invertPan {
		pan = -pan
	}
	if a.invertTilt {
		tilt = -tilt
	}

	// the centered result is clamped too, a head whose range excludes 0 still gets a legal command
	return AimAngles{
		Pan:  utils.Clamp(pan, a.panLo, a.panHi),
		Tilt: utils.Clamp(tilt, a.tiltLo, a.tiltHi),
	}, nil
}

// ComputeAim is the one-shot form of NewAimer followed by Aim.
func ComputeAim(target Point3, offset MountOffset, limits HeadLimits, safetyMarginDeg float64) (AimAngles, error) {
	a, err := NewAimer(limits, WithSafetyMargin(safetyMarginDeg))
	if err != nil {
		return AimAngles{}, err
	}
	return a.Aim(target, offset)
}

func checkFinite(name string, v r3.Vector) error {
	for axis, c := range [3]float64{v.X, v.Y, v.Z} {
		if !utils.IsFinite(c) {
			return errors.Wrapf(ErrInvalidInput, "%s.%c is %v", name, "xyz"[axis], c)
		}
	}
	return nil
}
