// Package pantilt defines a two-axis camera head that takes absolute pan and tilt angles.
package pantilt

import (
	"context"

	"github.com/pkg/errors"

	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/resource"
)

// API names pan/tilt heads in config paths and errors.
const API = "pan_tilt"

// Registry holds the pan/tilt models. Drivers register themselves from init.
var Registry = resource.NewRegistry[PanTilt](API)

// ErrOutOfRange is returned by drivers asked to move past a mechanical stop.
var ErrOutOfRange = errors.New("pan/tilt command outside head limits")

// PanTilt is a camera head. Implementations serialize access to the device themselves, so a
// PanTilt may be shared between goroutines.
type PanTilt interface {
	// Limits returns the mechanical range in degrees. Drivers query it once when they connect.
	Limits(ctx context.Context) (gaze.HeadLimits, error)

	// SetPanTilt moves to absolute angles in degrees. Sending the current position again is a no-op
	// on the device, so callers may command every control cycle.
	SetPanTilt(ctx context.Context, panDeg, tiltDeg float64) error

	// Position returns the last position reported by the device, in degrees.
	Position(ctx context.Context) (panDeg, tiltDeg float64, err error)

	Close(ctx context.Context) error
}

// CheckCommand returns ErrOutOfRange if either angle is outside limits.
func CheckCommand(limits gaze.HeadLimits, panDeg, tiltDeg float64) error {
	if panDeg < limits.MinPan || panDeg > limits.MaxPan {
		return errors.Wrapf(ErrOutOfRange, "pan %.2f not in [%.2f, %.2f]", panDeg, limits.MinPan, limits.MaxPan)
	}
	if tiltDeg < limits.MinTilt || tiltDeg > limits.MaxTilt {
		return errors.Wrapf(ErrOutOfRange, "tilt %.2f not in [%.2f, %.2f]", tiltDeg, limits.MinTilt, limits.MaxTilt)
	}
	return nil
}

// Center moves the head to pan 0, tilt 0 clamped into its range.
func Center(ctx context.Context, head PanTilt, aimer *gaze.Aimer) error {
	angles, err := aimer.Aim(gaze.Point3{}, gaze.MountOffset{})
	if err != nil {
		return err
	}
	return head.SetPanTilt(ctx, angles.Pan, angles.Tilt)
}
