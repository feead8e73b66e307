package demo

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/armgaze/armgaze/gaze"
)

// DrawingPoint is an arm's end effector placed on the base's map display.
type DrawingPoint struct {
	Arm string `json:"arm"`
	// XMM and YMM are in the robot frame: x forward, y left, millimeters.
	XMM       float64   `json:"x_mm"`
	YMM       float64   `json:"y_mm"`
	Position  r3.Vector `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RobotFrameMM converts an arm-frame position to robot-frame millimeters. Arm -y is robot +x and
// arm -x is robot +y.
func RobotFrameMM(pos r3.Vector, offset gaze.MountOffset) (x, y float64) {
	return 1000 * (-offset.Y - pos.Y), 1000 * (-offset.X - pos.X)
}

// DrawingPoints returns one point per arm with a known position, in rig order.
func DrawingPoints(rig *Rig) []DrawingPoint {
	points := make([]DrawingPoint, 0, len(rig.Arms))
	for _, a := range rig.Arms {
		pos, at, ok := a.Holder.Get()
		if !ok {
			continue
		}
		x, y := RobotFrameMM(pos, a.Offset)
		points = append(points, DrawingPoint{Arm: a.Name, XMM: x, YMM: y, Position: pos, UpdatedAt: at})
	}
	return points
}

// LookAtStep is one target of the calibration sweep.
type LookAtStep struct {
	Name   string
	Target gaze.Point3
}

// LookAtTestPoints is the calibration sweep: straight ahead then the four diagonals, 1 m ahead of
// the head and 1 m to each side.
func LookAtTestPoints(offset gaze.MountOffset) []LookAtStep {
	ahead := -1.0
	steps := []LookAtStep{
		{"ahead", r3.Vector{X: 0, Y: ahead, Z: 0}},
		{"right", r3.Vector{X: 1, Y: ahead, Z: 0}},
		{"left", r3.Vector{X: -1, Y: ahead, Z: 0}},
		{"up left", r3.Vector{X: -1, Y: ahead, Z: 1}},
		{"down right", r3.Vector{X: 1, Y: ahead, Z: -1}},
		{"down left", r3.Vector{X: -1, Y: ahead, Z: -1}},
		{"up right", r3.Vector{X: 1, Y: ahead, Z: 1}},
	}
	for i := range steps {
		steps[i].Target = steps[i].Target.Add(offset)
	}
	return steps
}

// RunLookAtTest aims the head at each calibration point in turn, holding each for dwell. It
// returns the commanded angles.
func RunLookAtTest(ctx context.Context, rig *Rig, offset gaze.MountOffset, dwell time.Duration) ([]gaze.AimAngles, error) {
	steps := LookAtTestPoints(offset)
	out := make([]gaze.AimAngles, 0, len(steps))
	for _, step := range steps {
		angles, err := rig.Aimer.Aim(step.Target, offset)
		if err != nil {
			return out, err
		}
		rig.Logger.Infow("look at", "step", step.Name, "target", step.Target, "pan", angles.Pan, "tilt", angles.Tilt)
		if err := rig.Head.SetPanTilt(ctx, angles.Pan, angles.Tilt); err != nil {
			return out, errors.Wrapf(err, "looking %s", step.Name)
		}
		out = append(out, angles)
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-rig.Clock.After(dwell):
		}
	}
	return out, nil
}
