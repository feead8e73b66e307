// Package arm defines the interface of the manipulator arms the demo drives. Trajectory control
// belongs to the vendor controller; an Arm only reports where its end effector is and accepts
// cartesian targets.
package arm

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/armgaze/armgaze/resource"
)

// API names arms in config paths and errors.
const API = "arm"

// Registry holds the arm models. Drivers register themselves from init.
var Registry = resource.NewRegistry[Arm](API)

// FingerState is the gripper command sent with a pose.
type FingerState int

// Finger states.
const (
	FingersUnchanged FingerState = iota
	FingersOpen
	FingersClosed
)

func (f FingerState) String() string {
	switch f {
	case FingersUnchanged:
		return "unchanged"
	case FingersOpen:
		return "open"
	case FingersClosed:
		return "closed"
	default:
		return fmt.Sprintf("FingerState(%d)", int(f))
	}
}

// Pose is a cartesian arm target in the arm frame.
type Pose struct {
	// Position in meters.
	Position r3.Vector `json:"position"`
	// Orientation as rotations about x, y and z in radians.
	Orientation r3.Vector   `json:"orientation"`
	Fingers     FingerState `json:"fingers"`
}

// An Arm represents a physical robotic arm.
type Arm interface {
	// EndPosition returns the current end-effector position in the arm frame, in meters.
	EndPosition(ctx context.Context) (r3.Vector, error)

	// MoveToPosition moves the end effector to pose and returns once it arrives.
	MoveToPosition(ctx context.Context, pose Pose) error

	// Home moves the arm to its rest pose.
	Home(ctx context.Context) error

	// Stop halts any motion in progress and drops queued trajectory points.
	Stop(ctx context.Context) error

	// SetForceControl switches reactive force control on or off. While it is on the arm yields
	// to a push and can be guided by hand.
	SetForceControl(ctx context.Context, enabled bool) error

	Close(ctx context.Context) error
}

// MoveThrough visits each pose in order. It stops at the first failure or when ctx is done and
// reports which waypoint failed.
func MoveThrough(ctx context.Context, a Arm, poses []Pose) error {
	for i, pose := range poses {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.MoveToPosition(ctx, pose); err != nil {
			return errors.Wrapf(err, "moving to waypoint %d of %d", i+1, len(poses))
		}
	}
	return nil
}
