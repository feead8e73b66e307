// Package demo runs the arm and camera-head demonstration: it keeps the head pointed at one arm's
// end effector and plays a scripted arm sequence whenever the mobile base arrives at a demo goal.
package demo

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/armgaze/armgaze/components/arm"
	"github.com/armgaze/armgaze/components/pantilt"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
)

// PositionHolder is the latest known end-effector position of one arm.
type PositionHolder struct {
	mu        sync.Mutex
	pos       r3.Vector
	updatedAt time.Time
	valid     bool
}

// Set stores a position read at t.
func (h *PositionHolder) Set(pos r3.Vector, t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos, h.updatedAt, h.valid = pos, t, true
}

// Get returns the stored position and when it was read. ok is false until the first Set.
func (h *PositionHolder) Get() (pos r3.Vector, updatedAt time.Time, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos, h.updatedAt, h.valid
}

// TrackedArm is an arm taking part in the demo.
type TrackedArm struct {
	Name string
	Arm  arm.Arm
	// Offset is the translation from this arm's origin to the head's rotation center, in the arm frame.
	Offset gaze.MountOffset
	// Gaze marks the arm the head follows.
	Gaze bool
	// Scripted marks the arm that plays the waypoint script.
	Scripted bool

	Holder PositionHolder
}

// Rig holds everything the demo drives. Workers receive it explicitly.
type Rig struct {
	Arms   []*TrackedArm
	Head   pantilt.PanTilt
	Aimer  *gaze.Aimer
	Clock  clock.Clock
	Logger logging.Logger
}

// NewRig checks that exactly one arm is marked for gaze and at most one for the script. A nil clk
// uses the wall clock.
func NewRig(arms []*TrackedArm, head pantilt.PanTilt, aimer *gaze.Aimer, clk clock.Clock, logger logging.Logger) (*Rig, error) {
	if len(arms) == 0 {
		return nil, errors.New("demo needs at least one arm")
	}
	if n := lo.CountBy(arms, func(a *TrackedArm) bool { return a.Gaze }); n != 1 {
		return nil, errors.Errorf("exactly one arm must be followed by the head, got %d", n)
	}
	if n := lo.CountBy(arms, func(a *TrackedArm) bool { return a.Scripted }); n > 1 {
		return nil, errors.Errorf("at most one arm may play the script, got %d", n)
	}
	if head == nil || aimer == nil {
		return nil, errors.New("demo needs a pan/tilt head and an aimer")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Rig{Arms: arms, Head: head, Aimer: aimer, Clock: clk, Logger: logger}, nil
}

// Arm looks up an arm by name.
func (r *Rig) Arm(name string) (*TrackedArm, bool) {
	return lo.Find(r.Arms, func(a *TrackedArm) bool { return a.Name == name })
}

// GazeArm returns the arm the head follows.
func (r *Rig) GazeArm() *TrackedArm {
	a, _ := lo.Find(r.Arms, func(a *TrackedArm) bool { return a.Gaze })
	return a
}

// ScriptedArm returns the arm that plays the script, if any.
func (r *Rig) ScriptedArm() (*TrackedArm, bool) {
	return lo.Find(r.Arms, func(a *TrackedArm) bool { return a.Scripted })
}

// HomeArms parks every arm at its home pose. Every arm is tried even if one fails.
func (r *Rig) HomeArms(ctx context.Context) error {
	var errs error
	for _, a := range r.Arms {
		errs = multierr.Append(errs, errors.Wrapf(a.Arm.Home(ctx), "homing arm %s", a.Name))
	}
	return errs
}

// Home homes every arm and centers the head.
func (r *Rig) Home(ctx context.Context) error {
	return multierr.Append(r.HomeArms(ctx), errors.Wrap(pantilt.Center(ctx, r.Head, r.Aimer), "centering pan/tilt"))
}

// Close stops every arm and closes the arms and the head.
func (r *Rig) Close(ctx context.Context) error {
	var errs error
	for _, a := range r.Arms {
		errs = multierr.Combine(
			errs,
			errors.Wrapf(a.Arm.Stop(ctx), "stopping arm %s", a.Name),
			errors.Wrapf(a.Arm.Close(ctx), "closing arm %s", a.Name),
		)
	}
	return multierr.Append(errs, errors.Wrap(r.Head.Close(ctx), "closing pan/tilt"))
}
