// Package fake implements a fake arm.
package fake

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/armgaze/armgaze/components/arm"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/resource"
	"github.com/armgaze/armgaze/utils"
)

// Model is the name used to refer to the fake arm model.
const Model = "fake"

// DefaultHome is a rest pose in front of and below the arm base.
var DefaultHome = r3.Vector{X: 0, Y: -0.3, Z: 0.2}

// Config is used for converting config attributes.
type Config struct {
	Name string     `json:"name"`
	Home *r3.Vector `json:"home,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Home != nil && !utils.VectorIsFinite(*conf.Home) {
		return goutils.NewConfigValidationError(path, errors.Errorf("home must be finite, got %v", *conf.Home))
	}
	return nil
}

func init() {
	resource.Register(arm.Registry, Model, resource.Registration[arm.Arm, *Config]{
		Constructor: func(ctx context.Context, conf *Config, logger logging.Logger) (arm.Arm, error) {
			home := DefaultHome
			if conf.Home != nil {
				home = *conf.Home
			}
			return NewArm(conf.Name, home, logger), nil
		},
	})
}

// Arm is a fake arm that moves instantly. Tests can move it by hand with SetPosition, inject
// errors, or hold moves open with a gate.
type Arm struct {
	name   string
	logger logging.Logger

	mu          sync.RWMutex
	home        r3.Vector
	pose        arm.Pose
	moves       []arm.Pose
	homeCount   int
	stopCount   int
	closeCount  int
	force       bool
	positionErr error
	moveErr     error
	gate        <-chan struct{}
}

var _ arm.Arm = (*Arm)(nil)

// NewArm returns a fake arm resting at home.
func NewArm(name string, home r3.Vector, logger logging.Logger) *Arm {
	return &Arm{
		name:   name,
		logger: logger,
		home:   home,
		pose:   arm.Pose{Position: home},
	}
}

// Name returns the configured name.
func (a *Arm) Name() string {
	return a.name
}

// EndPosition returns the set position.
func (a *Arm) EndPosition(ctx context.Context) (r3.Vector, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.positionErr != nil {
		return r3.Vector{}, a.positionErr
	}
	return a.pose.Position, nil
}

// MoveToPosition sets the position. If a gate is set the move blocks until the gate is closed or
// ctx is done.
func (a *Arm) MoveToPosition(ctx context.Context, pose arm.Pose) error {
	a.mu.RLock()
	gate, moveErr := a.gate, a.moveErr
	a.mu.RUnlock()

	if moveErr != nil {
		return moveErr
	}
	if gate != nil {
		if !goutils.SelectContextOrWaitChan(ctx, gate) {
			return ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pose.Fingers == arm.FingersUnchanged {
		pose.Fingers = a.pose.Fingers
	}
	a.pose = pose
	a.moves = append(a.moves, pose)
	a.logger.Debugw("fake arm moved", "arm", a.name, "position", pose.Position, "fingers", pose.Fingers.String())
	return nil
}

// Home moves back to the home position.
func (a *Arm) Home(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.moveErr != nil {
		return a.moveErr
	}
	a.pose = arm.Pose{Position: a.home, Fingers: a.pose.Fingers}
	a.homeCount++
	return nil
}

// Stop counts calls.
func (a *Arm) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCount++
	return nil
}

// SetForceControl records the setting.
func (a *Arm) SetForceControl(ctx context.Context, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.force = enabled
	a.logger.Debugw("fake arm force control", "arm", a.name, "enabled", enabled)
	return nil
}

// Close counts calls.
func (a *Arm) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCount++
	return nil
}

// SetPosition moves the end effector without recording a move.
func (a *Arm) SetPosition(p r3.Vector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pose.Position = p
}

// SetPositionErr makes EndPosition fail with err until cleared with nil.
func (a *Arm) SetPositionErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionErr = err
}

// SetMoveErr makes MoveToPosition and Home fail with err until cleared with nil.
func (a *Arm) SetMoveErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.moveErr = err
}

// SetGate makes every following move wait for gate to be closed. A nil gate removes it.
func (a *Arm) SetGate(gate <-chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gate = gate
}

// Pose returns the current pose.
func (a *Arm) Pose() arm.Pose {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pose
}

// Moves returns every completed move, oldest first.
func (a *Arm) Moves() []arm.Pose {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]arm.Pose, len(a.moves))
	copy(out, a.moves)
	return out
}

// HomeCount returns how many times Home succeeded.
func (a *Arm) HomeCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.homeCount
}

// StopCount returns how many times Stop was called.
func (a *Arm) StopCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stopCount
}

// CloseCount returns how many times Close was called.
func (a *Arm) CloseCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closeCount
}

// ForceControl reports whether force control is on.
func (a *Arm) ForceControl() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.force
}
