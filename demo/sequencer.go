package demo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/armgaze/armgaze/components/arm"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/services/navigation"
	"github.com/armgaze/armgaze/utils"
)

// DefaultResumeDelay is how long the demo holds its final pose before the tour resumes.
const DefaultResumeDelay = 40 * time.Second

// openFingerWaypoints is how many leading waypoints keep the fingers open; the rest close them.
const openFingerWaypoints = 2

// State is the sequencer's position in the demo cycle.
type State int

// Sequencer states.
const (
	Idle State = iota
	RunningScriptedSequence
	WaitingToResume
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RunningScriptedSequence:
		return "running_scripted_sequence"
	case WaitingToResume:
		return "waiting_to_resume"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Idle, RunningScriptedSequence, WaitingToResume} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Errorf("unknown sequencer state %q", text)
}

// Mode selects how the arms behave between tours.
type Mode int

// Demo modes.
const (
	// ModeScript plays the waypoint script at demo goals.
	ModeScript Mode = iota
	// ModeReactive holds the arms under force control so visitors can push them around.
	ModeReactive
)

func (m Mode) String() string {
	switch m {
	case ModeScript:
		return "script"
	case ModeReactive:
		return "reactive"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case ModeScript.String():
		*m = ModeScript
	case ModeReactive.String():
		*m = ModeReactive
	default:
		return errors.Errorf("unknown demo mode %q", text)
	}
	return nil
}

// SequencerConfig configures a Sequencer.
type SequencerConfig struct {
	// Script is the waypoint list played on the scripted arm.
	Script []arm.Pose
	// DemoGoals lists the goal names that start the script. Empty means every goal does.
	DemoGoals []string
	// ResumeDelay defaults to DefaultResumeDelay.
	ResumeDelay time.Duration
	// OnResume is called when the demo finishes holding its final pose.
	OnResume func(ctx context.Context)
}

// Status is a snapshot of the sequencer for monitoring.
type Status struct {
	Mode      Mode      `json:"mode"`
	State     State     `json:"state"`
	RunID     uuid.UUID `json:"run_id"`
	Completed int       `json:"completed_runs"`
	LastError string    `json:"last_error,omitempty"`
}

// Sequencer plays the arm script when the base reaches a demo goal, then waits before letting the
// tour resume. Goal arrivals while a run is in progress are ignored.
type Sequencer struct {
	rig         *Rig
	target      *TrackedArm
	script      []arm.Pose
	goals       map[string]struct{}
	resumeDelay time.Duration
	onResume    func(ctx context.Context)
	logger      logging.Logger
	workers     utils.StoppableWorkers

	mu        sync.Mutex
	mode      Mode
	state     State
	runID     uuid.UUID
	cancelRun context.CancelFunc
	completed int
	lastErr   error
}

// NewSequencer returns an idle sequencer. The rig must have a scripted arm.
func NewSequencer(rig *Rig, cfg SequencerConfig) (*Sequencer, error) {
	target, ok := rig.ScriptedArm()
	if !ok {
		return nil, errors.New("no arm is marked to play the script")
	}
	if len(cfg.Script) == 0 {
		return nil, errors.New("script has no waypoints")
	}
	delay := cfg.ResumeDelay
	if delay <= 0 {
		delay = DefaultResumeDelay
	}
	goals := make(map[string]struct{}, len(cfg.DemoGoals))
	for _, g := range cfg.DemoGoals {
		goals[g] = struct{}{}
	}
	return &Sequencer{
		rig:         rig,
		target:      target,
		script:      ApplyFingerPattern(cfg.Script),
		goals:       goals,
		resumeDelay: delay,
		onResume:    cfg.OnResume,
		logger:      rig.Logger.Sublogger("sequencer"),
		workers:     utils.NewStoppableWorkers(),
	}, nil
}

// ApplyFingerPattern opens the fingers for the first two waypoints and closes them for the rest,
// leaving any waypoint that already says what its fingers do.
func ApplyFingerPattern(script []arm.Pose) []arm.Pose {
	out := make([]arm.Pose, len(script))
	copy(out, script)
	for i := range out {
		if out[i].Fingers != arm.FingersUnchanged {
			continue
		}
		if i < openFingerWaypoints {
			out[i].Fingers = arm.FingersOpen
		} else {
			out[i].Fingers = arm.FingersClosed
		}
	}
	return out
}

// Start handles events from src until it closes or Stop is called.
func (s *Sequencer) Start(src navigation.Source) {
	s.workers.AddWorkers(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-src.Events():
				if !ok {
					s.logger.Info("navigation event source closed")
					return
				}
				s.HandleEvent(ev)
			}
		}
	})
}

// Stop cancels any running script and waits for all workers.
func (s *Sequencer) Stop() {
	s.workers.Stop()
}

// HandleEvent advances the state machine for one navigation event.
func (s *Sequencer) HandleEvent(ev navigation.Event) {
	switch ev.Kind {
	case navigation.GoalReached:
	case navigation.GoalFailed, navigation.HomeFailed:
		s.logger.Warnw("navigation failed", "kind", ev.Kind.String(), "goal", ev.Goal, "status", ev.Status)
		return
	default:
		s.logger.Debugw("navigation event", "kind", ev.Kind.String(), "goal", ev.Goal)
		return
	}

	if !s.isDemoGoal(ev.Goal) {
		s.logger.Infow("arrived at goal without a demo", "goal", ev.Goal)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeScript {
		s.logger.Infow("ignoring goal arrival in reactive mode", "goal", ev.Goal)
		return
	}
	if s.state != Idle {
		s.logger.Debugw("ignoring goal arrival while busy", "goal", ev.Goal, "state", s.state.String())
		return
	}
	id := uuid.New()
	s.state = RunningScriptedSequence
	s.runID = id
	s.lastErr = nil
	s.logger.Infow("starting scripted sequence", "run_id", id, "goal", ev.Goal, "arm", s.target.Name,
		"waypoints", len(s.script))

	s.workers.AddWorkers(func(ctx context.Context) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.mu.Lock()
		if s.runID != id {
			s.mu.Unlock()
			return
		}
		s.cancelRun = cancel
		s.mu.Unlock()
		s.run(runCtx, id)
	})
}

func (s *Sequencer) run(ctx context.Context, id uuid.UUID) {
	err := arm.MoveThrough(ctx, s.target.Arm, s.script)

	s.mu.Lock()
	if s.runID != id {
		// rehomed while moving
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.state, s.runID, s.cancelRun, s.lastErr = Idle, uuid.Nil, nil, err
		s.mu.Unlock()
		if ctx.Err() == nil {
			s.logger.Errorw("scripted sequence failed", "run_id", id, "error", err)
		}
		return
	}
	// the timer is armed before the state is visible so a mock clock advanced on WaitingToResume fires it
	timer := s.rig.Clock.Timer(s.resumeDelay)
	defer timer.Stop()
	s.state = WaitingToResume
	s.mu.Unlock()
	s.logger.Infow("scripted sequence done, holding", "run_id", id, "resume_in", s.resumeDelay)

	if !goutils.SelectContextOrWaitChan(ctx, timer.C) {
		return
	}

	s.mu.Lock()
	if s.runID != id {
		s.mu.Unlock()
		return
	}
	s.state, s.runID, s.cancelRun = Idle, uuid.Nil, nil
	s.completed++
	s.mu.Unlock()

	s.logger.Infow("resuming tour", "run_id", id)
	if s.onResume != nil {
		s.onResume(ctx)
	}
}

// abandonRunLocked cancels any run and returns to Idle. s.mu must be held.
func (s *Sequencer) abandonRunLocked() {
	if s.cancelRun != nil {
		s.cancelRun()
	}
	if s.runID != uuid.Nil {
		s.logger.Infow("abandoning scripted sequence", "run_id", s.runID, "state", s.state.String())
	}
	s.state, s.runID, s.cancelRun = Idle, uuid.Nil, nil
}

// Rehome abandons any run, homes every arm, centers the head and returns to Idle.
func (s *Sequencer) Rehome(ctx context.Context) error {
	s.mu.Lock()
	s.abandonRunLocked()
	s.mu.Unlock()

	return s.rig.Home(ctx)
}

// SetMode abandons any run, stops every arm and switches to m. Force control is only toggled
// when the mode actually changes. Every arm is tried even if one fails.
func (s *Sequencer) SetMode(ctx context.Context, m Mode) error {
	if m != ModeScript && m != ModeReactive {
		return errors.Errorf("unknown demo mode %v", m)
	}
	s.mu.Lock()
	s.abandonRunLocked()
	prev := s.mode
	s.mode = m
	s.mu.Unlock()
	s.logger.Infow("switching demo mode", "from", prev.String(), "to", m.String())

	var errs error
	for _, a := range s.rig.Arms {
		errs = multierr.Append(errs, errors.Wrapf(a.Arm.Stop(ctx), "stopping arm %s", a.Name))
	}
	if prev != m {
		enabled := m == ModeReactive
		for _, a := range s.rig.Arms {
			errs = multierr.Append(errs, errors.Wrapf(a.Arm.SetForceControl(ctx, enabled),
				"setting force control on arm %s", a.Name))
		}
	}
	return errs
}

// ToggleMode alternates between script and reactive mode and returns the new mode.
func (s *Sequencer) ToggleMode(ctx context.Context) (Mode, error) {
	next := ModeReactive
	if s.Mode() == ModeReactive {
		next = ModeScript
	}
	return next, s.SetMode(ctx, next)
}

// Mode returns the current demo mode.
func (s *Sequencer) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for monitoring.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Mode: s.mode, State: s.state, RunID: s.runID, Completed: s.completed}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Sequencer) isDemoGoal(goal string) bool {
	if len(s.goals) == 0 {
		return true
	}
	_, ok := s.goals[goal]
	return ok
}
