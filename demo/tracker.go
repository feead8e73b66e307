package demo

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/utils"
)

// DefaultPollInterval is how often arm positions are read and the head re-aimed.
const DefaultPollInterval = 500 * time.Millisecond

const (
	// a failing arm or head would otherwise warn on every cycle
	warnInterval = 5 * time.Second
	statsWindow  = 128
)

// CycleStats summarizes recent cycle durations in milliseconds.
type CycleStats struct {
	Samples int     `json:"samples"`
	MeanMS  float64 `json:"mean_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// Tracker polls every arm's end-effector position and keeps the head pointed at the gaze arm.
type Tracker struct {
	rig      *Rig
	interval time.Duration
	logger   logging.Logger

	workers   utils.StoppableWorkers
	cycles    atomic.Int64
	warnEvery rate.Sometimes

	mu        sync.Mutex
	lastAim   gaze.AimAngles
	lastAimAt time.Time
	hasAim    bool
	durations []float64
	next      int
}

// NewTracker returns a stopped tracker. A non-positive interval uses DefaultPollInterval.
func NewTracker(rig *Rig, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		rig:       rig,
		interval:  interval,
		logger:    rig.Logger.Sublogger("tracker"),
		warnEvery: rate.Sometimes{Interval: warnInterval},
	}
}

// Start runs Cycle on every tick of the rig's clock until ctx is done or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	// the ticker exists before Start returns so a mock clock advanced right after sees it
	ticker := t.rig.Clock.Ticker(t.interval)
	t.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := t.Cycle(ctx); err != nil && ctx.Err() == nil {
				t.logger.Debugw("tracking cycle incomplete", "error", err)
				t.warnEvery.Do(func() {
					t.logger.Warnw("tracking cycle incomplete", "error", err)
				})
			}
		}
	})
}

// Stop stops the loop and waits for the current cycle to finish.
func (t *Tracker) Stop() {
	if t.workers != nil {
		t.workers.Stop()
	}
}

// Cycle reads every arm once and, if the gaze arm reported a finite position, aims the head at it.
// Otherwise the head stays on its last command. Errors are returned for logging;
// the cycle does as much as it can.
func (t *Tracker) Cycle(ctx context.Context) error {
	start := t.rig.Clock.Now()
	defer func() {
		t.recordDuration(t.rig.Clock.Since(start))
		t.cycles.Inc()
	}()

	target := t.rig.GazeArm()
	var (
		errs  error
		pos   gaze.Point3
		fresh bool
	)
	for _, a := range t.rig.Arms {
		p, err := a.Arm.EndPosition(ctx)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "reading %s arm position", a.Name))
			continue
		}
		// the holder keeps the last finite reading
		if !utils.VectorIsFinite(p) {
			errs = multierr.Append(errs, errors.Wrapf(gaze.ErrInvalidInput, "%s arm reported position %v", a.Name, p))
			continue
		}
		a.Holder.Set(p, t.rig.Clock.Now())
		if a == target {
			pos, fresh = p, true
		}
	}

	// without a fresh reading of the gaze arm the head stays on its last command
	if !fresh {
		return errs
	}
	angles, err := t.rig.Aimer.Aim(pos, target.Offset)
	if err != nil {
		return multierr.Append(errs, errors.Wrapf(err, "aiming at %s arm", target.Name))
	}
	if err := t.rig.Head.SetPanTilt(ctx, angles.Pan, angles.Tilt); err != nil {
		return multierr.Append(errs, errors.Wrap(err, "moving pan/tilt"))
	}

	t.mu.Lock()
	t.lastAim, t.lastAimAt, t.hasAim = angles, t.rig.Clock.Now(), true
	t.mu.Unlock()
	t.logger.Debugw("aimed", "arm", target.Name, "position", pos, "pan", angles.Pan, "tilt", angles.Tilt)
	return errs
}

// LastAim returns the last angles the head accepted and when. ok is false before the first.
func (t *Tracker) LastAim() (angles gaze.AimAngles, at time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAim, t.lastAimAt, t.hasAim
}

// Cycles returns how many cycles have run.
func (t *Tracker) Cycles() int64 {
	return t.cycles.Load()
}

func (t *Tracker) recordDuration(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.durations) < statsWindow {
		t.durations = append(t.durations, ms)
		return
	}
	t.durations[t.next] = ms
	t.next = (t.next + 1) % statsWindow
}

// CycleStats summarizes the durations of the most recent cycles. ok is false before the first.
func (t *Tracker) CycleStats() (CycleStats, bool) {
	t.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), t.durations...))
	t.mu.Unlock()
	if len(data) == 0 {
		return CycleStats{}, false
	}

	out := CycleStats{Samples: len(data)}
	var err error
	if out.MeanMS, err = data.Mean(); err != nil {
		return CycleStats{}, false
	}
	if out.P95MS, err = data.PercentileNearestRank(95); err != nil {
		return CycleStats{}, false
	}
	if out.MaxMS, err = data.Max(); err != nil {
		return CycleStats{}, false
	}
	return out, true
}
