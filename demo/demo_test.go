package demo

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/armgaze/armgaze/components/arm"
	fakearm "github.com/armgaze/armgaze/components/arm/fake"
	fakepantilt "github.com/armgaze/armgaze/components/pantilt/fake"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
)

var wideLimits = gaze.HeadLimits{MinPan: -90, MaxPan: 90, MinTilt: -90, MaxTilt: 90}

type testRig struct {
	*Rig
	left, right *fakearm.Arm
	head        *fakepantilt.PanTilt
}

func newTestRig(t *testing.T, clk clock.Clock) testRig {
	t.Helper()
	logger := logging.NewTestLogger(t)
	left := fakearm.NewArm("left", fakearm.DefaultHome, logger)
	right := fakearm.NewArm("right", fakearm.DefaultHome, logger)
	head := fakepantilt.NewPanTilt(wideLimits)
	aimer, err := gaze.NewAimer(wideLimits)
	test.That(t, err, test.ShouldBeNil)

	rig, err := NewRig([]*TrackedArm{
		{Name: "left", Arm: left, Gaze: true, Scripted: true},
		{Name: "right", Arm: right, Offset: r3.Vector{X: -0.2}},
	}, head, aimer, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	return testRig{Rig: rig, left: left, right: right, head: head}
}

func TestNewRig(t *testing.T) {
	logger := logging.NewTestLogger(t)
	head := fakepantilt.NewPanTilt(wideLimits)
	aimer, err := gaze.NewAimer(wideLimits)
	test.That(t, err, test.ShouldBeNil)
	a := fakearm.NewArm("a", fakearm.DefaultHome, logger)
	b := fakearm.NewArm("b", fakearm.DefaultHome, logger)

	_, err = NewRig(nil, head, aimer, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewRig([]*TrackedArm{{Name: "a", Arm: a}}, head, aimer, nil, logger)
	test.That(t, err, test.ShouldBeError, errors.New("exactly one arm must be followed by the head, got 0"))

	_, err = NewRig([]*TrackedArm{{Name: "a", Arm: a, Gaze: true}, {Name: "b", Arm: b, Gaze: true}}, head, aimer, nil, logger)
	test.That(t, err, test.ShouldBeError, errors.New("exactly one arm must be followed by the head, got 2"))

	_, err = NewRig([]*TrackedArm{
		{Name: "a", Arm: a, Gaze: true, Scripted: true},
		{Name: "b", Arm: b, Scripted: true},
	}, head, aimer, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	rig, err := NewRig([]*TrackedArm{{Name: "a", Arm: a, Gaze: true}, {Name: "b", Arm: b}}, head, aimer, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rig.Clock, test.ShouldNotBeNil)
	test.That(t, rig.GazeArm().Name, test.ShouldEqual, "a")
	found, ok := rig.Arm("b")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, found.Arm, test.ShouldEqual, b)
	_, ok = rig.Arm("c")
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = rig.ScriptedArm()
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, rig.Close(context.Background()), test.ShouldBeNil)
	test.That(t, a.StopCount(), test.ShouldEqual, 1)
	test.That(t, b.CloseCount(), test.ShouldEqual, 1)
	test.That(t, head.CloseCount, test.ShouldEqual, 1)
}

func TestRigHomeArms(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, clock.NewMock())
	test.That(t, rig.HomeArms(ctx), test.ShouldBeNil)
	test.That(t, rig.left.HomeCount(), test.ShouldEqual, 1)
	test.That(t, rig.right.HomeCount(), test.ShouldEqual, 1)

	rig.left.SetMoveErr(errors.New("brake engaged"))
	test.That(t, rig.HomeArms(ctx), test.ShouldBeError, errors.New("homing arm left: brake engaged"))
	test.That(t, rig.right.HomeCount(), test.ShouldEqual, 2)
}

func TestTrackerCycle(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	rig := newTestRig(t, mock)
	tracker := NewTracker(rig.Rig, 0)

	rig.left.SetPosition(r3.Vector{X: -1, Y: -1, Z: 0})
	rig.right.SetPosition(r3.Vector{X: 0.3, Y: -0.5, Z: 0.1})
	test.That(t, tracker.Cycle(ctx), test.ShouldBeNil)

	angles, at, ok := tracker.LastAim()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, at, test.ShouldEqual, mock.Now())
	test.That(t, angles.Pan, test.ShouldAlmostEqual, -45.0)
	test.That(t, angles.Tilt, test.ShouldEqual, 0.0)
	test.That(t, rig.head.Commands(), test.ShouldHaveLength, 1)

	right, _ := rig.Arm("right")
	pos, _, ok := right.Holder.Get()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, pos, test.ShouldResemble, r3.Vector{X: 0.3, Y: -0.5, Z: 0.1})

	t.Run("other arm failing still aims", func(t *testing.T) {
		rig.right.SetPositionErr(errors.New("usb reset"))
		defer rig.right.SetPositionErr(nil)
		rig.left.SetPosition(r3.Vector{X: 0, Y: -1, Z: 1})

		err := tracker.Cycle(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "reading right arm position: usb reset")
		angles, _, _ := tracker.LastAim()
		test.That(t, angles.Tilt, test.ShouldAlmostEqual, 45.0)
	})

	t.Run("non-finite position keeps the last command", func(t *testing.T) {
		before := rig.head.Commands()
		rig.left.SetPosition(r3.Vector{X: math.NaN(), Y: -1})
		err := tracker.Cycle(ctx)
		test.That(t, errors.Is(err, gaze.ErrInvalidInput), test.ShouldBeTrue)
		test.That(t, rig.head.Commands(), test.ShouldResemble, before)

		left, _ := rig.Arm("left")
		pos, _, ok := left.Holder.Get()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, pos, test.ShouldResemble, r3.Vector{X: 0, Y: -1, Z: 1})
	})

	t.Run("failed read of the gaze arm keeps the last command", func(t *testing.T) {
		before := rig.head.Commands()
		rig.left.SetPositionErr(errors.New("usb reset"))
		defer rig.left.SetPositionErr(nil)
		test.That(t, tracker.Cycle(ctx), test.ShouldNotBeNil)
		test.That(t, rig.head.Commands(), test.ShouldResemble, before)
	})

	t.Run("head failure", func(t *testing.T) {
		rig.left.SetPosition(r3.Vector{Y: -1})
		rig.head.SetErr = errors.New("serial timeout")
		defer func() { rig.head.SetErr = nil }()
		err := tracker.Cycle(ctx)
		test.That(t, err, test.ShouldBeError, errors.New("moving pan/tilt: serial timeout"))
	})

	test.That(t, tracker.Cycles(), test.ShouldEqual, 5)
}

func TestTrackerCycleStats(t *testing.T) {
	rig := newTestRig(t, clock.NewMock())
	tracker := NewTracker(rig.Rig, 0)
	_, ok := tracker.CycleStats()
	test.That(t, ok, test.ShouldBeFalse)

	rig.left.SetPosition(r3.Vector{Y: -1})
	test.That(t, tracker.Cycle(context.Background()), test.ShouldBeNil)
	st, ok := tracker.CycleStats()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st, test.ShouldResemble, CycleStats{Samples: 1})

	for i := 1; i <= 200; i++ {
		tracker.recordDuration(time.Duration(i%100+1) * time.Millisecond)
	}
	st, ok = tracker.CycleStats()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.Samples, test.ShouldEqual, statsWindow)
	test.That(t, st.MaxMS, test.ShouldEqual, 100.0)
	test.That(t, st.P95MS, test.ShouldBeBetweenOrEqual, 90.0, 100.0)
	test.That(t, st.MeanMS, test.ShouldBeBetween, 1.0, 100.0)
}

func TestTrackerNoPositionYet(t *testing.T) {
	rig := newTestRig(t, clock.NewMock())
	tracker := NewTracker(rig.Rig, 0)
	rig.left.SetPositionErr(errors.New("not homed"))

	test.That(t, tracker.Cycle(context.Background()), test.ShouldNotBeNil)
	_, _, ok := tracker.LastAim()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, rig.head.Commands(), test.ShouldBeEmpty)
}

func TestTrackerLoop(t *testing.T) {
	mock := clock.NewMock()
	rig := newTestRig(t, mock)
	tracker := NewTracker(rig.Rig, 200*time.Millisecond)
	tracker.Start(context.Background())
	defer tracker.Stop()

	rig.left.SetPosition(r3.Vector{X: 1, Y: -1})
	mock.Add(200 * time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, tracker.Cycles(), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	angles, _, _ := tracker.LastAim()
	test.That(t, angles.Pan, test.ShouldAlmostEqual, 45.0)

	rig.left.SetPosition(r3.Vector{X: -1, Y: -1})
	mock.Add(200 * time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		angles, _, _ := tracker.LastAim()
		test.That(tb, angles.Pan, test.ShouldAlmostEqual, -45.0)
	})

	tracker.Stop()
	cycles := tracker.Cycles()
	mock.Add(time.Second)
	test.That(t, tracker.Cycles(), test.ShouldEqual, cycles)
}

func TestDrawingPoints(t *testing.T) {
	rig := newTestRig(t, clock.NewMock())
	test.That(t, DrawingPoints(rig.Rig), test.ShouldBeEmpty)

	left, _ := rig.Arm("left")
	left.Offset = r3.Vector{X: 0.1}
	left.Holder.Set(r3.Vector{X: -0.23, Y: -0.69, Z: 0.08}, rig.Clock.Now())

	points := DrawingPoints(rig.Rig)
	test.That(t, points, test.ShouldHaveLength, 1)
	test.That(t, points[0].Arm, test.ShouldEqual, "left")
	test.That(t, points[0].XMM, test.ShouldAlmostEqual, 690.0)
	test.That(t, points[0].YMM, test.ShouldAlmostEqual, 130.0)

	x, y := RobotFrameMM(r3.Vector{X: 0.05, Y: -0.4}, r3.Vector{X: -0.1})
	test.That(t, x, test.ShouldAlmostEqual, 400.0)
	test.That(t, y, test.ShouldAlmostEqual, 50.0)
}

func TestLookAtTest(t *testing.T) {
	rig := newTestRig(t, clock.New())
	offset := r3.Vector{X: 0.1}

	steps := LookAtTestPoints(offset)
	test.That(t, steps, test.ShouldHaveLength, 7)
	test.That(t, steps[1].Name, test.ShouldEqual, "right")
	test.That(t, steps[1].Target.X, test.ShouldAlmostEqual, 1.1)
	test.That(t, steps[1].Target.Y, test.ShouldEqual, -1.0)

	angles, err := RunLookAtTest(context.Background(), rig.Rig, offset, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angles, test.ShouldHaveLength, 7)
	expected := []gaze.AimAngles{
		{Pan: 0, Tilt: 0},
		{Pan: 45, Tilt: 0},
		{Pan: -45, Tilt: 0},
		{Pan: -45, Tilt: 45},
		{Pan: 45, Tilt: -45},
		{Pan: -45, Tilt: -45},
		{Pan: 45, Tilt: 45},
	}
	for i, want := range expected {
		test.That(t, angles[i].Pan, test.ShouldAlmostEqual, want.Pan)
		test.That(t, angles[i].Tilt, test.ShouldAlmostEqual, want.Tilt)
	}
	test.That(t, rig.head.Commands(), test.ShouldHaveLength, 7)

	rig.head.SetErr = errors.New("stalled")
	_, err = RunLookAtTest(context.Background(), rig.Rig, offset, 0)
	test.That(t, err, test.ShouldBeError, errors.New("looking ahead: stalled"))
}

func TestApplyFingerPattern(t *testing.T) {
	script := []arm.Pose{{}, {}, {}, {Fingers: arm.FingersOpen}, {}}
	out := ApplyFingerPattern(script)
	test.That(t, out[0].Fingers, test.ShouldEqual, arm.FingersOpen)
	test.That(t, out[1].Fingers, test.ShouldEqual, arm.FingersOpen)
	test.That(t, out[2].Fingers, test.ShouldEqual, arm.FingersClosed)
	test.That(t, out[3].Fingers, test.ShouldEqual, arm.FingersOpen)
	test.That(t, out[4].Fingers, test.ShouldEqual, arm.FingersClosed)
	// input untouched
	test.That(t, script[0].Fingers, test.ShouldEqual, arm.FingersUnchanged)
}
