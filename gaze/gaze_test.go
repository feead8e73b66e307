package gaze

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

var wideLimits = HeadLimits{MinPan: -170, MaxPan: 170, MinTilt: -80, MaxTilt: 80}

func TestComputeAimCentered(t *testing.T) {
	origin := r3.Vector{}

	t.Run("co-located", func(t *testing.T) {
		offset := r3.Vector{X: 0.1, Y: -0.2, Z: 0.3}
		angles, err := ComputeAim(offset, offset, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles, test.ShouldResemble, AimAngles{})
	})

	t.Run("behind the head", func(t *testing.T) {
		angles, err := ComputeAim(r3.Vector{Y: 1}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles, test.ShouldResemble, AimAngles{})

		angles, err = ComputeAim(r3.Vector{X: -3, Y: 0.5, Z: 2}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles, test.ShouldResemble, AimAngles{})
	})

	t.Run("beside the head", func(t *testing.T) {
		angles, err := ComputeAim(r3.Vector{X: 1, Y: 0, Z: 1}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles, test.ShouldResemble, AimAngles{})
	})

	t.Run("directly ahead", func(t *testing.T) {
		angles, err := ComputeAim(r3.Vector{Y: -1}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles, test.ShouldResemble, AimAngles{})
	})

	t.Run("noise near the axis is ignored", func(t *testing.T) {
		angles, err := ComputeAim(r3.Vector{X: 1e-9, Y: -1, Z: -1e-9}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles.Pan, test.ShouldEqual, 0.0)
		test.That(t, angles.Tilt, test.ShouldEqual, 0.0)
	})

	t.Run("center is clamped into an offset range", func(t *testing.T) {
		limits := HeadLimits{MinPan: 10, MaxPan: 90, MinTilt: -80, MaxTilt: -20}
		angles, err := ComputeAim(r3.Vector{Y: 1}, origin, limits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles, test.ShouldResemble, AimAngles{Pan: 15, Tilt: -25})
	})
}

func TestComputeAimDirections(t *testing.T) {
	origin := r3.Vector{}

	t.Run("lateral", func(t *testing.T) {
		// one unit toward the camera's left, one unit forward
		angles, err := ComputeAim(r3.Vector{X: -1, Y: -1}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles.Pan, test.ShouldAlmostEqual, -45.0)
		test.That(t, angles.Tilt, test.ShouldEqual, 0.0)
	})

	t.Run("vertical", func(t *testing.T) {
		angles, err := ComputeAim(r3.Vector{Y: -2, Z: 2}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles.Pan, test.ShouldEqual, 0.0)
		test.That(t, angles.Tilt, test.ShouldAlmostEqual, 45.0)

		angles, err = ComputeAim(r3.Vector{Y: -1, Z: -math.Sqrt(3)}, origin, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles.Tilt, test.ShouldAlmostEqual, -60.0)
	})

	t.Run("offset is subtracted", func(t *testing.T) {
		offset := r3.Vector{X: 0.1, Y: 0.2, Z: -0.3}
		target := r3.Vector{X: 0.1 + 1, Y: 0.2 - 1, Z: -0.3}
		angles, err := ComputeAim(target, offset, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles.Pan, test.ShouldAlmostEqual, 45.0)
		test.That(t, angles.Tilt, test.ShouldEqual, 0.0)

		// in front of the arm origin but behind a head mounted further forward
		angles, err = ComputeAim(r3.Vector{X: 1, Y: -0.5}, r3.Vector{Y: -1}, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles, test.ShouldResemble, AimAngles{})
	})
}

func TestComputeAimSymmetry(t *testing.T) {
	for _, target := range []r3.Vector{
		{X: 0.3, Y: -1, Z: 0.2},
		{X: 1.5, Y: -0.7, Z: -0.4},
		{X: 0.01, Y: -5, Z: 0},
	} {
		mirrored := r3.Vector{X: -target.X, Y: target.Y, Z: target.Z}
		a, err := ComputeAim(target, r3.Vector{}, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		b, err := ComputeAim(mirrored, r3.Vector{}, wideLimits, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, a.Pan, test.ShouldAlmostEqual, -b.Pan)
		test.That(t, a.Tilt, test.ShouldAlmostEqual, b.Tilt)
	}
}

func TestComputeAimClamp(t *testing.T) {
	limits := HeadLimits{MinPan: -30, MaxPan: 30, MinTilt: -30, MaxTilt: 30}
	// atan(sqrt(3)) is 60 degrees
	angles, err := ComputeAim(r3.Vector{X: math.Sqrt(3), Y: -1}, r3.Vector{}, limits, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angles.Pan, test.ShouldEqual, 25.0)

	angles, err = ComputeAim(r3.Vector{X: -math.Sqrt(3), Y: -1, Z: -10}, r3.Vector{}, limits, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angles.Pan, test.ShouldEqual, -25.0)
	test.That(t, angles.Tilt, test.ShouldEqual, -25.0)
}

func TestComputeAimInvalidInput(t *testing.T) {
	for _, tc := range []struct {
		name   string
		target r3.Vector
		offset r3.Vector
	}{
		{"nan target x", r3.Vector{X: math.NaN(), Y: -1}, r3.Vector{}},
		{"inf target z", r3.Vector{Y: -1, Z: math.Inf(1)}, r3.Vector{}},
		{"nan offset y", r3.Vector{Y: -1}, r3.Vector{Y: math.NaN()}},
		{"-inf offset x", r3.Vector{Y: -1}, r3.Vector{X: math.Inf(-1)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			angles, err := ComputeAim(tc.target, tc.offset, wideLimits, 5)
			test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
			test.That(t, angles, test.ShouldResemble, AimAngles{})
		})
	}

	_, err := ComputeAim(r3.Vector{X: math.NaN()}, r3.Vector{}, wideLimits, 5)
	test.That(t, err.Error(), test.ShouldContainSubstring, "target.x")
}

func TestNewAimerInvalidConfiguration(t *testing.T) {
	for _, tc := range []struct {
		name   string
		limits HeadLimits
		opts   []Option
	}{
		{"pan inverted", HeadLimits{MinPan: 20, MaxPan: 10, MinTilt: -30, MaxTilt: 30}, nil},
		{"pan empty", HeadLimits{MinPan: 10, MaxPan: 10, MinTilt: -30, MaxTilt: 30}, nil},
		{"tilt inverted", HeadLimits{MinPan: -30, MaxPan: 30, MinTilt: 5, MaxTilt: -5}, nil},
		{"nan limit", HeadLimits{MinPan: math.NaN(), MaxPan: 30, MinTilt: -30, MaxTilt: 30}, nil},
		{"infinite limit", HeadLimits{MinPan: -30, MaxPan: 30, MinTilt: -30, MaxTilt: math.Inf(1)}, nil},
		{"negative margin", wideLimits, []Option{WithSafetyMargin(-1)}},
		{"nan margin", wideLimits, []Option{WithSafetyMargin(math.NaN())}},
		{"margin too wide", HeadLimits{MinPan: -10, MaxPan: 10, MinTilt: -30, MaxTilt: 30}, []Option{WithSafetyMargin(11)}},
		{"negative epsilon", wideLimits, []Option{WithEpsilon(-1)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewAimer(tc.limits, tc.opts...)
			test.That(t, errors.Is(err, ErrInvalidConfiguration), test.ShouldBeTrue)
			test.That(t, a, test.ShouldBeNil)
		})
	}

	_, err := ComputeAim(r3.Vector{Y: -1}, r3.Vector{}, HeadLimits{MinPan: 20, MaxPan: 10, MinTilt: -1, MaxTilt: 1}, 0)
	test.That(t, errors.Is(err, ErrInvalidConfiguration), test.ShouldBeTrue)
}

func TestAimerOptions(t *testing.T) {
	a, err := NewAimer(wideLimits)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.SafetyMargin(), test.ShouldEqual, DefaultSafetyMarginDeg)
	test.That(t, a.Limits(), test.ShouldResemble, wideLimits)
	panLo, panHi, tiltLo, tiltHi := a.Bounds()
	test.That(t, []float64{panLo, panHi, tiltLo, tiltHi}, test.ShouldResemble, []float64{-165, 165, -75, 75})

	inverted, err := NewAimer(wideLimits, WithInvertPan(true), WithInvertTilt(true))
	test.That(t, err, test.ShouldBeNil)
	angles, err := inverted.Aim(r3.Vector{X: -1, Y: -1, Z: 1}, r3.Vector{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angles.Pan, test.ShouldAlmostEqual, 45.0)
	test.That(t, angles.Tilt, test.ShouldAlmostEqual, -45.0)

	// a coarse epsilon treats small offsets as centered
	coarse, err := NewAimer(wideLimits, WithEpsilon(0.05))
	test.That(t, err, test.ShouldBeNil)
	angles, err = coarse.Aim(r3.Vector{X: 0.04, Y: -1, Z: 0.2}, r3.Vector{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angles.Pan, test.ShouldEqual, 0.0)
	test.That(t, angles.Tilt, test.ShouldBeGreaterThan, 0.0)

	zero, err := NewAimer(HeadLimits{MinPan: -10, MaxPan: 10, MinTilt: -10, MaxTilt: 10}, WithSafetyMargin(10))
	test.That(t, err, test.ShouldBeNil)
	angles, err = zero.Aim(r3.Vector{X: 5, Y: -1, Z: 5}, r3.Vector{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angles, test.ShouldResemble, AimAngles{})
}

func TestAimStaysInRange(t *testing.T) {
	//nolint:gosec
	rng := rand.New(rand.NewSource(42))
	limits := HeadLimits{MinPan: -40, MaxPan: 120, MinTilt: -15, MaxTilt: 35}
	const margin = 3.0
	a, err := NewAimer(limits, WithSafetyMargin(margin))
	test.That(t, err, test.ShouldBeNil)

	coord := func() float64 {
		switch rng.Intn(10) {
		case 0:
			return 0
		case 1:
			return (rng.Float64() - 0.5) * 1e300
		default:
			return (rng.Float64() - 0.5) * 10
		}
	}
	for i := 0; i < 5000; i++ {
		target := r3.Vector{X: coord(), Y: coord(), Z: coord()}
		offset := r3.Vector{X: coord(), Y: coord(), Z: coord()}
		angles, err := a.Aim(target, offset)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angles.Pan, test.ShouldBeBetweenOrEqual, limits.MinPan+margin, limits.MaxPan-margin)
		test.That(t, angles.Tilt, test.ShouldBeBetweenOrEqual, limits.MinTilt+margin, limits.MaxTilt-margin)
	}
}

func TestAimerConcurrent(t *testing.T) {
	a, err := NewAimer(wideLimits)
	test.That(t, err, test.ShouldBeNil)

	var wg sync.WaitGroup
	results := make([]AimAngles, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sign := float64(1 - 2*(i%2))
			results[i], _ = a.Aim(r3.Vector{X: sign, Y: -1}, r3.Vector{})
		}(i)
	}
	wg.Wait()
	for i, res := range results {
		if i%2 == 0 {
			test.That(t, res.Pan, test.ShouldAlmostEqual, 45.0)
		} else {
			test.That(t, res.Pan, test.ShouldAlmostEqual, -45.0)
		}
	}
}
