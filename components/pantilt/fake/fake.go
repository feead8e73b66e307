// Package fake implements an in-memory pan/tilt head.
package fake

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"

	"github.com/armgaze/armgaze/components/pantilt"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/resource"
)

// Model is the config name of the fake head.
const Model = "fake"

// DefaultLimits match a common PTU-D46 configuration.
var DefaultLimits = gaze.HeadLimits{MinPan: -159, MaxPan: 159, MinTilt: -47, MaxTilt: 31}

// Config is used for converting config attributes.
type Config struct {
	Limits *gaze.HeadLimits `json:"limits,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Limits == nil {
		return nil
	}
	if err := conf.Limits.Validate(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

func init() {
	resource.Register(pantilt.Registry, Model, resource.Registration[pantilt.PanTilt, *Config]{
		Constructor: func(ctx context.Context, conf *Config, logger logging.Logger) (pantilt.PanTilt, error) {
			limits := DefaultLimits
			if conf.Limits != nil {
				limits = *conf.Limits
			}
			logger.Infow("using fake pan/tilt", "limits", limits)
			return NewPanTilt(limits), nil
		},
	})
}

// PanTilt records every accepted command. Commands outside its limits fail the way a real head
// would fault, which lets tests prove callers clamp.
type PanTilt struct {
	mu         sync.Mutex
	limits     gaze.HeadLimits
	pan, tilt  float64
	commands   []gaze.AimAngles
	CloseCount int

	// SetErr, when non-nil, is returned by SetPanTilt without moving.
	SetErr error
}

var _ pantilt.PanTilt = (*PanTilt)(nil)

// NewPanTilt returns a head centered at 0, 0 with the given limits.
func NewPanTilt(limits gaze.HeadLimits) *PanTilt {
	return &PanTilt{limits: limits}
}

// Limits returns the configured limits.
func (p *PanTilt) Limits(ctx context.Context) (gaze.HeadLimits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limits, nil
}

// SetPanTilt moves the head instantly.
func (p *PanTilt) SetPanTilt(ctx context.Context, panDeg, tiltDeg float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetErr != nil {
		return p.SetErr
	}
	if err := pantilt.CheckCommand(p.limits, panDeg, tiltDeg); err != nil {
		return err
	}
	p.pan, p.tilt = panDeg, tiltDeg
	p.commands = append(p.commands, gaze.AimAngles{Pan: panDeg, Tilt: tiltDeg})
	return nil
}

// Position returns the last accepted command.
func (p *PanTilt) Position(ctx context.Context) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pan, p.tilt, nil
}

// Commands returns a copy of every accepted command, oldest first.
func (p *PanTilt) Commands() []gaze.AimAngles {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]gaze.AimAngles, len(p.commands))
	copy(out, p.commands)
	return out
}

// Close counts calls.
func (p *PanTilt) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCount++
	return nil
}
