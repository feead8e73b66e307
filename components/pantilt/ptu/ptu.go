// Package ptu drives a serial pan/tilt unit that speaks the Directed Perception ASCII command set.
//
// Commands are terminated by a space. With echo disabled (ED) and terse feedback (FT) the unit
// answers each command with one line starting with '*' (success, optionally followed by a value)
// or '!' (failure, followed by a message). Positions are in steps; PR and TR report the step size
// in arc-seconds.
package ptu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	goutils "go.viam.com/utils"

	"github.com/armgaze/armgaze/components/pantilt"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/resource"
	"github.com/armgaze/armgaze/utils"
)

// Model is the config name of this driver.
const Model = "ptu"

const (
	// DefaultBaudRate is the factory setting of the unit.
	DefaultBaudRate = 9600
	readTimeout     = 2 * time.Second
	arcSecPerDeg    = 3600.0
)

// Config describes how to reach the unit.
type Config struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Port == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "port")
	}
	if cfg.BaudRate < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("baud_rate must be positive, got %d", cfg.BaudRate))
	}
	return nil
}

func init() {
	resource.Register(pantilt.Registry, Model, resource.Registration[pantilt.PanTilt, *Config]{
		Constructor: func(ctx context.Context, conf *Config, logger logging.Logger) (pantilt.PanTilt, error) {
			return Open(ctx, *conf, logger)
		},
	})
}

// ProtocolError is a '!' reply from the unit.
type ProtocolError struct {
	Command string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("pan/tilt rejected %q: %s", e.Command, e.Message)
}

// PanTilt is a connected unit. The device handles one command at a time, so every exchange holds mu.
type PanTilt struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	logger logging.Logger

	panRes, tiltRes float64 // arc-seconds per step
	limits          gaze.HeadLimits
}

var _ pantilt.PanTilt = (*PanTilt)(nil)

// Open opens the serial port and initializes the unit.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (*PanTilt, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening pan/tilt port %s", cfg.Port)
	}
	guard := utils.NewGuard(func() {
		goutils.UncheckedError(port.Close())
	})
	defer guard.OnFail()

	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, err
	}
	p, err := New(ctx, port, logger)
	if err != nil {
		return nil, err
	}
	guard.Success()
	return p, nil
}

// New initializes a unit over an already open transport and queries its resolution and limits.
// The transport is not closed on failure.
func New(ctx context.Context, rw io.ReadWriteCloser, logger logging.Logger) (*PanTilt, error) {
	p := &PanTilt{rw: rw, reader: bufio.NewReader(rw), logger: logger}

	p.mu.Lock()
	defer p.mu.Unlock()

	// echo off, terse feedback, immediate execution
	for _, cmd := range []string{"ED", "FT", "I"} {
		if _, err := p.commandLocked(ctx, cmd); err != nil {
			return nil, errors.Wrap(err, "initializing pan/tilt")
		}
	}

	var err error
	if p.panRes, err = p.queryFloatLocked(ctx, "PR"); err != nil {
		return nil, err
	}
	if p.tiltRes, err = p.queryFloatLocked(ctx, "TR"); err != nil {
		return nil, err
	}
	if p.panRes <= 0 || p.tiltRes <= 0 {
		return nil, errors.Errorf("pan/tilt reported a non-positive resolution (pan %v, tilt %v)", p.panRes, p.tiltRes)
	}

	steps := make(map[string]float64, 4)
	for _, cmd := range []string{"PN", "PX", "TN", "TX"} {
		v, err := p.queryFloatLocked(ctx, cmd)
		if err != nil {
			return nil, err
		}
		steps[cmd] = v
	}
	p.limits = gaze.HeadLimits{
		MinPan:  stepsToDeg(steps["PN"], p.panRes),
		MaxPan:  stepsToDeg(steps["PX"], p.panRes),
		MinTilt: stepsToDeg(steps["TN"], p.tiltRes),
		MaxTilt: stepsToDeg(steps["TX"], p.tiltRes),
	}
	if err := p.limits.Validate(); err != nil {
		return nil, err
	}

	logger.Infow("pan/tilt connected",
		"pan_limits", []float64{p.limits.MinPan, p.limits.MaxPan},
		"tilt_limits", []float64{p.limits.MinTilt, p.limits.MaxTilt},
		"pan_res_arcsec", p.panRes,
		"tilt_res_arcsec", p.tiltRes)
	return p, nil
}

// Limits returns the limits read at connect time.
func (p *PanTilt) Limits(ctx context.Context) (gaze.HeadLimits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limits, nil
}

// SetPanTilt commands absolute positions, pan first.
func (p *PanTilt) SetPanTilt(ctx context.Context, panDeg, tiltDeg float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := pantilt.CheckCommand(p.limits, panDeg, tiltDeg); err != nil {
		return err
	}
	if _, err := p.commandLocked(ctx, fmt.Sprintf("PP%d", degToSteps(panDeg, p.panRes))); err != nil {
		return err
	}
	_, err := p.commandLocked(ctx, fmt.Sprintf("TP%d", degToSteps(tiltDeg, p.tiltRes)))
	return err
}

// Position queries the current pan and tilt.
func (p *PanTilt) Position(ctx context.Context) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	panSteps, err := p.queryFloatLocked(ctx, "PP")
	if err != nil {
		return 0, 0, err
	}
	tiltSteps, err := p.queryFloatLocked(ctx, "TP")
	if err != nil {
		return 0, 0, err
	}
	return stepsToDeg(panSteps, p.panRes), stepsToDeg(tiltSteps, p.tiltRes), nil
}

// Close closes the transport.
func (p *PanTilt) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rw.Close()
}

func (p *PanTilt) commandLocked(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := io.WriteString(p.rw, cmd+" "); err != nil {
		return "", errors.Wrapf(err, "writing %q", cmd)
	}
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return "", errors.Wrapf(err, "reading reply to %q", cmd)
		}
		idx := strings.IndexAny(line, "*!")
		if idx < 0 {
			// power-on banner or blank line
			p.logger.Debugw("skipping pan/tilt output", "line", strings.TrimSpace(line))
			continue
		}
		reply := strings.TrimSpace(line[idx+1:])
		if line[idx] == '!' {
			return "", &ProtocolError{Command: cmd, Message: reply}
		}
		return reply, nil
	}
}

func (p *PanTilt) queryFloatLocked(ctx context.Context, cmd string) (float64, error) {
	reply, err := p.commandLocked(ctx, cmd)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return 0, errors.Errorf("empty reply to %q", cmd)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing reply to %q", cmd)
	}
	return v, nil
}

func stepsToDeg(steps, resArcSec float64) float64 {
	return steps * resArcSec / arcSecPerDeg
}

func degToSteps(deg, resArcSec float64) int {
	return int(math.Round(deg * arcSecPerDeg / resArcSec))
}
