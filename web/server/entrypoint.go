// Package server implements the entry point for running the demo: it builds the head and arms
// from a config file, then runs the gaze tracker, the scripted sequence and the monitor until
// canceled.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/armgaze/armgaze/components/arm"
	"github.com/armgaze/armgaze/components/pantilt"
	"github.com/armgaze/armgaze/config"
	"github.com/armgaze/armgaze/demo"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/services/navigation"
	"github.com/armgaze/armgaze/web/monitor"
)

// Process exit codes.
const (
	ExitArms       = 2
	ExitArgs       = 3
	ExitPanTilt    = 4
	ExitServer     = 5
	ExitNavigation = 7
)

// DefaultNavigationTimeout bounds the wait for the first connection to the navigation relay.
const DefaultNavigationTimeout = 10 * time.Second

// ExitError is a failure the process reports with a specific exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// Arguments for the run command.
type Arguments struct {
	ConfigFile        string
	Debug             bool
	NavigationTimeout time.Duration
}

// RunServer reads the config and runs the demo until ctx is done. SIGHUP abandons any scripted
// sequence and homes every arm.
func RunServer(ctx context.Context, args Arguments, logger logging.Logger) error {
	cfg, err := ReadConfig(args, logger)
	if err != nil {
		return err
	}
	closeLogFile, err := AddLogFile(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(closeLogFile())
	}()

	rehome := make(chan os.Signal, 1)
	signal.Notify(rehome, syscall.SIGHUP)
	defer signal.Stop(rehome)
	toggleMode := make(chan os.Signal, 1)
	signal.Notify(toggleMode, syscall.SIGUSR1)
	defer signal.Stop(toggleMode)

	return serveDemo(ctx, cfg, args, logger, rehome, toggleMode)
}

// ReadConfig reads the config file and applies its logging settings.
func ReadConfig(args Arguments, logger logging.Logger) (*config.Config, error) {
	config.InitLoggingSettings(logger, args.Debug)
	cfg, err := config.Read(args.ConfigFile, logger)
	if err != nil {
		return nil, exitError(ExitArgs, err)
	}
	config.UpdateFileConfigDebug(cfg.Debug)
	if len(cfg.LogConfig) > 0 {
		if err := logging.ApplyPatterns(logger, cfg.LogConfig); err != nil {
			return nil, exitError(ExitArgs, err)
		}
	}
	return cfg, nil
}

// AddLogFile mirrors the log to the rotating file the config names, if any. It must run before
// subloggers are created. The returned function closes the file.
func AddLogFile(cfg *config.Config, logger logging.Logger) (func() error, error) {
	if cfg.LogFile == nil {
		return func() error { return nil }, nil
	}
	maxSizeMB, err := cfg.LogFile.MaxSizeMB()
	if err != nil {
		return nil, exitError(ExitArgs, err)
	}
	appender, closer := logging.NewFileAppender(cfg.LogFile.Path, maxSizeMB, cfg.LogFile.MaxBackups)
	logger.AddAppender(appender)
	logger.Debugw("logging to file", "path", cfg.LogFile.Path, "max_size_mb", maxSizeMB)
	return closer.Close, nil
}

func applyLogSettings(cfg *config.Config, logger logging.Logger) {
	config.UpdateFileConfigDebug(cfg.Debug)
	if err := logging.ApplyPatterns(logger, cfg.LogConfig); err != nil {
		logger.Warnw("cannot apply log patterns", "error", err)
		return
	}
	logger.Infow("log settings reloaded", "debug", cfg.Debug, "patterns", len(cfg.LogConfig))
}

// NewRig constructs the head and the arms named in cfg. A nil clk uses the wall clock. The caller
// closes the rig.
func NewRig(ctx context.Context, cfg *config.Config, clk clock.Clock, logger logging.Logger) (_ *demo.Rig, err error) {
	head, err := pantilt.Registry.New(ctx, "pan_tilt", cfg.PanTilt.Type, cfg.PanTilt.Attributes, logger.Sublogger("pan_tilt"))
	if err != nil {
		return nil, exitError(ExitPanTilt, err)
	}
	arms := make([]*demo.TrackedArm, len(cfg.Arms))
	defer func() {
		if err == nil {
			return
		}
		for _, a := range arms {
			if a != nil {
				goutils.UncheckedError(a.Arm.Close(ctx))
			}
		}
		goutils.UncheckedError(head.Close(ctx))
	}()

	limits, err := head.Limits(ctx)
	if err != nil {
		return nil, exitError(ExitPanTilt, errors.Wrap(err, "reading pan/tilt limits"))
	}
	aimer, err := gaze.NewAimer(limits, cfg.AimerOptions()...)
	if err != nil {
		return nil, exitError(ExitPanTilt, err)
	}

	// arms connect in parallel; the first failure cancels the others
	connecting, connectCtx := errgroup.WithContext(ctx)
	for i, ac := range cfg.Arms {
		i, ac := i, ac
		armLogger := logger.Sublogger(ac.Name)
		connecting.Go(func() error {
			a, err := arm.Registry.New(connectCtx, fmt.Sprintf("arms.%d", i), ac.Type, ac.Attributes, armLogger)
			if err != nil {
				return errors.Wrapf(err, "connecting to arm %s", ac.Name)
			}
			arms[i] = &demo.TrackedArm{
				Name:     ac.Name,
				Arm:      a,
				Offset:   ac.Offset,
				Gaze:     ac.Gaze,
				Scripted: ac.Script,
			}
			return nil
		})
	}
	if err := connecting.Wait(); err != nil {
		return nil, exitError(ExitArms, err)
	}

	rig, err := demo.NewRig(arms, head, aimer, clk, logger)
	if err != nil {
		return nil, exitError(ExitArms, err)
	}
	logger.Infow("rig ready",
		"arms", len(arms),
		"gaze_arm", rig.GazeArm().Name,
		"pan", []float64{limits.MinPan, limits.MaxPan},
		"tilt", []float64{limits.MinTilt, limits.MaxTilt})
	return rig, nil
}

func serveDemo(
	ctx context.Context,
	cfg *config.Config,
	args Arguments,
	logger logging.Logger,
	rehome, toggleMode <-chan os.Signal,
) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rig, err := NewRig(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rig.Close(context.Background()))
	}()

	if err := pantilt.Center(ctx, rig.Head, rig.Aimer); err != nil {
		return exitError(ExitPanTilt, errors.Wrap(err, "centering pan/tilt"))
	}
	logger.Info("parking arms")
	if err := rig.HomeArms(ctx); err != nil {
		return exitError(ExitArms, errors.Wrap(err, "parking arms"))
	}

	var seq *demo.Sequencer
	if scripted, ok := rig.ScriptedArm(); ok {
		seq, err = demo.NewSequencer(rig, demo.SequencerConfig{
			Script:      cfg.ScriptPoses(),
			DemoGoals:   cfg.DemoGoals,
			ResumeDelay: time.Duration(cfg.ResumeDelay),
			OnResume: func(ctx context.Context) {
				if err := scripted.Arm.Home(ctx); err != nil {
					logger.Errorw("cannot home scripted arm", "arm", scripted.Name, "error", err)
				}
			},
		})
		if err != nil {
			return exitError(ExitArgs, err)
		}
		defer seq.Stop()

		var mode demo.Mode
		if cfg.DemoMode != "" {
			if err := mode.UnmarshalText([]byte(cfg.DemoMode)); err != nil {
				return exitError(ExitArgs, err)
			}
		}
		if mode != demo.ModeScript {
			if err := seq.SetMode(ctx, mode); err != nil {
				return exitError(ExitArms, err)
			}
		}
	}

	tracker := demo.NewTracker(rig, time.Duration(cfg.PollInterval))
	tracker.Start(ctx)
	defer tracker.Stop()

	if cfg.Navigation != nil {
		if seq == nil {
			logger.Warnw("no arm plays the script, ignoring navigation events", "address", cfg.Navigation.Address)
		} else {
			src := navigation.NewTCPSource(*cfg.Navigation, logger.Sublogger("navigation"))
			defer func() {
				err = multierr.Combine(err, src.Close())
			}()
			if err := waitForNavigation(ctx, src, args.NavigationTimeout); err != nil {
				return exitError(ExitNavigation, err)
			}
			seq.Start(src)
		}
	}

	serverDone := make(chan error, 1)
	if cfg.Monitor != nil {
		var lc net.ListenConfig
		listener, err := lc.Listen(ctx, "tcp", cfg.Monitor.Address)
		if err != nil {
			return exitError(ExitServer, errors.Wrapf(err, "monitor cannot listen on %s", cfg.Monitor.Address))
		}
		var status monitor.StatusReporter
		if seq != nil {
			status = seq
		}
		srv := monitor.NewServer(rig, tracker, status, logger.Sublogger("monitor"))
		served := make(chan struct{})
		goutils.PanicCapturingGo(func() {
			defer close(served)
			serverDone <- srv.Serve(ctx, listener)
		})
		defer func() {
			cancel()
			<-served
		}()
	}

	// only log settings take effect without a restart
	var reloaded <-chan *config.Config
	if args.ConfigFile != "" {
		watcher, watchErr := config.NewWatcher(args.ConfigFile, 0, logger.Sublogger("config"))
		if watchErr != nil {
			logger.Warnw("config changes will need a restart", "error", watchErr)
		} else {
			defer func() {
				err = multierr.Combine(err, watcher.Close())
			}()
			reloaded = watcher.Configs()
		}
	}

	logger.Info("demo running")
	for {
		select {
		case <-ctx.Done():
			logger.Info("demo stopping")
			return nil
		case err := <-serverDone:
			if err != nil {
				return exitError(ExitServer, err)
			}
			return nil
		case <-rehome:
			logger.Info("rehoming")
			var homeErr error
			if seq != nil {
				homeErr = seq.Rehome(ctx)
			} else {
				homeErr = rig.Home(ctx)
			}
			if homeErr != nil {
				logger.Errorw("rehome incomplete", "error", homeErr)
			}
		case <-toggleMode:
			if seq == nil {
				logger.Warn("no arm plays the script, ignoring demo mode switch")
				continue
			}
			mode, modeErr := seq.ToggleMode(ctx)
			if modeErr != nil {
				logger.Errorw("demo mode switch incomplete", "mode", mode.String(), "error", modeErr)
			}
		case newCfg := <-reloaded:
			applyLogSettings(newCfg, logger)
		}
	}
}

func waitForNavigation(ctx context.Context, src *navigation.TCPSource, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	deadline := time.Now().Add(timeout)
	for !src.Connected() {
		if time.Now().After(deadline) {
			return errors.Errorf("no connection to the navigation status relay within %s", timeout)
		}
		if !goutils.SelectContextOrWait(ctx, 50*time.Millisecond) {
			return ctx.Err()
		}
	}
	return nil
}
