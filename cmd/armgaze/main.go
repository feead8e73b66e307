// Package main is the armgaze command: it runs the arm demo, computes single aims, and sweeps the
// head through its calibration points.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	// registers all components.
	_ "github.com/armgaze/armgaze/components/register"
	"github.com/armgaze/armgaze/demo"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/web/server"
)

const (
	// Flags.
	flagConfig            = "config"
	flagDebug             = "debug"
	flagNavigationTimeout = "navigation-timeout"
	flagDwell             = "dwell"
	flagX                 = "x"
	flagY                 = "y"
	flagZ                 = "z"
	flagOffsetX           = "offset-x"
	flagOffsetY           = "offset-y"
	flagOffsetZ           = "offset-z"
	flagMinPan            = "min-pan"
	flagMaxPan            = "max-pan"
	flagMinTilt           = "min-tilt"
	flagMaxTilt           = "max-tilt"
	flagMargin            = "margin"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func usageError(c *cli.Context, err error, isSubcommand bool) error {
	return cli.Exit(err, server.ExitArgs)
}

func newApp(out io.Writer) *cli.App {
	var logger logging.Logger
	configFlag := &cli.StringFlag{
		Name:    flagConfig,
		Aliases: []string{"c"},
		Usage:   "load configuration from `FILE`",
	}

	return &cli.App{
		Name:         "armgaze",
		Usage:        "point a pan/tilt camera at a robot arm while the base tours",
		Writer:       out,
		OnUsageError: usageError,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("armgaze")
			} else {
				logger = logging.NewLogger("armgaze")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:         "run",
				Usage:        "run the demo until interrupted; SIGHUP rehomes the arms",
				OnUsageError: usageError,
				Flags: []cli.Flag{
					configFlag,
					&cli.DurationFlag{
						Name:  flagNavigationTimeout,
						Usage: "how long to wait for the navigation status relay at startup",
						Value: server.DefaultNavigationTimeout,
					},
				},
				Action: func(c *cli.Context) error {
					if c.String(flagConfig) == "" {
						return cli.Exit("--config is required", server.ExitArgs)
					}
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()
					return server.RunServer(ctx, server.Arguments{
						ConfigFile:        c.String(flagConfig),
						Debug:             c.Bool(flagDebug),
						NavigationTimeout: c.Duration(flagNavigationTimeout),
					}, logger)
				},
			},
			{
				Name:         "aim",
				Usage:        "print the pan and tilt that look at a point in the arm frame",
				OnUsageError: usageError,
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagX, Usage: "target x in meters"},
					&cli.Float64Flag{Name: flagY, Usage: "target y in meters", Value: -1},
					&cli.Float64Flag{Name: flagZ, Usage: "target z in meters"},
					&cli.Float64Flag{Name: flagOffsetX, Usage: "head rotation center x in meters"},
					&cli.Float64Flag{Name: flagOffsetY, Usage: "head rotation center y in meters"},
					&cli.Float64Flag{Name: flagOffsetZ, Usage: "head rotation center z in meters"},
					&cli.Float64Flag{Name: flagMinPan, Usage: "minimum pan in degrees", Value: -159},
					&cli.Float64Flag{Name: flagMaxPan, Usage: "maximum pan in degrees", Value: 159},
					&cli.Float64Flag{Name: flagMinTilt, Usage: "minimum tilt in degrees", Value: -47},
					&cli.Float64Flag{Name: flagMaxTilt, Usage: "maximum tilt in degrees", Value: 31},
					&cli.Float64Flag{Name: flagMargin, Usage: "degrees to stay inside each limit", Value: gaze.DefaultSafetyMarginDeg},
				},
				Action: func(c *cli.Context) error {
					return aimAction(c, out)
				},
			},
			{
				Name:         "lookat-test",
				Usage:        "sweep the head through the calibration points",
				OnUsageError: usageError,
				Flags: []cli.Flag{
					configFlag,
					&cli.DurationFlag{
						Name:  flagDwell,
						Usage: "how long to hold each point",
						Value: 2 * time.Second,
					},
				},
				Action: func(c *cli.Context) error {
					if c.String(flagConfig) == "" {
						return cli.Exit("--config is required", server.ExitArgs)
					}
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()
					return lookAtTest(ctx, server.Arguments{
						ConfigFile: c.String(flagConfig),
						Debug:      c.Bool(flagDebug),
					}, c.Duration(flagDwell), out, logger)
				},
			},
		},
	}
}

func aimAction(c *cli.Context, out io.Writer) error {
	target := gaze.Point3{X: c.Float64(flagX), Y: c.Float64(flagY), Z: c.Float64(flagZ)}
	offset := gaze.MountOffset{X: c.Float64(flagOffsetX), Y: c.Float64(flagOffsetY), Z: c.Float64(flagOffsetZ)}
	limits := gaze.HeadLimits{
		MinPan:  c.Float64(flagMinPan),
		MaxPan:  c.Float64(flagMaxPan),
		MinTilt: c.Float64(flagMinTilt),
		MaxTilt: c.Float64(flagMaxTilt),
	}
	angles, err := gaze.ComputeAim(target, offset, limits, c.Float64(flagMargin))
	if err != nil {
		return cli.Exit(err, server.ExitArgs)
	}
	fmt.Fprintf(out, "pan %.3f tilt %.3f\n", angles.Pan, angles.Tilt)
	return nil
}

func lookAtTest(ctx context.Context, args server.Arguments, dwell time.Duration, out io.Writer, logger logging.Logger) (err error) {
	cfg, err := server.ReadConfig(args, logger)
	if err != nil {
		return err
	}
	closeLogFile, err := server.AddLogFile(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeLogFile())
	}()
	rig, err := server.NewRig(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, rig.Close(context.Background()))
	}()

	offset := rig.GazeArm().Offset
	angles, err := demo.RunLookAtTest(ctx, rig, offset, dwell)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Point", "Target", "Pan", "Tilt"})
	for i, step := range demo.LookAtTestPoints(offset)[:len(angles)] {
		t.AppendRow(table.Row{
			step.Name,
			formatPoint(step.Target),
			fmt.Sprintf("%.3f", angles[i].Pan),
			fmt.Sprintf("%.3f", angles[i].Tilt),
		})
	}
	fmt.Fprintln(out, t.Render())
	if err != nil {
		return &server.ExitError{Code: server.ExitPanTilt, Err: errors.Wrap(err, "calibration sweep")}
	}
	return nil
}

func formatPoint(p r3.Vector) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}
