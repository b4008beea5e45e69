package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"obsctl/pkg/config"
	"obsctl/pkg/device"
	"obsctl/pkg/drivers/focuslynx"
	"obsctl/pkg/drivers/mount"
	"obsctl/pkg/settings"
	"obsctl/pkg/sim"
)

const slewPollInterval = time.Second

func main() {
	app := cli.App{
		Name:  "obsctl",
		Usage: "Telescope mount and focuser control",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the device configuration file",
				Value:   "obsctl.yaml",
				EnvVars: []string{"OBSCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to the settings database",
				Value:   "obsctl.db",
				EnvVars: []string{"OBSCTL_DB"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Use simulated devices instead of serial hardware",
			},
		},
		Commands: []*cli.Command{
			statusCommand(),
			focusCommand(),
			haltCommand(),
			nicknameCommand(),
			slewCommand(),
			parkCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// env bundles the configuration and settings store shared by all commands.
type env struct {
	cfg      config.Config
	db       *bolt.DB
	store    *settings.Store
	simulate bool
}

func setup(c *cli.Context) (*env, error) {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	db, err := bolt.Open(c.String("db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	store, err := settings.NewStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings store: %v", err)
	}

	return &env{
		cfg:      cfg,
		db:       db,
		store:    store,
		simulate: c.Bool("simulate"),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

// openFocuser builds and initializes the focuser from configuration, with
// the persisted travel limit override applied.
func (e *env) openFocuser(logger log.FieldLogger) (*focuslynx.Focuser, error) {
	fcfg := focuslynx.Config{
		Serial:          e.cfg.Focuser.Serial.ToPort(),
		FocuserNumber:   e.cfg.Focuser.Number,
		MinPosition:     e.cfg.Focuser.MinPosition,
		MaxPosition:     e.cfg.Focuser.MaxPosition,
		InitialPosition: e.cfg.Focuser.InitialPosition,
	}

	if st, err := e.store.Get(); err == nil && st.FocuserMaxPosition != 0 {
		if fcfg.MaxPosition == 0 || st.FocuserMaxPosition < fcfg.MaxPosition {
			fcfg.MaxPosition = st.FocuserMaxPosition
		}
	}

	var open device.Opener
	if e.simulate {
		hub := sim.NewFocusLynx(logger)
		open = func() (device.Conn, error) { return hub, nil }
		fcfg.PollInterval = 100 * time.Millisecond
	} else if !e.cfg.Focuser.Serial.Declared() {
		return nil, fmt.Errorf("no focuser serial port configured")
	}

	return focuslynx.New(fcfg, open, logger)
}

// openMount builds the mount from configuration. The mount is returned
// disconnected; callers decide whether a failed connect is fatal.
func (e *env) openMount(logger log.FieldLogger) (mount.Mount, error) {
	mcfg := mount.Config{
		Serial:   e.cfg.Mount.Serial.ToPort(),
		Commands: e.cfg.Mount.Commands,
	}

	var open device.Opener
	if e.simulate {
		m := sim.NewMount(logger)
		open = func() (device.Conn, error) { return m, nil }
	} else if !e.cfg.Mount.Serial.Declared() {
		return nil, fmt.Errorf("no mount serial port configured")
	}

	return mount.NewIOptron(mcfg, open, logger)
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Report focuser and mount status",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			foc, err := e.openFocuser(log.WithField("device", "focuser"))
			if err != nil {
				return err
			}
			defer foc.Close()

			st, err := foc.Status()
			if err != nil {
				return fmt.Errorf("failed to read focuser status: %w", err)
			}
			log.Infof("Focuser %s: position %d, target %d, moving %v, %.1f C",
				foc.UID(), st.Position, st.Target, st.Moving, st.Temperature)

			m, err := e.openMount(log.WithField("device", "mount"))
			if err != nil {
				return err
			}
			if err := m.Connect(); err != nil {
				return err
			}
			defer m.Disconnect()

			slewing, err := m.CheckSlewing()
			if err != nil {
				return fmt.Errorf("failed to read mount slewing state: %w", err)
			}

			if m.Capabilities().CanSlew {
				coords, err := m.CheckCoordinates()
				if err != nil {
					return fmt.Errorf("failed to read mount coordinates: %w", err)
				}
				log.Infof("Mount: HA %.4f Dec %.4f, slewing %v", coords.HA, coords.Dec, slewing)
			} else {
				log.Infof("Mount: slewing %v", slewing)
			}

			return nil
		},
	}
}

func focusCommand() *cli.Command {
	return &cli.Command{
		Name:  "focus",
		Usage: "Move the focuser to an encoder position",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "position",
				Aliases: []string{"p"},
				Usage:   "Target position in encoder units (defaults to the last used target)",
				Value:   -1,
			},
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "Return immediately instead of waiting for the move to finish",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			target := c.Int("position")
			if target < 0 {
				st, err := e.store.Get()
				if err != nil {
					return fmt.Errorf("no position given and no saved target: %v", err)
				}
				target = st.LastFocusPosition
				log.Infof("Using last focus target %d", target)
			}

			foc, err := e.openFocuser(log.WithField("device", "focuser"))
			if err != nil {
				return err
			}
			defer foc.Close()

			var result int
			if c.Bool("no-wait") {
				result, err = foc.StartMove(target)
			} else {
				ctx, stop := signalContext()
				defer stop()
				result, err = foc.MoveTo(ctx, target)
			}
			if err != nil {
				return err
			}

			log.Infof("Focuser at %d", result)

			st, _ := e.store.Get()
			st.LastFocusPosition = result
			return e.store.Set(st)
		},
	}
}

func haltCommand() *cli.Command {
	return &cli.Command{
		Name:  "halt",
		Usage: "Stop any focuser movement immediately",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			foc, err := e.openFocuser(log.WithField("device", "focuser"))
			if err != nil {
				return err
			}
			defer foc.Close()

			return foc.Halt()
		},
	}
}

func nicknameCommand() *cli.Command {
	return &cli.Command{
		Name:      "nickname",
		Usage:     "Set the focuser nickname",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("nickname argument is required")
			}

			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			foc, err := e.openFocuser(log.WithField("device", "focuser"))
			if err != nil {
				return err
			}
			defer foc.Close()

			if err := foc.SetNickname(name); err != nil {
				return err
			}
			log.Infof("Focuser nickname is now %s", foc.UID())
			return nil
		},
	}
}

func slewCommand() *cli.Command {
	return &cli.Command{
		Name:  "slew",
		Usage: "Slew the mount to coordinates",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "ha", Usage: "Hour angle (hours)", Required: true},
			&cli.Float64Flag{Name: "dec", Usage: "Declination (degrees)", Required: true},
			&cli.Float64Flag{Name: "ra-rate", Usage: "RA tracking rate (arcsec/s)", Value: mount.DefaultRARate},
			&cli.Float64Flag{Name: "dec-rate", Usage: "Dec tracking rate (arcsec/s)", Value: mount.DefaultDecRate},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := e.openMount(log.WithField("device", "mount"))
			if err != nil {
				return err
			}
			if err := m.Connect(); err != nil {
				return err
			}
			defer m.Disconnect()

			if !m.Capabilities().CanSlew {
				return fmt.Errorf("mount does not support coordinate slews")
			}

			req := mount.SlewRequest{
				Coords:  mount.Coordinates{HA: c.Float64("ha"), Dec: c.Float64("dec")},
				RARate:  c.Float64("ra-rate"),
				DecRate: c.Float64("dec-rate"),
			}
			if err := m.SlewToCoordinates(req); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			if err := waitForSlew(ctx, m); err != nil {
				return err
			}

			st, _ := e.store.Get()
			st.MountParked = false
			return e.store.Set(st)
		},
	}
}

func parkCommand() *cli.Command {
	return &cli.Command{
		Name:  "park",
		Usage: "Slew the mount to its park position",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := e.openMount(log.WithField("device", "mount"))
			if err != nil {
				return err
			}
			if err := m.Connect(); err != nil {
				return err
			}
			defer m.Disconnect()

			if !m.Capabilities().CanPark {
				return fmt.Errorf("mount does not support parking")
			}

			if err := m.SlewToPark(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			if err := waitForSlew(ctx, m); err != nil {
				return err
			}

			log.Info("Mount parked")

			st, _ := e.store.Get()
			st.MountParked = true
			return e.store.Set(st)
		},
	}
}

// waitForSlew polls the mount until it stops slewing or ctx is done.
func waitForSlew(ctx context.Context, m mount.Mount) error {
	for {
		slewing, err := m.CheckSlewing()
		if err != nil {
			return err
		}
		if !slewing {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted while slewing: %w", ctx.Err())
		case <-time.After(slewPollInterval):
		}
	}
}
