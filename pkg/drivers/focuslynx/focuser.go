// Package focuslynx drives telescope focusers behind an Optec FocusLynx
// focus controller, including the Starlight Instruments Focus Boss II.
//
// The hub speaks bracket-framed ASCII commands. Every command is
// acknowledged with a single "!" line, followed by an info block, a
// confirmation literal or nothing, depending on the command.
package focuslynx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"obsctl/pkg/device"
	"obsctl/pkg/serialport"
)

const (
	ackLine         = "!"
	maxNicknameLen  = 16
	defaultInterval = time.Second // blocking move poll interval
)

var focusWrapper = device.Wrapper{Pre: "<", Post: ">"}

// commandTable builds the hub command table for focuser number n.
func commandTable(n int) device.CommandTable {
	return device.CommandTable{
		"hub_info": {
			Token:  "FHGETHUBINFO",
			Kind:   device.KindInfo,
			Header: "HUB INFO",
		},
		"get_config": {
			Token:  fmt.Sprintf("F%dGETCONFIG", n),
			Kind:   device.KindInfo,
			Header: fmt.Sprintf("CONFIG%d", n),
		},
		"get_status": {
			Token:  fmt.Sprintf("F%dGETSTATUS", n),
			Kind:   device.KindInfo,
			Header: fmt.Sprintf("STATUS%d", n),
		},
		"move": {
			Token:   fmt.Sprintf("F%dMA", n) + "%06d",
			Kind:    device.KindConfirm,
			Confirm: "M",
		},
		"halt": {
			Token:   fmt.Sprintf("F%dHALT", n),
			Kind:    device.KindConfirm,
			Confirm: "HALTED",
		},
		"set_nickname": {
			Token:   fmt.Sprintf("F%dSCNN", n) + "%s",
			Kind:    device.KindConfirm,
			Confirm: "SET",
		},
	}
}

// Config configures a FocusLynx focuser.
type Config struct {
	Serial serialport.Config

	// FocuserNumber selects the focuser on hubs driving more than one.
	// Defaults to 1.
	FocuserNumber int

	// MinPosition is the close travel limit in encoder units. Negative
	// values are clamped to 0 with a warning.
	MinPosition int

	// MaxPosition narrows the far travel limit below the hardware's own
	// maximum. Zero means use the hardware limit; a value above it is
	// ignored with a warning, a value at or below MinPosition is a
	// construction error.
	MaxPosition int

	// InitialPosition, if non-nil, is driven to after initialization.
	InitialPosition *int

	// PollInterval is the status poll period of blocking moves.
	// Defaults to one second.
	PollInterval time.Duration
}

// Status is a consistent multi-field snapshot taken from a single status
// query. Callers needing position, target and moving flag together must
// use one snapshot rather than the individual accessors.
type Status struct {
	Position    int
	Target      int
	Moving      bool
	Temperature float64
}

// Focuser controls one focuser on a FocusLynx hub.
type Focuser struct {
	session *device.Session
	number  int
	logger  log.FieldLogger

	minPosition int
	maxPosition int
	interval    time.Duration

	nickname string
	model    string
	firmware string
}

// New opens the transport and initializes the focuser. Any failure exits
// before a usable controller is returned; there is no half-initialized
// state. open overrides the transport opener (simulators, tests); nil means
// the serial port from cfg.
func New(cfg Config, open device.Opener, logger log.FieldLogger) (*Focuser, error) {
	if cfg.FocuserNumber == 0 {
		cfg.FocuserNumber = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultInterval
	}

	if open == nil {
		if err := cfg.Serial.Validate(); err != nil {
			return nil, fmt.Errorf("invalid focuser serial config: %w", err)
		}
		serialCfg := cfg.Serial
		open = func() (device.Conn, error) {
			return serialport.Open(serialCfg, logger)
		}
	}

	f := &Focuser{
		session:  device.NewSession(open, focusWrapper, ackLine, commandTable(cfg.FocuserNumber), logger),
		number:   cfg.FocuserNumber,
		interval: cfg.PollInterval,
		logger:   logger,
	}

	if err := f.session.Connect(); err != nil {
		return nil, err
	}

	if err := f.initialize(cfg); err != nil {
		f.session.Close()
		return nil, err
	}

	if cfg.InitialPosition != nil {
		if _, err := f.MoveTo(context.Background(), *cfg.InitialPosition); err != nil {
			f.session.Close()
			return nil, fmt.Errorf("failed to drive to initial position: %w", err)
		}
	}

	return f, nil
}

// initialize reads hub info, focuser config and current status, and derives
// the travel bounds.
func (f *Focuser) initialize(cfg Config) error {
	hub, err := f.session.Query("hub_info")
	if err != nil {
		return fmt.Errorf("failed to read hub info: %w", err)
	}
	f.firmware, _ = hub.Info.Get("Hub FVer")

	if err := f.refreshConfig(); err != nil {
		return err
	}
	deviceMax := f.maxPosition

	if _, err := f.Status(); err != nil {
		return fmt.Errorf("failed to read focuser status: %w", err)
	}

	f.minPosition = cfg.MinPosition
	if cfg.MinPosition < 0 {
		f.logger.Warnf("Specified min position %d less than zero, ignoring", cfg.MinPosition)
		f.minPosition = 0
	}

	if cfg.MaxPosition != 0 {
		switch {
		case cfg.MaxPosition > deviceMax:
			f.logger.Warnf("Specified max position %d greater than focuser max %d, ignoring",
				cfg.MaxPosition, deviceMax)
		case cfg.MaxPosition <= f.minPosition:
			return fmt.Errorf("max position %d must be greater than min position %d",
				cfg.MaxPosition, f.minPosition)
		default:
			f.maxPosition = cfg.MaxPosition
		}
	}

	f.logger.Infof("Focuser %s (%s) initialized, travel [%d, %d]",
		f.nickname, f.model, f.minPosition, f.maxPosition)
	return nil
}

// refreshConfig re-reads the focuser config block from the hub.
func (f *Focuser) refreshConfig() error {
	resp, err := f.session.Query("get_config")
	if err != nil {
		return fmt.Errorf("failed to read focuser config: %w", err)
	}

	f.nickname, _ = resp.Info.Get("Nickname")
	f.model, _ = resp.Info.Get("Dev Typ")

	max, err := infoInt(resp.Info, "Max Pos")
	if err != nil {
		return err
	}
	f.maxPosition = max
	return nil
}

// Status performs one status query and returns the full snapshot.
func (f *Focuser) Status() (Status, error) {
	resp, err := f.session.Query("get_status")
	if err != nil {
		return Status{}, err
	}

	position, err := infoInt(resp.Info, "Curr Pos")
	if err != nil {
		return Status{}, err
	}
	target, err := infoInt(resp.Info, "Targ Pos")
	if err != nil {
		return Status{}, err
	}
	moving, err := infoInt(resp.Info, "IsMoving")
	if err != nil {
		return Status{}, err
	}
	temperature, err := infoFloat(resp.Info, "Temp(C)")
	if err != nil {
		return Status{}, err
	}

	return Status{
		Position:    position,
		Target:      target,
		Moving:      moving != 0,
		Temperature: temperature,
	}, nil
}

// Position returns the current encoder position from a fresh status query.
func (f *Focuser) Position() (int, error) {
	st, err := f.Status()
	return st.Position, err
}

// Temperature returns the focuser temperature in Celsius from a fresh
// status query.
func (f *Focuser) Temperature() (float64, error) {
	st, err := f.Status()
	return st.Temperature, err
}

// IsMoving reports whether the focuser is in motion, from a fresh status
// query.
func (f *Focuser) IsMoving() (bool, error) {
	st, err := f.Status()
	return st.Moving, err
}

// MoveTo drives the focuser to position and blocks until motion stops or
// ctx is done. Out-of-range positions are clamped to the nearest bound
// with a warning, not rejected. Returns the actual resulting position; if
// it differs from the target that is warned about, not an error. A
// cancelled or expired ctx returns the last known position together with
// the wrapped ctx error.
func (f *Focuser) MoveTo(ctx context.Context, position int) (int, error) {
	target, err := f.startMove(position)
	if err != nil {
		return 0, err
	}

	for {
		st, err := f.Status()
		if err != nil {
			return 0, err
		}
		if !st.Moving {
			if st.Position != target {
				f.logger.Warnf("Focuser %s did not reach target %d, now at %d",
					f.nickname, target, st.Position)
			}
			return st.Position, nil
		}

		select {
		case <-ctx.Done():
			return st.Position, fmt.Errorf("move to %d interrupted at %d: %w",
				target, st.Position, ctx.Err())
		case <-time.After(f.interval):
		}
	}
}

// StartMove sends the move command and returns immediately with the
// (possibly clamped) target. The caller polls IsMoving or Status.
func (f *Focuser) StartMove(position int) (int, error) {
	return f.startMove(position)
}

func (f *Focuser) startMove(position int) (int, error) {
	target := f.clamp(position)

	f.logger.Debugf("Moving focuser %s to %d", f.nickname, target)
	if _, err := f.session.Query("move", target); err != nil {
		return 0, err
	}
	return target, nil
}

// clamp corrects position into the travel bounds, warning when a
// correction happens.
func (f *Focuser) clamp(position int) int {
	switch {
	case position < f.minPosition:
		f.logger.Warnf("Requested position %d less than min position, moving to %d",
			position, f.minPosition)
		return f.minPosition
	case position > f.maxPosition:
		f.logger.Warnf("Requested position %d greater than max position, moving to %d",
			position, f.maxPosition)
		return f.maxPosition
	default:
		return position
	}
}

// Halt stops any movement immediately, whatever the remaining distance.
// Halting is an abnormal stop, so it is always logged as a warning.
func (f *Focuser) Halt() error {
	if _, err := f.session.Query("halt"); err != nil {
		return err
	}
	f.logger.Warnf("Focuser %s halted", f.nickname)
	return nil
}

// SetNickname assigns the user-visible nickname of the focuser. Names over
// 16 characters are truncated with a warning rather than rejected.
func (f *Focuser) SetNickname(nickname string) error {
	if runes := []rune(nickname); len(runes) > maxNicknameLen {
		// Truncate on a rune boundary; a byte slice could cut a
		// multi-byte character in half.
		truncated := string(runes[:maxNicknameLen])
		f.logger.Warnf("Truncated nickname %s to %s (must be <= %d characters)",
			nickname, truncated, maxNicknameLen)
		nickname = truncated
	}

	if _, err := f.session.Query("set_nickname", nickname); err != nil {
		return err
	}
	return f.refreshConfig()
}

// UID is the user-set nickname of the focuser.
func (f *Focuser) UID() string { return f.nickname }

// Model is the device type code reported by the hub.
func (f *Focuser) Model() string { return f.model }

// FirmwareVersion is the hub controller firmware version.
func (f *Focuser) FirmwareVersion() string { return f.firmware }

func (f *Focuser) MinPosition() int { return f.minPosition }

func (f *Focuser) MaxPosition() int { return f.maxPosition }

func (f *Focuser) Connected() bool { return f.session.Connected() }

func (f *Focuser) Close() error {
	return f.session.Close()
}

func (f *Focuser) String() string {
	return fmt.Sprintf("%s %d (%s)", f.nickname, f.number, f.model)
}

func infoInt(info device.InfoBlock, key string) (int, error) {
	value, ok := info.Get(key)
	if !ok {
		return 0, fmt.Errorf("info block is missing %q", key)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("malformed %s value %q: %w", key, value, err)
	}
	return n, nil
}

func infoFloat(info device.InfoBlock, key string) (float64, error) {
	value, ok := info.Get(key)
	if !ok {
		return 0, fmt.Errorf("info block is missing %q", key)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s value %q: %w", key, value, err)
	}
	return v, nil
}
