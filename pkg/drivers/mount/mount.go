// Package mount implements telescope mount controllers on top of a device
// session. A concrete device family provides the command table, the
// initialize hook and the capability set; the base supplies the connection
// state machine shared by all families.
package mount

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"obsctl/pkg/device"
)

// ErrNotImplemented is returned by operations a device family declares
// unsupported. Invoking one is a caller contract violation, never a silent
// no-op.
var ErrNotImplemented = errors.New("operation not implemented by this mount")

// Default tracking rates in arcsec per second, used when a slew request
// does not carry its own rates (no tracking model available).
const (
	DefaultRARate  = 15.0
	DefaultDecRate = 0.0
)

// Coordinates is a mount pointing in hour angle (hours) and declination
// (degrees).
type Coordinates struct {
	HA  float64
	Dec float64
}

// SlewRequest is a slew target with tracking rates.
type SlewRequest struct {
	Coords  Coordinates
	RARate  float64
	DecRate float64
}

// NewSlewRequest returns a slew request for coords with the default
// tracking rates.
func NewSlewRequest(coords Coordinates) SlewRequest {
	return SlewRequest{
		Coords:  coords,
		RARate:  DefaultRARate,
		DecRate: DefaultDecRate,
	}
}

// Capabilities declares which operation groups a device family implements.
// Callers should consult this before invoking an operation rather than
// probing for ErrNotImplemented.
type Capabilities struct {
	CanSlew bool
	CanSync bool
	CanPark bool
	CanEcho bool
}

// Mount is the control interface for a telescope mount.
type Mount interface {
	Connect() error
	Disconnect() error
	Connected() bool

	Capabilities() Capabilities
	CheckSlewing() (bool, error)
	CheckCoordinates() (Coordinates, error)
	SyncCoordinates(Coordinates) error
	SlewToCoordinates(SlewRequest) error
	SlewToPark() error
	Echo(msg string) (string, error)
	Ping() error
}

// Base carries the session and connection state machine. Device families
// embed it and override the operations they support; the Base versions
// report ErrNotImplemented.
type Base struct {
	session *device.Session
	logger  log.FieldLogger

	connected bool
	slewing   bool

	// initialize is the device-family hook run by Connect before the
	// mount is marked connected.
	initialize func() error
}

func newBase(session *device.Session, logger log.FieldLogger) *Base {
	return &Base{
		session: session,
		logger:  logger,
	}
}

// Connect opens the transport and runs the family initialize hook. Already
// connected is a no-op. On failure the mount stays disconnected and the
// error is returned for the caller to judge; there is no retry.
func (b *Base) Connect() error {
	if b.connected {
		return nil
	}

	if err := b.session.Connect(); err != nil {
		b.logger.Errorf("Cannot connect to mount: %v", err)
		return err
	}

	if b.initialize != nil {
		if err := b.initialize(); err != nil {
			b.logger.Errorf("Mount initialization failed: %v", err)
			b.session.Close()
			return fmt.Errorf("failed to initialize mount: %w", err)
		}
	}

	b.connected = true
	b.logger.Info("Mount connected")
	return nil
}

func (b *Base) Disconnect() error {
	if !b.connected {
		return nil
	}
	b.connected = false
	b.logger.Info("Mount disconnected")
	return b.session.Close()
}

func (b *Base) Connected() bool {
	return b.connected
}

// CheckSlewing queries the mount for its slewing state. Safe to call
// repeatedly; the last result is kept as the current slewing flag.
func (b *Base) CheckSlewing() (bool, error) {
	resp, err := b.session.Query("slewing")
	if err != nil {
		return false, err
	}
	b.slewing = truthy(resp.Value)
	return b.slewing, nil
}

// Slewing returns the slewing flag from the most recent CheckSlewing.
func (b *Base) Slewing() bool {
	return b.slewing
}

func (b *Base) Capabilities() Capabilities {
	return Capabilities{}
}

func (b *Base) CheckCoordinates() (Coordinates, error) {
	return Coordinates{}, ErrNotImplemented
}

func (b *Base) SyncCoordinates(Coordinates) error {
	return ErrNotImplemented
}

func (b *Base) SlewToCoordinates(SlewRequest) error {
	return ErrNotImplemented
}

func (b *Base) SlewToPark() error {
	return ErrNotImplemented
}

func (b *Base) Echo(string) (string, error) {
	return "", ErrNotImplemented
}

func (b *Base) Ping() error {
	return ErrNotImplemented
}

// truthy interprets a status reply as a boolean flag. Mounts report flags
// as "1"/"0".
func truthy(value string) bool {
	return value != "" && value != "0"
}
