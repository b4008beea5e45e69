package mount

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"obsctl/pkg/device"
	"obsctl/pkg/serialport"
)

// ioptronWrapper frames iOptron-style commands: ":token#".
var ioptronWrapper = device.Wrapper{Pre: ":", Post: "#"}

// DefaultIOptronCommands is the built-in command table for iOptron-style
// mounts. Configuration may override individual tokens.
func DefaultIOptronCommands() device.CommandTable {
	return device.CommandTable{
		"version":      {Token: "FW1", Kind: device.KindLine},
		"ping":         {Token: "V", Kind: device.KindLine},
		"echo":         {Token: "K%s", Kind: device.KindLine},
		"slewing":      {Token: "SE?", Kind: device.KindLine},
		"slew":         {Token: "MS", Kind: device.KindLine},
		"park":         {Token: "MP1", Kind: device.KindLine},
		"get_coords":   {Token: "GEC", Kind: device.KindLine},
		"sync":         {Token: "CM", Kind: device.KindLine},
		"set_ha":       {Token: "Sh%+.4f", Kind: device.KindLine},
		"set_dec":      {Token: "Sd%+.4f", Kind: device.KindLine},
		"set_ra_rate":  {Token: "Rr%.2f", Kind: device.KindLine},
		"set_dec_rate": {Token: "Rd%.2f", Kind: device.KindLine},
	}
}

// Config configures an iOptron mount. Commands holds token overrides from
// configuration, keyed by logical command name.
type Config struct {
	Serial   serialport.Config
	Commands map[string]string
}

// IOptron drives iOptron-style equatorial mounts.
type IOptron struct {
	*Base

	firmware string
	logger   log.FieldLogger
}

// NewIOptron builds an iOptron mount controller. open overrides the
// transport opener (used by simulators and tests); nil means the serial
// port from cfg. The command table is checked before any transport is
// opened: a table without a slew command cannot build a mount.
func NewIOptron(cfg Config, open device.Opener, logger log.FieldLogger) (*IOptron, error) {
	commands := DefaultIOptronCommands()
	for name, token := range cfg.Commands {
		// An empty token disables the command.
		if token == "" {
			delete(commands, name)
			continue
		}
		cmd, ok := commands[name]
		if !ok {
			cmd = device.Command{Kind: device.KindLine}
		}
		cmd.Token = token
		commands[name] = cmd
	}

	if !commands.Has("slew") {
		return nil, fmt.Errorf("mount command table is missing required %q command", "slew")
	}

	if open == nil {
		if err := cfg.Serial.Validate(); err != nil {
			return nil, fmt.Errorf("invalid mount serial config: %w", err)
		}
		serialCfg := cfg.Serial
		open = func() (device.Conn, error) {
			return serialport.Open(serialCfg, logger)
		}
	}

	session := device.NewSession(open, ioptronWrapper, "", commands, logger)

	m := &IOptron{
		Base:   newBase(session, logger),
		logger: logger,
	}
	m.initialize = m.init
	return m, nil
}

// init is the connect hook: read the firmware version and ping the mount.
func (m *IOptron) init() error {
	resp, err := m.session.Query("version")
	if err != nil {
		return fmt.Errorf("failed to read mount firmware version: %w", err)
	}
	m.firmware = resp.Value

	if err := m.Ping(); err != nil {
		return err
	}

	m.logger.Infof("Mount firmware version: %s", m.firmware)
	return nil
}

// FirmwareVersion reports the firmware version read at connect time.
func (m *IOptron) FirmwareVersion() string {
	return m.firmware
}

func (m *IOptron) Capabilities() Capabilities {
	return Capabilities{
		CanSlew: true,
		CanSync: true,
		CanPark: true,
		CanEcho: true,
	}
}

// CheckCoordinates queries the current pointing of the mount.
func (m *IOptron) CheckCoordinates() (Coordinates, error) {
	resp, err := m.session.Query("get_coords")
	if err != nil {
		return Coordinates{}, err
	}
	return parseCoordinates(resp.Value)
}

// SyncCoordinates tells the mount its actual pointing, typically after a
// plate solve.
func (m *IOptron) SyncCoordinates(coords Coordinates) error {
	if err := m.setTarget(coords); err != nil {
		return err
	}
	if err := m.confirm("sync"); err != nil {
		return err
	}
	m.logger.Infof("Synced mount to HA %.4f Dec %.4f", coords.HA, coords.Dec)
	return nil
}

// SlewToCoordinates starts a slew to the requested target. It returns as
// soon as the mount accepts the command; callers track progress with
// CheckSlewing.
func (m *IOptron) SlewToCoordinates(req SlewRequest) error {
	if err := m.setTarget(req.Coords); err != nil {
		return err
	}
	if err := m.confirm("set_ra_rate", req.RARate); err != nil {
		return err
	}
	if err := m.confirm("set_dec_rate", req.DecRate); err != nil {
		return err
	}

	if err := m.confirm("slew"); err != nil {
		return err
	}

	m.slewing = true
	m.logger.Infof("Slewing to HA %.4f Dec %.4f", req.Coords.HA, req.Coords.Dec)
	return nil
}

// SlewToPark drives the mount to its park position. The park position is
// defined in the mount's own configuration.
func (m *IOptron) SlewToPark() error {
	if err := m.confirm("park"); err != nil {
		return err
	}
	m.slewing = true
	m.logger.Info("Mount parking")
	return nil
}

func (m *IOptron) Echo(msg string) (string, error) {
	resp, err := m.session.Query("echo", msg)
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (m *IOptron) Ping() error {
	if _, err := m.session.Query("ping"); err != nil {
		return fmt.Errorf("mount did not answer ping: %w", err)
	}
	return nil
}

func (m *IOptron) setTarget(coords Coordinates) error {
	if err := m.confirm("set_ha", coords.HA); err != nil {
		return err
	}
	return m.confirm("set_dec", coords.Dec)
}

// confirm issues a command whose reply must be the accept flag "1".
func (m *IOptron) confirm(name string, args ...any) error {
	resp, err := m.session.Query(name, args...)
	if err != nil {
		return err
	}
	if !truthy(resp.Value) {
		return fmt.Errorf("mount rejected %s command: %q", name, resp.Value)
	}
	return nil
}

// parseCoordinates parses the "±HA ±Dec" reply of the get_coords command.
func parseCoordinates(value string) (Coordinates, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return Coordinates{}, fmt.Errorf("malformed coordinates reply: %q", value)
	}

	ha, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("malformed hour angle %q: %w", fields[0], err)
	}
	dec, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("malformed declination %q: %w", fields[1], err)
	}

	return Coordinates{HA: ha, Dec: dec}, nil
}
