// Package sim provides wire-level simulators for the supported device
// families. Each simulator implements device.Conn and speaks the real
// serial protocol, so the full driver stack above it runs unchanged.
package sim

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"obsctl/pkg/serialport"
)

const (
	defaultMaxPosition = 112000
	defaultSpeed       = 10000 // encoder units advanced per status poll
)

// FocusLynx simulates an Optec FocusLynx focus controller hub with a single
// focuser attached. Motion is modeled by stepping the position toward the
// target on every status query.
type FocusLynx struct {
	Number int // focuser number on the hub

	// Ack overrides the acknowledgment line, for fault injection.
	Ack string

	position    int
	target      int
	moving      bool
	maxPosition int
	temperature float64
	nickname    string
	speed       int

	queue  []string
	logger log.FieldLogger
}

func NewFocusLynx(logger log.FieldLogger) *FocusLynx {
	return &FocusLynx{
		Number:      1,
		Ack:         "!",
		maxPosition: defaultMaxPosition,
		temperature: 15.2,
		nickname:    "Simulated Foc",
		speed:       defaultSpeed,
		logger:      logger.WithField("component", "focuslynx-sim"),
	}
}

// SetMaxPosition narrows the simulated hardware travel limit.
func (f *FocusLynx) SetMaxPosition(max int) { f.maxPosition = max }

// SetSpeed sets the encoder units moved per status poll.
func (f *FocusLynx) SetSpeed(speed int) { f.speed = speed }

// Position returns the simulated encoder position.
func (f *FocusLynx) Position() int { return f.position }

// Moving reports whether the simulated focuser is in motion.
func (f *FocusLynx) Moving() bool { return f.moving }

func (f *FocusLynx) Write(data []byte) (int, error) {
	frame := string(data)
	token, ok := strings.CutPrefix(frame, "<")
	if ok {
		token, ok = strings.CutSuffix(token, ">")
	}
	if !ok {
		f.logger.Warnf("Discarding unframed bytes: %q", frame)
		return len(data), nil
	}

	f.handle(token)
	return len(data), nil
}

func (f *FocusLynx) ReadLine() (string, error) {
	if len(f.queue) == 0 {
		return "", serialport.ErrTimeout
	}
	line := f.queue[0]
	f.queue = f.queue[1:]
	return line, nil
}

func (f *FocusLynx) Reset() error {
	f.queue = nil
	return nil
}

func (f *FocusLynx) Close() error { return nil }

func (f *FocusLynx) handle(token string) {
	f.logger.Debugf("Command: %s", token)

	if token == "FHGETHUBINFO" {
		f.respond("HUB INFO",
			"Hub FVer = 2.0.4",
			"Sleeping = 0",
			"Wired IP = 0.0.0.0",
		)
		return
	}

	prefix := fmt.Sprintf("F%d", f.Number)
	cmd, ok := strings.CutPrefix(token, prefix)
	if !ok {
		f.logger.Warnf("Command for unknown focuser: %s", token)
		return
	}

	switch {
	case cmd == "GETCONFIG":
		f.respond(fmt.Sprintf("CONFIG%d", f.Number),
			fmt.Sprintf("Nickname = %s", f.nickname),
			fmt.Sprintf("Max Pos = %d", f.maxPosition),
			"Dev Typ = OA",
			"TComp ON = 0",
		)

	case cmd == "GETSTATUS":
		f.step()
		f.respond(fmt.Sprintf("STATUS%d", f.Number),
			fmt.Sprintf("Temp(C) = %.1f", f.temperature),
			fmt.Sprintf("Curr Pos = %d", f.position),
			fmt.Sprintf("Targ Pos = %d", f.target),
			fmt.Sprintf("IsMoving = %d", boolToInt(f.moving)),
		)

	case strings.HasPrefix(cmd, "MA"):
		target, err := strconv.Atoi(cmd[2:])
		if err != nil {
			f.logger.Warnf("Bad move target: %s", cmd)
			return
		}
		f.target = min(target, f.maxPosition)
		f.moving = f.target != f.position
		f.queue = append(f.queue, f.Ack, "M")

	case cmd == "HALT":
		f.moving = false
		f.target = f.position
		f.queue = append(f.queue, f.Ack, "HALTED")

	case strings.HasPrefix(cmd, "SCNN"):
		f.nickname = cmd[4:]
		f.queue = append(f.queue, f.Ack, "SET")

	default:
		f.logger.Warnf("Unknown command: %s", token)
	}
}

// respond queues the ack, a header line, the given fields and the block
// terminator.
func (f *FocusLynx) respond(header string, fields ...string) {
	f.queue = append(f.queue, f.Ack, header)
	f.queue = append(f.queue, fields...)
	f.queue = append(f.queue, "END")
}

// step advances the motion model by one poll interval.
func (f *FocusLynx) step() {
	if !f.moving {
		return
	}

	delta := f.target - f.position
	switch {
	case delta > f.speed:
		f.position += f.speed
	case delta < -f.speed:
		f.position -= f.speed
	default:
		f.position = f.target
		f.moving = false
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
