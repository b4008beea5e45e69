package sim

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"obsctl/pkg/serialport"
)

// Mount simulates an iOptron-style equatorial mount speaking the ":" / "#"
// framed single-line protocol. A slew is reported as in progress for a
// fixed number of slewing polls.
type Mount struct {
	// SlewPolls is how many slewing queries report motion after a slew
	// command before the mount settles.
	SlewPolls int

	ha, dec   float64
	targetHA  float64
	targetDec float64
	parked    bool
	slewing   int

	queue  []string
	logger log.FieldLogger
}

func NewMount(logger log.FieldLogger) *Mount {
	return &Mount{
		SlewPolls: 2,
		logger:    logger.WithField("component", "mount-sim"),
	}
}

// Parked reports whether the simulated mount is at its park position.
func (m *Mount) Parked() bool { return m.parked }

func (m *Mount) Write(data []byte) (int, error) {
	frame := string(data)
	token, ok := strings.CutPrefix(frame, ":")
	if ok {
		token, ok = strings.CutSuffix(token, "#")
	}
	if !ok {
		m.logger.Warnf("Discarding unframed bytes: %q", frame)
		return len(data), nil
	}

	m.handle(token)
	return len(data), nil
}

func (m *Mount) ReadLine() (string, error) {
	if len(m.queue) == 0 {
		return "", serialport.ErrTimeout
	}
	line := m.queue[0]
	m.queue = m.queue[1:]
	return line, nil
}

func (m *Mount) Reset() error {
	m.queue = nil
	return nil
}

func (m *Mount) Close() error { return nil }

func (m *Mount) handle(token string) {
	m.logger.Debugf("Command: %s", token)

	switch {
	case token == "FW1":
		m.reply("1.8")

	case token == "V":
		m.reply("OK")

	case strings.HasPrefix(token, "K"):
		m.reply(token[1:])

	case strings.HasPrefix(token, "Sh"):
		if v, err := strconv.ParseFloat(token[2:], 64); err == nil {
			m.targetHA = v
			m.reply("1")
		} else {
			m.reply("0")
		}

	case strings.HasPrefix(token, "Sd"):
		if v, err := strconv.ParseFloat(token[2:], 64); err == nil {
			m.targetDec = v
			m.reply("1")
		} else {
			m.reply("0")
		}

	case strings.HasPrefix(token, "Rr"), strings.HasPrefix(token, "Rd"):
		m.reply("1")

	case token == "MS":
		m.ha = m.targetHA
		m.dec = m.targetDec
		m.parked = false
		m.slewing = m.SlewPolls
		m.reply("1")

	case token == "SE?":
		if m.slewing > 0 {
			m.slewing--
			m.reply("1")
		} else {
			m.reply("0")
		}

	case token == "MP1":
		m.parked = true
		m.slewing = m.SlewPolls
		m.reply("1")

	case token == "GEC":
		m.reply(fmt.Sprintf("%+.4f %+.4f", m.ha, m.dec))

	case token == "CM":
		m.ha = m.targetHA
		m.dec = m.targetDec
		m.reply("1")

	default:
		m.logger.Warnf("Unknown command: %s", token)
	}
}

func (m *Mount) reply(line string) {
	m.queue = append(m.queue, line)
}
