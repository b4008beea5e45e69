// Package serialport owns the physical serial connection to a telescope
// peripheral. A Port is opened once from an immutable Config and is the
// exclusive property of a single device session for its whole lifetime.
package serialport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// ErrTimeout is returned by ReadLine when no full line arrives within the
// configured read timeout.
var ErrTimeout = errors.New("serial read timeout")

type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// Config holds the serial line parameters. The port path must be non-empty;
// everything else has a usable default applied by Normalize.
type Config struct {
	Port        string
	BaudRate    int
	DataBits    int
	Parity      Parity
	StopBits    StopBits
	ReadTimeout time.Duration
}

func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("serial port path is required")
	}
	return nil
}

// Normalize fills in defaults for unset fields.
func (c Config) Normalize() Config {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	return c
}

func (c Config) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}

	switch c.Parity {
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	switch c.StopBits {
	case TwoStopBits:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	return mode
}

// Port is a half-duplex serial channel with line-oriented reads.
type Port struct {
	port   serial.Port
	cfg    Config
	logger log.FieldLogger
}

// Open opens the serial port described by cfg. There is no retry; a port
// that cannot be opened is reported to the caller as-is.
func Open(cfg Config, logger log.FieldLogger) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalize()

	port, err := serial.Open(cfg.Port, cfg.mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Port, err)
	}

	logger.Debugf("Opened serial port %s at %d baud", cfg.Port, cfg.BaudRate)

	return &Port{
		port:   port,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// ReadLine reads bytes until a newline and returns the line with trailing
// CR/LF trimmed. A read that makes no progress within the port's read
// timeout returns ErrTimeout.
func (p *Port) ReadLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)

	for {
		n, err := p.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("serial read on %s: %w", p.cfg.Port, err)
		}
		if n == 0 {
			// go.bug.st/serial signals an expired read timeout with a
			// zero-byte read and a nil error.
			return "", fmt.Errorf("no response on %s after %v: %w",
				p.cfg.Port, p.cfg.ReadTimeout, ErrTimeout)
		}
		if buf[0] == '\n' {
			return strings.TrimRight(string(line), "\r"), nil
		}
		line = append(line, buf[0])
	}
}

// Reset discards any bytes pending in the input and output buffers.
func (p *Port) Reset() error {
	if err := p.port.ResetOutputBuffer(); err != nil {
		return err
	}
	return p.port.ResetInputBuffer()
}

func (p *Port) Close() error {
	p.logger.Debugf("Closing serial port %s", p.cfg.Port)
	return p.port.Close()
}
