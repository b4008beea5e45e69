// Package device implements the command/response layer shared by all serial
// telescope peripherals: command framing, synchronous query exchange and
// structured response decoding.
package device

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// infoTerminator ends every info block.
const infoTerminator = "END"

// Conn is the byte transport a session drives. serialport.Port implements
// it; simulators provide in-memory implementations.
type Conn interface {
	Write(data []byte) (int, error)
	ReadLine() (string, error)
	Reset() error
	Close() error
}

// Opener opens the transport on demand so that a session can be constructed
// (and its command table validated) before any port is touched.
type Opener func() (Conn, error)

// Response is the typed result of a query: a single line value or an info
// block, depending on the command kind.
type Response struct {
	Value string
	Info  InfoBlock
}

// Session binds a transport, a frame wrapper and a command table into a
// synchronous query interface. It enforces strict request/response
// alternation and is not safe for concurrent use; each session has exactly
// one owner.
type Session struct {
	open     Opener
	conn     Conn
	wrap     Wrapper
	ack      string // expected ack line before every payload; "" disables
	commands CommandTable
	logger   log.FieldLogger
}

// NewSession creates a session. ack is the single acknowledgment line the
// device emits before every response payload, or empty for device families
// without an ack phase. The transport is not opened until Connect.
func NewSession(open Opener, wrap Wrapper, ack string, commands CommandTable, logger log.FieldLogger) *Session {
	return &Session{
		open:     open,
		wrap:     wrap,
		ack:      ack,
		commands: commands,
		logger:   logger,
	}
}

// Connect opens the transport. Calling Connect on a connected session is a
// no-op. There is no retry and no automatic reconnect.
func (s *Session) Connect() error {
	if s.conn != nil {
		return nil
	}

	conn, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *Session) Connected() bool {
	return s.conn != nil
}

func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Query sends the named command and reads exactly the response shape the
// command declares. args fill the token's format verbs, if any. Query
// blocks until the transport yields the full response or times out.
func (s *Session) Query(name string, args ...any) (Response, error) {
	cmd, ok := s.commands[name]
	if !ok {
		return Response{}, &UnknownCommandError{Name: name}
	}
	if s.conn == nil {
		return Response{}, ErrNotConnected
	}

	if err := s.write(cmd, args); err != nil {
		return Response{}, err
	}

	if s.ack != "" && cmd.Kind != KindNone {
		line, err := s.conn.ReadLine()
		if err != nil {
			return Response{}, err
		}
		if line != s.ack {
			return Response{}, &ProtocolError{Line: line, Want: s.ack}
		}
	}

	switch cmd.Kind {
	case KindNone:
		return Response{}, nil

	case KindLine:
		line, err := s.conn.ReadLine()
		if err != nil {
			return Response{}, err
		}
		s.logger.Debugf("Recv: %s", line)
		return Response{Value: line}, nil

	case KindConfirm:
		line, err := s.conn.ReadLine()
		if err != nil {
			return Response{}, err
		}
		if line != cmd.Confirm {
			return Response{}, &ProtocolError{Line: line, Want: cmd.Confirm}
		}
		return Response{Value: line}, nil

	case KindInfo:
		info, err := s.readInfoBlock(cmd.Header)
		if err != nil {
			return Response{}, err
		}
		return Response{Info: info}, nil

	default:
		return Response{}, fmt.Errorf("invalid command kind %d for %q", cmd.Kind, name)
	}
}

// Send writes the named command without reading a response. The caller is
// responsible for draining the reply with ReadLine before the next command.
func (s *Session) Send(name string, args ...any) error {
	cmd, ok := s.commands[name]
	if !ok {
		return &UnknownCommandError{Name: name}
	}
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.write(cmd, args)
}

// ReadLine reads a single response line from the transport.
func (s *Session) ReadLine() (string, error) {
	if s.conn == nil {
		return "", ErrNotConnected
	}
	line, err := s.conn.ReadLine()
	if err != nil {
		return "", err
	}
	s.logger.Debugf("Recv: %s", line)
	return line, nil
}

func (s *Session) write(cmd Command, args []any) error {
	token := cmd.Token
	if len(args) > 0 {
		token = fmt.Sprintf(cmd.Token, args...)
	}
	frame := s.wrap.Encode(token)

	// Start each exchange from a clean slate; stale bytes from a previous
	// timed-out exchange would otherwise desynchronize the alternation.
	if err := s.conn.Reset(); err != nil {
		return fmt.Errorf("failed to reset transport: %w", err)
	}

	s.logger.Debugf("Send: %s", frame)
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// readInfoBlock reads a header line, then key = value fields until the END
// terminator. On any malformed line the partial block is discarded.
func (s *Session) readInfoBlock(header string) (InfoBlock, error) {
	line, err := s.conn.ReadLine()
	if err != nil {
		return nil, err
	}
	if line != header {
		return nil, &ProtocolError{Line: line, Want: header}
	}

	var info InfoBlock
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == infoTerminator {
			return info, nil
		}

		field, err := parseField(line)
		if err != nil {
			return nil, err
		}
		info = append(info, field)
	}
}
