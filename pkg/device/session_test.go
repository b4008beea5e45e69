package device

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records written frames and replays scripted response lines.
type fakeConn struct {
	writes []string
	lines  []string
	resets int
	closed bool
}

var errNoMoreLines = errors.New("no scripted lines left")

func (c *fakeConn) Write(data []byte) (int, error) {
	c.writes = append(c.writes, string(data))
	return len(data), nil
}

func (c *fakeConn) ReadLine() (string, error) {
	if len(c.lines) == 0 {
		return "", errNoMoreLines
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, nil
}

func (c *fakeConn) Reset() error {
	c.resets++
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestSession(conn *fakeConn, ack string, commands CommandTable) *Session {
	open := func() (Conn, error) { return conn, nil }
	return NewSession(open, Wrapper{Pre: "<", Post: ">"}, ack, commands, log.StandardLogger())
}

func TestSessionQueryLine(t *testing.T) {
	conn := &fakeConn{lines: []string{"1"}}
	s := newTestSession(conn, "", CommandTable{
		"slewing": {Token: "SE?", Kind: KindLine},
	})
	require.NoError(t, s.Connect())

	resp, err := s.Query("slewing")
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Value)
	assert.Equal(t, []string{"<SE?>"}, conn.writes)
	assert.Equal(t, 1, conn.resets)
}

func TestSessionQueryFormatsToken(t *testing.T) {
	conn := &fakeConn{lines: []string{"!", "M"}}
	s := newTestSession(conn, "!", CommandTable{
		"move": {Token: "F1MA%06d", Kind: KindConfirm, Confirm: "M"},
	})
	require.NoError(t, s.Connect())

	_, err := s.Query("move", 4200)
	require.NoError(t, err)
	assert.Equal(t, []string{"<F1MA004200>"}, conn.writes)
}

func TestSessionQueryAckMismatch(t *testing.T) {
	conn := &fakeConn{lines: []string{"X"}}
	s := newTestSession(conn, "!", CommandTable{
		"halt": {Token: "F1HALT", Kind: KindConfirm, Confirm: "HALTED"},
	})
	require.NoError(t, s.Connect())

	_, err := s.Query("halt")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "X", perr.Line)
	assert.Equal(t, "!", perr.Want)
}

func TestSessionQueryConfirmMismatch(t *testing.T) {
	conn := &fakeConn{lines: []string{"!", "NOPE"}}
	s := newTestSession(conn, "!", CommandTable{
		"halt": {Token: "F1HALT", Kind: KindConfirm, Confirm: "HALTED"},
	})
	require.NoError(t, s.Connect())

	_, err := s.Query("halt")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "NOPE", perr.Line)
	assert.Equal(t, "HALTED", perr.Want)
}

func TestSessionQueryInfoBlock(t *testing.T) {
	conn := &fakeConn{lines: []string{
		"!",
		"STATUS1",
		"Curr Pos = 004200",
		"Targ Pos = 004200",
		"IsMoving = 0",
		"END",
	}}
	s := newTestSession(conn, "!", CommandTable{
		"get_status": {Token: "F1GETSTATUS", Kind: KindInfo, Header: "STATUS1"},
	})
	require.NoError(t, s.Connect())

	resp, err := s.Query("get_status")
	require.NoError(t, err)
	assert.Equal(t, InfoBlock{
		{Key: "Curr Pos", Value: "004200"},
		{Key: "Targ Pos", Value: "004200"},
		{Key: "IsMoving", Value: "0"},
	}, resp.Info)
}

func TestSessionQueryInfoBlockBadHeader(t *testing.T) {
	conn := &fakeConn{lines: []string{"!", "STATUS2", "END"}}
	s := newTestSession(conn, "!", CommandTable{
		"get_status": {Token: "F1GETSTATUS", Kind: KindInfo, Header: "STATUS1"},
	})
	require.NoError(t, s.Connect())

	_, err := s.Query("get_status")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "STATUS2", perr.Line)
}

func TestSessionQueryInfoBlockMalformedLine(t *testing.T) {
	conn := &fakeConn{lines: []string{
		"!",
		"STATUS1",
		"Curr Pos = 004200",
		"not a key value line",
		"END",
	}}
	s := newTestSession(conn, "!", CommandTable{
		"get_status": {Token: "F1GETSTATUS", Kind: KindInfo, Header: "STATUS1"},
	})
	require.NoError(t, s.Connect())

	resp, err := s.Query("get_status")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "not a key value line", perr.Line)
	// No partial block escapes.
	assert.Nil(t, resp.Info)
}

func TestSessionQueryUnknownCommand(t *testing.T) {
	s := newTestSession(&fakeConn{}, "", CommandTable{})
	require.NoError(t, s.Connect())

	_, err := s.Query("warp")
	var uerr *UnknownCommandError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "warp", uerr.Name)
}

func TestSessionQueryNotConnected(t *testing.T) {
	s := newTestSession(&fakeConn{}, "", CommandTable{
		"ping": {Token: "V", Kind: KindLine},
	})

	_, err := s.Query("ping")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionSendThenRead(t *testing.T) {
	conn := &fakeConn{lines: []string{"1.8"}}
	s := newTestSession(conn, "", CommandTable{
		"version": {Token: "FW1", Kind: KindLine},
	})
	require.NoError(t, s.Connect())

	// Send writes without reading; the caller drains the reply itself.
	require.NoError(t, s.Send("version"))
	assert.Equal(t, []string{"<FW1>"}, conn.writes)
	assert.Len(t, conn.lines, 1)

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "1.8", line)
}

func TestSessionSendUnknownCommand(t *testing.T) {
	s := newTestSession(&fakeConn{}, "", CommandTable{})
	require.NoError(t, s.Connect())

	var uerr *UnknownCommandError
	require.ErrorAs(t, s.Send("warp"), &uerr)
	assert.Equal(t, "warp", uerr.Name)
}

func TestSessionSendAndReadNotConnected(t *testing.T) {
	s := newTestSession(&fakeConn{}, "", CommandTable{
		"version": {Token: "FW1", Kind: KindLine},
	})

	assert.ErrorIs(t, s.Send("version"), ErrNotConnected)
	_, err := s.ReadLine()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionQueryNoResponse(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn, "!", CommandTable{
		"reset": {Token: "F1RESET", Kind: KindNone},
	})
	require.NoError(t, s.Connect())

	// A fire-and-forget command reads nothing back, not even the ack.
	resp, err := s.Query("reset")
	require.NoError(t, err)
	assert.Equal(t, Response{}, resp)
	assert.Equal(t, []string{"<F1RESET>"}, conn.writes)
}

func TestSessionConnectIsIdempotent(t *testing.T) {
	opens := 0
	open := func() (Conn, error) {
		opens++
		return &fakeConn{}, nil
	}
	s := NewSession(open, Wrapper{}, "", CommandTable{}, log.StandardLogger())

	require.NoError(t, s.Connect())
	require.NoError(t, s.Connect())
	assert.Equal(t, 1, opens)
	assert.True(t, s.Connected())
}

func TestSessionClose(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(conn, "", CommandTable{})
	require.NoError(t, s.Connect())

	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
	assert.False(t, s.Connected())
}
