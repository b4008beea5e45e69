package mount

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsctl/pkg/device"
	"obsctl/pkg/sim"
)

func newTestMount(t *testing.T) (*IOptron, *sim.Mount) {
	t.Helper()

	simMount := sim.NewMount(log.StandardLogger())
	open := func() (device.Conn, error) { return simMount, nil }

	m, err := NewIOptron(Config{}, open, log.StandardLogger())
	require.NoError(t, err)
	return m, simMount
}

func TestNewIOptronRequiresSlewCommand(t *testing.T) {
	opened := false
	open := func() (device.Conn, error) {
		opened = true
		return nil, errors.New("should not be called")
	}

	cfg := Config{Commands: map[string]string{"slew": ""}}
	_, err := NewIOptron(cfg, open, log.StandardLogger())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "slew")
	// Construction must fail before any transport is opened.
	assert.False(t, opened)
}

func TestNewIOptronCommandOverrides(t *testing.T) {
	cfg := Config{Commands: map[string]string{"slew": "GOTO"}}
	simMount := sim.NewMount(log.StandardLogger())
	open := func() (device.Conn, error) { return simMount, nil }

	m, err := NewIOptron(cfg, open, log.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, m.Connect())
	assert.True(t, m.Connected())
}

func TestConnect(t *testing.T) {
	m, _ := newTestMount(t)

	assert.False(t, m.Connected())
	require.NoError(t, m.Connect())
	assert.True(t, m.Connected())
	assert.Equal(t, "1.8", m.FirmwareVersion())

	// Already connected is a no-op.
	require.NoError(t, m.Connect())
	assert.True(t, m.Connected())
}

func TestConnectFailureStaysDisconnected(t *testing.T) {
	open := func() (device.Conn, error) {
		return nil, errors.New("port busy")
	}
	m, err := NewIOptron(Config{}, open, log.StandardLogger())
	require.NoError(t, err)

	assert.Error(t, m.Connect())
	assert.False(t, m.Connected())
}

func TestCheckSlewing(t *testing.T) {
	m, _ := newTestMount(t)
	require.NoError(t, m.Connect())

	slewing, err := m.CheckSlewing()
	require.NoError(t, err)
	assert.False(t, slewing)
	assert.False(t, m.Slewing())

	req := NewSlewRequest(Coordinates{HA: 2.5, Dec: -30.0})
	require.NoError(t, m.SlewToCoordinates(req))

	// The simulator reports motion for a fixed number of polls.
	slewing, err = m.CheckSlewing()
	require.NoError(t, err)
	assert.True(t, slewing)
	assert.True(t, m.Slewing())

	for i := 0; slewing && i < 10; i++ {
		slewing, err = m.CheckSlewing()
		require.NoError(t, err)
	}
	assert.False(t, slewing)
}

func TestSlewSetsCoordinates(t *testing.T) {
	m, _ := newTestMount(t)
	require.NoError(t, m.Connect())

	req := NewSlewRequest(Coordinates{HA: 1.25, Dec: 45.5})
	assert.Equal(t, DefaultRARate, req.RARate)
	assert.Equal(t, DefaultDecRate, req.DecRate)
	require.NoError(t, m.SlewToCoordinates(req))

	coords, err := m.CheckCoordinates()
	require.NoError(t, err)
	assert.InDelta(t, 1.25, coords.HA, 0.0001)
	assert.InDelta(t, 45.5, coords.Dec, 0.0001)
}

func TestSyncCoordinates(t *testing.T) {
	m, _ := newTestMount(t)
	require.NoError(t, m.Connect())

	require.NoError(t, m.SyncCoordinates(Coordinates{HA: -3.0, Dec: 12.0}))

	coords, err := m.CheckCoordinates()
	require.NoError(t, err)
	assert.InDelta(t, -3.0, coords.HA, 0.0001)
	assert.InDelta(t, 12.0, coords.Dec, 0.0001)
}

func TestSlewToPark(t *testing.T) {
	m, simMount := newTestMount(t)
	require.NoError(t, m.Connect())

	require.NoError(t, m.SlewToPark())
	assert.True(t, simMount.Parked())
}

func TestEcho(t *testing.T) {
	m, _ := newTestMount(t)
	require.NoError(t, m.Connect())

	reply, err := m.Echo("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
}

func TestCapabilities(t *testing.T) {
	m, _ := newTestMount(t)
	caps := m.Capabilities()
	assert.True(t, caps.CanSlew)
	assert.True(t, caps.CanPark)
	assert.True(t, caps.CanSync)
	assert.True(t, caps.CanEcho)
}

func TestQueryNotConnected(t *testing.T) {
	m, _ := newTestMount(t)

	_, err := m.CheckSlewing()
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestDisconnect(t *testing.T) {
	m, _ := newTestMount(t)
	require.NoError(t, m.Connect())
	require.NoError(t, m.Disconnect())
	assert.False(t, m.Connected())

	// Disconnecting a disconnected mount is a no-op.
	require.NoError(t, m.Disconnect())
}

// bareMount is a device family that declares no optional capabilities.
type bareMount struct {
	*Base
}

func TestBaseNotImplemented(t *testing.T) {
	session := device.NewSession(
		func() (device.Conn, error) { return sim.NewMount(log.StandardLogger()), nil },
		device.Wrapper{Pre: ":", Post: "#"},
		"",
		device.CommandTable{"slewing": {Token: "SE?", Kind: device.KindLine}},
		log.StandardLogger(),
	)
	m := bareMount{Base: newBase(session, log.StandardLogger())}

	assert.Equal(t, Capabilities{}, m.Capabilities())

	_, err := m.CheckCoordinates()
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, m.SyncCoordinates(Coordinates{}), ErrNotImplemented)
	assert.ErrorIs(t, m.SlewToCoordinates(SlewRequest{}), ErrNotImplemented)
	assert.ErrorIs(t, m.SlewToPark(), ErrNotImplemented)
	assert.ErrorIs(t, m.Ping(), ErrNotImplemented)
	_, err = m.Echo("x")
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestTruthy(t *testing.T) {
	assert.True(t, truthy("1"))
	assert.False(t, truthy("0"))
	assert.False(t, truthy(""))
}
