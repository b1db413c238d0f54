package quicbind_test

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicbind/quicbind"
	"github.com/quicbind/quicbind/internal/enginetest"
	errorx "github.com/quicbind/quicbind/pkg/errors"
	"github.com/quicbind/quicbind/pkg/wire"
)

var (
	testDCID = []byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17}
	peerSCID = []byte{0x20, 0x21, 0x22, 0x23}
)

// initialPacket crafts the long-header prefix of a client Initial: enough
// for routing, no payload.
func initialPacket(version uint32, dcid, scid []byte) []byte {
	first := byte(0xc3)
	if version == quicbind.Version2 {
		first = 0xd3
	}
	pkt := []byte{first}
	pkt = binary.BigEndian.AppendUint32(pkt, version)
	pkt = append(pkt, byte(len(dcid)))
	pkt = append(pkt, dcid...)
	pkt = append(pkt, byte(len(scid)))
	pkt = append(pkt, scid...)
	pkt = append(pkt, 0x00) // empty token
	return pkt
}

func shortPacket(dcid []byte) []byte {
	return append([]byte{0x40}, dcid...)
}

type sentPkt struct {
	payload []byte
	to      netip.AddrPort
}

// muxEnv is one Bridge+Mux fixture with recording callbacks.
type muxEnv struct {
	bridge   *quicbind.Bridge
	drv      *enginetest.Driver
	mux      *quicbind.Mux
	ctx      quicbind.Handle
	sent     []sentPkt
	accepted []quicbind.Handle
	closed   []quicbind.Handle
}

func newMuxEnv(t *testing.T, role quicbind.Role) *muxEnv {
	t.Helper()
	env := &muxEnv{drv: &enginetest.Driver{}}
	b, err := quicbind.NewBridge(env.drv)
	require.NoError(t, err)
	env.bridge = b

	cfg, err := b.NewTransportConfig(quicbind.Version1)
	require.NoError(t, err)
	env.ctx, err = b.NewTLSContext(role)
	require.NoError(t, err)

	env.mux, err = quicbind.NewMux(b, quicbind.MuxConfig{
		Configs:    map[uint32]quicbind.Handle{quicbind.Version1: cfg},
		TLSContext: env.ctx,
		Output: func(pkt []byte, to netip.AddrPort) error {
			env.sent = append(env.sent, sentPkt{payload: append([]byte(nil), pkt...), to: to})
			return nil
		},
		Accepted: func(conn quicbind.Handle) { env.accepted = append(env.accepted, conn) },
		Closed:   func(conn quicbind.Handle) { env.closed = append(env.closed, conn) },
	})
	require.NoError(t, err)
	return env
}

func TestNewMuxValidation(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := quicbind.NewMux(b, quicbind.MuxConfig{})
	assert.ErrorIs(t, err, errorx.ErrNilOutput)

	output := func([]byte, netip.AddrPort) error { return nil }
	_, err = quicbind.NewMux(b, quicbind.MuxConfig{Output: output, ConnIDLen: 21})
	assert.ErrorIs(t, err, errorx.ErrInvalidConnIDLen)
	_, err = quicbind.NewMux(b, quicbind.MuxConfig{Output: output, ConnIDLen: -1})
	assert.ErrorIs(t, err, errorx.ErrInvalidConnIDLen)

	m, err := quicbind.NewMux(b, quicbind.MuxConfig{Output: output})
	require.NoError(t, err)
	assert.Zero(t, m.Len())
}

func TestMuxAccept(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)
	env.drv.OnNewConn = func(c *enginetest.Conn) {
		c.QueueDatagram([]byte("server initial"))
	}

	conn, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	require.NotZero(t, conn)
	assert.Equal(t, []quicbind.Handle{conn}, env.accepted)
	assert.Equal(t, 1, env.mux.Len())

	engine := env.drv.LastConn()
	assert.True(t, engine.Params.IsServer)
	assert.Len(t, engine.Params.SCID, wire.MaxConnIDLen)
	require.Len(t, engine.Inbound, 1)
	assert.Equal(t, clientAddr, engine.Inbound[0].From)
	assert.Equal(t, serverAddr, engine.Inbound[0].To)

	// The produced flight went back to the client.
	require.Len(t, env.sent, 1)
	assert.Equal(t, []byte("server initial"), env.sent[0].payload)
	assert.Equal(t, clientAddr, env.sent[0].to)
}

func TestMuxRoutesBothConnectionIDs(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)

	conn, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	engine := env.drv.LastConn()

	// Long headers keyed by the client-chosen destination ID.
	again, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	assert.Equal(t, conn, again)
	assert.Len(t, engine.Inbound, 2)

	// Short headers keyed by the server-chosen source ID.
	again, err = env.mux.HandleDatagram(shortPacket(engine.Params.SCID), clientAddr, serverAddr)
	require.NoError(t, err)
	assert.Equal(t, conn, again)
	assert.Len(t, engine.Inbound, 3)

	assert.Equal(t, 1, env.mux.Len())
	assert.Len(t, env.drv.Conns, 1, "no second connection was created")
}

func TestMuxVersionNegotiation(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)

	conn, err := env.mux.HandleDatagram(initialPacket(0x1a2a3a4a, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	assert.Zero(t, conn)
	assert.Zero(t, env.mux.Len())
	assert.Empty(t, env.drv.Conns)

	require.Len(t, env.sent, 1)
	assert.Equal(t, clientAddr, env.sent[0].to)

	reply := env.sent[0].payload
	hdr, err := wire.ParsePacketHeader(reply, wire.MaxConnIDLen)
	require.NoError(t, err)
	assert.Equal(t, wire.PacketVersionNegotiation, hdr.Type)
	assert.Equal(t, peerSCID, hdr.DCID, "reply goes back to the peer's source ID")
	assert.Equal(t, testDCID, hdr.SCID)

	// The reply advertises both supported versions.
	tail := reply[len(reply)-8:]
	assert.Equal(t, wire.Version1, binary.BigEndian.Uint32(tail[:4]))
	assert.Equal(t, wire.Version2, binary.BigEndian.Uint32(tail[4:]))
}

func TestMuxDropsUnroutable(t *testing.T) {
	t.Run("short-header-unknown", func(t *testing.T) {
		env := newMuxEnv(t, quicbind.RoleServer)
		conn, err := env.mux.HandleDatagram(shortPacket(make([]byte, wire.MaxConnIDLen)), clientAddr, serverAddr)
		require.NoError(t, err)
		assert.Zero(t, conn)
		assert.Empty(t, env.sent)
	})

	t.Run("version-negotiation-packet", func(t *testing.T) {
		env := newMuxEnv(t, quicbind.RoleServer)
		vn, err := wire.AppendVersionNegotiation(nil, peerSCID, testDCID)
		require.NoError(t, err)
		conn, err := env.mux.HandleDatagram(vn, clientAddr, serverAddr)
		require.NoError(t, err)
		assert.Zero(t, conn)
		assert.Empty(t, env.sent, "never answer version negotiation with version negotiation")
	})

	t.Run("no-tls-context", func(t *testing.T) {
		b, _ := newTestBridge(t)
		cfg, err := b.NewTransportConfig(quicbind.Version1)
		require.NoError(t, err)
		m, err := quicbind.NewMux(b, quicbind.MuxConfig{
			Configs: map[uint32]quicbind.Handle{quicbind.Version1: cfg},
			Output:  func([]byte, netip.AddrPort) error { return nil },
		})
		require.NoError(t, err)
		conn, err := m.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
		require.NoError(t, err)
		assert.Zero(t, conn)
	})

	t.Run("client-role-context", func(t *testing.T) {
		env := newMuxEnv(t, quicbind.RoleClient)
		conn, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
		require.NoError(t, err)
		assert.Zero(t, conn)
		assert.Empty(t, env.drv.Conns)
	})

	t.Run("malformed", func(t *testing.T) {
		env := newMuxEnv(t, quicbind.RoleServer)
		_, err := env.mux.HandleDatagram(nil, clientAddr, serverAddr)
		assert.ErrorIs(t, err, errorx.ErrMalformedPacket)
		_, err = env.mux.HandleDatagram([]byte{0xc3, 0x00}, clientAddr, serverAddr)
		assert.ErrorIs(t, err, errorx.ErrMalformedPacket)
	})
}

func TestMuxSweepsClosedConnection(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)
	env.drv.OnNewConn = func(c *enginetest.Conn) {
		c.CloseAfterRecv = true
	}

	conn, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	require.NotZero(t, conn)

	assert.Zero(t, env.mux.Len())
	assert.Equal(t, []quicbind.Handle{conn}, env.closed)
	assert.Equal(t, 1, env.drv.LastConn().CloseCalls)
	assert.ErrorIs(t, env.bridge.Free(conn), errorx.ErrInvalidHandle, "swept handles are already freed")
}

func TestMuxReceiveError(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)
	engineErr := errors.New("engine choked")
	env.drv.OnNewConn = func(c *enginetest.Conn) {
		c.RecvErr = engineErr
	}

	conn, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	assert.ErrorIs(t, err, engineErr)
	assert.NotZero(t, conn)
	assert.Equal(t, 1, env.mux.Len(), "a receive error does not drop the connection")

	// A done engine is not an error.
	env.drv.LastConn().RecvErr = nil
	_, err = env.mux.HandleDatagram(shortPacket(env.drv.LastConn().Params.SCID), clientAddr, serverAddr)
	assert.NoError(t, err)
}

func TestMuxConnect(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleClient)
	env.drv.OnNewConn = func(c *enginetest.Conn) {
		c.QueueDatagram([]byte("client initial 1"))
		c.QueueDatagram([]byte("client initial 2"))
	}

	conn, err := env.mux.Connect(clientAddr, serverAddr, "quicbind.test", quicbind.Version1)
	require.NoError(t, err)
	require.NotZero(t, conn)
	assert.Equal(t, 1, env.mux.Len())

	params := env.drv.LastConn().Params
	assert.False(t, params.IsServer)
	assert.Len(t, params.SCID, wire.MaxConnIDLen)
	assert.Equal(t, "quicbind.test", params.TLS.ServerName)
	assert.Equal(t, clientAddr, params.Local)
	assert.Equal(t, serverAddr, params.Peer)

	// The Initial flight was flushed at dial time.
	require.Len(t, env.sent, 2)
	assert.Equal(t, []byte("client initial 1"), env.sent[0].payload)
	assert.Equal(t, serverAddr, env.sent[0].to)
	assert.Equal(t, serverAddr, env.sent[1].to)

	// Inbound short headers route to the dialed connection.
	again, err := env.mux.HandleDatagram(shortPacket(params.SCID), serverAddr, clientAddr)
	require.NoError(t, err)
	assert.Equal(t, conn, again)
}

func TestMuxConnectRejections(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleClient)
	_, err := env.mux.Connect(clientAddr, serverAddr, "", quicbind.Version2)
	assert.ErrorIs(t, err, errorx.ErrUnsupportedVersion)

	srv := newMuxEnv(t, quicbind.RoleServer)
	_, err = srv.mux.Connect(clientAddr, serverAddr, "", quicbind.Version1)
	assert.ErrorIs(t, err, errorx.ErrTLSConfig)
	assert.Zero(t, srv.mux.Len())
}

func TestMuxTimeouts(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)

	_, found := env.mux.NextTimeout()
	assert.False(t, found)

	var n int
	env.drv.OnNewConn = func(c *enginetest.Conn) {
		n++
		if n == 1 {
			c.TimeoutIn = 50 * time.Millisecond
		} else {
			c.TimeoutIn = 10 * time.Millisecond
			c.CloseOnTimeout = true
		}
	}
	_, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	otherDCID := []byte{0x99, 0x98, 0x97, 0x96, 0x95, 0x94, 0x93, 0x92}
	_, err = env.mux.HandleDatagram(initialPacket(quicbind.Version1, otherDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	require.Equal(t, 2, env.mux.Len())

	d, found := env.mux.NextTimeout()
	assert.True(t, found)
	assert.Equal(t, 10*time.Millisecond, d)

	require.NoError(t, env.mux.OnTimeout())
	assert.Equal(t, 1, env.drv.Conns[0].TimeoutFired)
	assert.Equal(t, 1, env.drv.Conns[1].TimeoutFired)
	assert.Equal(t, 1, env.mux.Len(), "the idle connection timed out and was swept")
	assert.Len(t, env.closed, 1)

	_, found = env.mux.NextTimeout()
	assert.False(t, found, "fired timers disarm")
}

func TestMuxFlushAll(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)
	_, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)
	require.Empty(t, env.sent)

	engine := env.drv.LastConn()
	engine.QueueDatagram([]byte("handshake"))
	engine.QueueDatagram([]byte("1-rtt"))
	require.NoError(t, env.mux.FlushAll())

	require.Len(t, env.sent, 2)
	assert.Equal(t, []byte("handshake"), env.sent[0].payload)
	assert.Equal(t, []byte("1-rtt"), env.sent[1].payload)
}

func TestMuxClose(t *testing.T) {
	env := newMuxEnv(t, quicbind.RoleServer)
	conn, err := env.mux.HandleDatagram(initialPacket(quicbind.Version1, testDCID, peerSCID), clientAddr, serverAddr)
	require.NoError(t, err)

	require.NoError(t, env.mux.Close())
	assert.Zero(t, env.mux.Len())
	assert.Equal(t, []quicbind.Handle{conn}, env.closed)
	assert.Equal(t, 1, env.drv.LastConn().CloseCalls)

	_, err = env.mux.HandleDatagram(shortPacket(testDCID), clientAddr, serverAddr)
	assert.ErrorIs(t, err, errorx.ErrMuxClosed)
	_, err = env.mux.Connect(clientAddr, serverAddr, "", quicbind.Version1)
	assert.ErrorIs(t, err, errorx.ErrMuxClosed)
	assert.ErrorIs(t, env.mux.FlushAll(), errorx.ErrMuxClosed)
	assert.ErrorIs(t, env.mux.OnTimeout(), errorx.ErrMuxClosed)

	assert.NoError(t, env.mux.Close(), "closing twice is fine")
}
