package quicbind_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicbind/quicbind"
	"github.com/quicbind/quicbind/internal/enginetest"
	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// bindTransport creates a connection from the config handle and returns the
// transport parameters the engine was handed.
func bindTransport(t *testing.T, b *quicbind.Bridge, drv *enginetest.Driver, cfg quicbind.Handle) quicbind.TransportConfig {
	t.Helper()
	ctx, err := b.NewTLSContext(quicbind.RoleServer)
	require.NoError(t, err)
	sess, err := b.NewTLSSession(ctx)
	require.NoError(t, err)
	conn, err := b.NewConnection(cfg, sess, testSCID, nil, serverAddr, clientAddr)
	require.NoError(t, err)
	tc := drv.LastConn().Params.Transport
	require.NoError(t, b.Free(conn))
	require.NoError(t, b.Free(ctx))
	return tc
}

func TestTransportConfigDefaults(t *testing.T) {
	b, drv := newTestBridge(t)
	cfg, err := b.NewTransportConfig(quicbind.Version1)
	require.NoError(t, err)

	tc := bindTransport(t, b, drv, cfg)
	assert.Equal(t, quicbind.Version1, tc.Version)
	assert.Nil(t, tc.ApplicationProtos)
	assert.Equal(t, 30*time.Second, tc.MaxIdleTimeout)
	assert.EqualValues(t, 10_000_000, tc.InitialMaxData)
	assert.EqualValues(t, 1_000_000, tc.InitialMaxStreamDataBidiLocal)
	assert.EqualValues(t, 1_000_000, tc.InitialMaxStreamDataBidiRemote)
	assert.EqualValues(t, 1_000_000, tc.InitialMaxStreamDataUni)
	assert.EqualValues(t, 100, tc.InitialMaxStreamsBidi)
	assert.EqualValues(t, 100, tc.InitialMaxStreamsUni)
	assert.Equal(t, quicbind.CongestionCubic, tc.CongestionControl)
	assert.Equal(t, 1350, tc.MaxRecvUDPPayloadSize)
	assert.Equal(t, 1350, tc.MaxSendUDPPayloadSize)
}

func TestTransportConfigOptions(t *testing.T) {
	b, drv := newTestBridge(t)
	cfg, err := b.NewTransportConfig(quicbind.Version2,
		quicbind.WithApplicationProtocols(quicbind.Protocols("h3", "hq-interop")),
		quicbind.WithMaxIdleTimeout(5*time.Second),
		quicbind.WithInitialMaxData(1<<20),
		quicbind.WithInitialMaxStreamDataBidiLocal(1024),
		quicbind.WithInitialMaxStreamDataBidiRemote(2048),
		quicbind.WithInitialMaxStreamDataUni(4096),
		quicbind.WithInitialMaxStreamsBidi(8),
		quicbind.WithInitialMaxStreamsUni(3),
		quicbind.WithCongestionControl(quicbind.CongestionBBR),
		quicbind.WithMaxRecvUDPPayloadSize(1200),
		quicbind.WithMaxSendUDPPayloadSize(1452))
	require.NoError(t, err)

	tc := bindTransport(t, b, drv, cfg)
	assert.Equal(t, quicbind.Version2, tc.Version)
	assert.Equal(t, []byte("\x02h3\x0ahq-interop"), tc.ApplicationProtos)
	assert.Equal(t, 5*time.Second, tc.MaxIdleTimeout)
	assert.EqualValues(t, 1<<20, tc.InitialMaxData)
	assert.EqualValues(t, 1024, tc.InitialMaxStreamDataBidiLocal)
	assert.EqualValues(t, 2048, tc.InitialMaxStreamDataBidiRemote)
	assert.EqualValues(t, 4096, tc.InitialMaxStreamDataUni)
	assert.EqualValues(t, 8, tc.InitialMaxStreamsBidi)
	assert.EqualValues(t, 3, tc.InitialMaxStreamsUni)
	assert.Equal(t, quicbind.CongestionBBR, tc.CongestionControl)
	assert.Equal(t, 1200, tc.MaxRecvUDPPayloadSize)
	assert.Equal(t, 1452, tc.MaxSendUDPPayloadSize)
}

func TestTransportConfigUnsupportedVersion(t *testing.T) {
	b, _ := newTestBridge(t)
	_, err := b.NewTransportConfig(0x1a2a3a4a)
	assert.ErrorIs(t, err, errorx.ErrUnsupportedVersion)
	assert.Equal(t, 0, b.Live())
}

func TestTransportConfigBadALPN(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.NewTransportConfig(quicbind.Version1,
		quicbind.WithApplicationProtocols([][]byte{[]byte("h3"), nil}))
	assert.ErrorIs(t, err, errorx.ErrMalformedALPN)

	_, err = b.NewTransportConfig(quicbind.Version1,
		quicbind.WithApplicationProtocols([][]byte{bytes.Repeat([]byte("x"), 256)}))
	assert.ErrorIs(t, err, errorx.ErrMalformedALPN)

	assert.Equal(t, 0, b.Live())
}

func TestSessionConfigOptions(t *testing.T) {
	b, drv := newTestBridge(t)
	conn := newConn(t, b, quicbind.RoleServer)

	cfg, err := b.NewSessionConfig(
		quicbind.WithMaxFieldSectionSize(16384),
		quicbind.WithQPACKMaxTableCapacity(4096),
		quicbind.WithQPACKBlockedStreams(16))
	require.NoError(t, err)
	_, err = b.NewSession(cfg, conn)
	require.NoError(t, err)

	sc := drv.LastSession().Config
	assert.EqualValues(t, 16384, sc.MaxFieldSectionSize)
	assert.EqualValues(t, 4096, sc.QPACKMaxTableCapacity)
	assert.EqualValues(t, 16, sc.QPACKBlockedStreams)
}

func TestSessionConfigZeroDefers(t *testing.T) {
	b, drv := newTestBridge(t)
	conn := newConn(t, b, quicbind.RoleServer)

	cfg, err := b.NewSessionConfig()
	require.NoError(t, err)
	_, err = b.NewSession(cfg, conn)
	require.NoError(t, err)

	assert.Equal(t, quicbind.SessionConfig{}, drv.LastSession().Config)
}

func TestConfigHandleLifecycle(t *testing.T) {
	b, _ := newTestBridge(t)

	cfg, err := b.NewTransportConfig(quicbind.Version1)
	require.NoError(t, err)
	ctx, err := b.NewTLSContext(quicbind.RoleServer)
	require.NoError(t, err)
	sess, err := b.NewTLSSession(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Free(cfg))
	_, err = b.NewConnection(cfg, sess, testSCID, nil, serverAddr, clientAddr)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)

	// The failed bind must not have consumed the TLS session.
	assert.NoError(t, b.Free(sess))
}

func TestCongestionControlString(t *testing.T) {
	assert.Equal(t, "reno", quicbind.CongestionReno.String())
	assert.Equal(t, "cubic", quicbind.CongestionCubic.String())
	assert.Equal(t, "bbr", quicbind.CongestionBBR.String())
	assert.Equal(t, "unknown", quicbind.CongestionControl(9).String())
}
