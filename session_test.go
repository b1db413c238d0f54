package quicbind_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quicbind/quicbind"
	"github.com/quicbind/quicbind/internal/enginetest"
	errorx "github.com/quicbind/quicbind/pkg/errors"
	"github.com/quicbind/quicbind/pkg/wire"
)

func TestNewSessionBadHandles(t *testing.T) {
	b, _ := newTestBridge(t)
	conn := newConn(t, b, quicbind.RoleServer)
	cfg, err := b.NewSessionConfig()
	require.NoError(t, err)

	_, err = b.NewSession(0, conn)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
	_, err = b.NewSession(cfg, 0)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
	_, err = b.NewSession(conn, cfg)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
}

func TestPollDigests(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)
	engine := drv.LastSession()

	engine.PushEvent(&enginetest.Event{Stream: 0, Type: quicbind.EventHeaders})
	engine.PushEvent(&enginetest.Event{Stream: 0, Type: quicbind.EventData})
	engine.PushEvent(&enginetest.Event{Stream: 4, Type: quicbind.EventReset})

	want := []quicbind.Event{
		{StreamID: 0, Kind: quicbind.EventHeaders},
		{StreamID: 0, Kind: quicbind.EventData},
		{StreamID: 4, Kind: quicbind.EventReset},
	}
	for _, w := range want {
		ev, err := b.Poll(sess, conn)
		require.NoError(t, err)
		assert.Equal(t, w, ev)
	}

	_, err := b.Poll(sess, conn)
	assert.ErrorIs(t, err, errorx.StatusDone)
}

func TestPollReleasesPreviousEvent(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)
	engine := drv.LastSession()

	ev1 := &enginetest.Event{Stream: 0, Type: quicbind.EventHeaders, Fields: enginetest.Fields("k", "v")}
	ev2 := &enginetest.Event{Stream: 0, Type: quicbind.EventData}
	engine.PushEvent(ev1)
	engine.PushEvent(ev2)

	_, err := b.Poll(sess, conn)
	require.NoError(t, err)
	assert.Zero(t, ev1.Released, "the parked event stays live")

	_, err = b.Poll(sess, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, ev1.Released)
	assert.Zero(t, ev2.Released)

	// A drained queue releases the parked event too.
	_, err = b.Poll(sess, conn)
	assert.ErrorIs(t, err, errorx.StatusDone)
	assert.Equal(t, 1, ev2.Released)

	// No event parked, nothing to double-release.
	require.NoError(t, b.Free(sess))
	assert.Equal(t, 1, ev1.Released)
	assert.Equal(t, 1, ev2.Released)
}

func TestReadHeaders(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)
	engine := drv.LastSession()

	ev := &enginetest.Event{
		Stream: 0,
		Type:   quicbind.EventHeaders,
		Fields: []wire.Header{
			{Name: []byte(":method"), Value: []byte("POST")},
			{Name: []byte("set-cookie"), Value: []byte("a=1")},
			{Name: []byte("set-cookie"), Value: []byte("b=2")},
			{Name: []byte("x-empty"), Value: nil},
		},
	}
	engine.PushEvent(ev)
	_, err := b.Poll(sess, conn)
	require.NoError(t, err)

	hdrs, err := b.ReadHeaders(sess)
	require.NoError(t, err)
	require.Len(t, hdrs, 4)
	assert.Equal(t, []byte(":method"), hdrs[0].Name)
	assert.Equal(t, []byte("POST"), hdrs[0].Value)
	assert.Equal(t, []byte("a=1"), hdrs[1].Value)
	assert.Equal(t, []byte("b=2"), hdrs[2].Value)
	assert.Empty(t, hdrs[3].Value)

	// The decode is cached: a second read must not walk the event again.
	ev.HeaderErr = errors.New("re-iterated a consumed event")
	again, err := b.ReadHeaders(sess)
	require.NoError(t, err)
	assert.Equal(t, hdrs, again)
}

func TestReadHeadersFollowsLatestEvent(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)
	engine := drv.LastSession()

	first := &enginetest.Event{Stream: 0, Type: quicbind.EventHeaders, Fields: enginetest.Fields(":path", "/old")}
	second := &enginetest.Event{Stream: 4, Type: quicbind.EventHeaders, Fields: enginetest.Fields(":path", "/new")}
	engine.PushEvent(first)
	engine.PushEvent(second)

	_, err := b.Poll(sess, conn)
	require.NoError(t, err)
	hdrs, err := b.ReadHeaders(sess)
	require.NoError(t, err)
	require.Len(t, hdrs, 1)
	assert.Equal(t, []byte("/old"), hdrs[0].Value)

	// The next poll swaps the slot: reads now see the new event only.
	_, err = b.Poll(sess, conn)
	require.NoError(t, err)
	hdrs, err = b.ReadHeaders(sess)
	require.NoError(t, err)
	require.Len(t, hdrs, 1)
	assert.Equal(t, []byte("/new"), hdrs[0].Value)
	assert.Equal(t, 1, first.Released)
}

func TestReadHeadersStale(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)
	engine := drv.LastSession()

	// Nothing polled yet.
	_, err := b.ReadHeaders(sess)
	assert.ErrorIs(t, err, errorx.ErrEventStale)

	// A non-Headers event is parked.
	engine.PushEvent(&enginetest.Event{Stream: 0, Type: quicbind.EventData})
	_, err = b.Poll(sess, conn)
	require.NoError(t, err)
	_, err = b.ReadHeaders(sess)
	assert.ErrorIs(t, err, errorx.ErrEventStale)

	// A Headers event goes stale once the next poll replaces it.
	engine.PushEvent(&enginetest.Event{Stream: 0, Type: quicbind.EventHeaders, Fields: enginetest.Fields("k", "v")})
	engine.PushEvent(&enginetest.Event{Stream: 0, Type: quicbind.EventFinished})
	_, err = b.Poll(sess, conn)
	require.NoError(t, err)
	_, err = b.ReadHeaders(sess)
	require.NoError(t, err)
	_, err = b.Poll(sess, conn)
	require.NoError(t, err)
	_, err = b.ReadHeaders(sess)
	assert.ErrorIs(t, err, errorx.ErrEventStale)

	// And once the queue drains.
	_, err = b.Poll(sess, conn)
	assert.ErrorIs(t, err, errorx.StatusDone)
	_, err = b.ReadHeaders(sess)
	assert.ErrorIs(t, err, errorx.ErrEventStale)
}

func TestReadHeadersCollectFailure(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)

	iterErr := errors.New("field section too large")
	drv.LastSession().PushEvent(&enginetest.Event{
		Stream:      0,
		Type:        quicbind.EventHeaders,
		Fields:      enginetest.Fields("a", "1", "b", "2", "c", "3"),
		HeaderErr:   iterErr,
		HeaderErrAt: 1,
	})
	_, err := b.Poll(sess, conn)
	require.NoError(t, err)

	_, err = b.ReadHeaders(sess)
	assert.ErrorIs(t, err, iterErr)

	// The failure is not cached as a decode; a retry hits the event again.
	_, err = b.ReadHeaders(sess)
	assert.ErrorIs(t, err, iterErr)
}

func TestReceiveBody(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)
	engine := drv.LastSession()
	engine.FeedBody(0, []byte("a body of exactly 33 characters!!"))

	buf := make([]byte, 20)
	n, err := b.ReceiveBody(sess, conn, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	n, err = b.ReceiveBody(sess, conn, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	_, err = b.ReceiveBody(sess, conn, 0, buf)
	assert.ErrorIs(t, err, errorx.StatusDone)
	_, err = b.ReceiveBody(sess, conn, 4, buf)
	assert.ErrorIs(t, err, errorx.StatusDone)

	_, err = b.ReceiveBody(sess, conn, 0, nil)
	assert.ErrorIs(t, err, errorx.ErrBufferUnavailable)
}

// Body reads must not disturb the parked Headers event.
func TestReceiveBodyKeepsEventSlot(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)
	engine := drv.LastSession()

	ev := &enginetest.Event{Stream: 0, Type: quicbind.EventHeaders, Fields: enginetest.Fields(":method", "PUT")}
	engine.PushEvent(ev)
	engine.FeedBody(0, []byte("payload"))

	_, err := b.Poll(sess, conn)
	require.NoError(t, err)
	n, err := b.ReceiveBody(sess, conn, 0, make([]byte, 32))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	hdrs, err := b.ReadHeaders(sess)
	require.NoError(t, err)
	require.Len(t, hdrs, 1)
	assert.Zero(t, ev.Released)
}

func TestSendResponse(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)

	hdrs := enginetest.Fields(":status", "404", "content-length", "0")
	require.NoError(t, b.SendResponse(sess, conn, 8, hdrs, true))

	engine := drv.LastSession()
	require.Len(t, engine.Responses, 1)
	resp := engine.Responses[0]
	assert.EqualValues(t, 8, resp.StreamID)
	assert.Equal(t, hdrs, resp.Headers)
	assert.True(t, resp.Fin)
}

func TestSendBody(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)

	n, err := b.SendBody(sess, conn, 0, []byte("chunk"), false)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Zero-length with fin closes out the body.
	n, err = b.SendBody(sess, conn, 0, nil, true)
	require.NoError(t, err)
	assert.Zero(t, n)

	engine := drv.LastSession()
	require.Len(t, engine.Bodies, 2)
	assert.Equal(t, []byte("chunk"), engine.Bodies[0].Payload)
	assert.False(t, engine.Bodies[0].Fin)
	assert.Empty(t, engine.Bodies[1].Payload)
	assert.True(t, engine.Bodies[1].Fin)
}

func TestSendRequest(t *testing.T) {
	b, drv := newTestBridge(t)
	sess, conn := newSessionPair(t, b)

	id, err := b.SendRequest(sess, conn, enginetest.Fields(":method", "GET", ":path", "/a"), true)
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)
	id, err = b.SendRequest(sess, conn, enginetest.Fields(":method", "GET", ":path", "/b"), true)
	require.NoError(t, err)
	assert.EqualValues(t, 4, id)

	engine := drv.LastSession()
	require.Len(t, engine.Requests, 2)
	assert.Equal(t, []byte("/a"), engine.Requests[0].Headers[1].Value)
	assert.Equal(t, []byte("/b"), engine.Requests[1].Headers[1].Value)
}

func TestSessionOpsOnWrongHandles(t *testing.T) {
	b, _ := newTestBridge(t)
	sess, conn := newSessionPair(t, b)

	_, err := b.Poll(conn, conn)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
	_, err = b.Poll(sess, sess)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
	_, err = b.ReceiveBody(sess, sess, 0, make([]byte, 8))
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
	err = b.SendResponse(conn, conn, 0, nil, false)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
	_, err = b.SendRequest(0, conn, nil, false)
	assert.ErrorIs(t, err, errorx.ErrInvalidHandle)
}

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind quicbind.EventKind
		want string
	}{
		{quicbind.EventHeaders, "headers"},
		{quicbind.EventData, "data"},
		{quicbind.EventFinished, "finished"},
		{quicbind.EventGoAway, "goaway"},
		{quicbind.EventReset, "reset"},
		{quicbind.EventUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
