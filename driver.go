// Copyright (c) 2026 The Quicbind Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quicbind

import (
	"net/netip"
	"time"

	"github.com/quicbind/quicbind/pkg/wire"
)

// Driver adapts a concrete QUIC transport and HTTP/3 engine to the Bridge.
// The Bridge owns lifecycle and handle bookkeeping; the driver owns protocol
// state machines, congestion control and cryptography. Engine failures are
// reported as errorx.Status values (or errorx.StreamError for per-stream
// codes) and pass through the Bridge unmodified.
type Driver interface {
	// NewConn asks the engine for a connection bound to the given identity,
	// path and configuration snapshots.
	NewConn(params ConnParams) (Conn, error)

	// NewSession layers an HTTP/3 session over an established connection.
	NewSession(conn Conn, cfg SessionConfig) (Session, error)
}

// ConnParams carries everything the engine needs to set up one connection.
// The Transport and TLS values are snapshots owned by the connection; the
// Bridge never mutates them afterwards.
type ConnParams struct {
	// SCID is the locally chosen source connection ID.
	SCID []byte
	// ODCID is the original destination connection ID from a retried client
	// Initial, nil when no retry took place.
	ODCID []byte
	// Local and Peer identify the UDP path.
	Local netip.AddrPort
	Peer  netip.AddrPort
	// Transport is the transport parameter set for this connection.
	Transport TransportConfig
	// TLS is the per-connection TLS material cut from a context.
	TLS TLSParams
	// IsServer selects the server side of the handshake.
	IsServer bool
}

// Conn is one engine connection. Buffer arguments are borrowed for the
// duration of the call only; implementations must neither retain nor free
// them. Readable must return a slice the caller may keep until the next
// operation on the same connection.
type Conn interface {
	// Recv feeds one inbound datagram, read by the caller from from and
	// addressed to to. It returns the number of bytes consumed.
	Recv(buf []byte, from, to netip.AddrPort) (int, error)

	// Send fills buf with the next outgoing datagram and returns its length,
	// or errorx.StatusDone when nothing is pending.
	Send(buf []byte) (int, error)

	// StreamRecv copies readable stream data into buf and reports whether
	// the peer finished the stream. Abnormal termination carries the
	// stream-level code via errorx.StreamError.
	StreamRecv(streamID uint64, buf []byte) (int, bool, error)

	// StreamSend queues buf on the stream; fin marks end-of-stream. A
	// zero-length write with fin set is valid and still closes the stream.
	StreamSend(streamID uint64, buf []byte, fin bool) (int, error)

	// Readable lists the streams with pending readable data, in engine order.
	Readable() []uint64

	// Timeout reports the duration until the next protocol timer, zero or
	// negative when no timer is armed.
	Timeout() time.Duration

	// OnTimeout fires due protocol timers; a no-op when none are due.
	OnTimeout()

	IsEstablished() bool
	IsClosed() bool

	// PeerCert returns the peer's leaf certificate in DER form, nil before
	// the handshake completes or when the peer presented none.
	PeerCert() []byte

	// ApplicationProto returns the negotiated ALPN identifier, empty when
	// none was agreed.
	ApplicationProto() []byte

	// CipherSuite names the negotiated TLS 1.3 cipher suite.
	CipherSuite() string

	Close() error
}

// Session is one engine HTTP/3 session. Header slices handed to the send
// operations are borrowed for the call only.
type Session interface {
	// Poll returns the next session event, or errorx.StatusDone when the
	// event queue is drained. The returned event stays valid until its
	// Release.
	Poll(c Conn) (SessionEvent, error)

	// RecvBody copies request/response body bytes for the stream into buf.
	RecvBody(c Conn, streamID uint64, buf []byte) (int, error)

	// SendResponse writes a response header section on the stream; fin marks
	// the response as header-only.
	SendResponse(c Conn, streamID uint64, headers []wire.Header, fin bool) error

	// SendBody queues body bytes on the stream; zero-length with fin set is
	// a valid end-of-body signal.
	SendBody(c Conn, streamID uint64, buf []byte, fin bool) (int, error)

	// SendRequest opens a new request stream carrying the header section and
	// returns its stream ID.
	SendRequest(c Conn, headers []wire.Header, fin bool) (uint64, error)

	Close() error
}

// SessionEvent is one polled HTTP/3 event. The Bridge parks the live event
// in the session's slot and calls Release exactly once, on the next poll or
// on session free.
type SessionEvent interface {
	StreamID() uint64
	Kind() EventKind

	// ForEachHeader visits the event's header fields in order. The name and
	// value bytes are valid only inside fn. Only Headers-kind events carry
	// fields; on other kinds the iteration is empty.
	ForEachHeader(fn func(name, value []byte) error) error

	// Release returns the event to the engine. The event and everything
	// borrowed from it are invalid afterwards.
	Release()
}

// EventKind classifies a polled session event. The values mirror the engine
// event domain bit for bit.
type EventKind int32

const (
	// EventHeaders signals a complete header section on a stream.
	EventHeaders EventKind = 0
	// EventData signals readable body bytes on a stream.
	EventData EventKind = 1
	// EventFinished signals the peer finished the stream.
	EventFinished EventKind = 2
	// EventGoAway signals the peer is shutting the session down.
	EventGoAway EventKind = 3
	// EventReset signals the peer abruptly terminated the stream.
	EventReset EventKind = 4
	// EventUnknown covers engine events outside this domain.
	EventUnknown EventKind = -1
)

func (k EventKind) String() string {
	switch k {
	case EventHeaders:
		return "headers"
	case EventData:
		return "data"
	case EventFinished:
		return "finished"
	case EventGoAway:
		return "goaway"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is the caller-facing digest of a polled session event. The detail
// payload (the header fields) stays parked in the session slot and is read
// with Bridge.ReadHeaders while the slot still holds the event.
type Event struct {
	StreamID uint64
	Kind     EventKind
}
