// Copyright (c) 2026 The Quicbind Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines common errors and the engine status domain for quicbind.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocationFailure occurs when the engine fails to produce a new object.
	ErrAllocationFailure = errors.New("quicbind: engine allocation failed")
	// ErrInvalidHandle occurs when an operation is presented a stale, unknown,
	// already-freed, or wrong-kind handle.
	ErrInvalidHandle = errors.New("quicbind: invalid handle")
	// ErrBufferUnavailable occurs when a transfer operation is handed a buffer
	// region it cannot use, typically a nil or empty slice where payload bytes
	// are required.
	ErrBufferUnavailable = errors.New("quicbind: buffer region unavailable")
	// ErrEventStale occurs when event detail is read while the session's event
	// slot holds no live Headers event.
	ErrEventStale = errors.New("quicbind: cached event is stale or absent")
	// ErrMalformedEndpoint occurs when endpoint bytes fail to decode.
	ErrMalformedEndpoint = errors.New("quicbind: malformed endpoint encoding")
	// ErrMalformedPacket occurs when a datagram is too short or inconsistent
	// to carry a QUIC packet header.
	ErrMalformedPacket = errors.New("quicbind: malformed packet header")
	// ErrMalformedHeaderList occurs when header-list bytes fail to decode.
	ErrMalformedHeaderList = errors.New("quicbind: malformed header list encoding")
	// ErrMalformedALPN occurs when an ALPN protocol list is empty-entried,
	// oversized, or fails to decode.
	ErrMalformedALPN = errors.New("quicbind: malformed ALPN protocol list")
	// ErrHeaderTooLong occurs when a header name or value does not fit the
	// 16-bit length prefix of the header-list encoding.
	ErrHeaderTooLong = errors.New("quicbind: header field exceeds encodable length")
	// ErrTLSConfig occurs when credential loading or cipher/group configuration
	// is rejected.
	ErrTLSConfig = errors.New("quicbind: TLS configuration rejected")
	// ErrUnsupportedVersion occurs when a transport config is requested for a
	// protocol version this build does not speak.
	ErrUnsupportedVersion = errors.New("quicbind: unsupported protocol version")
	// ErrNilDriver occurs when a Bridge is constructed without an engine driver.
	ErrNilDriver = errors.New("quicbind: engine driver is nil")
	// ErrMuxClosed occurs when a datagram or dial is offered to a closed Mux.
	ErrMuxClosed = errors.New("quicbind: mux is closed")
	// ErrNilOutput occurs when a Mux is constructed without an output function.
	ErrNilOutput = errors.New("quicbind: mux output function is nil")
	// ErrInvalidConnIDLen occurs when a Mux is configured with a short-header
	// connection ID length outside 1..20.
	ErrInvalidConnIDLen = errors.New("quicbind: connection ID length out of range")
	// ErrNoNameservers occurs when no system nameserver could be discovered
	// on this platform.
	ErrNoNameservers = errors.New("quicbind: no system nameservers available")
)

// Status is the transport/HTTP engine's own numeric status domain. Values are
// passed through this layer unmodified; callers treat them as normal control
// flow, StatusDone in particular.
type Status int64

// Engine status codes.
const (
	// StatusDone reports that there is no more work to do.
	StatusDone Status = -1
	// StatusBufferTooShort reports that the provided buffer is too short.
	StatusBufferTooShort Status = -2
	// StatusUnknownVersion reports an unknown or unsupported protocol version.
	StatusUnknownVersion Status = -3
	// StatusInvalidFrame reports an invalid frame.
	StatusInvalidFrame Status = -4
	// StatusInvalidPacket reports an invalid packet.
	StatusInvalidPacket Status = -5
	// StatusInvalidState reports an operation invalid in the current state.
	StatusInvalidState Status = -6
	// StatusInvalidStreamState reports an operation invalid for the stream's state.
	StatusInvalidStreamState Status = -7
	// StatusInvalidTransportParam reports an invalid transport parameter.
	StatusInvalidTransportParam Status = -8
	// StatusCryptoFail reports a cryptographic operation failure.
	StatusCryptoFail Status = -9
	// StatusTLSFail reports a TLS handshake failure.
	StatusTLSFail Status = -10
	// StatusFlowControl reports a flow control limit violation.
	StatusFlowControl Status = -11
	// StatusStreamLimit reports a stream limit violation.
	StatusStreamLimit Status = -12
	// StatusFinalSize reports a final size violation.
	StatusFinalSize Status = -13
	// StatusCongestionControl reports a congestion control error.
	StatusCongestionControl Status = -14
	// StatusStreamStopped reports that the peer stopped reading the stream.
	StatusStreamStopped Status = -15
	// StatusStreamReset reports that the peer reset the stream.
	StatusStreamReset Status = -16
	// StatusIDLimit reports a connection ID limit violation.
	StatusIDLimit Status = -17
	// StatusOutOfIdentifiers reports that no more connection IDs are available.
	StatusOutOfIdentifiers Status = -18
	// StatusKeyUpdate reports a key update error.
	StatusKeyUpdate Status = -19
	// StatusCryptoBufferExceeded reports that the crypto buffer was exceeded.
	StatusCryptoBufferExceeded Status = -20
	// StatusInvalidAckRange reports an invalid ACK range.
	StatusInvalidAckRange Status = -21
	// StatusOptimisticAckDetected reports that an optimistic ACK was detected.
	StatusOptimisticAckDetected Status = -22
)

var statusStrings = map[Status]string{
	StatusDone:                  "done",
	StatusBufferTooShort:        "buffer too short",
	StatusUnknownVersion:        "unknown version",
	StatusInvalidFrame:          "invalid frame",
	StatusInvalidPacket:         "invalid packet",
	StatusInvalidState:          "invalid state",
	StatusInvalidStreamState:    "invalid stream state",
	StatusInvalidTransportParam: "invalid transport parameter",
	StatusCryptoFail:            "crypto failure",
	StatusTLSFail:               "TLS failure",
	StatusFlowControl:           "flow control violation",
	StatusStreamLimit:           "stream limit violation",
	StatusFinalSize:             "final size violation",
	StatusCongestionControl:     "congestion control error",
	StatusStreamStopped:         "stream stopped by peer",
	StatusStreamReset:           "stream reset by peer",
	StatusIDLimit:               "connection ID limit violation",
	StatusOutOfIdentifiers:      "out of connection identifiers",
	StatusKeyUpdate:             "key update error",
	StatusCryptoBufferExceeded:  "crypto buffer exceeded",
	StatusInvalidAckRange:       "invalid ACK range",
	StatusOptimisticAckDetected: "optimistic ACK detected",
}

func (s Status) String() string {
	if msg, ok := statusStrings[s]; ok {
		return msg
	}
	return fmt.Sprintf("engine status %d", int64(s))
}

// Error makes Status usable as an error value returned by boundary operations.
func (s Status) Error() string {
	return "quicbind: engine reported " + s.String()
}

// StreamError carries the stream-level numeric error code the engine reports
// when a stream terminates abnormally, e.g. the application error code of a
// reset, alongside the engine status that exposed it.
type StreamError struct {
	Status Status
	Code   uint64
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("quicbind: %s (stream error code %d)", e.Status.String(), e.Code)
}

// Unwrap exposes the underlying engine status to errors.Is.
func (e *StreamError) Unwrap() error {
	return e.Status
}
