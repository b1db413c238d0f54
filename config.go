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
	"time"

	errorx "github.com/quicbind/quicbind/pkg/errors"
	"github.com/quicbind/quicbind/pkg/wire"
)

// Supported QUIC versions, re-exported from pkg/wire for callers that only
// deal in handles.
const (
	Version1 = wire.Version1
	Version2 = wire.Version2
)

// CongestionControl selects the engine's congestion control algorithm. The
// values mirror the engine's algorithm domain bit for bit.
type CongestionControl int

const (
	CongestionReno  CongestionControl = 0
	CongestionCubic CongestionControl = 1
	CongestionBBR   CongestionControl = 2
)

func (cc CongestionControl) String() string {
	switch cc {
	case CongestionReno:
		return "reno"
	case CongestionCubic:
		return "cubic"
	case CongestionBBR:
		return "bbr"
	default:
		return "unknown"
	}
}

// Transport parameter defaults applied by NewTransportConfig.
const (
	DefaultMaxIdleTimeout       = 30 * time.Second
	DefaultInitialMaxData       = 10_000_000
	DefaultInitialMaxStreamData = 1_000_000
	DefaultInitialMaxStreams    = 100
	DefaultMaxUDPPayloadSize    = 1350
)

// TransportConfig is the transport parameter set a connection is created
// with. The Bridge stores it behind a handle and hands the engine a copy,
// so a connection's parameters never change after creation.
type TransportConfig struct {
	// Version is the QUIC version the connection will speak.
	Version uint32

	// ApplicationProtos is the ALPN protocol list in TLS wire form
	// ([len:1][bytes] per entry), the shape engines consume it in.
	ApplicationProtos []byte

	MaxIdleTimeout time.Duration

	InitialMaxData uint64

	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64

	InitialMaxStreamsBidi uint64
	InitialMaxStreamsUni  uint64

	CongestionControl CongestionControl

	MaxRecvUDPPayloadSize int
	MaxSendUDPPayloadSize int

	// err is staged by an option that cannot apply its value and reported
	// by NewTransportConfig.
	err error
}

// TransportOption is a function that sets up one transport parameter.
type TransportOption func(cfg *TransportConfig)

// WithApplicationProtocols sets the ALPN protocol list offered on the
// connection. The table is encoded to the TLS wire form; an empty entry or
// one over 255 bytes fails NewTransportConfig with ErrMalformedALPN.
func WithApplicationProtocols(protos [][]byte) TransportOption {
	return func(cfg *TransportConfig) {
		enc, err := wire.EncodeALPN(protos)
		if err != nil {
			if cfg.err == nil {
				cfg.err = err
			}
			return
		}
		cfg.ApplicationProtos = enc
	}
}

// WithMaxIdleTimeout sets the idle timeout after which the engine drops the
// connection.
func WithMaxIdleTimeout(d time.Duration) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.MaxIdleTimeout = d
	}
}

// WithInitialMaxData sets the connection-wide flow control limit.
func WithInitialMaxData(n uint64) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.InitialMaxData = n
	}
}

// WithInitialMaxStreamDataBidiLocal sets the flow control limit for
// locally-initiated bidirectional streams.
func WithInitialMaxStreamDataBidiLocal(n uint64) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.InitialMaxStreamDataBidiLocal = n
	}
}

// WithInitialMaxStreamDataBidiRemote sets the flow control limit for
// peer-initiated bidirectional streams.
func WithInitialMaxStreamDataBidiRemote(n uint64) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.InitialMaxStreamDataBidiRemote = n
	}
}

// WithInitialMaxStreamDataUni sets the flow control limit for
// unidirectional streams.
func WithInitialMaxStreamDataUni(n uint64) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.InitialMaxStreamDataUni = n
	}
}

// WithInitialMaxStreamsBidi sets how many bidirectional streams the peer
// may open.
func WithInitialMaxStreamsBidi(n uint64) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.InitialMaxStreamsBidi = n
	}
}

// WithInitialMaxStreamsUni sets how many unidirectional streams the peer
// may open.
func WithInitialMaxStreamsUni(n uint64) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.InitialMaxStreamsUni = n
	}
}

// WithCongestionControl selects the congestion control algorithm.
func WithCongestionControl(cc CongestionControl) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.CongestionControl = cc
	}
}

// WithMaxRecvUDPPayloadSize caps the UDP payload size the engine accepts.
func WithMaxRecvUDPPayloadSize(n int) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.MaxRecvUDPPayloadSize = n
	}
}

// WithMaxSendUDPPayloadSize caps the UDP payload size the engine produces.
// The Mux sizes its flush scratch buffers from this value.
func WithMaxSendUDPPayloadSize(n int) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.MaxSendUDPPayloadSize = n
	}
}

// NewTransportConfig registers a transport parameter set for the given QUIC
// version and returns its handle. Unlisted parameters keep the defaults:
// 30 s idle timeout, 10 MB connection flow control, 1 MB per stream, 100
// streams of each kind, Cubic, 1350-byte UDP payloads both directions.
func (b *Bridge) NewTransportConfig(version uint32, opts ...TransportOption) (Handle, error) {
	if !wire.IsVersionSupported(version) {
		return 0, errorx.ErrUnsupportedVersion
	}
	cfg := TransportConfig{
		Version:                        version,
		MaxIdleTimeout:                 DefaultMaxIdleTimeout,
		InitialMaxData:                 DefaultInitialMaxData,
		InitialMaxStreamDataBidiLocal:  DefaultInitialMaxStreamData,
		InitialMaxStreamDataBidiRemote: DefaultInitialMaxStreamData,
		InitialMaxStreamDataUni:        DefaultInitialMaxStreamData,
		InitialMaxStreamsBidi:          DefaultInitialMaxStreams,
		InitialMaxStreamsUni:           DefaultInitialMaxStreams,
		CongestionControl:              CongestionCubic,
		MaxRecvUDPPayloadSize:          DefaultMaxUDPPayloadSize,
		MaxSendUDPPayloadSize:          DefaultMaxUDPPayloadSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.err != nil {
		return 0, cfg.err
	}
	return b.reg.put(KindTransportConfig, &cfg), nil
}

func (b *Bridge) transportConfig(h Handle) (*TransportConfig, error) {
	v, err := b.reg.resolve(h, KindTransportConfig)
	if err != nil {
		return nil, err
	}
	return v.(*TransportConfig), nil
}

// SessionConfig is the HTTP/3 session parameter set. Zero values defer to
// the engine's own defaults.
type SessionConfig struct {
	MaxFieldSectionSize   uint64
	QPACKMaxTableCapacity uint64
	QPACKBlockedStreams   uint64
}

// SessionOption is a function that sets up one HTTP/3 session parameter.
type SessionOption func(cfg *SessionConfig)

// WithMaxFieldSectionSize caps the size of a header section the engine
// accepts from the peer.
func WithMaxFieldSectionSize(n uint64) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.MaxFieldSectionSize = n
	}
}

// WithQPACKMaxTableCapacity sets the QPACK dynamic table capacity.
func WithQPACKMaxTableCapacity(n uint64) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.QPACKMaxTableCapacity = n
	}
}

// WithQPACKBlockedStreams sets how many streams may block on QPACK updates.
func WithQPACKBlockedStreams(n uint64) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.QPACKBlockedStreams = n
	}
}

// NewSessionConfig registers an HTTP/3 session parameter set and returns
// its handle.
func (b *Bridge) NewSessionConfig(opts ...SessionOption) (Handle, error) {
	var cfg SessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return b.reg.put(KindSessionConfig, &cfg), nil
}

func (b *Bridge) sessionConfig(h Handle) (*SessionConfig, error) {
	v, err := b.reg.resolve(h, KindSessionConfig)
	if err != nil {
		return nil, err
	}
	return v.(*SessionConfig), nil
}
