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

package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/cryptobyte"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// Protocol versions this build speaks.
const (
	Version1 uint32 = 0x00000001
	Version2 uint32 = 0x6b3343cf
)

// MaxConnIDLen is the longest connection ID generated here and assumed for
// short-header parsing; RFC 9000 caps connection IDs at 20 bytes.
const MaxConnIDLen = 20

// MaxTokenLen is the fixed token capacity of the flat header-info layout.
// MarshalBinary truncates longer tokens to this bound; the truncation is a
// deliberate, visible property of the layout, not silent loss during parsing.
const MaxTokenLen = 64

// PacketType identifies the QUIC packet type reported by header parsing,
// with numeric parity to the engine's packet-type domain.
type PacketType uint8

// Packet types.
const (
	// PacketUnknown marks a long header whose version this build cannot
	// interpret type bits for.
	PacketUnknown PacketType = 0
	// PacketInitial is the first flight of a new connection.
	PacketInitial PacketType = 1
	// PacketRetry carries a retry token from the server.
	PacketRetry PacketType = 2
	// PacketHandshake carries handshake crypto data.
	PacketHandshake PacketType = 3
	// PacketZeroRTT carries early application data.
	PacketZeroRTT PacketType = 4
	// PacketShort is a 1-RTT short-header packet.
	PacketShort PacketType = 5
	// PacketVersionNegotiation is a version negotiation reply.
	PacketVersionNegotiation PacketType = 6
)

func (t PacketType) String() string {
	switch t {
	case PacketInitial:
		return "Initial"
	case PacketRetry:
		return "Retry"
	case PacketHandshake:
		return "Handshake"
	case PacketZeroRTT:
		return "0-RTT"
	case PacketShort:
		return "Short"
	case PacketVersionNegotiation:
		return "VersionNegotiation"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// HeaderInfo is the metadata parsed from the start of a QUIC datagram: enough
// for a demultiplexer to route the packet to a connection or decide on
// version negotiation, nothing more. DCID, SCID, and Token alias the parsed
// or decoded input.
type HeaderInfo struct {
	Version uint32
	Type    PacketType
	DCID    []byte
	SCID    []byte
	Token   []byte
}

const headerFormLong = 0x80

// ParsePacketHeader reads the version-independent header of the QUIC packet
// at the start of pkt. Long headers carry their connection ID lengths on the
// wire; short headers do not, so shortCIDLen tells the parser how many DCID
// bytes this deployment uses. Short headers report Version 0 and type Short;
// version negotiation packets are recognized by version 0 on a long header.
// For long headers of versions this build does not speak, connection IDs are
// still extracted (so the caller can respond) but Type is PacketUnknown.
func ParsePacketHeader(pkt []byte, shortCIDLen int) (HeaderInfo, error) {
	if shortCIDLen < 0 || shortCIDLen > MaxConnIDLen {
		return HeaderInfo{}, errorx.ErrMalformedPacket
	}
	if len(pkt) == 0 {
		return HeaderInfo{}, errorx.ErrMalformedPacket
	}

	first := pkt[0]
	if first&headerFormLong == 0 {
		if len(pkt) < 1+shortCIDLen {
			return HeaderInfo{}, errorx.ErrMalformedPacket
		}
		return HeaderInfo{
			Type: PacketShort,
			DCID: pkt[1 : 1+shortCIDLen],
		}, nil
	}

	s := cryptobyte.String(pkt[1:])
	var h HeaderInfo
	var dcid, scid cryptobyte.String
	if !s.ReadUint32(&h.Version) ||
		!s.ReadUint8LengthPrefixed(&dcid) ||
		!s.ReadUint8LengthPrefixed(&scid) {
		return HeaderInfo{}, errorx.ErrMalformedPacket
	}
	h.DCID, h.SCID = dcid, scid

	if h.Version == 0 {
		h.Type = PacketVersionNegotiation
		return h, nil
	}

	supported := IsVersionSupported(h.Version)
	if supported && (len(h.DCID) > MaxConnIDLen || len(h.SCID) > MaxConnIDLen) {
		return HeaderInfo{}, errorx.ErrMalformedPacket
	}

	h.Type = longPacketType(h.Version, first)
	switch h.Type {
	case PacketInitial:
		tokenLen, ok := readVarint(&s)
		if !ok || uint64(len(s)) < tokenLen {
			return HeaderInfo{}, errorx.ErrMalformedPacket
		}
		h.Token = s[:tokenLen]
	case PacketRetry:
		// The retry integrity tag occupies the last 16 bytes; everything
		// between the header and the tag is the token.
		if len(s) < 16 {
			return HeaderInfo{}, errorx.ErrMalformedPacket
		}
		h.Token = s[:len(s)-16]
	}
	return h, nil
}

// longPacketType maps the version-specific type bits of a long header.
// Version 1 uses Initial/0-RTT/Handshake/Retry in bit order; version 2
// rotates the codes by one.
func longPacketType(version uint32, first byte) PacketType {
	bits := first >> 4 & 0b11
	switch version {
	case Version1:
		switch bits {
		case 0b00:
			return PacketInitial
		case 0b01:
			return PacketZeroRTT
		case 0b10:
			return PacketHandshake
		default:
			return PacketRetry
		}
	case Version2:
		switch bits {
		case 0b00:
			return PacketRetry
		case 0b01:
			return PacketInitial
		case 0b10:
			return PacketZeroRTT
		default:
			return PacketHandshake
		}
	default:
		return PacketUnknown
	}
}

// readVarint consumes one QUIC variable-length integer: the two high bits of
// the first byte give the encoding length.
func readVarint(s *cryptobyte.String) (uint64, bool) {
	var first uint8
	if !s.ReadUint8(&first) {
		return 0, false
	}
	v := uint64(first & 0x3f)
	for i := 1; i < 1<<(first>>6); i++ {
		var b uint8
		if !s.ReadUint8(&b) {
			return 0, false
		}
		v = v<<8 | uint64(b)
	}
	return v, true
}

// MarshalBinary encodes h into the flat boundary layout:
// [version:4 BE][type:1][dcidLen:1][dcid][scidLen:1][scid][tokenLen:1][token].
// Tokens longer than MaxTokenLen are truncated to MaxTokenLen. Connection IDs
// longer than 255 bytes cannot be represented and are rejected.
func (h HeaderInfo) MarshalBinary() ([]byte, error) {
	if len(h.DCID) > math.MaxUint8 || len(h.SCID) > math.MaxUint8 {
		return nil, errorx.ErrMalformedPacket
	}
	token := h.Token
	if len(token) > MaxTokenLen {
		token = token[:MaxTokenLen]
	}

	var b cryptobyte.Builder
	b.AddUint32(h.Version)
	b.AddUint8(uint8(h.Type))
	b.AddUint8LengthPrefixed(func(c *cryptobyte.Builder) { c.AddBytes(h.DCID) })
	b.AddUint8LengthPrefixed(func(c *cryptobyte.Builder) { c.AddBytes(h.SCID) })
	b.AddUint8LengthPrefixed(func(c *cryptobyte.Builder) { c.AddBytes(token) })
	out, err := b.Bytes()
	if err != nil {
		return nil, errorx.ErrMalformedPacket
	}
	return out, nil
}

// DecodeHeaderInfo parses the flat boundary layout back into a HeaderInfo.
// Trailing bytes are rejected.
func DecodeHeaderInfo(b []byte) (HeaderInfo, error) {
	s := cryptobyte.String(b)
	var h HeaderInfo
	var typ uint8
	var dcid, scid, token cryptobyte.String
	if !s.ReadUint32(&h.Version) ||
		!s.ReadUint8(&typ) ||
		!s.ReadUint8LengthPrefixed(&dcid) ||
		!s.ReadUint8LengthPrefixed(&scid) ||
		!s.ReadUint8LengthPrefixed(&token) ||
		!s.Empty() {
		return HeaderInfo{}, errorx.ErrMalformedPacket
	}
	h.Type = PacketType(typ)
	h.DCID, h.SCID, h.Token = dcid, scid, token
	return h, nil
}

// IsVersionSupported reports whether this build can negotiate the given
// protocol version.
func IsVersionSupported(version uint32) bool {
	switch version {
	case Version1, Version2:
		return true
	default:
		return false
	}
}

// AppendVersionNegotiation appends a version negotiation datagram to dst,
// replying to a peer whose long header carried the given scid and dcid: the
// peer's source ID becomes the reply's destination ID and vice versa. The
// datagram advertises every version IsVersionSupported accepts.
func AppendVersionNegotiation(dst, scid, dcid []byte) ([]byte, error) {
	if len(scid) > math.MaxUint8 || len(dcid) > math.MaxUint8 {
		return dst, errorx.ErrMalformedPacket
	}
	dst = append(dst, 0xc0)
	dst = binary.BigEndian.AppendUint32(dst, 0)
	dst = append(dst, byte(len(scid)))
	dst = append(dst, scid...)
	dst = append(dst, byte(len(dcid)))
	dst = append(dst, dcid...)
	dst = binary.BigEndian.AppendUint32(dst, Version1)
	dst = binary.BigEndian.AppendUint32(dst, Version2)
	return dst, nil
}

// NewConnectionID returns a fresh random connection ID of MaxConnIDLen bytes.
func NewConnectionID() ([]byte, error) {
	cid := make([]byte, MaxConnIDLen)
	if _, err := rand.Read(cid); err != nil {
		return nil, fmt.Errorf("quicbind: generating connection ID: %w", err)
	}
	return cid, nil
}
