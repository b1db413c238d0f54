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
	"encoding/binary"
	"net/netip"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// Endpoint encoding family bytes.
const (
	familyIPv4 = 4
	familyIPv6 = 6
)

// MaxEndpointLen is the longest encoded endpoint, an IPv6 one.
const MaxEndpointLen = 1 + 2 + 16

// AppendEndpoint appends the binary form of ep to dst and returns the
// extended slice. Layout: [family:1][port:2 BE][addr:4|16] with family byte 4
// or 6. IPv4-mapped IPv6 addresses are folded to their IPv4 form.
func AppendEndpoint(dst []byte, ep netip.AddrPort) ([]byte, error) {
	addr := ep.Addr()
	switch {
	case addr.Is4() || addr.Is4In6():
		a4 := addr.Unmap().As4()
		dst = append(dst, familyIPv4)
		dst = binary.BigEndian.AppendUint16(dst, ep.Port())
		return append(dst, a4[:]...), nil
	case addr.Is6():
		a16 := addr.As16()
		dst = append(dst, familyIPv6)
		dst = binary.BigEndian.AppendUint16(dst, ep.Port())
		return append(dst, a16[:]...), nil
	default:
		return dst, errorx.ErrMalformedEndpoint
	}
}

// EncodeEndpoint returns the binary form of ep in a fresh slice.
func EncodeEndpoint(ep netip.AddrPort) ([]byte, error) {
	return AppendEndpoint(make([]byte, 0, MaxEndpointLen), ep)
}

// DecodeEndpoint parses an encoded endpoint. Inputs shorter than the family's
// fixed size, longer than it, or carrying an unrecognized family byte are
// rejected with ErrMalformedEndpoint.
func DecodeEndpoint(b []byte) (netip.AddrPort, error) {
	if len(b) < 3 {
		return netip.AddrPort{}, errorx.ErrMalformedEndpoint
	}
	port := binary.BigEndian.Uint16(b[1:3])
	switch b[0] {
	case familyIPv4:
		if len(b) != 3+4 {
			return netip.AddrPort{}, errorx.ErrMalformedEndpoint
		}
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(b[3:7])), port), nil
	case familyIPv6:
		if len(b) != 3+16 {
			return netip.AddrPort{}, errorx.ErrMalformedEndpoint
		}
		return netip.AddrPortFrom(netip.AddrFrom16([16]byte(b[3:19])), port), nil
	default:
		return netip.AddrPort{}, errorx.ErrMalformedEndpoint
	}
}
