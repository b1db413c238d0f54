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
	"golang.org/x/crypto/cryptobyte"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// AppendALPN appends the protocol list in TLS ALPN wire form to dst: each
// entry as [len:1][bytes]. Empty entries and entries over 255 bytes are not
// representable and are rejected.
func AppendALPN(dst []byte, protos [][]byte) ([]byte, error) {
	for _, p := range protos {
		if len(p) == 0 || len(p) > 255 {
			return dst, errorx.ErrMalformedALPN
		}
	}
	b := cryptobyte.NewBuilder(dst)
	for _, p := range protos {
		p := p
		b.AddUint8LengthPrefixed(func(c *cryptobyte.Builder) { c.AddBytes(p) })
	}
	out, err := b.Bytes()
	if err != nil {
		return dst, errorx.ErrMalformedALPN
	}
	return out, nil
}

// EncodeALPN encodes protos into a fresh buffer.
func EncodeALPN(protos [][]byte) ([]byte, error) {
	return AppendALPN(nil, protos)
}

// DecodeALPN parses a TLS ALPN protocol list. Entries are copied out of b so
// the result does not alias transient handshake buffers.
func DecodeALPN(b []byte) ([][]byte, error) {
	s := cryptobyte.String(b)
	var protos [][]byte
	for !s.Empty() {
		var entry cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&entry) || len(entry) == 0 {
			return nil, errorx.ErrMalformedALPN
		}
		protos = append(protos, append([]byte(nil), entry...))
	}
	return protos, nil
}
