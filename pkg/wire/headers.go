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
	"math"

	"golang.org/x/crypto/cryptobyte"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// Header is one HTTP field line. HTTP/3 field names and values are byte
// strings and may legally contain any octet, so both sides of the codec are
// length-delimited rather than terminated.
type Header struct {
	Name  []byte
	Value []byte
}

// HeaderList is an ordered field section. Order is preserved through the
// codec; HTTP semantics make repeated names meaningful.
type HeaderList []Header

// AppendHeaderList appends the encoded field section to dst:
// [count:2 BE] then per header [nameLen:2 BE][name][valueLen:2 BE][value].
// Lists longer than 65535 entries and fields longer than 65535 bytes do not
// fit the 16-bit prefixes and are rejected with ErrHeaderTooLong.
func AppendHeaderList(dst []byte, hdrs HeaderList) ([]byte, error) {
	if len(hdrs) > math.MaxUint16 {
		return dst, errorx.ErrHeaderTooLong
	}
	for _, h := range hdrs {
		if len(h.Name) > math.MaxUint16 || len(h.Value) > math.MaxUint16 {
			return dst, errorx.ErrHeaderTooLong
		}
	}

	b := cryptobyte.NewBuilder(dst)
	b.AddUint16(uint16(len(hdrs)))
	for _, h := range hdrs {
		b.AddUint16LengthPrefixed(func(c *cryptobyte.Builder) { c.AddBytes(h.Name) })
		b.AddUint16LengthPrefixed(func(c *cryptobyte.Builder) { c.AddBytes(h.Value) })
	}
	out, err := b.Bytes()
	if err != nil {
		return dst, errorx.ErrMalformedHeaderList
	}
	return out, nil
}

// EncodeHeaderList encodes hdrs into a fresh buffer.
func EncodeHeaderList(hdrs HeaderList) ([]byte, error) {
	return AppendHeaderList(nil, hdrs)
}

// DecodeHeaderList parses an encoded field section. The returned headers
// alias b. Trailing bytes after the last declared header are rejected.
func DecodeHeaderList(b []byte) (HeaderList, error) {
	s := cryptobyte.String(b)
	var count uint16
	if !s.ReadUint16(&count) {
		return nil, errorx.ErrMalformedHeaderList
	}
	hdrs := make(HeaderList, 0, count)
	for i := 0; i < int(count); i++ {
		var name, value cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&name) ||
			!s.ReadUint16LengthPrefixed(&value) {
			return nil, errorx.ErrMalformedHeaderList
		}
		hdrs = append(hdrs, Header{Name: name, Value: value})
	}
	if !s.Empty() {
		return nil, errorx.ErrMalformedHeaderList
	}
	return hdrs, nil
}
