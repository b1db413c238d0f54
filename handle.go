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

// HandleKind tags the object class a Handle refers to. Every registry slot
// stores the kind it was allocated for, so a handle of one kind can never be
// redeemed for an object of another.
type HandleKind uint8

const (
	// KindNone marks an empty slot and the zero Handle.
	KindNone HandleKind = iota
	// KindTransportConfig refers to a transport configuration value bag.
	KindTransportConfig
	// KindConnection refers to a live engine connection.
	KindConnection
	// KindSessionConfig refers to an HTTP session configuration value bag.
	KindSessionConfig
	// KindSession refers to a live HTTP session bound to a connection.
	KindSession
	// KindTLSContext refers to a TLS 1.3 context template.
	KindTLSContext
	// KindTLSSession refers to per-connection TLS material cut from a context.
	KindTLSSession

	kindMax
)

var kindNames = [kindMax]string{
	KindNone:            "none",
	KindTransportConfig: "transport-config",
	KindConnection:      "connection",
	KindSessionConfig:   "session-config",
	KindSession:         "session",
	KindTLSContext:      "tls-context",
	KindTLSSession:      "tls-session",
}

func (k HandleKind) String() string {
	if k >= kindMax {
		return "invalid"
	}
	return kindNames[k]
}

// Handle is the opaque token the Bridge hands out for every object it owns.
// It packs the object kind, the slot generation and the arena index into a
// single 64-bit value:
//
//	| kind  | generation | arena index |
//	| 8 bit |   24 bit   |   32 bit    |
//
// The generation counter advances each time a slot is vacated, so a handle
// kept past its Free rejects cleanly instead of aliasing whatever object
// was recycled into the slot. The zero Handle is never valid.
type Handle uint64

const (
	handleKindShift = 56
	handleGenShift  = 32
	handleGenMask   = 1<<24 - 1
	handleIndexMask = 1<<32 - 1
)

func newHandle(kind HandleKind, gen, index uint32) Handle {
	return Handle(uint64(kind)<<handleKindShift |
		uint64(gen&handleGenMask)<<handleGenShift |
		uint64(index))
}

// Kind reports the object class encoded in h.
func (h Handle) Kind() HandleKind {
	k := HandleKind(h >> handleKindShift)
	if k >= kindMax {
		return KindNone
	}
	return k
}

// Validate checks the static shape of h: a known non-zero kind. Whether the
// handle still names a live object is only decided by the registry.
func (h Handle) Validate() bool {
	k := HandleKind(h >> handleKindShift)
	return k > KindNone && k < kindMax
}

func (h Handle) generation() uint32 {
	return uint32(h>>handleGenShift) & handleGenMask
}

func (h Handle) index() uint32 {
	return uint32(h & handleIndexMask)
}
