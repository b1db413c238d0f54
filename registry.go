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
	"sync"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// slot is one arena cell. The generation survives vacancy: it is bumped when
// the payload is taken, so the next occupant mints handles the old ones
// cannot match.
type slot struct {
	kind    HandleKind
	gen     uint32
	payload any
}

// registry is the handle arena backing a Bridge. Slots are recycled through
// a LIFO free list. The lock only guards the arena shape and slot headers;
// the payloads themselves follow the single-caller-per-handle rule, so
// operations on distinct handles may run concurrently.
type registry struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
}

// put stores payload in a vacant slot and mints its handle.
func (r *registry) put(kind HandleKind, payload any) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot{gen: 1})
		idx = uint32(len(r.slots) - 1)
	}
	s := &r.slots[idx]
	s.kind = kind
	s.payload = payload
	return newHandle(kind, s.gen, idx)
}

// resolve returns the payload h names, verifying kind and generation.
func (r *registry) resolve(h Handle, kind HandleKind) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.lookup(h, kind)
	if err != nil {
		return nil, err
	}
	return s.payload, nil
}

// take vacates the slot h names and returns its payload. The slot generation
// is bumped so h (and any copy of it) goes stale immediately.
func (r *registry) take(h Handle, kind HandleKind) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(h, kind)
	if err != nil {
		return nil, err
	}
	payload := s.payload
	s.kind = KindNone
	s.payload = nil
	s.gen = (s.gen + 1) & handleGenMask
	r.free = append(r.free, h.index())
	return payload, nil
}

// lookup locates the live slot behind h. Callers hold r.mu.
func (r *registry) lookup(h Handle, kind HandleKind) (*slot, error) {
	if h.Kind() != kind || kind == KindNone {
		return nil, errorx.ErrInvalidHandle
	}
	idx := h.index()
	if idx >= uint32(len(r.slots)) {
		return nil, errorx.ErrInvalidHandle
	}
	s := &r.slots[idx]
	if s.kind != kind || s.gen != h.generation() {
		return nil, errorx.ErrInvalidHandle
	}
	return s, nil
}

// len counts live slots.
func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots) - len(r.free)
}
