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
	errorx "github.com/quicbind/quicbind/pkg/errors"
	bsPool "github.com/quicbind/quicbind/pkg/pool/byteslice"
	"github.com/quicbind/quicbind/pkg/wire"
)

// session is the registry payload behind a KindSession handle.
type session struct {
	sess Session
	slot eventSlot
}

// eventSlot caches the last polled engine event. Exactly one event is live
// per session; the next Poll, or the session's Free, releases it together
// with any decoded header storage borrowed from the byteslice pool.
type eventSlot struct {
	ev      SessionEvent
	kind    EventKind
	stream  uint64
	headers wire.HeaderList
	decoded bool
}

func (s *eventSlot) release() {
	if s.ev == nil {
		return
	}
	releaseHeaderList(s.headers)
	s.ev.Release()
	*s = eventSlot{}
}

// NewSession layers an engine HTTP/3 session over an established
// connection and returns its handle. The session keeps its own event slot;
// poll it from one goroutine only.
func (b *Bridge) NewSession(cfg, conn Handle) (Handle, error) {
	sc, err := b.sessionConfig(cfg)
	if err != nil {
		return 0, err
	}
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	drvSess, err := b.driver.NewSession(c.conn, *sc)
	if err != nil {
		return 0, err
	}
	return b.reg.put(KindSession, &session{sess: drvSess}), nil
}

func (b *Bridge) sessionPayload(h Handle) (*session, error) {
	v, err := b.reg.resolve(h, KindSession)
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

// Poll releases the session's cached event, then asks the engine for the
// next one. errorx.StatusDone reports a drained event queue, leaving the
// slot empty. Otherwise the raw event is parked in the slot and its digest
// returned; Headers-kind detail is read with ReadHeaders while the slot
// still holds the event.
func (b *Bridge) Poll(session, conn Handle) (Event, error) {
	s, err := b.sessionPayload(session)
	if err != nil {
		return Event{}, err
	}
	c, err := b.connPayload(conn)
	if err != nil {
		return Event{}, err
	}

	s.slot.release()
	ev, err := s.sess.Poll(c.conn)
	if err != nil {
		return Event{}, err
	}
	s.slot.ev = ev
	s.slot.kind = ev.Kind()
	s.slot.stream = ev.StreamID()
	if b.debugging() {
		b.logger().Debugf("session polled %s event on stream %d", s.slot.kind, s.slot.stream)
	}
	return Event{StreamID: s.slot.stream, Kind: s.slot.kind}, nil
}

// ReadHeaders returns the header fields of the event currently parked in
// the session's slot, valid only while that event is Headers-kind;
// otherwise ErrEventStale. The list, including every name and value byte
// slice, is borrowed from the slot: it lives until the next Poll or Free on
// the session. Repeated reads return the same decoded list.
func (b *Bridge) ReadHeaders(session Handle) (wire.HeaderList, error) {
	s, err := b.sessionPayload(session)
	if err != nil {
		return nil, err
	}
	if s.slot.ev == nil || s.slot.kind != EventHeaders {
		return nil, errorx.ErrEventStale
	}
	if s.slot.decoded {
		return s.slot.headers, nil
	}
	hdrs, err := collectHeaders(s.slot.ev)
	if err != nil {
		return nil, err
	}
	s.slot.headers = hdrs
	s.slot.decoded = true
	return hdrs, nil
}

// collectHeaders drains the event's header callback into a list whose
// name/value storage comes from the byteslice pool. A mid-iteration failure
// returns every slice collected so far to the pool before reporting.
func collectHeaders(ev SessionEvent) (wire.HeaderList, error) {
	var hdrs wire.HeaderList
	err := ev.ForEachHeader(func(name, value []byte) error {
		n := bsPool.Get(len(name))
		copy(n, name)
		v := bsPool.Get(len(value))
		copy(v, value)
		hdrs = append(hdrs, wire.Header{Name: n, Value: v})
		return nil
	})
	if err != nil {
		releaseHeaderList(hdrs)
		return nil, err
	}
	return hdrs, nil
}

func releaseHeaderList(hdrs wire.HeaderList) {
	for i := range hdrs {
		bsPool.Put(hdrs[i].Name)
		bsPool.Put(hdrs[i].Value)
	}
}

// ReceiveBody copies body bytes from the stream into buf. It does not
// touch the event slot, so a cached Headers event stays readable.
func (b *Bridge) ReceiveBody(session, conn Handle, streamID uint64, buf []byte) (int, error) {
	s, err := b.sessionPayload(session)
	if err != nil {
		return 0, err
	}
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, errorx.ErrBufferUnavailable
	}
	return s.sess.RecvBody(c.conn, streamID, buf)
}

// SendResponse writes a response header section on the stream; fin marks
// the response as header-only. The header list is borrowed for the call.
func (b *Bridge) SendResponse(session, conn Handle, streamID uint64, headers wire.HeaderList, fin bool) error {
	s, err := b.sessionPayload(session)
	if err != nil {
		return err
	}
	c, err := b.connPayload(conn)
	if err != nil {
		return err
	}
	return s.sess.SendResponse(c.conn, streamID, headers, fin)
}

// SendBody queues body bytes on the stream; a zero-length buf with fin set
// is a valid end-of-body signal. It returns how many bytes the engine
// accepted.
func (b *Bridge) SendBody(session, conn Handle, streamID uint64, buf []byte, fin bool) (int, error) {
	s, err := b.sessionPayload(session)
	if err != nil {
		return 0, err
	}
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	return s.sess.SendBody(c.conn, streamID, buf, fin)
}

// SendRequest opens a new request stream carrying the header section and
// returns its stream ID. The header list is borrowed for the call.
func (b *Bridge) SendRequest(session, conn Handle, headers wire.HeaderList, fin bool) (uint64, error) {
	s, err := b.sessionPayload(session)
	if err != nil {
		return 0, err
	}
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	return s.sess.SendRequest(c.conn, headers, fin)
}
