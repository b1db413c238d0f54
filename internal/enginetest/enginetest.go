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

// Package enginetest is a scripted in-memory engine for the package tests.
// Connections and sessions behave exactly as the fields the test sets up
// front dictate; nothing here touches a network.
package enginetest

import (
	"net/netip"
	"time"

	"github.com/quicbind/quicbind"
	"github.com/quicbind/quicbind/pkg/buffer/ring"
	errorx "github.com/quicbind/quicbind/pkg/errors"
	"github.com/quicbind/quicbind/pkg/wire"
)

// Driver hands out scripted connections and sessions and records what was
// created, in order.
type Driver struct {
	// ConnErr fails NewConn while set.
	ConnErr error
	// SessionErr fails NewSession while set.
	SessionErr error
	// OnNewConn, when set, scripts each connection right after creation.
	OnNewConn func(*Conn)

	Conns    []*Conn
	Sessions []*Session
}

func (d *Driver) NewConn(params quicbind.ConnParams) (quicbind.Conn, error) {
	if d.ConnErr != nil {
		return nil, d.ConnErr
	}
	c := NewConn(params)
	if d.OnNewConn != nil {
		d.OnNewConn(c)
	}
	d.Conns = append(d.Conns, c)
	return c, nil
}

func (d *Driver) NewSession(conn quicbind.Conn, cfg quicbind.SessionConfig) (quicbind.Session, error) {
	if d.SessionErr != nil {
		return nil, d.SessionErr
	}
	s := &Session{Conn: conn.(*Conn), Config: cfg}
	d.Sessions = append(d.Sessions, s)
	return s, nil
}

// LastConn returns the most recently created connection.
func (d *Driver) LastConn() *Conn {
	return d.Conns[len(d.Conns)-1]
}

// LastSession returns the most recently created session.
func (d *Driver) LastSession() *Session {
	return d.Sessions[len(d.Sessions)-1]
}

// Datagram records one datagram a connection consumed.
type Datagram struct {
	Payload []byte
	From    netip.AddrPort
	To      netip.AddrPort
}

type stream struct {
	buf     *ring.Buffer
	fin     bool
	recvErr error
	sent    []byte
	finSent bool
}

// Conn is one scripted engine connection.
type Conn struct {
	Params quicbind.ConnParams

	// RecvErr forces Recv to fail while set.
	RecvErr error
	// Inbound records every datagram Recv consumed.
	Inbound []Datagram
	// EstablishAfter marks the connection established once that many
	// datagrams were received; zero leaves establishment to the test.
	EstablishAfter int
	// CloseAfterRecv marks the connection closed by the next Recv.
	CloseAfterRecv bool

	// Outbound is the FIFO queue of datagrams Send hands out.
	Outbound [][]byte

	// ReadableIDs is what Readable reports, verbatim.
	ReadableIDs []uint64

	// TimeoutIn is the scripted timer deadline; zero or negative means no
	// timer is armed.
	TimeoutIn time.Duration
	// TimeoutFired counts OnTimeout invocations.
	TimeoutFired int
	// CloseOnTimeout makes OnTimeout close the connection.
	CloseOnTimeout bool

	Established bool
	Closed      bool
	CloseCalls  int

	Cert   []byte
	Proto  []byte
	Cipher string

	streams map[uint64]*stream
}

// NewConn builds a scripted connection outside a Driver, for tests that
// need one directly.
func NewConn(params quicbind.ConnParams) *Conn {
	return &Conn{Params: params}
}

func (c *Conn) stream(id uint64) *stream {
	if c.streams == nil {
		c.streams = make(map[uint64]*stream)
	}
	st, ok := c.streams[id]
	if !ok {
		st = &stream{buf: ring.New(1024)}
		c.streams[id] = st
	}
	return st
}

// FeedStream queues readable bytes on the stream; fin marks the peer's end
// of stream.
func (c *Conn) FeedStream(id uint64, data []byte, fin bool) {
	st := c.stream(id)
	_, _ = st.buf.Write(data)
	if fin {
		st.fin = true
	}
}

// FailStream scripts StreamRecv on the stream to fail with err.
func (c *Conn) FailStream(id uint64, err error) {
	c.stream(id).recvErr = err
}

// SentOn reports what StreamSend wrote on the stream and whether fin was
// sent.
func (c *Conn) SentOn(id uint64) ([]byte, bool) {
	st := c.stream(id)
	return st.sent, st.finSent
}

// QueueDatagram queues one outgoing datagram for Send to hand out.
func (c *Conn) QueueDatagram(pkt []byte) {
	c.Outbound = append(c.Outbound, append([]byte(nil), pkt...))
}

func (c *Conn) Recv(buf []byte, from, to netip.AddrPort) (int, error) {
	if c.RecvErr != nil {
		return 0, c.RecvErr
	}
	c.Inbound = append(c.Inbound, Datagram{
		Payload: append([]byte(nil), buf...),
		From:    from,
		To:      to,
	})
	if c.EstablishAfter > 0 && len(c.Inbound) >= c.EstablishAfter {
		c.Established = true
	}
	if c.CloseAfterRecv {
		c.Closed = true
	}
	return len(buf), nil
}

func (c *Conn) Send(buf []byte) (int, error) {
	if len(c.Outbound) == 0 {
		return 0, errorx.StatusDone
	}
	pkt := c.Outbound[0]
	if len(buf) < len(pkt) {
		return 0, errorx.StatusBufferTooShort
	}
	c.Outbound = c.Outbound[1:]
	return copy(buf, pkt), nil
}

func (c *Conn) StreamRecv(id uint64, buf []byte) (int, bool, error) {
	st := c.stream(id)
	if st.recvErr != nil {
		return 0, false, st.recvErr
	}
	var n int
	if !st.buf.IsEmpty() {
		n, _ = st.buf.Read(buf)
	}
	return n, st.fin && st.buf.IsEmpty(), nil
}

func (c *Conn) StreamSend(id uint64, buf []byte, fin bool) (int, error) {
	st := c.stream(id)
	st.sent = append(st.sent, buf...)
	if fin {
		st.finSent = true
	}
	return len(buf), nil
}

func (c *Conn) Readable() []uint64 {
	return append([]uint64(nil), c.ReadableIDs...)
}

func (c *Conn) Timeout() time.Duration {
	return c.TimeoutIn
}

func (c *Conn) OnTimeout() {
	c.TimeoutFired++
	c.TimeoutIn = 0
	if c.CloseOnTimeout {
		c.Closed = true
	}
}

func (c *Conn) IsEstablished() bool { return c.Established }

func (c *Conn) IsClosed() bool { return c.Closed }

func (c *Conn) PeerCert() []byte { return c.Cert }

func (c *Conn) ApplicationProto() []byte { return c.Proto }

func (c *Conn) CipherSuite() string { return c.Cipher }

func (c *Conn) Close() error {
	c.CloseCalls++
	c.Closed = true
	return nil
}

// Response records one SendResponse call.
type Response struct {
	StreamID uint64
	Headers  []wire.Header
	Fin      bool
}

// BodyWrite records one SendBody call.
type BodyWrite struct {
	StreamID uint64
	Payload  []byte
	Fin      bool
}

// Request records one SendRequest call.
type Request struct {
	StreamID uint64
	Headers  []wire.Header
	Fin      bool
}

// Session is one scripted engine HTTP/3 session.
type Session struct {
	Conn   *Conn
	Config quicbind.SessionConfig

	// Events is the FIFO queue Poll hands out; a drained queue reports
	// StatusDone.
	Events []*Event
	// PollErr forces Poll to fail while set.
	PollErr error

	Responses []Response
	Bodies    []BodyWrite
	Requests  []Request

	// NextStreamID seeds the stream IDs SendRequest returns; it advances
	// by 4, the way client-initiated bidirectional stream IDs do.
	NextStreamID uint64

	CloseCalls int

	bodies map[uint64]*ring.Buffer
}

// PushEvent queues a scripted event for Poll.
func (s *Session) PushEvent(ev *Event) {
	s.Events = append(s.Events, ev)
}

// FeedBody queues readable body bytes on the stream.
func (s *Session) FeedBody(id uint64, data []byte) {
	if s.bodies == nil {
		s.bodies = make(map[uint64]*ring.Buffer)
	}
	rb, ok := s.bodies[id]
	if !ok {
		rb = ring.New(1024)
		s.bodies[id] = rb
	}
	_, _ = rb.Write(data)
}

func (s *Session) Poll(quicbind.Conn) (quicbind.SessionEvent, error) {
	if s.PollErr != nil {
		return nil, s.PollErr
	}
	if len(s.Events) == 0 {
		return nil, errorx.StatusDone
	}
	ev := s.Events[0]
	s.Events = s.Events[1:]
	return ev, nil
}

func (s *Session) RecvBody(_ quicbind.Conn, id uint64, buf []byte) (int, error) {
	rb, ok := s.bodies[id]
	if !ok || rb.IsEmpty() {
		return 0, errorx.StatusDone
	}
	return rb.Read(buf)
}

func (s *Session) SendResponse(_ quicbind.Conn, id uint64, headers []wire.Header, fin bool) error {
	s.Responses = append(s.Responses, Response{StreamID: id, Headers: copyHeaders(headers), Fin: fin})
	return nil
}

func (s *Session) SendBody(_ quicbind.Conn, id uint64, buf []byte, fin bool) (int, error) {
	s.Bodies = append(s.Bodies, BodyWrite{StreamID: id, Payload: append([]byte(nil), buf...), Fin: fin})
	return len(buf), nil
}

func (s *Session) SendRequest(_ quicbind.Conn, headers []wire.Header, fin bool) (uint64, error) {
	id := s.NextStreamID
	s.NextStreamID += 4
	s.Requests = append(s.Requests, Request{StreamID: id, Headers: copyHeaders(headers), Fin: fin})
	return id, nil
}

func (s *Session) Close() error {
	s.CloseCalls++
	return nil
}

// Event is one scripted session event. Fields are delivered to
// ForEachHeader in order; HeaderErr, when set, aborts the iteration once
// HeaderErrAt fields were delivered.
type Event struct {
	Stream uint64
	Type   quicbind.EventKind
	Fields []wire.Header

	HeaderErr   error
	HeaderErrAt int

	// Released counts Release invocations; the slot contract says exactly
	// one per event.
	Released int
}

func (e *Event) StreamID() uint64 { return e.Stream }

func (e *Event) Kind() quicbind.EventKind { return e.Type }

func (e *Event) ForEachHeader(fn func(name, value []byte) error) error {
	for i, f := range e.Fields {
		if e.HeaderErr != nil && i == e.HeaderErrAt {
			return e.HeaderErr
		}
		if err := fn(f.Name, f.Value); err != nil {
			return err
		}
	}
	if e.HeaderErr != nil && e.HeaderErrAt >= len(e.Fields) {
		return e.HeaderErr
	}
	return nil
}

func (e *Event) Release() {
	e.Released++
}

// Fields builds a header list from alternating name/value strings.
func Fields(pairs ...string) []wire.Header {
	hdrs := make([]wire.Header, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		hdrs = append(hdrs, wire.Header{Name: []byte(pairs[i]), Value: []byte(pairs[i+1])})
	}
	return hdrs
}

func copyHeaders(headers []wire.Header) []wire.Header {
	out := make([]wire.Header, len(headers))
	for i, h := range headers {
		out[i] = wire.Header{
			Name:  append([]byte(nil), h.Name...),
			Value: append([]byte(nil), h.Value...),
		}
	}
	return out
}
