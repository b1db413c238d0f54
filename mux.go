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
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"time"

	errorx "github.com/quicbind/quicbind/pkg/errors"
	bbPool "github.com/quicbind/quicbind/pkg/pool/bytebuffer"
	"github.com/quicbind/quicbind/pkg/wire"
)

// MuxConfig configures a Mux.
type MuxConfig struct {
	// Configs maps each QUIC version the Mux speaks to its transport config
	// handle. Datagrams offering a version with no entry are answered with
	// version negotiation.
	Configs map[uint32]Handle

	// TLSContext is the context new connections take their TLS material
	// from: a server-role context to accept, a client-role one to dial.
	// Zero means unknown datagrams are dropped and Connect fails.
	TLSContext Handle

	// Output writes one datagram to the network, addressed to to. Required.
	Output func(pkt []byte, to netip.AddrPort) error

	// Accepted, when set, is invoked for every connection the Mux accepts.
	Accepted func(conn Handle)

	// Closed, when set, is invoked just before a closed connection is swept
	// out of the routing table and freed.
	Closed func(conn Handle)

	// ConnIDLen is the connection ID length used to route short-header
	// packets, 1..20. Zero defaults to wire.MaxConnIDLen, the length of the
	// IDs the Mux generates.
	ConnIDLen int
}

// Mux routes datagrams between one UDP socket and many connections, keyed
// by destination connection ID. It accepts server connections, answers
// unsupported versions with version negotiation, drains outgoing datagrams
// through Output, and aggregates timer deadlines. Like everything else in
// this package it is synchronous: drive it from the socket loop.
type Mux struct {
	bridge *Bridge
	cfg    MuxConfig
	conns  map[string]Handle   // hex CID -> connection
	keys   map[Handle][]string // connection -> its CID keys
	closed bool
}

// NewMux wires a Mux over the Bridge's connections.
func NewMux(b *Bridge, cfg MuxConfig) (*Mux, error) {
	if cfg.Output == nil {
		return nil, errorx.ErrNilOutput
	}
	if cfg.ConnIDLen == 0 {
		cfg.ConnIDLen = wire.MaxConnIDLen
	}
	if cfg.ConnIDLen < 1 || cfg.ConnIDLen > wire.MaxConnIDLen {
		return nil, errorx.ErrInvalidConnIDLen
	}
	return &Mux{
		bridge: b,
		cfg:    cfg,
		conns:  make(map[string]Handle),
		keys:   make(map[Handle][]string),
	}, nil
}

// HandleDatagram routes one inbound datagram. Known destination connection
// IDs go to their connection; unknown ones may accept a new server
// connection or trigger version negotiation. The datagram is fed to the
// connection, produced datagrams are flushed through Output, and the
// connection is swept if it closed. The returned handle names the
// connection that consumed the datagram, zero when it was dropped or
// answered without one; a swept handle is already freed (the Closed
// callback has fired).
func (m *Mux) HandleDatagram(pkt []byte, from, to netip.AddrPort) (Handle, error) {
	if m.closed {
		return 0, errorx.ErrMuxClosed
	}
	hdr, err := wire.ParsePacketHeader(pkt, m.cfg.ConnIDLen)
	if err != nil {
		return 0, err
	}

	key := hex.EncodeToString(hdr.DCID)
	conn, ok := m.conns[key]
	if !ok {
		if conn, ok, err = m.accept(hdr, key, from, to); err != nil || !ok {
			return 0, err
		}
	}

	if _, err = m.bridge.ConnectionReceive(conn, pkt, from, to); err != nil && !errors.Is(err, errorx.StatusDone) {
		m.sweep(conn)
		return conn, err
	}
	if err = m.Flush(conn); err != nil {
		return conn, err
	}
	m.sweep(conn)
	return conn, nil
}

// accept handles a datagram whose DCID matches no connection: version
// negotiation for versions the Mux does not speak, a fresh server
// connection otherwise. ok is false when the datagram was dropped or
// answered without opening a connection.
func (m *Mux) accept(hdr wire.HeaderInfo, key string, from, to netip.AddrPort) (Handle, bool, error) {
	b := m.bridge
	if m.cfg.TLSContext == 0 {
		if b.debugging() {
			b.logger().Debugf("mux: no connection for dcid=%s, dropping %s packet from %s", key, hdr.Type, from)
		}
		return 0, false, nil
	}
	ctx, err := b.tlsCtx(m.cfg.TLSContext)
	if err != nil {
		return 0, false, err
	}
	// Short headers never open connections, and a version negotiation
	// packet is an answer, not an offer.
	if ctx.role != RoleServer || hdr.Type == wire.PacketShort || hdr.Type == wire.PacketVersionNegotiation {
		if b.debugging() {
			b.logger().Debugf("mux: no connection for dcid=%s, dropping %s packet from %s", key, hdr.Type, from)
		}
		return 0, false, nil
	}

	cfgHandle, ok := m.cfg.Configs[hdr.Version]
	if !ok {
		if err = m.negotiateVersion(hdr, from); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}

	scid, err := wire.NewConnectionID()
	if err != nil {
		return 0, false, err
	}
	sess, err := b.NewTLSSession(m.cfg.TLSContext)
	if err != nil {
		return 0, false, err
	}
	conn, err := b.NewConnection(cfgHandle, sess, scid, nil, to, from)
	if err != nil {
		_ = b.Free(sess)
		return 0, false, err
	}

	scidKey := hex.EncodeToString(scid)
	m.conns[scidKey] = conn
	m.conns[key] = conn
	m.keys[conn] = []string{scidKey, key}
	if b.debugging() {
		b.logger().Debugf("mux: accepted connection from %s dcid=%s scid=%s", from, key, scidKey)
	}
	if m.cfg.Accepted != nil {
		m.cfg.Accepted(conn)
	}
	return conn, true, nil
}

// negotiateVersion answers a long-header packet of a version the Mux does
// not speak with a version negotiation datagram.
func (m *Mux) negotiateVersion(hdr wire.HeaderInfo, from netip.AddrPort) error {
	bb := bbPool.Get()
	defer bbPool.Put(bb)

	pkt, err := wire.AppendVersionNegotiation(bb.B, hdr.SCID, hdr.DCID)
	if err != nil {
		return err
	}
	bb.B = pkt
	if err = m.cfg.Output(pkt, from); err != nil {
		return err
	}
	if m.bridge.debugging() {
		m.bridge.logger().Debugf("mux: negotiated version with %s (offered %#x)", from, hdr.Version)
	}
	return nil
}

// Connect dials peer from local, speaking the given QUIC version and
// presenting serverName as SNI. The new connection's Initial flight is
// flushed through Output before Connect returns.
func (m *Mux) Connect(local, peer netip.AddrPort, serverName string, version uint32) (Handle, error) {
	if m.closed {
		return 0, errorx.ErrMuxClosed
	}
	b := m.bridge
	cfgHandle, ok := m.cfg.Configs[version]
	if !ok {
		return 0, errorx.ErrUnsupportedVersion
	}
	ctx, err := b.tlsCtx(m.cfg.TLSContext)
	if err != nil {
		return 0, err
	}
	if ctx.role != RoleClient {
		return 0, fmt.Errorf("%w: dialing needs a client-role TLS context", errorx.ErrTLSConfig)
	}

	scid, err := wire.NewConnectionID()
	if err != nil {
		return 0, err
	}
	sess, err := b.NewTLSSession(m.cfg.TLSContext)
	if err != nil {
		return 0, err
	}
	if serverName != "" {
		if err = b.SetHostname(sess, serverName); err != nil {
			_ = b.Free(sess)
			return 0, err
		}
	}
	conn, err := b.NewConnection(cfgHandle, sess, scid, nil, local, peer)
	if err != nil {
		_ = b.Free(sess)
		return 0, err
	}

	key := hex.EncodeToString(scid)
	m.conns[key] = conn
	m.keys[conn] = []string{key}
	if b.debugging() {
		b.logger().Debugf("mux: dialing %s scid=%s sni=%q", peer, key, serverName)
	}
	if err = m.Flush(conn); err != nil {
		return conn, err
	}
	return conn, nil
}

// Flush drains the connection's outgoing datagrams through Output until
// the engine reports done. The scratch buffer is pooled and sized by the
// connection's MaxSendUDPPayloadSize.
func (m *Mux) Flush(conn Handle) error {
	c, err := m.bridge.connPayload(conn)
	if err != nil {
		return err
	}

	bb := bbPool.Get()
	defer bbPool.Put(bb)
	if size := c.cfg.MaxSendUDPPayloadSize; cap(bb.B) < size {
		bb.B = make([]byte, size)
	} else {
		bb.B = bb.B[:size]
	}

	for {
		n, err := m.bridge.ConnectionSend(conn, bb.B)
		if err != nil {
			if errors.Is(err, errorx.StatusDone) {
				return nil
			}
			return err
		}
		if err = m.cfg.Output(bb.B[:n], c.peer); err != nil {
			return err
		}
	}
}

// FlushAll flushes every live connection and sweeps the ones that closed.
func (m *Mux) FlushAll() error {
	if m.closed {
		return errorx.ErrMuxClosed
	}
	var firstErr error
	for conn := range m.keys {
		if err := m.Flush(conn); err != nil && firstErr == nil {
			firstErr = err
		}
		m.sweep(conn)
	}
	return firstErr
}

// NextTimeout reports the earliest protocol timer deadline over the live
// connections, false when none is armed. The caller schedules the duration
// and calls OnTimeout when it elapses.
func (m *Mux) NextTimeout() (time.Duration, bool) {
	var min time.Duration
	found := false
	for conn := range m.keys {
		d, err := m.bridge.ConnectionTimeout(conn)
		if err != nil || d <= 0 {
			continue
		}
		if !found || d < min {
			min, found = d, true
		}
	}
	return min, found
}

// OnTimeout fires due timers on every live connection, flushes what they
// produced, and sweeps the ones that closed. Connections whose timers are
// not due treat the firing as a no-op.
func (m *Mux) OnTimeout() error {
	if m.closed {
		return errorx.ErrMuxClosed
	}
	var firstErr error
	for conn := range m.keys {
		if err := m.bridge.ConnectionOnTimeout(conn); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := m.Flush(conn); err != nil && firstErr == nil {
			firstErr = err
		}
		m.sweep(conn)
	}
	return firstErr
}

// Len reports the number of live connections in the routing table.
func (m *Mux) Len() int {
	return len(m.keys)
}

// Close frees every live connection and marks the Mux closed. Further
// datagrams, dials, flushes and timer work are rejected with ErrMuxClosed.
func (m *Mux) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	for conn := range m.keys {
		m.drop(conn)
	}
	return nil
}

// sweep drops the connection once the engine reports it closed.
func (m *Mux) sweep(conn Handle) {
	closed, err := m.bridge.ConnectionIsClosed(conn)
	if err != nil || !closed {
		return
	}
	m.drop(conn)
}

// drop removes the connection from the routing table, notifies the Closed
// callback and frees the handle.
func (m *Mux) drop(conn Handle) {
	for _, key := range m.keys[conn] {
		delete(m.conns, key)
	}
	delete(m.keys, conn)
	if m.cfg.Closed != nil {
		m.cfg.Closed(conn)
	}
	if err := m.bridge.Free(conn); err != nil {
		m.bridge.logger().Errorf("mux: freeing swept connection: %v", err)
	}
}
