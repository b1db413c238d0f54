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
	"net/netip"
	"time"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// maxReadableStreams caps one ReadableStreams answer. Callers drain what
// they got and ask again.
const maxReadableStreams = 256

// connection is the registry payload behind a KindConnection handle.
type connection struct {
	conn  Conn
	cfg   TransportConfig
	scid  []byte
	local netip.AddrPort
	peer  netip.AddrPort
}

// NewConnection creates an engine connection from a transport config and a
// TLS session, bound to the local/peer endpoint pair. scid is the locally
// chosen source connection ID; odcid is the original destination connection
// ID from a retried Initial, nil otherwise.
//
// On success the tlsSession handle is consumed: ownership of the TLS
// material moves into the connection and the session handle is retired, so
// a later Free on it reports ErrInvalidHandle. On failure the session
// handle stays valid.
func (b *Bridge) NewConnection(cfg, tlsSession Handle, scid, odcid []byte, local, peer netip.AddrPort) (Handle, error) {
	tc, err := b.transportConfig(cfg)
	if err != nil {
		return 0, err
	}
	ts, err := b.tlsSess(tlsSession)
	if err != nil {
		return 0, err
	}

	params := ConnParams{
		SCID:      append([]byte(nil), scid...),
		Local:     local,
		Peer:      peer,
		Transport: *tc,
		TLS:       ts.params,
		IsServer:  ts.params.Role == RoleServer,
	}
	if odcid != nil {
		params.ODCID = append([]byte(nil), odcid...)
	}

	drvConn, err := b.driver.NewConn(params)
	if err != nil {
		return 0, err
	}
	if _, err = b.reg.take(tlsSession, KindTLSSession); err != nil {
		_ = drvConn.Close()
		return 0, err
	}

	c := &connection{conn: drvConn, cfg: *tc, scid: params.SCID, local: local, peer: peer}
	h := b.reg.put(KindConnection, c)
	if b.debugging() {
		b.logger().Debugf("new %s connection scid=%x local=%s peer=%s",
			ts.params.Role, c.scid, local, peer)
	}
	return h, nil
}

func (b *Bridge) connPayload(h Handle) (*connection, error) {
	v, err := b.reg.resolve(h, KindConnection)
	if err != nil {
		return nil, err
	}
	return v.(*connection), nil
}

// ConnectionReceive feeds one inbound datagram to the connection. buf is
// borrowed for the duration of the call; from and to are the datagram's
// source and destination endpoints. It returns the number of bytes the
// engine consumed.
func (b *Bridge) ConnectionReceive(conn Handle, buf []byte, from, to netip.AddrPort) (int, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, errorx.ErrBufferUnavailable
	}
	n, err := c.conn.Recv(buf, from, to)
	if b.debugging() {
		b.logger().Debugf("connection scid=%x consumed %d of %d datagram bytes, err=%v",
			c.scid, n, len(buf), err)
	}
	return n, err
}

// ConnectionSend fills buf with the next outgoing datagram and returns its
// length. errorx.StatusDone means nothing is pending.
func (b *Bridge) ConnectionSend(conn Handle, buf []byte) (int, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, errorx.ErrBufferUnavailable
	}
	n, err := c.conn.Send(buf)
	if b.debugging() && err == nil {
		b.logger().Debugf("connection scid=%x produced %d datagram bytes", c.scid, n)
	}
	return n, err
}

// StreamReceive copies readable data from the stream into buf and reports
// whether the peer finished the stream. Abnormal termination carries the
// stream-level code via errorx.StreamError.
func (b *Bridge) StreamReceive(conn Handle, streamID uint64, buf []byte) (int, bool, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, false, err
	}
	if len(buf) == 0 {
		return 0, false, errorx.ErrBufferUnavailable
	}
	n, fin, err := c.conn.StreamRecv(streamID, buf)
	if b.debugging() {
		b.logger().Debugf("connection scid=%x stream %d read %d bytes fin=%t err=%v",
			c.scid, streamID, n, fin, err)
	}
	return n, fin, err
}

// StreamSend queues buf on the stream; fin marks end-of-stream. A
// zero-length buf with fin set is valid and still closes the stream. It
// returns how many bytes the engine accepted.
func (b *Bridge) StreamSend(conn Handle, streamID uint64, buf []byte, fin bool) (int, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	n, err := c.conn.StreamSend(streamID, buf, fin)
	if b.debugging() {
		b.logger().Debugf("connection scid=%x stream %d wrote %d of %d bytes fin=%t err=%v",
			c.scid, streamID, n, len(buf), fin, err)
	}
	return n, err
}

// ReadableStreams lists the streams with pending readable data, in engine
// order, truncated at 256 entries.
func (b *Bridge) ReadableStreams(conn Handle) ([]uint64, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return nil, err
	}
	ids := c.conn.Readable()
	if len(ids) > maxReadableStreams {
		ids = ids[:maxReadableStreams]
	}
	return ids, nil
}

// ConnectionTimeout reports the duration until the connection's next
// protocol timer, zero or negative when no timer is armed. The caller owns
// the clock: schedule the duration and call ConnectionOnTimeout when it
// elapses.
func (b *Bridge) ConnectionTimeout(conn Handle) (time.Duration, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return 0, err
	}
	return c.conn.Timeout(), nil
}

// ConnectionOnTimeout fires the connection's due protocol timers. Calling
// it when no timer is due is a no-op.
func (b *Bridge) ConnectionOnTimeout(conn Handle) error {
	c, err := b.connPayload(conn)
	if err != nil {
		return err
	}
	c.conn.OnTimeout()
	return nil
}

// ConnectionIsEstablished reports whether the handshake has completed.
func (b *Bridge) ConnectionIsEstablished(conn Handle) (bool, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return false, err
	}
	return c.conn.IsEstablished(), nil
}

// ConnectionIsClosed reports whether the connection is fully closed.
func (b *Bridge) ConnectionIsClosed(conn Handle) (bool, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return false, err
	}
	return c.conn.IsClosed(), nil
}

// PeerCertificate returns the peer's leaf certificate in DER form, nil
// before the handshake completes or when the peer presented none.
func (b *Bridge) PeerCertificate(conn Handle) ([]byte, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return nil, err
	}
	return c.conn.PeerCert(), nil
}

// ApplicationProtocol returns the ALPN identifier negotiated on the
// connection, empty when none was agreed.
func (b *Bridge) ApplicationProtocol(conn Handle) ([]byte, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return nil, err
	}
	return c.conn.ApplicationProto(), nil
}

// CipherName names the TLS 1.3 cipher suite negotiated on the connection.
func (b *Bridge) CipherName(conn Handle) (string, error) {
	c, err := b.connPayload(conn)
	if err != nil {
		return "", err
	}
	return c.conn.CipherSuite(), nil
}
