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
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	errorx "github.com/quicbind/quicbind/pkg/errors"
	"github.com/quicbind/quicbind/pkg/wire"
)

// Role selects which side of the handshake a TLS context serves.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// TLSParams is the per-connection TLS material the driver receives. It is a
// snapshot: later mutation of the context it was cut from does not show
// through. The protocol version is pinned to TLS 1.3 on both ends.
type TLSParams struct {
	Role Role

	// Certificates holds the loaded chain+key pair, empty until both halves
	// were loaded on the context.
	Certificates []tls.Certificate

	// RootCAs verifies the peer when VerifyPeer is set; nil means the
	// engine's trust defaults.
	RootCAs *x509.CertPool

	// CipherSuites and Groups are allow-lists of TLS 1.3 codepoints; empty
	// means the engine's defaults.
	CipherSuites []uint16
	Groups       []uint16

	VerifyPeer bool

	// ALPNProtocols is the ordered local protocol table. SelectALPN is the
	// server-side negotiator bound to that table: it walks the peer's
	// offered list in the peer's order and picks the first protocol the
	// table also carries; ok is false when there is no overlap, which is
	// not a handshake failure.
	ALPNProtocols [][]byte
	SelectALPN    func(peerProtos [][]byte) (proto []byte, ok bool)

	// ServerName is the SNI value a client session presents.
	ServerName string

	MinVersion uint16
	MaxVersion uint16
}

// cipherSuiteIDs maps the accepted TLS 1.3 suite names to their codepoints.
var cipherSuiteIDs = map[string]uint16{
	"TLS_AES_128_GCM_SHA256":       tls.TLS_AES_128_GCM_SHA256,
	"TLS_AES_256_GCM_SHA384":       tls.TLS_AES_256_GCM_SHA384,
	"TLS_CHACHA20_POLY1305_SHA256": tls.TLS_CHACHA20_POLY1305_SHA256,
}

// groupIDs maps the accepted key exchange group names to their TLS
// supported-group codepoints.
var groupIDs = map[string]uint16{
	"X25519MLKEM768": 0x11ec,
	"X25519":         0x001d,
	"P-256":          0x0017,
	"P-384":          0x0018,
	"P-521":          0x0019,
}

// tlsContext is the registry payload behind a KindTLSContext handle.
type tlsContext struct {
	role       Role
	chainPEM   []byte
	keyPEM     []byte
	cert       *tls.Certificate
	roots      *x509.CertPool
	suites     []uint16
	groups     []uint16
	verifyPeer bool
	alpn       [][]byte
	selector   func(peerProtos [][]byte) ([]byte, bool)
}

// tlsSession is the registry payload behind a KindTLSSession handle.
type tlsSession struct {
	params TLSParams
}

// NewTLSContext registers a TLS context template for the given role and
// returns its handle. The context pins TLS 1.3 as both the minimum and
// maximum protocol version. Peer verification defaults to on for client
// contexts and off for server contexts.
func (b *Bridge) NewTLSContext(role Role) (Handle, error) {
	if role != RoleClient && role != RoleServer {
		return 0, fmt.Errorf("%w: unknown role %d", errorx.ErrTLSConfig, role)
	}
	ctx := &tlsContext{role: role, verifyPeer: role == RoleClient}
	return b.reg.put(KindTLSContext, ctx), nil
}

func (b *Bridge) tlsCtx(h Handle) (*tlsContext, error) {
	v, err := b.reg.resolve(h, KindTLSContext)
	if err != nil {
		return nil, err
	}
	return v.(*tlsContext), nil
}

func (b *Bridge) tlsSess(h Handle) (*tlsSession, error) {
	v, err := b.reg.resolve(h, KindTLSSession)
	if err != nil {
		return nil, err
	}
	return v.(*tlsSession), nil
}

// LoadCertChain loads a PEM certificate chain file into the context. The
// chain is joined with the private key once both halves are loaded.
func (b *Bridge) LoadCertChain(ctx Handle, pemPath string) error {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(pemPath)
	if err != nil {
		return fmt.Errorf("%w: cert chain %q: %v", errorx.ErrTLSConfig, pemPath, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return fmt.Errorf("%w: cert chain %q: no certificate block", errorx.ErrTLSConfig, pemPath)
	}
	if _, err = x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("%w: cert chain %q: %v", errorx.ErrTLSConfig, pemPath, err)
	}
	c.chainPEM = data
	return c.joinKeyPair()
}

// LoadPrivateKey loads a PEM private key file into the context. A key that
// does not match the loaded chain is rejected.
func (b *Bridge) LoadPrivateKey(ctx Handle, pemPath string) error {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(pemPath)
	if err != nil {
		return fmt.Errorf("%w: private key %q: %v", errorx.ErrTLSConfig, pemPath, err)
	}
	if !containsPrivateKey(data) {
		return fmt.Errorf("%w: private key %q: no parsable key block", errorx.ErrTLSConfig, pemPath)
	}
	c.keyPEM = data
	return c.joinKeyPair()
}

// joinKeyPair builds the tls.Certificate once both PEM halves are present.
func (c *tlsContext) joinKeyPair() error {
	if c.chainPEM == nil || c.keyPEM == nil {
		return nil
	}
	cert, err := tls.X509KeyPair(c.chainPEM, c.keyPEM)
	if err != nil {
		c.cert = nil
		return fmt.Errorf("%w: join chain and key: %v", errorx.ErrTLSConfig, err)
	}
	c.cert = &cert
	return nil
}

func containsPrivateKey(data []byte) bool {
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		if block.Type == "CERTIFICATE" {
			continue
		}
		der := block.Bytes
		if _, err := x509.ParsePKCS8PrivateKey(der); err == nil {
			return true
		}
		if _, err := x509.ParseECPrivateKey(der); err == nil {
			return true
		}
		if _, err := x509.ParsePKCS1PrivateKey(der); err == nil {
			return true
		}
	}
	return false
}

// LoadVerifyLocations loads a PEM CA bundle used to verify the peer.
func (b *Bridge) LoadVerifyLocations(ctx Handle, pemPath string) error {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(pemPath)
	if err != nil {
		return fmt.Errorf("%w: CA bundle %q: %v", errorx.ErrTLSConfig, pemPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("%w: CA bundle %q: no certificates found", errorx.ErrTLSConfig, pemPath)
	}
	c.roots = pool
	return nil
}

// SetCipherSuites restricts the context to the named TLS 1.3 cipher suites.
// Accepted names: TLS_AES_128_GCM_SHA256, TLS_AES_256_GCM_SHA384,
// TLS_CHACHA20_POLY1305_SHA256.
func (b *Bridge) SetCipherSuites(ctx Handle, suites []string) error {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return err
	}
	if len(suites) == 0 {
		return fmt.Errorf("%w: empty cipher suite list", errorx.ErrTLSConfig)
	}
	ids := make([]uint16, 0, len(suites))
	for _, name := range suites {
		id, ok := cipherSuiteIDs[name]
		if !ok {
			return fmt.Errorf("%w: unknown cipher suite %q", errorx.ErrTLSConfig, name)
		}
		ids = append(ids, id)
	}
	c.suites = ids
	return nil
}

// SetGroups restricts the context to the named key exchange groups.
// Accepted names: X25519MLKEM768, X25519, P-256, P-384, P-521.
func (b *Bridge) SetGroups(ctx Handle, groups []string) error {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return fmt.Errorf("%w: empty group list", errorx.ErrTLSConfig)
	}
	ids := make([]uint16, 0, len(groups))
	for _, name := range groups {
		id, ok := groupIDs[name]
		if !ok {
			return fmt.Errorf("%w: unknown group %q", errorx.ErrTLSConfig, name)
		}
		ids = append(ids, id)
	}
	c.groups = ids
	return nil
}

// SetVerifyPeer switches peer certificate verification on or off.
func (b *Bridge) SetVerifyPeer(ctx Handle, on bool) error {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return err
	}
	c.verifyPeer = on
	return nil
}

// SetALPNProtocols stores the ordered application protocol table on the
// context and installs the negotiator bound to it. On the server side the
// negotiator walks the peer's offered list in the peer's order and picks
// the first protocol the table also carries; no overlap means the handshake
// proceeds with no application protocol. Client contexts advertise the
// table as given.
func (b *Bridge) SetALPNProtocols(ctx Handle, protos [][]byte) error {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return err
	}
	if _, err = wire.EncodeALPN(protos); err != nil {
		return fmt.Errorf("%w: %v", errorx.ErrTLSConfig, err)
	}
	table := make([][]byte, len(protos))
	for i, p := range protos {
		table[i] = append([]byte(nil), p...)
	}
	c.alpn = table
	c.selector = func(peerProtos [][]byte) ([]byte, bool) {
		for _, offered := range peerProtos {
			for _, local := range table {
				if bytes.Equal(offered, local) {
					return local, true
				}
			}
		}
		return nil, false
	}
	return nil
}

// NewTLSSession cuts per-connection TLS material from the context and
// returns its handle. The session snapshots the context configuration, so
// mutating or freeing the context afterwards cannot dangle the session.
// Binding the session to a connection consumes the handle.
func (b *Bridge) NewTLSSession(ctx Handle) (Handle, error) {
	c, err := b.tlsCtx(ctx)
	if err != nil {
		return 0, err
	}
	return b.reg.put(KindTLSSession, &tlsSession{params: c.snapshot()}), nil
}

func (c *tlsContext) snapshot() TLSParams {
	p := TLSParams{
		Role:          c.role,
		RootCAs:       c.roots,
		CipherSuites:  append([]uint16(nil), c.suites...),
		Groups:        append([]uint16(nil), c.groups...),
		VerifyPeer:    c.verifyPeer,
		ALPNProtocols: append([][]byte(nil), c.alpn...),
		SelectALPN:    c.selector,
		MinVersion:    tls.VersionTLS13,
		MaxVersion:    tls.VersionTLS13,
	}
	if c.cert != nil {
		p.Certificates = []tls.Certificate{*c.cert}
	}
	return p
}

// SetHostname sets the SNI value a client-role session presents during the
// handshake. It must be called before the session is bound to a connection.
func (b *Bridge) SetHostname(session Handle, name string) error {
	s, err := b.tlsSess(session)
	if err != nil {
		return err
	}
	s.params.ServerName = name
	return nil
}

// Protocols converts protocol names to the byte-string table form the ALPN
// operations take.
func Protocols(names ...string) [][]byte {
	protos := make([][]byte, len(names))
	for i, name := range names {
		protos[i] = []byte(name)
	}
	return protos
}
