/*
quicbind is a boundary layer that lets a server process drive an external
QUIC transport, HTTP/3 session engine and TLS 1.3 stack through opaque
handles, without owning sockets, threads or event loops itself.

The package revolves around a Bridge: the caller plugs in a Driver (the
engine adapter), creates transport/TLS/session objects through the Bridge
and receives packed 64-bit handles back. Handles are generation-checked,
so a stale or double-freed handle is rejected instead of touching recycled
state. All I/O is caller-driven: the caller reads datagrams off its own
sockets, feeds them in, drains outgoing datagrams, and schedules timers
from the durations the Bridge reports.

A minimal server loop looks like this:

	package main

	import (
		"log"
		"net/netip"

		"github.com/quicbind/quicbind"
	)

	func main() {
		b, err := quicbind.NewBridge(newEngineDriver())
		if err != nil {
			log.Fatal(err)
		}
		cfg, _ := b.NewTransportConfig(quicbind.Version1)
		ctx, _ := b.NewTLSContext(quicbind.RoleServer)
		_ = b.LoadCertChain(ctx, "cert.pem")
		_ = b.LoadPrivateKey(ctx, "key.pem")
		_ = b.SetALPNProtocols(ctx, quicbind.Protocols("h3"))

		mux, _ := quicbind.NewMux(b, quicbind.MuxConfig{
			Configs:    map[uint32]quicbind.Handle{quicbind.Version1: cfg},
			TLSContext: ctx,
			Output: func(pkt []byte, to netip.AddrPort) error {
				// write pkt to the UDP socket
				return nil
			},
		})

		// For each datagram read from the socket:
		//	mux.HandleDatagram(pkt, from, to)
		// then drive timers with mux.NextTimeout and mux.OnTimeout.
		_ = mux
	}
*/
package quicbind
