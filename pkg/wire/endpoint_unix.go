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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package wire

import (
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// EndpointFromSockaddr converts the unix.Sockaddr of a raw datagram receive
// into the endpoint value the boundary operations take. IPv4-mapped addresses
// coming off dual-stack sockets are folded to IPv4.
func EndpointFromSockaddr(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(sa.Addr).Unmap()
		if zone := ip6ZoneToString(int(sa.ZoneId)); zone != "" {
			addr = addr.WithZone(zone)
		}
		return netip.AddrPortFrom(addr, uint16(sa.Port)), nil
	default:
		return netip.AddrPort{}, errorx.ErrMalformedEndpoint
	}
}

// SockaddrFromEndpoint converts an endpoint into the unix.Sockaddr consumed
// by raw datagram sends.
func SockaddrFromEndpoint(ep netip.AddrPort) (unix.Sockaddr, error) {
	addr := ep.Addr()
	switch {
	case addr.Is4() || addr.Is4In6():
		return &unix.SockaddrInet4{Port: int(ep.Port()), Addr: addr.Unmap().As4()}, nil
	case addr.Is6():
		sa := &unix.SockaddrInet6{Port: int(ep.Port()), Addr: addr.As16()}
		if zone := addr.Zone(); zone != "" {
			sa.ZoneId = uint32(ip6ZoneToInt(zone))
		}
		return sa, nil
	default:
		return nil, errorx.ErrMalformedEndpoint
	}
}

// ip6ZoneToString converts an IP6 zone unix int to a net string,
// returns "" if zone is 0.
func ip6ZoneToString(zone int) string {
	if zone == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(zone); err == nil {
		return ifi.Name
	}
	return strconv.Itoa(zone)
}

// ip6ZoneToInt converts an IP6 zone net string to a unix int,
// returns 0 if zone is "".
func ip6ZoneToInt(zone string) int {
	if zone == "" {
		return 0
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return ifi.Index
	}
	n, _ := strconv.Atoi(zone)
	return n
}
