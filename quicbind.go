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
	"sync/atomic"

	errorx "github.com/quicbind/quicbind/pkg/errors"
	"github.com/quicbind/quicbind/pkg/logging"
)

// Bridge is the boundary between the caller and an engine Driver. It owns
// the handle registry and hands out generation-checked handles for every
// engine object it creates; all protocol work happens inside the driver.
//
// A Bridge may be shared between goroutines as long as no two of them
// operate on the same handle at the same time.
type Bridge struct {
	opts     *Options
	driver   Driver
	reg      registry
	logFlush func() error
	debug    int32
}

// NewBridge wires a Bridge to the given engine driver.
func NewBridge(driver Driver, opts ...Option) (*Bridge, error) {
	if driver == nil {
		return nil, errorx.ErrNilDriver
	}

	options := loadOptions(opts...)
	b := &Bridge{opts: options, driver: driver}

	var logger logging.Logger
	if options.LogPath != "" {
		var err error
		if logger, b.logFlush, err = logging.CreateLoggerAsLocalFile(options.LogPath, options.LogLevel); err != nil {
			return nil, err
		}
	} else {
		logger = logging.GetDefaultLogger()
	}
	if options.Logger == nil {
		options.Logger = logger
	}
	return b, nil
}

// EnableDebugLogging turns on per-operation debug tracing: datagram and
// stream byte counts, polled events, and mux routing decisions. Tracing is
// emitted at debug level through the Bridge's logger.
func (b *Bridge) EnableDebugLogging() {
	atomic.StoreInt32(&b.debug, 1)
}

func (b *Bridge) debugging() bool {
	return atomic.LoadInt32(&b.debug) == 1
}

func (b *Bridge) logger() logging.Logger {
	return b.opts.Logger
}

// Live reports the number of live handles held by the Bridge.
func (b *Bridge) Live() int {
	return b.reg.len()
}

// Free releases the object h names. Every handle must be freed exactly
// once; a second Free, or a Free of a handle invalidated some other way
// (say, a TLS session consumed by a connection), reports ErrInvalidHandle.
//
// Freeing a connection closes it in the engine along with the TLS material
// it owns. Freeing a session first releases whatever event its slot still
// caches.
func (b *Bridge) Free(h Handle) error {
	switch h.Kind() {
	case KindTransportConfig, KindSessionConfig, KindTLSContext, KindTLSSession:
		_, err := b.reg.take(h, h.Kind())
		return err
	case KindConnection:
		v, err := b.reg.take(h, KindConnection)
		if err != nil {
			return err
		}
		c := v.(*connection)
		if b.debugging() {
			b.logger().Debugf("free connection scid=%x", c.scid)
		}
		return c.conn.Close()
	case KindSession:
		v, err := b.reg.take(h, KindSession)
		if err != nil {
			return err
		}
		s := v.(*session)
		s.slot.release()
		return s.sess.Close()
	default:
		return errorx.ErrInvalidHandle
	}
}

// Close flushes the Bridge's file logger if one was opened through
// Options.LogPath. It does not free live handles.
func (b *Bridge) Close() error {
	if b.logFlush != nil {
		return b.logFlush()
	}
	return nil
}
