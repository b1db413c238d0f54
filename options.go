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
	"github.com/quicbind/quicbind/pkg/logging"
)

// Option is a function that sets up a Bridge option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// Options are configurations for a Bridge.
type Options struct {
	// LogPath is the local path where logs will be written, this is the
	// easiest way to set up logging: the Bridge instantiates a default
	// uber-go/zap logger with this log path, rotated by lumberjack.
	LogPath string

	// LogLevel indicates the logging level, it should be used along with
	// LogPath.
	LogLevel logging.Level

	// Logger is the customized logger for logging info, if it is not set,
	// the default logger powered by go.uber.org/zap is used.
	Logger logging.Logger
}

// WithOptions sets up all options at once.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithLogPath sets up LogPath.
func WithLogPath(fileName string) Option {
	return func(opts *Options) {
		opts.LogPath = fileName
	}
}

// WithLogLevel sets up LogLevel.
func WithLogLevel(lvl logging.Level) Option {
	return func(opts *Options) {
		opts.LogLevel = lvl
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}
