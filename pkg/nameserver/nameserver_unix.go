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

//go:build !windows
// +build !windows

package nameserver

import (
	"os"

	errorx "github.com/quicbind/quicbind/pkg/errors"
)

var resolvConfPath = "/etc/resolv.conf"

// List returns the system's DNS nameserver address strings in configuration
// order, read from resolv.conf.
func List() ([]string, error) {
	f, err := os.Open(resolvConfPath)
	if err != nil {
		return nil, errorx.ErrNoNameservers
	}
	defer f.Close()

	servers := parseResolvConf(f)
	if len(servers) == 0 {
		return nil, errorx.ErrNoNameservers
	}
	return servers, nil
}
