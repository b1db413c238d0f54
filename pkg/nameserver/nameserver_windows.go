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

//go:build windows
// +build windows

package nameserver

import (
	errorx "github.com/quicbind/quicbind/pkg/errors"
)

// List reports no nameservers: Windows keeps resolver configuration in the
// registry, which this layer does not query.
func List() ([]string, error) {
	return nil, errorx.ErrNoNameservers
}
