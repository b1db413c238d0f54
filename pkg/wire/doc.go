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

// Package wire implements the compact binary encodings that cross the
// boundary between the managed side and the transport engine: network
// endpoints, QUIC packet-header metadata, HTTP header lists, and ALPN
// protocol lists.
//
// Decoders in this package return sub-slices of their input where they can;
// a decoded value is only valid as long as the bytes it was decoded from.
// Callers that retain results past the input's lifetime must copy.
package wire
