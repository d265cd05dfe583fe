// Copyright 2025 the terraform-index authors
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


package core

import (
	"encoding/hex"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// Fingerprint produces a compact opaque identifier from the given parts using
// BLAKE2b hashing. Collectors key their seen-sets with it: the same
// (locator, last-modified-or-uid) tuple always fingerprints identically, so a
// re-poll over an unchanged candidate set yields nothing.
func Fingerprint(parts ...string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
