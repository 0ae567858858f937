/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package keystore

import (
	"encoding/json"
	"strings"
)

// Envelope is the JSON record Keystore stores for every key: a value plus
// created_at/updated_at timestamps, per SPEC_FULL.md's Keystore supplement
// (grounded on crates/zos-identity/src/keystore.rs's rotate-adjacent
// envelope). Keystore has no inode layer the way VFS does; the envelope is
// the entire stored record.
type Envelope struct {
	Value       []byte `json:"value"`
	CreatedAtMs uint64 `json:"created_at_ms"`
	UpdatedAtMs uint64 `json:"updated_at_ms"`
}

func MarshalEnvelope(e Envelope) ([]byte, error) { return json.Marshal(e) }

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// keyPrefix is Keystore's exclusive storage key space, distinct from VFS's
// inode:/content: spaces so cryptographic material never shares a bucket
// with general files.
const keyPrefix = "secret:"

func storageKey(path string) string { return keyPrefix + path }

// namespacePrefix is the only path prefix Keystore will operate under.
const namespacePrefix = "/keys/"

func inNamespace(path string) bool {
	return strings.HasPrefix(path, namespacePrefix)
}
