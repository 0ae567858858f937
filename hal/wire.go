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

package hal

import (
	"encoding/binary"
	"errors"
)

// ErrNotSupported is returned by LoadBinary on platforms that cannot source
// binaries by name (spec §6).
var ErrNotSupported = errors.New("hal: operation not supported on this platform")

// EncodeCompletion packs a StorageCompletion into the wire layout spec §6
// assigns to MSG_STORAGE_RESULT / MSG_KEYSTORE_RESULT:
// { request_id: u32, result_type: u8, data_len: u32, data: bytes }.
func EncodeCompletion(c StorageCompletion) []byte {
	out := make([]byte, 4+1+4+len(c.Data))
	binary.LittleEndian.PutUint32(out[0:4], c.RequestID)
	out[4] = byte(c.Result)
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(c.Data)))
	copy(out[9:], c.Data)
	return out
}

// DecodeCompletion is the inverse of EncodeCompletion.
func DecodeCompletion(b []byte) (StorageCompletion, error) {
	if len(b) < 9 {
		return StorageCompletion{}, errors.New("hal: truncated storage completion")
	}
	reqID := binary.LittleEndian.Uint32(b[0:4])
	result := ResultType(b[4])
	dataLen := binary.LittleEndian.Uint32(b[5:9])
	if uint32(len(b)-9) < dataLen {
		return StorageCompletion{}, errors.New("hal: storage completion data_len exceeds buffer")
	}
	data := make([]byte, dataLen)
	copy(data, b[9:9+dataLen])
	return StorageCompletion{RequestID: reqID, Result: result, Data: data}, nil
}
