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

// Package hal defines the Hardware Abstraction Layer contract: the entire
// surface the kernel and supervisor require from a platform (spec §6).
// Two substrates implement it: platform/baremetal (x86_64 + QEMU/VirtIO) and
// platform/wasmjs (browser host). platform/memhal is a third, in-process
// implementation used for tests and local development on either substrate.
package hal

import "context"

// HAL is the platform contract. All methods must be safe to call from the
// supervisor's single goroutine; no method blocks longer than the
// underlying platform operation requires, and the async Storage* methods
// must never block on completion.
type HAL interface {
	// NowNanos returns a monotonically increasing nanosecond counter.
	NowNanos() uint64
	// WallclockMs returns milliseconds since the Unix epoch.
	WallclockMs() uint64
	// DebugWrite emits a human-readable trace line.
	DebugWrite(s string)
	// ConsoleWrite forwards a CONSOLE_WRITE payload to the platform UI.
	ConsoleWrite(pid uint64, data []byte)
	// FillRandom fills buf with cryptographically random bytes.
	FillRandom(buf []byte)

	// StorageReadAsync, StorageWriteAsync, StorageDeleteAsync,
	// StorageExistsAsync and StorageListAsync each return a request_id
	// immediately; completion arrives later on Completions().
	StorageReadAsync(pid uint64, key string) uint64
	StorageWriteAsync(pid uint64, key string, value []byte) uint64
	StorageDeleteAsync(pid uint64, key string) uint64
	StorageExistsAsync(pid uint64, key string) uint64
	StorageListAsync(pid uint64, prefix string) uint64

	// Completions delivers StorageResult values as the corresponding async
	// operations finish. The supervisor drains this channel between
	// syscall batches and turns each result into an IPC message to the
	// owning process (spec §4.6 step 3).
	Completions() <-chan StorageCompletion

	// LoadBinary returns the WASM bytes for a named service binary, or
	// ErrNotSupported if the platform cannot source binaries by name
	// (spec §6: "load_binary(name) -> bytes | NOT_SUPPORTED").
	LoadBinary(ctx context.Context, name string) ([]byte, error)
	// SpawnProcess asks the platform to materialize wasm as a new process
	// and returns the platform-level handle (a browser Worker id, a
	// bare-metal thread handle, ...). The supervisor still owns kernel PID
	// allocation; this is the platform-side half of spawn orchestration.
	SpawnProcess(ctx context.Context, name string, wasm []byte) (uint64, error)
}

// StorageCompletion is the payload format for MSG_STORAGE_RESULT /
// MSG_KEYSTORE_RESULT described in spec §6.
type StorageCompletion struct {
	PID       uint64
	RequestID uint32
	Result    ResultType
	Data      []byte
}

// ResultType is the result_type byte of a StorageCompletion.
type ResultType uint8

const (
	ResultReadOK ResultType = iota
	ResultWriteOK
	ResultListOK
	ResultExistsOK
	ResultNotFound
	ResultError
)
