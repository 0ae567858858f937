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

// Package memhal is a purely in-memory implementation of hal.HAL, used by
// unit tests and by `zosctl serve --hal=memhal` for local development
// without a QEMU image or a browser host.
package memhal

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/zeroos/kernel/hal"
)

// HAL is an in-memory hal.HAL: storage is a plain map, console output is
// captured for assertions, and binaries are served from a preloaded map
// rather than a filesystem or network fetch.
type HAL struct {
	mu       sync.Mutex
	storage  map[string][]byte
	console  []consoleLine
	binaries map[string][]byte
	reqIDs   uint64

	completions chan hal.StorageCompletion
	start       time.Time
}

type consoleLine struct {
	PID  uint64
	Data []byte
}

// New returns an empty HAL with no binaries; entries can be added later
// with AddBinary for tests that exercise spawn/load_binary.
func New() *HAL {
	return &HAL{
		storage:     make(map[string][]byte),
		binaries:    make(map[string][]byte),
		completions: make(chan hal.StorageCompletion, 256),
		start:       time.Now(),
	}
}

// AddBinary registers wasm bytes under name for LoadBinary/SpawnProcess to
// find in tests that exercise the boot path without a real wazero module.
func (h *HAL) AddBinary(name string, wasm []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.binaries[name] = wasm
}

// ConsoleLines returns every ConsoleWrite call recorded so far, in order,
// for test assertions on what a process printed.
func (h *HAL) ConsoleLines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.console))
	for i, l := range h.console {
		out[i] = string(l.Data)
	}
	return out
}

func (h *HAL) NowNanos() uint64 {
	return uint64(time.Since(h.start).Nanoseconds())
}

func (h *HAL) WallclockMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

func (h *HAL) DebugWrite(s string) {
	fmt.Println("[debug]", s)
}

func (h *HAL) ConsoleWrite(pid uint64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	h.console = append(h.console, consoleLine{PID: pid, Data: cp})
}

func (h *HAL) FillRandom(buf []byte) {
	_, _ = rand.Read(buf)
}

func (h *HAL) nextRequestID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reqIDs++
	return h.reqIDs
}

func (h *HAL) complete(pid, reqID uint64, result hal.ResultType, data []byte) {
	h.completions <- hal.StorageCompletion{PID: pid, RequestID: uint32(reqID), Result: result, Data: data}
}

// StorageReadAsync resolves against the in-memory map on its own goroutine
// (there is no real I/O latency to model) and delivers its result on
// Completions(), preserving the async contract callers rely on.
func (h *HAL) StorageReadAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		h.mu.Lock()
		v, ok := h.storage[key]
		h.mu.Unlock()
		if !ok {
			h.complete(pid, id, hal.ResultNotFound, nil)
			return
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		h.complete(pid, id, hal.ResultReadOK, cp)
	}()
	return id
}

func (h *HAL) StorageWriteAsync(pid uint64, key string, value []byte) uint64 {
	id := h.nextRequestID()
	go func() {
		cp := make([]byte, len(value))
		copy(cp, value)
		h.mu.Lock()
		h.storage[key] = cp
		h.mu.Unlock()
		h.complete(pid, id, hal.ResultWriteOK, nil)
	}()
	return id
}

func (h *HAL) StorageDeleteAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		h.mu.Lock()
		_, existed := h.storage[key]
		delete(h.storage, key)
		h.mu.Unlock()
		if !existed {
			h.complete(pid, id, hal.ResultNotFound, nil)
			return
		}
		h.complete(pid, id, hal.ResultWriteOK, nil)
	}()
	return id
}

func (h *HAL) StorageExistsAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		h.mu.Lock()
		_, ok := h.storage[key]
		h.mu.Unlock()
		if ok {
			h.complete(pid, id, hal.ResultExistsOK, []byte{1})
		} else {
			h.complete(pid, id, hal.ResultExistsOK, []byte{0})
		}
	}()
	return id
}

func (h *HAL) StorageListAsync(pid uint64, prefix string) uint64 {
	id := h.nextRequestID()
	go func() {
		h.mu.Lock()
		var keys []string
		for k := range h.storage {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		h.mu.Unlock()
		sort.Strings(keys)
		h.complete(pid, id, hal.ResultListOK, []byte(strings.Join(keys, "\n")))
	}()
	return id
}

func (h *HAL) Completions() <-chan hal.StorageCompletion {
	return h.completions
}

func (h *HAL) LoadBinary(ctx context.Context, name string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wasm, ok := h.binaries[name]
	if !ok {
		return nil, fmt.Errorf("memhal: no binary registered for %q: %w", name, errdefs.ErrNotFound)
	}
	return wasm, nil
}

func (h *HAL) SpawnProcess(ctx context.Context, name string, wasm []byte) (uint64, error) {
	id := h.nextRequestID()
	return id, nil
}
