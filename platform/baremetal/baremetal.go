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

// Package baremetal implements hal.HAL for the x86_64/QEMU target named in
// spec §1: storage goes through platform/baremetal/rawdisk against a
// VirtIO block device file, console/debug output goes to the serial
// console device, and service binaries are loaded from a directory on a
// second VirtIO block device formatted as a plain filesystem by the boot
// image. Bringing up application processors, paging and the VirtIO device
// drivers themselves is boot-loader and assembly territory outside what
// idiomatic Go can express; this package starts from an already-running
// Go runtime with those devices exposed as file descriptors, the same
// assumption u-root-style Go init systems make.
package baremetal

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/fsnotify/fsnotify"

	"github.com/zeroos/kernel/hal"
	"github.com/zeroos/kernel/platform/baremetal/rawdisk"
)

// Config configures a HAL instance. DevicePath and BinaryDir are required;
// everything else has a workable zero value.
type Config struct {
	// DevicePath is the raw block device (or a plain file standing in for
	// one under QEMU's -drive option) rawdisk formats and persists to.
	DevicePath string
	// CapacitySectors bounds how large the append-only log may grow
	// before a write forces a compaction.
	CapacitySectors uint64
	// BinaryDir holds named WASM service binaries as "<name>.wasm" files,
	// the bare-metal equivalent of Init's boot image payload.
	BinaryDir string
	// WatchBinaries enables an fsnotify watch on BinaryDir so a binary
	// replaced on disk (a developer's `-drive` image rebuilt and
	// re-attached) is picked up without a reboot. Off by default since a
	// production boot image never mutates after boot.
	WatchBinaries bool
}

// HAL is the bare-metal hal.HAL implementation.
type HAL struct {
	cfg   Config
	store *rawdisk.Store
	dev   *os.File

	mu       sync.Mutex
	reqIDs   uint64
	binaries map[string][]byte

	completions chan hal.StorageCompletion
	start       time.Time

	watcher *fsnotify.Watcher
}

// New opens cfg.DevicePath and mounts its rawdisk store. Callers should
// call Close when the platform shuts down to flush the watcher and device
// file descriptor.
func New(cfg Config) (*HAL, error) {
	if cfg.CapacitySectors == 0 {
		cfg.CapacitySectors = 1 << 20 // 512MiB at the 512-byte sector size
	}

	dev, err := os.OpenFile(cfg.DevicePath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("baremetal: open device %q: %w", cfg.DevicePath, err)
	}

	store, err := rawdisk.Open(dev, cfg.CapacitySectors)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("baremetal: mount rawdisk: %w", err)
	}

	h := &HAL{
		cfg:         cfg,
		store:       store,
		dev:         dev,
		binaries:    make(map[string][]byte),
		completions: make(chan hal.StorageCompletion, 256),
		start:       time.Now(),
	}

	if cfg.WatchBinaries && cfg.BinaryDir != "" {
		if err := h.watchBinaries(); err != nil {
			dev.Close()
			return nil, err
		}
	}

	return h, nil
}

// Close releases the backing device file descriptor and stops the binary
// watcher, if any.
func (h *HAL) Close() error {
	if h.watcher != nil {
		h.watcher.Close()
	}
	return h.dev.Close()
}

func (h *HAL) watchBinaries() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("baremetal: start binary watcher: %w", err)
	}
	if err := w.Add(h.cfg.BinaryDir); err != nil {
		w.Close()
		return fmt.Errorf("baremetal: watch %q: %w", h.cfg.BinaryDir, err)
	}
	h.watcher = w

	go func() {
		for {
			select {
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if evt.Op == fsnotify.Write || evt.Op == fsnotify.Create {
					h.invalidateBinary(filepath.Base(evt.Name))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.G(context.Background()).WithError(err).Warn("baremetal: binary watcher error")
			}
		}
	}()
	return nil
}

func (h *HAL) invalidateBinary(fileName string) {
	name := strings.TrimSuffix(fileName, ".wasm")
	h.mu.Lock()
	delete(h.binaries, name)
	h.mu.Unlock()
	log.G(context.Background()).WithField("binary", name).Info("baremetal: reloaded binary from disk")
}

func (h *HAL) NowNanos() uint64 {
	return uint64(time.Since(h.start).Nanoseconds())
}

func (h *HAL) WallclockMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// DebugWrite writes to the serial console file descriptor, the standard
// QEMU `-serial stdio` destination for kernel trace output.
func (h *HAL) DebugWrite(s string) {
	fmt.Fprintln(os.Stderr, "[debug]", s)
}

// ConsoleWrite writes a process's console output to stdout, tagging it
// with the originating PID the way a multiplexed VirtIO console would.
func (h *HAL) ConsoleWrite(pid uint64, data []byte) {
	fmt.Fprintf(os.Stdout, "[pid %d] %s", pid, data)
}

// FillRandom draws from the Go runtime's entropy source, which on Linux is
// backed by getrandom(2)/RDRAND the same way it would be for any other
// bare-metal Go program; platform/wasmjs instead has to ask the browser's
// Crypto API for this.
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

func (h *HAL) StorageReadAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		v, err := h.store.Read(key)
		if err != nil {
			h.complete(pid, id, hal.ResultNotFound, nil)
			return
		}
		h.complete(pid, id, hal.ResultReadOK, v)
	}()
	return id
}

func (h *HAL) StorageWriteAsync(pid uint64, key string, value []byte) uint64 {
	id := h.nextRequestID()
	cp := make([]byte, len(value))
	copy(cp, value)
	go func() {
		if err := h.store.Write(key, cp); err != nil {
			h.complete(pid, id, hal.ResultError, []byte(err.Error()))
			return
		}
		h.complete(pid, id, hal.ResultWriteOK, nil)
	}()
	return id
}

func (h *HAL) StorageDeleteAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		if err := h.store.Delete(key); err != nil {
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
		if h.store.Exists(key) {
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
		keys := h.store.List(prefix)
		sort.Strings(keys)
		h.complete(pid, id, hal.ResultListOK, []byte(strings.Join(keys, "\n")))
	}()
	return id
}

func (h *HAL) Completions() <-chan hal.StorageCompletion {
	return h.completions
}

// LoadBinary reads "<name>.wasm" from cfg.BinaryDir, caching it in memory
// until WatchBinaries invalidates the entry.
func (h *HAL) LoadBinary(ctx context.Context, name string) ([]byte, error) {
	h.mu.Lock()
	if cached, ok := h.binaries[name]; ok {
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	if h.cfg.BinaryDir == "" {
		return nil, fmt.Errorf("baremetal: no binary directory configured: %w", errdefs.ErrNotImplemented)
	}
	path := filepath.Join(h.cfg.BinaryDir, name+".wasm")
	wasm, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("baremetal: no binary named %q: %w", name, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("baremetal: read %q: %w", path, err)
	}

	h.mu.Lock()
	h.binaries[name] = wasm
	h.mu.Unlock()
	return wasm, nil
}

// SpawnProcess reserves a platform-level execution slot and returns its
// handle. Actually materializing a new hardware thread (bringing up an
// application processor via ACPI/MADT, or a fresh stack under the existing
// one) is outside what this Go-level HAL does; the supervisor schedules
// the resulting runtime.ProcessRunner on its own goroutine regardless of
// which platform handle backs it, so the handle only needs to be unique.
func (h *HAL) SpawnProcess(ctx context.Context, name string, wasm []byte) (uint64, error) {
	return h.nextRequestID(), nil
}
