//go:build js && wasm

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

// Package wasmjs implements hal.HAL for the browser host named in spec §1
// and §4.6: storage goes through IndexedDB, binaries are fetched over
// HTTP, randomness comes from the Web Crypto API, and spawn requests go
// out over the "debug-channel fallback" spec §4.7 describes for the
// browser (there is no native process/thread primitive to hand a second
// WASM instance its own address space the way bare-metal's SpawnProcess
// implies, so the host page is notified via a CustomEvent and decides how
// to materialize a new instance — typically a dedicated Worker). Only
// builds under GOOS=js GOARCH=wasm; every other platform/test target uses
// platform/memhal or platform/baremetal instead.
package wasmjs

import (
	"context"
	"fmt"
	"sync"
	"syscall/js"

	"github.com/containerd/errdefs"

	"github.com/zeroos/kernel/hal"
)

const dbName = "zeroos-rawdisk"
const storeName = "kv"

// HAL is the browser hal.HAL implementation. The zero value is not usable;
// construct with New, which opens the backing IndexedDB database.
type HAL struct {
	mu     sync.Mutex
	reqIDs uint64
	db     js.Value

	completions chan hal.StorageCompletion
}

// New opens (creating if necessary) the IndexedDB database storage reads
// and writes are backed by. The open is itself asynchronous in the
// browser; New blocks the calling goroutine on a channel until the
// onsuccess/onupgradeneeded callback fires, the same sync-over-async
// bridge every other method here uses for promise-shaped browser APIs.
func New() (*HAL, error) {
	h := &HAL{completions: make(chan hal.StorageCompletion, 256)}

	result := make(chan js.Value, 1)
	errc := make(chan error, 1)

	req := js.Global().Get("indexedDB").Call("open", dbName, 1)
	req.Set("onupgradeneeded", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		db := args[0].Get("target").Get("result")
		if !db.Call("objectStoreNames").Call("contains", storeName).Bool() {
			db.Call("createObjectStore", storeName)
		}
		return nil
	}))
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		result <- args[0].Get("target").Get("result")
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		errc <- fmt.Errorf("wasmjs: open indexedDB: %s", args[0].Get("target").Get("error").Call("toString").String())
		return nil
	}))

	select {
	case db := <-result:
		h.db = db
	case err := <-errc:
		return nil, err
	}
	return h, nil
}

func (h *HAL) NowNanos() uint64 {
	ms := js.Global().Get("performance").Call("now").Float()
	return uint64(ms * 1e6)
}

func (h *HAL) WallclockMs() uint64 {
	return uint64(js.Global().Get("Date").Call("now").Float())
}

func (h *HAL) DebugWrite(s string) {
	js.Global().Get("console").Call("log", "[debug]", s)
}

func (h *HAL) ConsoleWrite(pid uint64, data []byte) {
	arr := js.Global().Get("Uint8Array").New(len(data))
	js.CopyBytesToJS(arr, data)
	js.Global().Get("console").Call("log", fmt.Sprintf("[pid %d]", pid), arr)
}

// FillRandom uses the Web Crypto API, the browser's only source of
// cryptographically strong randomness reachable from a WASM guest without
// a host-function round trip (spec §4.5's note on "pending stub host
// imports for modules compiled with browser-side JS glue
// (crypto/getrandom variants)").
func (h *HAL) FillRandom(buf []byte) {
	arr := js.Global().Get("Uint8Array").New(len(buf))
	js.Global().Get("crypto").Call("getRandomValues", arr)
	js.CopyBytesToGo(buf, arr)
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

// transaction opens a readwrite or readonly transaction on the kv store
// and returns its objectStore handle.
func (h *HAL) transaction(mode string) js.Value {
	tx := h.db.Call("transaction", storeName, mode)
	return tx.Call("objectStore", storeName)
}

func (h *HAL) StorageReadAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		store := h.transaction("readonly")
		req := store.Call("get", key)
		onDone := make(chan js.Value, 1)
		req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			onDone <- args[0].Get("target").Get("result")
			return nil
		}))
		req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			onDone <- js.Undefined()
			return nil
		}))
		v := <-onDone
		if v.IsUndefined() || v.IsNull() {
			h.complete(pid, id, hal.ResultNotFound, nil)
			return
		}
		data := make([]byte, v.Get("length").Int())
		js.CopyBytesToGo(data, v)
		h.complete(pid, id, hal.ResultReadOK, data)
	}()
	return id
}

func (h *HAL) StorageWriteAsync(pid uint64, key string, value []byte) uint64 {
	id := h.nextRequestID()
	cp := make([]byte, len(value))
	copy(cp, value)
	go func() {
		arr := js.Global().Get("Uint8Array").New(len(cp))
		js.CopyBytesToJS(arr, cp)

		store := h.transaction("readwrite")
		req := store.Call("put", arr, key)
		done := make(chan bool, 1)
		req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- true
			return nil
		}))
		req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- false
			return nil
		}))
		if <-done {
			h.complete(pid, id, hal.ResultWriteOK, nil)
		} else {
			h.complete(pid, id, hal.ResultError, nil)
		}
	}()
	return id
}

func (h *HAL) StorageDeleteAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		store := h.transaction("readwrite")
		req := store.Call("delete", key)
		done := make(chan bool, 1)
		req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- true
			return nil
		}))
		req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- false
			return nil
		}))
		if <-done {
			h.complete(pid, id, hal.ResultWriteOK, nil)
		} else {
			h.complete(pid, id, hal.ResultError, nil)
		}
	}()
	return id
}

func (h *HAL) StorageExistsAsync(pid uint64, key string) uint64 {
	id := h.nextRequestID()
	go func() {
		store := h.transaction("readonly")
		req := store.Call("count", key)
		done := make(chan int, 1)
		req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- args[0].Get("target").Get("result").Int()
			return nil
		}))
		req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- 0
			return nil
		}))
		if <-done > 0 {
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
		store := h.transaction("readonly")
		req := store.Call("getAllKeys")
		done := make(chan js.Value, 1)
		req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- args[0].Get("target").Get("result")
			return nil
		}))
		req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			done <- js.Null()
			return nil
		}))
		arr := <-done
		if arr.IsNull() {
			h.complete(pid, id, hal.ResultError, nil)
			return
		}

		var matches []string
		n := arr.Get("length").Int()
		for i := 0; i < n; i++ {
			k := arr.Index(i).String()
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				matches = append(matches, k)
			}
		}
		var joined string
		for i, k := range matches {
			if i > 0 {
				joined += "\n"
			}
			joined += k
		}
		h.complete(pid, id, hal.ResultListOK, []byte(joined))
	}()
	return id
}

func (h *HAL) Completions() <-chan hal.StorageCompletion {
	return h.completions
}

// LoadBinary fetches "<name>.wasm" over HTTP, the browser's only source of
// a named service binary (spec §6: "load_binary(name) -> bytes |
// NOT_SUPPORTED").
func (h *HAL) LoadBinary(ctx context.Context, name string) ([]byte, error) {
	promise := js.Global().Call("fetch", "/wasm/"+name+".wasm")

	type result struct {
		bytes []byte
		err   error
	}
	out := make(chan result, 1)

	var onResp, onBuf, onErr js.Func
	onResp = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resp := args[0]
		if !resp.Get("ok").Bool() {
			out <- result{err: fmt.Errorf("wasmjs: fetch %q: status %d: %w", name, resp.Get("status").Int(), errdefs.ErrNotFound)}
			return nil
		}
		resp.Call("arrayBuffer").Call("then", onBuf)
		return nil
	})
	onBuf = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		buf := js.Global().Get("Uint8Array").New(args[0])
		data := make([]byte, buf.Get("length").Int())
		js.CopyBytesToGo(data, buf)
		out <- result{bytes: data}
		return nil
	})
	onErr = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		out <- result{err: fmt.Errorf("wasmjs: fetch %q failed: %w", name, errdefs.ErrUnavailable)}
		return nil
	})
	defer onResp.Release()
	defer onBuf.Release()
	defer onErr.Release()

	promise.Call("then", onResp).Call("catch", onErr)

	select {
	case r := <-out:
		return r.bytes, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SpawnProcess dispatches a "zeroos:spawn" CustomEvent to the host page
// carrying the binary name and bytes, per spec §4.7's "debug-channel
// fallback intercepted by the supervisor" — the host page's own script is
// responsible for starting a Worker (or any other isolation it chooses)
// and reporting the result back over the same channel. The handle
// returned here only identifies the request; it is not a live reference
// to whatever the host eventually creates.
func (h *HAL) SpawnProcess(ctx context.Context, name string, wasm []byte) (uint64, error) {
	id := h.nextRequestID()

	arr := js.Global().Get("Uint8Array").New(len(wasm))
	js.CopyBytesToJS(arr, wasm)

	js.Global().Call("dispatchEvent",
		js.Global().Get("CustomEvent").New("zeroos:spawn", map[string]interface{}{
			"detail": map[string]interface{}{
				"requestId": id,
				"name":      name,
				"wasm":      arr,
			},
		}),
	)
	return id, nil
}
