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

// Package wasmhost adapts a compiled WASM binary into a runtime.ProcessRunner
// using wazero. Each Instance runs its guest module on a dedicated
// goroutine; the zos_syscall host import blocks that goroutine on a channel
// round trip to the supervisor's syscall pump rather than unwinding the
// guest's call stack, since Go gives every process its own native stack
// where the original bare-metal/browser implementations had to trap and
// resume by hand.
package wasmhost

import (
	"context"
	"fmt"

	"github.com/containerd/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
)

// SyscallRequest is one trapped zos_syscall, handed to the supervisor's
// pump over a channel. Resp is buffered size 1 so the pump never blocks
// delivering a result back to a guest that is no longer listening (e.g. it
// was killed mid-syscall).
type SyscallRequest struct {
	PID  process.ID
	Args kernel.Args
	Resp chan kernel.Result
}

// Instance hosts one compiled WASM binary as a dedicated process.
type Instance struct {
	pid      process.ID
	name     string
	wasm     []byte
	syscalls chan<- SyscallRequest

	pendingSend  []byte
	lastResponse []byte
}

// New returns an Instance that will trap syscalls onto syscalls, tagged
// with pid. wasm is the compiled module's bytes; name is used only for
// diagnostics (wazero module naming, log fields).
func New(pid process.ID, name string, wasm []byte, syscalls chan<- SyscallRequest) *Instance {
	return &Instance{pid: pid, name: name, wasm: wasm, syscalls: syscalls}
}

func (i *Instance) PID() process.ID { return i.pid }

// Run instantiates the module, links the zos_* host imports, and invokes
// its entry point. It returns when the guest's entry function returns (the
// process's EXIT syscall is expected to be the normal way this happens) or
// when ctx is canceled.
func (i *Instance) Run(ctx context.Context) error {
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(i.zosSyscall).Export("zos_syscall").
		NewFunctionBuilder().WithFunc(i.zosSendBytes).Export("zos_send_bytes").
		NewFunctionBuilder().WithFunc(i.zosRecvBytes).Export("zos_recv_bytes").
		NewFunctionBuilder().WithFunc(i.zosYield).Export("zos_yield").
		NewFunctionBuilder().WithFunc(i.zosGetPID).Export("zos_get_pid").
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("wasmhost: failed to link host module for pid %d: %w", i.pid, err)
	}

	compiled, err := rt.CompileModule(ctx, i.wasm)
	if err != nil {
		return fmt.Errorf("wasmhost: failed to compile module %q: %w", i.name, err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(i.name))
	if err != nil {
		return fmt.Errorf("wasmhost: failed to instantiate module %q: %w", i.name, err)
	}
	defer mod.Close(ctx)

	start := mod.ExportedFunction("_start")
	if start == nil {
		return fmt.Errorf("wasmhost: module %q exports no _start function", i.name)
	}

	done := make(chan error, 1)
	go func() {
		_, err := start.Call(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// zosSyscall is zos_syscall(num, a1, a2, a3) -> i64. It stages the guest's
// pending zos_send_bytes payload as the request's Data, submits the
// request, and blocks this goroutine until the supervisor responds.
func (i *Instance) zosSyscall(ctx context.Context, mod api.Module, num, a1, a2, a3 uint32) uint64 {
	args := kernel.Args{Num: num, A1: a1, A2: a2, A3: a3, Data: i.pendingSend}
	i.pendingSend = nil

	resp := make(chan kernel.Result, 1)
	select {
	case i.syscalls <- SyscallRequest{PID: i.pid, Args: args, Resp: resp}:
	case <-ctx.Done():
		return uint64(kernel.Result{Code: -1}.Code)
	}

	select {
	case result := <-resp:
		i.lastResponse = result.Response
		return uint64(result.Code)
	case <-ctx.Done():
		return uint64(kernel.Result{Code: -1}.Code)
	}
}

// zosSendBytes is zos_send_bytes(ptr, len): stage len bytes from the
// guest's linear memory at ptr as the next syscall's payload.
func (i *Instance) zosSendBytes(ctx context.Context, mod api.Module, ptr, length uint32) {
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		log.G(ctx).WithField("pid", i.pid).Warn("wasmhost: zos_send_bytes with out-of-bounds pointer")
		return
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	i.pendingSend = cp
}

// zosRecvBytes is zos_recv_bytes(ptr, max_len) -> u32: copy up to max_len
// bytes of the last syscall's rich response into the guest's memory at
// ptr, returning the number of bytes actually copied.
func (i *Instance) zosRecvBytes(ctx context.Context, mod api.Module, ptr, maxLen uint32) uint32 {
	n := uint32(len(i.lastResponse))
	if n > maxLen {
		n = maxLen
	}
	if n == 0 {
		return 0
	}
	if !mod.Memory().Write(ptr, i.lastResponse[:n]) {
		log.G(ctx).WithField("pid", i.pid).Warn("wasmhost: zos_recv_bytes with out-of-bounds pointer")
		return 0
	}
	return n
}

func (i *Instance) zosYield(ctx context.Context, mod api.Module) {
	i.zosSyscall(ctx, mod, uint32(kernel.SysYield), 0, 0, 0)
}

func (i *Instance) zosGetPID(ctx context.Context, mod api.Module) uint32 {
	return uint32(i.pid)
}
