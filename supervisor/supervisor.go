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

// Package supervisor runs the host-native scheduler loop: it drives
// scheduled runtime.ProcessRunners, pumps their trapped syscalls through
// the kernel, and routes HAL storage completions and platform events to
// the processes that own them. It never holds ordinary endpoint
// capabilities: platform events are delivered through privileged kernel
// APIs, never IPC, per spec §4.6.
package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/containerd/log"
	"golang.org/x/sync/errgroup"

	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/hal"
	"github.com/zeroos/kernel/runtime"
	"github.com/zeroos/kernel/runtime/wasmhost"
	"github.com/zeroos/kernel/services/proto"
)

var errSpawnTimeout = errors.New("supervisor: spawn request timed out")

// Supervisor owns the kernel, the HAL, and the set of running processes. It
// is not itself a scheduled process: it runs in the host's native
// execution context and is the sole writer to the kernel's syscall surface.
type Supervisor struct {
	Kernel *kernel.Kernel
	HAL    hal.HAL
	Spawns *SpawnTracker

	syscalls chan wasmhost.SyscallRequest

	mu      sync.Mutex
	runners map[process.ID]runtime.ProcessRunner
}

// New returns a Supervisor driving k against h. The syscall channel is
// buffered generously: every running WASM instance can have at most one
// trapped syscall in flight at a time, so its capacity only needs to cover
// a burst across many instances resuming in the same tick.
func New(k *kernel.Kernel, h hal.HAL) *Supervisor {
	return &Supervisor{
		Kernel:   k,
		HAL:      h,
		Spawns:   NewSpawnTracker(),
		syscalls: make(chan wasmhost.SyscallRequest, 256),
		runners:  make(map[process.ID]runtime.ProcessRunner),
	}
}

// Syscalls returns the channel runtime.ProcessRunners submit trapped
// syscalls on. wasmhost.Instance values constructed with this channel will
// have their syscalls pumped by Run.
func (s *Supervisor) Syscalls() chan<- wasmhost.SyscallRequest { return s.syscalls }

// Spawn launches runner in its own goroutine and registers it as the
// process's runner, so future syscall completions and kills can be
// correlated back to it.
func (s *Supervisor) Spawn(ctx context.Context, runner runtime.ProcessRunner) {
	s.mu.Lock()
	s.runners[runner.PID()] = runner
	s.mu.Unlock()

	go func() {
		if err := runner.Run(ctx); err != nil {
			log.G(ctx).WithField("pid", runner.PID()).WithError(err).Warn("supervisor: process runner exited with error")
		}
		s.mu.Lock()
		delete(s.runners, runner.PID())
		s.mu.Unlock()
	}()
}

// Run is the supervisor's main loop (spec §4.6 steps 1-4): it drains
// trapped syscalls and HAL storage completions until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	var completions <-chan hal.StorageCompletion
	if s.HAL != nil {
		completions = s.HAL.Completions()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-s.syscalls:
			result := s.Kernel.RawExecute(ctx, req.PID, req.Args)
			select {
			case req.Resp <- result:
			default:
			}

		case c, ok := <-completions:
			if !ok {
				completions = nil
				continue
			}
			s.deliverCompletion(ctx, c)
		}
	}
}

// deliverCompletion implements spec §4.6 step 3: turn a HAL storage
// completion into an MSG_STORAGE_RESULT IPC message delivered to the
// process that issued the request, via a privileged kernel send that does
// not require the supervisor to hold an endpoint capability. The owning PID
// travels on the completion itself (every HAL call site receives the
// issuing process as its first argument and threads it through), so both
// WASM guests trapping through STORAGE_* syscalls and native services
// calling the HAL directly route the same way.
func (s *Supervisor) deliverCompletion(ctx context.Context, c hal.StorageCompletion) {
	owner := process.ID(c.PID)
	if err := s.Kernel.DeliverPrivileged(ctx, owner, proto.MsgStorageResult, hal.EncodeCompletion(c)); err != nil {
		log.G(ctx).WithField("pid", owner).WithError(err).Warn("supervisor: failed to deliver storage completion")
	}
}

// RunGroup runs the supervisor loop under an errgroup, returning when it
// exits with an error or ctx is canceled. Runners started by Spawn keep
// their own goroutines and are not members of the group; they stop only
// through the ctx they were spawned with.
func RunGroup(ctx context.Context, s *Supervisor) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(ctx) })
	return g.Wait()
}
