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

// Package kernel implements the capability kernel's process table, endpoint
// table, per-process capability spaces, IPC, capability attenuation and
// transfer, and syscall dispatch. Most mutating methods are thin, public
// wrappers around an internal method that returns (Result, []axiom.Commit);
// only the public wrapper forwards the commit list to Axiom for sealing,
// and the internal methods hold no reference to the commit log (spec
// §4.1). The privileged paths RegisterWellKnown and DeliverPrivileged have
// no internal counterpart: they mutate state and seal their own commits
// directly.
package kernel

import (
	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/endpoint"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/hal"
	"github.com/zeroos/kernel/internal/axiom"
)

// Kernel owns the process table, endpoint table, per-process capability
// spaces, and the Axiom gateway every mutation is sealed through.
type Kernel struct {
	Axiom *axiom.Gateway
	HAL   hal.HAL

	procs     *process.Table
	endpoints *endpoint.Table
	cspaces   map[process.ID]*capability.CSpace

	nextCapID capability.ID
	reqIDs    axiom.RequestID

	doorbells map[process.ID]chan struct{}
}

// New returns a Kernel with an empty process/endpoint table and a fresh
// Axiom gateway. h may be nil for tests that never exercise a syscall
// requiring the platform (DEBUG, CONSOLE_WRITE, STORAGE_*, random).
func New(h hal.HAL, gw *axiom.Gateway) *Kernel {
	return &Kernel{
		Axiom:     gw,
		HAL:       h,
		procs:     process.NewTable(),
		endpoints: endpoint.NewTable(),
		cspaces:   make(map[process.ID]*capability.CSpace),
		nextCapID: 1,
		doorbells: make(map[process.ID]chan struct{}),
	}
}

// Doorbell returns a channel that receives a value (non-blocking, may drop
// redundant rings) each time a message is enqueued on an endpoint owned by
// pid. Native Go services use this to avoid busy-polling ReceiveWithCaps
// while a WASM process instead relies on the supervisor's syscall pump to
// retry a blocked RECEIVE on the next scheduler tick.
func (k *Kernel) Doorbell(pid process.ID) <-chan struct{} {
	return k.doorbell(pid)
}

func (k *Kernel) doorbell(pid process.ID) chan struct{} {
	ch, ok := k.doorbells[pid]
	if !ok {
		ch = make(chan struct{}, 1)
		k.doorbells[pid] = ch
	}
	return ch
}

func (k *Kernel) ring(pid process.ID) {
	select {
	case k.doorbell(pid) <- struct{}{}:
	default:
	}
}

func (k *Kernel) nowMs() uint64 {
	if k.HAL == nil {
		return 0
	}
	return k.HAL.WallclockMs()
}

func (k *Kernel) nowNs() uint64 {
	if k.HAL == nil {
		return 0
	}
	return k.HAL.NowNanos()
}

// cspace returns (creating if absent) the CSpace for pid.
func (k *Kernel) cspace(pid process.ID) *capability.CSpace {
	cs, ok := k.cspaces[pid]
	if !ok {
		cs = capability.NewCSpace()
		k.cspaces[pid] = cs
	}
	return cs
}

// Process returns the live process for pid.
func (k *Kernel) Process(pid process.ID) (*process.Process, bool) {
	return k.procs.Get(pid)
}

// Processes returns the full process table, ordered by PID.
func (k *Kernel) Processes() []*process.Process {
	return k.procs.List()
}

// CSpace returns the capability space for pid, for introspection (LIST_CAPS)
// by callers that already hold the kernel's single-writer invariant.
func (k *Kernel) CSpace(pid process.ID) (*capability.CSpace, bool) {
	cs, ok := k.cspaces[pid]
	return cs, ok
}

func (k *Kernel) allocCapID() capability.ID {
	id := k.nextCapID
	k.nextCapID++
	return id
}

// touch bumps a process's LastActiveNs and SyscallCount, called on every
// dispatched syscall regardless of outcome.
func (k *Kernel) touch(pid process.ID) {
	if p, ok := k.procs.Get(pid); ok {
		p.Metrics.LastActiveNs = k.nowNs()
		p.Metrics.SyscallCount++
	}
}
