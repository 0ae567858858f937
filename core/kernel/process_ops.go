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

package kernel

import (
	"context"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/endpoint"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/internal/axiom"
)

// RegisterProcess implements REGISTER_PROCESS (0x14): allocate a new PID and
// create its process-table entry and empty CSpace. Callers must verify the
// requester is Init before invoking this from syscall dispatch.
func (k *Kernel) RegisterProcess(ctx context.Context, parent process.ID, name string) process.ID {
	pid, commits := k.registerProcess(parent, name)
	k.Axiom.Seal(ctx, commits)
	return pid
}

func (k *Kernel) registerProcess(parent process.ID, name string) (process.ID, []axiom.Commit) {
	pid := k.procs.AllocatePID()
	k.procs.Insert(&process.Process{
		PID:   pid,
		Name:  name,
		State: process.Running,
		Metrics: process.Metrics{
			StartTimeNs: k.nowNs(),
		},
	})
	k.cspaces[pid] = capability.NewCSpace()

	return pid, []axiom.Commit{{
		Kind: axiom.KindProcessCreated,
		ProcessCreated: &axiom.ProcessCreated{
			PID:    uint64(pid),
			Parent: uint64(parent),
			Name:   name,
		},
	}}
}

// RegisterWellKnown installs a process entry at an explicit PID, used for
// the fixed boot order (Init=1, PermissionManager=2, ...) where the PID is
// a protocol constant rather than an allocation result.
func (k *Kernel) RegisterWellKnown(ctx context.Context, pid process.ID, parent process.ID, name string) {
	commits := []axiom.Commit{{
		Kind: axiom.KindProcessCreated,
		ProcessCreated: &axiom.ProcessCreated{
			PID:    uint64(pid),
			Parent: uint64(parent),
			Name:   name,
		},
	}}
	k.procs.Insert(&process.Process{
		PID:   pid,
		Name:  name,
		State: process.Running,
		Metrics: process.Metrics{
			StartTimeNs: k.nowNs(),
		},
	})
	k.cspaces[pid] = capability.NewCSpace()
	k.Axiom.Seal(ctx, commits)
}

// KillProcess implements KILL (0x13). Authorization (caller == Init, or
// caller holds a Process/write capability to target) is the dispatcher's
// responsibility; this method performs the unconditional teardown.
func (k *Kernel) KillProcess(ctx context.Context, target process.ID, code int32) int64 {
	result, commits := k.destroyProcess(target, code, nil)
	k.Axiom.Seal(ctx, commits)
	return result
}

// FaultProcess implements the fault path (invalid syscall, memory
// violation, capability violation, panic, watchdog timeout). A
// ProcessFaulted commit is recorded before termination so the audit trail
// survives the kill, as spec §7 requires.
func (k *Kernel) FaultProcess(ctx context.Context, target process.ID, reason, description string) int64 {
	fault := &axiom.ProcessFaulted{PID: uint64(target), Reason: reason, Description: description}
	result, commits := k.destroyProcess(target, -1, fault)
	k.Axiom.Seal(ctx, commits)
	return result
}

// destroyProcess tears a process down: every endpoint it owns is destroyed
// (dropping in-queue messages with no delivery commit), every capability in
// any CSpace referencing that process or one of its endpoints is
// invalidated, and finally the process itself is removed. Commits are
// emitted in the order spec §3's invariant requires: EndpointDestroyed
// commits precede ProcessExited/ProcessFaulted, which precede reaping.
func (k *Kernel) destroyProcess(target process.ID, code int32, fault *axiom.ProcessFaulted) (int64, []axiom.Commit) {
	if _, ok := k.procs.Get(target); !ok {
		return resultCode(ErrProcessNotFound), nil
	}

	var commits []axiom.Commit

	for _, eid := range k.endpoints.OwnedBy(uint64(target)) {
		k.endpoints.Remove(eid)
		commits = append(commits, axiom.Commit{
			Kind:              axiom.KindEndpointDestroyed,
			EndpointDestroyed: &axiom.EndpointDestroyed{ID: uint64(eid)},
		})
		k.invalidateCapsToObject(capability.ObjectEndpoint, uint64(eid))
	}

	k.invalidateCapsToObject(capability.ObjectProcess, uint64(target))

	if fault != nil {
		commits = append(commits, axiom.Commit{Kind: axiom.KindProcessFaulted, ProcessFaulted: fault})
	} else {
		commits = append(commits, axiom.Commit{
			Kind:          axiom.KindProcessExited,
			ProcessExited: &axiom.ProcessExited{PID: uint64(target), Code: code},
		})
	}

	k.procs.Remove(target)
	delete(k.cspaces, target)
	delete(k.doorbells, target)

	return 1, commits
}

// invalidateCapsToObject removes every slot, in every CSpace, whose
// capability refers to the given object. It does not emit CapRemoved
// commits: the object's own destruction commit (EndpointDestroyed /
// ProcessExited) is the audit record; a flood of per-holder CapRemoved
// commits would not add information spec §3 requires.
func (k *Kernel) invalidateCapsToObject(objType capability.ObjectType, objectID uint64) {
	for _, cs := range k.cspaces {
		cs.RemoveByObject(objType, objectID)
	}
}

// EndpointOwnerOf returns the PID owning endpoint id, for the supervisor's
// privileged completion-delivery path (spec §4.6 step 3/4: the supervisor
// never holds ordinary endpoint capabilities, so it resolves ownership
// directly rather than through a CSpace check).
func (k *Kernel) EndpointOwnerOf(id endpoint.ID) (process.ID, bool) {
	e, ok := k.endpoints.Get(id)
	if !ok {
		return 0, false
	}
	return process.ID(e.Owner), true
}
