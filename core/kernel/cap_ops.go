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
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/internal/axiom"
)

// InsertCapability installs cap in the lowest free slot of pid's CSpace and
// seals a CapInserted commit. Used directly by privileged setup code
// (supervisor spawn orchestration, Init) that is not itself a syscall.
func (k *Kernel) InsertCapability(ctx context.Context, pid process.ID, cap capability.Capability) int {
	slot, commits := k.insertCapability(pid, cap)
	k.Axiom.Seal(ctx, commits)
	return slot
}

func (k *Kernel) insertCapability(pid process.ID, cap capability.Capability) (int, []axiom.Commit) {
	slot := k.cspace(pid).Insert(cap)
	return slot, []axiom.Commit{{
		Kind: axiom.KindCapInserted,
		CapInserted: &axiom.CapInserted{
			PID:        uint64(pid),
			Slot:       slot,
			CapID:      uint64(cap.ID),
			ObjectType: uint8(cap.ObjectType),
			ObjectID:   cap.ObjectID,
			Perms:      [3]bool{cap.Perms.Read, cap.Perms.Write, cap.Perms.Grant},
		},
	}}
}

// GrantCapability implements CAP_GRANT (0x30): the caller attenuates the
// capability in fromSlot to the intersection of its own permissions and
// requested, and installs the result in toPid's CSpace.
func (k *Kernel) GrantCapability(ctx context.Context, fromPid process.ID, fromSlot int, toPid process.ID, requested capability.Permissions) (int64, int) {
	result, newSlot, commits := k.grantCapability(fromPid, fromSlot, toPid, requested)
	k.Axiom.Seal(ctx, commits)
	return result, newSlot
}

func (k *Kernel) grantCapability(fromPid process.ID, fromSlot int, toPid process.ID, requested capability.Permissions) (int64, int, []axiom.Commit) {
	src, err := k.cspace(fromPid).Check(fromSlot, k.nowMs(), k.mustType(fromPid, fromSlot), capability.Permissions{Grant: true})
	if err != nil {
		return resultCode(err), -1, nil
	}

	attenuated := src.Attenuate(requested)
	newCapID := k.allocCapID()
	attenuated.ID = newCapID

	slot := k.cspace(toPid).Insert(attenuated)

	return 1, slot, []axiom.Commit{{
		Kind: axiom.KindCapGranted,
		CapGranted: &axiom.CapGranted{
			FromPID:  uint64(fromPid),
			ToPID:    uint64(toPid),
			FromSlot: fromSlot,
			ToSlot:   slot,
			NewCapID: uint64(newCapID),
			Perms:    [3]bool{attenuated.Perms.Read, attenuated.Perms.Write, attenuated.Perms.Grant},
		},
	}}
}

// mustType returns the ObjectType of whatever sits in slot, defaulting to
// ObjectEndpoint when the slot is empty (the subsequent Check call will
// fail with ErrInvalidSlot in that case, which is what we want to surface).
func (k *Kernel) mustType(pid process.ID, slot int) capability.ObjectType {
	if cap, ok := k.cspace(pid).Get(slot); ok {
		return cap.ObjectType
	}
	return capability.ObjectEndpoint
}

// RevokeCapability implements CAP_REVOKE (0x31): delete a slot from any
// CSpace. Per spec this is an Init-style privileged operation; callers are
// responsible for checking the caller is Init before invoking it from
// syscall dispatch.
func (k *Kernel) RevokeCapability(ctx context.Context, pid process.ID, slot int) int64 {
	result, commits := k.revokeCapability(pid, slot)
	k.Axiom.Seal(ctx, commits)
	return result
}

func (k *Kernel) revokeCapability(pid process.ID, slot int) (int64, []axiom.Commit) {
	if _, ok := k.cspace(pid).Get(slot); !ok {
		return resultCode(ErrInvalidCapability), nil
	}
	k.cspace(pid).Remove(slot)
	return 1, []axiom.Commit{{
		Kind:       axiom.KindCapRemoved,
		CapRemoved: &axiom.CapRemoved{PID: uint64(pid), Slot: slot},
	}}
}
