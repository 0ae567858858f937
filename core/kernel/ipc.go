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

// CreateEndpoint implements EP_CREATE (0x35): allocate a fresh
// Endpoint owned by owner and install a full-rights capability to it in
// owner's CSpace. Returns the slot the new capability was installed at.
func (k *Kernel) CreateEndpoint(ctx context.Context, owner process.ID) int {
	slot, commits := k.createEndpoint(owner)
	k.Axiom.Seal(ctx, commits)
	return slot
}

func (k *Kernel) createEndpoint(owner process.ID) (int, []axiom.Commit) {
	id := k.endpoints.Allocate()
	k.endpoints.Insert(endpoint.New(id, uint64(owner)))

	capID := k.allocCapID()
	slot := k.cspace(owner).Insert(capability.Capability{
		ID:         capID,
		ObjectType: capability.ObjectEndpoint,
		ObjectID:   uint64(id),
		Perms:      capability.Full,
	})

	return slot, []axiom.Commit{
		{
			Kind:            axiom.KindEndpointCreated,
			EndpointCreated: &axiom.EndpointCreated{ID: uint64(id), Owner: uint64(owner)},
		},
		{
			Kind: axiom.KindCapInserted,
			CapInserted: &axiom.CapInserted{
				PID:        uint64(owner),
				Slot:       slot,
				CapID:      uint64(capID),
				ObjectType: uint8(capability.ObjectEndpoint),
				ObjectID:   uint64(id),
				Perms:      [3]bool{true, true, true},
			},
		},
	}
}

// SendMessage implements SEND (0x40). slot must hold a Write capability
// to an Endpoint; transferSlots names slots in the caller's own CSpace whose
// capabilities are moved (removed from the sender, attached to the message)
// rather than copied, per spec §4.3.
func (k *Kernel) SendMessage(ctx context.Context, caller process.ID, slot int, tag uint32, data []byte, transferSlots []int) int64 {
	result, commits := k.sendMessage(caller, slot, tag, data, transferSlots)
	k.Axiom.Seal(ctx, commits)
	return result
}

func (k *Kernel) sendMessage(caller process.ID, slot int, tag uint32, data []byte, transferSlots []int) (int64, []axiom.Commit) {
	cap, err := k.cspace(caller).Check(slot, k.nowMs(), capability.ObjectEndpoint, capability.Permissions{Write: true})
	if err != nil {
		return resultCode(err), nil
	}

	ep, ok := k.endpoints.Get(endpoint.ID(cap.ObjectID))
	if !ok {
		return resultCode(ErrEndpointNotFound), nil
	}

	var commits []axiom.Commit
	transferred := make([]capability.Capability, 0, len(transferSlots))
	for _, tslot := range transferSlots {
		tcap, err := k.cspace(caller).Check(tslot, k.nowMs(), k.mustType(caller, tslot), capability.Permissions{Grant: true})
		if err != nil {
			return resultCode(err), nil
		}
		k.cspace(caller).Remove(tslot)
		transferred = append(transferred, tcap.Attenuate(tcap.Perms))
		commits = append(commits, axiom.Commit{
			Kind:       axiom.KindCapRemoved,
			CapRemoved: &axiom.CapRemoved{PID: uint64(caller), Slot: tslot},
		})
	}

	ep.Enqueue(endpoint.Message{
		From:            uint64(caller),
		Tag:             tag,
		Data:            data,
		TransferredCaps: transferred,
	})
	k.ring(process.ID(ep.Owner))

	commits = append(commits, axiom.Commit{
		Kind: axiom.KindIPCSent,
		IPCSent: &axiom.IPCSent{
			From:     uint64(caller),
			Endpoint: uint64(ep.ID),
			Tag:      tag,
			Bytes:    len(data),
		},
	})

	if p, ok := k.procs.Get(caller); ok {
		p.Metrics.IPCSent++
		p.Metrics.IPCBytesSent += uint64(len(data))
	}

	return 1, commits
}

// Received is the result of a successful ipc_receive_with_caps: the
// message payload plus the CSpace slots any transferred capabilities were
// installed at, in the same order as Message.TransferredCaps.
type Received struct {
	Message  endpoint.Message
	CapSlots []int
}

// ReceiveWithCaps implements RECEIVE (0x41). slot must hold a
// Read capability to an Endpoint the caller owns. Returns result code 0
// (WouldBlock) if the queue is empty, never a fault: an empty mailbox is
// routine, not an error, per spec §4.3.
func (k *Kernel) ReceiveWithCaps(ctx context.Context, caller process.ID, slot int) (Received, int64) {
	recv, result, commits := k.receiveWithCaps(caller, slot)
	k.Axiom.Seal(ctx, commits)
	return recv, result
}

func (k *Kernel) receiveWithCaps(caller process.ID, slot int) (Received, int64, []axiom.Commit) {
	cap, err := k.cspace(caller).Check(slot, k.nowMs(), capability.ObjectEndpoint, capability.Permissions{Read: true})
	if err != nil {
		return Received{}, resultCode(err), nil
	}

	ep, ok := k.endpoints.Get(endpoint.ID(cap.ObjectID))
	if !ok {
		return Received{}, resultCode(ErrEndpointNotFound), nil
	}
	if ep.Owner != uint64(caller) {
		return Received{}, resultCode(ErrPermissionDenied), nil
	}

	msg, ok := ep.Dequeue()
	if !ok {
		return Received{}, resultCode(ErrWouldBlock), nil
	}

	var commits []axiom.Commit
	slots := make([]int, 0, len(msg.TransferredCaps))
	for _, tcap := range msg.TransferredCaps {
		newSlot := k.cspace(caller).Insert(tcap)
		slots = append(slots, newSlot)
		commits = append(commits, axiom.Commit{
			Kind: axiom.KindCapInserted,
			CapInserted: &axiom.CapInserted{
				PID:        uint64(caller),
				Slot:       newSlot,
				CapID:      uint64(tcap.ID),
				ObjectType: uint8(tcap.ObjectType),
				ObjectID:   tcap.ObjectID,
				Perms:      [3]bool{tcap.Perms.Read, tcap.Perms.Write, tcap.Perms.Grant},
			},
		})
	}

	commits = append(commits, axiom.Commit{
		Kind: axiom.KindIPCReceived,
		IPCReceived: &axiom.IPCReceived{
			To:       uint64(caller),
			Endpoint: uint64(ep.ID),
			Tag:      msg.Tag,
		},
	})

	if p, ok := k.procs.Get(caller); ok {
		p.Metrics.IPCReceived++
		p.Metrics.IPCBytesRecv += uint64(len(msg.Data))
	}

	return Received{Message: msg, CapSlots: slots}, 1, commits
}

// DeliverPrivileged enqueues a kernel-originated message (From: 0) on the
// first endpoint owned by target, ringing its doorbell. It bypasses the
// capability check SendMessage performs: HAL completions and other
// platform events are kernel-internal deliveries, not IPC a process routed
// through a capability it holds, per spec §4.6.
func (k *Kernel) DeliverPrivileged(ctx context.Context, target process.ID, tag uint32, data []byte) error {
	ids := k.endpoints.OwnedBy(uint64(target))
	if len(ids) == 0 {
		return ErrEndpointNotFound
	}
	ep, ok := k.endpoints.Get(ids[0])
	if !ok {
		return ErrEndpointNotFound
	}

	ep.Enqueue(endpoint.Message{From: 0, Tag: tag, Data: data})
	k.ring(target)

	commit := axiom.Commit{
		Kind: axiom.KindIPCSent,
		IPCSent: &axiom.IPCSent{
			From:     0,
			Endpoint: uint64(ep.ID),
			Tag:      tag,
			Bytes:    len(data),
		},
	}
	k.Axiom.Seal(ctx, []axiom.Commit{commit})
	return nil
}

// PendingCount returns the number of messages queued on the endpoint
// referenced by slot, for POLL-style syscalls that check readiness without
// consuming a message.
func (k *Kernel) PendingCount(caller process.ID, slot int) (int, error) {
	cap, err := k.cspace(caller).Check(slot, k.nowMs(), capability.ObjectEndpoint, capability.Permissions{Read: true})
	if err != nil {
		return 0, err
	}
	ep, ok := k.endpoints.Get(endpoint.ID(cap.ObjectID))
	if !ok {
		return 0, ErrEndpointNotFound
	}
	return ep.Len(), nil
}
