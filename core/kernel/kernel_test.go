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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/internal/axiom"
)

func newTestKernel() *Kernel {
	return New(nil, axiom.NewGateway(nil, nil))
}

func TestRegisterProcessEmitsProcessCreated(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	pid := k.RegisterProcess(ctx, process.Init, "worker")
	require.Equal(t, process.FirstDynamic, pid)

	p, ok := k.Process(pid)
	require.True(t, ok)
	require.Equal(t, "worker", p.Name)

	commits := k.Axiom.Commits.All()
	require.Len(t, commits, 1)
	require.Equal(t, axiom.KindProcessCreated, commits[0].Kind)
	require.Equal(t, uint64(pid), commits[0].ProcessCreated.PID)
}

func TestSpawnAndPingScenario(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	client := k.RegisterProcess(ctx, process.Init, "client")
	server := k.RegisterProcess(ctx, process.Init, "server")

	serverSlot := k.CreateEndpoint(ctx, server)
	_, ok := k.cspace(server).Get(serverSlot)
	require.True(t, ok)

	grantResult, clientSlot := k.GrantCapability(ctx, server, serverSlot, client, capability.Permissions{Write: true})
	require.EqualValues(t, 1, grantResult)

	sendResult := k.SendMessage(ctx, client, clientSlot, 0x1000, []byte{1, 2, 3}, nil)
	require.EqualValues(t, 1, sendResult)

	recv, recvResult := k.ReceiveWithCaps(ctx, server, serverSlot)
	require.EqualValues(t, 1, recvResult)
	require.Equal(t, uint64(client), recv.Message.From)
	require.Equal(t, uint32(0x1000), recv.Message.Tag)
	require.Equal(t, []byte{1, 2, 3}, recv.Message.Data)
}

func TestReceiveWouldBlockOnEmptyQueue(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	server := k.RegisterProcess(ctx, process.Init, "server")
	slot := k.CreateEndpoint(ctx, server)

	_, result := k.ReceiveWithCaps(ctx, server, slot)
	require.EqualValues(t, 0, result, "an empty endpoint must WouldBlock, not fault")
}

func TestReceiveRejectsNonOwner(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	owner := k.RegisterProcess(ctx, process.Init, "owner")
	other := k.RegisterProcess(ctx, process.Init, "other")
	ownerSlot := k.CreateEndpoint(ctx, owner)

	_, otherSlot := k.GrantCapability(ctx, owner, ownerSlot, other, capability.Full)
	_, result := k.ReceiveWithCaps(ctx, other, otherSlot)
	require.EqualValues(t, -1, result)
}

func TestGrantAttenuatesPermissions(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	a := k.RegisterProcess(ctx, process.Init, "a")
	b := k.RegisterProcess(ctx, process.Init, "b")
	slotA := k.CreateEndpoint(ctx, a)

	_, slotB := k.GrantCapability(ctx, a, slotA, b, capability.Permissions{Read: true})
	got, ok := k.cspace(b).Get(slotB)
	require.True(t, ok)
	require.Equal(t, capability.Permissions{Read: true}, got.Perms, "grant must not exceed requested even though source had Full")
}

func TestGrantRequiresGrantPermission(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	a := k.RegisterProcess(ctx, process.Init, "a")
	b := k.RegisterProcess(ctx, process.Init, "b")
	slotA := k.CreateEndpoint(ctx, a)

	readOnlySlot := k.InsertCapability(ctx, a, capability.Capability{
		ID:         99,
		ObjectType: capability.ObjectEndpoint,
		ObjectID:   mustObjectID(t, k, a, slotA),
		Perms:      capability.Permissions{Read: true},
	})

	result, _ := k.GrantCapability(ctx, a, readOnlySlot, b, capability.Full)
	require.EqualValues(t, -1, result)
}

func mustObjectID(t *testing.T, k *Kernel, pid process.ID, slot int) uint64 {
	t.Helper()
	cap, ok := k.cspace(pid).Get(slot)
	require.True(t, ok)
	return cap.ObjectID
}

func TestKillCascadesEndpointAndCapabilityDestruction(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	server := k.RegisterProcess(ctx, process.Init, "server")
	client := k.RegisterProcess(ctx, process.Init, "client")
	serverSlot := k.CreateEndpoint(ctx, server)
	_, clientSlot := k.GrantCapability(ctx, server, serverSlot, client, capability.Full)

	result := k.KillProcess(ctx, server, 0)
	require.EqualValues(t, 1, result)

	_, ok := k.Process(server)
	require.False(t, ok)

	_, ok = k.cspace(client).Get(clientSlot)
	require.False(t, ok, "killing the endpoint's owner must invalidate capabilities held by other processes")
}

func TestKillUnknownProcessFails(t *testing.T) {
	k := newTestKernel()
	result := k.KillProcess(context.Background(), 12345, 0)
	require.EqualValues(t, -1, result)
}

func TestAuthorizedToKill(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	target := k.RegisterProcess(ctx, process.Init, "target")
	holder := k.RegisterProcess(ctx, process.Init, "holder")

	require.True(t, k.authorizedToKill(process.Init, target))
	require.False(t, k.authorizedToKill(holder, target))

	k.InsertCapability(ctx, holder, capability.Capability{
		ID:         1,
		ObjectType: capability.ObjectProcess,
		ObjectID:   uint64(target),
		Perms:      capability.Permissions{Write: true},
	})
	require.True(t, k.authorizedToKill(holder, target))
}

func TestRevokeCapability(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	p := k.RegisterProcess(ctx, process.Init, "p")
	slot := k.CreateEndpoint(ctx, p)

	result := k.RevokeCapability(ctx, p, slot)
	require.EqualValues(t, 1, result)

	_, ok := k.cspace(p).Get(slot)
	require.False(t, ok)

	result = k.RevokeCapability(ctx, p, slot)
	require.EqualValues(t, -1, result, "revoking an already-empty slot must fail, not panic")
}
