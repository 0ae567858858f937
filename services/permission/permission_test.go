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

package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/internal/axiom"
	"github.com/zeroos/kernel/services/proto"
)

func newTestPermission(t *testing.T) (*kernel.Kernel, *Service, context.Context, func()) {
	t.Helper()
	k := kernel.New(nil, axiom.NewGateway(nil, nil))
	svc := New(k)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := k.Process(WellKnownPID)
		return ok
	}, time.Second, time.Millisecond)

	return k, svc, ctx, cancel
}

func checkPermission(t *testing.T, k *kernel.Kernel, ctx context.Context, subject process.ID, action, object string) bool {
	t.Helper()
	pid := k.RegisterProcess(ctx, process.Init, "asker")
	inbox := k.CreateEndpoint(ctx, pid)
	bell := k.Doorbell(pid)

	cs, ok := k.CSpace(WellKnownPID)
	require.True(t, ok)
	permCap, ok := cs.Get(0)
	require.True(t, ok)
	permSlot := k.InsertCapability(ctx, pid, capability.Capability{
		ID:         permCap.ID,
		ObjectType: capability.ObjectEndpoint,
		ObjectID:   permCap.ObjectID,
		Perms:      capability.Permissions{Write: true},
	})

	replyCode, writeSlot := k.GrantCapability(ctx, pid, inbox, pid, capability.Permissions{Write: true, Grant: true})
	require.EqualValues(t, 1, replyCode)

	data := proto.EncodePermissionCheck(proto.PermissionCheck{Subject: uint64(subject), Action: action, Object: object})
	code := k.SendMessage(ctx, pid, permSlot, proto.MsgPermissionCheck, data, []int{writeSlot})
	require.EqualValues(t, 1, code)

	select {
	case <-bell:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for permission reply")
	}

	recv, code := k.ReceiveWithCaps(ctx, pid, inbox)
	require.EqualValues(t, 1, code)
	require.Equal(t, proto.MsgPermissionResult, recv.Message.Tag)

	allowed, _, err := proto.DecodeStatus(recv.Message.Data)
	require.NoError(t, err)
	return allowed
}

func TestPermissionDefaultAllowsEverything(t *testing.T) {
	k, _, ctx, cancel := newTestPermission(t)
	defer cancel()

	require.True(t, checkPermission(t, k, ctx, 42, "lookup_service", "keystore"))
}

func TestPermissionDenyNarrowsOneSubject(t *testing.T) {
	k, svc, ctx, cancel := newTestPermission(t)
	defer cancel()

	svc.Deny(99, "lookup_service", "keystore")

	require.False(t, checkPermission(t, k, ctx, 99, "lookup_service", "keystore"))
	require.True(t, checkPermission(t, k, ctx, 100, "lookup_service", "keystore"))
	require.True(t, checkPermission(t, k, ctx, 99, "lookup_service", "vfs"))
}
