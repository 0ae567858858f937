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
	"time"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/process"
)

func TestDoorbellRingsOnSend(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	server := k.RegisterProcess(ctx, process.Init, "server")
	client := k.RegisterProcess(ctx, process.Init, "client")
	serverSlot := k.CreateEndpoint(ctx, server)
	_, clientSlot := k.GrantCapability(ctx, server, serverSlot, client, capability.Full)

	bell := k.Doorbell(server)
	select {
	case <-bell:
		t.Fatal("doorbell must not ring before any message is sent")
	default:
	}

	k.SendMessage(ctx, client, clientSlot, 1, []byte("hi"), nil)

	select {
	case <-bell:
	case <-time.After(time.Second):
		t.Fatal("expected doorbell to ring after SendMessage")
	}
}
