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

// Package bootstrap drives Init's fixed boot order (spec §4.7):
// PermissionManager, VFS, Keystore, Identity, Time. It is privileged setup
// code in the same sense core/kernel/cap_ops.go's InsertCapability doc
// describes the supervisor's own spawn orchestration: it seeds each
// service's CSpace with the capability it needs to reach Init and register
// itself, rather than a process acquiring that capability through any
// syscall a guest could issue on its own. Identity has no process of its
// own (see services/identity's package doc) so it is not spawned here and
// has no field in Booted; initsvc.BootOrder still lists its place in the
// fixed order.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"dario.cat/mergo"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/hal"
	"github.com/zeroos/kernel/runtime"
	"github.com/zeroos/kernel/services/initsvc"
	"github.com/zeroos/kernel/services/keystore"
	"github.com/zeroos/kernel/services/permission"
	"github.com/zeroos/kernel/services/proto"
	"github.com/zeroos/kernel/services/timesvc"
	"github.com/zeroos/kernel/services/vfs"
)

// Config carries the boot-time defaults SPEC_FULL.md's configuration
// section names: the per-process storage quota VFS starts every caller
// with. Callers construct a partial Config and pass it to Boot, which
// merges it over DefaultConfig with mergo the way a real deployment layers
// an operator-supplied config file over built-in defaults.
type Config struct {
	DefaultQuota vfs.StorageQuota
}

// DefaultConfig is the baseline Boot merges a caller's Config over. 64 MiB
// is a generous per-process ceiling for a sandboxed WASM guest's private
// files; it exists to bound a single runaway writer, not to model a real
// storage budget.
var DefaultConfig = Config{
	DefaultQuota: vfs.StorageQuota{MaxBytes: 64 << 20},
}

// spawner is the subset of *supervisor.Supervisor Boot needs. Declared
// locally rather than imported so services/bootstrap doesn't need to
// depend on the supervisor package's other surface (syscalls channel,
// spawn tracker) just to start four process runners.
type spawner interface {
	Spawn(ctx context.Context, runner runtime.ProcessRunner)
}

// Booted is the set of well-known PIDs Boot brought up, for callers (tests,
// cmd/zosctl) that want to address a specific service afterward without
// re-deriving its constant from each service package.
type Booted struct {
	Permission process.ID
	VFS        process.ID
	Keystore   process.ID
	Time       process.ID
}

// Boot spawns PermissionManager, VFS, Keystore and Time in that fixed
// order on top of an already-running Init (process.Init must already be
// registered; Boot does not start Init itself since the supervisor and
// Init's own lifecycle are the caller's responsibility, the same
// separation supervisor.Spawn already draws between scheduling a runner
// and owning its startup sequencing). Each service is registered with Init
// and marked ready before the next is spawned, matching spec §4.7's
// sequential boot narrative.
func Boot(ctx context.Context, k *kernel.Kernel, h hal.HAL, sup spawner, cfg Config) (Booted, error) {
	merged := DefaultConfig
	if err := mergo.Merge(&merged, cfg, mergo.WithOverride); err != nil {
		return Booted{}, fmt.Errorf("bootstrap: merge config: %w", err)
	}

	perm := permission.New(k)
	if err := spawnAndRegister(ctx, k, sup, perm, "permissions"); err != nil {
		return Booted{}, err
	}

	v := vfs.New(k, h, vfs.Config{DefaultQuota: merged.DefaultQuota})
	if err := spawnAndRegister(ctx, k, sup, v, "vfs"); err != nil {
		return Booted{}, err
	}

	ks := keystore.New(k, h)
	if err := spawnAndRegister(ctx, k, sup, ks, "keystore"); err != nil {
		return Booted{}, err
	}

	ts := timesvc.New(k)
	if err := spawnAndRegister(ctx, k, sup, ts, "time"); err != nil {
		return Booted{}, err
	}

	return Booted{
		Permission: perm.PID(),
		VFS:        v.PID(),
		Keystore:   ks.PID(),
		Time:       ts.PID(),
	}, nil
}

// spawnAndRegister starts runner, waits for it to install its well-known
// process and endpoint (the same readiness gate every service's own test
// harness polls for with require.Eventually), then registers it with Init
// under name and marks it ready.
func spawnAndRegister(ctx context.Context, k *kernel.Kernel, sup spawner, runner runtime.ProcessRunner, name string) error {
	sup.Spawn(ctx, runner)

	pid := runner.PID()
	if err := awaitProcess(ctx, k, pid); err != nil {
		return fmt.Errorf("bootstrap: %s did not start: %w", name, err)
	}
	return registerWithInit(ctx, k, pid, name)
}

// awaitProcess polls for pid's process-table entry to appear, the way
// every service's own require.Eventually-based test setup already does,
// generalized into boot-time orchestration that has no testing.T to lean
// on.
func awaitProcess(ctx context.Context, k *kernel.Kernel, pid process.ID) error {
	const attempts = 500
	for i := 0; i < attempts; i++ {
		if _, ok := k.Process(pid); ok {
			if cs, ok := k.CSpace(pid); ok {
				if _, ok := cs.Get(0); ok {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return fmt.Errorf("pid %d never installed its endpoint", pid)
}

// registerWithInit performs the MSG_REGISTER_SERVICE / MSG_SERVICE_READY
// handshake on pid's behalf: seeds an Init capability into pid's CSpace and
// transfers a capability to pid's own well-known endpoint (always slot 0 —
// the first and only capability a freshly started service's Run installs
// before servicing any request) as the reply channel Init keeps for future
// lookups. The transferred capability carries Grant along with Write since
// ipc_send's transfer step axiom-checks the source slot for Grant before
// moving it into the message.
func registerWithInit(ctx context.Context, k *kernel.Kernel, pid process.ID, name string) error {
	initCS, ok := k.CSpace(process.Init)
	if !ok {
		return fmt.Errorf("bootstrap: init has no CSpace yet")
	}
	initEP, ok := initCS.Get(0)
	if !ok {
		return fmt.Errorf("bootstrap: init has no well-known endpoint yet")
	}
	initSlot := k.InsertCapability(ctx, pid, capability.Capability{
		ID:         initEP.ID,
		ObjectType: capability.ObjectEndpoint,
		ObjectID:   initEP.ObjectID,
		Perms:      capability.Permissions{Write: true},
	})

	replyCode, writeSlot := k.GrantCapability(ctx, pid, 0, pid, capability.Permissions{Write: true, Grant: true})
	if replyCode <= 0 {
		return fmt.Errorf("bootstrap: %s: failed to prepare init reply capability", name)
	}

	if code := k.SendMessage(ctx, pid, initSlot, proto.MsgRegisterService, proto.EncodeServiceName(name), []int{writeSlot}); code <= 0 {
		return fmt.Errorf("bootstrap: %s: register_service failed (%d)", name, code)
	}
	if code := k.SendMessage(ctx, pid, initSlot, proto.MsgServiceReady, nil, nil); code <= 0 {
		return fmt.Errorf("bootstrap: %s: service_ready failed (%d)", name, code)
	}
	return nil
}

var _ = initsvc.BootOrder // documents the order this file's call sequence follows
