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

package vfs

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/internal/axiom"
	"github.com/zeroos/kernel/platform/memhal"
	"github.com/zeroos/kernel/services/proto"
	"github.com/zeroos/kernel/supervisor"
)

// newTestVFS boots a kernel, a memhal, VFS itself, and a supervisor whose
// only job here is pumping HAL storage completions into IPC the way the
// real supervisor does (spec §4.6 step 3); VFS never trades syscalls with
// it since it holds the HAL directly.
func newTestVFS(t *testing.T) (*kernel.Kernel, context.Context, func()) {
	t.Helper()
	h := memhal.New()
	k := kernel.New(h, axiom.NewGateway(nil, nil))
	svc := New(k, h, Config{DefaultQuota: StorageQuota{MaxBytes: 1 << 20}})
	sup := supervisor.New(k, h)

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := k.Process(wellKnownVFSPID)
		return ok
	}, time.Second, time.Millisecond)

	return k, ctx, cancel
}

// client wraps a fresh process with an inbox, installed with a Write
// capability to VFS's well-known endpoint, so tests can send requests and
// await replies the way a real caller would.
type client struct {
	pid     process.ID
	inbox   int
	bell    <-chan struct{}
	vfsSlot int
}

func newClient(t *testing.T, k *kernel.Kernel, ctx context.Context, name string) *client {
	t.Helper()
	pid := k.RegisterProcess(ctx, process.Init, name)
	inbox := k.CreateEndpoint(ctx, pid)
	bell := k.Doorbell(pid)

	cs, ok := k.CSpace(wellKnownVFSPID)
	require.True(t, ok)
	vfsCap, ok := cs.Get(0)
	require.True(t, ok)

	slot := k.InsertCapability(ctx, pid, capability.Capability{
		ID:         vfsCap.ID,
		ObjectType: capability.ObjectEndpoint,
		ObjectID:   vfsCap.ObjectID,
		Perms:      capability.Permissions{Write: true},
	})

	return &client{pid: pid, inbox: inbox, bell: bell, vfsSlot: slot}
}

func (c *client) send(t *testing.T, k *kernel.Kernel, ctx context.Context, tag uint32, data []byte) {
	t.Helper()
	// SendMessage moves whatever capability it transfers out of the
	// sender's CSpace, so transferring c.inbox itself would leave the
	// client with nothing to receive its own reply on. Grant a
	// capability attenuated from c.inbox instead and transfer that;
	// c.inbox keeps its full rights for awaitReply. The attenuated copy
	// keeps Grant along with Write since ipc_send's transfer step
	// axiom-checks the source slot for Grant before moving it.
	replyCode, writeSlot := k.GrantCapability(ctx, c.pid, c.inbox, c.pid, capability.Permissions{Write: true, Grant: true})
	require.EqualValues(t, 1, replyCode)

	code := k.SendMessage(ctx, c.pid, c.vfsSlot, tag, data, []int{writeSlot})
	require.EqualValues(t, 1, code)
}

func (c *client) awaitReply(t *testing.T, k *kernel.Kernel, ctx context.Context) (bool, []byte) {
	t.Helper()
	select {
	case <-c.bell:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for vfs reply")
	}
	recv, code := k.ReceiveWithCaps(ctx, c.pid, c.inbox)
	require.EqualValues(t, 1, code)
	require.Equal(t, proto.MsgVFSReply, recv.Message.Tag)

	ok, body, err := proto.DecodeStatus(recv.Message.Data)
	require.NoError(t, err)
	return ok, body
}

// freshInbox creates a new endpoint for c, makes it c's inbox, and
// refreshes c's doorbell channel.
func (c *client) freshInbox(t *testing.T, k *kernel.Kernel, ctx context.Context) {
	t.Helper()
	c.inbox = k.CreateEndpoint(ctx, c.pid)
	c.bell = k.Doorbell(c.pid)
}

func encodeWrite(path string, content []byte) []byte {
	buf := make([]byte, 2+len(path)+len(content))
	binary.LittleEndian.PutUint16(buf[:2], uint16(len(path)))
	copy(buf[2:], path)
	copy(buf[2+len(path):], content)
	return buf
}

func TestVFSMkdirThenStat(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "mkdir-client")
	c.send(t, k, ctx, proto.MsgVFSMkdir, []byte("/home/alice"))
	ok, _ := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSStat, []byte("/home/alice"))
	ok, body := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	inode, err := UnmarshalInode(body)
	require.NoError(t, err)
	require.True(t, inode.IsDirectory())
	require.Equal(t, "/home/alice", inode.Path)
}

func TestVFSStatMissingPathNotFound(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "stat-client")
	c.send(t, k, ctx, proto.MsgVFSStat, []byte("/no/such/path"))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "not found", string(body))
}

func TestVFSExists(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "exists-client")
	c.send(t, k, ctx, proto.MsgVFSExists, []byte("/nothing"))
	ok, body := c.awaitReply(t, k, ctx)
	require.True(t, ok)
	require.Equal(t, []byte{0}, body)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSMkdir, []byte("/tmp"))
	ok, _ = c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSExists, []byte("/tmp"))
	ok, body = c.awaitReply(t, k, ctx)
	require.True(t, ok)
	require.Equal(t, []byte{1}, body)
}

// TestVFSWriteThenRead exercises the full beginWrite pipeline: parent
// lookup, old-inode read for quota accounting, inode write, then content
// write, confirming the opWrite -> opWriteContent stage handoff delivers a
// reply instead of hanging.
func TestVFSWriteThenRead(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "write-client")
	c.send(t, k, ctx, proto.MsgVFSWrite, encodeWrite("/greeting.txt", []byte("hello zero")))
	ok, _ := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSRead, []byte("/greeting.txt"))
	ok, body := c.awaitReply(t, k, ctx)
	require.True(t, ok)
	require.Equal(t, "hello zero", string(body))
}

func TestVFSReadMissingFileNotFound(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "read-client")
	c.send(t, k, ctx, proto.MsgVFSRead, []byte("/ghost.txt"))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "not found", string(body))
}

func TestVFSReadDirectoryRejected(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "read-dir-client")
	c.send(t, k, ctx, proto.MsgVFSMkdir, []byte("/adir"))
	ok, _ := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSRead, []byte("/adir"))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "not a file", string(body))
}

func TestVFSWriteUnderMissingParentRejected(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "orphan-write-client")
	c.send(t, k, ctx, proto.MsgVFSWrite, encodeWrite("/no/parent/file.txt", []byte("x")))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "parent is not a directory", string(body))
}

func TestVFSMkdirAlreadyExistsRejected(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "mkdir-twice-client")
	c.send(t, k, ctx, proto.MsgVFSMkdir, []byte("/dup"))
	ok, _ := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSMkdir, []byte("/dup"))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "already exists", string(body))
}

func TestVFSRmdirRequiresDirectory(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "rmdir-client")
	c.send(t, k, ctx, proto.MsgVFSWrite, encodeWrite("/file.txt", []byte("data")))
	ok, _ := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSRmdir, []byte("/file.txt"))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "not a directory", string(body))

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSMkdir, []byte("/emptydir"))
	ok, _ = c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSRmdir, []byte("/emptydir"))
	ok, _ = c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSStat, []byte("/emptydir"))
	ok, _ = c.awaitReply(t, k, ctx)
	require.False(t, ok)
}

func TestVFSUnlinkRemovesFile(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "unlink-client")
	c.send(t, k, ctx, proto.MsgVFSWrite, encodeWrite("/doomed.txt", []byte("bye")))
	ok, _ := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSUnlink, []byte("/doomed.txt"))
	ok, _ = c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSExists, []byte("/doomed.txt"))
	ok, body := c.awaitReply(t, k, ctx)
	require.True(t, ok)
	require.Equal(t, []byte{0}, body)
}

func TestVFSUnlinkMissingNotFound(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "unlink-missing-client")
	c.send(t, k, ctx, proto.MsgVFSUnlink, []byte("/never-existed.txt"))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "not found", string(body))
}

func TestVFSReaddirListsChildren(t *testing.T) {
	k, ctx, cancel := newTestVFS(t)
	defer cancel()

	c := newClient(t, k, ctx, "readdir-client")
	c.send(t, k, ctx, proto.MsgVFSMkdir, []byte("/docs"))
	ok, _ := c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSWrite, encodeWrite("/docs/a.txt", []byte("a")))
	ok, _ = c.awaitReply(t, k, ctx)
	require.True(t, ok)

	c.freshInbox(t, k, ctx)
	c.send(t, k, ctx, proto.MsgVFSReaddir, []byte("/docs"))
	ok, _ = c.awaitReply(t, k, ctx)
	require.True(t, ok)
}

// TestVFSWriteOverQuotaRejected confirms CheckWrite's pre-storage rejection
// fires before any content: write is issued, per the VFS supplement's
// quota-check-before-storage-call ordering.
func TestVFSWriteOverQuotaRejected(t *testing.T) {
	h := memhal.New()
	k := kernel.New(h, axiom.NewGateway(nil, nil))
	svc := New(k, h, Config{DefaultQuota: StorageQuota{MaxBytes: 4}})
	sup := supervisor.New(k, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)
	go svc.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := k.Process(wellKnownVFSPID)
		return ok
	}, time.Second, time.Millisecond)

	c := newClient(t, k, ctx, "quota-client")
	c.send(t, k, ctx, proto.MsgVFSWrite, encodeWrite("/big.txt", []byte("way too much data")))
	ok, body := c.awaitReply(t, k, ctx)
	require.False(t, ok)
	require.Equal(t, "over quota", string(body))
}
