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

package supervisor

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/hal"
	"github.com/zeroos/kernel/internal/axiom"
	"github.com/zeroos/kernel/platform/memhal"
	"github.com/zeroos/kernel/runtime/wasmhost"
	"github.com/zeroos/kernel/services/proto"
)

// encodeStorageWrite builds a STORAGE_WRITE syscall payload in the same
// u16 path_len | path | value wire layout dispatchStorage decodes.
func encodeStorageWrite(path string, value []byte) []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(len(path)))
	out = append(out, path...)
	out = append(out, value...)
	return out
}

func TestSupervisorPumpsTrappedSyscall(t *testing.T) {
	h := memhal.New()
	k := kernel.New(h, axiom.NewGateway(nil, nil))
	s := New(k, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	pid := k.RegisterProcess(ctx, process.Init, "probe")
	resp := make(chan kernel.Result, 1)
	s.Syscalls() <- wasmhost.SyscallRequest{
		PID:  pid,
		Args: kernel.Args{Num: kernel.SysGetPID},
		Resp: resp,
	}

	select {
	case result := <-resp:
		require.EqualValues(t, pid, result.Code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for syscall result")
	}
}

func TestSupervisorDeliversStorageCompletion(t *testing.T) {
	h := memhal.New()
	k := kernel.New(h, axiom.NewGateway(nil, nil))
	s := New(k, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	writer := k.RegisterProcess(ctx, process.Init, "writer")
	serverSlot := k.CreateEndpoint(ctx, writer)
	_ = serverSlot
	bell := k.Doorbell(writer)

	resp := make(chan kernel.Result, 1)
	s.Syscalls() <- wasmhost.SyscallRequest{
		PID:  writer,
		Args: kernel.Args{Num: kernel.SysStorageWrite, Data: encodeStorageWrite("/tmp/probe", []byte("hello"))},
		Resp: resp,
	}

	select {
	case <-resp:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for storage syscall result")
	}

	select {
	case <-bell:
	case <-time.After(time.Second):
		t.Fatal("expected doorbell to ring once the storage completion is delivered")
	}

	recv, code := k.ReceiveWithCaps(ctx, writer, serverSlot)
	require.EqualValues(t, 1, code)
	require.Equal(t, proto.MsgStorageResult, recv.Message.Tag)

	readResp := make(chan kernel.Result, 1)
	s.Syscalls() <- wasmhost.SyscallRequest{
		PID:  writer,
		Args: kernel.Args{Num: kernel.SysStorageRead, Data: []byte("/tmp/probe")},
		Resp: readResp,
	}
	select {
	case <-readResp:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for storage read result")
	}
	select {
	case <-bell:
	case <-time.After(time.Second):
		t.Fatal("expected doorbell to ring once the read completion is delivered")
	}

	readRecv, readCode := k.ReceiveWithCaps(ctx, writer, serverSlot)
	require.EqualValues(t, 1, readCode)
	completion, err := hal.DecodeCompletion(readRecv.Message.Data)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), completion.Data)
}
