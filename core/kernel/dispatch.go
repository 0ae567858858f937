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
	"encoding/binary"

	"github.com/containerd/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/internal/axiom"
)

// Args bundles a syscall's register arguments and any bytes the caller
// staged via zos_send_bytes before trapping. SEND, REGISTER_PROCESS,
// DEBUG, CONSOLE_WRITE and the STORAGE_* opcodes read Data; every other
// opcode ignores it.
type Args struct {
	Num        uint32
	A1, A2, A3 uint32
	Data       []byte
}

// Result is what the supervisor copies back into the caller's linear
// memory: Code is the packed i64 zos_syscall return value, Response is
// whatever zos_recv_bytes should hand back for syscalls with a rich result
// (LIST_CAPS, LIST_PROCS, RECEIVE).
type Result struct {
	Code     int64
	Response []byte
}

// RawExecute dispatches one syscall on behalf of caller. It is the single
// entry point the supervisor's syscall pump calls for every trapped
// zos_syscall; every mutation it performs is sealed through k.Axiom before
// RawExecute returns, so the caller can resume immediately. Every call
// produces exactly one Syslog request and one response, correlated by a
// kernel-assigned RequestID, per spec §4.1 — and runs inside an
// OpenTelemetry span so a trace exporter wired onto ctx can see per-syscall
// latency without the dispatch table knowing anything about tracing.
func (k *Kernel) RawExecute(ctx context.Context, caller process.ID, args Args) Result {
	ctx, span := tracer.Start(ctx, "zos.syscall/"+syscallName(args.Num), trace.WithAttributes(
		attribute.Int64("zos.pid", int64(caller)),
		attribute.Int64("zos.syscall.num", int64(args.Num)),
	))
	defer span.End()

	reqID := k.reqIDs.Next()
	k.Axiom.BeginSyscall(axiom.SyslogRequest{
		PID:         uint64(caller),
		RequestID:   reqID,
		Syscall:     args.Num,
		Args:        [3]uint32{args.A1, args.A2, args.A3},
		TimestampNs: k.nowNs(),
	})

	res := k.rawExecute(ctx, caller, args)

	k.Axiom.EndSyscall(axiom.SyslogResponse{
		PID:         uint64(caller),
		RequestID:   reqID,
		Result:      res.Code,
		TimestampNs: k.nowNs(),
	})

	span.SetAttributes(attribute.Int64("zos.syscall.code", res.Code))
	return res
}

func (k *Kernel) rawExecute(ctx context.Context, caller process.ID, args Args) Result {
	k.touch(caller)

	switch args.Num {
	case SysNop:
		return ok(1)

	case SysDebug:
		if k.HAL != nil {
			k.HAL.DebugWrite(string(args.Data))
		} else {
			log.G(ctx).WithField("pid", caller).Debug(string(args.Data))
		}
		return ok(1)

	case SysGetTime:
		return ok(int64(k.nowNs()))

	case SysGetPID:
		return ok(int64(caller))

	case SysGetWallclock:
		return ok(int64(k.nowMs()))

	case SysConsoleWrite:
		if k.HAL != nil {
			k.HAL.ConsoleWrite(uint64(caller), args.Data)
		}
		return ok(1)

	case SysFillRandom:
		buf := make([]byte, args.A1)
		if k.HAL != nil {
			k.HAL.FillRandom(buf)
		}
		return Result{Code: 1, Response: buf}

	case SysListCaps:
		return Result{Code: 1, Response: k.encodeListCaps(caller)}

	case SysListProcs:
		return Result{Code: 1, Response: k.encodeListProcs()}

	case SysExit:
		code := k.KillProcess(ctx, caller, int32(args.A1))
		return ok(code)

	case SysYield:
		return ok(1)

	case SysKill:
		target := process.ID(args.A1)
		if !k.authorizedToKill(caller, target) {
			return ok(-1)
		}
		return ok(k.KillProcess(ctx, target, -1))

	case SysRegisterProcess:
		if caller != process.Init {
			return ok(-1)
		}
		pid := k.RegisterProcess(ctx, caller, string(args.Data))
		return ok(int64(pid))

	case SysCreateEndpointFor:
		if caller != process.Init {
			return ok(-1)
		}
		target := process.ID(args.A1)
		slot := k.CreateEndpoint(ctx, target)
		eid, ok := k.cspace(target).Get(slot)
		if !ok {
			return Result{Code: -1}
		}
		return Result{Code: pack(uint32(slot), uint32(eid.ObjectID))}

	case SysCapGrant:
		fromSlot := int(args.A1)
		toPID := process.ID(args.A2)
		perms := unpackPerms(args.A3)
		result, newSlot := k.GrantCapability(ctx, caller, fromSlot, toPID, perms)
		if result != 1 {
			return ok(result)
		}
		return Result{Code: pack(0, uint32(newSlot))}

	case SysCapRevoke:
		if caller != process.Init {
			return ok(-1)
		}
		target := process.ID(args.A1)
		return ok(k.RevokeCapability(ctx, target, int(args.A2)))

	case SysEPCreate:
		return ok(int64(k.CreateEndpoint(ctx, caller)))

	case SysSend:
		slot := int(args.A1)
		tag := args.A2
		transferSlots, payload := decodeSendPayload(args.Data)
		return ok(k.SendMessage(ctx, caller, slot, tag, payload, transferSlots))

	case SysReceive:
		recv, result := k.ReceiveWithCaps(ctx, caller, int(args.A1))
		if result != 1 {
			return ok(result)
		}
		return Result{Code: 1, Response: encodeReceive(recv)}

	case SysStorageRead, SysStorageWrite, SysStorageDelete, SysStorageList, SysStorageExists:
		return ok(k.dispatchStorage(args, caller))

	default:
		return ok(-1)
	}
}

func ok(code int64) Result { return Result{Code: code} }

// pack combines two u32 halves into the i64 syscall result layout spec §4.4
// uses for CREATE_ENDPOINT_FOR (slot<<32 | eid) and, by the same
// convention, CAP_GRANT's new_slot.
func pack(hi, lo uint32) int64 {
	return int64(uint64(hi)<<32 | uint64(lo))
}

func unpackPerms(bits uint32) capability.Permissions {
	return capability.Permissions{
		Read:  bits&0x1 != 0,
		Write: bits&0x2 != 0,
		Grant: bits&0x4 != 0,
	}
}

// authorizedToKill implements spec §4.4: "KILL of PID P by caller C
// succeeds iff C=Init or C's CSpace contains a Process capability to P
// with write".
func (k *Kernel) authorizedToKill(caller, target process.ID) bool {
	if caller == process.Init {
		return true
	}
	cs, ok := k.cspaces[caller]
	if !ok {
		return false
	}
	for _, slot := range cs.Slots() {
		cap, _ := cs.Get(slot)
		if cap.ObjectType == capability.ObjectProcess && cap.ObjectID == uint64(target) && cap.Perms.Write {
			return true
		}
	}
	return false
}

// decodeSendPayload splits a SEND syscall's staged bytes into the transfer
// slot list and the message payload: u32 cap_count, cap_count x u32 slot,
// then the raw payload. This is the kernel's own convention for packing a
// variable-length slot list alongside a byte payload into the single
// zos_send_bytes buffer the ABI provides; it is not part of the IPC
// envelope itself and is never persisted.
func decodeSendPayload(data []byte) ([]int, []byte) {
	if len(data) < 4 {
		return nil, data
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	slots := make([]int, 0, count)
	for i := uint32(0); i < count && off+4 <= len(data); i++ {
		slots = append(slots, int(binary.LittleEndian.Uint32(data[off:off+4])))
		off += 4
	}
	return slots, data[off:]
}

// encodeListCaps implements the LIST_CAPS response layout of spec §6:
// u32 count, then per capability u32 slot, u8 object_type, u64 object_id.
func (k *Kernel) encodeListCaps(pid process.ID) []byte {
	cs, ok := k.cspaces[pid]
	if !ok {
		return binary.LittleEndian.AppendUint32(nil, 0)
	}
	slots := cs.Slots()
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(slots)))
	for _, slot := range slots {
		cap, _ := cs.Get(slot)
		out = binary.LittleEndian.AppendUint32(out, uint32(slot))
		out = append(out, byte(cap.ObjectType))
		out = binary.LittleEndian.AppendUint64(out, cap.ObjectID)
	}
	return out
}

// encodeListProcs implements the LIST_PROCS response layout of spec §6:
// u32 count, then per process u32 pid, u16 name_len, name_bytes.
func (k *Kernel) encodeListProcs() []byte {
	procs := k.procs.List()
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(procs)))
	for _, p := range procs {
		out = binary.LittleEndian.AppendUint32(out, uint32(p.PID))
		name := []byte(p.Name)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(name)))
		out = append(out, name...)
	}
	return out
}

// encodeReceive implements the RECEIVE response layout of spec §6:
// u32 from_pid, u32 tag, u8 cap_count, u32 x cap_count installed_slots,
// then the raw payload bytes.
func encodeReceive(r Received) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(r.Message.From))
	out = binary.LittleEndian.AppendUint32(out, r.Message.Tag)
	out = append(out, byte(len(r.CapSlots)))
	for _, slot := range r.CapSlots {
		out = binary.LittleEndian.AppendUint32(out, uint32(slot))
	}
	out = append(out, r.Message.Data...)
	return out
}

// dispatchStorage forwards a STORAGE_* syscall to the HAL's async API and
// returns the request_id the completion will later carry in
// MSG_STORAGE_RESULT. The path is read from args.Data for every STORAGE_*
// opcode; WRITE additionally carries the value to store after the path,
// decoded by decodeStorageWritePayload, consistent with the STORAGE_*
// family all returning immediately per spec §4.7.
func (k *Kernel) dispatchStorage(args Args, caller process.ID) int64 {
	if k.HAL == nil {
		return resultCode(ErrPermissionDenied)
	}
	switch args.Num {
	case SysStorageRead:
		return int64(k.HAL.StorageReadAsync(uint64(caller), string(args.Data)))
	case SysStorageWrite:
		path, value := decodeStorageWritePayload(args.Data)
		return int64(k.HAL.StorageWriteAsync(uint64(caller), path, value))
	case SysStorageDelete:
		return int64(k.HAL.StorageDeleteAsync(uint64(caller), string(args.Data)))
	case SysStorageList:
		return int64(k.HAL.StorageListAsync(uint64(caller), string(args.Data)))
	case SysStorageExists:
		return int64(k.HAL.StorageExistsAsync(uint64(caller), string(args.Data)))
	default:
		return -1
	}
}

// decodeStorageWritePayload splits a STORAGE_WRITE syscall's staged bytes
// into the target path and the value to store: u16 path_len, path_bytes,
// then the value bytes. Same wire convention services/vfs's MSG_VFS_WRITE
// payload uses, so a guest stages a STORAGE_WRITE the same way a native
// service decodes one.
func decodeStorageWritePayload(data []byte) (string, []byte) {
	if len(data) < 2 {
		return "", nil
	}
	n := int(binary.LittleEndian.Uint16(data[:2]))
	if n+2 > len(data) {
		return "", nil
	}
	return string(data[2 : 2+n]), data[2+n:]
}
