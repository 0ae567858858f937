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

// Syscall numbers, the bar-setting subset delivered via the WASM host
// function trap (zos_syscall).
const (
	SysNop          uint32 = 0x00
	SysDebug        uint32 = 0x01
	SysGetTime      uint32 = 0x02
	SysGetPID       uint32 = 0x03
	SysListCaps     uint32 = 0x04
	SysListProcs    uint32 = 0x05
	SysGetWallclock uint32 = 0x06
	SysConsoleWrite uint32 = 0x07

	SysExit             uint32 = 0x11
	SysYield            uint32 = 0x12
	SysKill             uint32 = 0x13
	SysRegisterProcess  uint32 = 0x14
	SysCreateEndpointFor uint32 = 0x15

	SysCapGrant  uint32 = 0x30
	SysCapRevoke uint32 = 0x31

	SysEPCreate uint32 = 0x35

	SysSend    uint32 = 0x40
	SysReceive uint32 = 0x41

	SysStorageRead   uint32 = 0x70
	SysStorageWrite  uint32 = 0x71
	SysStorageDelete uint32 = 0x72
	SysStorageList   uint32 = 0x73
	SysStorageExists uint32 = 0x74

	SysFillRandom uint32 = 0x50
)

// pure reports whether num is answered entirely from in-memory state with
// no HAL round trip, and so never needs to suspend the caller's goroutine
// (spec §4.5's "pure syscalls" set: NOP, DEBUG, GET_PID, GET_TIME, RANDOM,
// and the table lookups this kernel resolves synchronously).
func pure(num uint32) bool {
	switch num {
	case SysNop, SysDebug, SysGetTime, SysGetPID, SysListCaps, SysListProcs,
		SysGetWallclock, SysExit, SysYield, SysKill, SysRegisterProcess,
		SysCreateEndpointFor, SysCapGrant, SysCapRevoke, SysEPCreate,
		SysSend, SysReceive, SysFillRandom:
		return true
	default:
		return false
	}
}
