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

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/zeroos/kernel/core/kernel")

// syscallName maps a syscall number to the mnemonic RawExecute's span name
// and logs use, falling back to "UNKNOWN" for numbers dispatch doesn't
// recognize.
func syscallName(num uint32) string {
	switch num {
	case SysNop:
		return "NOP"
	case SysDebug:
		return "DEBUG"
	case SysGetTime:
		return "GET_TIME"
	case SysGetPID:
		return "GET_PID"
	case SysListCaps:
		return "LIST_CAPS"
	case SysListProcs:
		return "LIST_PROCS"
	case SysGetWallclock:
		return "GET_WALLCLOCK"
	case SysConsoleWrite:
		return "CONSOLE_WRITE"
	case SysExit:
		return "EXIT"
	case SysYield:
		return "YIELD"
	case SysKill:
		return "KILL"
	case SysRegisterProcess:
		return "REGISTER_PROCESS"
	case SysCreateEndpointFor:
		return "CREATE_ENDPOINT_FOR"
	case SysCapGrant:
		return "CAP_GRANT"
	case SysCapRevoke:
		return "CAP_REVOKE"
	case SysEPCreate:
		return "EP_CREATE"
	case SysSend:
		return "SEND"
	case SysReceive:
		return "RECEIVE"
	case SysStorageRead:
		return "STORAGE_READ"
	case SysStorageWrite:
		return "STORAGE_WRITE"
	case SysStorageDelete:
		return "STORAGE_DELETE"
	case SysStorageList:
		return "STORAGE_LIST"
	case SysStorageExists:
		return "STORAGE_EXISTS"
	case SysFillRandom:
		return "FILL_RANDOM"
	default:
		return "UNKNOWN"
	}
}
