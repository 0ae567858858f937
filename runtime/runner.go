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

// Package runtime declares the contract the supervisor drives every
// scheduled process through, whatever actually executes its code: a
// compiled WASM module hosted by runtime/wasmhost, or a native Go state
// machine under services/ sharing the same PID space and syscall surface.
package runtime

import (
	"context"

	"github.com/zeroos/kernel/core/process"
)

// ProcessRunner is one schedulable unit. Run is called once by the
// supervisor in its own goroutine and blocks until the process exits, is
// killed, or ctx is canceled; it must return promptly on cancellation.
//
// A WASM-backed runner traps into RawExecute for every zos_syscall and
// resumes guest execution with the result. A native service runner simply
// calls the kernel's public syscall-equivalent methods directly and blocks
// on its Doorbell between messages; both satisfy this same interface so the
// supervisor never needs to know which kind of process it is scheduling.
type ProcessRunner interface {
	PID() process.ID
	Run(ctx context.Context) error
}
