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
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kernel error kinds, spec §7. Each wraps the most specific errdefs
// sentinel so callers can use errors.Is against the stable errdefs values
// while the message stays domain-specific.
var (
	ErrProcessNotFound   = fmt.Errorf("process not found: %w", errdefs.ErrNotFound)
	ErrEndpointNotFound  = fmt.Errorf("endpoint not found: %w", errdefs.ErrNotFound)
	ErrInvalidCapability = fmt.Errorf("invalid capability: %w", errdefs.ErrInvalidArgument)
	ErrPermissionDenied  = fmt.Errorf("permission denied: %w", errdefs.ErrPermissionDenied)
	// ErrWouldBlock is locally recovered by callers (RECEIVE on an empty
	// endpoint); it surfaces as syscall result code 0, never a fault.
	ErrWouldBlock = fmt.Errorf("would block: %w", errdefs.ErrUnavailable)
)

// IsNotFound, IsPermissionDenied and IsWouldBlock let callers branch on
// kernel error kind without importing errdefs directly.
func IsNotFound(err error) bool          { return errors.Is(err, errdefs.ErrNotFound) }
func IsPermissionDenied(err error) bool  { return errors.Is(err, errdefs.ErrPermissionDenied) }
func IsWouldBlock(err error) bool        { return errors.Is(err, errdefs.ErrUnavailable) }
func IsInvalidArgument(err error) bool   { return errors.Is(err, errdefs.ErrInvalidArgument) }

// resultCode maps err to the syscall return code: 0 for WouldBlock
// (spec §4.3 "Receive... return WouldBlock (result code 0)"), -1 for any
// other failure, since spec §7 only assigns -1 as the generic failure code
// and leaves "specific codes where assigned" to service-level protocols
// layered above raw syscall results.
func resultCode(err error) int64 {
	if err == nil {
		return 1
	}
	if IsWouldBlock(err) {
		return 0
	}
	return -1
}
