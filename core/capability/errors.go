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

package capability

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// ErrInvalidSlot reports a lookup against a slot with no capability.
func ErrInvalidSlot(slot int) error {
	return fmt.Errorf("slot %d is empty: %w", slot, errdefs.ErrNotFound)
}

// ErrExpired reports a capability whose expiry has elapsed.
func ErrExpired(slot int) error {
	return fmt.Errorf("capability in slot %d has expired: %w", slot, errdefs.ErrUnavailable)
}

// ErrWrongType reports an object-type mismatch between what was found and
// what the caller required.
func ErrWrongType(slot int, got, want ObjectType) error {
	return fmt.Errorf("capability in slot %d is a %s, not a %s: %w", slot, got, want, errdefs.ErrInvalidArgument)
}

// ErrInsufficientRights reports a permission check failure.
func ErrInsufficientRights(slot int, have, want Permissions) error {
	return fmt.Errorf("capability in slot %d has permissions %+v, need %+v: %w", slot, have, want, errdefs.ErrPermissionDenied)
}
