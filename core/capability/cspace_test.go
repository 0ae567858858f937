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
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"
)

func TestCSpaceInsertUsesLowestFreeSlot(t *testing.T) {
	cs := NewCSpace()
	s0 := cs.Insert(Capability{ID: 1})
	s1 := cs.Insert(Capability{ID: 2})
	require.Equal(t, 0, s0)
	require.Equal(t, 1, s1)

	cs.Remove(0)
	s2 := cs.Insert(Capability{ID: 3})
	require.Equal(t, 0, s2, "a freed slot must be reused before growing")
}

func TestCSpaceCheck(t *testing.T) {
	cs := NewCSpace()
	slot := cs.Insert(Capability{
		ID:         1,
		ObjectType: ObjectEndpoint,
		ObjectID:   42,
		Perms:      Permissions{Read: true},
	})

	_, err := cs.Check(slot, 0, ObjectEndpoint, Permissions{Read: true})
	require.NoError(t, err)

	_, err = cs.Check(slot, 0, ObjectEndpoint, Permissions{Write: true})
	require.ErrorIs(t, err, errdefs.ErrPermissionDenied)

	_, err = cs.Check(slot, 0, ObjectProcess, Permissions{Read: true})
	require.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = cs.Check(99, 0, ObjectEndpoint, Permissions{})
	require.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestCSpaceCheckExpired(t *testing.T) {
	cs := NewCSpace()
	slot := cs.Insert(Capability{ID: 1, ObjectType: ObjectEndpoint, ExpiresAt: 100})

	_, err := cs.Check(slot, 50, ObjectEndpoint, Permissions{})
	require.NoError(t, err)

	_, err = cs.Check(slot, 100, ObjectEndpoint, Permissions{})
	require.ErrorIs(t, err, errdefs.ErrUnavailable)
}

func TestCSpaceRemoveByObject(t *testing.T) {
	cs := NewCSpace()
	cs.Insert(Capability{ID: 1, ObjectType: ObjectEndpoint, ObjectID: 5})
	cs.Insert(Capability{ID: 2, ObjectType: ObjectEndpoint, ObjectID: 5})
	cs.Insert(Capability{ID: 3, ObjectType: ObjectEndpoint, ObjectID: 6})
	cs.Insert(Capability{ID: 4, ObjectType: ObjectProcess, ObjectID: 5})

	removed := cs.RemoveByObject(ObjectEndpoint, 5)
	require.ElementsMatch(t, []int{0, 1}, removed)
	require.Equal(t, 2, cs.Len())
}

func TestCSpaceSlotsSorted(t *testing.T) {
	cs := NewCSpace()
	cs.InsertAt(4, Capability{ID: 1})
	cs.InsertAt(1, Capability{ID: 2})
	cs.InsertAt(2, Capability{ID: 3})
	require.Equal(t, []int{1, 2, 4}, cs.Slots())
}
