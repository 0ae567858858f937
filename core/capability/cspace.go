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

import "sort"

// CSpace is a process-owned table mapping dense, reusable integer slots to
// Capabilities. The kernel imposes no fixed slot layout; conventions (e.g.
// slot 1 = a service's input endpoint) live above this package.
type CSpace struct {
	slots map[int]Capability
}

// NewCSpace returns an empty capability space.
func NewCSpace() *CSpace {
	return &CSpace{slots: make(map[int]Capability)}
}

// Insert installs cap in the lowest free slot and returns that slot.
func (c *CSpace) Insert(cap Capability) int {
	slot := 0
	for {
		if _, used := c.slots[slot]; !used {
			break
		}
		slot++
	}
	c.slots[slot] = cap
	return slot
}

// InsertAt installs cap at an explicit slot, overwriting any existing
// occupant, for callers that need a fixed slot such as the slot 0-4
// conventions described in spec §3.
func (c *CSpace) InsertAt(slot int, cap Capability) {
	c.slots[slot] = cap
}

// Get returns the capability at slot, if any.
func (c *CSpace) Get(slot int) (Capability, bool) {
	cap, ok := c.slots[slot]
	return cap, ok
}

// Remove deletes the capability at slot. Removing an empty slot is a no-op.
func (c *CSpace) Remove(slot int) {
	delete(c.slots, slot)
}

// Check performs the axiom_check described in spec §4.2: the slot must
// exist, not be expired as of nowMs, carry at least the required
// permissions, and reference an object of the expected type. On success it
// returns the capability found at slot.
func (c *CSpace) Check(slot int, nowMs uint64, wantType ObjectType, required Permissions) (Capability, error) {
	cap, ok := c.slots[slot]
	if !ok {
		return Capability{}, ErrInvalidSlot(slot)
	}
	if cap.Expired(nowMs) {
		return Capability{}, ErrExpired(slot)
	}
	if cap.ObjectType != wantType {
		return Capability{}, ErrWrongType(slot, cap.ObjectType, wantType)
	}
	if !cap.Perms.Contains(required) {
		return Capability{}, ErrInsufficientRights(slot, cap.Perms, required)
	}
	return cap, nil
}

// Slots returns the occupied slots in ascending order, for LIST_CAPS
// serialization.
func (c *CSpace) Slots() []int {
	out := make([]int, 0, len(c.slots))
	for slot := range c.slots {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}

// Len reports the number of occupied slots.
func (c *CSpace) Len() int {
	return len(c.slots)
}

// RemoveByObject removes every slot referencing the given object, used when
// an Endpoint or Process is destroyed and every capability to it must be
// invalidated. It returns the slots that were removed.
func (c *CSpace) RemoveByObject(objType ObjectType, objectID uint64) []int {
	var removed []int
	for slot, cap := range c.slots {
		if cap.ObjectType == objType && cap.ObjectID == objectID {
			delete(c.slots, slot)
			removed = append(removed, slot)
		}
	}
	sort.Ints(removed)
	return removed
}
