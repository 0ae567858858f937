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

package endpoint

// Table is the kernel's endpoint table, keyed by ID.
type Table struct {
	endpoints map[ID]*Endpoint
	next      ID
}

// NewTable returns an empty endpoint table.
func NewTable() *Table {
	return &Table{endpoints: make(map[ID]*Endpoint), next: 1}
}

// Allocate returns an unused ID, monotonically increasing.
func (t *Table) Allocate() ID {
	id := t.next
	t.next++
	return id
}

// Insert adds e to the table.
func (t *Table) Insert(e *Endpoint) {
	t.endpoints[e.ID] = e
}

// Get returns the endpoint for id, if present.
func (t *Table) Get(id ID) (*Endpoint, bool) {
	e, ok := t.endpoints[id]
	return e, ok
}

// Remove deletes id from the table.
func (t *Table) Remove(id ID) {
	delete(t.endpoints, id)
}

// OwnedBy returns the IDs of every endpoint owned by owner, used when the
// owner's process is destroyed.
func (t *Table) OwnedBy(owner uint64) []ID {
	var out []ID
	for id, e := range t.endpoints {
		if e.Owner == owner {
			out = append(out, id)
		}
	}
	return out
}
