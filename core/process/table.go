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

package process

import "sort"

// Table is the kernel's process table. It is not safe for concurrent use
// and holds no lock of its own; the Axiom gateway's locks guard only the
// commit log and syslog, not this table.
type Table struct {
	procs map[ID]*Process
	next  ID
}

// NewTable returns a process table with the well-known PIDs reserved and the
// next dynamic allocation starting at FirstDynamic.
func NewTable() *Table {
	return &Table{
		procs: make(map[ID]*Process),
		next:  FirstDynamic,
	}
}

// Insert adds p to the table, keyed by p.PID.
func (t *Table) Insert(p *Process) {
	t.procs[p.PID] = p
}

// Get returns the process for pid, if present.
func (t *Table) Get(pid ID) (*Process, bool) {
	p, ok := t.procs[pid]
	return p, ok
}

// Remove deletes pid from the table.
func (t *Table) Remove(pid ID) {
	delete(t.procs, pid)
}

// AllocatePID returns the next monotonically increasing dynamic PID.
func (t *Table) AllocatePID() ID {
	pid := t.next
	t.next++
	return pid
}

// List returns all processes ordered by PID, for LIST_PROCS serialization.
func (t *Table) List() []*Process {
	out := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Len reports the number of live processes.
func (t *Table) Len() int {
	return len(t.procs)
}
