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

package axiom

import (
	"sync"

	digest "github.com/opencontainers/go-digest"
)

// CommitLog is the in-memory, append-only sequence of sealed Commits. It is
// the canonical serialization of system history (spec §5): Seq is strictly
// increasing and PrevCommit forms a hash chain.
type CommitLog struct {
	mu      sync.RWMutex
	commits []Commit
	last    digest.Digest
	nextSeq uint64
}

// NewCommitLog returns an empty commit log.
func NewCommitLog() *CommitLog {
	return &CommitLog{}
}

// sealAndAppend seals each commit in order (assigning Seq and chaining
// PrevCommit from the previous tail) and appends the full batch atomically.
// Axiom never partial-commits: this is the only place the slice grows.
func (l *CommitLog) sealAndAppend(batch []Commit) []Commit {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range batch {
		batch[i].seal(l.last, l.nextSeq)
		l.last = batch[i].ID
		l.nextSeq++
	}
	l.commits = append(l.commits, batch...)
	return batch
}

// Len reports the number of sealed commits.
func (l *CommitLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.commits)
}

// Since returns every commit with Seq >= fromSeq, in order.
func (l *CommitLog) Since(fromSeq uint64) []Commit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if fromSeq >= uint64(len(l.commits)) {
		return nil
	}
	out := make([]Commit, len(l.commits)-int(fromSeq))
	copy(out, l.commits[fromSeq:])
	return out
}

// All returns every sealed commit, in order.
func (l *CommitLog) All() []Commit {
	return l.Since(0)
}

// Tail returns the most recently sealed commit's ID, or the zero digest for
// an empty log.
func (l *CommitLog) Tail() digest.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}
