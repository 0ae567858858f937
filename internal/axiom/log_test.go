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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitLogMonotonicSeq(t *testing.T) {
	l := NewCommitLog()

	l.sealAndAppend([]Commit{{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 1}}})
	l.sealAndAppend([]Commit{
		{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 2}},
		{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 3}},
	})

	all := l.All()
	require.Len(t, all, 3)
	require.Equal(t, uint64(0), all[0].Seq)
	require.Equal(t, uint64(1), all[1].Seq)
	require.Equal(t, uint64(2), all[2].Seq)
}

func TestCommitLogHashChain(t *testing.T) {
	l := NewCommitLog()

	sealed := l.sealAndAppend([]Commit{{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 1}}})
	require.Empty(t, sealed[0].PrevCommit, "first commit chains from the zero digest")

	sealed2 := l.sealAndAppend([]Commit{{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 2}}})
	require.Equal(t, sealed[0].ID, sealed2[0].PrevCommit)
	require.NotEqual(t, sealed[0].ID, sealed2[0].ID)
	require.Equal(t, sealed2[0].ID, l.Tail())
}

func TestCommitLogSealIsDeterministicGivenSameInputs(t *testing.T) {
	l1, l2 := NewCommitLog(), NewCommitLog()

	c1 := l1.sealAndAppend([]Commit{{Kind: KindProcessExited, ProcessExited: &ProcessExited{PID: 9, Code: 0}}})
	c2 := l2.sealAndAppend([]Commit{{Kind: KindProcessExited, ProcessExited: &ProcessExited{PID: 9, Code: 0}}})

	require.Equal(t, c1[0].ID, c2[0].ID, "two empty logs sealing the same commit must converge on the same hash")
}

func TestCommitLogSince(t *testing.T) {
	l := NewCommitLog()
	for i := 0; i < 5; i++ {
		l.sealAndAppend([]Commit{{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: uint64(i)}}})
	}

	require.Len(t, l.Since(0), 5)
	require.Len(t, l.Since(3), 2)
	require.Len(t, l.Since(10), 0)
}
