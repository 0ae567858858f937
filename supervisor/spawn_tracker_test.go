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

package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnTrackerAdvancesThroughStates(t *testing.T) {
	tr := NewSpawnTracker()
	now := time.Unix(0, 0)

	req := tr.Begin(1, "vfs", now)
	require.Equal(t, WaitingForBinary, req.State)

	require.True(t, tr.Advance(1, WaitingForPid))
	require.True(t, tr.Advance(1, WaitingForEndpoint))
	require.True(t, tr.Advance(1, WaitingForCaps))
	require.True(t, tr.Advance(1, SpawnReady))

	got, ok := tr.Get(1)
	require.True(t, ok)
	require.Equal(t, SpawnReady, got.State)
}

func TestSpawnTrackerAdvanceIgnoredAfterTerminal(t *testing.T) {
	tr := NewSpawnTracker()
	now := time.Unix(0, 0)
	tr.Begin(1, "vfs", now)
	tr.Fail(1, errors.New("binary not found"))

	require.False(t, tr.Advance(1, WaitingForPid))
	got, _ := tr.Get(1)
	require.Equal(t, SpawnFailed, got.State)
}

func TestSpawnTrackerExpireOlderThan(t *testing.T) {
	tr := NewSpawnTracker()
	tr.timeout = 10 * time.Second

	start := time.Unix(1000, 0)
	tr.Begin(1, "vfs", start)
	tr.Begin(2, "keystore", start)
	tr.Advance(2, WaitingForPid)

	expired := tr.ExpireOlderThan(start.Add(11 * time.Second))
	require.ElementsMatch(t, []uint64{1, 2}, expired)

	req1, _ := tr.Get(1)
	require.Equal(t, SpawnFailed, req1.State)
	require.ErrorIs(t, req1.Err, errSpawnTimeout)
}

func TestSpawnTrackerExpireOlderThanSkipsTerminal(t *testing.T) {
	tr := NewSpawnTracker()
	tr.timeout = 10 * time.Second

	start := time.Unix(1000, 0)
	tr.Begin(1, "vfs", start)
	tr.Advance(1, SpawnReady)

	expired := tr.ExpireOlderThan(start.Add(time.Hour))
	require.Empty(t, expired)
}

func TestSpawnTrackerForget(t *testing.T) {
	tr := NewSpawnTracker()
	tr.Begin(1, "vfs", time.Unix(0, 0))
	tr.Forget(1)

	_, ok := tr.Get(1)
	require.False(t, ok)
}
