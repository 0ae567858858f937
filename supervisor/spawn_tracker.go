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
	"sync"
	"time"

	"github.com/zeroos/kernel/core/process"
)

// SpawnState is a spawn request's position in the WaitingForBinary ->
// WaitingForPid -> WaitingForEndpoint -> WaitingForCaps -> Ready|Failed
// state machine spec §4.6 describes.
type SpawnState uint8

const (
	WaitingForBinary SpawnState = iota
	WaitingForPid
	WaitingForEndpoint
	WaitingForCaps
	SpawnReady
	SpawnFailed
)

func (s SpawnState) String() string {
	switch s {
	case WaitingForBinary:
		return "waiting_for_binary"
	case WaitingForPid:
		return "waiting_for_pid"
	case WaitingForEndpoint:
		return "waiting_for_endpoint"
	case WaitingForCaps:
		return "waiting_for_caps"
	case SpawnReady:
		return "ready"
	case SpawnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultSpawnTimeout is the age at which a spawn request that has not
// reached SpawnReady is forcibly failed.
const DefaultSpawnTimeout = 30 * time.Second

// SpawnRequest tracks one in-flight process spawn, keyed by a monotonic
// request ID independent of the eventual PID (which is not known until
// WaitingForPid resolves).
type SpawnRequest struct {
	ID        uint64
	Name      string
	State     SpawnState
	PID       process.ID
	EndpointID uint64
	Err       error
	StartedAt time.Time
}

// SpawnTracker owns the set of in-flight spawn requests.
type SpawnTracker struct {
	mu       sync.Mutex
	requests map[uint64]*SpawnRequest
	timeout  time.Duration
}

// NewSpawnTracker returns a tracker using DefaultSpawnTimeout.
func NewSpawnTracker() *SpawnTracker {
	return &SpawnTracker{requests: make(map[uint64]*SpawnRequest), timeout: DefaultSpawnTimeout}
}

// Begin registers a new spawn request in WaitingForBinary and returns it.
func (t *SpawnTracker) Begin(id uint64, name string, now time.Time) *SpawnRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	req := &SpawnRequest{ID: id, Name: name, State: WaitingForBinary, StartedAt: now}
	t.requests[id] = req
	return req
}

// Advance moves req to state, returning false if req was already terminal
// (Ready or Failed) and the transition was ignored.
func (t *SpawnTracker) Advance(id uint64, state SpawnState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[id]
	if !ok || req.State == SpawnReady || req.State == SpawnFailed {
		return false
	}
	req.State = state
	return true
}

// Fail transitions req to SpawnFailed and records err.
func (t *SpawnTracker) Fail(id uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[id]
	if !ok {
		return
	}
	req.State = SpawnFailed
	req.Err = err
}

// Get returns the tracked request, if any.
func (t *SpawnTracker) Get(id uint64) (*SpawnRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[id]
	return req, ok
}

// ExpireOlderThan fails every non-terminal request started before the
// tracker's timeout relative to now, returning the IDs it expired.
func (t *SpawnTracker) ExpireOlderThan(now time.Time) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []uint64
	for id, req := range t.requests {
		if req.State == SpawnReady || req.State == SpawnFailed {
			continue
		}
		if now.Sub(req.StartedAt) > t.timeout {
			req.State = SpawnFailed
			req.Err = errSpawnTimeout
			expired = append(expired, id)
		}
	}
	return expired
}

// Forget removes a terminal request from the tracker once its caller has
// observed the result.
func (t *SpawnTracker) Forget(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requests, id)
}
