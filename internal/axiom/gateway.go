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

import "context"

// Gateway is the sole legal path for kernel state mutation. Kernel mutation
// methods return (Result, []Commit) and hold no reference to a CommitLog;
// only the Gateway may seal and append. This makes an Axiom bypass
// impossible by construction.
type Gateway struct {
	Commits *CommitLog
	Syslog  *Syslog
	Watch   *Exchange

	store     *Store
	publisher *Publisher
	metrics   *Metrics
}

// NewGateway returns a Gateway with a fresh in-memory commit log and syslog.
// store and publisher are both optional (nil is valid): a Gateway with
// neither behaves exactly as spec §4.1 describes, purely in-memory.
func NewGateway(store *Store, publisher *Publisher) *Gateway {
	return &Gateway{
		Commits:   NewCommitLog(),
		Syslog:    NewSyslog(),
		Watch:     NewExchange(),
		store:     store,
		publisher: publisher,
	}
}

// Seal atomically appends batch to the commit log (or appends nothing if
// batch is empty, for a kernel method whose invariant check failed before
// producing any commits), then mirrors and publishes the result.
func (g *Gateway) Seal(ctx context.Context, batch []Commit) []Commit {
	if len(batch) == 0 {
		return nil
	}
	sealed := g.Commits.sealAndAppend(batch)
	if g.store != nil {
		g.store.MirrorCommits(sealed)
	}
	g.metrics.observe(sealed)
	g.Watch.Publish(sealed)
	if g.publisher != nil {
		g.publisher.Publish(ctx, sealed)
	}
	return sealed
}

// RequestID is a process-global monotonic counter used to correlate a
// Syslog request with its response and, separately, to key service
// pending-op maps and SpawnTracker entries.
type RequestID struct {
	next uint64
}

// Next returns the next RequestID, starting at 1 so 0 can mean "none".
func (r *RequestID) Next() uint64 {
	r.next++
	return r.next
}

// BeginSyscall appends the request half of a syscall's syslog pair. Must be
// called before any kernel mutation work for the syscall begins.
func (g *Gateway) BeginSyscall(req SyslogRequest) {
	g.Syslog.AppendRequest(req)
	if g.store != nil {
		g.store.MirrorSyslog(req, nil)
	}
}

// EndSyscall appends the response half once the result is known and any
// commits have been sealed.
func (g *Gateway) EndSyscall(resp SyslogResponse) {
	g.Syslog.AppendResponse(resp)
}
