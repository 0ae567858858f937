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
	"context"
	"sync"
)

// Exchange fans sealed commits out to live subscribers (the CLI, metrics
// collectors, a future debug UI). It is modeled on containerd's events
// exchange: Publish/Subscribe over buffered channels, filtered by predicate.
type Exchange struct {
	mu   sync.Mutex
	subs map[chan Commit]func(Commit) bool
}

// NewExchange returns an empty Exchange.
func NewExchange() *Exchange {
	return &Exchange{subs: make(map[chan Commit]func(Commit) bool)}
}

// Subscribe returns a channel of commits matching filter (nil matches
// everything) and an error channel that closes with the subscription. The
// subscription is torn down when ctx is canceled.
func (e *Exchange) Subscribe(ctx context.Context, filter func(Commit) bool) (<-chan Commit, <-chan error) {
	ch := make(chan Commit, 128)
	errc := make(chan error, 1)

	e.mu.Lock()
	e.subs[ch] = filter
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.subs, ch)
		e.mu.Unlock()
		close(errc)
	}()

	return ch, errc
}

// Publish fans out each sealed commit to every subscriber whose filter
// accepts it. A slow subscriber that would block is dropped from this
// publish round rather than stalling the kernel's single writer.
func (e *Exchange) Publish(commits []Commit) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range commits {
		for ch, filter := range e.subs {
			if filter != nil && !filter(c) {
				continue
			}
			select {
			case ch <- c:
			default:
			}
		}
	}
}

// KindFilter returns a Subscribe filter matching only the given commit
// kinds.
func KindFilter(kinds ...CommitKind) func(Commit) bool {
	set := make(map[CommitKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(c Commit) bool {
		_, ok := set[c.Kind]
		return ok
	}
}
