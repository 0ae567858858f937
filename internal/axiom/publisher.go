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
	"time"

	"github.com/containerd/log"
)

const (
	queueSize  = 2048
	maxRequeue = 5
)

// Sink forwards a single sealed commit to an external system (a debug
// dashboard, a remote audit collector). Implementations must not block the
// caller for long; Publisher already gives them a bounded retry queue.
type Sink interface {
	Forward(ctx context.Context, c Commit) error
}

type item struct {
	c     Commit
	count int
}

// Publisher forwards sealed commits to a Sink with bounded retries, modeled
// on containerd's remote shim event publisher: a synchronous first attempt,
// and on failure a background requeue with linear backoff, capped at
// maxRequeue attempts before the commit is dropped.
type Publisher struct {
	sink    Sink
	requeue chan *item
	closed  chan struct{}
}

// NewPublisher starts a Publisher forwarding to sink.
func NewPublisher(sink Sink) *Publisher {
	p := &Publisher{
		sink:    sink,
		requeue: make(chan *item, queueSize),
		closed:  make(chan struct{}),
	}
	go p.processQueue()
	return p
}

// Publish forwards commits, queuing the ones that fail on first attempt.
func (p *Publisher) Publish(ctx context.Context, commits []Commit) {
	for _, c := range commits {
		if err := p.sink.Forward(ctx, c); err != nil {
			p.queue(&item{c: c})
		}
	}
}

func (p *Publisher) processQueue() {
	for it := range p.requeue {
		if it.count > maxRequeue {
			log.L.WithField("commit", it.c.ID).Error("axiom: evicting commit from forward queue after exceeding retry count")
			continue
		}
		if err := p.sink.Forward(context.Background(), it.c); err != nil {
			log.L.WithError(err).WithField("commit", it.c.ID).Error("axiom: failed to forward commit")
			p.queue(it)
		}
	}
}

func (p *Publisher) queue(it *item) {
	go func() {
		it.count++
		select {
		case <-p.closed:
			return
		case <-time.After(time.Duration(it.count) * time.Second):
		}
		select {
		case p.requeue <- it:
		case <-p.closed:
		}
	}()
}

// Close stops accepting new requeues and terminates the background worker.
func (p *Publisher) Close() {
	close(p.closed)
	close(p.requeue)
}

// LogSink is the default Sink: it writes commits to the structured logger.
// Used whenever no external forwarding target has been configured.
type LogSink struct{}

func (LogSink) Forward(_ context.Context, c Commit) error {
	log.L.WithField("seq", c.Seq).WithField("kind", c.Kind.String()).Debug("axiom: commit")
	return nil
}
