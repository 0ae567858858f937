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

// Package endpoint implements kernel-owned message queues and the IPC
// message envelope exchanged over them.
package endpoint

import "github.com/zeroos/kernel/core/capability"

// ID is an Endpoint's 64-bit identity.
type ID uint64

// Message is the envelope exchanged over an Endpoint.
type Message struct {
	From            uint64
	Tag             uint32
	Data            []byte
	TransferredCaps []capability.Capability
}

// Metrics tracks accounting for a single Endpoint.
type Metrics struct {
	Delivered    uint64
	Received     uint64
	BytesQueued  uint64
	HighWaterMark int // largest the FIFO has grown to; reserved for a future
	// backpressure policy (spec Open Question 2) without changing ipc_send's
	// external contract.
}

// Endpoint is a kernel-owned FIFO message queue with a single receiving
// owner. Only the owner may receive; any holder of a write-capable
// capability to it may send.
type Endpoint struct {
	ID      ID
	Owner   uint64
	pending []Message
	Metrics Metrics
}

// New returns an empty Endpoint owned by owner.
func New(id ID, owner uint64) *Endpoint {
	return &Endpoint{ID: id, Owner: owner}
}

// Enqueue appends msg to the tail of the FIFO.
func (e *Endpoint) Enqueue(msg Message) {
	e.pending = append(e.pending, msg)
	e.Metrics.Delivered++
	e.Metrics.BytesQueued += uint64(len(msg.Data))
	if len(e.pending) > e.Metrics.HighWaterMark {
		e.Metrics.HighWaterMark = len(e.pending)
	}
}

// Dequeue pops the head message, if any.
func (e *Endpoint) Dequeue() (Message, bool) {
	if len(e.pending) == 0 {
		return Message{}, false
	}
	msg := e.pending[0]
	e.pending = e.pending[1:]
	e.Metrics.Received++
	return msg, true
}

// Len reports the number of messages currently queued.
func (e *Endpoint) Len() int {
	return len(e.pending)
}
