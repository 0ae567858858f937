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

// Package axiom is the sole legal path for kernel state mutation: every
// mutating kernel method returns a list of Commits describing what changed,
// and only the Gateway in this package may seal and append them to the
// append-only commit log. Kernel mutation methods hold no reference to the
// log itself, which makes an Axiom bypass impossible by construction.
package axiom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	digest "github.com/opencontainers/go-digest"
)

// CommitKind tags the variant carried by a Commit.
type CommitKind uint8

const (
	KindProcessCreated CommitKind = iota
	KindProcessExited
	KindProcessFaulted
	KindEndpointCreated
	KindEndpointDestroyed
	KindCapInserted
	KindCapRemoved
	KindCapGranted
	KindIPCSent
	KindIPCReceived
)

func (k CommitKind) String() string {
	switch k {
	case KindProcessCreated:
		return "ProcessCreated"
	case KindProcessExited:
		return "ProcessExited"
	case KindProcessFaulted:
		return "ProcessFaulted"
	case KindEndpointCreated:
		return "EndpointCreated"
	case KindEndpointDestroyed:
		return "EndpointDestroyed"
	case KindCapInserted:
		return "CapInserted"
	case KindCapRemoved:
		return "CapRemoved"
	case KindCapGranted:
		return "CapGranted"
	case KindIPCSent:
		return "IpcSent"
	case KindIPCReceived:
		return "IpcReceived"
	default:
		return fmt.Sprintf("CommitKind(%d)", uint8(k))
	}
}

// Commit payload variants. Exactly one of these is non-nil/non-zero in any
// sealed Commit, selected by Kind.

type ProcessCreated struct {
	PID    uint64
	Parent uint64
	Name   string
}

type ProcessExited struct {
	PID  uint64
	Code int32
}

type ProcessFaulted struct {
	PID         uint64
	Reason      string
	Description string
}

type EndpointCreated struct {
	ID    uint64
	Owner uint64
}

type EndpointDestroyed struct {
	ID uint64
}

type CapInserted struct {
	PID        uint64
	Slot       int
	CapID      uint64
	ObjectType uint8
	ObjectID   uint64
	Perms      [3]bool // read, write, grant
}

type CapRemoved struct {
	PID  uint64
	Slot int
}

type CapGranted struct {
	FromPID  uint64
	ToPID    uint64
	FromSlot int
	ToSlot   int
	NewCapID uint64
	Perms    [3]bool
}

type IPCSent struct {
	From     uint64
	Endpoint uint64
	Tag      uint32
	Bytes    int
}

type IPCReceived struct {
	To       uint64
	Endpoint uint64
	Tag      uint32
}

// Commit is one record in the append-only audit log describing a single
// kernel state mutation.
type Commit struct {
	ID         digest.Digest
	PrevCommit digest.Digest
	Seq        uint64
	TimestampNs uint64
	Kind       CommitKind

	// CausedBy optionally names the request_id (syslog correlation) that
	// produced this commit.
	CausedBy *uint64

	ProcessCreated    *ProcessCreated
	ProcessExited     *ProcessExited
	ProcessFaulted    *ProcessFaulted
	EndpointCreated   *EndpointCreated
	EndpointDestroyed *EndpointDestroyed
	CapInserted       *CapInserted
	CapRemoved        *CapRemoved
	CapGranted        *CapGranted
	IPCSent           *IPCSent
	IPCReceived       *IPCReceived
}

// seal computes c's content-addressed ID from its fields and the previous
// commit's ID, forming the hash chain spec §3 requires, then stamps Seq.
func (c *Commit) seal(prev digest.Digest, seq uint64) {
	h := sha256.New()
	h.Write([]byte(prev))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	h.Write(seqBuf[:])
	h.Write([]byte{byte(c.Kind)})
	fmt.Fprintf(h, "%+v", c.payload())

	c.PrevCommit = prev
	c.Seq = seq
	c.ID = digest.NewDigestFromBytes(digest.SHA256, h.Sum(nil))
}

func (c *Commit) payload() interface{} {
	switch c.Kind {
	case KindProcessCreated:
		return c.ProcessCreated
	case KindProcessExited:
		return c.ProcessExited
	case KindProcessFaulted:
		return c.ProcessFaulted
	case KindEndpointCreated:
		return c.EndpointCreated
	case KindEndpointDestroyed:
		return c.EndpointDestroyed
	case KindCapInserted:
		return c.CapInserted
	case KindCapRemoved:
		return c.CapRemoved
	case KindCapGranted:
		return c.CapGranted
	case KindIPCSent:
		return c.IPCSent
	case KindIPCReceived:
		return c.IPCReceived
	default:
		return nil
	}
}
