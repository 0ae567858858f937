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

// Package permission implements PermissionManager (PID 2), the first
// service in Init's fixed boot order (spec §4.7). spec.md names the
// process and its 0x5000 IPC tag range but, unlike VFS's §4.8 and
// Keystore's §4.9, does not narrate a protocol: VFS's own file-level
// checks are explicitly performed in-memory against a PermissionContext
// (spec §4.8), not delegated here. PermissionManager is instead the
// policy oracle for actions that sit above any single service's own
// object model — whether a subject PID may perform a named action against
// a named object, decided against a small in-memory allow/deny table a
// caller populates (e.g. Init could consult it before answering a lookup,
// a spawn orchestrator before honoring a spawn request). Nothing in this
// repository wires a mandatory caller to it yet; it is available
// infrastructure satisfying the boot-order and protocol spec.md names,
// the same way a real microkernel's policy daemon ships before every
// subsystem that might query it does.
package permission

import (
	"context"
	"sync"

	"github.com/containerd/log"

	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/services/proto"
)

// WellKnownPID is the fixed PID Init's boot order assigns PermissionManager.
const WellKnownPID process.ID = process.PermissionManager

// ruleKey identifies one (action, object) pair in the policy table.
type ruleKey struct {
	action string
	object string
}

// Service is the PermissionManager runtime.ProcessRunner. Its default
// policy is allow-all: an explicit Deny narrows access for a specific
// subject, action and object triple. There is no Allow beyond the
// default because spec.md gives no positive-grant protocol to implement
// one against; Deny is the one primitive every caller of this package
// needs to express "except this subject."
type Service struct {
	k    *kernel.Kernel
	slot int

	mu      sync.RWMutex
	denials map[ruleKey]map[uint64]bool
}

// New returns a PermissionManager service driving k.
func New(k *kernel.Kernel) *Service {
	return &Service{k: k, denials: make(map[ruleKey]map[uint64]bool)}
}

func (s *Service) PID() process.ID { return WellKnownPID }

// Deny records that subject may never perform action against object.
// Intended for boot-time policy setup (services/bootstrap), not for
// runtime reconfiguration by arbitrary IPC callers — there is no wire
// message for it, deliberately, since spec.md names no such protocol.
func (s *Service) Deny(subject uint64, action, object string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ruleKey{action: action, object: object}
	if s.denials[key] == nil {
		s.denials[key] = make(map[uint64]bool)
	}
	s.denials[key][subject] = true
}

func (s *Service) allows(subject uint64, action, object string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.denials[ruleKey{action: action, object: object}][subject]
}

// Run installs PermissionManager's well-known process/endpoint entries and
// answers MSG_PERMISSION_CHECK requests until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.k.RegisterWellKnown(ctx, WellKnownPID, process.Init, "permissions")
	s.slot = s.k.CreateEndpoint(ctx, WellKnownPID)

	bell := s.k.Doorbell(WellKnownPID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-bell:
			s.drain(ctx)
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for {
		recv, code := s.k.ReceiveWithCaps(ctx, WellKnownPID, s.slot)
		if code <= 0 {
			return
		}
		s.handle(ctx, recv)
	}
}

func (s *Service) handle(ctx context.Context, recv kernel.Received) {
	msg := recv.Message
	if msg.Tag != proto.MsgPermissionCheck {
		log.G(ctx).WithField("tag", msg.Tag).Warn("permission: unrecognized message")
		return
	}
	if len(recv.CapSlots) == 0 {
		log.G(ctx).Warn("permission: check without a reply capability")
		return
	}
	replySlot := recv.CapSlots[0]

	check, err := proto.DecodePermissionCheck(msg.Data)
	if err != nil {
		log.G(ctx).WithError(err).Warn("permission: malformed check")
		return
	}

	allowed := s.allows(check.Subject, check.Action, check.Object)
	payload := proto.EncodeStatus(allowed, nil)
	s.k.SendMessage(ctx, WellKnownPID, replySlot, proto.MsgPermissionResult, payload, nil)
}
