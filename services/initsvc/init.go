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

// Package initsvc implements PID 1: the service registry and boot-order
// driver described in spec §4.7. It registers the fixed boot order
// (PermissionManager, VFS, Keystore, Identity, Time), maintains a
// name -> (pid, endpoint, ready) map, and answers MSG_REGISTER_SERVICE,
// MSG_LOOKUP_SERVICE, MSG_SERVICE_READY and MSG_SERVICE_CAP_GRANTED.
package initsvc

import (
	"context"
	"sync"

	"github.com/containerd/log"

	"github.com/zeroos/kernel/core/endpoint"
	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/pkg/identifiers"
	"github.com/zeroos/kernel/services/proto"
)

// entry is one service registry row.
type entry struct {
	pid        process.ID
	endpointID uint64
	replySlot  int // slot in Init's CSpace holding a Write cap to the service's reply endpoint
	ready      bool
}

// Service is Init's runtime state. It satisfies runtime.ProcessRunner.
type Service struct {
	k    *kernel.Kernel
	slot int

	mu       sync.Mutex
	byName   map[string]*entry
	byPID    map[process.ID]*entry
}

// BootOrder is the fixed service boot order spec §4.7 mandates.
var BootOrder = []string{"permissions", "vfs", "keystore", "identity", "time"}

// New returns an Init service driving k. Callers must still arrange for
// the named services in BootOrder to be spawned (via the supervisor);
// Service only answers the registry protocol, it does not itself invoke
// the platform spawn path.
func New(k *kernel.Kernel) *Service {
	return &Service{
		k:      k,
		byName: make(map[string]*entry),
		byPID:  make(map[process.ID]*entry),
	}
}

func (s *Service) PID() process.ID { return process.Init }

// Run installs Init's well-known process/endpoint entries and then
// services its registry mailbox until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.k.RegisterWellKnown(ctx, process.Init, process.Supervisor, "init")
	s.slot = s.k.CreateEndpoint(ctx, process.Init)

	bell := s.k.Doorbell(process.Init)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-bell:
			s.drain(ctx)
		}
	}
}

// drain services every message currently queued on Init's endpoint,
// since a single doorbell ring can coalesce several arrivals.
func (s *Service) drain(ctx context.Context) {
	for {
		recv, code := s.k.ReceiveWithCaps(ctx, process.Init, s.slot)
		if code <= 0 {
			return
		}
		s.handle(ctx, recv)
	}
}

func (s *Service) handle(ctx context.Context, recv kernel.Received) {
	msg := recv.Message
	switch msg.Tag {
	case proto.MsgRegisterService:
		s.handleRegister(ctx, msg, recv.CapSlots)
	case proto.MsgLookupService:
		s.handleLookup(ctx, msg, recv.CapSlots)
	case proto.MsgServiceReady:
		s.handleReady(process.ID(msg.From))
	case proto.MsgServiceCapGranted:
		log.G(ctx).WithField("pid", msg.From).Debug("init: service capability granted")
	default:
		log.G(ctx).WithField("tag", msg.Tag).Warn("init: unrecognized message")
	}
}

// handleRegister implements MSG_REGISTER_SERVICE: the sender names itself
// and transfers a Write capability to its own reply endpoint, which Init
// keeps so it can later answer MSG_LOOKUP_SERVICE on other clients'
// behalf.
func (s *Service) handleRegister(ctx context.Context, msg endpoint.Message, capSlots []int) {
	name := proto.DecodeServiceName(msg.Data)
	if err := identifiers.Validate(name); err != nil {
		log.G(ctx).WithField("name", name).WithError(err).Warn("init: rejected invalid service name")
		return
	}
	if len(capSlots) == 0 {
		log.G(ctx).WithField("name", name).Warn("init: register_service without a reply capability")
		return
	}

	e := &entry{pid: process.ID(msg.From), endpointID: endpointObjectID(s.k, capSlots[0]), replySlot: capSlots[0]}
	s.mu.Lock()
	s.byName[name] = e
	s.byPID[e.pid] = e
	s.mu.Unlock()

	log.G(ctx).WithField("name", name).WithField("pid", msg.From).Info("init: service registered")
}

// handleLookup implements MSG_LOOKUP_SERVICE: look the name up and reply
// with its ServiceDescriptor over the transferred reply capability.
func (s *Service) handleLookup(ctx context.Context, msg endpoint.Message, capSlots []int) {
	name := proto.DecodeServiceName(msg.Data)
	s.mu.Lock()
	e, ok := s.byName[name]
	s.mu.Unlock()

	if len(capSlots) == 0 {
		log.G(ctx).WithField("name", name).Warn("init: lookup_service without a reply capability")
		return
	}
	replySlot := capSlots[0]

	var payload []byte
	if ok && e.ready {
		payload = proto.EncodeStatus(true, proto.EncodeServiceDescriptor(proto.ServiceDescriptor{
			PID:        uint64(e.pid),
			EndpointID: e.endpointID,
		}))
	} else {
		payload = proto.EncodeStatus(false, []byte("not registered"))
	}

	s.k.SendMessage(ctx, process.Init, replySlot, proto.MsgServiceReady, payload, nil)
}

func (s *Service) handleReady(pid process.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byPID[pid]; ok {
		e.ready = true
	}
}

func endpointObjectID(k *kernel.Kernel, slot int) uint64 {
	cs, ok := k.CSpace(process.Init)
	if !ok {
		return 0
	}
	cap, ok := cs.Get(slot)
	if !ok {
		return 0
	}
	return cap.ObjectID
}

