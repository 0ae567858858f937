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

// Package timesvc implements the Time service, last in Init's fixed boot
// order (spec §4.7). GET_TIME and GET_WALLCLOCK (spec §6 opcodes 0x02 and
// 0x06) are synchronous kernel syscalls already answered directly by
// core/kernel/dispatch.go; they cannot block, so they cannot give a
// process a way to wait for a deadline. Time fills that gap as an
// ordinary IPC service: MSG_TIMER_SLEEP asks to be woken after a duration,
// and MSG_TIMER_FIRED arrives on the transferred reply capability once it
// elapses. Named timesvc rather than time to avoid shadowing the standard
// library package at every import site, the same reasoning that renamed
// services/init to services/initsvc.
package timesvc

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/containerd/log"

	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/services/proto"
)

// WellKnownPID is the fixed PID Init's boot order assigns Time.
const WellKnownPID process.ID = 5

// Service is the Time runtime.ProcessRunner.
type Service struct {
	k    *kernel.Kernel
	slot int
}

// New returns a Time service driving k.
func New(k *kernel.Kernel) *Service {
	return &Service{k: k}
}

func (s *Service) PID() process.ID { return WellKnownPID }

// Run installs Time's well-known process/endpoint entries and answers
// MSG_TIMER_SLEEP requests until ctx is canceled. Each request schedules
// its own independent time.AfterFunc; Run itself never blocks waiting for
// one to fire, so many timers can be outstanding at once.
func (s *Service) Run(ctx context.Context) error {
	s.k.RegisterWellKnown(ctx, WellKnownPID, process.Init, "time")
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
	if msg.Tag != proto.MsgTimerSleep {
		log.G(ctx).WithField("tag", msg.Tag).Warn("timesvc: unrecognized message")
		return
	}
	if len(recv.CapSlots) == 0 {
		log.G(ctx).Warn("timesvc: sleep request without a reply capability")
		return
	}
	if len(msg.Data) < 8 {
		log.G(ctx).Warn("timesvc: malformed sleep request")
		return
	}
	durationMs := binary.LittleEndian.Uint64(msg.Data[:8])
	replySlot := recv.CapSlots[0]

	time.AfterFunc(time.Duration(durationMs)*time.Millisecond, func() {
		s.k.SendMessage(ctx, WellKnownPID, replySlot, proto.MsgTimerFired, nil, nil)
	})
}

// EncodeSleep packs a MSG_TIMER_SLEEP request body: the requested duration
// in milliseconds.
func EncodeSleep(durationMs uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, durationMs)
}
