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

// Package keystore implements the Keystore service (spec §4.9): the same
// PendingOp structural design as VFS, but scoped exclusively to the
// /keys/ namespace and with no inode layer of its own. It is a native Go
// runtime.ProcessRunner for the same reason VFS is (see services/vfs's
// package doc).
package keystore

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/containerd/log"

	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/hal"
	"github.com/zeroos/kernel/pkg/identifiers"
	"github.com/zeroos/kernel/services/proto"
)

// WellKnownPID is the fixed PID Init's boot order assigns Keystore.
const WellKnownPID process.ID = 4

// MaxContentSize bounds a single value's stored size, spec §4.9's
// MAX_CONTENT_SIZE. 64 KiB comfortably covers key material, passphrase
// hashes and small certificates without giving Keystore a general-purpose
// blob store's footprint.
const MaxContentSize = 64 * 1024

// MaxPendingOps is spec §4.9's MAX_PENDING_KEYSTORE_OPS: once this many
// requests are in flight, further requests are rejected with
// TooManyPendingOps rather than queued, bounding memory under request
// flooding.
const MaxPendingOps = 256

type opKind uint8

const (
	opRead opKind = iota
	opWrite
	opDelete
	opExists
	opList
)

type stage uint8

const (
	stageOldValue stage = iota // write only: reading the existing envelope for created_at
	stageValue                 // the operation's own terminal storage call
)

type pendingOp struct {
	kind      opKind
	stage     stage
	path      string
	replySlot int
	clientPID process.ID
	payload   []byte
}

// Service is the Keystore runtime.ProcessRunner.
type Service struct {
	k    *kernel.Kernel
	h    hal.HAL
	slot int

	mu      sync.Mutex
	pending map[uint32]*pendingOp
}

// New returns a Keystore service driving k, issuing storage calls directly
// against h the same way VFS does.
func New(k *kernel.Kernel, h hal.HAL) *Service {
	return &Service{k: k, h: h, pending: make(map[uint32]*pendingOp)}
}

func (s *Service) PID() process.ID { return WellKnownPID }

// Run installs Keystore's well-known process/endpoint entries and services
// both client requests and HAL completions until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.k.RegisterWellKnown(ctx, WellKnownPID, process.Init, "keystore")
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
	if msg.Tag == proto.MsgStorageResult {
		s.handleCompletion(ctx, msg.Data)
		return
	}

	if len(recv.CapSlots) == 0 {
		log.G(ctx).WithField("tag", msg.Tag).Warn("keystore: request without a reply capability")
		return
	}
	replySlot := recv.CapSlots[0]
	clientPID := process.ID(msg.From)

	if s.atCapacity() {
		s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte("too many pending ops"))
		return
	}

	switch msg.Tag {
	case proto.MsgKeystoreRead, proto.MsgKeystoreDelete, proto.MsgKeystoreExists:
		path := string(msg.Data)
		if err := validatePath(path); err != nil {
			s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte(err.Error()))
			return
		}
		s.beginSingle(ctx, kindForTag(msg.Tag), path, clientPID, replySlot)
	case proto.MsgKeystoreList:
		prefix := string(msg.Data)
		if err := validatePath(prefix); err != nil {
			s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte(err.Error()))
			return
		}
		s.beginList(ctx, prefix, clientPID, replySlot)
	case proto.MsgKeystoreWrite:
		path, content := decodeWritePayload(msg.Data)
		if err := validatePath(path); err != nil {
			s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte(err.Error()))
			return
		}
		s.beginWrite(ctx, path, content, clientPID, replySlot)
	default:
		log.G(ctx).WithField("tag", msg.Tag).Warn("keystore: unrecognized message")
	}
}

// validatePath requires every non-empty "/"-separated segment of path to be
// a valid identifier, the same constraint services/vfs applies under /home.
func validatePath(path string) error {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if err := identifiers.Validate(seg); err != nil {
			return fmt.Errorf("keystore: invalid path %q: %w", path, err)
		}
	}
	return nil
}

func (s *Service) atCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) >= MaxPendingOps
}

func kindForTag(tag uint32) opKind {
	switch tag {
	case proto.MsgKeystoreRead:
		return opRead
	case proto.MsgKeystoreDelete:
		return opDelete
	case proto.MsgKeystoreExists:
		return opExists
	default:
		return opRead
	}
}

func (s *Service) beginSingle(ctx context.Context, kind opKind, path string, clientPID process.ID, replySlot int) {
	op := &pendingOp{kind: kind, stage: stageValue, path: path, replySlot: replySlot, clientPID: clientPID}
	if !inNamespace(path) {
		s.reply(ctx, op, false, []byte("not in /keys/ namespace"))
		return
	}

	var reqID uint64
	switch kind {
	case opRead:
		reqID = s.h.StorageReadAsync(uint64(WellKnownPID), storageKey(path))
	case opDelete:
		reqID = s.h.StorageDeleteAsync(uint64(WellKnownPID), storageKey(path))
	case opExists:
		reqID = s.h.StorageExistsAsync(uint64(WellKnownPID), storageKey(path))
	}
	s.track(reqID, op)
}

func (s *Service) beginList(ctx context.Context, prefix string, clientPID process.ID, replySlot int) {
	op := &pendingOp{kind: opList, stage: stageValue, path: prefix, replySlot: replySlot, clientPID: clientPID}
	if !inNamespace(prefix) {
		s.reply(ctx, op, false, []byte("not in /keys/ namespace"))
		return
	}
	reqID := s.h.StorageListAsync(uint64(WellKnownPID), storageKey(prefix))
	s.track(reqID, op)
}

func (s *Service) beginWrite(ctx context.Context, path string, content []byte, clientPID process.ID, replySlot int) {
	op := &pendingOp{kind: opWrite, stage: stageOldValue, path: path, replySlot: replySlot, clientPID: clientPID, payload: content}
	if !inNamespace(path) {
		s.reply(ctx, op, false, []byte("not in /keys/ namespace"))
		return
	}
	if len(content) > MaxContentSize {
		s.reply(ctx, op, false, []byte("content too large"))
		return
	}
	reqID := s.h.StorageReadAsync(uint64(WellKnownPID), storageKey(path))
	s.track(reqID, op)
}

// decodeWritePayload mirrors VFS's MSG_VFS_WRITE wire layout: u16 path_len,
// path_bytes, content_bytes.
func decodeWritePayload(data []byte) (string, []byte) {
	if len(data) < 2 {
		return "", nil
	}
	n := int(binary.LittleEndian.Uint16(data[:2]))
	if n+2 > len(data) {
		return "", nil
	}
	return string(data[2 : 2+n]), data[2+n:]
}

func (s *Service) track(reqID uint64, op *pendingOp) {
	s.mu.Lock()
	s.pending[uint32(reqID)] = op
	s.mu.Unlock()
}

func (s *Service) take(reqID uint32) (*pendingOp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.pending[reqID]
	if ok {
		delete(s.pending, reqID)
	}
	return op, ok
}

func (s *Service) handleCompletion(ctx context.Context, data []byte) {
	c, err := hal.DecodeCompletion(data)
	if err != nil {
		log.G(ctx).WithError(err).Warn("keystore: malformed storage completion")
		return
	}
	op, ok := s.take(c.RequestID)
	if !ok {
		log.G(ctx).WithField("request_id", c.RequestID).Warn("keystore: completion for unknown request")
		return
	}

	if op.stage == stageOldValue {
		s.onOldValue(ctx, op, c)
		return
	}
	s.onTerminal(ctx, op, c)
}

// onOldValue handles write's first completion: the pre-existing envelope,
// read only to preserve created_at across an overwrite.
func (s *Service) onOldValue(ctx context.Context, op *pendingOp, c hal.StorageCompletion) {
	createdAtMs := s.wallclockMs()
	if c.Result == hal.ResultReadOK {
		if old, err := UnmarshalEnvelope(c.Data); err == nil {
			createdAtMs = old.CreatedAtMs
		}
	}

	now := s.wallclockMs()
	env := Envelope{Value: op.payload, CreatedAtMs: createdAtMs, UpdatedAtMs: now}
	b, err := MarshalEnvelope(env)
	if err != nil {
		s.reply(ctx, op, false, []byte("encode error"))
		return
	}

	reqID := s.h.StorageWriteAsync(uint64(WellKnownPID), storageKey(op.path), b)
	op.stage = stageValue
	s.track(reqID, op)
}

func (s *Service) onTerminal(ctx context.Context, op *pendingOp, c hal.StorageCompletion) {
	switch op.kind {
	case opRead:
		if c.Result != hal.ResultReadOK {
			s.reply(ctx, op, false, []byte("not found"))
			return
		}
		env, err := UnmarshalEnvelope(c.Data)
		if err != nil {
			s.reply(ctx, op, false, []byte("corrupt envelope"))
			return
		}
		s.reply(ctx, op, true, env.Value)

	case opExists:
		s.reply(ctx, op, true, c.Data)

	case opDelete:
		if c.Result == hal.ResultNotFound {
			s.reply(ctx, op, false, []byte("not found"))
			return
		}
		s.reply(ctx, op, true, nil)

	case opList:
		s.reply(ctx, op, true, c.Data)

	case opWrite:
		if c.Result == hal.ResultError {
			s.reply(ctx, op, false, []byte("storage error"))
			return
		}
		s.reply(ctx, op, true, nil)
	}
}

func (s *Service) wallclockMs() uint64 { return s.h.WallclockMs() }

func (s *Service) reply(ctx context.Context, op *pendingOp, ok bool, body []byte) {
	payload := proto.EncodeStatus(ok, body)
	s.k.SendMessage(ctx, WellKnownPID, op.replySlot, proto.MsgKeystoreReply, payload, nil)
}
