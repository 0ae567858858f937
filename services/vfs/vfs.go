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

// Package vfs implements the VFS service (spec §4.8): a PendingOp state
// machine driving two key spaces, inode:<path> and content:<path>, through
// the HAL's async storage API. It is a native Go runtime.ProcessRunner, not
// a compiled WASM guest (see SPEC_FULL.md's guest-process scope decision),
// but drives the same kernel syscall-equivalent methods a real guest would
// reach through zos_syscall.
package vfs

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

// Config bundles VFS's tunables; zero value is usable for tests.
type Config struct {
	DefaultQuota StorageQuota
}

// maxPendingOps bounds the in-flight PendingOp table, spec §5's "pending-op
// maps have per-service caps" resource bound. VFS has no named constant in
// spec.md the way Keystore's MAX_PENDING_KEYSTORE_OPS does; this is sized
// generously since VFS traffic is expected to be higher-volume than
// Keystore's.
const maxPendingOps = 4096

type opKind uint8

const (
	opStat opKind = iota
	opExists
	opRead
	opReaddir
	opWrite
	opMkdir
	opRmdir
	opUnlink
)

type stage uint8

const (
	stageInode stage = iota // reading/checking inode:P (or inode:parent(P) for write/mkdir)
	stageOldInode           // write only: reading the pre-existing inode:P for its size
	stageContent            // reading/writing content:P
	stageFinal              // writing inode:P itself (write/mkdir) or deleting it (unlink/rmdir)
)

// pendingOp is one in-flight request's continuation, keyed by the HAL
// request_id of whichever storage call it is currently waiting on.
type pendingOp struct {
	kind      opKind
	stage     stage
	path      string
	replySlot int
	clientPID process.ID
	payload   []byte // write's content bytes
	oldSize   uint64
}

// Service is the VFS runtime.ProcessRunner.
type Service struct {
	k      *kernel.Kernel
	h      hal.HAL
	slot   int
	quotas *QuotaTracker

	mu      sync.Mutex
	pending map[uint32]*pendingOp
}

// New returns a VFS service driving k, issuing its storage calls directly
// against h. Native services hold a HAL reference the way a WASM guest
// would reach the same calls only indirectly through STORAGE_* syscalls
// (spec §4.5's "guest processes" scope decision in SPEC_FULL.md).
// cfg.DefaultQuota is applied to every user seen for the first time.
func New(k *kernel.Kernel, h hal.HAL, cfg Config) *Service {
	return &Service{
		k:       k,
		h:       h,
		quotas:  NewQuotaTracker(cfg.DefaultQuota),
		pending: make(map[uint32]*pendingOp),
	}
}

func (s *Service) PID() process.ID { return wellKnownVFSPID }

// wellKnownVFSPID is the fixed PID Init's boot order assigns VFS, per
// spec §4.7's "fixed order" boot sequence.
const wellKnownVFSPID process.ID = 3

// Run installs VFS's well-known process/endpoint entries and services both
// client requests and HAL storage completions delivered as
// MSG_STORAGE_RESULT until ctx is canceled. Registration with Init is done
// by services/bootstrap, not here.
func (s *Service) Run(ctx context.Context) error {
	s.k.RegisterWellKnown(ctx, wellKnownVFSPID, process.Init, "vfs")
	s.slot = s.k.CreateEndpoint(ctx, wellKnownVFSPID)

	bell := s.k.Doorbell(wellKnownVFSPID)
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
		recv, code := s.k.ReceiveWithCaps(ctx, wellKnownVFSPID, s.slot)
		if code <= 0 {
			return
		}
		s.handle(ctx, recv)
	}
}

func (s *Service) handle(ctx context.Context, recv kernel.Received) {
	msg := recv.Message
	switch msg.Tag {
	case proto.MsgStorageResult:
		s.handleCompletion(ctx, msg.Data)
		return
	}

	if len(recv.CapSlots) == 0 {
		log.G(ctx).WithField("tag", msg.Tag).Warn("vfs: request without a reply capability")
		return
	}
	replySlot := recv.CapSlots[0]
	clientPID := process.ID(msg.From)

	if s.atCapacity() {
		s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte("too many pending ops"))
		return
	}

	switch msg.Tag {
	case proto.MsgVFSStat, proto.MsgVFSExists, proto.MsgVFSRead, proto.MsgVFSReaddir, proto.MsgVFSRmdir, proto.MsgVFSUnlink:
		path := string(msg.Data)
		if err := validatePath(path); err != nil {
			s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte(err.Error()))
			return
		}
		s.beginPathOp(ctx, kindForTag(msg.Tag), path, clientPID, replySlot)
	case proto.MsgVFSMkdir:
		path := string(msg.Data)
		if err := validatePath(path); err != nil {
			s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte(err.Error()))
			return
		}
		s.beginPathOp(ctx, opMkdir, path, clientPID, replySlot)
	case proto.MsgVFSWrite:
		path, content := decodeWritePayload(msg.Data)
		if err := validatePath(path); err != nil {
			s.reply(ctx, &pendingOp{replySlot: replySlot}, false, []byte(err.Error()))
			return
		}
		s.beginWrite(ctx, path, content, clientPID, replySlot)
	default:
		log.G(ctx).WithField("tag", msg.Tag).Warn("vfs: unrecognized message")
	}
}

// validatePath requires every non-empty "/"-separated segment of path to be
// a valid identifier, the same constraint services/initsvc applies to
// service names. The root path "/" has no segments and is always valid.
func validatePath(path string) error {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if err := identifiers.Validate(seg); err != nil {
			return fmt.Errorf("vfs: invalid path %q: %w", path, err)
		}
	}
	return nil
}

func (s *Service) atCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) >= maxPendingOps
}

func kindForTag(tag uint32) opKind {
	switch tag {
	case proto.MsgVFSStat:
		return opStat
	case proto.MsgVFSExists:
		return opExists
	case proto.MsgVFSRead:
		return opRead
	case proto.MsgVFSReaddir:
		return opReaddir
	case proto.MsgVFSRmdir:
		return opRmdir
	case proto.MsgVFSUnlink:
		return opUnlink
	default:
		return opStat
	}
}

// decodeWritePayload splits a MSG_VFS_WRITE body into its path and content:
// `u16 path_len, path_bytes, content_bytes`.
func decodeWritePayload(data []byte) (string, []byte) {
	if len(data) < 2 {
		return "", nil
	}
	n := binary.LittleEndian.Uint16(data[:2])
	if int(n)+2 > len(data) {
		return "", nil
	}
	return string(data[2 : 2+n]), data[2+n:]
}

func (s *Service) beginPathOp(ctx context.Context, kind opKind, path string, clientPID process.ID, replySlot int) {
	reqID := s.readInode(path)
	s.track(reqID, &pendingOp{kind: kind, stage: stageInode, path: path, replySlot: replySlot, clientPID: clientPID})
}

func (s *Service) beginWrite(ctx context.Context, path string, content []byte, clientPID process.ID, replySlot int) {
	op := &pendingOp{kind: opWrite, stage: stageOldInode, path: path, replySlot: replySlot, clientPID: clientPID, payload: content}
	if ParentPath(path) == "/" {
		// The root directory is implicit: it has no inode of its own and is
		// always writable, so a top-level write skips straight to the
		// old-inode-for-quota-sizing read instead of checking a parent.
		reqID := s.readInode(path)
		s.track(reqID, op)
		return
	}
	reqID := s.readInode(ParentPath(path))
	op.stage = stageInode
	s.track(reqID, op)
}

func (s *Service) readInode(path string) uint64   { return s.h.StorageReadAsync(uint64(wellKnownVFSPID), InodeKey(path)) }
func (s *Service) writeInode(path string, data []byte) uint64 {
	return s.h.StorageWriteAsync(uint64(wellKnownVFSPID), InodeKey(path), data)
}
func (s *Service) deleteInode(path string) uint64 { return s.h.StorageDeleteAsync(uint64(wellKnownVFSPID), InodeKey(path)) }
func (s *Service) readContent(path string) uint64 {
	return s.h.StorageReadAsync(uint64(wellKnownVFSPID), ContentKey(path))
}
func (s *Service) writeContent(path string, data []byte) uint64 {
	return s.h.StorageWriteAsync(uint64(wellKnownVFSPID), ContentKey(path), data)
}
func (s *Service) deleteContent(path string) uint64 {
	return s.h.StorageDeleteAsync(uint64(wellKnownVFSPID), ContentKey(path))
}
func (s *Service) listPrefix(prefix string) uint64 { return s.h.StorageListAsync(uint64(wellKnownVFSPID), prefix) }
func (s *Service) wallclockMs() uint64             { return s.h.WallclockMs() }

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
		log.G(ctx).WithError(err).Warn("vfs: malformed storage completion")
		return
	}
	op, ok := s.take(c.RequestID)
	if !ok {
		log.G(ctx).WithField("request_id", c.RequestID).Warn("vfs: completion for unknown request")
		return
	}

	switch op.stage {
	case stageInode:
		s.onInodeStage(ctx, op, c)
	case stageOldInode:
		s.onOldInodeStage(ctx, op, c)
	case stageContent:
		s.onContentStage(ctx, op, c)
	case stageFinal:
		s.onFinalStage(ctx, op, c)
	}
}

func (s *Service) onInodeStage(ctx context.Context, op *pendingOp, c hal.StorageCompletion) {
	found := c.Result == hal.ResultReadOK
	var inode Inode
	if found {
		var err error
		inode, err = UnmarshalInode(c.Data)
		if err != nil {
			s.reply(ctx, op, false, []byte("corrupt inode"))
			return
		}
	}
	pctx := s.permissionContext(op.clientPID)

	switch op.kind {
	case opStat:
		if !found {
			s.reply(ctx, op, false, []byte("not found"))
			return
		}
		b, _ := MarshalInode(inode)
		s.reply(ctx, op, true, b)

	case opExists:
		s.reply(ctx, op, true, []byte{boolByte(found)})

	case opRead:
		if !found {
			s.reply(ctx, op, false, []byte("not found"))
			return
		}
		if !inode.IsFile() {
			s.reply(ctx, op, false, []byte("not a file"))
			return
		}
		if !CheckAccess(pctx, inode, AccessRead) {
			s.reply(ctx, op, false, []byte("permission denied"))
			return
		}
		reqID := s.readContent(op.path)
		op.stage = stageContent
		s.track(reqID, op)

	case opReaddir:
		if !found || !inode.IsDirectory() {
			s.reply(ctx, op, false, []byte("not a directory"))
			return
		}
		if !CheckAccess(pctx, inode, AccessRead) {
			s.reply(ctx, op, false, []byte("permission denied"))
			return
		}
		reqID := s.listPrefix(InodeKey(op.path + "/"))
		op.stage = stageContent
		s.track(reqID, op)

	case opRmdir:
		if !found {
			s.reply(ctx, op, false, []byte("not found"))
			return
		}
		if !inode.IsDirectory() {
			s.reply(ctx, op, false, []byte("not a directory"))
			return
		}
		if !CheckAccess(pctx, inode, AccessWrite) {
			s.reply(ctx, op, false, []byte("permission denied"))
			return
		}
		reqID := s.deleteInode(op.path)
		op.stage = stageFinal
		s.track(reqID, op)

	case opUnlink:
		if !found {
			s.reply(ctx, op, false, []byte("not found"))
			return
		}
		if !CheckAccess(pctx, inode, AccessWrite) {
			s.reply(ctx, op, false, []byte("permission denied"))
			return
		}
		reqID := s.deleteContent(op.path)
		op.stage = stageContent
		op.oldSize = inode.Size
		s.track(reqID, op)

	case opMkdir:
		if found {
			s.reply(ctx, op, false, []byte("already exists"))
			return
		}
		now := s.wallclockMs()
		uid := uint64(op.clientPID)
		dir := Inode{
			Path: op.path, ParentPath: ParentPath(op.path), Name: BaseName(op.path),
			Type: Directory, OwnerID: &uid, Perms: DefaultMode, CreatedAtMs: now, UpdatedAtMs: now,
		}
		b, _ := MarshalInode(dir)
		reqID := s.writeInode(op.path, b)
		op.stage = stageFinal
		s.track(reqID, op)

	case opWrite:
		if !found || !inode.IsDirectory() {
			s.reply(ctx, op, false, []byte("parent is not a directory"))
			return
		}
		if !CheckAccess(pctx, inode, AccessWrite) {
			s.reply(ctx, op, false, []byte("permission denied"))
			return
		}
		reqID := s.readInode(op.path)
		op.stage = stageOldInode
		s.track(reqID, op)
	}
}

// permissionContext derives the in-memory PermissionContext spec §4.8
// checks every read/write/delete against. VFS has no identity layer of its
// own (ZID resolution lives in services/identity): the requesting PID
// doubles as user_id, the same stand-in StorageQuota already uses, and
// well-known PIDs below process.FirstDynamic are treated as System since
// only boot-order services run there.
func (s *Service) permissionContext(clientPID process.ID) PermissionContext {
	uid := uint64(clientPID)
	class := Application
	if clientPID < process.FirstDynamic {
		class = System
	}
	return PermissionContext{UserID: &uid, ProcessClass: class}
}

func (s *Service) onOldInodeStage(ctx context.Context, op *pendingOp, c hal.StorageCompletion) {
	var oldSize uint64
	if c.Result == hal.ResultReadOK {
		if old, err := UnmarshalInode(c.Data); err == nil {
			oldSize = old.Size
		}
	}

	userID := uint64(op.clientPID)
	if !s.quotas.CheckWrite(userID, oldSize, uint64(len(op.payload))) {
		s.reply(ctx, op, false, []byte("over quota"))
		return
	}
	op.oldSize = oldSize

	now := s.wallclockMs()
	newInode := Inode{
		Path: op.path, ParentPath: ParentPath(op.path), Name: BaseName(op.path),
		Type: File, OwnerID: &userID, Perms: DefaultMode, CreatedAtMs: now, UpdatedAtMs: now,
		Size: uint64(len(op.payload)),
	}
	b, _ := MarshalInode(newInode)
	reqID := s.writeInode(op.path, b)
	op.stage = stageFinal
	s.track(reqID, op)
}

func (s *Service) onContentStage(ctx context.Context, op *pendingOp, c hal.StorageCompletion) {
	switch op.kind {
	case opRead:
		if c.Result != hal.ResultReadOK {
			s.reply(ctx, op, false, []byte("not found"))
			return
		}
		s.reply(ctx, op, true, c.Data)
	case opReaddir:
		s.reply(ctx, op, true, c.Data)
	case opUnlink:
		reqID := s.deleteInode(op.path)
		op.stage = stageFinal
		s.track(reqID, op)
	}
}

func (s *Service) onFinalStage(ctx context.Context, op *pendingOp, c hal.StorageCompletion) {
	if c.Result == hal.ResultError {
		s.reply(ctx, op, false, []byte("storage error"))
		return
	}

	switch op.kind {
	case opWrite:
		reqID := s.writeContent(op.path, op.payload)
		s.quotas.CommitWrite(uint64(op.clientPID), op.oldSize, uint64(len(op.payload)))
		op.stage = stageFinal
		op.kind = opWriteContent
		s.track(reqID, op)
	case opWriteContent:
		s.reply(ctx, op, true, nil)
	case opMkdir, opRmdir, opUnlink:
		s.reply(ctx, op, true, nil)
	}
}

// opWriteContent is a sub-stage of opWrite after the inode write lands;
// kept distinct so onFinalStage/onContentStage don't need a second stage
// enum crossing two different opKinds.
const opWriteContent opKind = 0xFF

func (s *Service) reply(ctx context.Context, op *pendingOp, ok bool, body []byte) {
	payload := proto.EncodeStatus(ok, body)
	s.k.SendMessage(ctx, wellKnownVFSPID, op.replySlot, proto.MsgVFSReply, payload, nil)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
