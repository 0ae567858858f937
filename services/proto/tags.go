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

// Package proto collects the well-known IPC tag numbers every service and
// client shares, per spec §6: permission (0x5000s), VFS (MSG_VFS_*),
// keystore/user/identity (0x7000s/0xA000s), and Init's registry protocol.
// Keeping them in one package avoids two services independently allocating
// the same tag for different meanings.
package proto

// Init service registry protocol (spec §4.7).
const (
	MsgRegisterService   uint32 = 0x1000
	MsgLookupService     uint32 = 0x1001
	MsgServiceReady      uint32 = 0x1002
	MsgServiceCapGranted uint32 = 0x1003
)

// Permission manager protocol.
const (
	MsgPermissionCheck  uint32 = 0x5000
	MsgPermissionResult uint32 = 0x5001
)

// VFS protocol tags.
const (
	MsgVFSStat    uint32 = 0x2000
	MsgVFSExists  uint32 = 0x2001
	MsgVFSRead    uint32 = 0x2002
	MsgVFSReaddir uint32 = 0x2003
	MsgVFSWrite   uint32 = 0x2004
	MsgVFSMkdir   uint32 = 0x2005
	MsgVFSRmdir   uint32 = 0x2006
	MsgVFSUnlink  uint32 = 0x2007
	MsgVFSReply   uint32 = 0x2008
)

// Keystore protocol tags, under the 0xA000 range.
const (
	MsgKeystoreRead   uint32 = 0xA000
	MsgKeystoreWrite  uint32 = 0xA001
	MsgKeystoreDelete uint32 = 0xA002
	MsgKeystoreExists uint32 = 0xA003
	MsgKeystoreList   uint32 = 0xA004
	MsgKeystoreReply  uint32 = 0xA005
)

// Identity protocol tags, under the 0x7000 range. No process sends or
// handles them: services/identity is a client wrapper that issues the
// matching Keystore (0xA000) requests scoped to /keys/identity/<zid>/...
// directly.
const (
	MsgIdentityGet    uint32 = 0x7000
	MsgIdentitySet    uint32 = 0x7001
	MsgIdentityDelete uint32 = 0x7002
	MsgIdentityReply  uint32 = 0x7003
)

// HAL-originated completions, delivered by the supervisor via
// kernel.DeliverPrivileged rather than ordinary IPC routing.
const (
	MsgStorageResult  uint32 = 0x6000
	MsgKeystoreResult uint32 = 0x6001
)

// Time service protocol, under the 0x9000 range: a one-shot alarm a
// process can't otherwise get without busy-polling GET_TIME, since that
// syscall (spec §6 opcode 0x02) only reads the clock, it never blocks.
const (
	MsgTimerSleep uint32 = 0x9000
	MsgTimerFired uint32 = 0x9001
)
