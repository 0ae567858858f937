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

package vfs

import "strings"

// ProcessClass is the caller classification a PermissionContext carries,
// per spec §4.8.
type ProcessClass uint8

const (
	System ProcessClass = iota
	Runtime
	Application
)

// PermissionContext is checked in-memory before any storage I/O is issued,
// per spec §4.8.
type PermissionContext struct {
	UserID       *uint64
	ProcessClass ProcessClass
}

// Access is the operation class a check is performed for.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
	AccessExec
)

// CheckAccess reports whether ctx may perform access against inode, applying
// the owner/system/world bit that matches ctx's relationship to the inode,
// with the System/Runtime-into-/home escape hatch spec §4.8 names: System
// and Runtime callers may always write under /home/*, regardless of
// system_write, so identity services can seed user directories that don't
// belong to them yet.
func CheckAccess(ctx PermissionContext, inode Inode, access Access) bool {
	if access == AccessWrite && ctx.ProcessClass != Application && strings.HasPrefix(inode.Path, "/home/") {
		return true
	}

	isOwner := inode.OwnerID != nil && ctx.UserID != nil && *inode.OwnerID == *ctx.UserID
	isSystem := ctx.ProcessClass == System

	var read, write, exec bool
	switch {
	case isOwner:
		read, write, exec = inode.Perms.OwnerRead, inode.Perms.OwnerWrite, inode.Perms.OwnerExec
	case isSystem:
		read, write, exec = inode.Perms.SystemRead, inode.Perms.SystemWrite, inode.Perms.SystemExec
	default:
		read, write, exec = inode.Perms.WorldRead, inode.Perms.WorldWrite, inode.Perms.WorldExec
	}

	switch access {
	case AccessRead:
		return read
	case AccessWrite:
		return write
	case AccessExec:
		return exec
	default:
		return false
	}
}

// DefaultMode is granted to inodes synthesized by write/mkdir: owner gets
// full rights, system can read, world gets nothing.
var DefaultMode = Mode{
	OwnerRead: true, OwnerWrite: true, OwnerExec: true,
	SystemRead: true,
}
