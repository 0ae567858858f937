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

import (
	"encoding/json"
	"path"
	"strings"
)

// InodeType is the kind of filesystem object an Inode describes.
type InodeType uint8

const (
	File InodeType = iota
	Directory
	SymLink
)

// Mode is the owner/system/world x read/write/execute permission bit
// matrix spec §4.8 describes.
type Mode struct {
	OwnerRead, OwnerWrite, OwnerExec    bool
	SystemRead, SystemWrite, SystemExec bool
	WorldRead, WorldWrite, WorldExec    bool
}

// Inode is the JSON record stored at inode:<path>.
type Inode struct {
	Path        string `json:"path"`
	ParentPath  string `json:"parent_path"`
	Name        string `json:"name"`
	Type        InodeType `json:"type"`
	OwnerID     *uint64 `json:"owner_id,omitempty"`
	Perms       Mode    `json:"permissions"`
	CreatedAtMs uint64  `json:"created_at_ms"`
	UpdatedAtMs uint64  `json:"updated_at_ms"`
	Size        uint64  `json:"size"`
	Encrypted   bool    `json:"encrypted"`
	ContentHash string  `json:"content_hash,omitempty"`
}

// IsFile and IsDirectory are the two checks VFS's handlers branch on
// before issuing a content: read/write per spec §4.8.
func (i Inode) IsFile() bool      { return i.Type == File }
func (i Inode) IsDirectory() bool { return i.Type == Directory }

// MarshalInode and UnmarshalInode wrap encoding/json so callers never touch
// the envelope format directly; the wire format is an implementation
// detail, not part of the IPC protocol.
func MarshalInode(i Inode) ([]byte, error) { return json.Marshal(i) }

func UnmarshalInode(data []byte) (Inode, error) {
	var i Inode
	err := json.Unmarshal(data, &i)
	return i, err
}

// ParentPath returns the parent directory of p, using the same semantics
// as path.Dir but normalized to always use "/" and never return ".".
func ParentPath(p string) string {
	if p == "/" {
		return "/"
	}
	dir := path.Dir(strings.TrimRight(p, "/"))
	if dir == "." {
		return "/"
	}
	return dir
}

// BaseName returns the final path segment of p.
func BaseName(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// InodeKey and ContentKey compute the two key spaces VFS issues storage
// calls against, per spec §6.
func InodeKey(p string) string   { return "inode:" + p }
func ContentKey(p string) string { return "content:" + p }
