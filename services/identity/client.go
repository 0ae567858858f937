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

// Package identity is the documented client contract spec.md names but
// deliberately scopes no ZID cryptography into: a typed wrapper around
// Keystore requests scoped to /keys/identity/<zid>/..., exposing the
// logical get/set/delete operations the 0x7000 tag range (services/proto)
// names, plus exists/list, all sent on the wire as Keystore 0xA000
// requests, without a ZID key-generation or signing story of its own. There is no separate Identity process or well-known PID;
// any process already holding a capability to Keystore's endpoint (Init
// boot wiring, services/bootstrap, or a test) constructs a Client over
// it directly and issues requests on its own IPC mailbox, the same way
// the Keystore test clients do by hand.
package identity

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/zeroos/kernel/core/capability"
	"github.com/zeroos/kernel/core/kernel"
	"github.com/zeroos/kernel/core/process"
	"github.com/zeroos/kernel/services/proto"
)

// namespaceRoot is the exclusive key prefix Identity operates under.
// Keystore enforces /keys/ itself; this package narrows further to the
// identity sub-tree so a Client can never address another tenant's keys.
const namespaceRoot = "/keys/identity/"

// ErrReplyTimeout is returned when Keystore does not answer within
// replyTimeout. A stuck Keystore should never hang a caller forever.
var ErrReplyTimeout = errors.New("identity: timed out waiting for keystore reply")

// ErrNotFound mirrors Keystore's own not-found reply for Get/Delete.
var ErrNotFound = errors.New("identity: not found")

const replyTimeout = 2 * time.Second

// Client issues Keystore requests on behalf of pid, which must already
// hold a Write capability to Keystore's endpoint in keystoreSlot (see
// services/bootstrap for how that capability is acquired at boot). A
// Client is not safe for concurrent use: it creates one fresh reply
// endpoint per call and blocks pid's own doorbell waiting for the
// matching reply, so a process that owns more than one in-flight
// Identity call at a time needs one Client (or a serializing wrapper)
// per caller.
type Client struct {
	k            *kernel.Kernel
	pid          process.ID
	keystoreSlot int
}

// NewClient returns a Client that addresses Keystore through keystoreSlot,
// a capability already installed in pid's CSpace.
func NewClient(k *kernel.Kernel, pid process.ID, keystoreSlot int) *Client {
	return &Client{k: k, pid: pid, keystoreSlot: keystoreSlot}
}

func fieldPath(zid, field string) string {
	return namespaceRoot + zid + "/" + field
}

// Get fetches field under zid's identity record.
func (c *Client) Get(ctx context.Context, zid, field string) ([]byte, error) {
	ok, body, err := c.roundTrip(ctx, proto.MsgKeystoreRead, []byte(fieldPath(zid, field)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return body, nil
}

// Set stores value under zid's identity record, creating or overwriting it.
func (c *Client) Set(ctx context.Context, zid, field string, value []byte) error {
	path := fieldPath(zid, field)
	buf := encodeWrite(path, value)
	ok, body, err := c.roundTrip(ctx, proto.MsgKeystoreWrite, buf)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("identity: " + string(body))
	}
	return nil
}

// Delete removes field from zid's identity record.
func (c *Client) Delete(ctx context.Context, zid, field string) error {
	ok, _, err := c.roundTrip(ctx, proto.MsgKeystoreDelete, []byte(fieldPath(zid, field)))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether field is present under zid's identity record.
func (c *Client) Exists(ctx context.Context, zid, field string) (bool, error) {
	_, body, err := c.roundTrip(ctx, proto.MsgKeystoreExists, []byte(fieldPath(zid, field)))
	if err != nil {
		return false, err
	}
	return len(body) == 1 && body[0] == 1, nil
}

// List returns the fields stored under zid's identity record.
func (c *Client) List(ctx context.Context, zid string) ([]string, error) {
	prefix := namespaceRoot + zid + "/"
	ok, body, err := c.roundTrip(ctx, proto.MsgKeystoreList, []byte(prefix))
	if err != nil {
		return nil, err
	}
	if !ok || len(body) == 0 {
		return nil, nil
	}
	keys := strings.Split(string(body), "\n")
	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		if i := strings.Index(key, prefix); i >= 0 {
			key = key[i+len(prefix):]
		}
		fields = append(fields, key)
	}
	return fields, nil
}

// encodeWrite matches Keystore's and VFS's shared MSG_*_WRITE wire
// layout: u16 path_len, path_bytes, content_bytes.
func encodeWrite(path string, content []byte) []byte {
	buf := make([]byte, 2+len(path)+len(content))
	binary.LittleEndian.PutUint16(buf[:2], uint16(len(path)))
	copy(buf[2:], path)
	copy(buf[2+len(path):], content)
	return buf
}

// roundTrip sends tag/data to Keystore over a freshly created reply
// endpoint and blocks for the matching MSG_KEYSTORE_REPLY. It keeps the
// endpoint's own full-rights capability for receiving and transfers a
// second capability attenuated from it, the same two-capability split
// CreateEndpoint plus GrantCapability gives any other IPC client (the read
// side must never leave pid's CSpace or ReceiveWithCaps has nothing left to
// check against). The transferred copy carries Grant as well as Write:
// ipc_send's transfer step axiom-checks the source slot for Grant before
// moving it, so a Write-only derivation would never clear SendMessage.
func (c *Client) roundTrip(ctx context.Context, tag uint32, data []byte) (bool, []byte, error) {
	replySlot := c.k.CreateEndpoint(ctx, c.pid)
	replyCode, writeSlot := c.k.GrantCapability(ctx, c.pid, replySlot, c.pid, capability.Permissions{Write: true, Grant: true})
	if replyCode <= 0 {
		return false, nil, errors.New("identity: failed to prepare reply capability")
	}

	bell := c.k.Doorbell(c.pid)

	if code := c.k.SendMessage(ctx, c.pid, c.keystoreSlot, tag, data, []int{writeSlot}); code <= 0 {
		return false, nil, errors.New("identity: send to keystore failed")
	}

	select {
	case <-bell:
	case <-ctx.Done():
		return false, nil, ctx.Err()
	case <-time.After(replyTimeout):
		return false, nil, ErrReplyTimeout
	}

	recv, code := c.k.ReceiveWithCaps(ctx, c.pid, replySlot)
	if code <= 0 {
		return false, nil, errors.New("identity: no reply from keystore")
	}
	return proto.DecodeStatus(recv.Message.Data)
}
