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

package proto

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned by the Decode* helpers when data is shorter
// than its fixed-layout header requires.
var ErrTruncated = errors.New("proto: truncated message")

// EncodeServiceName packs a MSG_REGISTER_SERVICE / MSG_LOOKUP_SERVICE
// payload: the service's well-known name.
func EncodeServiceName(name string) []byte {
	return []byte(name)
}

// DecodeServiceName is the inverse of EncodeServiceName.
func DecodeServiceName(data []byte) string {
	return string(data)
}

// ServiceDescriptor is the body of a MSG_SERVICE_READY reply to
// MSG_LOOKUP_SERVICE: the PID and endpoint a client should address
// further requests to.
type ServiceDescriptor struct {
	PID        uint64
	EndpointID uint64
}

// EncodeServiceDescriptor packs d as `u64 pid, u64 endpoint_id`.
func EncodeServiceDescriptor(d ServiceDescriptor) []byte {
	out := binary.LittleEndian.AppendUint64(nil, d.PID)
	out = binary.LittleEndian.AppendUint64(out, d.EndpointID)
	return out
}

// DecodeServiceDescriptor is the inverse of EncodeServiceDescriptor.
func DecodeServiceDescriptor(data []byte) (ServiceDescriptor, error) {
	if len(data) < 16 {
		return ServiceDescriptor{}, ErrTruncated
	}
	return ServiceDescriptor{
		PID:        binary.LittleEndian.Uint64(data[0:8]),
		EndpointID: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

// StatusOK and StatusError are the status byte every VFS/Keystore response
// leads with:
// the transport itself never carries error codes (spec §7), so each
// protocol-specific reply payload leads with a one-byte ok flag.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// EncodeStatus prepends a status byte to body. On error, body is the
// human-readable reason instead of the success payload.
func EncodeStatus(ok bool, body []byte) []byte {
	status := StatusOK
	if !ok {
		status = StatusError
	}
	return append([]byte{status}, body...)
}

// DecodeStatus splits a status-prefixed payload back into (ok, body).
func DecodeStatus(data []byte) (bool, []byte, error) {
	if len(data) < 1 {
		return false, nil, ErrTruncated
	}
	return data[0] == StatusOK, data[1:], nil
}

// PermissionCheck is the body of a MSG_PERMISSION_CHECK request: subject is
// the PID asking to act, action/object name what it wants to do and to
// what, in the same free-form vocabulary the caller and PermissionManager's
// policy table agree on out of band (e.g. action "lookup_service", object
// "keystore").
type PermissionCheck struct {
	Subject uint64
	Action  string
	Object  string
}

// EncodePermissionCheck packs p as `u64 subject, u16 action_len,
// action_bytes, object_bytes`.
func EncodePermissionCheck(p PermissionCheck) []byte {
	out := binary.LittleEndian.AppendUint64(nil, p.Subject)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(p.Action)))
	out = append(out, p.Action...)
	out = append(out, p.Object...)
	return out
}

// DecodePermissionCheck is the inverse of EncodePermissionCheck.
func DecodePermissionCheck(data []byte) (PermissionCheck, error) {
	if len(data) < 10 {
		return PermissionCheck{}, ErrTruncated
	}
	subject := binary.LittleEndian.Uint64(data[0:8])
	n := int(binary.LittleEndian.Uint16(data[8:10]))
	if 10+n > len(data) {
		return PermissionCheck{}, ErrTruncated
	}
	return PermissionCheck{
		Subject: subject,
		Action:  string(data[10 : 10+n]),
		Object:  string(data[10+n:]),
	}, nil
}
