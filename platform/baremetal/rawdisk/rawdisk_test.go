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

package rawdisk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memDevice is an in-memory stand-in for a raw block device, growing on
// demand the way a sparse file or a VirtIO block device's backing store
// would.
type memDevice struct {
	mu   sync.Mutex
	data []byte
}

func newMemDevice(sizeSectors uint64) *memDevice {
	return &memDevice{data: make([]byte, sizeSectors*SectorSize)}
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(p, d.data[off:])
	return n, nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(d.data)) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	n := copy(d.data[off:], p)
	return n, nil
}

func TestOpenFormatsBlankDevice(t *testing.T) {
	dev := newMemDevice(64)
	s, err := Open(dev, 64)
	require.NoError(t, err)
	require.EqualValues(t, 1, s.nextFreeSector)
}

func TestWriteThenRead(t *testing.T) {
	dev := newMemDevice(64)
	s, err := Open(dev, 64)
	require.NoError(t, err)

	require.NoError(t, s.Write("inode:/a", []byte("hello")))
	v, err := s.Read("inode:/a")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	dev := newMemDevice(64)
	s, err := Open(dev, 64)
	require.NoError(t, err)

	_, err = s.Read("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOverwriteSupersedesOldEntry(t *testing.T) {
	dev := newMemDevice(64)
	s, err := Open(dev, 64)
	require.NoError(t, err)

	require.NoError(t, s.Write("k", []byte("v1")))
	require.NoError(t, s.Write("k", []byte("v2")))

	v, err := s.Read("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestDeleteRemovesKey(t *testing.T) {
	dev := newMemDevice(64)
	s, err := Open(dev, 64)
	require.NoError(t, err)

	require.NoError(t, s.Write("k", []byte("v")))
	require.NoError(t, s.Delete("k"))
	require.False(t, s.Exists("k"))

	err = s.Delete("k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsSortedMatchingKeys(t *testing.T) {
	dev := newMemDevice(64)
	s, err := Open(dev, 64)
	require.NoError(t, err)

	require.NoError(t, s.Write("content:/b", []byte("1")))
	require.NoError(t, s.Write("content:/a", []byte("2")))
	require.NoError(t, s.Write("inode:/a", []byte("3")))

	require.Equal(t, []string{"content:/a", "content:/b"}, s.List("content:"))
}

func TestReopenRebuildsIndexFromLog(t *testing.T) {
	dev := newMemDevice(64)
	s, err := Open(dev, 64)
	require.NoError(t, err)
	require.NoError(t, s.Write("a", []byte("1")))
	require.NoError(t, s.Write("b", []byte("2")))
	require.NoError(t, s.Delete("a"))

	reopened, err := Open(dev, 64)
	require.NoError(t, err)
	require.False(t, reopened.Exists("a"))
	v, err := reopened.Read("b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestCompactionReclaimsDeadSpace(t *testing.T) {
	dev := newMemDevice(8)
	s, err := Open(dev, 8)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Write("k", []byte("same-key-overwritten-each-time")))
	}

	v, err := s.Read("k")
	require.NoError(t, err)
	require.Equal(t, []byte("same-key-overwritten-each-time"), v)
}

func TestCapacityExceededAfterCompactionStillFails(t *testing.T) {
	dev := newMemDevice(3)
	s, err := Open(dev, 3)
	require.NoError(t, err)

	err = s.Write("k1", make([]byte, 4096))
	require.ErrorIs(t, err, ErrCapacityExceeded)
}
