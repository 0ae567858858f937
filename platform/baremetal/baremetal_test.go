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

package baremetal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeroos/kernel/hal"
)

func newTestHAL(t *testing.T) *HAL {
	t.Helper()
	dir := t.TempDir()
	h, err := New(Config{
		DevicePath:      filepath.Join(dir, "disk.img"),
		CapacitySectors: 256,
		BinaryDir:       dir,
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestStorageWriteThenReadRoundTrips(t *testing.T) {
	h := newTestHAL(t)

	h.StorageWriteAsync(1, "inode:/a", []byte("hello"))
	c := awaitCompletion(t, h)
	require.Equal(t, hal.ResultWriteOK, c.Result)

	h.StorageReadAsync(1, "inode:/a")
	c = awaitCompletion(t, h)
	require.Equal(t, hal.ResultReadOK, c.Result)
	require.Equal(t, []byte("hello"), c.Data)
}

func TestStorageReadMissingReturnsNotFound(t *testing.T) {
	h := newTestHAL(t)
	h.StorageReadAsync(1, "missing")
	c := awaitCompletion(t, h)
	require.Equal(t, hal.ResultNotFound, c.Result)
}

func TestStorageDeleteThenExists(t *testing.T) {
	h := newTestHAL(t)

	h.StorageWriteAsync(1, "k", []byte("v"))
	awaitCompletion(t, h)

	h.StorageDeleteAsync(1, "k")
	c := awaitCompletion(t, h)
	require.Equal(t, hal.ResultWriteOK, c.Result)

	h.StorageExistsAsync(1, "k")
	c = awaitCompletion(t, h)
	require.Equal(t, hal.ResultExistsOK, c.Result)
	require.Equal(t, []byte{0}, c.Data)
}

func TestLoadBinaryReadsFromBinaryDir(t *testing.T) {
	h := newTestHAL(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.cfg.BinaryDir, "vfs.wasm"), []byte("\x00asm"), 0o600))

	wasm, err := h.LoadBinary(context.Background(), "vfs")
	require.NoError(t, err)
	require.Equal(t, []byte("\x00asm"), wasm)
}

func TestLoadBinaryMissingIsNotFound(t *testing.T) {
	h := newTestHAL(t)
	_, err := h.LoadBinary(context.Background(), "nope")
	require.Error(t, err)
}

func TestNowNanosIsMonotonic(t *testing.T) {
	h := newTestHAL(t)
	a := h.NowNanos()
	time.Sleep(time.Millisecond)
	b := h.NowNanos()
	require.Greater(t, b, a)
}

func TestFillRandomProducesNonZeroBytes(t *testing.T) {
	h := newTestHAL(t)
	buf := make([]byte, 32)
	h.FillRandom(buf)

	var allZero = true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	require.False(t, allZero)
}

func awaitCompletion(t *testing.T, h *HAL) hal.StorageCompletion {
	t.Helper()
	select {
	case c := <-h.Completions():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for storage completion")
		return hal.StorageCompletion{}
	}
}
