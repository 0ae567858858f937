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

// Package rawdisk implements the sector-addressed key-value format spec §6
// describes for the bare-metal backend: a superblock at sector 0
// (`{magic, version, entry_count, next_free_sector, checksum}`), followed
// by an append-only log of sector-aligned entries (`{magic, flags, key_len,
// value_len}` plus key and value bytes). There is no B-tree or free list;
// the allocator only ever grows the tail, and compacts by rewriting every
// live entry back from sector 1 when the tail would overrun the device's
// capacity. This mirrors a VirtIO block device addressed by raw sector
// number rather than a POSIX filesystem, which is the substrate spec §1
// names for the bare-metal target.
package rawdisk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/highwayhash"
)

const (
	// SectorSize is the device block size every structure aligns to.
	SectorSize = 512

	superblockMagic uint32 = 0x5A4F5342 // "ZOSB"
	entryMagic      uint32 = 0x5A4F5345 // "ZOSE"

	superblockVersion uint32 = 1

	entryFlagLive    uint8 = 0
	entryFlagDeleted uint8 = 1

	entryHeaderSize = 4 + 1 + 2 + 4 // magic, flags, key_len, value_len
)

// checksumKey is the fixed 32-byte HighwayHash key the superblock checksum
// is computed with; entry headers carry no checksum and are checked by
// magic only. It is not a secret — the checksum exists to
// catch torn writes and bitrot, not to authenticate content (Keystore's
// envelope.go is where confidentiality and integrity against a hostile
// writer are handled).
var checksumKey = [32]byte{
	'z', 'e', 'r', 'o', 'o', 's', '-', 'r',
	'a', 'w', 'd', 'i', 's', 'k', '-', 'v',
	1, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0,
}

var (
	// ErrCorrupt is returned when the superblock fails its magic or
	// checksum check, or an entry header fails its magic check.
	ErrCorrupt = errors.New("rawdisk: corrupt on-disk structure")
	// ErrNotFound is returned by Read and Delete for an absent key.
	ErrNotFound = errors.New("rawdisk: key not found")
	// ErrCapacityExceeded means even a full compaction would not make
	// room for the pending write.
	ErrCapacityExceeded = errors.New("rawdisk: device capacity exceeded")
)

// device is the subset of *os.File rawdisk needs, so tests can swap in an
// in-memory backing store without a real block device.
type device interface {
	io.ReaderAt
	io.WriterAt
}

type location struct {
	sector uint64
	length uint32 // total entry length in bytes, header+key+value
}

// Store is an append-only sector-addressed key-value store.
type Store struct {
	mu sync.Mutex

	dev            device
	capacitySector uint64

	nextFreeSector uint64
	index          map[string]location
}

// Open reads dev's superblock, or formats it fresh if it is all-zero, and
// returns a Store ready for use. capacitySectors bounds how far the
// allocator's tail may grow before Write triggers a compaction.
func Open(dev device, capacitySectors uint64) (*Store, error) {
	s := &Store{dev: dev, capacitySector: capacitySectors, index: make(map[string]location)}

	sb, err := readSuperblock(dev)
	if errors.Is(err, errBlankSuperblock) {
		s.nextFreeSector = 1
		if werr := s.writeSuperblock(); werr != nil {
			return nil, werr
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	s.nextFreeSector = sb.nextFreeSector
	if err := s.rebuildIndex(sb.entryCount); err != nil {
		return nil, err
	}
	return s, nil
}

type superblock struct {
	magic          uint32
	version        uint32
	entryCount     uint32
	nextFreeSector uint64
	checksum       uint64
}

var errBlankSuperblock = errors.New("rawdisk: blank superblock")

func readSuperblock(dev device) (superblock, error) {
	buf := make([]byte, SectorSize)
	if _, err := dev.ReadAt(buf, 0); err != nil && err != io.EOF {
		return superblock{}, fmt.Errorf("rawdisk: read superblock: %w", err)
	}

	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return superblock{}, errBlankSuperblock
	}

	sb := superblock{
		magic:          binary.LittleEndian.Uint32(buf[0:4]),
		version:        binary.LittleEndian.Uint32(buf[4:8]),
		entryCount:     binary.LittleEndian.Uint32(buf[8:12]),
		nextFreeSector: binary.LittleEndian.Uint64(buf[12:20]),
		checksum:       binary.LittleEndian.Uint64(buf[20:28]),
	}
	if sb.magic != superblockMagic {
		return superblock{}, fmt.Errorf("%w: bad superblock magic", ErrCorrupt)
	}
	if highwayhash.Sum64(buf[:20], checksumKey[:]) != sb.checksum {
		return superblock{}, fmt.Errorf("%w: superblock checksum mismatch", ErrCorrupt)
	}
	return sb, nil
}

func (s *Store) writeSuperblock() error {
	buf := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], superblockMagic)
	binary.LittleEndian.PutUint32(buf[4:8], superblockVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(s.index)))
	binary.LittleEndian.PutUint64(buf[12:20], s.nextFreeSector)
	binary.LittleEndian.PutUint64(buf[20:28], highwayhash.Sum64(buf[:20], checksumKey[:]))

	_, err := s.dev.WriteAt(buf, 0)
	return err
}

// rebuildIndex walks the entry log from sector 1 to nextFreeSector,
// reconstructing the key->location index the way mounting a real
// append-only log always must: there is no separate on-disk directory.
func (s *Store) rebuildIndex(expectedLive uint32) error {
	sector := uint64(1)
	for sector < s.nextFreeSector {
		hdr := make([]byte, entryHeaderSize)
		if _, err := s.dev.ReadAt(hdr, int64(sector*SectorSize)); err != nil {
			return fmt.Errorf("rawdisk: read entry header at sector %d: %w", sector, err)
		}
		magic := binary.LittleEndian.Uint32(hdr[0:4])
		if magic != entryMagic {
			return fmt.Errorf("%w: entry header at sector %d", ErrCorrupt, sector)
		}
		flags := hdr[4]
		keyLen := binary.LittleEndian.Uint16(hdr[5:7])
		valueLen := binary.LittleEndian.Uint32(hdr[7:11])

		body := make([]byte, int(keyLen)+int(valueLen))
		if _, err := s.dev.ReadAt(body, int64(sector*SectorSize)+entryHeaderSize); err != nil {
			return fmt.Errorf("rawdisk: read entry body at sector %d: %w", sector, err)
		}
		key := string(body[:keyLen])
		total := uint32(entryHeaderSize) + uint32(keyLen) + valueLen
		sectors := sectorsFor(total)

		if flags == entryFlagDeleted {
			delete(s.index, key)
		} else {
			s.index[key] = location{sector: sector, length: total}
		}
		sector += sectors
	}
	return nil
}

func sectorsFor(byteLen uint32) uint64 {
	return (uint64(byteLen) + SectorSize - 1) / SectorSize
}

// Read returns the value stored under key, or ErrNotFound.
func (s *Store) Read(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.index[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.readValueAt(loc, key)
}

func (s *Store) readValueAt(loc location, key string) ([]byte, error) {
	hdr := make([]byte, entryHeaderSize)
	if _, err := s.dev.ReadAt(hdr, int64(loc.sector*SectorSize)); err != nil {
		return nil, fmt.Errorf("rawdisk: read entry: %w", err)
	}
	keyLen := binary.LittleEndian.Uint16(hdr[5:7])
	valueLen := binary.LittleEndian.Uint32(hdr[7:11])

	value := make([]byte, valueLen)
	if _, err := s.dev.ReadAt(value, int64(loc.sector*SectorSize)+entryHeaderSize+int64(keyLen)); err != nil {
		return nil, fmt.Errorf("rawdisk: read value: %w", err)
	}
	return value, nil
}

// Exists reports whether key has a live entry.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// List returns every live key with the given prefix, sorted.
func (s *Store) List(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.index {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Write appends a new entry for key, superseding any earlier one in the
// index (the old sectors become dead space reclaimed at the next
// compaction). Triggers a compaction first if the tail would otherwise run
// past capacitySector.
func (s *Store) Write(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntry(key, value, entryFlagLive)
}

// Delete appends a tombstone for key and removes it from the index.
// Returns ErrNotFound if key has no live entry.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; !ok {
		return ErrNotFound
	}
	return s.appendEntry(key, nil, entryFlagDeleted)
}

func (s *Store) appendEntry(key string, value []byte, flags uint8) error {
	total := uint32(entryHeaderSize) + uint32(len(key)) + uint32(len(value))
	need := sectorsFor(total)

	if s.nextFreeSector+need > s.capacitySector {
		if err := s.compactLocked(); err != nil {
			return err
		}
		if s.nextFreeSector+need > s.capacitySector {
			return ErrCapacityExceeded
		}
	}

	buf := make([]byte, need*SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], entryMagic)
	buf[4] = flags
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(key)))
	binary.LittleEndian.PutUint32(buf[7:11], uint32(len(value)))
	copy(buf[entryHeaderSize:], key)
	copy(buf[entryHeaderSize+len(key):], value)

	offset := int64(s.nextFreeSector * SectorSize)
	if _, err := s.dev.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("rawdisk: write entry: %w", err)
	}

	if flags == entryFlagDeleted {
		delete(s.index, key)
	} else {
		s.index[key] = location{sector: s.nextFreeSector, length: total}
	}
	s.nextFreeSector += need

	return s.writeSuperblock()
}

// compactLocked rewrites every currently-live value back from sector 1,
// discarding dead space left by overwritten keys and tombstones. Caller
// must hold s.mu.
func (s *Store) compactLocked() error {
	type liveEntry struct {
		key   string
		value []byte
	}
	live := make([]liveEntry, 0, len(s.index))
	for k, loc := range s.index {
		v, err := s.readValueAt(loc, k)
		if err != nil {
			return fmt.Errorf("rawdisk: compact: %w", err)
		}
		live = append(live, liveEntry{key: k, value: v})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].key < live[j].key })

	s.index = make(map[string]location)
	s.nextFreeSector = 1
	for _, e := range live {
		total := uint32(entryHeaderSize) + uint32(len(e.key)) + uint32(len(e.value))
		need := sectorsFor(total)
		if s.nextFreeSector+need > s.capacitySector {
			return ErrCapacityExceeded
		}

		buf := make([]byte, need*SectorSize)
		binary.LittleEndian.PutUint32(buf[0:4], entryMagic)
		buf[4] = entryFlagLive
		binary.LittleEndian.PutUint16(buf[5:7], uint16(len(e.key)))
		binary.LittleEndian.PutUint32(buf[7:11], uint32(len(e.value)))
		copy(buf[entryHeaderSize:], e.key)
		copy(buf[entryHeaderSize+len(e.key):], e.value)

		if _, err := s.dev.WriteAt(buf, int64(s.nextFreeSector*SectorSize)); err != nil {
			return fmt.Errorf("rawdisk: compact write: %w", err)
		}
		s.index[e.key] = location{sector: s.nextFreeSector, length: total}
		s.nextFreeSector += need
	}

	return s.writeSuperblock()
}
