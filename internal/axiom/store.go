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

package axiom

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/containerd/log"
	"github.com/klauspost/compress/gzip"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketKeyCommits = []byte("commits")
	bucketKeySyslog  = []byte("syslog")
)

// Store durably mirrors sealed commits and syslog entries to a bbolt
// database, bucketed by big-endian sequence number, so a bare-metal boot can
// replay kernel history. Mirroring happens strictly after in-memory sealing
// and never blocks a syscall's result: a mirror failure is logged, not
// propagated, matching spec §4.1's failure model (Axiom itself never
// partial-commits; the durable mirror is a best-effort side channel).
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) the two top-level buckets used to
// mirror commits and syslog request/response pairs.
func OpenStore(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKeyCommits); err != nil {
			return fmt.Errorf("failed to create commits bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketKeySyslog); err != nil {
			return fmt.Errorf("failed to create syslog bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

// compressJSON marshals v and gzip-compresses the result, the same
// drop-in-for-stdlib-gzip shape gravwell's ingest/processors/gzip.go uses,
// since a long-running boot's commit and syslog history is exactly the
// kind of repetitive, text-shaped data gzip earns its keep on.
func compressJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressJSON(data []byte, v interface{}) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// MirrorCommits persists a sealed batch. Called from the Gateway after
// sealAndAppend; logs and returns on failure rather than panicking, since a
// mirror write failure must never retroactively invalidate an already
// sealed, already-visible-to-callers commit.
func (s *Store) MirrorCommits(batch []Commit) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketKeyCommits)
		for _, c := range batch {
			v, err := compressJSON(c)
			if err != nil {
				return fmt.Errorf("failed to marshal commit %s: %w", c.ID, err)
			}
			if err := bkt.Put(seqKey(c.Seq), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.L.WithError(err).Error("axiom: failed to mirror commits to durable store")
	}
}

// MirrorSyslog persists one request/response pair.
func (s *Store) MirrorSyslog(req SyslogRequest, resp *SyslogResponse) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketKeySyslog)
		reqv, err := compressJSON(req)
		if err != nil {
			return err
		}
		if err := bkt.Put(append(seqKey(req.RequestID), 'q'), reqv); err != nil {
			return err
		}
		if resp == nil {
			return nil
		}
		respv, err := compressJSON(resp)
		if err != nil {
			return err
		}
		return bkt.Put(append(seqKey(resp.RequestID), 'r'), respv)
	})
	if err != nil {
		log.L.WithError(err).Error("axiom: failed to mirror syslog entry to durable store")
	}
}

// ReplayCommits returns every mirrored commit in sequence order, for a
// bare-metal boot that wants to rehydrate an in-memory CommitLog from disk.
func (s *Store) ReplayCommits() ([]Commit, error) {
	var out []Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketKeyCommits)
		return bkt.ForEach(func(_, v []byte) error {
			var c Commit
			if err := decompressJSON(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
