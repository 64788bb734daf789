// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cache implements the mempool's persistent cache (C6): an on-disk
// record of the pool's contents so a restart does not require every peer
// to re-announce its transactions. Grounded on the teacher's
// database/ffldb/ldb cursor/iterator wrapper around goleveldb, generalized
// from the teacher's generic bucketed-KV database to the small, fixed key
// space this cache needs.
package cache

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/lcoin/nodecore/wireformat"
)

// Key prefixes partition the cache's flat keyspace, mirroring the
// single-byte bucket prefixes dbaccess.fee_data.go uses ahead of its
// variable-length suffix.
const (
	prefixVersion byte = 'V' // format version, u32 LE, one global record
	prefixTip     byte = 'R' // chain tip the cache was last written against
	prefixFees    byte = 'F' // serialized fee estimator blob
	prefixTx      byte = 'e' // e<txid> -> serialized Entry
)

// cacheVersion is bumped whenever the on-disk entry encoding changes in a
// way that makes old records unreadable; Open wipes and rewrites a database
// written by a different version rather than risk misreading it.
const cacheVersion uint32 = 2

// flushInterval is the minimum time between automatic flushes of batched
// writes to disk, matching spec §4.2's "at least every 10 seconds or on
// block connect" cadence.
const flushInterval = 10 * time.Second

// Entry is the durable record for one pooled transaction: enough to
// reconstruct a mempool.Entry without re-validating it, namely the raw
// transaction bytes, its admission time and the height it was accepted at.
type Entry struct {
	Tx     []byte
	Time   int64
	Height int32
	Fee    int64
}

// Cache is a goleveldb-backed store for pool entries, batching writes and
// flushing them periodically or on demand (e.g. at a block boundary).
type Cache struct {
	db *leveldb.DB

	batch     *leveldb.Batch
	batchSize int
	lastFlush time.Time
}

// Open opens (creating if necessary) the cache database at path, checking
// it against currentTip per spec §4.6's lifecycle: a missing version
// record means a fresh cache, initialized against currentTip; a version
// mismatch wipes every pooled-transaction entry before rewriting V/R at
// the current version; and a stored tip that disagrees with currentTip
// (the cache survived a reorg or was left over from a different chain)
// also wipes entries, even when the version itself still matches.
func Open(path string, currentTip wireformat.Hash) (*Cache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening mempool cache at %s", path)
	}
	c := &Cache{db: db, batch: new(leveldb.Batch), lastFlush: time.Now()}

	version, err := db.Get([]byte{prefixVersion}, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		if err := c.writeVersionAndTip(currentTip); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading cache version")
	}

	if len(version) != 4 || binary.LittleEndian.Uint32(version) != cacheVersion {
		log.Infof("Mempool cache at %s has a different format version, discarding its contents", path)
		if err := c.wipeEntries(); err != nil {
			return nil, err
		}
		if err := c.writeVersionAndTip(currentTip); err != nil {
			return nil, err
		}
		return c, nil
	}

	tip, err := db.Get([]byte{prefixTip}, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return nil, errors.Wrap(err, "reading cache tip")
	}
	if len(tip) != wireformat.HashSize || !hashEqual(tip, currentTip) {
		log.Infof("Mempool cache at %s was written against a different chain tip, discarding its contents", path)
		if err := c.wipeEntries(); err != nil {
			return nil, err
		}
		if err := c.writeTip(currentTip); err != nil {
			return nil, err
		}
		return c, nil
	}

	log.Infof("Loaded mempool cache from %s", path)
	return c, nil
}

func hashEqual(raw []byte, h wireformat.Hash) bool {
	for i := range h {
		if raw[i] != h[i] {
			return false
		}
	}
	return true
}

func (c *Cache) writeVersionAndTip(tip wireformat.Hash) error {
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], cacheVersion)
	if err := c.db.Put([]byte{prefixVersion}, v[:], nil); err != nil {
		return errors.Wrap(err, "writing cache version")
	}
	return c.writeTip(tip)
}

func (c *Cache) writeTip(tip wireformat.Hash) error {
	if err := c.db.Put([]byte{prefixTip}, tip[:], nil); err != nil {
		return errors.Wrap(err, "writing cache tip")
	}
	return nil
}

// UpdateTip records the chain tip the cache is now current against,
// called after a block connects so the next Open sees the up-to-date
// value rather than wiping a perfectly good cache.
func (c *Cache) UpdateTip(tip wireformat.Hash) error {
	return c.writeTip(tip)
}

// StoreFees batches the fee estimator's serialized state for writing,
// mirroring Store's batching of transaction entries. The fee estimator
// itself is the out-of-scope collaborator spec §6 names
// (`estimateFee`/`toRaw`/`fromRaw`); this cache only persists and returns
// whatever opaque blob that collaborator hands it.
func (c *Cache) StoreFees(data []byte) error {
	c.batch.Put([]byte{prefixFees}, data)
	c.batchSize++
	return c.maybeFlush()
}

// LoadFees returns the persisted fee estimator blob, and false if none has
// ever been stored.
func (c *Cache) LoadFees() ([]byte, bool, error) {
	data, err := c.db.Get([]byte{prefixFees}, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading cached fee estimator state")
	}
	return data, true, nil
}

// Close flushes any pending batch and closes the underlying database.
func (c *Cache) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.db.Close()
}

func txKey(txID wireformat.Hash) []byte {
	key := make([]byte, 1+wireformat.HashSize)
	key[0] = prefixTx
	copy(key[1:], txID[:])
	return key
}

// Store batches txID's Entry for writing, flushing immediately if the
// batch has grown large or enough time has passed since the last flush.
func (c *Cache) Store(txID wireformat.Hash, entry Entry) error {
	raw, err := serialize(entry)
	if err != nil {
		return err
	}
	c.batch.Put(txKey(txID), raw)
	c.batchSize++
	return c.maybeFlush()
}

// Remove batches deletion of txID's Entry.
func (c *Cache) Remove(txID wireformat.Hash) error {
	c.batch.Delete(txKey(txID))
	c.batchSize++
	return c.maybeFlush()
}

func (c *Cache) maybeFlush() error {
	if c.batchSize >= 1000 || time.Since(c.lastFlush) >= flushInterval {
		return c.Flush()
	}
	return nil
}

// Flush writes any batched mutations to disk immediately. Callers should
// call this explicitly on every block connect per spec §4.2, in addition
// to the automatic periodic/size-triggered flush.
func (c *Cache) Flush() error {
	if c.batchSize == 0 {
		return nil
	}
	if err := c.db.Write(c.batch, nil); err != nil {
		return errors.Wrap(err, "flushing mempool cache")
	}
	c.batch = new(leveldb.Batch)
	c.batchSize = 0
	c.lastFlush = time.Now()
	return nil
}

// Load returns every cached entry, for repopulating the pool on startup.
func (c *Cache) Load() (map[wireformat.Hash]Entry, error) {
	out := make(map[wireformat.Hash]Entry)
	iter := c.db.NewIterator(util.BytesPrefix([]byte{prefixTx}), nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) != 1+wireformat.HashSize {
			continue
		}
		var txID wireformat.Hash
		copy(txID[:], key[1:])

		entry, err := deserialize(iter.Value())
		if err != nil {
			return nil, err
		}
		out[txID] = entry
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating mempool cache")
	}
	return out, nil
}

// Clear discards the in-flight batch accumulated by Store/Remove/StoreFees
// without writing it, per spec §4.2's `clear` operation — the entries
// already flushed to disk on a previous Flush are untouched.
func (c *Cache) Clear() {
	c.batch = new(leveldb.Batch)
	c.batchSize = 0
}

// wipeEntries removes every pooled-transaction record already committed to
// disk, keeping the version and fee-estimator records, used by Open when
// the cache is known to be stale (a version bump, or a tip left over from
// before a deep reorg).
func (c *Cache) wipeEntries() error {
	iter := c.db.NewIterator(util.BytesPrefix([]byte{prefixTx}), nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "iterating mempool cache for clear")
	}
	if err := c.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "clearing mempool cache")
	}
	return nil
}
