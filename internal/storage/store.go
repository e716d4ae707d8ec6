// Package storage provides the embedded key-value store backing the block
// log and the state table. Callers never see BoltDB types; everything here
// is expressed in terms of heights, hashes, and opaque state keys.
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"
)

var (
	bucketBlocksByHeight = []byte("blocks_by_height")
	bucketBlockHashIndex = []byte("block_hash_index")
	bucketState          = []byte("state")
)

// Store is the two-namespace embedded key-value store: a block log (height
// and hash indexed) and an opaque state table. A single *bolt.DB handles the
// single-writer/concurrent-reader semantics internally.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the store at path, creating the required buckets if
// they don't already exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBlocksByHeight, bucketBlockHashIndex, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// heightKey encodes a block height as a fixed-width big-endian key so that
// bucket iteration order matches numeric order.
func heightKey(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}

// PutBlock stores block bytes at height and indexes it under hash.
func (s *Store) PutBlock(height uint64, hash []byte, blockBytes []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(bucketBlocksByHeight)
		if err := blocks.Put(heightKey(height), blockBytes); err != nil {
			return err
		}
		index := tx.Bucket(bucketBlockHashIndex)
		return index.Put(hash, heightKey(height))
	})
}

// GetBlockByHeight returns the stored block bytes at height.
func (s *Store) GetBlockByHeight(height uint64) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocksByHeight).Get(heightKey(height))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// GetBlockByHash resolves hash to a height, then returns the stored block
// bytes at that height.
func (s *Store) GetBlockByHash(hash []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		hk := tx.Bucket(bucketBlockHashIndex).Get(hash)
		if hk == nil {
			return ErrNotFound
		}
		v := tx.Bucket(bucketBlocksByHeight).Get(hk)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// LastBlock returns the height and bytes of the highest stored block. It
// returns ErrNotFound if the block log is empty.
func (s *Store) LastBlock() (uint64, []byte, error) {
	var height uint64
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocksByHeight).Cursor()
		k, v := c.Last()
		if k == nil {
			return ErrNotFound
		}
		height = binary.BigEndian.Uint64(k)
		out = append([]byte(nil), v...)
		return nil
	})
	return height, out, err
}

// DeleteBlock removes the block at height, along with its hash index entry
// if hash is non-nil.
func (s *Store) DeleteBlock(height uint64, hash []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocksByHeight).Delete(heightKey(height)); err != nil {
			return err
		}
		if hash != nil {
			if err := tx.Bucket(bucketBlockHashIndex).Delete(hash); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutState writes a single opaque state entry.
func (s *Store) PutState(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(key, value)
	})
}

// GetState reads a single opaque state entry.
func (s *Store) GetState(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketState).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// DeleteState removes a single state entry. Deleting an absent key is not
// an error.
func (s *Store) DeleteState(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Delete(key)
	})
}

// ScanPrefix visits every state entry whose key starts with prefix, in
// ascending key order, stopping early if fn returns false.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketState).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !fn(append([]byte(nil), k...), append([]byte(nil), v...)) {
				break
			}
		}
		return nil
	})
}

// ClearState removes every entry from the state table. The block log is
// untouched.
func (s *Store) ClearState() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketState); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketState)
		return err
	})
}
