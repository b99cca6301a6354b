package store

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// blobRefCache is a durable index of which (scheme,path,tag) refs point at
// each blob hash, so Remove can conservatively garbage-collect a blob only
// once no ref references it anymore (spec §3 invariant 2 and §8 property 5).
// It plays the role containers/image's pkg/blobinfocache plays for layer
// reuse, adapted here to track reference counts instead of upload locations.
type blobRefCache struct {
	db *bolt.DB
}

var bucketRefCounts = []byte("blob-refcounts")

func openBlobRefCache(path string) (*blobRefCache, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("opening blob ref cache %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRefCounts)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &blobRefCache{db: db}, nil
}

func (c *blobRefCache) Close() error { return c.db.Close() }

// refKey builds the composite key a (modelKey,hash) pair is stored under.
func refKey(modelKey, hash string) []byte {
	return []byte(modelKey + "\x00" + hash)
}

// RecordReference notes that modelKey's ref now points at hash.
func (c *blobRefCache) RecordReference(modelKey, hash string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRefCounts)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], 1)
		return b.Put(refKey(modelKey, hash), buf[:])
	})
}

// ForgetReference removes modelKey's reference to hash.
func (c *blobRefCache) ForgetReference(modelKey, hash string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefCounts).Delete(refKey(modelKey, hash))
	})
}

// HasOtherReferences reports whether any modelKey other than excludeModelKey
// still references hash, by scanning the bucket for keys ending in hash.
// The bucket is small (one entry per model file across the whole store), so
// a linear scan is simpler and safer than maintaining a second reverse index.
func (c *blobRefCache) HasOtherReferences(excludeModelKey, hash string) (bool, error) {
	suffix := []byte("\x00" + hash)
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRefCounts)
		return b.ForEach(func(k, _ []byte) error {
			if len(k) < len(suffix) {
				return nil
			}
			if string(k[len(k)-len(suffix):]) != string(suffix) {
				return nil
			}
			owner := string(k[:len(k)-len(suffix)])
			if owner != excludeModelKey {
				found = true
			}
			return nil
		})
	})
	return found, err
}
