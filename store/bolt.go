package store

import (
	"context"
	"fmt"
	"slices"

	bolt "go.etcd.io/bbolt"
)

// BoltStore persists buckets in a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening bolt db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return ErrNotFound
		}
		v := bkt.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		out = slices.Clone(v)
		return nil
	})
	return out, err
}

func (s *BoltStore) Put(_ context.Context, bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putTx(tx, bucket, key, value)
	})
}

func (s *BoltStore) Delete(_ context.Context, bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(key))
	})
}

func (s *BoltStore) List(_ context.Context, bucket string) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			out = append(out, Entry{Key: string(k), Value: slices.Clone(v)})
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Batch(_ context.Context, ops []Op) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			if op.Value == nil {
				if bkt := tx.Bucket([]byte(op.Bucket)); bkt != nil {
					if err := bkt.Delete([]byte(op.Key)); err != nil {
						return err
					}
				}
				continue
			}
			if err := putTx(tx, op.Bucket, op.Key, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error { return s.db.Close() }

func putTx(tx *bolt.Tx, bucket, key string, value []byte) error {
	bkt, err := tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return err
	}
	return bkt.Put([]byte(key), value)
}
