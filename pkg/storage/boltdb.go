package storage

import (
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/types"
)

var bucketFunctions = []byte("functions")

// BoltStore implements Store on top of a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "containerless.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, clerr.New("storage.open", clerr.Unknown, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFunctions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, clerr.New("storage.open", clerr.Unknown, err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateFunction inserts fn, failing with clerr.Conflict if the name
// already exists.
func (s *BoltStore) CreateFunction(fn *types.Function) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFunctions)
		if b.Get([]byte(fn.Name)) != nil {
			return clerr.New("storage.create_function", clerr.Conflict, nil)
		}
		data, err := json.Marshal(fn)
		if err != nil {
			return clerr.New("storage.create_function", clerr.Unknown, err)
		}
		return b.Put([]byte(fn.Name), data)
	})
}

// GetFunction looks up a function by name.
func (s *BoltStore) GetFunction(name string) (*types.Function, error) {
	var fn types.Function
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFunctions)
		data := b.Get([]byte(name))
		if data == nil {
			return clerr.New("storage.get_function", clerr.NotFound, nil)
		}
		return json.Unmarshal(data, &fn)
	})
	if err != nil {
		return nil, err
	}
	return &fn, nil
}

// ListFunctions returns every registered function.
func (s *BoltStore) ListFunctions() ([]*types.Function, error) {
	var fns []*types.Function
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFunctions)
		return b.ForEach(func(k, v []byte) error {
			var fn types.Function
			if err := json.Unmarshal(v, &fn); err != nil {
				return err
			}
			fns = append(fns, &fn)
			return nil
		})
	})
	if err != nil {
		return nil, clerr.New("storage.list_functions", clerr.Unknown, err)
	}
	return fns, nil
}

// UpdateFunction overwrites an existing function's record (upsert).
func (s *BoltStore) UpdateFunction(fn *types.Function) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFunctions)
		data, err := json.Marshal(fn)
		if err != nil {
			return clerr.New("storage.update_function", clerr.Unknown, err)
		}
		return b.Put([]byte(fn.Name), data)
	})
}

// DeleteFunction removes a function's record. Deleting an unknown name is
// not an error, matching the teacher's delete semantics.
func (s *BoltStore) DeleteFunction(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFunctions)
		return b.Delete([]byte(name))
	})
}

var _ Store = (*BoltStore)(nil)
