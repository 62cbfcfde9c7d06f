package records

import (
	"context"
	"fmt"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"pixvault/internal/asset"
)

const imagesTable = "images"

var (
	schema = &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			imagesTable: {
				Name: imagesTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Seq"},
					},
					"name": {
						Name:    "name",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
					"key": {
						Name:    "key",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "StorageKey"},
					},
				},
			},
		},
	}
)

// memRow is the object stored in memdb. Seq is the zero-padded ID so that
// iterating the id index yields records in ID order.
type memRow struct {
	Seq        string
	Name       string
	StorageKey string
	Record     asset.Record
}

func newMemRow(rec asset.Record) *memRow {
	return &memRow{
		Seq:        seqFor(rec.ID),
		Name:       rec.Name,
		StorageKey: rec.StorageKey,
		Record:     rec,
	}
}

func seqFor(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// MemoryStore is an asset.RecordStore kept in process memory. It enforces
// the same uniqueness rules as SQLiteStore and suits tests and throwaway
// deployments.
type MemoryStore struct {
	db *memdb.MemDB

	// nextID is only touched while a write transaction is open.
	nextID int64
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *MemoryStore) first(index string, value string) (asset.Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(imagesTable, index, value)
	if err != nil {
		return asset.Record{}, err
	}
	if raw == nil {
		return asset.Record{}, asset.ErrRecordNotFound
	}
	return raw.(*memRow).Record, nil
}

// GetByName implements asset.RecordStore.
func (s *MemoryStore) GetByName(ctx context.Context, name string) (asset.Record, error) {
	return s.first("name", name)
}

// GetByKey implements asset.RecordStore.
func (s *MemoryStore) GetByKey(ctx context.Context, key string) (asset.Record, error) {
	return s.first("key", key)
}

// scan calls fn for each record in ID order until fn returns false.
func (s *MemoryStore) scan(fn func(asset.Record) bool) error {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(imagesTable, "id")
	if err != nil {
		return err
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if !fn(raw.(*memRow).Record) {
			break
		}
	}
	return nil
}

// Count implements asset.RecordStore.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.scan(func(asset.Record) bool {
		n++
		return true
	})
	return n, err
}

// GetAt implements asset.RecordStore.
func (s *MemoryStore) GetAt(ctx context.Context, offset int64) (asset.Record, error) {
	var (
		found asset.Record
		ok    bool
		i     int64
	)
	err := s.scan(func(rec asset.Record) bool {
		if i == offset {
			found, ok = rec, true
			return false
		}
		i++
		return true
	})
	if err != nil {
		return asset.Record{}, err
	}
	if !ok {
		return asset.Record{}, asset.ErrRecordNotFound
	}
	return found, nil
}

// List implements asset.RecordStore.
func (s *MemoryStore) List(ctx context.Context, limit int, offset int) ([]asset.Record, error) {
	var (
		out []asset.Record
		i   int
	)
	err := s.scan(func(rec asset.Record) bool {
		if len(out) >= limit {
			return false
		}
		if i >= offset {
			out = append(out, rec)
		}
		i++
		return true
	})
	return out, err
}

// conflicts reports whether another record already owns rec's name or key.
func conflicts(txn *memdb.Txn, rec asset.Record) (bool, error) {
	for index, value := range map[string]string{"name": rec.Name, "key": rec.StorageKey} {
		raw, err := txn.First(imagesTable, index, value)
		if err != nil {
			return false, err
		}
		if raw != nil && raw.(*memRow).Record.ID != rec.ID {
			return true, nil
		}
	}
	return false, nil
}

// Insert implements asset.RecordStore.
func (s *MemoryStore) Insert(ctx context.Context, rec asset.Record) (asset.Record, error) {
	// memdb allows a single writer at a time, which makes the conflict check
	// and the insert atomic.
	txn := s.db.Txn(true)
	defer txn.Abort()

	rec.ID = s.nextID + 1

	dup, err := conflicts(txn, rec)
	if err != nil {
		return asset.Record{}, err
	}
	if dup {
		return asset.Record{}, fmt.Errorf("%w: name %q or key %q already taken", asset.ErrDuplicateRecord, rec.Name, rec.StorageKey)
	}

	rec.LastUpdated = s.now()
	if err := txn.Insert(imagesTable, newMemRow(rec)); err != nil {
		return asset.Record{}, err
	}
	s.nextID = rec.ID
	txn.Commit()
	return rec, nil
}

// Update implements asset.RecordStore.
func (s *MemoryStore) Update(ctx context.Context, rec asset.Record) (asset.Record, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(imagesTable, "id", seqFor(rec.ID))
	if err != nil {
		return asset.Record{}, err
	}
	if raw == nil {
		return asset.Record{}, asset.ErrRecordNotFound
	}

	current := raw.(*memRow).Record
	current.SizeBytes = rec.SizeBytes
	current.Extension = rec.Extension
	current.StorageKey = rec.StorageKey

	dup, err := conflicts(txn, current)
	if err != nil {
		return asset.Record{}, err
	}
	if dup {
		return asset.Record{}, fmt.Errorf("%w: key %q already taken", asset.ErrDuplicateRecord, current.StorageKey)
	}

	current.LastUpdated = s.now()
	if err := txn.Insert(imagesTable, newMemRow(current)); err != nil {
		return asset.Record{}, err
	}
	txn.Commit()
	return current, nil
}

// Delete implements asset.RecordStore.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(imagesTable, "id", seqFor(id))
	if err != nil {
		return err
	}
	if raw == nil {
		return asset.ErrRecordNotFound
	}
	if err := txn.Delete(imagesTable, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
