package asset

import (
	"context"
	"io"
	"time"
)

// Record is a row in the record store.
type Record struct {
	ID          int64
	Name        string
	SizeBytes   int64
	Extension   string
	StorageKey  string
	LastUpdated time.Time
}

// Metadata is the caller-facing view of a Record. It never exposes the
// storage key.
type Metadata struct {
	Name        string
	SizeBytes   int64
	Extension   string
	LastUpdated time.Time
}

// Metadata returns the caller-facing view of r.
func (r Record) Metadata() Metadata {
	return Metadata{
		Name:        r.Name,
		SizeBytes:   r.SizeBytes,
		Extension:   r.Extension,
		LastUpdated: r.LastUpdated,
	}
}

// Blob is an object read back from a BlobStore. The caller must close Body.
type Blob struct {
	Body io.ReadCloser
	// ContentType is empty when the store kept no content type.
	ContentType string
	// Size is -1 when unknown.
	Size int64
}

// BlobStore holds asset payloads addressed by storage key. Put always
// overwrites.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns ErrBlobNotFound when nothing is stored under key.
	Get(ctx context.Context, key string) (*Blob, error)

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// RecordStore persists Records. Name and StorageKey are both unique.
type RecordStore interface {
	// GetByName and GetByKey return ErrRecordNotFound on a miss.
	GetByName(ctx context.Context, name string) (Record, error)
	GetByKey(ctx context.Context, key string) (Record, error)

	Count(ctx context.Context) (int64, error)

	// GetAt returns the record at offset when all records are ordered by ID.
	GetAt(ctx context.Context, offset int64) (Record, error)

	List(ctx context.Context, limit int, offset int) ([]Record, error)

	// Insert assigns ID and LastUpdated. It returns ErrDuplicateRecord when
	// the name or storage key is already taken.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Update overwrites the record with rec.ID and refreshes LastUpdated.
	Update(ctx context.Context, rec Record) (Record, error)

	Delete(ctx context.Context, id int64) error
}
