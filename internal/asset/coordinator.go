package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
)

// Coordinator keeps the record store and the blob store in step. Blobs are
// always written before records and deleted before records, so a failure
// part way through leaves an orphaned blob or a dangling record, never a
// record pointing at a key that was never written.
type Coordinator struct {
	blobs   BlobStore
	records RecordStore
	logger  *slog.Logger
	randN   func(n int64) int64
}

type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger used for inconsistency warnings.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithRandom replaces the source used by GetRandomMetadata. randN must return
// a value in [0, n).
func WithRandom(randN func(n int64) int64) CoordinatorOption {
	return func(c *Coordinator) {
		c.randN = randN
	}
}

// NewCoordinator returns a Coordinator using the given collaborators.
func NewCoordinator(blobs BlobStore, records RecordStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		blobs:   blobs,
		records: records,
		logger:  slog.Default(),
		randN:   rand.Int64N,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Download is the result of Coordinator.Download. The caller must close Body.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	Metadata    Metadata
}

// Upload stores data under the key derived from name and ext and then creates
// or overwrites the record for name.
func (c *Coordinator) Upload(ctx context.Context, name string, ext string, contentType string, data []byte) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, ErrEmptyPayload
	}

	key, err := DeriveKey(name, ext)
	if err != nil {
		return Metadata{}, err
	}

	// DeriveKey already validated both values.
	name = strings.TrimSpace(name)
	ext, _ = NormalizeExtension(ext)

	log := c.logger.With("name", name, "key", key)

	// Two names can sanitize to the same key; refuse before the blob of the
	// other name gets overwritten.
	owner, err := c.records.GetByKey(ctx, key)
	switch {
	case err == nil && owner.Name != name:
		return Metadata{}, fmt.Errorf("%w: key %q belongs to %q", ErrNameConflict, key, owner.Name)
	case err != nil && !errors.Is(err, ErrRecordNotFound):
		return Metadata{}, fmt.Errorf("%w: %w", ErrRecordReadFailed, err)
	}

	if contentType == "" {
		contentType = ContentTypeFor(ext)
	}

	if err := c.blobs.Put(ctx, key, data, contentType); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrStorageWriteFailed, err)
	}

	existing, err := c.records.GetByName(ctx, name)
	switch {
	case err == nil:
		previousKey := existing.StorageKey
		existing.SizeBytes = int64(len(data))
		existing.Extension = ext
		existing.StorageKey = key

		updated, err := c.records.Update(ctx, existing)
		if err != nil {
			log.Warn("Blob written but record update failed; blob is orphaned", "err", err)
			return Metadata{}, fmt.Errorf("%w: %w", ErrRecordWriteFailed, err)
		}

		// A concurrent re-upload may have put previousKey back into use, so
		// the old blob is never deleted here.
		if previousKey != key {
			log.Warn("Re-upload changed the key; previous blob is orphaned", "previous_key", previousKey)
		}
		return updated.Metadata(), nil

	case errors.Is(err, ErrRecordNotFound):
		inserted, err := c.records.Insert(ctx, Record{
			Name:       name,
			SizeBytes:  int64(len(data)),
			Extension:  ext,
			StorageKey: key,
		})
		if errors.Is(err, ErrDuplicateRecord) {
			log.Warn("Concurrent upload won the insert; blob is orphaned", "err", err)
			return Metadata{}, fmt.Errorf("%w: %w", ErrNameConflict, err)
		}
		if err != nil {
			log.Warn("Blob written but record insert failed; blob is orphaned", "err", err)
			return Metadata{}, fmt.Errorf("%w: %w", ErrRecordWriteFailed, err)
		}
		return inserted.Metadata(), nil

	default:
		log.Warn("Blob written but record lookup failed; blob is orphaned", "err", err)
		return Metadata{}, fmt.Errorf("%w: %w", ErrRecordWriteFailed, err)
	}
}

func (c *Coordinator) lookup(ctx context.Context, name string) (Record, error) {
	rec, err := c.records.GetByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrRecordReadFailed, err)
	}
	return rec, nil
}

// GetMetadata returns the metadata of the asset called name.
func (c *Coordinator) GetMetadata(ctx context.Context, name string) (Metadata, error) {
	rec, err := c.lookup(ctx, name)
	if err != nil {
		return Metadata{}, err
	}
	return rec.Metadata(), nil
}

// GetRandomMetadata picks one asset uniformly at random using one count and
// one offset fetch.
func (c *Coordinator) GetRandomMetadata(ctx context.Context) (Metadata, error) {
	total, err := c.records.Count(ctx)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrRecordReadFailed, err)
	}
	if total == 0 {
		return Metadata{}, fmt.Errorf("%w: no assets available", ErrNotFound)
	}

	rec, err := c.records.GetAt(ctx, c.randN(total))
	if errors.Is(err, ErrRecordNotFound) {
		// Deleted between the count and the fetch.
		return Metadata{}, fmt.Errorf("%w: no assets available", ErrNotFound)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrRecordReadFailed, err)
	}
	return rec.Metadata(), nil
}

// List returns up to limit assets ordered by creation, skipping offset.
func (c *Coordinator) List(ctx context.Context, limit int, offset int) ([]Metadata, error) {
	recs, err := c.records.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecordReadFailed, err)
	}

	out := make([]Metadata, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Metadata())
	}
	return out, nil
}

// Download opens the payload of the asset called name.
func (c *Coordinator) Download(ctx context.Context, name string) (*Download, error) {
	rec, err := c.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	blob, err := c.blobs.Get(ctx, rec.StorageKey)
	if errors.Is(err, ErrBlobNotFound) {
		c.logger.Warn("Record references a missing blob", "name", rec.Name, "key", rec.StorageKey)
		return nil, fmt.Errorf("%w: %w", ErrStorageReadFailed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageReadFailed, err)
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(rec.Extension)
	}

	return &Download{
		Body:        blob.Body,
		ContentType: contentType,
		Metadata:    rec.Metadata(),
	}, nil
}

// Delete removes the blob and then the record of the asset called name. If
// the blob cannot be deleted the record is kept so the call can be retried.
func (c *Coordinator) Delete(ctx context.Context, name string) error {
	rec, err := c.lookup(ctx, name)
	if err != nil {
		return err
	}

	if err := c.blobs.Delete(ctx, rec.StorageKey); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageDeleteFailed, err)
	}

	err = c.records.Delete(ctx, rec.ID)
	if errors.Is(err, ErrRecordNotFound) {
		// A concurrent delete got there first.
		return nil
	}
	if err != nil {
		c.logger.Warn("Blob deleted but record delete failed; record is dangling", "name", rec.Name, "key", rec.StorageKey, "err", err)
		return fmt.Errorf("%w: %w", ErrRecordDeleteFailed, err)
	}
	return nil
}
