package asset_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"pixvault/internal/asset"
)

var errInjected = errors.New("injected failure")

type fakeBlob struct {
	data        []byte
	contentType string
}

// fakeBlobStore is an in-memory BlobStore whose operations can be made to
// fail.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string]fakeBlob

	failPut    bool
	failGet    bool
	failDelete bool
	puts       int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string]fakeBlob{}}
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPut {
		return errInjected
	}
	s.objects[key] = fakeBlob{data: bytes.Clone(data), contentType: contentType}
	return nil
}

func (s *fakeBlobStore) Get(ctx context.Context, key string) (*asset.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errInjected
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, asset.ErrBlobNotFound
	}
	return &asset.Blob{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
	}, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return errInjected
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeBlobStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeBlobStore) setContentType(key string, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objects[key]
	obj.contentType = contentType
	s.objects[key] = obj
}

// fakeRecordStore is an in-memory RecordStore whose operations can be made to
// fail.
type fakeRecordStore struct {
	mu     sync.Mutex
	rows   map[int64]asset.Record
	nextID int64
	now    time.Time

	failInsert bool
	failUpdate bool
	failDelete bool
	failRead   bool

	// hideName makes GetByName miss for that name, simulating a concurrent
	// first upload that has not committed yet.
	hideName string
	calls    int
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		rows: map[int64]asset.Record{},
		now:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *fakeRecordStore) tick() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func (s *fakeRecordStore) sorted() []asset.Record {
	out := make([]asset.Record, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeRecordStore) GetByName(ctx context.Context, name string) (asset.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failRead {
		return asset.Record{}, errInjected
	}
	if name == s.hideName {
		return asset.Record{}, asset.ErrRecordNotFound
	}
	for _, r := range s.rows {
		if r.Name == name {
			return r, nil
		}
	}
	return asset.Record{}, asset.ErrRecordNotFound
}

func (s *fakeRecordStore) GetByKey(ctx context.Context, key string) (asset.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failRead {
		return asset.Record{}, errInjected
	}
	for _, r := range s.rows {
		if r.StorageKey == key {
			return r, nil
		}
	}
	return asset.Record{}, asset.ErrRecordNotFound
}

func (s *fakeRecordStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failRead {
		return 0, errInjected
	}
	return int64(len(s.rows)), nil
}

func (s *fakeRecordStore) GetAt(ctx context.Context, offset int64) (asset.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	rows := s.sorted()
	if offset < 0 || offset >= int64(len(rows)) {
		return asset.Record{}, asset.ErrRecordNotFound
	}
	return rows[offset], nil
}

func (s *fakeRecordStore) List(ctx context.Context, limit int, offset int) ([]asset.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sorted()
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *fakeRecordStore) Insert(ctx context.Context, rec asset.Record) (asset.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return asset.Record{}, errInjected
	}
	for _, r := range s.rows {
		if r.Name == rec.Name || r.StorageKey == rec.StorageKey {
			return asset.Record{}, asset.ErrDuplicateRecord
		}
	}
	s.nextID++
	rec.ID = s.nextID
	rec.LastUpdated = s.tick()
	s.rows[rec.ID] = rec
	return rec, nil
}

func (s *fakeRecordStore) Update(ctx context.Context, rec asset.Record) (asset.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return asset.Record{}, errInjected
	}
	if _, ok := s.rows[rec.ID]; !ok {
		return asset.Record{}, asset.ErrRecordNotFound
	}
	rec.LastUpdated = s.tick()
	s.rows[rec.ID] = rec
	return rec, nil
}

func (s *fakeRecordStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return errInjected
	}
	if _, ok := s.rows[id]; !ok {
		return asset.ErrRecordNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *fakeRecordStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// pausingBlobStore blocks a Delete of pauseKey until release is closed,
// signalling entered first. It leaves a window in which other operations can
// run between the caller deciding to delete and the delete landing.
type pausingBlobStore struct {
	*fakeBlobStore

	pauseKey string
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func newPausingBlobStore(inner *fakeBlobStore, pauseKey string) *pausingBlobStore {
	return &pausingBlobStore{
		fakeBlobStore: inner,
		pauseKey:      pauseKey,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *pausingBlobStore) Delete(ctx context.Context, key string) error {
	if key == s.pauseKey {
		s.once.Do(func() { close(s.entered) })
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.fakeBlobStore.Delete(ctx, key)
}
