package asset_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"pixvault/internal/asset"

	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, opts ...asset.CoordinatorOption) (*asset.Coordinator, *fakeBlobStore, *fakeRecordStore) {
	t.Helper()

	blobs := newFakeBlobStore()
	records := newFakeRecordStore()
	opts = append([]asset.CoordinatorOption{asset.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return asset.NewCoordinator(blobs, records, opts...), blobs, records
}

func readDownload(t *testing.T, dl *asset.Download) []byte {
	t.Helper()
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err, "reading download body")
	return data
}

func TestUploadLifecycle(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	meta, err := coord.Upload(ctx, "hello", "png", "", []byte("PNGDATA"))
	require.NoError(t, err, "Upload error")
	require.Equal(t, "hello", meta.Name)
	require.Equal(t, "png", meta.Extension)
	require.EqualValues(t, 7, meta.SizeBytes)
	require.False(t, meta.LastUpdated.IsZero(), "LastUpdated should be assigned")
	require.True(t, blobs.has("images/hello.png"), "blob stored under derived key")

	got, err := coord.GetMetadata(ctx, "hello")
	require.NoError(t, err, "GetMetadata error")
	require.Equal(t, meta, got, "GetMetadata should match upload result")

	dl, err := coord.Download(ctx, "hello")
	require.NoError(t, err, "Download error")
	require.Equal(t, []byte("PNGDATA"), readDownload(t, dl))
	require.Contains(t, dl.ContentType, "image/")
	require.Equal(t, meta, dl.Metadata)

	require.NoError(t, coord.Delete(ctx, "hello"), "Delete error")
	require.False(t, blobs.has("images/hello.png"), "blob should be deleted")

	_, err = coord.GetMetadata(ctx, "hello")
	require.ErrorIs(t, err, asset.ErrNotFound)

	_, err = coord.Download(ctx, "hello")
	require.ErrorIs(t, err, asset.ErrNotFound)

	require.ErrorIs(t, coord.Delete(ctx, "hello"), asset.ErrNotFound)
}

func TestUploadNormalizesExtension(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	meta, err := coord.Upload(ctx, "cat", "PNG", "", []byte("X"))
	require.NoError(t, err, "Upload error")
	require.Equal(t, "png", meta.Extension)
	require.True(t, blobs.has("images/cat.png"))

	dl, err := coord.Download(ctx, "cat")
	require.NoError(t, err, "Download error")
	require.Equal(t, []byte("X"), readDownload(t, dl))
}

func TestUploadKeepsTrimmedDisplayName(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	meta, err := coord.Upload(ctx, "  my cat  ", "jpg", "", []byte("X"))
	require.NoError(t, err, "Upload error")
	require.Equal(t, "my cat", meta.Name)
	require.True(t, blobs.has("images/mycat.jpg"))

	_, err = coord.GetMetadata(ctx, "my cat")
	require.NoError(t, err, "lookup by display name")
}

func TestReuploadOverwrites(t *testing.T) {
	t.Parallel()

	coord, _, records := newTestCoordinator(t)
	ctx := t.Context()

	first, err := coord.Upload(ctx, "cat", "png", "", []byte("first"))
	require.NoError(t, err, "first Upload error")

	second, err := coord.Upload(ctx, "cat", "png", "", []byte("second payload"))
	require.NoError(t, err, "second Upload error")

	require.Equal(t, 1, records.len(), "re-upload must not create a second record")
	require.EqualValues(t, len("second payload"), second.SizeBytes)
	require.True(t, second.LastUpdated.After(first.LastUpdated), "LastUpdated should advance")

	dl, err := coord.Download(ctx, "cat")
	require.NoError(t, err, "Download error")
	require.Equal(t, []byte("second payload"), readDownload(t, dl))
}

func TestReuploadIsIdempotent(t *testing.T) {
	t.Parallel()

	coord, _, records := newTestCoordinator(t)
	ctx := t.Context()

	for range 3 {
		_, err := coord.Upload(ctx, "cat", "png", "", []byte("same"))
		require.NoError(t, err, "Upload error")
	}
	require.Equal(t, 1, records.len())
}

func TestReuploadWithNewExtensionKeepsOldBlob(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("png bytes"))
	require.NoError(t, err, "first Upload error")

	meta, err := coord.Upload(ctx, "cat", "jpg", "", []byte("jpg bytes"))
	require.NoError(t, err, "second Upload error")
	require.Equal(t, "jpg", meta.Extension)

	require.True(t, blobs.has("images/cat.jpg"), "new blob stored")
	require.True(t, blobs.has("images/cat.png"), "old blob is left as an orphan")

	dl, err := coord.Download(ctx, "cat")
	require.NoError(t, err, "Download error")
	require.Equal(t, []byte("jpg bytes"), readDownload(t, dl))
}

func TestConcurrentReuploadsNeverLeaveDanglingRecord(t *testing.T) {
	t.Parallel()

	inner := newFakeBlobStore()
	blobs := newPausingBlobStore(inner, "images/cat.png")
	coord := asset.NewCoordinator(blobs, newFakeRecordStore(), asset.WithLogger(slog.New(slog.DiscardHandler)))
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("png v1"))
	require.NoError(t, err, "seed Upload error")

	// A switches cat to jpg. If it goes on to delete the png blob, hold the
	// delete while B switches cat back to png.
	aDone := make(chan error, 1)
	go func() {
		_, err := coord.Upload(ctx, "cat", "jpg", "", []byte("jpg bytes"))
		aDone <- err
	}()

	var aErr error
	aFinished := false
	select {
	case <-blobs.entered:
	case aErr = <-aDone:
		aFinished = true
	case <-time.After(5 * time.Second):
		t.Fatal("upload A did not finish")
	}

	meta, err := coord.Upload(ctx, "cat", "png", "", []byte("png v2"))
	require.NoError(t, err, "Upload B error")
	require.Equal(t, "png", meta.Extension)

	close(blobs.release)
	if !aFinished {
		aErr = <-aDone
	}
	require.NoError(t, aErr, "Upload A error")

	dl, err := coord.Download(ctx, "cat")
	require.NoError(t, err, "record must still point at a stored blob")
	require.Equal(t, []byte("png v2"), readDownload(t, dl))
	require.True(t, inner.has("images/cat.jpg"), "replaced blob is kept")

	select {
	case <-blobs.entered:
		t.Fatal("re-upload deleted a blob another upload may own")
	default:
	}
}

func TestUploadValidation(t *testing.T) {
	t.Parallel()

	coord, blobs, records := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", nil)
	require.ErrorIs(t, err, asset.ErrEmptyPayload)

	_, err = coord.Upload(ctx, "!!!", "png", "", []byte("X"))
	require.ErrorIs(t, err, asset.ErrInvalidName)

	_, err = coord.Upload(ctx, "cat", " . ", "", []byte("X"))
	require.ErrorIs(t, err, asset.ErrInvalidExtension)

	require.Zero(t, blobs.puts, "validation failures must not touch the blob store")
	require.Zero(t, records.len())
}

func TestUploadStorageWriteFailure(t *testing.T) {
	t.Parallel()

	coord, blobs, records := newTestCoordinator(t)
	blobs.failPut = true

	_, err := coord.Upload(t.Context(), "cat", "png", "", []byte("X"))
	require.ErrorIs(t, err, asset.ErrStorageWriteFailed)
	require.ErrorIs(t, err, errInjected, "cause should be preserved")
	require.Zero(t, records.len(), "no record may be created when the blob write fails")
}

func TestUploadRecordWriteFailureLeavesOrphan(t *testing.T) {
	t.Parallel()

	coord, blobs, records := newTestCoordinator(t)
	records.failInsert = true

	_, err := coord.Upload(t.Context(), "cat", "png", "", []byte("X"))
	require.ErrorIs(t, err, asset.ErrRecordWriteFailed)
	require.True(t, blobs.has("images/cat.png"), "blob remains orphaned")
	require.Zero(t, records.len())
}

func TestUploadRecordUpdateFailure(t *testing.T) {
	t.Parallel()

	coord, _, records := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("X"))
	require.NoError(t, err, "first Upload error")

	records.failUpdate = true
	_, err = coord.Upload(ctx, "cat", "png", "", []byte("YY"))
	require.ErrorIs(t, err, asset.ErrRecordWriteFailed)

	meta, err := coord.GetMetadata(ctx, "cat")
	require.NoError(t, err, "GetMetadata error")
	require.EqualValues(t, 1, meta.SizeBytes, "record keeps previous metadata")
}

func TestUploadConcurrentInsertConflict(t *testing.T) {
	t.Parallel()

	coord, blobs, records := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("winner"))
	require.NoError(t, err, "first Upload error")

	// The losing request does not see the committed row when it looks up
	// the name, so it attempts an insert.
	records.hideName = "cat"
	_, err = coord.Upload(ctx, "cat", "png", "", []byte("loser"))
	require.ErrorIs(t, err, asset.ErrNameConflict)
	require.Equal(t, 1, records.len(), "committed row untouched")
	require.True(t, blobs.has("images/cat.png"))

	records.hideName = ""
	meta, err := coord.GetMetadata(ctx, "cat")
	require.NoError(t, err, "GetMetadata error")
	require.EqualValues(t, len("winner"), meta.SizeBytes)
}

func TestUploadSanitizedKeyCollision(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("original"))
	require.NoError(t, err, "first Upload error")
	puts := blobs.puts

	_, err = coord.Upload(ctx, "cat!", "png", "", []byte("intruder"))
	require.ErrorIs(t, err, asset.ErrNameConflict)
	require.Equal(t, puts, blobs.puts, "blob of the other name must not be overwritten")

	dl, err := coord.Download(ctx, "cat")
	require.NoError(t, err, "Download error")
	require.Equal(t, []byte("original"), readDownload(t, dl))
}

func TestUploadRecordReadFailure(t *testing.T) {
	t.Parallel()

	coord, blobs, records := newTestCoordinator(t)
	records.failRead = true

	_, err := coord.Upload(t.Context(), "cat", "png", "", []byte("X"))
	require.ErrorIs(t, err, asset.ErrRecordReadFailed)
	require.Zero(t, blobs.puts)
}

func TestUploadContentType(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "explicit", "bin", "image/x-custom", []byte("X"))
	require.NoError(t, err, "Upload error")
	dl, err := coord.Download(ctx, "explicit")
	require.NoError(t, err, "Download error")
	readDownload(t, dl)
	require.Equal(t, "image/x-custom", dl.ContentType)

	_, err = coord.Upload(ctx, "guessed", "webp", "", []byte("X"))
	require.NoError(t, err, "Upload error")
	dl, err = coord.Download(ctx, "guessed")
	require.NoError(t, err, "Download error")
	readDownload(t, dl)
	require.Equal(t, "image/webp", dl.ContentType)

	// When the store lost its content type the table is consulted.
	blobs.setContentType("images/guessed.webp", "")
	dl, err = coord.Download(ctx, "guessed")
	require.NoError(t, err, "Download error")
	readDownload(t, dl)
	require.Equal(t, "image/webp", dl.ContentType)

	_, err = coord.Upload(ctx, "unknown", "xyz", "", []byte("X"))
	require.NoError(t, err, "Upload error")
	blobs.setContentType("images/unknown.xyz", "")
	dl, err = coord.Download(ctx, "unknown")
	require.NoError(t, err, "Download error")
	readDownload(t, dl)
	require.Equal(t, asset.DefaultContentType, dl.ContentType)
}

func TestDownloadMissingBlob(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("X"))
	require.NoError(t, err, "Upload error")
	require.NoError(t, blobs.Delete(ctx, "images/cat.png"))

	_, err = coord.Download(ctx, "cat")
	require.ErrorIs(t, err, asset.ErrStorageReadFailed)
	require.ErrorIs(t, err, asset.ErrBlobNotFound)
}

func TestDownloadStorageFailure(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("X"))
	require.NoError(t, err, "Upload error")

	blobs.failGet = true
	_, err = coord.Download(ctx, "cat")
	require.ErrorIs(t, err, asset.ErrStorageReadFailed)
}

func TestDeleteStorageFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	coord, blobs, records := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("X"))
	require.NoError(t, err, "Upload error")

	blobs.failDelete = true
	require.ErrorIs(t, coord.Delete(ctx, "cat"), asset.ErrStorageDeleteFailed)
	require.Equal(t, 1, records.len(), "record must survive for a retry")

	blobs.failDelete = false
	require.NoError(t, coord.Delete(ctx, "cat"), "retry should succeed")
	require.Zero(t, records.len())
}

func TestDeleteRecordFailureLeavesDanglingRecord(t *testing.T) {
	t.Parallel()

	coord, blobs, records := newTestCoordinator(t)
	ctx := t.Context()

	_, err := coord.Upload(ctx, "cat", "png", "", []byte("X"))
	require.NoError(t, err, "Upload error")

	records.failDelete = true
	require.ErrorIs(t, coord.Delete(ctx, "cat"), asset.ErrRecordDeleteFailed)
	require.False(t, blobs.has("images/cat.png"), "blob already gone")
	require.Equal(t, 1, records.len(), "record lingers")

	_, err = coord.Download(ctx, "cat")
	require.ErrorIs(t, err, asset.ErrStorageReadFailed, "dangling record must not yield empty content")
}

func TestGetRandomMetadata(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		coord, _, _ := newTestCoordinator(t)
		_, err := coord.GetRandomMetadata(t.Context())
		require.ErrorIs(t, err, asset.ErrNotFound)
	})

	t.Run("single record", func(t *testing.T) {
		t.Parallel()
		coord, _, _ := newTestCoordinator(t)
		ctx := t.Context()

		_, err := coord.Upload(ctx, "only", "png", "", []byte("X"))
		require.NoError(t, err, "Upload error")

		for range 10 {
			meta, err := coord.GetRandomMetadata(ctx)
			require.NoError(t, err, "GetRandomMetadata error")
			require.Equal(t, "only", meta.Name)
		}
	})

	t.Run("offset selects by id order", func(t *testing.T) {
		t.Parallel()

		var offset int64
		var seen int64
		coord, _, records := newTestCoordinator(t, asset.WithRandom(func(n int64) int64 {
			seen = n
			return offset
		}))
		ctx := t.Context()

		for _, name := range []string{"a", "b", "c"} {
			_, err := coord.Upload(ctx, name, "png", "", []byte(name))
			require.NoError(t, err, "Upload error")
		}

		for i, want := range []string{"a", "b", "c"} {
			offset = int64(i)
			records.calls = 0
			meta, err := coord.GetRandomMetadata(ctx)
			require.NoError(t, err, "GetRandomMetadata error")
			require.Equal(t, want, meta.Name)
			require.EqualValues(t, 3, seen, "random bound should be the record count")
			require.Equal(t, 2, records.calls, "exactly one count and one fetch")
		}
	})

	t.Run("record vanished after count", func(t *testing.T) {
		t.Parallel()
		coord, _, _ := newTestCoordinator(t, asset.WithRandom(func(n int64) int64 { return n }))
		ctx := t.Context()

		_, err := coord.Upload(ctx, "a", "png", "", []byte("X"))
		require.NoError(t, err, "Upload error")

		_, err = coord.GetRandomMetadata(ctx)
		require.ErrorIs(t, err, asset.ErrNotFound)
	})

	t.Run("count failure", func(t *testing.T) {
		t.Parallel()
		coord, _, records := newTestCoordinator(t)
		records.failRead = true
		_, err := coord.GetRandomMetadata(t.Context())
		require.ErrorIs(t, err, asset.ErrRecordReadFailed)
	})
}

func TestGetRandomMetadataCoversAllRecords(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t)
	ctx := t.Context()

	names := []string{"a", "b", "c", "d"}
	for _, name := range names {
		_, err := coord.Upload(ctx, name, "png", "", []byte(name))
		require.NoError(t, err, "Upload error")
	}

	seen := map[string]int{}
	for range 400 {
		meta, err := coord.GetRandomMetadata(ctx)
		require.NoError(t, err, "GetRandomMetadata error")
		seen[meta.Name]++
	}

	for _, name := range names {
		require.Positivef(t, seen[name], "record %q never selected", name)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t)
	ctx := t.Context()

	for _, name := range []string{"a", "b", "c"} {
		_, err := coord.Upload(ctx, name, "png", "", []byte(name))
		require.NoError(t, err, "Upload error")
	}

	page, err := coord.List(ctx, 2, 0)
	require.NoError(t, err, "List error")
	require.Len(t, page, 2)
	require.Equal(t, "a", page[0].Name)
	require.Equal(t, "b", page[1].Name)

	page, err = coord.List(ctx, 2, 2)
	require.NoError(t, err, "List error")
	require.Len(t, page, 1)
	require.Equal(t, "c", page[0].Name)
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	coord, blobs, _ := newTestCoordinator(t)
	_, err := coord.Upload(t.Context(), "", "png", "", []byte("X"))
	require.True(t, asset.IsValidationError(err))
	require.False(t, asset.IsUpstreamError(err))

	blobs.failPut = true
	_, err = coord.Upload(t.Context(), "cat", "png", "", []byte("X"))
	require.True(t, asset.IsUpstreamError(err))
	require.False(t, asset.IsValidationError(err))
}
