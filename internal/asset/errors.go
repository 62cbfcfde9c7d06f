package asset

import "errors"

// Errors returned by the Coordinator. Collaborator failures are wrapped so
// that both the kind and the underlying cause match with errors.Is.
var (
	ErrInvalidName      = errors.New("invalid asset name")
	ErrInvalidExtension = errors.New("invalid file extension")
	ErrEmptyPayload     = errors.New("uploaded file is empty")
	ErrNotFound         = errors.New("asset not found")
	ErrNameConflict     = errors.New("asset name already exists")

	ErrStorageWriteFailed  = errors.New("failed to write blob")
	ErrStorageReadFailed   = errors.New("failed to read blob")
	ErrStorageDeleteFailed = errors.New("failed to delete blob")
	ErrRecordReadFailed    = errors.New("failed to read record")
	ErrRecordWriteFailed   = errors.New("failed to write record")
	ErrRecordDeleteFailed  = errors.New("failed to delete record")
)

// Errors that BlobStore and RecordStore implementations must return for the
// corresponding conditions.
var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")
)

// IsValidationError reports whether err was caused by bad caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidExtension) ||
		errors.Is(err, ErrEmptyPayload)
}

// IsUpstreamError reports whether err was caused by a failing collaborator.
func IsUpstreamError(err error) bool {
	for _, kind := range []error{
		ErrStorageWriteFailed,
		ErrStorageReadFailed,
		ErrStorageDeleteFailed,
		ErrRecordReadFailed,
		ErrRecordWriteFailed,
		ErrRecordDeleteFailed,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
