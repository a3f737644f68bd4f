package service

import (
	"errors"
	"fmt"
)

var (
	ErrObjectNotFound       = errors.New("object not found")
	ErrVersionNotFound      = errors.New("version not found")
	ErrArchiveConflict      = errors.New("document is already archived")
	ErrRestoreConflict      = errors.New("document is not archived")
	ErrUIDPresent           = errors.New("cannot set `uid` on a document")
	ErrBadPageArgument      = errors.New("page must be a positive integer")
	ErrBadPageSizeArgument  = errors.New("page size must not be negative")
	ErrBadCollationArgument = errors.New("collation must specify a locale and a strength between 1 and 5")
	ErrBadSortArgument      = errors.New("sort must be a list of (field, 1|-1) pairs")
	ErrBadArchiveAction     = errors.New("archive action must be `archive` or `restore`")
	ErrVersionNotInteger    = errors.New("argument `version` must be an integer")
	ErrVersionNotPositive   = errors.New("argument `version` must be more than zero")
	ErrNotImplemented       = errors.New("operation not implemented")
	ErrBadPayload           = errors.New("malformed payload")
	// ErrHistoryWrite accompanies a successful Ack when the primary update
	// committed but the superseded revision could not be stored.
	ErrHistoryWrite = errors.New("historic snapshot not stored")
)

// ImmutableMetadataFieldError reports an attempt to set a service-owned
// splash_md field.
type ImmutableMetadataFieldError struct {
	Field string
}

func (e *ImmutableMetadataFieldError) Error() string {
	return fmt.Sprintf("Cannot mutate field: `%s` in `splash_md`", e.Field)
}

// EtagMismatchError is returned when the caller's etag is stale. It carries
// the stored state so the caller can reconcile.
type EtagMismatchError struct {
	Message         string
	CurrentEtag     string
	CurrentMetadata SystemMetadata
}

func (e *EtagMismatchError) Error() string {
	return e.Message
}

func newEtagMismatch(supplied string, current SystemMetadata) *EtagMismatchError {
	return &EtagMismatchError{
		Message:         fmt.Sprintf("etag %q does not match current etag %q", supplied, current.Etag),
		CurrentEtag:     current.Etag,
		CurrentMetadata: current.clone(),
	}
}

// Code maps an error to a stable machine-readable code. Unknown errors map
// to "internal".
func Code(err error) string {
	var immutable *ImmutableMetadataFieldError
	var etag *EtagMismatchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &etag):
		return "etag_mismatch"
	case errors.As(err, &immutable):
		return "immutable_metadata_field"
	case errors.Is(err, ErrVersionNotFound):
		return "version_not_found"
	case errors.Is(err, ErrObjectNotFound):
		return "not_found"
	case errors.Is(err, ErrArchiveConflict):
		return "archive_conflict"
	case errors.Is(err, ErrRestoreConflict):
		return "restore_conflict"
	case errors.Is(err, ErrUIDPresent):
		return "uid_present"
	case errors.Is(err, ErrBadPageArgument), errors.Is(err, ErrBadPageSizeArgument):
		return "bad_page_argument"
	case errors.Is(err, ErrBadCollationArgument):
		return "bad_collation_argument"
	case errors.Is(err, ErrBadSortArgument):
		return "bad_sort_argument"
	case errors.Is(err, ErrBadArchiveAction):
		return "bad_archive_action"
	case errors.Is(err, ErrVersionNotInteger), errors.Is(err, ErrVersionNotPositive):
		return "bad_version_argument"
	case errors.Is(err, ErrBadPayload):
		return "bad_payload"
	case errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, ErrHistoryWrite):
		return "history_write_failed"
	}
	return "internal"
}
