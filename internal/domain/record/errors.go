package record

import "errors"

var (
	ErrRecordNotFound = errors.New("session record not found")

	// ErrVersionConflict means the optimistic lock was lost: another writer
	// committed against the same prior version. The caller must refetch and
	// retry; the server never retries on its behalf.
	ErrVersionConflict = errors.New("record was modified concurrently; refetch and retry")

	// ErrRateLimited means draft autosave was throttled. The caller should
	// back off and retry; nothing was written.
	ErrRateLimited = errors.New("autosave rate limit exceeded")

	ErrIncompleteRecord = errors.New("cannot finalize: all SOAP sections must be present")

	ErrInvalidStateTransition = errors.New("operation not allowed in the record's current state")

	ErrGracePeriodExpired = errors.New("grace period has expired; record can no longer be restored")
)
