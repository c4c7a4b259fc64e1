package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new record with version 1.
	Create(ctx context.Context, r *Record) error

	// GetByID retrieves a record by primary key, including soft-deleted rows.
	// Returns ErrRecordNotFound if no row exists.
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)

	// UpdateCAS writes the record's current field values guarded by a
	// compare-and-swap on expectedVersion. On success the stored and in-memory
	// version become expectedVersion+1 unless bumpVersion is false, in which
	// case the version is left as-is (restore is the one non-incrementing
	// write). Returns ErrVersionConflict when no row matched.
	UpdateCAS(ctx context.Context, r *Record, expectedVersion int, bumpVersion bool) error

	// ListPurgeable returns soft-deleted records whose grace period has
	// elapsed at the given instant, oldest deletion first, up to limit.
	ListPurgeable(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// HardDelete removes the row permanently, guarded by the same
	// compare-and-swap as user writes. Returns ErrVersionConflict when the
	// row changed underneath the sweep, ErrRecordNotFound when it is already
	// gone (a prior sweep won).
	HardDelete(ctx context.Context, id uuid.UUID, expectedVersion int) error
}

type VersionRepository interface {
	// Append stores an immutable snapshot. (record_id, version) is unique;
	// the lifecycle manager guarantees no collisions by appending under the
	// same compare-and-swap that bumped the parent's version.
	Append(ctx context.Context, v *Version) error

	// ListByRecord returns all snapshots for a record ordered by version,
	// oldest first.
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*Version, error)

	// DeleteByRecord cascades a purge: removes every snapshot owned by the
	// record. The only delete the store exposes.
	DeleteByRecord(ctx context.Context, recordID uuid.UUID) error
}
