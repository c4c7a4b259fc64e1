// Package repository holds the GORM-backed implementations of the domain
// repository interfaces. Encryption happens here and nowhere else: plaintext
// notes cross this boundary in, ciphertext rows cross it out.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chartkeep/api/internal/domain/record"
	"github.com/chartkeep/api/internal/fieldcrypt"
)

type RecordRepository struct {
	db    *gorm.DB
	codec *fieldcrypt.Codec
}

func NewRecordRepository(db *gorm.DB, codec *fieldcrypt.Codec) *RecordRepository {
	return &RecordRepository{db: db, codec: codec}
}

func (r *RecordRepository) encryptNote(rec *record.Record) error {
	var err error
	if rec.SubjectiveEnc, err = r.codec.Encrypt(rec.Note.Subjective); err != nil {
		return fmt.Errorf("encrypting subjective: %w", err)
	}
	if rec.ObjectiveEnc, err = r.codec.Encrypt(rec.Note.Objective); err != nil {
		return fmt.Errorf("encrypting objective: %w", err)
	}
	if rec.AssessmentEnc, err = r.codec.Encrypt(rec.Note.Assessment); err != nil {
		return fmt.Errorf("encrypting assessment: %w", err)
	}
	if rec.PlanEnc, err = r.codec.Encrypt(rec.Note.Plan); err != nil {
		return fmt.Errorf("encrypting plan: %w", err)
	}
	return nil
}

func (r *RecordRepository) decryptNote(rec *record.Record) error {
	var err error
	if rec.Note.Subjective, err = r.codec.Decrypt(rec.SubjectiveEnc); err != nil {
		return fmt.Errorf("decrypting subjective: %w", err)
	}
	if rec.Note.Objective, err = r.codec.Decrypt(rec.ObjectiveEnc); err != nil {
		return fmt.Errorf("decrypting objective: %w", err)
	}
	if rec.Note.Assessment, err = r.codec.Decrypt(rec.AssessmentEnc); err != nil {
		return fmt.Errorf("decrypting assessment: %w", err)
	}
	if rec.Note.Plan, err = r.codec.Decrypt(rec.PlanEnc); err != nil {
		return fmt.Errorf("decrypting plan: %w", err)
	}
	return nil
}

func (r *RecordRepository) Create(ctx context.Context, rec *record.Record) error {
	if err := r.encryptNote(rec); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}
	return nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	var rec record.Record
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, record.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session record: %w", err)
	}

	if err := r.decryptNote(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateCAS is the single write path for record mutations. The UPDATE is
// guarded by the stored version; zero rows affected means another writer got
// there first and the caller sees ErrVersionConflict.
func (r *RecordRepository) UpdateCAS(ctx context.Context, rec *record.Record, expectedVersion int, bumpVersion bool) error {
	if err := r.encryptNote(rec); err != nil {
		return err
	}

	newVersion := expectedVersion
	if bumpVersion {
		newVersion = expectedVersion + 1
	}

	res := r.db.WithContext(ctx).
		Model(&record.Record{}).
		Where("id = ? AND version = ?", rec.ID, expectedVersion).
		Updates(map[string]any{
			"subjective_enc":         rec.SubjectiveEnc,
			"objective_enc":          rec.ObjectiveEnc,
			"assessment_enc":         rec.AssessmentEnc,
			"plan_enc":               rec.PlanEnc,
			"session_date":           rec.SessionDate,
			"is_draft":               rec.IsDraft,
			"draft_last_saved_at":    rec.DraftLastSavedAt,
			"finalized_at":           rec.FinalizedAt,
			"amended_at":             rec.AmendedAt,
			"amendment_count":        rec.AmendmentCount,
			"deleted_at":             rec.DeletedAt,
			"deleted_reason":         rec.DeletedReason,
			"deleted_by":             rec.DeletedBy,
			"permanent_delete_after": rec.PermanentDeleteAfter,
			"attachment_count":       rec.AttachmentCount,
			"version":                newVersion,
		})
	if res.Error != nil {
		return fmt.Errorf("updating session record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return record.ErrVersionConflict
	}

	rec.Version = newVersion
	return nil
}

func (r *RecordRepository) ListPurgeable(ctx context.Context, now time.Time, limit int) ([]*record.Record, error) {
	var recs []*record.Record
	err := r.db.WithContext(ctx).
		Where("deleted_at IS NOT NULL AND permanent_delete_after <= ?", now).
		Order("deleted_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing purgeable records: %w", err)
	}

	// The sweep only needs identities and versions; note content stays
	// encrypted on its way out of existence.
	return recs, nil
}

func (r *RecordRepository) HardDelete(ctx context.Context, id uuid.UUID, expectedVersion int) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND version = ?", id, expectedVersion).
		Delete(&record.Record{})
	if res.Error != nil {
		return fmt.Errorf("hard-deleting session record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&record.Record{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("checking session record existence: %w", err)
		}
		if count == 0 {
			return record.ErrRecordNotFound
		}
		return record.ErrVersionConflict
	}
	return nil
}
