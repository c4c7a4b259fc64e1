package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chartkeep/api/internal/domain/record"
	"github.com/chartkeep/api/internal/fieldcrypt"
)

// VersionRepository persists the append-only snapshot trail. Snapshots arrive
// with the note already encrypted by the record repository's write path, so
// this store never sees plaintext on the way in; it decrypts on the way out
// for authorized version listings.
type VersionRepository struct {
	db    *gorm.DB
	codec *fieldcrypt.Codec
}

func NewVersionRepository(db *gorm.DB, codec *fieldcrypt.Codec) *VersionRepository {
	return &VersionRepository{db: db, codec: codec}
}

func (r *VersionRepository) Append(ctx context.Context, v *record.Version) error {
	var err error
	if v.SubjectiveEnc, err = r.codec.Encrypt(v.Note.Subjective); err != nil {
		return fmt.Errorf("encrypting snapshot subjective: %w", err)
	}
	if v.ObjectiveEnc, err = r.codec.Encrypt(v.Note.Objective); err != nil {
		return fmt.Errorf("encrypting snapshot objective: %w", err)
	}
	if v.AssessmentEnc, err = r.codec.Encrypt(v.Note.Assessment); err != nil {
		return fmt.Errorf("encrypting snapshot assessment: %w", err)
	}
	if v.PlanEnc, err = r.codec.Encrypt(v.Note.Plan); err != nil {
		return fmt.Errorf("encrypting snapshot plan: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("appending record version: %w", err)
	}
	return nil
}

func (r *VersionRepository) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*record.Version, error) {
	var versions []*record.Version
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("version ASC").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("listing record versions: %w", err)
	}

	for _, v := range versions {
		if v.Note.Subjective, err = r.codec.Decrypt(v.SubjectiveEnc); err != nil {
			return nil, fmt.Errorf("decrypting snapshot subjective: %w", err)
		}
		if v.Note.Objective, err = r.codec.Decrypt(v.ObjectiveEnc); err != nil {
			return nil, fmt.Errorf("decrypting snapshot objective: %w", err)
		}
		if v.Note.Assessment, err = r.codec.Decrypt(v.AssessmentEnc); err != nil {
			return nil, fmt.Errorf("decrypting snapshot assessment: %w", err)
		}
		if v.Note.Plan, err = r.codec.Decrypt(v.PlanEnc); err != nil {
			return nil, fmt.Errorf("decrypting snapshot plan: %w", err)
		}
	}
	return versions, nil
}

func (r *VersionRepository) DeleteByRecord(ctx context.Context, recordID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Delete(&record.Version{}).Error
	if err != nil {
		return fmt.Errorf("cascading version delete: %w", err)
	}
	return nil
}
