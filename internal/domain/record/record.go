package record

import (
	"time"

	"github.com/google/uuid"
)

// DefaultGracePeriod is how long a soft-deleted record remains restorable
// before the purge sweep is allowed to erase it.
const DefaultGracePeriod = 30 * 24 * time.Hour

// Note holds the plaintext clinical content of a session record. The four
// fields follow the SOAP documentation format and are the only parts of a
// record that are encrypted at rest.
type Note struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Complete reports whether every SOAP section has content. Finalization
// requires a complete note.
func (n Note) Complete() bool {
	return n.Subjective != "" && n.Objective != "" && n.Assessment != "" && n.Plan != ""
}

// Record is a session record: the clinical note a clinician writes for one
// client session. It begins life as a re-editable draft, is finalized exactly
// once, and may only be amended afterwards. Soft deletion starts a grace
// period after which the purge sweep erases the row for good.
//
// The SOAP sections are persisted only as authenticated ciphertext; the
// repository layer runs them through the field codec on every load and store.
type Record struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	WorkspaceID   uuid.UUID  `gorm:"column:workspace_id;type:uuid;not null;index"`
	ClientID      uuid.UUID  `gorm:"column:client_id;type:uuid;not null;index"`
	AppointmentID *uuid.UUID `gorm:"column:appointment_id;type:uuid;index"`
	CreatedBy     uuid.UUID  `gorm:"column:created_by;type:uuid;not null"`

	SessionDate time.Time `gorm:"column:session_date;not null;index"`

	// Plaintext note, populated by the repository after decryption.
	// Never written to the database directly.
	Note Note `gorm:"-"`

	SubjectiveEnc []byte `gorm:"column:subjective_enc;type:bytea"`
	ObjectiveEnc  []byte `gorm:"column:objective_enc;type:bytea"`
	AssessmentEnc []byte `gorm:"column:assessment_enc;type:bytea"`
	PlanEnc       []byte `gorm:"column:plan_enc;type:bytea"`

	IsDraft          bool       `gorm:"column:is_draft;not null;default:true"`
	DraftLastSavedAt *time.Time `gorm:"column:draft_last_saved_at"`
	FinalizedAt      *time.Time `gorm:"column:finalized_at"`
	AmendedAt        *time.Time `gorm:"column:amended_at"`
	AmendmentCount   int        `gorm:"column:amendment_count;not null;default:0"`

	// Version is the optimistic-lock token. Every accepted mutation bumps it
	// by exactly one under a compare-and-swap on the previous value.
	Version int `gorm:"column:version;not null;default:1"`

	DeletedAt            *time.Time `gorm:"column:deleted_at;index"`
	DeletedReason        string     `gorm:"column:deleted_reason;type:text"`
	DeletedBy            *uuid.UUID `gorm:"column:deleted_by;type:uuid"`
	PermanentDeleteAfter *time.Time `gorm:"column:permanent_delete_after;index"`

	// Attachments live in blob storage; the record only tracks how many.
	AttachmentCount int `gorm:"column:attachment_count;not null;default:0"`
}

func (Record) TableName() string {
	return "clinical.session_records"
}

// Finalized reports whether the record has been locked as authoritative.
// Finalization is one-way; restore-from-delete never reverts it.
func (r *Record) Finalized() bool {
	return r.FinalizedAt != nil
}

// Deleted reports whether the record is in its soft-deleted state.
func (r *Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Restorable reports whether a soft-deleted record is still inside its
// grace period at the given instant.
func (r *Record) Restorable(now time.Time) bool {
	return r.Deleted() && r.PermanentDeleteAfter != nil && now.Before(*r.PermanentDeleteAfter)
}

// Version is an immutable snapshot of a record's note at the version it held
// when finalized or amended. Rows are append-only and removed only when the
// parent record is purged.
type Version struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime"`

	RecordID uuid.UUID `gorm:"column:record_id;type:uuid;not null;index:idx_record_versions_record_version,unique"`
	Version  int       `gorm:"column:version;not null;index:idx_record_versions_record_version,unique"`

	// Plaintext view, populated by the repository after decryption.
	Note Note `gorm:"-"`

	SubjectiveEnc []byte `gorm:"column:subjective_enc;type:bytea"`
	ObjectiveEnc  []byte `gorm:"column:objective_enc;type:bytea"`
	AssessmentEnc []byte `gorm:"column:assessment_enc;type:bytea"`
	PlanEnc       []byte `gorm:"column:plan_enc;type:bytea"`
}

func (Version) TableName() string {
	return "clinical.record_versions"
}

// NotePatch is a field mask over the SOAP sections. A nil field means "leave
// untouched"; a non-nil pointer to an empty string means "clear". This keeps
// partial autosave payloads unambiguous.
type NotePatch struct {
	Subjective *string `json:"subjective"`
	Objective  *string `json:"objective"`
	Assessment *string `json:"assessment"`
	Plan       *string `json:"plan"`
}

// Empty reports whether the patch touches nothing.
func (p NotePatch) Empty() bool {
	return p.Subjective == nil && p.Objective == nil && p.Assessment == nil && p.Plan == nil
}

// Apply overlays the present fields onto a note.
func (p NotePatch) Apply(n *Note) {
	if p.Subjective != nil {
		n.Subjective = *p.Subjective
	}
	if p.Objective != nil {
		n.Objective = *p.Objective
	}
	if p.Assessment != nil {
		n.Assessment = *p.Assessment
	}
	if p.Plan != nil {
		n.Plan = *p.Plan
	}
}

type CreateRecordCommand struct {
	WorkspaceID   uuid.UUID
	ClientID      uuid.UUID
	AppointmentID *uuid.UUID
	SessionDate   time.Time
	Note          Note
	CreatedBy     uuid.UUID
}
