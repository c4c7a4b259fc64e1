package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chartkeep/api/internal/domain"
	"github.com/chartkeep/api/internal/domain/record"
	"github.com/chartkeep/api/internal/ratelimit"
	"github.com/chartkeep/api/pkg/metrics"
)

// AutosaveLimiter bounds the draft autosave path. Satisfied by
// ratelimit.Limiter.
type AutosaveLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// RecordService is the lifecycle manager for session records. Every mutation
// funnels through the repository's compare-and-swap on the record version,
// which is the only concurrency control the lifecycle needs: snapshots are
// append-only and audit events commute.
type RecordService struct {
	repo        record.Repository
	versions    record.VersionRepository
	limiter     AutosaveLimiter
	audit       *AuditService
	gracePeriod time.Duration
	log         *zap.Logger
	collector   *metrics.Collector
	now         func() time.Time
}

func NewRecordService(
	repo record.Repository,
	versions record.VersionRepository,
	limiter AutosaveLimiter,
	audit *AuditService,
	gracePeriod time.Duration,
	collector *metrics.Collector,
	log *zap.Logger,
) *RecordService {
	if gracePeriod <= 0 {
		gracePeriod = record.DefaultGracePeriod
	}
	return &RecordService{
		repo:        repo,
		versions:    versions,
		limiter:     limiter,
		audit:       audit,
		gracePeriod: gracePeriod,
		log:         log,
		collector:   collector,
		now:         time.Now,
	}
}

// authorize checks the actor may touch the record at all. Workspace mismatch
// reads as not-found so record identifiers do not leak across workspaces.
func (s *RecordService) authorize(actor domain.Actor, rec *record.Record, write bool) error {
	if rec.WorkspaceID != actor.WorkspaceID {
		return record.ErrRecordNotFound
	}
	if write && !actor.Role.CanWriteRecords() {
		return ErrForbidden
	}
	return nil
}

func (s *RecordService) Create(ctx context.Context, cmd *record.CreateRecordCommand, actor domain.Actor) (*record.Record, error) {
	if !actor.Role.CanWriteRecords() {
		return nil, ErrForbidden
	}
	if err := validateCreateCommand(cmd); err != nil {
		return nil, err
	}

	rec := &record.Record{
		WorkspaceID:   actor.WorkspaceID,
		ClientID:      cmd.ClientID,
		AppointmentID: cmd.AppointmentID,
		CreatedBy:     actor.UserID,
		SessionDate:   cmd.SessionDate,
		Note:          cmd.Note,
		IsDraft:       true,
		Version:       1,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating session record: %w", err)
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:    actor,
		Action:   domain.ActionCreate,
		RecordID: rec.ID,
	}); err != nil {
		return nil, err
	}

	s.collector.RecordCreated()
	s.log.Info("session record created",
		zap.String("record_id", rec.ID.String()),
		zap.String("created_by", actor.UserID.String()),
	)

	return rec, nil
}

// Read returns the decrypted record. Access to clinical content must be
// traceable, so every read is audited; the audit write happens in the
// background and never blocks or fails the read.
func (s *RecordService) Read(ctx context.Context, id uuid.UUID, actor domain.Actor) (*record.Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, rec, false); err != nil {
		return nil, err
	}

	s.audit.RecordAsync(AuditEntry{
		Actor:    actor,
		Action:   domain.ActionRead,
		RecordID: rec.ID,
	})

	return rec, nil
}

// SaveDraft applies a partial note update to a draft under the optimistic
// lock. The rate limiter runs before anything else: throttled calls must not
// cost a database round trip.
func (s *RecordService) SaveDraft(ctx context.Context, id uuid.UUID, patch record.NotePatch, expectedVersion int, actor domain.Actor) (*record.Record, error) {
	if !actor.Role.CanWriteRecords() {
		return nil, ErrForbidden
	}

	if !s.limiter.Allow(ctx, ratelimit.AutosaveKey(actor.UserID, id)) {
		s.collector.DraftSaved("limited")
		return nil, record.ErrRateLimited
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, rec, true); err != nil {
		return nil, err
	}
	if rec.Finalized() {
		return nil, fmt.Errorf("%w: record is finalized, use amend", record.ErrInvalidStateTransition)
	}
	if rec.Deleted() {
		return nil, fmt.Errorf("%w: record is deleted", record.ErrInvalidStateTransition)
	}
	if rec.Version != expectedVersion {
		s.collector.DraftSaved("conflict")
		return nil, record.ErrVersionConflict
	}

	patch.Apply(&rec.Note)
	now := s.now()
	rec.DraftLastSavedAt = &now

	if err := s.repo.UpdateCAS(ctx, rec, expectedVersion, true); err != nil {
		if errors.Is(err, record.ErrVersionConflict) {
			s.collector.DraftSaved("conflict")
		}
		return nil, err
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:    actor,
		Action:   domain.ActionUpdate,
		RecordID: rec.ID,
		Metadata: map[string]any{"version": rec.Version, "draft": true},
	}); err != nil {
		return nil, err
	}

	s.collector.DraftSaved("applied")
	return rec, nil
}

// Finalize locks the record as authoritative. One-way: nothing reverts a
// record to draft, restore included.
func (s *RecordService) Finalize(ctx context.Context, id uuid.UUID, expectedVersion int, actor domain.Actor) (*record.Record, error) {
	if !actor.Role.CanWriteRecords() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, rec, true); err != nil {
		return nil, err
	}
	if rec.Finalized() {
		return nil, fmt.Errorf("%w: record is already finalized", record.ErrInvalidStateTransition)
	}
	if rec.Deleted() {
		return nil, fmt.Errorf("%w: record is deleted", record.ErrInvalidStateTransition)
	}
	if !rec.Note.Complete() {
		return nil, record.ErrIncompleteRecord
	}
	if rec.Version != expectedVersion {
		return nil, record.ErrVersionConflict
	}

	now := s.now()
	rec.FinalizedAt = &now
	rec.IsDraft = false

	if err := s.repo.UpdateCAS(ctx, rec, expectedVersion, true); err != nil {
		return nil, err
	}

	if err := s.appendSnapshot(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:    actor,
		Action:   domain.ActionUpdate,
		RecordID: rec.ID,
		Metadata: map[string]any{"version": rec.Version, "finalized": true},
	}); err != nil {
		return nil, err
	}

	s.collector.RecordFinalized()
	s.log.Info("session record finalized",
		zap.String("record_id", rec.ID.String()),
		zap.Int("version", rec.Version),
	)

	return rec, nil
}

// Amend applies a post-finalization edit. Amendments are tracked distinctly
// from drafting and each one leaves an immutable snapshot behind.
func (s *RecordService) Amend(ctx context.Context, id uuid.UUID, patch record.NotePatch, expectedVersion int, actor domain.Actor) (*record.Record, error) {
	if !actor.Role.CanWriteRecords() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, rec, true); err != nil {
		return nil, err
	}
	if !rec.Finalized() {
		return nil, fmt.Errorf("%w: only finalized records can be amended", record.ErrInvalidStateTransition)
	}
	if rec.Deleted() {
		return nil, fmt.Errorf("%w: record is deleted", record.ErrInvalidStateTransition)
	}
	if rec.Version != expectedVersion {
		return nil, record.ErrVersionConflict
	}

	patch.Apply(&rec.Note)
	now := s.now()
	rec.AmendedAt = &now
	rec.AmendmentCount++

	if err := s.repo.UpdateCAS(ctx, rec, expectedVersion, true); err != nil {
		return nil, err
	}

	if err := s.appendSnapshot(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:    actor,
		Action:   domain.ActionUpdate,
		RecordID: rec.ID,
		Metadata: map[string]any{
			"version":         rec.Version,
			"amendment":       true,
			"amendment_count": rec.AmendmentCount,
		},
	}); err != nil {
		return nil, err
	}

	s.collector.RecordAmended()
	return rec, nil
}

// SoftDelete starts the grace-period clock. Allowed from any non-deleted
// state; drafts can be deleted too.
func (s *RecordService) SoftDelete(ctx context.Context, id uuid.UUID, reason string, actor domain.Actor) (*record.Record, error) {
	if !actor.Role.CanWriteRecords() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, rec, true); err != nil {
		return nil, err
	}
	if rec.Deleted() {
		return nil, fmt.Errorf("%w: record is already deleted", record.ErrInvalidStateTransition)
	}

	now := s.now()
	deleteAfter := now.Add(s.gracePeriod)
	rec.DeletedAt = &now
	rec.DeletedReason = reason
	rec.DeletedBy = &actor.UserID
	rec.PermanentDeleteAfter = &deleteAfter

	if err := s.repo.UpdateCAS(ctx, rec, rec.Version, true); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:    actor,
		Action:   domain.ActionDelete,
		RecordID: rec.ID,
		Metadata: map[string]any{
			"permanent":              false,
			"permanent_delete_after": deleteAfter.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return nil, err
	}

	s.log.Info("session record soft-deleted",
		zap.String("record_id", rec.ID.String()),
		zap.Time("permanent_delete_after", deleteAfter),
	)

	return rec, nil
}

// Restore brings a soft-deleted record back inside its grace period. It does
// not bump the version and does not touch finalization state.
func (s *RecordService) Restore(ctx context.Context, id uuid.UUID, actor domain.Actor) (*record.Record, error) {
	if !actor.Role.CanWriteRecords() {
		return nil, ErrForbidden
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, rec, true); err != nil {
		return nil, err
	}
	if !rec.Deleted() {
		return nil, fmt.Errorf("%w: record is not deleted", record.ErrInvalidStateTransition)
	}
	if !rec.Restorable(s.now()) {
		return nil, record.ErrGracePeriodExpired
	}

	rec.DeletedAt = nil
	rec.DeletedReason = ""
	rec.DeletedBy = nil
	rec.PermanentDeleteAfter = nil

	if err := s.repo.UpdateCAS(ctx, rec, rec.Version, false); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, AuditEntry{
		Actor:    actor,
		Action:   domain.ActionRestore,
		RecordID: rec.ID,
	}); err != nil {
		return nil, err
	}

	return rec, nil
}

// ListVersions returns the record's snapshot trail, oldest first. Audited as
// a read: each snapshot carries decrypted clinical content.
func (s *RecordService) ListVersions(ctx context.Context, id uuid.UUID, actor domain.Actor) ([]*record.Version, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, rec, false); err != nil {
		return nil, err
	}

	versions, err := s.versions.ListByRecord(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	s.audit.RecordAsync(AuditEntry{
		Actor:    actor,
		Action:   domain.ActionRead,
		RecordID: rec.ID,
		Metadata: map[string]any{"versions": len(versions)},
	})

	return versions, nil
}

// appendSnapshot copies the record's note into the version trail under the
// version the preceding compare-and-swap just committed, so snapshot version
// numbers can never collide.
func (s *RecordService) appendSnapshot(ctx context.Context, rec *record.Record) error {
	v := &record.Version{
		RecordID: rec.ID,
		Version:  rec.Version,
		Note:     rec.Note,
	}
	if err := s.versions.Append(ctx, v); err != nil {
		return fmt.Errorf("writing version snapshot: %w", err)
	}
	s.collector.SnapshotWritten()
	return nil
}

func validateCreateCommand(cmd *record.CreateRecordCommand) error {
	var errs []string

	if cmd.ClientID == uuid.Nil {
		errs = append(errs, "client_id is required")
	}
	if cmd.SessionDate.IsZero() {
		errs = append(errs, "session_date is required")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
