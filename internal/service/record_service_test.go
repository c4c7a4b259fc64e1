package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chartkeep/api/internal/domain"
	"github.com/chartkeep/api/internal/domain/record"
)

// ---- fakes -----------------------------------------------------------------

type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*record.Record
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[uuid.UUID]*record.Record)}
}

func clone(r *record.Record) *record.Record {
	c := *r
	return &c
}

func (f *fakeRecordRepo) Create(_ context.Context, r *record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	f.records[r.ID] = clone(r)
	return nil
}

func (f *fakeRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, record.ErrRecordNotFound
	}
	return clone(r), nil
}

func (f *fakeRecordRepo) UpdateCAS(_ context.Context, r *record.Record, expectedVersion int, bumpVersion bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.records[r.ID]
	if !ok || cur.Version != expectedVersion {
		return record.ErrVersionConflict
	}
	if bumpVersion {
		r.Version = expectedVersion + 1
	} else {
		r.Version = expectedVersion
	}
	f.records[r.ID] = clone(r)
	return nil
}

func (f *fakeRecordRepo) ListPurgeable(_ context.Context, now time.Time, limit int) ([]*record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*record.Record
	for _, r := range f.records {
		if r.DeletedAt != nil && r.PermanentDeleteAfter != nil && !r.PermanentDeleteAfter.After(now) {
			out = append(out, clone(r))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) HardDelete(_ context.Context, id uuid.UUID, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.records[id]
	if !ok {
		return record.ErrRecordNotFound
	}
	if cur.Version != expectedVersion {
		return record.ErrVersionConflict
	}
	delete(f.records, id)
	return nil
}

type fakeVersionRepo struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID][]*record.Version
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{snapshots: make(map[uuid.UUID][]*record.Version)}
}

func (f *fakeVersionRepo) Append(_ context.Context, v *record.Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *v
	c.CreatedAt = time.Now()
	f.snapshots[v.RecordID] = append(f.snapshots[v.RecordID], &c)
	return nil
}

func (f *fakeVersionRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*record.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*record.Version(nil), f.snapshots[recordID]...), nil
}

func (f *fakeVersionRepo) DeleteByRecord(_ context.Context, recordID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, recordID)
	return nil
}

type fakeAuditRepo struct {
	mu       sync.Mutex
	events   []*domain.AuditEvent
	failErr  error
	onCreate func(*domain.AuditEvent)
}

func (f *fakeAuditRepo) Create(_ context.Context, e *domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	if f.onCreate != nil {
		f.onCreate(e)
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeAuditRepo) byAction(action domain.AuditAction) []*domain.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AuditEvent
	for _, e := range f.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeLimiter struct {
	mu    sync.Mutex
	allow bool
	calls []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	return f.allow
}

// ---- harness ---------------------------------------------------------------

type fixture struct {
	svc     *RecordService
	repo    *fakeRecordRepo
	vers    *fakeVersionRepo
	audit   *fakeAuditRepo
	limiter *fakeLimiter
	actor   domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRecordRepo()
	vers := newFakeVersionRepo()
	audit := &fakeAuditRepo{}
	limiter := &fakeLimiter{allow: true}

	auditSvc := NewAuditService(audit, zap.NewNop())
	t.Cleanup(auditSvc.Shutdown)

	svc := NewRecordService(repo, vers, limiter, auditSvc, 30*24*time.Hour, nil, zap.NewNop())
	return &fixture{
		svc:     svc,
		repo:    repo,
		vers:    vers,
		audit:   audit,
		limiter: limiter,
		actor: domain.Actor{
			UserID:      uuid.New(),
			WorkspaceID: uuid.New(),
			Role:        domain.RoleClinician,
		},
	}
}

func (f *fixture) create(t *testing.T, note record.Note) *record.Record {
	t.Helper()
	rec, err := f.svc.Create(context.Background(), &record.CreateRecordCommand{
		ClientID:    uuid.New(),
		SessionDate: time.Now(),
		Note:        note,
	}, f.actor)
	require.NoError(t, err)
	return rec
}

func fullNote() record.Note {
	return record.Note{
		Subjective: "reports low mood improving",
		Objective:  "engaged, normal affect",
		Assessment: "responding to treatment",
		Plan:       "continue weekly sessions",
	}
}

func strptr(s string) *string { return &s }

// ---- lifecycle tests -------------------------------------------------------

func TestCreateInitializesDraft(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	assert.Equal(t, 1, rec.Version)
	assert.True(t, rec.IsDraft)
	assert.Nil(t, rec.FinalizedAt)
	assert.Equal(t, f.actor.WorkspaceID, rec.WorkspaceID)
	assert.Len(t, f.audit.byAction(domain.ActionCreate), 1)
}

func TestCreateForbiddenForAssistant(t *testing.T) {
	f := newFixture(t)
	f.actor.Role = domain.RoleAssistant

	_, err := f.svc.Create(context.Background(), &record.CreateRecordCommand{
		ClientID:    uuid.New(),
		SessionDate: time.Now(),
	}, f.actor)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), &record.CreateRecordCommand{}, f.actor)

	var validErr *ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Contains(t, validErr.Fields, "client_id is required")
	assert.Contains(t, validErr.Fields, "session_date is required")
}

func TestSaveDraftAppliesPartialFields(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	updated, err := f.svc.SaveDraft(context.Background(), rec.ID,
		record.NotePatch{Plan: strptr("revised plan")}, 1, f.actor)
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "revised plan", updated.Note.Plan)
	assert.Equal(t, fullNote().Subjective, updated.Note.Subjective, "absent fields stay untouched")
	assert.NotNil(t, updated.DraftLastSavedAt)
}

func TestSaveDraftClearVsAbsent(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	// A present pointer to "" clears; a nil pointer leaves alone.
	updated, err := f.svc.SaveDraft(context.Background(), rec.ID,
		record.NotePatch{Objective: strptr("")}, 1, f.actor)
	require.NoError(t, err)

	assert.Empty(t, updated.Note.Objective)
	assert.Equal(t, fullNote().Assessment, updated.Note.Assessment)
}

func TestSaveDraftVersionConflict(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	_, err := f.svc.SaveDraft(context.Background(), rec.ID,
		record.NotePatch{Plan: strptr("x")}, 99, f.actor)
	assert.ErrorIs(t, err, record.ErrVersionConflict)

	got, err := f.svc.Read(context.Background(), rec.ID, f.actor)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version, "failed save must not bump the version")
}

func TestConcurrentSaveDraftExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SaveDraft(context.Background(), rec.ID,
				record.NotePatch{Plan: strptr("writer")}, 1, f.actor)
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, record.ErrVersionConflict):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)
}

func TestSaveDraftRateLimited(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())
	f.limiter.allow = false

	_, err := f.svc.SaveDraft(context.Background(), rec.ID,
		record.NotePatch{Plan: strptr("x")}, 1, f.actor)
	assert.ErrorIs(t, err, record.ErrRateLimited)

	f.limiter.allow = true
	got, err := f.svc.Read(context.Background(), rec.ID, f.actor)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version, "throttled save must not write")
}

func TestSaveDraftOnFinalizedRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	_, err := f.svc.Finalize(context.Background(), rec.ID, 1, f.actor)
	require.NoError(t, err)

	_, err = f.svc.SaveDraft(context.Background(), rec.ID,
		record.NotePatch{Plan: strptr("x")}, 2, f.actor)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
}

func TestFinalizeIncompleteRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, record.Note{Subjective: "only one section"})

	_, err := f.svc.Finalize(context.Background(), rec.ID, 1, f.actor)
	assert.ErrorIs(t, err, record.ErrIncompleteRecord)

	got, err := f.svc.Read(context.Background(), rec.ID, f.actor)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version, "rejected finalize must leave version unchanged")
	assert.Nil(t, got.FinalizedAt)
}

func TestFinalizeWritesSnapshotAndLocks(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	finalized, err := f.svc.Finalize(context.Background(), rec.ID, 1, f.actor)
	require.NoError(t, err)

	assert.Equal(t, 2, finalized.Version)
	assert.False(t, finalized.IsDraft)
	require.NotNil(t, finalized.FinalizedAt)

	snaps, err := f.vers.ListByRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].Version)
	assert.Equal(t, fullNote(), snaps[0].Note)

	// Finalization is one-way.
	_, err = f.svc.Finalize(context.Background(), rec.ID, 2, f.actor)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
}

func TestAmendOnDraftRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	_, err := f.svc.Amend(context.Background(), rec.ID,
		record.NotePatch{Plan: strptr("x")}, 1, f.actor)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
}

func TestAmendTracksCountAndSnapshots(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	_, err := f.svc.Finalize(context.Background(), rec.ID, 1, f.actor)
	require.NoError(t, err)

	amended, err := f.svc.Amend(context.Background(), rec.ID,
		record.NotePatch{Assessment: strptr("revised assessment")}, 2, f.actor)
	require.NoError(t, err)

	assert.Equal(t, 3, amended.Version)
	assert.Equal(t, 1, amended.AmendmentCount)
	assert.NotNil(t, amended.AmendedAt)
	assert.NotNil(t, amended.FinalizedAt, "amendment never clears finalization")

	snaps, err := f.vers.ListByRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, fullNote().Assessment, snaps[0].Note.Assessment, "prior snapshot is immutable")
	assert.Equal(t, "revised assessment", snaps[1].Note.Assessment)
}

func TestSoftDeleteStartsGraceClock(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	deleted, err := f.svc.SoftDelete(context.Background(), rec.ID, "duplicate entry", f.actor)
	require.NoError(t, err)

	assert.Equal(t, 2, deleted.Version, "soft delete is a version-incrementing write")
	require.NotNil(t, deleted.DeletedAt)
	require.NotNil(t, deleted.PermanentDeleteAfter)
	assert.Equal(t, "duplicate entry", deleted.DeletedReason)
	assert.WithinDuration(t, deleted.DeletedAt.Add(30*24*time.Hour), *deleted.PermanentDeleteAfter, time.Second)

	_, err = f.svc.SoftDelete(context.Background(), rec.ID, "again", f.actor)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
}

func TestRestoreWithinGracePeriod(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	deleted, err := f.svc.SoftDelete(context.Background(), rec.ID, "mistake", f.actor)
	require.NoError(t, err)

	restored, err := f.svc.Restore(context.Background(), rec.ID, f.actor)
	require.NoError(t, err)

	assert.Equal(t, deleted.Version, restored.Version, "restore does not bump the version")
	assert.Nil(t, restored.DeletedAt)
	assert.Nil(t, restored.PermanentDeleteAfter)
	assert.Equal(t, fullNote(), restored.Note, "content survives the round trip")
	assert.Len(t, f.audit.byAction(domain.ActionRestore), 1)
}

func TestRestoreAfterGracePeriodRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	_, err := f.svc.SoftDelete(context.Background(), rec.ID, "old", f.actor)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, err = f.svc.Restore(context.Background(), rec.ID, f.actor)
	assert.ErrorIs(t, err, record.ErrGracePeriodExpired)
}

func TestRestoreNotDeletedRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	_, err := f.svc.Restore(context.Background(), rec.ID, f.actor)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
}

func TestWorkspaceIsolation(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	outsider := domain.Actor{
		UserID:      uuid.New(),
		WorkspaceID: uuid.New(),
		Role:        domain.RoleClinician,
	}

	_, err := f.svc.Read(context.Background(), rec.ID, outsider)
	assert.ErrorIs(t, err, record.ErrRecordNotFound, "cross-workspace access must look like not-found")
}

func TestWriteAuditFailureAbortsOperation(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	f.audit.mu.Lock()
	f.audit.failErr = context.DeadlineExceeded
	f.audit.mu.Unlock()

	_, err := f.svc.SaveDraft(context.Background(), rec.ID,
		record.NotePatch{Plan: strptr("x")}, 1, f.actor)
	assert.Error(t, err, "a mutation with no audit trail must not report success")
}

func TestReadSurvivesAuditFailure(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	f.audit.mu.Lock()
	f.audit.failErr = context.DeadlineExceeded
	f.audit.mu.Unlock()

	got, err := f.svc.Read(context.Background(), rec.ID, f.actor)
	require.NoError(t, err, "reads fail open on audit errors")
	assert.Equal(t, fullNote(), got.Note)
}

func TestAutosaveScopeKeyPassedToLimiter(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, fullNote())

	_, err := f.svc.SaveDraft(context.Background(), rec.ID,
		record.NotePatch{Plan: strptr("x")}, 1, f.actor)
	require.NoError(t, err)

	f.limiter.mu.Lock()
	defer f.limiter.mu.Unlock()
	require.Len(t, f.limiter.calls, 1)
	assert.Equal(t, "draft_autosave:"+f.actor.UserID.String()+":"+rec.ID.String(), f.limiter.calls[0])
}

// TestFullLifecycleScenario walks the canonical path: create, two autosaves,
// finalize, amend, soft delete, restore.
func TestFullLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.create(t, fullNote())
	require.Equal(t, 1, rec.Version)

	_, err := f.svc.SaveDraft(ctx, rec.ID, record.NotePatch{Subjective: strptr("updated subjective")}, 1, f.actor)
	require.NoError(t, err)
	_, err = f.svc.SaveDraft(ctx, rec.ID, record.NotePatch{Objective: strptr("updated objective")}, 2, f.actor)
	require.NoError(t, err)

	finalized, err := f.svc.Finalize(ctx, rec.ID, 3, f.actor)
	require.NoError(t, err)
	require.Equal(t, 4, finalized.Version)

	amended, err := f.svc.Amend(ctx, rec.ID, record.NotePatch{Plan: strptr("amended plan")}, 4, f.actor)
	require.NoError(t, err)
	require.Equal(t, 5, amended.Version)
	require.Equal(t, 1, amended.AmendmentCount)

	_, err = f.svc.SoftDelete(ctx, rec.ID, "entered against wrong client", f.actor)
	require.NoError(t, err)

	final, err := f.svc.Restore(ctx, rec.ID, f.actor)
	require.NoError(t, err)

	assert.Equal(t, 6, final.Version)
	assert.Equal(t, 1, final.AmendmentCount)
	assert.NotNil(t, final.FinalizedAt, "restore never reverts finalization")
	assert.Equal(t, "updated subjective", final.Note.Subjective)
	assert.Equal(t, "amended plan", final.Note.Plan)

	snaps, err := f.vers.ListByRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 4, snaps[0].Version)
	assert.Equal(t, 5, snaps[1].Version)
}
