package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chartkeep/api/internal/domain"
	"github.com/chartkeep/api/internal/domain/record"
)

func newPurgeFixture(t *testing.T) (*PurgeService, *fixture) {
	t.Helper()
	f := newFixture(t)

	auditSvc := NewAuditService(f.audit, zap.NewNop())
	t.Cleanup(auditSvc.Shutdown)

	purge := NewPurgeService(f.repo, f.vers, auditSvc, nil, time.Hour, 100, nil, zap.NewNop())
	return purge, f
}

// expireDeletion rewinds a record's grace deadline so the sweep sees it.
func expireDeletion(t *testing.T, f *fixture, rec *record.Record) {
	t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	stored := f.repo.records[rec.ID]
	past := time.Now().Add(-time.Hour)
	stored.PermanentDeleteAfter = &past
}

func TestSweepPurgesExpiredRecords(t *testing.T) {
	purge, f := newPurgeFixture(t)
	ctx := context.Background()

	rec := f.create(t, fullNote())
	_, err := f.svc.Finalize(ctx, rec.ID, 1, f.actor)
	require.NoError(t, err)
	_, err = f.svc.SoftDelete(ctx, rec.ID, "client requested erasure", f.actor)
	require.NoError(t, err)
	expireDeletion(t, f, rec)

	count, err := purge.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = f.repo.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, record.ErrRecordNotFound)

	snaps, err := f.vers.ListByRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, snaps, "snapshots cascade with the purge")

	deletes := f.audit.byAction(domain.ActionDelete)
	require.Len(t, deletes, 2, "one soft-delete event, one permanent purge event")

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(deletes[1].Metadata), &meta))
	assert.Equal(t, true, meta["permanent"])
}

func TestSweepIsIdempotent(t *testing.T) {
	purge, f := newPurgeFixture(t)
	ctx := context.Background()

	rec := f.create(t, fullNote())
	_, err := f.svc.SoftDelete(ctx, rec.ID, "stale draft", f.actor)
	require.NoError(t, err)
	expireDeletion(t, f, rec)

	first, err := purge.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := purge.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second, "a second sweep finds nothing to purge")

	assert.Len(t, f.audit.byAction(domain.ActionDelete), 2, "no duplicate purge events")
}

func TestSweepLeavesUnexpiredRecords(t *testing.T) {
	purge, f := newPurgeFixture(t)
	ctx := context.Background()

	rec := f.create(t, fullNote())
	_, err := f.svc.SoftDelete(ctx, rec.ID, "recent", f.actor)
	require.NoError(t, err)

	count, err := purge.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := f.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt, "still soft-deleted, still restorable")
}

func TestSweepIgnoresLiveRecords(t *testing.T) {
	purge, f := newPurgeFixture(t)
	ctx := context.Background()

	f.create(t, fullNote())

	count, err := purge.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweepAuditsBeforePurging(t *testing.T) {
	purge, f := newPurgeFixture(t)
	ctx := context.Background()

	rec := f.create(t, fullNote())
	_, err := f.svc.SoftDelete(ctx, rec.ID, "erase", f.actor)
	require.NoError(t, err)
	expireDeletion(t, f, rec)

	// At the instant the purge event is written, the row must still exist.
	f.audit.mu.Lock()
	f.audit.onCreate = func(e *domain.AuditEvent) {
		if e.Action != domain.ActionDelete {
			return
		}
		var meta map[string]any
		if e.Metadata == "" || json.Unmarshal([]byte(e.Metadata), &meta) != nil {
			return
		}
		if meta["permanent"] != true {
			return
		}
		f.repo.mu.Lock()
		_, exists := f.repo.records[rec.ID]
		f.repo.mu.Unlock()
		assert.True(t, exists, "audit must precede the hard delete")
	}
	f.audit.mu.Unlock()

	_, err = purge.Sweep(ctx)
	require.NoError(t, err)
}

func TestSweepAuditFailureLeavesRecordForNextRun(t *testing.T) {
	purge, f := newPurgeFixture(t)
	ctx := context.Background()

	rec := f.create(t, fullNote())
	_, err := f.svc.SoftDelete(ctx, rec.ID, "erase", f.actor)
	require.NoError(t, err)
	expireDeletion(t, f, rec)

	f.audit.mu.Lock()
	f.audit.failErr = context.DeadlineExceeded
	f.audit.mu.Unlock()

	_, err = purge.Sweep(ctx)
	assert.Error(t, err)

	f.audit.mu.Lock()
	f.audit.failErr = nil
	f.audit.mu.Unlock()

	got, err := f.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt, "record survives until it can be audited")

	count, err := purge.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
