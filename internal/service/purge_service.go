package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chartkeep/api/internal/domain"
	"github.com/chartkeep/api/internal/domain/record"
	"github.com/chartkeep/api/pkg/metrics"
)

// HitPruner lets the sweep piggyback rate-limiter housekeeping on its
// interval. Satisfied by ratelimit.Limiter.
type HitPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// PurgeService permanently erases soft-deleted records whose grace period has
// elapsed. It runs independently of request traffic on a fixed interval.
//
// Ordering inside the sweep is audit, then snapshots, then the record row.
// If the process dies mid-batch the worst case is an audited record that
// still exists, which the next sweep finishes; the trail is never lost.
type PurgeService struct {
	repo      record.Repository
	versions  record.VersionRepository
	audit     *AuditService
	pruner    HitPruner
	interval  time.Duration
	batchSize int
	log       *zap.Logger
	collector *metrics.Collector
	now       func() time.Time
	stop      chan struct{}
	done      chan struct{}
}

const defaultPurgeBatchSize = 500

func NewPurgeService(
	repo record.Repository,
	versions record.VersionRepository,
	audit *AuditService,
	pruner HitPruner,
	interval time.Duration,
	batchSize int,
	collector *metrics.Collector,
	log *zap.Logger,
) *PurgeService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = defaultPurgeBatchSize
	}
	return &PurgeService{
		repo:      repo,
		versions:  versions,
		audit:     audit,
		pruner:    pruner,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
		collector: collector,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the interval loop. Call Shutdown to stop it.
func (s *PurgeService) Start() {
	go s.loop()
}

func (s *PurgeService) Shutdown() {
	close(s.stop)
	select {
	case <-s.done:
	case <-time.After(30 * time.Second):
		s.log.Warn("purge service shutdown timed out")
	}
}

func (s *PurgeService) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("purge sweep failed", zap.Error(err))
			}
			if s.pruner != nil {
				if _, err := s.pruner.Prune(ctx); err != nil {
					s.log.Warn("pruning rate limiter hits failed", zap.Error(err))
				}
			}
			cancel()
		}
	}
}

// Sweep purges every record past its grace period and returns how many were
// erased. Idempotent: a second run right after finds nothing left to purge,
// and two sweeps racing over the same row resolve through the row's version
// compare-and-swap just like user writes do.
func (s *PurgeService) Sweep(ctx context.Context) (int, error) {
	recs, err := s.repo.ListPurgeable(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, rec := range recs {
		if err := s.purgeOne(ctx, rec); err != nil {
			if errors.Is(err, record.ErrRecordNotFound) || errors.Is(err, record.ErrVersionConflict) {
				// Another sweep or a late restore won the race; skip.
				continue
			}
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		s.collector.RecordsPurged(purged)
		s.log.Info("purge sweep completed", zap.Int("purged", purged))
	}
	return purged, nil
}

func (s *PurgeService) purgeOne(ctx context.Context, rec *record.Record) error {
	// Audit before anything is removed. An audit failure leaves the record
	// untouched for the next sweep.
	if err := s.audit.Record(ctx, AuditEntry{
		Actor:    domain.System,
		Action:   domain.ActionDelete,
		RecordID: rec.ID,
		Metadata: map[string]any{
			"permanent":        true,
			"final_version":    rec.Version,
			"amendment_count":  rec.AmendmentCount,
			"attachment_count": rec.AttachmentCount,
		},
	}); err != nil {
		return err
	}

	if err := s.versions.DeleteByRecord(ctx, rec.ID); err != nil {
		return err
	}

	return s.repo.HardDelete(ctx, rec.ID, rec.Version)
}
