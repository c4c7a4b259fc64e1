package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chartkeep/api/internal/domain"
)

type AuditRepository interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
}

// AuditEntry is the service-level shape of an audit event before
// sanitization and persistence.
type AuditEntry struct {
	Actor    domain.Actor
	Action   domain.AuditAction
	RecordID uuid.UUID
	Metadata map[string]any
}

// sensitiveMetadataKeys are substrings that mark a metadata key as possible
// note content. Anything matching is dropped before the event is stored;
// the audit trail carries identifiers and counts, never clinical text.
var sensitiveMetadataKeys = []string{
	"subjective", "objective", "assessment", "plan",
	"note", "content", "body", "text", "field",
}

func sanitizeMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	clean := make(map[string]any, len(metadata))
	for key, value := range metadata {
		lower := strings.ToLower(key)
		blocked := false
		for _, marker := range sensitiveMetadataKeys {
			if strings.Contains(lower, marker) {
				blocked = true
				break
			}
		}
		if !blocked {
			clean[key] = value
		}
	}
	return clean
}

// AuditService writes the access trail for session records.
//
// Mutations audit synchronously and fail closed: an unaudited write is worse
// than a failed one, so repository errors abort the business operation.
// Reads audit through a buffered background worker and fail open: a read must
// not block on the audit sink, but drops are logged and counted.
type AuditService struct {
	repo    AuditRepository
	log     *zap.Logger
	entries chan *domain.AuditEvent
	done    chan struct{}
}

const auditBufferSize = 10_000

func NewAuditService(repo AuditRepository, log *zap.Logger) *AuditService {
	svc := &AuditService{
		repo:    repo,
		log:     log,
		entries: make(chan *domain.AuditEvent, auditBufferSize),
		done:    make(chan struct{}),
	}
	go svc.worker()
	return svc
}

func (s *AuditService) event(entry AuditEntry) (*domain.AuditEvent, error) {
	event := &domain.AuditEvent{
		ActorID:      entry.Actor.UserID,
		ActorRole:    entry.Actor.Role,
		WorkspaceID:  entry.Actor.WorkspaceID,
		Action:       entry.Action,
		ResourceType: "session_record",
		RecordID:     entry.RecordID,
	}

	if clean := sanitizeMetadata(entry.Metadata); clean != nil {
		raw, err := json.Marshal(clean)
		if err != nil {
			return nil, fmt.Errorf("encoding audit metadata: %w", err)
		}
		event.Metadata = string(raw)
	}
	return event, nil
}

// Record persists one audit event synchronously. Used on every mutation;
// the caller must abort its operation if this fails.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) error {
	event, err := s.event(entry)
	if err != nil {
		return err
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// RecordAsync enqueues an audit event for background persistence. Used on
// the read path only. If the buffer is full the entry is dropped with a
// warning rather than blocking the read.
func (s *AuditService) RecordAsync(entry AuditEntry) {
	event, err := s.event(entry)
	if err != nil {
		s.log.Error("failed to encode audit event", zap.Error(err))
		return
	}

	select {
	case s.entries <- event:
	default:
		s.log.Warn("audit buffer full, dropping read event",
			zap.String("action", string(entry.Action)),
			zap.String("record_id", entry.RecordID.String()),
		)
	}
}

func (s *AuditService) Shutdown() {
	close(s.entries)
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.log.Warn("audit service shutdown timed out; some read events may be lost")
	}
}

func (s *AuditService) worker() {
	defer close(s.done)
	for event := range s.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Create(ctx, event); err != nil {
			s.log.Error("failed to persist read audit event", zap.Error(err))
		}
		cancel()
	}
}
