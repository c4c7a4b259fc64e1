package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleClinician Role = "clinician"
	RoleAssistant Role = "assistant"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleClinician, RoleAssistant:
		return true
	}
	return false
}

// CanWriteRecords reports whether the role may mutate session records.
// Assistants get read-only access.
func (r Role) CanWriteRecords() bool {
	return r == RoleAdmin || r == RoleClinician
}

// Actor is the authenticated caller attached to every lifecycle operation.
// The API layer resolves it from the access token before the service is
// invoked; services trust it and scope all work to its workspace.
type Actor struct {
	UserID      uuid.UUID
	WorkspaceID uuid.UUID
	Role        Role
}

// System is the actor recorded for background work such as the purge sweep.
var System = Actor{Role: RoleAdmin}

type AuditAction string

const (
	ActionCreate  AuditAction = "create"
	ActionRead    AuditAction = "read"
	ActionUpdate  AuditAction = "update"
	ActionDelete  AuditAction = "delete"
	ActionRestore AuditAction = "restore"
)

// AuditEvent is one append-only entry in the access trail. The table has no
// foreign keys on purpose: the trail must survive the purge of the record it
// describes. Metadata is sanitized before it reaches this struct and holds
// identifiers and counts only, never note content.
type AuditEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	ActorID     uuid.UUID `gorm:"column:actor_id;type:uuid;not null;index"`
	ActorRole   Role      `gorm:"column:actor_role;type:varchar(30);not null"`
	WorkspaceID uuid.UUID `gorm:"column:workspace_id;type:uuid;not null;index"`

	Action       AuditAction `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null"`
	RecordID     uuid.UUID   `gorm:"column:record_id;type:uuid;not null;index"`

	Metadata string `gorm:"column:metadata;type:jsonb"`
}

func (AuditEvent) TableName() string {
	return "audit.events"
}

// Claims is the token payload the API layer validates. Mirrors Actor plus
// the standard identity fields.
type Claims struct {
	UserID      uuid.UUID `json:"sub"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
}
