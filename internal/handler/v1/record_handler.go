package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chartkeep/api/internal/domain/record"
	"github.com/chartkeep/api/internal/service"
)

type RecordHandler struct {
	svc *service.RecordService
}

func NewRecordHandler(svc *service.RecordService) *RecordHandler {
	return &RecordHandler{svc: svc}
}

type noteBody struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

type createRecordRequest struct {
	ClientID      uuid.UUID  `json:"client_id" binding:"required"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	SessionDate   time.Time  `json:"session_date" binding:"required"`
	Note          noteBody   `json:"note"`
}

type recordResponse struct {
	ID                   uuid.UUID  `json:"id"`
	ClientID             uuid.UUID  `json:"client_id"`
	AppointmentID        *uuid.UUID `json:"appointment_id,omitempty"`
	SessionDate          time.Time  `json:"session_date"`
	Note                 noteBody   `json:"note"`
	IsDraft              bool       `json:"is_draft"`
	DraftLastSavedAt     *time.Time `json:"draft_last_saved_at,omitempty"`
	FinalizedAt          *time.Time `json:"finalized_at,omitempty"`
	AmendedAt            *time.Time `json:"amended_at,omitempty"`
	AmendmentCount       int        `json:"amendment_count"`
	Version              int        `json:"version"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty"`
	PermanentDeleteAfter *time.Time `json:"permanent_delete_after,omitempty"`
	AttachmentCount      int        `json:"attachment_count"`
	CreatedAt            time.Time  `json:"created_at"`
}

func toRecordResponse(rec *record.Record) recordResponse {
	return recordResponse{
		ID:            rec.ID,
		ClientID:      rec.ClientID,
		AppointmentID: rec.AppointmentID,
		SessionDate:   rec.SessionDate,
		Note: noteBody{
			Subjective: rec.Note.Subjective,
			Objective:  rec.Note.Objective,
			Assessment: rec.Note.Assessment,
			Plan:       rec.Note.Plan,
		},
		IsDraft:              rec.IsDraft,
		DraftLastSavedAt:     rec.DraftLastSavedAt,
		FinalizedAt:          rec.FinalizedAt,
		AmendedAt:            rec.AmendedAt,
		AmendmentCount:       rec.AmendmentCount,
		Version:              rec.Version,
		DeletedAt:            rec.DeletedAt,
		PermanentDeleteAfter: rec.PermanentDeleteAfter,
		AttachmentCount:      rec.AttachmentCount,
		CreatedAt:            rec.CreatedAt,
	}
}

func (h *RecordHandler) Create(c *gin.Context) {
	var req createRecordRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := actorFrom(c)
	rec, err := h.svc.Create(c.Request.Context(), &record.CreateRecordCommand{
		WorkspaceID:   actor.WorkspaceID,
		ClientID:      req.ClientID,
		AppointmentID: req.AppointmentID,
		SessionDate:   req.SessionDate,
		Note: record.Note{
			Subjective: req.Note.Subjective,
			Objective:  req.Note.Objective,
			Assessment: req.Note.Assessment,
			Plan:       req.Note.Plan,
		},
	}, actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, toRecordResponse(rec))
}

func (h *RecordHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	rec, err := h.svc.Read(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toRecordResponse(rec))
}

type saveDraftRequest struct {
	Note            record.NotePatch `json:"note"`
	ExpectedVersion int              `json:"expected_version" binding:"required"`
}

func (h *RecordHandler) SaveDraft(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req saveDraftRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.svc.SaveDraft(c.Request.Context(), id, req.Note, req.ExpectedVersion, actorFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toRecordResponse(rec))
}

type finalizeRequest struct {
	ExpectedVersion int `json:"expected_version" binding:"required"`
}

func (h *RecordHandler) Finalize(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req finalizeRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.svc.Finalize(c.Request.Context(), id, req.ExpectedVersion, actorFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toRecordResponse(rec))
}

type amendRequest struct {
	Note            record.NotePatch `json:"note"`
	ExpectedVersion int              `json:"expected_version" binding:"required"`
}

func (h *RecordHandler) Amend(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req amendRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.svc.Amend(c.Request.Context(), id, req.Note, req.ExpectedVersion, actorFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toRecordResponse(rec))
}

type deleteRequest struct {
	Reason string `json:"reason"`
}

func (h *RecordHandler) SoftDelete(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	// The reason is optional; a bare DELETE is fine.
	var req deleteRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	rec, err := h.svc.SoftDelete(c.Request.Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toRecordResponse(rec))
}

func (h *RecordHandler) Restore(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	rec, err := h.svc.Restore(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, toRecordResponse(rec))
}

type versionResponse struct {
	Version   int       `json:"version"`
	Note      noteBody  `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *RecordHandler) ListVersions(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	versions, err := h.svc.ListVersions(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionResponse{
			Version: v.Version,
			Note: noteBody{
				Subjective: v.Note.Subjective,
				Objective:  v.Note.Objective,
				Assessment: v.Note.Assessment,
				Plan:       v.Note.Plan,
			},
			CreatedAt: v.CreatedAt,
		})
	}

	respondOK(c, out)
}
