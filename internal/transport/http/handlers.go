package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"changegate/internal/domain"
	"changegate/internal/sod"
	dErrors "changegate/pkg/domain-errors"
)

// Pipeline is the engine surface the transport consumes.
type Pipeline interface {
	Run(ctx context.Context, population []domain.ChangeRecord) ([]domain.Verdict, error)
}

// AuditQuerier exposes the per-change audit timeline.
type AuditQuerier interface {
	Query(ctx context.Context, id domain.ChangeID) ([]domain.AuditEvent, error)
}

// ExceptionService exposes reviewer operations.
type ExceptionService interface {
	Justify(ctx context.Context, exceptionID, reviewerID, text string) (*domain.Exception, error)
	ListByChange(ctx context.Context, id domain.ChangeID) ([]*domain.Exception, error)
}

// SodDetector runs segregation-of-duties checks over a population.
type SodDetector interface {
	Detect(ctx context.Context, population []domain.ChangeRecord) ([]sod.Report, error)
}

type Handler struct {
	pipeline   Pipeline
	audit      AuditQuerier
	exceptions ExceptionService
	sod        SodDetector
	logger     *slog.Logger
}

func NewHandler(pipeline Pipeline, audit AuditQuerier, exceptions ExceptionService, detector SodDetector, logger *slog.Logger) *Handler {
	return &Handler{
		pipeline:   pipeline,
		audit:      audit,
		exceptions: exceptions,
		sod:        detector,
		logger:     logger,
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runRequest struct {
	Population []changeRecordPayload `json:"population"`
}

type changeRecordPayload struct {
	ChangeID      string    `json:"change_id"`
	ChangeWI      string    `json:"change_wi"`
	CILink        string    `json:"ci_link"`
	AssetName     string    `json:"asset_name,omitempty"`
	ChangeType    string    `json:"change_type,omitempty"`
	RiskRating    string    `json:"risk_rating,omitempty"`
	RequestorID   string    `json:"requestor_id,omitempty"`
	DeveloperID   string    `json:"developer_id,omitempty"`
	ImplementedAt time.Time `json:"implemented_at,omitempty"`
}

// decodePopulation reads the shared {"population": [...]} request body used
// by the validation and sod endpoints.
func decodePopulation(r *http.Request) ([]domain.ChangeRecord, error) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	if len(req.Population) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "population is empty")
	}

	population := make([]domain.ChangeRecord, 0, len(req.Population))
	for _, p := range req.Population {
		population = append(population, domain.ChangeRecord{
			ID:            domain.ChangeID(p.ChangeID),
			ChangeWI:      p.ChangeWI,
			CILink:        p.CILink,
			AssetName:     p.AssetName,
			ChangeType:    p.ChangeType,
			RiskRating:    p.RiskRating,
			RequestorID:   p.RequestorID,
			DeveloperID:   p.DeveloperID,
			ImplementedAt: p.ImplementedAt,
		})
	}
	return population, nil
}

type verdictPayload struct {
	ChangeID   string           `json:"change_id"`
	Status     string           `json:"overall_status"`
	Outcomes   []outcomePayload `json:"ordered_outcomes"`
	ComputedAt time.Time        `json:"computed_at"`
}

type outcomePayload struct {
	RuleName    string    `json:"rule_name"`
	Passed      bool      `json:"passed"`
	ReasonCode  string    `json:"reason_code,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// HandleRun validates a population and returns one verdict per change.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	population, err := decodePopulation(r)
	if err != nil {
		writeError(w, err)
		return
	}

	verdicts, err := h.pipeline.Run(r.Context(), population)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "population run failed", "error", err)
		writeError(w, err)
		return
	}

	out := make([]verdictPayload, 0, len(verdicts))
	for _, v := range verdicts {
		vp := verdictPayload{
			ChangeID:   string(v.ChangeID),
			Status:     string(v.Status),
			ComputedAt: v.ComputedAt,
		}
		for _, o := range v.Outcomes {
			vp.Outcomes = append(vp.Outcomes, outcomePayload{
				RuleName:    o.RuleName,
				Passed:      o.Passed,
				ReasonCode:  string(o.ReasonCode),
				EvaluatedAt: o.EvaluatedAt,
			})
		}
		out = append(out, vp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"verdicts": out})
}

type sodFindingPayload struct {
	SharedID string   `json:"shared_id"`
	Roles    []string `json:"roles"`
}

type sodReportPayload struct {
	ChangeID string              `json:"change_id"`
	Status   string              `json:"status"`
	Reason   string              `json:"reason,omitempty"`
	Findings []sodFindingPayload `json:"findings,omitempty"`
}

// HandleSodRun runs the segregation-of-duties check over a population and
// returns one report per change.
func (h *Handler) HandleSodRun(w http.ResponseWriter, r *http.Request) {
	population, err := decodePopulation(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reports, err := h.sod.Detect(r.Context(), population)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sod detection failed", "error", err)
		writeError(w, err)
		return
	}

	out := make([]sodReportPayload, 0, len(reports))
	for _, rep := range reports {
		rp := sodReportPayload{
			ChangeID: string(rep.ChangeID),
			Status:   string(rep.Status),
			Reason:   rep.Reason,
		}
		for _, f := range rep.Findings {
			rp.Findings = append(rp.Findings, sodFindingPayload{
				SharedID: f.SharedID,
				Roles:    f.Roles,
			})
		}
		out = append(out, rp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

type auditEventPayload struct {
	ChangeID  string            `json:"change_id"`
	Step      string            `json:"step_name"`
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	Seq       uint64            `json:"seq"`
	Details   map[string]string `json:"details,omitempty"`
}

// HandleAuditQuery returns the full ordered timeline for one change.
func (h *Handler) HandleAuditQuery(w http.ResponseWriter, r *http.Request) {
	changeID := domain.ChangeID(chi.URLParam(r, "changeID"))
	if changeID == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "change id is required"))
		return
	}

	events, err := h.audit.Query(r.Context(), changeID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]auditEventPayload, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventPayload{
			ChangeID:  string(e.ChangeID),
			Step:      string(e.Step),
			Action:    string(e.Action),
			Timestamp: e.Timestamp,
			Seq:       e.Seq,
			Details:   e.Details,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type exceptionPayload struct {
	ID             string     `json:"id"`
	ChangeID       string     `json:"change_id"`
	RuleName       string     `json:"rule_name"`
	ReasonCode     string     `json:"reason_code"`
	Status         string     `json:"status"`
	Recommendation *string    `json:"recommendation"`
	Justification  *string    `json:"justification"`
	JustifiedBy    *string    `json:"justified_by,omitempty"`
	RaisedAt       time.Time  `json:"raised_at"`
	JustifiedAt    *time.Time `json:"justified_at,omitempty"`
}

func toExceptionPayload(exc *domain.Exception) exceptionPayload {
	return exceptionPayload{
		ID:             exc.ID,
		ChangeID:       string(exc.ChangeID),
		RuleName:       exc.RuleName,
		ReasonCode:     string(exc.ReasonCode),
		Status:         string(exc.Status),
		Recommendation: exc.Recommendation,
		Justification:  exc.Justification,
		JustifiedBy:    exc.JustifiedBy,
		RaisedAt:       exc.RaisedAt,
		JustifiedAt:    exc.JustifiedAt,
	}
}

// HandleListExceptions returns all exceptions raised for a change.
func (h *Handler) HandleListExceptions(w http.ResponseWriter, r *http.Request) {
	changeID := domain.ChangeID(chi.URLParam(r, "changeID"))
	if changeID == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "change id is required"))
		return
	}

	excs, err := h.exceptions.ListByChange(r.Context(), changeID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]exceptionPayload, 0, len(excs))
	for _, exc := range excs {
		out = append(out, toExceptionPayload(exc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"exceptions": out})
}

type justifyRequest struct {
	Justification string `json:"justification"`
}

// HandleJustify closes an open exception with the reviewer's text.
func (h *Handler) HandleJustify(w http.ResponseWriter, r *http.Request) {
	exceptionID := chi.URLParam(r, "exceptionID")
	if exceptionID == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "exception id is required"))
		return
	}

	var req justifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	exc, err := h.exceptions.Justify(r.Context(), exceptionID, ReviewerID(r.Context()), req.Justification)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExceptionPayload(exc))
}
