package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/fleetops/orchestrator/internal/pkg/requestid"
	"github.com/fleetops/orchestrator/internal/service"
	"github.com/fleetops/orchestrator/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// CreateJob handles POST /webhook/jobs/.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID  string             `json:"external_id"`
		Signature   string             `json:"signature"`
		CommandType string             `json:"command_type"`
		Selector    domain.Selector    `json:"selector"`
		Payload     map[string]any     `json:"payload"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "external_id is required", nil)
		return
	}

	jobID, err := h.svc.CreateJob(r.Context(), domain.CreateJobInput{
		ExternalID:  req.ExternalID,
		Signature:   req.Signature,
		CommandType: domain.CommandType(req.CommandType),
		Selector:    req.Selector,
		Payload:     req.Payload,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]string{"job_id": jobID.String()})
}

// ApproveJob handles POST /jobs/{job_id}/approve/.
func (h *Handler) ApproveJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid job_id", nil)
		return
	}

	enqueued, err := h.svc.ApproveJob(r.Context(), jobID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"job_id":         jobID.String(),
		"approval_state": string(domain.ApprovalApproved),
		"enqueued":       enqueued,
	})
}

// RejectJob handles POST /jobs/{job_id}/reject/.
func (h *Handler) RejectJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid job_id", nil)
		return
	}

	job, err := h.svc.RejectJob(r.Context(), jobID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"job_id":         job.JobID.String(),
		"approval_state": string(job.ApprovalState),
		"status":         string(job.Status),
	})
}

// ListJobs handles GET /jobs/.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)

	jobs, err := h.svc.ListJobs(r.Context(), limit, offset)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": jobs})
}

// GetJob handles GET /jobs/{job_id}/.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid job_id", nil)
		return
	}

	detail, err := h.svc.GetJobDetail(r.Context(), jobID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"job_id":           detail.Job.JobID.String(),
		"external_id":      detail.Job.ExternalID,
		"command_type":     string(detail.Job.CommandType),
		"status":           string(detail.Job.Status),
		"approval_state":   string(detail.Job.ApprovalState),
		"created_at":       detail.Job.CreatedAt,
		"executions_total": detail.ExecutionsTotal,
		"summary":          string(detail.Summary),
	})
}

// ListJobExecutions handles GET /jobs/{job_id}/executions.
func (h *Handler) ListJobExecutions(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid job_id", nil)
		return
	}

	var status *domain.ExecutionStatus
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		v := domain.ExecutionStatus(s)
		status = &v
	}
	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)

	execs, err := h.svc.ListExecutions(r.Context(), jobID, status, limit, offset)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": execs})
}

// GetExecutionLogs handles GET /jobs/executions/{execution_id}/logs.
func (h *Handler) GetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "execution_id"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid execution_id", nil)
		return
	}

	logs, err := h.svc.GetExecutionLogs(r.Context(), executionID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": logs})
}

// SetHostBlocks handles PUT /hosts/{host_id}/blocks.
func (h *Handler) SetHostBlocks(w http.ResponseWriter, r *http.Request) {
	hostID, err := uuid.Parse(chi.URLParam(r, "host_id"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid host_id", nil)
		return
	}

	var req struct {
		Commands []string `json:"commands"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	commands := make([]domain.CommandType, 0, len(req.Commands))
	for _, c := range req.Commands {
		commands = append(commands, domain.CommandType(c))
	}

	set, err := h.svc.SetHostBlocks(r.Context(), hostID, commands)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	out := make([]string, 0, len(set))
	for _, c := range set {
		out = append(out, string(c))
	}
	response.Data(w, http.StatusOK, map[string]any{"host_id": hostID.String(), "commands": out})
}

// DeleteHostBlock handles DELETE /hosts/{host_id}/blocks/{command_type}.
func (h *Handler) DeleteHostBlock(w http.ResponseWriter, r *http.Request) {
	hostID, err := uuid.Parse(chi.URLParam(r, "host_id"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid host_id", nil)
		return
	}
	cmd := domain.CommandType(chi.URLParam(r, "command_type"))

	deleted, err := h.svc.DeleteHostBlock(r.Context(), hostID, cmd)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		fail(w, r, http.StatusNotFound, "job.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrExecutionNotFound):
		fail(w, r, http.StatusNotFound, "execution.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrHostNotFound):
		fail(w, r, http.StatusNotFound, "host.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrMissingHosts):
		fail(w, r, http.StatusNotFound, "hosts.missing", err.Error(), nil)
	case errors.Is(err, domain.ErrApprovalConflict):
		fail(w, r, http.StatusConflict, "approval.conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidCommandType):
		fail(w, r, http.StatusBadRequest, "command_type.invalid", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidSelector):
		fail(w, r, http.StatusBadRequest, "selector.invalid", err.Error(), nil)
	default:
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := requestid.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func parseIntParam(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
