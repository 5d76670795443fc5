// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rafaelmp/comexflow/internal/auth"
	"github.com/rafaelmp/comexflow/internal/domain"
	"github.com/rafaelmp/comexflow/internal/metrics"
	"github.com/rafaelmp/comexflow/internal/transport/middleware"
)

type startWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
}

type cancelWorkflowRequest struct {
	Reason string `json:"reason"`
}

type createApprovalRequest struct {
	Comments string `json:"comments"`
}

type resolveApprovalRequest struct {
	Comments   string         `json:"comments"`
	Attributes map[string]any `json:"attributes"`
}

type Deps struct {
	Service           WorkflowService
	Definitions       DefinitionAdmin
	EventRepo         EventStreamer
	Health            HealthChecker
	Logger            *slog.Logger
	AdminToken        string
	AuthSecret        string
	RequestsPerMinute int
	Version           string
	Commit            string
	BuildDate         string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	requestsPerMinute := deps.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- WORKFLOW DEFINITIONS (ADMIN) ----------------

	if deps.Definitions != nil {
		r.Route("/workflows", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var def domain.WorkflowDefinition
				if err := decodeJSONBody(r, &def); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				if err := deps.Definitions.RegisterWorkflow(r.Context(), def); err != nil {
					respondError(w, logger, err, "failed to register workflow",
						"workflow_id", def.ID)
					return
				}

				writeJSON(w, http.StatusCreated, map[string]string{
					"workflow_id": def.ID,
				})
			})

			admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{
					"workflows": deps.Definitions.ListWorkflows(),
				})
			})
		})
	}

	// ---------------- PROCESS WORKFLOWS (ACTOR AUTH) ----------------

	r.Group(func(r chi.Router) {
		if deps.AuthSecret != "" {
			r.Use(middleware.ActorTokenAuth(deps.AuthSecret, requestsPerMinute, logger))
		}

		// ---------------- START WORKFLOW ----------------

		r.Post("/processes/{processID}/workflow", func(w http.ResponseWriter, r *http.Request) {
			processID := chi.URLParam(r, "processID")

			var reqBody startWorkflowRequest
			if err := decodeJSONBody(r, &reqBody); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if strings.TrimSpace(reqBody.WorkflowID) == "" {
				http.Error(w, "workflow_id is required", http.StatusBadRequest)
				return
			}

			pw, err := deps.Service.StartWorkflow(r.Context(), processID, reqBody.WorkflowID)
			if err != nil {
				respondError(w, logger, err, "failed to start workflow",
					"process_id", processID, "workflow_id", reqBody.WorkflowID)
				return
			}

			logger.Info("workflow started via API",
				"process_id", processID,
				"workflow_id", reqBody.WorkflowID,
			)

			writeJSON(w, http.StatusCreated, pw)
		})

		// ---------------- GET WORKFLOW ----------------

		r.Get("/processes/{processID}/workflow", func(w http.ResponseWriter, r *http.Request) {
			processID := chi.URLParam(r, "processID")

			pw, found, err := deps.Service.GetWorkflowForProcess(r.Context(), processID)
			if err != nil {
				respondError(w, logger, err, "failed to get workflow", "process_id", processID)
				return
			}
			if !found {
				http.Error(w, "no workflow for process", http.StatusNotFound)
				return
			}

			writeJSON(w, http.StatusOK, pw)
		})

		// ---------------- GET CURRENT STEP ----------------

		r.Get("/processes/{processID}/workflow/step", func(w http.ResponseWriter, r *http.Request) {
			processID := chi.URLParam(r, "processID")

			step, err := deps.Service.CurrentStep(r.Context(), processID)
			if err != nil {
				respondError(w, logger, err, "failed to get current step", "process_id", processID)
				return
			}

			writeJSON(w, http.StatusOK, step)
		})

		// ---------------- CANCEL WORKFLOW ----------------

		r.Post("/processes/{processID}/workflow/cancel", func(w http.ResponseWriter, r *http.Request) {
			processID := chi.URLParam(r, "processID")

			var reqBody cancelWorkflowRequest
			if err := decodeJSONBody(r, &reqBody); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			if err := deps.Service.Cancel(r.Context(), processID, reqBody.Reason); err != nil {
				respondError(w, logger, err, "failed to cancel workflow", "process_id", processID)
				return
			}

			logger.Info("workflow cancelled via API", "process_id", processID)

			writeJSON(w, http.StatusOK, map[string]string{
				"process_id": processID,
				"status":     string(domain.ProcessCancelled),
			})
		})

		// ---------------- CREATE APPROVAL REQUEST ----------------

		r.Post("/processes/{processID}/requests", func(w http.ResponseWriter, r *http.Request) {
			processID := chi.URLParam(r, "processID")

			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			var reqBody createApprovalRequest
			if err := decodeJSONBody(r, &reqBody); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			req, err := deps.Service.CreateApprovalRequest(r.Context(), domain.CreateRequestParams{
				ProcessID:     processID,
				RequesterID:   actor.ID,
				RequesterRole: actor.Role,
				Comments:      reqBody.Comments,
			})
			if err != nil {
				respondError(w, logger, err, "failed to create approval request",
					"process_id", processID, "requester_id", actor.ID)
				return
			}

			logger.Info("approval request created via API",
				"request_id", req.ID,
				"process_id", processID,
				"step_id", req.StepID,
			)

			writeJSON(w, http.StatusCreated, req)
		})

		// ---------------- APPROVE REQUEST ----------------

		r.Post("/requests/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
			requestID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid request ID", http.StatusBadRequest)
				return
			}

			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			var reqBody resolveApprovalRequest
			if err := decodeJSONBody(r, &reqBody); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			if err := deps.Service.Approve(r.Context(), requestID, actor.ID, reqBody.Comments, reqBody.Attributes); err != nil {
				respondError(w, logger, err, "failed to approve request", "request_id", requestID)
				return
			}

			logger.Info("approval request approved via API",
				"request_id", requestID,
				"responder_id", actor.ID,
			)

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     requestID.String(),
				"status": string(domain.ApprovalApproved),
			})
		})

		// ---------------- REJECT REQUEST ----------------

		r.Post("/requests/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
			requestID, err := uuid.Parse(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "invalid request ID", http.StatusBadRequest)
				return
			}

			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			var reqBody resolveApprovalRequest
			if err := decodeJSONBody(r, &reqBody); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			if err := deps.Service.Reject(r.Context(), requestID, actor.ID, reqBody.Comments); err != nil {
				respondError(w, logger, err, "failed to reject request", "request_id", requestID)
				return
			}

			logger.Info("approval request rejected via API",
				"request_id", requestID,
				"responder_id", actor.ID,
			)

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     requestID.String(),
				"status": string(domain.ApprovalRejected),
			})
		})

		// ---------------- APPROVAL HISTORY ----------------

		r.Get("/processes/{processID}/history", func(w http.ResponseWriter, r *http.Request) {
			processID := chi.URLParam(r, "processID")

			history, err := deps.Service.GetApprovalHistory(r.Context(), processID)
			if err != nil {
				respondError(w, logger, err, "failed to get approval history", "process_id", processID)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				ProcessID string                   `json:"process_id"`
				Requests  []domain.ApprovalRequest `json:"requests"`
			}{
				ProcessID: processID,
				Requests:  history,
			})
		})

		// ---------------- PENDING APPROVALS ----------------

		r.Get("/approvals/pending", func(w http.ResponseWriter, r *http.Request) {
			role := strings.TrimSpace(r.URL.Query().Get("role"))
			if role == "" {
				actor, ok := auth.ActorFromContext(r.Context())
				if !ok || actor.Role == "" {
					http.Error(w, "role is required", http.StatusBadRequest)
					return
				}
				role = actor.Role
			}

			pending, err := deps.Service.GetPendingApprovalsForRole(r.Context(), role)
			if err != nil {
				respondError(w, logger, err, "failed to list pending approvals", "role", role)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				Role     string                   `json:"role"`
				Requests []domain.ApprovalRequest `json:"requests"`
			}{
				Role:     role,
				Requests: pending,
			})
		})

		// ---------------- STREAM EVENTS (SSE) ----------------

		r.Get("/processes/{processID}/events", func(w http.ResponseWriter, r *http.Request) {
			processID := chi.URLParam(r, "processID")

			if _, found, err := deps.Service.GetWorkflowForProcess(r.Context(), processID); err != nil {
				respondError(w, logger, err, "failed to stream events", "process_id", processID)
				return
			} else if !found {
				http.Error(w, "no workflow for process", http.StatusNotFound)
				return
			}

			if deps.EventRepo == nil {
				logger.Error("sse events repository is not configured")
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			cursor, err := parseEventsCursor(r.URL.Query().Get("since_seq"))
			if err != nil {
				http.Error(w, "invalid since_seq", http.StatusBadRequest)
				return
			}

			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, "streaming unsupported", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()

			writeEvents := func() error {
				events, err := deps.EventRepo.ListEvents(r.Context(), processID, cursor)
				if err != nil {
					return err
				}

				for _, ev := range events {
					payload, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintf(w, "event: workflow_event\ndata: %s\n\n", payload); err != nil {
						return err
					}
					flusher.Flush()
					cursor = ev.Seq
				}

				return nil
			}

			if err := writeEvents(); err != nil {
				logger.Error("sse initial write failed", "process_id", processID, "error", err)
				return
			}

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()

			for {
				select {
				case <-r.Context().Done():
					return
				case <-ticker.C:
					if err := writeEvents(); err != nil {
						logger.Error("sse write failed", "process_id", processID, "error", err)
						return
					}
				}
			}
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps the engine's error kinds onto HTTP statuses. Unknown
// errors are logged and hidden behind a generic 500.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error, logMsg string, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrUnavailable):
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", "1")
		}
		http.Error(w, "storage temporarily unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error(logMsg, append(attrs, "error", err)...)
		http.Error(w, logMsg, http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes exactly one JSON object into v. An empty body leaves
// v zero-valued.
func decodeJSONBody(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}

	return nil
}

func parseEventsCursor(since string) (int64, error) {
	since = strings.TrimSpace(since)
	if since == "" {
		return 0, nil
	}

	seq, err := strconv.ParseInt(since, 10, 64)
	if err != nil || seq < 0 {
		return 0, errors.New("invalid since_seq")
	}
	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
