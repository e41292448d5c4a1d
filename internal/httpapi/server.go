package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/apperrors"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/caller"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/usecase"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/utils"
)

// callerIDHeader carries the caller identity resolved by the API gateway in
// front of this service.
const callerIDHeader = "X-Caller-ID"

// Server exposes the dead letter API plus health and metrics endpoints.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger
	ingest     *usecase.IngestService
	replay     *usecase.ReplayService
	readyCheck func(ctx context.Context) error
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the API server. readyCheck may be nil when no dependency
// probing is wanted.
func NewServer(port string, log *zap.Logger, ingest *usecase.IngestService, replay *usecase.ReplayService, readyCheck func(ctx context.Context) error) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		},
		mux:        mux,
		logger:     log,
		ingest:     ingest,
		replay:     replay,
		readyCheck: readyCheck,
	}

	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)
	mux.HandleFunc("/replayDeadLetter", server.withRequestContext(server.handleReplay))
	mux.HandleFunc("/listDeadLetters", server.withRequestContext(server.handleList))
	mux.HandleFunc("/getDeadLetter", server.withRequestContext(server.handleGet))
	mux.HandleFunc("/deleteDeadLetter", server.withRequestContext(server.handleDelete))

	return server
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

// Start begins the HTTP server
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

// withRequestContext attaches a request id and request-scoped logger before
// the handler runs.
func (s *Server) withRequestContext(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := caller.WithRequestID(r.Context(), requestID)
		ctx = logger.WithLogger(ctx, s.logger.With(
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
		))
		next(w, r.WithContext(ctx))
	}
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "UP",
		Version: "1.0.0",
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReady handles the /ready endpoint for readiness probes
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.readyCheck != nil {
		if err := s.readyCheck(r.Context()); err != nil {
			utils.WriteJSONResponse(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "NOT_READY",
				Details: map[string]string{
					"error": err.Error(),
				},
			})
			return
		}
	}

	resp := HealthResponse{
		Status: "READY",
		Details: map[string]string{
			"timestamp": utils.FormatISO8601(utils.Now()),
		},
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReplay handles POST /replayDeadLetter.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req usecase.ReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	callerID := r.Header.Get(callerIDHeader)
	updated, err := s.replay.Replay(r.Context(), callerID, &req)
	if err != nil {
		s.writeDomainError(r.Context(), w, err)
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, updated)
}

// handleList handles GET /listDeadLetters.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := r.URL.Query().Get("status")
	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	letters, err := s.ingest.ListDeadLetters(r.Context(), status, limit)
	if err != nil {
		s.writeDomainError(r.Context(), w, err)
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, letters)
}

// handleGet handles GET /getDeadLetter?id=.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	letter, err := s.ingest.GetDeadLetter(r.Context(), id)
	if err != nil {
		s.writeDomainError(r.Context(), w, err)
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, letter)
}

// handleDelete handles DELETE /deleteDeadLetter?id=. Administrative operation;
// gated by the replay permission since both mutate the queue of captured work.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	callerID := r.Header.Get(callerIDHeader)
	if err := s.replay.AuthorizeReplay(r.Context(), callerID); err != nil {
		s.writeDomainError(r.Context(), w, err)
		return
	}

	if err := s.ingest.DeleteDeadLetter(r.Context(), id); err != nil {
		s.writeDomainError(r.Context(), w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps application errors to HTTP status codes. Caller-facing
// bodies carry the plain message only; diagnostic context stays in the logs.
func (s *Server) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logger.FromContext(ctx)

	switch {
	case apperrors.IsUnauthorizedError(err):
		writeError(w, http.StatusForbidden, err.Error())
	case apperrors.IsValidationError(err) || apperrors.IsBadRequestError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case apperrors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case apperrors.IsStaleVersionError(err) || apperrors.IsNoModificationError(err) || apperrors.IsDuplicateError(err):
		writeError(w, http.StatusConflict, err.Error())
	case apperrors.IsConfigurationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	utils.WriteJSONResponse(w, statusCode, errorResponse{Error: message})
}
