package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/velodago/internal/application/orchestrator"
	"github.com/aescanero/velodago/internal/application/workers"
	"github.com/aescanero/velodago/pkg/adapters/interpreter/python"
	"github.com/aescanero/velodago/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// handleHealth reports the worker pool health
func (s *Server) handleHealth(c *gin.Context) {
	status := s.pool.Health().GetStatus()

	code := http.StatusOK
	overall := "healthy"
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":    overall,
		"timestamp": status.Timestamp,
		"checks": gin.H{
			"worker_pool": status,
		},
	})
}

// handleVelocity runs the pipeline synchronously and returns its result
func (s *Server) handleVelocity(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	result, err := s.orchestrator.Run(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("velocity pipeline failed", zap.Error(err))
		s.pipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleSubmitRun handles run submission
func (s *Server) handleSubmitRun(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	runID, err := s.orchestrator.Submit(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("failed to submit run", zap.Error(err))
		s.pipelineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       runID,
		Status:      string(domain.RunStatusSubmitted),
		SubmittedAt: time.Now(),
	})
}

// handleListRuns lists runs without their results
func (s *Server) handleListRuns(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	statusFilter := domain.RunStatus(c.Query("status"))

	states, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to list runs", err.Error())
		return
	}

	runs := make([]*domain.RunState, 0, len(states))
	for _, st := range states {
		if statusFilter != "" && st.Status != statusFilter {
			continue
		}
		st.Result = nil
		runs = append(runs, st)
	}

	total := len(runs)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":   runs[offset:end],
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetRun returns the full run state
func (s *Server) handleGetRun(c *gin.Context) {
	state, ok := s.loadRun(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, state)
}

// handleGetStatus handles getting run status
func (s *Server) handleGetStatus(c *gin.Context) {
	state, ok := s.loadRun(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       state.RunID,
		"status":       state.Status,
		"steps":        state.Steps,
		"error":        state.Error,
		"submitted_at": state.SubmittedAt,
		"started_at":   state.StartedAt,
		"completed_at": state.CompletedAt,
	})
}

// handleGetResult handles getting run result
func (s *Server) handleGetResult(c *gin.Context) {
	state, ok := s.loadRun(c)
	if !ok {
		return
	}

	if !state.Status.IsTerminal() {
		abortWithError(c, http.StatusConflict, "NOT_COMPLETED", "Run has not finished yet", gin.H{"status": state.Status})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       state.RunID,
		"status":       state.Status,
		"result":       state.Result,
		"error":        state.Error,
		"completed_at": state.CompletedAt,
	})
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
		abortWithError(c, http.StatusConflict, "CANCELLATION_FAILED", err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       domain.RunStatusCancelled,
		"cancelled_at": time.Now(),
	})
}

// handleListWorkers lists the execution context slots
func (s *Server) handleListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data":   s.pool.Workers(),
		"health": s.pool.Health().GetStatus(),
	})
}

func (s *Server) bindRequest(c *gin.Context) (*domain.Request, bool) {
	data, err := c.GetRawData()
	if err != nil {
		s.logger.Error("failed to read request body", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}

	req, err := domain.DecodeRequest(data)
	if err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		if errors.Is(err, domain.ErrMissingMode) {
			abortWithError(c, http.StatusBadRequest, "MISSING_MODE", err.Error(), nil)
			return nil, false
		}
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}
	return req, true
}

func (s *Server) loadRun(c *gin.Context) (*domain.RunState, bool) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetStatus(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
			return nil, false
		}
		s.logger.Error("failed to load run", zap.String("run_id", runID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to load run", err.Error())
		return nil, false
	}
	return state, true
}

// pipelineError maps an orchestrator error to a response
func (s *Server) pipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingMode):
		abortWithError(c, http.StatusBadRequest, "MISSING_MODE", domain.ErrMissingMode.Error(), nil)
	case errors.Is(err, domain.ErrMatrixRequired), errors.Is(err, domain.ErrUnknownMode):
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, workers.ErrPoolClosed), errors.Is(err, orchestrator.ErrManagerClosed):
		abortWithError(c, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil)
	default:
		var details interface{}
		var extErr *python.ExternalError
		if errors.As(err, &extErr) {
			details = gin.H{
				"type":      extErr.Type,
				"traceback": extErr.Traceback,
			}
		}
		abortWithError(c, http.StatusUnprocessableEntity, "PIPELINE_FAILED", err.Error(), details)
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
