package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/orchestrator"
	"token-risk-lab/internal/queue"
)

type submitRequest struct {
	TokenAddress string `json:"token_address" binding:"required"`
	ChainID      int64  `json:"chain_id" binding:"required"`
}

type taskInfo struct {
	TaskID       string    `json:"task_id"`
	Status       string    `json:"status"`
	TokenAddress string    `json:"token_address"`
	ChainID      int64     `json:"chain_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type statusResponse struct {
	TaskID            string        `json:"task_id"`
	Status            string        `json:"status"`
	CurrentStep       string        `json:"current_step"`
	ProgressPercent   int           `json:"progress_percent"`
	IntermediateRisks []domain.Risk `json:"intermediate_risks"`
	FailedStep        string        `json:"failed_step,omitempty"`
	Error             string        `json:"error,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func newStatusResponse(t *domain.AnalysisTask) statusResponse {
	risks := t.IntermediateRisks
	if risks == nil {
		risks = []domain.Risk{}
	}
	return statusResponse{
		TaskID:            t.ID,
		Status:            string(t.Status),
		CurrentStep:       string(t.CurrentStep),
		ProgressPercent:   t.ProgressPercent,
		IntermediateRisks: risks,
		FailedStep:        string(t.FailedStep),
		Error:             t.Error,
		UpdatedAt:         t.UpdatedAt,
	}
}

type historyResponse struct {
	TokenAddress string                  `json:"token_address"`
	ChainID      int64                   `json:"chain_id"`
	Analyses     []*domain.FinalAnalysis `json:"analyses"`
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	task, err := s.svc.Submit(c.Request.Context(), req.TokenAddress, req.ChainID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, taskInfo{
		TaskID:       task.ID,
		Status:       string(task.Status),
		TokenAddress: task.Subject.Address,
		ChainID:      task.Subject.ChainID,
		CreatedAt:    task.CreatedAt,
	})
}

func (s *Server) status(c *gin.Context) {
	task, err := s.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(task))
}

func (s *Server) results(c *gin.Context) {
	final, err := s.svc.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, final)
}

func (s *Server) history(c *gin.Context) {
	chainID, err := strconv.ParseInt(c.Param("chain"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain must be a numeric chain id"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	results, err := s.svc.History(c.Request.Context(), c.Param("address"), chainID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if results == nil {
		results = []*domain.FinalAnalysis{}
	}

	address := c.Param("address")
	if subject, err := domain.NormalizeSubject(address, chainID); err == nil {
		address = subject.Address
	}
	c.JSON(http.StatusOK, historyResponse{TokenAddress: address, ChainID: chainID, Analyses: results})
}

// writeError maps orchestrator errors onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSubject):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis task not found"})
	case errors.Is(err, orchestrator.ErrNotReady):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Analysis is not yet complete"})
	case errors.Is(err, queue.ErrFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis queue is full, retry later"})
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
