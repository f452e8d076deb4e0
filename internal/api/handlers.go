package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Belfering/QuantNexus-sub009/internal/jobs"
)

// handleHealth returns a simple health check (for load balancers)
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// handleSubmitJob accepts an optimization request and starts a job
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req jobs.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	id, err := s.manager.Submit(&req)
	if err != nil {
		if errors.Is(err, jobs.ErrTooManyJobs) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		// Validation, oversize sweeps and impossible ranges are all
		// caller mistakes
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// handleListJobs returns snapshots of all jobs without results
func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.manager.Jobs()})
}

// handleGetJob returns status and progress for one job
func (s *Server) handleGetJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	snap, err := s.manager.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleGetResults returns the accumulated branch results. Results
// accrue while the job runs, so polling this endpoint mid-run is valid.
func (s *Server) handleGetResults(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	snap, err := s.manager.Results(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleCancelJob requests cooperative cancellation
func (s *Server) handleCancelJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := s.manager.Cancel(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return uuid.Nil, false
	}
	return id, true
}
