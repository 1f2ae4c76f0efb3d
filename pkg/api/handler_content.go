package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/services"
)

// GenerateContent accepts a generation request, enforces the tier gates and
// spawns the runner. The response returns long before generation finishes;
// progress flows over the SSE stream.
func (s *Server) GenerateContent(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, services.NewValidationError("body", "invalid JSON body"))
		return
	}
	if req.Topic == "" {
		writeError(c, services.NewValidationError("topic", "required"))
		return
	}
	kind, err := req.Format()
	if err != nil {
		writeError(c, err)
		return
	}

	user := currentUser(c)
	ctx := c.Request.Context()

	if err := s.deps.Moderator.CheckInput(ctx, req.Topic); err != nil {
		writeError(c, err)
		return
	}

	orgID, err := s.deps.Orgs.EnsureOrgForUser(ctx, user)
	if err != nil {
		writeError(c, err)
		return
	}
	plan, err := s.deps.Plans.PlanOf(ctx, user, orgID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.deps.Plans.CheckMonthlyLimit(ctx, plan, orgID, kind); err != nil {
		writeError(c, err)
		return
	}

	running, err := s.deps.Jobs.CountRunningForOrg(ctx, orgID)
	if err != nil {
		writeError(c, err)
		return
	}
	if running >= plan.MaxParallelTasks {
		writeError(c, &apiError{
			Status: http.StatusTooManyRequests, Code: CodeRateLimited,
			Message: "too many jobs in flight for this organization",
			Details: map[string]int{"running": running, "max_parallel_tasks": plan.MaxParallelTasks},
		})
		return
	}

	job, created, err := s.deps.Jobs.CreateJob(ctx, orgID, user.ID, req.Topic, models.KindList{kind}, req.IdempotencyKey)
	if err != nil {
		writeError(c, err)
		return
	}
	if !created {
		// Idempotent replay of a terminal job.
		c.JSON(http.StatusOK, jobResponse(job))
		return
	}

	s.deps.Audit.Record(ctx, services.AuditEntry{
		ActionType:  "content.generate",
		ActorUserID: user.ID,
		ClientIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Details:     models.JSONMap{"job_id": job.ID, "content_type": kind},
	})

	s.deps.Runner.Spawn(job)
	c.JSON(http.StatusCreated, jobResponse(job))
}

// GetJob reads one job with its artifacts, viewer-scoped.
func (s *Server) GetJob(c *gin.Context) {
	user := currentUser(c)
	jobID := c.Param("id")

	job, err := s.deps.Jobs.GetJob(c.Request.Context(), jobID, user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	_, artifacts, err := s.deps.Jobs.GetJobWithArtifacts(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobDetailResponse{JobResponse: jobResponse(job), Artifacts: artifacts})
}

// ListJobs lists the viewer's jobs, newest first.
func (s *Server) ListJobs(c *gin.Context) {
	user := currentUser(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := s.deps.Jobs.ListJobs(c.Request.Context(), user.ID, models.JobFilters{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CancelJob cancels a non-terminal job and signals its running task.
func (s *Server) CancelJob(c *gin.Context) {
	user := currentUser(c)
	jobID := c.Param("id")
	ctx := c.Request.Context()

	if err := s.deps.Jobs.CancelJob(ctx, jobID, user.ID); err != nil {
		writeError(c, err)
		return
	}
	// Best-effort: the task may run on another replica or have finished.
	signalled := s.deps.Registry.Cancel(jobID)

	s.deps.Audit.Record(ctx, services.AuditEntry{
		ActionType:  "content.cancel",
		ActorUserID: user.ID,
		ClientIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Details:     models.JSONMap{"job_id": jobID, "signalled": signalled},
	})
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": models.JobStatusCancelled})
}
