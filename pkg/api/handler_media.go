package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/runner"
	"github.com/contentforge/contentforge/pkg/services"
)

// CreateVoiceover accepts a voiceover request, resolves the narration
// source and spawns the TTS sub-run on a synthetic job.
func (s *Server) CreateVoiceover(c *gin.Context) {
	var req VoiceoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, services.NewValidationError("body", "invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, err)
		return
	}

	user := currentUser(c)
	ctx := c.Request.Context()

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
	if err := s.deps.Plans.CheckMonthlyLimit(ctx, plan, orgID, models.KindVoiceover); err != nil {
		writeError(c, err)
		return
	}

	params := runner.VoiceoverParams{
		SourceJobID:   req.JobID,
		NarrationText: req.NarrationText,
		VoiceID:       req.VoiceID,
		Speed:         req.Speed,
		Format:        req.Format,
	}
	text, err := s.deps.Runner.ResolveNarration(ctx, params, user.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	job, err := s.deps.Runner.StartVoiceover(ctx, orgID, user.ID, text, params)
	if err != nil {
		writeError(c, err)
		return
	}

	s.deps.Audit.Record(ctx, services.AuditEntry{
		ActionType:  "content.voiceover",
		ActorUserID: user.ID,
		ClientIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Details:     models.JSONMap{"job_id": job.ID, "source_job_id": req.JobID},
	})
	c.JSON(http.StatusAccepted, acceptedResponse(job))
}

// CreateVideoRender accepts a render request, resolves the script from the
// source job and spawns the render sub-run on a synthetic job.
func (s *Server) CreateVideoRender(c *gin.Context) {
	var req VideoRenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, services.NewValidationError("body", "invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, err)
		return
	}

	user := currentUser(c)
	ctx := c.Request.Context()

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
	if err := s.deps.Plans.CheckMonthlyLimit(ctx, plan, orgID, models.KindVideoRender); err != nil {
		writeError(c, err)
		return
	}

	script, err := s.deps.Runner.ResolveScript(ctx, req.JobID, user.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	job, err := s.deps.Runner.StartVideoRender(ctx, orgID, user.ID, script, runner.VideoRenderParams{
		SourceJobID:      req.JobID,
		Resolution:       req.Resolution,
		FPS:              req.FPS,
		BackgroundStyle:  req.BackgroundStyle,
		BackgroundMusic:  req.BackgroundMusic,
		IncludeNarration: req.IncludeNarration,
		Renderer:         req.Renderer,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	s.deps.Audit.Record(ctx, services.AuditEntry{
		ActionType:  "content.video_render",
		ActorUserID: user.ID,
		ClientIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Details:     models.JSONMap{"job_id": job.ID, "source_job_id": req.JobID},
	})
	c.JSON(http.StatusAccepted, acceptedResponse(job))
}

// BillingWebhook verifies, records and applies one provider webhook
// delivery. Replays acknowledge 200 with processed=false.
func (s *Server) BillingWebhook(c *gin.Context) {
	provider := c.Param("provider")
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, services.NewValidationError("body", "unreadable body"))
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if signature == "" {
		signature = c.GetHeader("Stripe-Signature")
	}
	if err := s.deps.Gateway.VerifyWebhookSignature(provider, body, signature); err != nil {
		writeError(c, err)
		return
	}
	evt, err := s.deps.Gateway.ParseEvent(provider, body)
	if err != nil {
		writeError(c, services.NewValidationError("body", "unparseable webhook payload"))
		return
	}

	processed, err := s.deps.Billing.HandleWebhook(c.Request.Context(), evt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, WebhookResponse{Processed: processed})
}
