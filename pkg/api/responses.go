package api

import "github.com/contentforge/contentforge/pkg/models"

// JobResponse is the job representation on the HTTP surface.
type JobResponse struct {
	*models.Job
	StreamURL string `json:"stream_url"`
}

func jobResponse(job *models.Job) JobResponse {
	return JobResponse{Job: job, StreamURL: "/v1/content/jobs/" + job.ID + "/stream"}
}

// JobDetailResponse adds artifacts to a single-job read.
type JobDetailResponse struct {
	JobResponse
	Artifacts []*models.Artifact `json:"artifacts"`
}

// AcceptedResponse answers the 202 sub-run endpoints.
type AcceptedResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

func acceptedResponse(job *models.Job) AcceptedResponse {
	return AcceptedResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		StreamURL: "/v1/content/jobs/" + job.ID + "/stream",
	}
}

// WebhookResponse acknowledges a billing webhook delivery.
type WebhookResponse struct {
	Processed bool `json:"processed"`
}
