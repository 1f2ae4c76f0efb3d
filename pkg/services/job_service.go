package services

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/contentforge/contentforge/pkg/database"
	"github.com/contentforge/contentforge/pkg/models"
)

// JobService persists jobs and artifacts and drives the job state machine.
// Every operation runs under the transient-retry wrapper and a short-lived
// pooled connection; no caller ever holds a session across external I/O.
type JobService struct {
	db *sqlx.DB
}

// NewJobService creates a JobService.
func NewJobService(db *sqlx.DB) *JobService {
	return &JobService{db: db}
}

const jobColumns = `id, org_id, user_id, topic, formats_requested, status,
	idempotency_key, error_message, created_at, started_at, finished_at`

// CreateJob inserts a job, enforcing idempotency. On a key collision it
// returns the prior job when that job is terminal, or JobInFlightError while
// it is still pending/running. The second return value reports whether a new
// row was created.
func (s *JobService) CreateJob(ctx context.Context, orgID, userID, topic string, formats models.KindList, idempotencyKey string) (*models.Job, bool, error) {
	if topic == "" {
		return nil, false, NewValidationError("topic", "required")
	}
	if len(formats) == 0 {
		return nil, false, NewValidationError("content_type", "required")
	}
	for _, k := range formats {
		if !k.Valid() {
			return nil, false, NewValidationError("content_type", "unknown content type "+string(k))
		}
	}
	if idempotencyKey == "" {
		idempotencyKey = models.DeriveIdempotencyKey(userID, topic, formats)
	}

	var job models.Job
	err := database.WithRetry(ctx, "create_job", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &job, `
			INSERT INTO jobs (id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6, now())
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING `+jobColumns,
			uuid.New().String(), orgID, userID, topic, formats, idempotencyKey)
	})
	if err == nil {
		return &job, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	// Conflict: resubmission of an identical request. Return the prior job
	// if terminal, 409 if still in flight.
	prior, err := s.getByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if prior.Status.Terminal() {
		return prior, false, nil
	}
	return nil, false, &JobInFlightError{JobID: prior.ID, Status: prior.Status}
}

// CreateSyntheticJob inserts a job for a media sub-run (voiceover, video
// render) so the SSE contract is uniform across run types. Synthetic jobs
// take a random idempotency key: resubmitting a media request is billed
// again by design.
func (s *JobService) CreateSyntheticJob(ctx context.Context, orgID, userID, topic string, kind models.ContentKind) (*models.Job, error) {
	var job models.Job
	err := database.WithRetry(ctx, "create_synthetic_job", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &job, `
			INSERT INTO jobs (id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', $6, now())
			RETURNING `+jobColumns,
			uuid.New().String(), orgID, userID, topic, models.KindList{kind}, uuid.New().String())
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobService) getByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	var job models.Job
	err := database.WithRetry(ctx, "get_job_by_key", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob returns a job only when the viewer owns it. Missing and
// not-owned are both reported as ErrNotFound so ownership is not leaked.
func (s *JobService) GetJob(ctx context.Context, jobID, viewerUserID string) (*models.Job, error) {
	var job models.Job
	err := database.WithRetry(ctx, "get_job", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &job,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, jobID, viewerUserID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobWithArtifacts fetches a job plus its artifacts in one round trip.
// Used by the SSE streamer's poll loop and the runner's completion step.
func (s *JobService) GetJobWithArtifacts(ctx context.Context, jobID string) (*models.Job, []*models.Artifact, error) {
	var job models.Job
	var artifacts []*models.Artifact
	err := database.WithRetry(ctx, "get_job_with_artifacts", func(ctx context.Context) error {
		if err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID); err != nil {
			return err
		}
		artifacts = artifacts[:0]
		return s.db.SelectContext(ctx, &artifacts, `
			SELECT id, job_id, type, content_text, content_json, prompt_version, model_used, moderation_status, created_at
			FROM artifacts WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &job, artifacts, nil
}

// ListJobs returns the viewer's jobs, newest first.
func (s *JobService) ListJobs(ctx context.Context, viewerUserID string, filters models.JobFilters) (*models.JobList, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	if filters.Status != "" && !models.JobStatus(filters.Status).Valid() {
		return nil, NewValidationError("status", "unknown status "+filters.Status)
	}

	list := &models.JobList{Jobs: []*models.Job{}, Limit: limit, Offset: offset}
	err := database.WithRetry(ctx, "list_jobs", func(ctx context.Context) error {
		query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1`
		countQuery := `SELECT count(*) FROM jobs WHERE user_id = $1`
		args := []any{viewerUserID}
		if filters.Status != "" {
			query += ` AND status = $2`
			countQuery += ` AND status = $2`
			args = append(args, filters.Status)
		}
		if err := s.db.GetContext(ctx, &list.TotalCount, countQuery, args...); err != nil {
			return err
		}
		query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)
		list.Jobs = list.Jobs[:0]
		return s.db.SelectContext(ctx, &list.Jobs, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// MarkRunning transitions pending → running and stamps started_at.
func (s *JobService) MarkRunning(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, models.JobStatusRunning, nil)
}

// Finish transitions a non-terminal job into a terminal state and stamps
// finished_at. errMessage is recorded for failed jobs.
func (s *JobService) Finish(ctx context.Context, jobID string, status models.JobStatus, errMessage *string) error {
	if !status.Terminal() {
		return ErrIllegalTransition
	}
	return s.transition(ctx, jobID, status, errMessage)
}

// transition applies a guarded status update. The WHERE clause encodes the
// state machine so a concurrent illegal transition can never win the race;
// zero rows affected means the transition was illegal (or the job vanished).
func (s *JobService) transition(ctx context.Context, jobID string, to models.JobStatus, errMessage *string) error {
	var query string
	switch to {
	case models.JobStatusRunning:
		query = `UPDATE jobs SET status = 'running', started_at = now()
			WHERE id = $1 AND status = 'pending'`
	default:
		query = `UPDATE jobs SET status = $2, finished_at = now(), error_message = $3
			WHERE id = $1 AND status IN ('pending', 'running')`
	}

	return database.WithRetry(ctx, "transition_job", func(ctx context.Context) error {
		var res sql.Result
		var err error
		if to == models.JobStatusRunning {
			res, err = s.db.ExecContext(ctx, query, jobID)
		} else {
			res, err = s.db.ExecContext(ctx, query, jobID, to, errMessage)
		}
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var current models.JobStatus
			if err := s.db.GetContext(ctx, &current, `SELECT status FROM jobs WHERE id = $1`, jobID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return err
			}
			// A retried statement whose first attempt committed sees zero
			// rows; the job already being in the target state is success.
			if current == to {
				return nil
			}
			return ErrIllegalTransition
		}
		return nil
	})
}

// ArtifactParams are the inputs to UpsertArtifact.
type ArtifactParams struct {
	JobID         string
	Type          models.ArtifactType
	ContentText   *string
	ContentJSON   models.JSONMap
	PromptVersion *string
	ModelUsed     *string
}

const artifactColumns = `id, job_id, type, content_text, content_json, prompt_version, model_used, moderation_status, created_at`

// UpsertArtifact inserts an artifact or, for primary content kinds, updates
// the existing (job_id, type) row in place. A single statement, so the
// operation is atomic under concurrent callers.
func (s *JobService) UpsertArtifact(ctx context.Context, p ArtifactParams) (*models.Artifact, error) {
	var artifact models.Artifact
	err := database.WithRetry(ctx, "upsert_artifact", func(ctx context.Context) error {
		if p.Type.UniquePerJob() {
			return s.db.GetContext(ctx, &artifact, `
				INSERT INTO artifacts (id, job_id, type, content_text, content_json, prompt_version, model_used, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())
				ON CONFLICT (job_id, type) WHERE type NOT IN ('storyboard_image', 'video_clip')
				DO UPDATE SET
					content_text = EXCLUDED.content_text,
					content_json = EXCLUDED.content_json,
					prompt_version = EXCLUDED.prompt_version,
					model_used = EXCLUDED.model_used
				RETURNING `+artifactColumns,
				uuid.New().String(), p.JobID, p.Type, p.ContentText, p.ContentJSON, p.PromptVersion, p.ModelUsed)
		}
		return s.db.GetContext(ctx, &artifact, `
			INSERT INTO artifacts (id, job_id, type, content_text, content_json, prompt_version, model_used, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING `+artifactColumns,
			uuid.New().String(), p.JobID, p.Type, p.ContentText, p.ContentJSON, p.PromptVersion, p.ModelUsed)
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// SetArtifactModeration records the moderation outcome on a persisted
// artifact. It never reverses the owning job's status.
func (s *JobService) SetArtifactModeration(ctx context.Context, artifactID, status string) error {
	return database.WithRetry(ctx, "set_artifact_moderation", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE artifacts SET moderation_status = $2 WHERE id = $1`, artifactID, status)
		return err
	})
}

// CancelJob validates ownership and non-terminal state, then transitions the
// job to cancelled.
func (s *JobService) CancelJob(ctx context.Context, jobID, viewerUserID string) error {
	job, err := s.GetJob(ctx, jobID, viewerUserID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrNotCancellable
	}
	err = s.Finish(ctx, jobID, models.JobStatusCancelled, nil)
	if errors.Is(err, ErrIllegalTransition) {
		// Lost the race against a terminal transition.
		return ErrNotCancellable
	}
	return err
}

// CountRunningForOrg reports how many of an org's jobs are currently
// pending or running; the submission gate compares it to the tier's
// max_parallel_tasks.
func (s *JobService) CountRunningForOrg(ctx context.Context, orgID string) (int, error) {
	var count int
	err := database.WithRetry(ctx, "count_running", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &count,
			`SELECT count(*) FROM jobs WHERE org_id = $1 AND status IN ('pending', 'running')`, orgID)
	})
	return count, err
}
