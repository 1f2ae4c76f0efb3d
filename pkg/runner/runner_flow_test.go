package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentforge/contentforge/pkg/config"
	"github.com/contentforge/contentforge/pkg/events"
	"github.com/contentforge/contentforge/pkg/models"
	"github.com/contentforge/contentforge/pkg/providers"
	"github.com/contentforge/contentforge/pkg/services"
	"github.com/contentforge/contentforge/pkg/storage"
)

// stubLLM records the formats it was asked for and returns a canned result.
type stubLLM struct {
	mu         sync.Mutex
	gotFormats models.KindList
	result     *providers.AgentResult
	err        error
	onRun      func()
}

func (s *stubLLM) Run(_ context.Context, req providers.AgentRequest) (*providers.AgentResult, error) {
	s.mu.Lock()
	s.gotFormats = req.Formats
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun()
	}
	return s.result, s.err
}

func (s *stubLLM) Configured() bool { return true }

// stubCache is a map-backed ContentCache recording Put calls.
type stubCache struct {
	mu      sync.Mutex
	entries map[models.ContentKind]string
	puts    []map[models.ContentKind]string
}

func (c *stubCache) Get(context.Context, string) (map[models.ContentKind]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[models.ContentKind]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out, nil
}

func (c *stubCache) Put(_ context.Context, _ string, formats map[models.ContentKind]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts = append(c.puts, formats)
	return nil
}

type stubTTS struct {
	result *providers.TTSResult
}

func (s *stubTTS) Synthesize(context.Context, providers.TTSRequest) (*providers.TTSResult, error) {
	return s.result, nil
}

func newFlowRunner(t *testing.T, llm *stubLLM, contentCache *stubCache) (*Runner, sqlmock.Sqlmock, *events.MemoryStore) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	db := sqlx.NewDb(mockDB, "sqlmock")
	t.Cleanup(func() { _ = db.Close() })

	blobs, err := storage.NewLocalStorage(t.TempDir(), "/files")
	require.NoError(t, err)

	store := events.NewMemoryStore(1000, time.Hour)
	usage := services.NewUsageService(db)
	r := New(Deps{
		Jobs:      services.NewJobService(db),
		Plans:     services.NewPlanService(db, config.DefaultPlanTable(), usage),
		Usage:     usage,
		Accounts:  services.NewAccountService(db, 30),
		Events:    store,
		Cache:     contentCache,
		LLM:       llm,
		TTS:       &stubTTS{result: &providers.TTSResult{Audio: []byte("mp3 bytes"), ContentType: "audio/mpeg", DurationSec: 2.5}},
		Moderator: providers.NoopModerator{},
		Storage:   blobs,
		Registry:  NewRegistry(),
		Config: config.RunnerConfig{
			AgentTimeout:      time.Hour,
			ProgressInterval:  time.Hour,
			ModerationEnabled: false,
			ModerationVersion: "v1",
			PromptVersion:     "v1",
		},
	})
	return r, mock, store
}

func flowJob(formats ...models.ContentKind) *models.Job {
	return &models.Job{
		ID:      "job-1",
		OrgID:   "org-1",
		UserID:  "user-1",
		Topic:   "go generics",
		Formats: models.KindList(formats),
		Status:  models.JobStatusPending,
	}
}

func adminUserRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "is_admin", "is_active", "created_at", "deleted_at"}).
		AddRow("user-1", "u@example.com", true, true, time.Now(), nil)
}

func artifactRow(kind string, text string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "job_id", "type", "content_text", "content_json",
		"prompt_version", "model_used", "moderation_status", "created_at",
	}).AddRow("art-"+kind, "job-1", kind, text, nil, "v1", "model", nil, time.Now())
}

func eventTypes(t *testing.T, store *events.MemoryStore, jobID string) []string {
	t.Helper()
	all, err := store.Since(context.Background(), jobID, 0)
	require.NoError(t, err)
	types := make([]string, len(all))
	for i, e := range all {
		types[i] = e.Type
	}
	return types
}

func TestRunPartialCacheHitGeneratesOnlyMissingFormats(t *testing.T) {
	llm := &stubLLM{result: &providers.AgentResult{
		Sections: map[models.ContentKind]string{models.KindSocial: "Short fresh post."},
	}}
	contentCache := &stubCache{entries: map[models.ContentKind]string{
		models.KindBlog: "A cached blog draft.",
	}}
	r, mock, store := newFlowRunner(t, llm, contentCache)

	mock.ExpectExec("UPDATE jobs SET status = 'running'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM users WHERE id").WillReturnRows(adminUserRow())
	mock.ExpectQuery("user_model_prefs").
		WillReturnRows(sqlmock.NewRows([]string{"model_name"}))
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(artifactRow("blog", "A cached blog draft."))
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(artifactRow("social", "Short fresh post."))
	mock.ExpectExec("finished_at = now").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM jobs WHERE id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "org_id", "user_id", "topic", "formats_requested", "status",
		"idempotency_key", "error_message", "created_at", "started_at", "finished_at",
	}).AddRow("job-1", "org-1", "user-1", "go generics", []byte(`["blog","social"]`), "completed",
		"key-1", nil, time.Now(), nil, nil))
	mock.ExpectQuery("FROM artifacts WHERE job_id").WillReturnRows(sqlmock.NewRows([]string{
		"id", "job_id", "type", "content_text", "content_json",
		"prompt_version", "model_used", "moderation_status", "created_at",
	}).
		AddRow("art-blog", "job-1", "blog", "A cached blog draft.", nil, "v1", "model", nil, time.Now()).
		AddRow("art-social", "job-1", "social", "Short fresh post.", nil, "v1", "model", nil, time.Now()))
	mock.ExpectExec("blog_count").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("social_count").WillReturnResult(sqlmock.NewResult(0, 1))

	r.run(context.Background(), flowJob(models.KindBlog, models.KindSocial))

	assert.Equal(t, models.KindList{models.KindSocial}, llm.gotFormats,
		"the agent is asked only for the formats the cache missed")

	all, err := store.Since(context.Background(), "job-1", 0)
	require.NoError(t, err)
	cachedReady, socialFirst := -1, -1
	for i, e := range all {
		if e.Type == events.TypeArtifactReady && e.Data["cached"] == true {
			cachedReady = i
		}
		if socialFirst == -1 && e.Data["content_type"] == models.KindSocial {
			socialFirst = i
		}
	}
	require.GreaterOrEqual(t, cachedReady, 0, "the cached blog emits artifact_ready")
	require.GreaterOrEqual(t, socialFirst, 0)
	assert.Less(t, cachedReady, socialFirst, "cached formats emit before generation output")

	last := all[len(all)-1]
	assert.Equal(t, events.TypeComplete, last.Type)
	assert.Equal(t, models.JobStatusCompleted, last.Data["status"])

	require.Len(t, contentCache.puts, 1, "only freshly generated formats re-enter the cache")
	assert.Contains(t, contentCache.puts[0], models.KindSocial)
	assert.NotContains(t, contentCache.puts[0], models.KindBlog)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCancellationFinalizesJobAsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &stubLLM{onRun: cancel, err: context.Canceled}
	r, mock, store := newFlowRunner(t, llm, &stubCache{})

	mock.ExpectExec("UPDATE jobs SET status = 'running'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM users WHERE id").WillReturnRows(adminUserRow())
	mock.ExpectQuery("user_model_prefs").
		WillReturnRows(sqlmock.NewRows([]string{"model_name"}))
	mock.ExpectExec("finished_at = now").
		WillReturnResult(sqlmock.NewResult(0, 1))

	r.run(ctx, flowJob(models.KindBlog))

	types := eventTypes(t, store, "job-1")
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeCancelled, types[len(types)-1])
	assert.NotContains(t, types, events.TypeError, "cancellation is not reported as a failure")
	assert.NotContains(t, types, events.TypeComplete)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunVoiceoverEventOrdering(t *testing.T) {
	r, mock, store := newFlowRunner(t, &stubLLM{}, &stubCache{})

	mock.ExpectExec("UPDATE jobs SET status = 'running'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(sqlmock.NewRows([]string{
		"id", "job_id", "type", "content_text", "content_json",
		"prompt_version", "model_used", "moderation_status", "created_at",
	}).AddRow("art-vo", "job-1", "voiceover_audio", nil, []byte(`{"storage_key":"voiceover/x.mp3"}`),
		nil, nil, nil, time.Now()))
	mock.ExpectExec("finished_at = now").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("voiceover_count").WillReturnResult(sqlmock.NewResult(0, 1))

	job := flowJob(models.KindBlog)
	r.runVoiceover(context.Background(), job, "Hello and welcome.", VoiceoverParams{
		VoiceID: "default", Speed: 1.0, Format: "mp3",
	})

	types := eventTypes(t, store, "job-1")
	assert.Equal(t, []string{
		events.TypeTTSProgress,
		events.TypeTTSStarted,
		events.TypeArtifactReady,
		events.TypeTTSCompleted,
		events.TypeComplete,
	}, types, "the audio URL is never announced before the blob exists")

	all, err := store.Since(context.Background(), "job-1", 0)
	require.NoError(t, err)
	key, _ := all[2].Data["storage_key"].(string)
	require.NotEmpty(t, key)
	audio, err := r.deps.Storage.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3 bytes"), audio)
	assert.NoError(t, mock.ExpectationsWereMet())
}
