package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/httpapi"
	"github.com/book-expert/avatar-service/internal/jobstore"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser          = "user-1"
	testCallbackToken = "colab-secret"
)

var errQueueDown = errors.New("queue down")

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, job *core.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.jobs = append(f.jobs, job.ID)

	return nil
}

func (f *fakeSubmitter) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.jobs...)
}

// rawPortraits stores uploads verbatim and rejects empty ones.
type rawPortraits struct{}

func (rawPortraits) WritePortrait(data []byte, path string) error {
	if len(data) == 0 {
		return errors.New("empty image")
	}

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

type mapObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	opens   int
}

func (m *mapObjectStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens++

	data, ok := m.objects[key]
	if !ok {
		return nil, core.ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mapObjectStore) UploadFile(_ context.Context, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *mapObjectStore) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.opens
}

type fixture struct {
	handler   http.Handler
	jobs      *jobstore.Memory
	videos    *mapObjectStore
	submitter *fakeSubmitter
	layout    artifact.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "httpapi-test.log")
	require.NoError(t, err)

	root := t.TempDir()
	f := &fixture{
		jobs:      jobstore.NewMemory(),
		videos:    &mapObjectStore{objects: map[string][]byte{}},
		submitter: &fakeSubmitter{},
		layout: artifact.Layout{
			ImageDir: filepath.Join(root, "img"),
			AudioDir: filepath.Join(root, "audio"),
			VideoDir: filepath.Join(root, "video"),
			WorkDir:  filepath.Join(root, "work"),
		},
	}

	server := httpapi.NewServer(f.jobs, f.videos, f.submitter, rawPortraits{}, f.layout, httpapi.Config{CallbackToken: testCallbackToken}, log)
	f.handler = server.Routes()

	return f
}

func (f *fixture) do(t *testing.T, req *http.Request, user string) *httptest.ResponseRecorder {
	t.Helper()

	if user != "" {
		req.Header.Set(httpapi.DefaultUserHeader, user)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func (f *fixture) seed(t *testing.T, id, user string, stage core.Stage, created time.Time) *core.GenerationJob {
	t.Helper()

	job := &core.GenerationJob{
		ID:        id,
		UserID:    user,
		Text:      "text of " + id,
		Gender:    core.GenderFemale,
		ImageFile: f.layout.InputImage(id),
		AudioFile: f.layout.OutputAudio(id),
		VideoFile: f.layout.OutputVideo(id),
		Status:    core.StatusProcessing,
		Stage:     core.StagePending,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, f.jobs.Insert(context.Background(), job))

	if stage != core.StagePending {
		require.NoError(t, f.jobs.UpdateStatus(context.Background(), id, stage, "The avatar video could not be generated."))
	}

	return job
}

func submitRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}

	if image != nil {
		part, err := writer.CreateFormFile("image", "face.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/generate_avatar", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateAvatar_AcceptsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := submitRequest(t, map[string]string{"text": "Hello world", "gender": "female"}, []byte("portrait"))

	rec := f.do(t, req, testUser)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode[map[string]string](t, rec)
	jobID := resp["job_id"]
	require.NotEmpty(t, jobID)
	assert.Equal(t, "processing", resp["status"])
	assert.Equal(t, []string{jobID}, f.submitter.submitted())

	job, err := f.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, testUser, job.UserID)
	assert.Equal(t, "Hello world", job.Text)
	assert.Equal(t, core.GenderFemale, job.Gender)
	assert.Equal(t, core.StagePending, job.Stage)
	assert.Equal(t, f.layout.InputImage(jobID), job.ImageFile)
	assert.FileExists(t, job.ImageFile)
}

func TestGenerateAvatar_DefaultsToMale(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, submitRequest(t, map[string]string{"text": "Hi"}, []byte("portrait")), testUser)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := f.jobs.Get(context.Background(), decode[map[string]string](t, rec)["job_id"])
	require.NoError(t, err)
	assert.Equal(t, core.GenderMale, job.Gender)
}

func TestGenerateAvatar_RejectsIncompleteRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields map[string]string
		image  []byte
	}{
		{name: "missing text", fields: map[string]string{"gender": "male"}, image: []byte("portrait")},
		{name: "blank text", fields: map[string]string{"text": "   "}, image: []byte("portrait")},
		{name: "missing image", fields: map[string]string{"text": "Hello"}},
		{name: "unreadable image", fields: map[string]string{"text": "Hello"}, image: []byte{}},
		{name: "text too long", fields: map[string]string{"text": strings.Repeat("a", 2001)}, image: []byte("portrait")},
		{name: "odd gender", fields: map[string]string{"text": "Hello", "gender": "../etc"}, image: []byte("portrait")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			rec := f.do(t, submitRequest(t, tt.fields, tt.image), testUser)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.submitter.submitted())

			count, err := f.jobs.CountByUser(context.Background(), testUser)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestGenerateAvatar_QueueFailureFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submitter.err = errQueueDown

	rec := f.do(t, submitRequest(t, map[string]string{"text": "Hello"}, []byte("portrait")), testUser)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	jobs, err := f.jobs.FindByUser(context.Background(), testUser, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, core.StatusFailed, jobs[0].Status)
	assert.NotEmpty(t, jobs[0].FailureReason)
}

func TestHistoryAndDashboard(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		f.seed(t, id, testUser, core.StagePending, base.Add(time.Duration(i)*time.Minute))
	}

	f.seed(t, "other", "user-2", core.StagePending, base)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)

	history := decode[[]map[string]any](t, rec)
	require.Len(t, history, 7)
	assert.Equal(t, "g", history[0]["_id"])
	assert.Equal(t, "a", history[6]["_id"])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)

	var dashboard struct {
		TotalGenerations  int              `json:"total_generations"`
		RecentGenerations []map[string]any `json:"recent_generations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dashboard))
	assert.Equal(t, 7, dashboard.TotalGenerations)
	require.Len(t, dashboard.RecentGenerations, 5)
	assert.Equal(t, "g", dashboard.RecentGenerations[0]["_id"])
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "failed-job", testUser, core.StageFailed, time.Now())
	f.seed(t, "foreign", "user-2", core.StagePending, time.Now())

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/job/failed-job/status", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[map[string]string](t, rec)
	assert.Equal(t, "failed", status["status"])
	assert.Equal(t, "failed", status["stage"])
	assert.Equal(t, "The avatar video could not be generated.", status["failure_reason"])
	assert.Empty(t, status["video_url"])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/job/foreign/status", nil), testUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/job/missing/status", nil), testUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func callbackRequest(jobID, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/job/"+jobID+"/complete", nil)
	if token != "" {
		req.Header.Set(httpapi.CallbackTokenHeader, token)
	}

	return req
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seed(t, "job", testUser, core.StageReassembling, time.Now())
	require.NoError(t, os.MkdirAll(filepath.Dir(job.VideoFile), 0o750))
	require.NoError(t, os.WriteFile(job.VideoFile, []byte("video"), 0o600))

	rec := f.do(t, callbackRequest("job", testCallbackToken), "")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.jobs.Get(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, stored.Status)

	rec = f.do(t, callbackRequest("job", testCallbackToken), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompleteJob_AcceptsVideoInObjectStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "stored", testUser, core.StageReassembling, time.Now())
	f.videos.objects[artifact.OutputVideoName("stored")] = []byte("video")

	rec := f.do(t, callbackRequest("stored", testCallbackToken), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCompleteJob_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		jobID    string
		token    string
		user     string
		wantCode int
	}{
		{name: "missing token", jobID: "running", user: testUser, wantCode: http.StatusUnauthorized},
		{name: "wrong token", jobID: "running", token: "guess", wantCode: http.StatusUnauthorized},
		{name: "unknown job", jobID: "missing", token: testCallbackToken, wantCode: http.StatusNotFound},
		{name: "video not written yet", jobID: "running", token: testCallbackToken, wantCode: http.StatusConflict},
		{name: "already failed", jobID: "failed", token: testCallbackToken, wantCode: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.seed(t, "running", testUser, core.StageGeneratingVideo, time.Now())
			f.seed(t, "failed", testUser, core.StageFailed, time.Now())

			rec := f.do(t, callbackRequest(tt.jobID, tt.token), tt.user)
			assert.Equal(t, tt.wantCode, rec.Code)

			running, err := f.jobs.Get(context.Background(), "running")
			require.NoError(t, err)
			assert.Equal(t, core.StageGeneratingVideo, running.Stage)
		})
	}
}

func TestCompleteJob_DisabledWithoutToken(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "httpapi-test.log")
	require.NoError(t, err)

	jobs := jobstore.NewMemory()
	server := httpapi.NewServer(jobs, nil, &fakeSubmitter{}, rawPortraits{}, artifact.Layout{}, httpapi.Config{}, log)

	req := callbackRequest("job", "anything")
	req.Header.Set(httpapi.DefaultUserHeader, testUser)

	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideo_StreamsFromObjectStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seed(t, "done", testUser, core.StageCompleted, time.Now())
	f.videos.objects[artifact.OutputVideoName("done")] = []byte("0123456789")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/video/done", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	req := httptest.NewRequest(http.MethodGet, "/api/video/done", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = f.do(t, req, testUser)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "234", rec.Body.String())

	// The first request cached the object; the range request seeks the local copy.
	assert.Equal(t, 1, f.videos.openCount())

	cached, err := os.ReadFile(job.VideoFile)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(cached))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(job.VideoFile), "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestDownload_FallsBackToLocalFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.seed(t, "local", testUser, core.StageCompleted, time.Now())
	require.NoError(t, os.MkdirAll(filepath.Dir(job.VideoFile), 0o750))
	require.NoError(t, os.WriteFile(job.VideoFile, []byte("local-video"), 0o600))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/download/local", nil), testUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local-video", rec.Body.String())
	assert.Equal(t, `attachment; filename="avatar_local.mp4"`, rec.Header().Get("Content-Disposition"))
}

func TestVideo_NotReadyOrMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "running", testUser, core.StageGeneratingVideo, time.Now())
	f.seed(t, "gone", testUser, core.StageCompleted, time.Now())

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/video/running", nil), testUser)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/video/gone", nil), testUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResubmit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	failed := f.seed(t, "failed", testUser, core.StageFailed, time.Now())
	require.NoError(t, os.MkdirAll(filepath.Dir(failed.ImageFile), 0o750))
	require.NoError(t, os.WriteFile(failed.ImageFile, []byte("portrait"), 0o600))
	f.seed(t, "running", testUser, core.StageSynthesizingAudio, time.Now())

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/job/failed/resubmit", nil), testUser)
	require.Equal(t, http.StatusAccepted, rec.Code)

	newID := decode[map[string]string](t, rec)["job_id"]
	require.NotEqual(t, "failed", newID)

	job, err := f.jobs.Get(context.Background(), newID)
	require.NoError(t, err)
	assert.Equal(t, failed.Text, job.Text)
	assert.Equal(t, failed.Gender, job.Gender)
	assert.Equal(t, core.StagePending, job.Stage)

	data, err := os.ReadFile(job.ImageFile)
	require.NoError(t, err)
	assert.Equal(t, "portrait", string(data))
	assert.Equal(t, []string{newID}, f.submitter.submitted())

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/job/running/resubmit", nil), testUser)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResubmit_MissingImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "failed", testUser, core.StageFailed, time.Now())

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/job/failed/resubmit", nil), testUser)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Empty(t, f.submitter.submitted())
}
