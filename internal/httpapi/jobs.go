package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
	"github.com/book-expert/avatar-service/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const queueFailureReason = "The job could not be queued. Please try again."

// submission holds the form fields of a generation request.
type submission struct {
	Text   string `validate:"required,max=2000"`
	Gender string `validate:"required,max=32,alphanum"`
}

func (s *Server) generateAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	err := r.ParseMultipartForm(s.config.MaxUploadBytes)
	if err != nil {
		s.error(w, http.StatusBadRequest, "Text and image are required")

		return
	}

	form := submission{
		Text:   strings.TrimSpace(r.FormValue("text")),
		Gender: strings.ToLower(strings.TrimSpace(r.FormValue("gender"))),
	}

	if form.Gender == "" {
		form.Gender = core.GenderMale
	}

	file, _, err := r.FormFile("image")
	if err != nil || form.Text == "" {
		s.error(w, http.StatusBadRequest, "Text and image are required")

		return
	}
	defer file.Close()

	err = s.validate.Struct(form)
	if err != nil {
		s.error(w, http.StatusBadRequest, invalidFieldMessage(err))

		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.error(w, http.StatusBadRequest, "The uploaded image could not be read")

		return
	}

	job := pipeline.NewJob(userFrom(r.Context()), form.Text, form.Gender, s.layout)

	err = s.portraits.WritePortrait(data, job.ImageFile)
	if err != nil {
		s.log.Warn("Rejected upload for job %s: %v", job.ID, err)
		s.error(w, http.StatusBadRequest, "The uploaded image could not be read")

		return
	}

	s.enqueue(r.Context(), w, job)
}

func (s *Server) resubmitJob(w http.ResponseWriter, r *http.Request) {
	source, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	if source.Stage != core.StageFailed {
		s.error(w, http.StatusConflict, "Only failed jobs can be resubmitted")

		return
	}

	job := pipeline.NewJob(source.UserID, source.Text, source.Gender, s.layout)

	err := fileutil.CopyFile(source.ImageFile, job.ImageFile)
	if err != nil {
		s.log.Warn("Cannot resubmit job %s: %v", source.ID, err)
		s.error(w, http.StatusGone, "The original image is no longer available")

		return
	}

	s.log.Info("Resubmitting job %s as %s", source.ID, job.ID)
	s.enqueue(r.Context(), w, job)
}

// enqueue persists the job and hands it to the pipeline. A job that cannot be
// queued is failed so it does not linger as processing.
func (s *Server) enqueue(ctx context.Context, w http.ResponseWriter, job *core.GenerationJob) {
	err := s.jobs.Insert(ctx, job)
	if err != nil {
		s.log.Error("Failed to persist job %s: %v", job.ID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	err = s.submitter.Submit(ctx, job)
	if err != nil {
		s.log.Error("Failed to submit job %s: %v", job.ID, err)

		updateErr := s.jobs.UpdateStatus(context.WithoutCancel(ctx), job.ID, core.StageFailed, queueFailureReason)
		if updateErr != nil {
			s.log.Error("Failed to mark job %s as failed: %v", job.ID, updateErr)
		}

		s.error(w, http.StatusServiceUnavailable, queueFailureReason)

		return
	}

	s.log.Info("Job %s submitted for user %s", job.ID, job.UserID)
	s.json(w, http.StatusAccepted, submitResponse{
		Message: "Job submitted successfully",
		JobID:   job.ID,
		Status:  job.Status,
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.FindByUser(r.Context(), userFrom(r.Context()), 0)
	if err != nil {
		s.log.Error("Failed to load history: %v", err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	s.json(w, http.StatusOK, toJobResponses(jobs))
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())

	total, err := s.jobs.CountByUser(r.Context(), userID)
	if err != nil {
		s.log.Error("Failed to count jobs for %s: %v", userID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	recent, err := s.jobs.FindByUser(r.Context(), userID, recentLimit)
	if err != nil {
		s.log.Error("Failed to load recent jobs for %s: %v", userID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	s.json(w, http.StatusOK, dashboardResponse{
		TotalGenerations:  total,
		RecentGenerations: toJobResponses(recent),
	})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	resp := statusResponse{
		JobID:         job.ID,
		Status:        job.Status,
		Stage:         job.Stage,
		FailureReason: job.FailureReason,
		UpdatedAt:     job.UpdatedAt.UTC().Format(timeLayout),
	}

	if job.Stage == core.StageCompleted {
		resp.VideoURL = "/api/video/" + job.ID
	}

	s.json(w, http.StatusOK, resp)
}

// completeJob is the completion callback of the processing host. A job is only
// marked completed once its finished video exists.
func (s *Server) completeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, core.ErrJobNotFound) {
		s.error(w, http.StatusNotFound, "Job not found")

		return
	}

	if err != nil {
		s.log.Error("Failed to load job %s: %v", jobID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	if job.Stage.IsTerminal() {
		s.error(w, http.StatusConflict, "Job has already finished")

		return
	}

	ready, err := s.videoReady(r.Context(), job)
	if err != nil {
		s.log.Error("Failed to look up video of job %s: %v", job.ID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	if !ready {
		s.error(w, http.StatusConflict, "Video is not ready")

		return
	}

	err = s.jobs.UpdateStatus(r.Context(), job.ID, core.StageCompleted, "")
	if errors.Is(err, core.ErrInvalidTransition) {
		s.error(w, http.StatusConflict, "Job has already finished")

		return
	}

	if err != nil {
		s.log.Error("Failed to complete job %s: %v", job.ID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}

	s.log.Info("Job %s marked completed by callback", job.ID)
	s.json(w, http.StatusOK, map[string]string{"message": "Job marked as completed"})
}

// ownedJob loads the job named in the URL. Jobs of other users are reported as
// missing.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (*core.GenerationJob, bool) {
	jobID := chi.URLParam(r, "id")

	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, core.ErrJobNotFound) || (err == nil && job.UserID != userFrom(r.Context())) {
		s.error(w, http.StatusNotFound, "Job not found")

		return nil, false
	}

	if err != nil {
		s.log.Error("Failed to load job %s: %v", jobID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return nil, false
	}

	return job, true
}

// invalidFieldMessage names the first rejected field.
func invalidFieldMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return "Invalid " + strings.ToLower(fieldErrs[0].Field())
	}

	return "Invalid request"
}
