// Package httpapi exposes the avatar pipeline over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultUserHeader carries the caller identity set by the upstream gateway.
	DefaultUserHeader = "X-User-ID"
	// CallbackTokenHeader carries the shared secret of the completion callback.
	CallbackTokenHeader = "X-Callback-Token"
	// DefaultMaxUploadBytes bounds the multipart body of a submission.
	DefaultMaxUploadBytes = 16 << 20

	recentLimit = 5
)

// Submitter hands a persisted job to the pipeline.
type Submitter interface {
	Submit(ctx context.Context, job *core.GenerationJob) error
}

// PortraitWriter decodes an uploaded image and stores it at path.
type PortraitWriter interface {
	WritePortrait(data []byte, path string) error
}

// Config controls the HTTP boundary. The completion callback is disabled while
// CallbackToken is empty.
type Config struct {
	UserHeader     string
	MaxUploadBytes int64
	CallbackToken  string
}

// Server holds the collaborators behind every route.
type Server struct {
	jobs      core.JobStore
	videos    core.ObjectStore
	submitter Submitter
	portraits PortraitWriter
	layout    artifact.Layout
	config    Config
	validate  *validator.Validate
	log       *logger.Logger
}

// NewServer creates a Server. videos may be nil, in which case finished videos are
// served from the local video directory only.
func NewServer(
	jobs core.JobStore,
	videos core.ObjectStore,
	submitter Submitter,
	portraits PortraitWriter,
	layout artifact.Layout,
	cfg Config,
	log *logger.Logger,
) *Server {
	if cfg.UserHeader == "" {
		cfg.UserHeader = DefaultUserHeader
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	return &Server{
		jobs:      jobs,
		videos:    videos,
		submitter: submitter,
		portraits: portraits,
		layout:    layout,
		config:    cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		// The callback comes from the processing host, not from the job owner.
		r.With(s.requireCallbackToken).Post("/job/{id}/complete", s.completeJob)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Post("/generate_avatar", s.generateAvatar)
			r.Get("/history", s.history)
			r.Get("/dashboard", s.dashboard)

			r.Get("/job/{id}/status", s.jobStatus)
			r.Post("/job/{id}/resubmit", s.resubmitJob)

			r.Get("/video/{id}", s.streamVideo)
			r.Get("/stream/{id}", s.streamVideo)
			r.Get("/download/{id}", s.downloadVideo)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
