package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/book-expert/avatar-service/internal/core"
)

const timeLayout = time.RFC3339

type userKey struct{}

type errorResponse struct {
	Message string `json:"message"`
}

type submitResponse struct {
	Message string      `json:"message"`
	JobID   string      `json:"job_id"`
	Status  core.Status `json:"status"`
}

type jobResponse struct {
	ID            string      `json:"_id"`
	Text          string      `json:"text"`
	Gender        string      `json:"gender"`
	Status        core.Status `json:"status"`
	Stage         core.Stage  `json:"stage"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CreatedAt     string      `json:"created_at"`
}

type statusResponse struct {
	JobID         string      `json:"job_id"`
	Status        core.Status `json:"status"`
	Stage         core.Stage  `json:"stage"`
	FailureReason string      `json:"failure_reason,omitempty"`
	VideoURL      string      `json:"video_url,omitempty"`
	UpdatedAt     string      `json:"updated_at"`
}

type dashboardResponse struct {
	TotalGenerations  int           `json:"total_generations"`
	RecentGenerations []jobResponse `json:"recent_generations"`
}

func (s *Server) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) error(w http.ResponseWriter, code int, message string) {
	s.json(w, code, errorResponse{Message: message})
}

// requireUser rejects requests without a caller identity.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(s.config.UserHeader)
		if userID == "" {
			s.error(w, http.StatusUnauthorized, "User identity is missing")

			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func (s *Server) requireCallbackToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.CallbackToken == "" {
			s.error(w, http.StatusNotFound, "Completion callback is disabled")

			return
		}

		token := r.Header.Get(CallbackTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.CallbackToken)) != 1 {
			s.error(w, http.StatusUnauthorized, "Callback token is missing or wrong")

			return
		}

		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)

	return userID
}

func toJobResponse(job *core.GenerationJob) jobResponse {
	return jobResponse{
		ID:            job.ID,
		Text:          job.Text,
		Gender:        job.Gender,
		Status:        job.Status,
		Stage:         job.Stage,
		FailureReason: job.FailureReason,
		CreatedAt:     job.CreatedAt.UTC().Format(timeLayout),
	}
}

func toJobResponses(jobs []*core.GenerationJob) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}

	return out
}
