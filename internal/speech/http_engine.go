package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/avatar-service/internal/fileutil"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "speech service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "speech service returned non-OK status: %s, body: %s"
)

var (
	// ErrEmptyAudioResponse is returned when the service answers 200 with no body.
	ErrEmptyAudioResponse = errors.New("received empty audio data")
	// ErrUnexpectedContentType is returned when the service answers with something other than WAV.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrServiceStatus is returned for non-OK responses.
	ErrServiceStatus = errors.New("speech service request failed")
)

// HTTPConfig configures the HTTP engine.
type HTTPConfig struct {
	BaseURL     string
	Language    string
	Temperature float64
	Timeout     time.Duration
}

// HTTPEngine synthesizes speech through a standalone XTTS server.
type HTTPEngine struct {
	httpClient *http.Client
	config     HTTPConfig
}

// SpeechRequest is the JSON payload of a generation request.
type SpeechRequest struct {
	Text        string  `json:"text"`
	Speaker     string  `json:"speaker"`
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

// ErrorResponse is the structured error body returned by the server.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPEngine creates an HTTPEngine. The timeout applies to every request.
func NewHTTPEngine(cfg HTTPConfig) *HTTPEngine {
	return &HTTPEngine{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Synthesize implements Engine.
func (e *HTTPEngine) Synthesize(ctx context.Context, text, speaker, destination string) error {
	requestBody, err := json.Marshal(SpeechRequest{
		Text:        text,
		Speaker:     speaker,
		Language:    e.config.Language,
		Temperature: e.config.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.config.BaseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to speech service at %s: %w", e.config.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	mediaType, _, _ := strings.Cut(resp.Header.Get(headerContentType), ";")
	if strings.TrimSpace(mediaType) != contentTypeWAV {
		return fmt.Errorf("%w: "+errFmtUnexpectedContentType, ErrUnexpectedContentType, mediaType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return ErrEmptyAudioResponse
	}

	err = os.WriteFile(destination, audioData, fileutil.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio to %s: %w", destination, err)
	}

	return nil
}

// HealthCheck verifies that the speech server is running.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.BaseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", e.config.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %s", ErrServiceStatus, resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("%w: "+errFmtServiceErrorWithCode,
			ErrServiceStatus, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf("%w: "+errFmtServiceNonOKStatus, ErrServiceStatus, resp.Status, string(body))
}
