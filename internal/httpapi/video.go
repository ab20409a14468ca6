package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/book-expert/avatar-service/internal/artifact"
	"github.com/book-expert/avatar-service/internal/core"
	"github.com/book-expert/avatar-service/internal/fileutil"
)

const videoContentType = "video/mp4"

func (s *Server) streamVideo(w http.ResponseWriter, r *http.Request) {
	s.serveVideo(w, r, false)
}

func (s *Server) downloadVideo(w http.ResponseWriter, r *http.Request) {
	s.serveVideo(w, r, true)
}

// serveVideo writes the final video of a completed job. Range requests are
// honoured through http.ServeContent.
func (s *Server) serveVideo(w http.ResponseWriter, r *http.Request, attachment bool) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	if job.Stage != core.StageCompleted {
		s.error(w, http.StatusConflict, "Video is not ready")

		return
	}

	content, closeContent, err := s.openVideo(r, job)
	if errors.Is(err, core.ErrObjectNotFound) {
		s.error(w, http.StatusNotFound, "Video not found")

		return
	}

	if err != nil {
		s.log.Error("Failed to open video for job %s: %v", job.ID, err)
		s.error(w, http.StatusInternalServerError, "Internal server error")

		return
	}
	defer closeContent()

	w.Header().Set("Content-Type", videoContentType)

	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(job.ID)))
	}

	http.ServeContent(w, r, artifact.OutputVideoName(job.ID), job.UpdatedAt, content)
}

// openVideo serves from the local video directory. A video that only exists in
// the object store is streamed into that directory first so range requests can
// seek.
func (s *Server) openVideo(r *http.Request, job *core.GenerationJob) (io.ReadSeeker, func(), error) {
	file, err := os.Open(job.VideoFile)
	if errors.Is(err, os.ErrNotExist) && s.videos != nil {
		err = s.cacheVideo(r.Context(), job)
		if err != nil {
			return nil, nil, err
		}

		file, err = os.Open(job.VideoFile)
	}

	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, job.VideoFile)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", job.VideoFile, err)
	}

	return file, func() { _ = file.Close() }, nil
}

// cacheVideo copies the stored object to job.VideoFile. Concurrent requests each
// write their own temporary file and the last rename wins.
func (s *Server) cacheVideo(ctx context.Context, job *core.GenerationJob) error {
	reader, err := s.videos.Open(ctx, artifact.OutputVideoName(job.ID))
	if err != nil {
		return err
	}
	defer reader.Close()

	err = fileutil.EnsureParentDir(job.VideoFile)
	if err != nil {
		return err
	}

	temp, err := os.CreateTemp(filepath.Dir(job.VideoFile), filepath.Base(job.VideoFile)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create cache file for %s: %w", job.ID, err)
	}

	size, copyErr := io.Copy(temp, reader)
	closeErr := temp.Close()

	err = errors.Join(copyErr, closeErr)
	if err != nil {
		_ = os.Remove(temp.Name())

		return fmt.Errorf("failed to cache video of job %s: %w", job.ID, err)
	}

	err = fileutil.Commit(temp.Name(), job.VideoFile)
	if err != nil {
		_ = os.Remove(temp.Name())

		return err
	}

	s.log.Info("Cached video of job %s from object store (%s)", job.ID, fileutil.FormatFileSize(size))

	return nil
}

// videoReady reports whether the finished video of job exists locally or in the
// object store.
func (s *Server) videoReady(ctx context.Context, job *core.GenerationJob) (bool, error) {
	if fileutil.Exists(job.VideoFile) {
		return true, nil
	}

	if s.videos == nil {
		return false, nil
	}

	reader, err := s.videos.Open(ctx, artifact.OutputVideoName(job.ID))
	if errors.Is(err, core.ErrObjectNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	_ = reader.Close()

	return true, nil
}

func downloadName(jobID string) string {
	return fmt.Sprintf("avatar_%s.mp4", jobID)
}
