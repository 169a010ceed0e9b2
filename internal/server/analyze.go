package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"deployguard/internal/ingest"
	"deployguard/internal/models"
	"deployguard/internal/pipeline"
)

var errDuplicate = errors.New("duplicate artifact")

// ArtifactInput is one artifact of a JSON request. Kind is detected from
// the filename and content when empty.
type ArtifactInput struct {
	Filename string `json:"filename" binding:"required"`
	Content  string `json:"content" binding:"required"`
	Kind     string `json:"kind" binding:"omitempty,oneof=sql infra manifest"`
}

type AnalyzeRequest struct {
	Artifacts    []ArtifactInput     `json:"artifacts" binding:"required,min=1,dive"`
	Dependencies []models.Dependency `json:"dependencies"`
}

func (s *Server) handleAnalyzeUpload(c *gin.Context) {
	artifacts, err := s.readUploads(c)
	if err != nil {
		abort(c, err)
		return
	}
	s.run(c, pipeline.Request{Artifacts: artifacts})
}

func (s *Server) handleAnalyzeJSON(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	artifacts, err := s.fromInputs(req.Artifacts)
	if err != nil {
		abort(c, err)
		return
	}
	s.run(c, pipeline.Request{Artifacts: artifacts, Dependencies: req.Dependencies})
}

// readUploads turns the multipart "files" field into artifacts.
func (s *Server) readUploads(c *gin.Context) ([]models.Artifact, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("%w: expected multipart form with a 'files' field", models.ErrNoArtifacts)
	}
	files := form.File["files"]
	if len(files) == 0 {
		return nil, models.ErrNoArtifacts
	}
	if err := s.checkCount(len(files)); err != nil {
		return nil, err
	}

	artifacts := make([]models.Artifact, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("opening uploaded file %s: %w", fh.Filename, err)
		}
		a, err := ingest.ReadFrom(fh.Filename, f, s.limits.MaxFileSize)
		f.Close()
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, unique(artifacts)
}

func (s *Server) fromInputs(inputs []ArtifactInput) ([]models.Artifact, error) {
	if err := s.checkCount(len(inputs)); err != nil {
		return nil, err
	}
	artifacts := make([]models.Artifact, 0, len(inputs))
	for _, in := range inputs {
		if int64(len(in.Content)) > s.limits.MaxFileSize {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrTooLarge, in.Filename, s.limits.MaxFileSize)
		}
		a, err := artifactFromInput(in)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, unique(artifacts)
}

func artifactFromInput(in ArtifactInput) (models.Artifact, error) {
	if in.Kind == "" {
		return ingest.NewArtifact(in.Filename, in.Content)
	}
	kind, err := models.ParseKind(in.Kind)
	if err != nil {
		return models.Artifact{}, err
	}
	return ingest.NewArtifactOfKind(in.Filename, in.Content, kind)
}

func (s *Server) checkCount(n int) error {
	if s.limits.MaxFiles > 0 && n > s.limits.MaxFiles {
		return fmt.Errorf("%w: %d files, limit is %d", ingest.ErrTooManyFiles, n, s.limits.MaxFiles)
	}
	return nil
}

func unique(artifacts []models.Artifact) error {
	seen := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		if seen[a.ID] {
			return fmt.Errorf("%w: %s", errDuplicate, a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
