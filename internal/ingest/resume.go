package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"JobMailer/internal/models"
)

// SaveResume stores an uploaded PDF under the upload directory and points
// the settings at it. The previous resume file, if any, is removed.
func (s *Service) SaveResume(ctx context.Context, r io.Reader, filename string) (models.Settings, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return models.Settings{}, fmt.Errorf("%w: resume must be a PDF file", models.ErrValidation)
	}

	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) {
		return models.Settings{}, fmt.Errorf("%w: read upload: %w", models.ErrValidation, err)
	}
	if http.DetectContentType(head) != "application/pdf" {
		return models.Settings{}, fmt.Errorf("%w: resume must be a PDF file", models.ErrValidation)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return models.Settings{}, fmt.Errorf("%w: create upload dir: %w", models.ErrStorage, err)
	}

	name := "resume-" + uuid.NewString() + ".pdf"
	path := filepath.Join(s.uploadDir, name)
	if err := writeFile(path, br); err != nil {
		return models.Settings{}, fmt.Errorf("%w: save resume: %w", models.ErrStorage, err)
	}

	prev, err := s.settings.Get(ctx)
	if err != nil {
		_ = os.Remove(path)
		return models.Settings{}, err
	}

	updated, err := s.settings.Update(ctx, models.SettingsPatch{ResumeFilename: &name})
	if err != nil {
		_ = os.Remove(path)
		return models.Settings{}, err
	}

	if old := prev.ResumeFilename; old != "" && old != name {
		if err := os.Remove(filepath.Join(s.uploadDir, filepath.Base(old))); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove previous resume", zap.String("file", old), zap.Error(err))
		}
	}

	s.log.Info("resume uploaded", zap.String("file", name), zap.String("original", filename))
	return updated, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
