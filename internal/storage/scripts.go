package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ScriptStore writes generated renderer scripts into a work directory, one
// file per attempt, and removes them once their outcome is known.
type ScriptStore struct {
	files  *FileStore
	logger zerolog.Logger
}

// NewScriptStore creates the work directory if needed.
func NewScriptStore(workDir string, logger zerolog.Logger) (*ScriptStore, error) {
	files, err := NewFileStore(workDir)
	if err != nil {
		return nil, err
	}
	return &ScriptStore{files: files, logger: logger.With().Str("component", "script_store").Logger()}, nil
}

// Dir returns the absolute work directory.
func (s *ScriptStore) Dir() string {
	return s.files.BasePath()
}

// ScriptName is the file name for a task attempt: gen_<task>_<ordinal>.py.
func ScriptName(taskID string, ordinal int) string {
	return fmt.Sprintf("gen_%s_%d.py", taskID, ordinal)
}

// DevScriptName is the file name for a developer run: dev_<task>.py.
func DevScriptName(taskID string) string {
	return fmt.Sprintf("dev_%s.py", taskID)
}

// Write stores the attempt script byte for byte and returns its absolute path.
func (s *ScriptStore) Write(ctx context.Context, taskID string, ordinal int, text string) (string, error) {
	if !taskIDPattern.MatchString(taskID) {
		return "", fmt.Errorf("storage: invalid task id %q", taskID)
	}
	if ordinal < 1 {
		return "", fmt.Errorf("storage: invalid attempt ordinal %d", ordinal)
	}
	return s.files.Write(ctx, ScriptName(taskID, ordinal), []byte(text))
}

// WriteDev stores a developer-supplied script.
func (s *ScriptStore) WriteDev(ctx context.Context, taskID, text string) (string, error) {
	if !taskIDPattern.MatchString(taskID) {
		return "", fmt.Errorf("storage: invalid task id %q", taskID)
	}
	return s.files.Write(ctx, DevScriptName(taskID), []byte(text))
}

// Remove deletes a script previously returned by Write. Failures are logged
// and otherwise ignored.
func (s *ScriptStore) Remove(path string) {
	if path == "" {
		return
	}
	rel, err := filepath.Rel(s.files.BasePath(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		s.logger.Warn().Str("path", path).Msg("refusing to remove script outside work dir")
		return
	}
	if err := s.files.Remove(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", path).Msg("remove script failed")
	}
}

// Stem returns the script file name without its extension; the renderer
// names its output directories after it.
func Stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
