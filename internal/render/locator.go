package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"visdom/internal/domain"
	"visdom/internal/infra"
)

const defaultWalkDepth = 4

// Query identifies the video a finished render should have produced.
type Query struct {
	MediaRoot  string
	TaskID     string
	ScriptStem string
	OutputName string
	Scene      string
	Quality    string
}

// Locator finds a rendered video and publishes it under the task id.
type Locator interface {
	Locate(ctx context.Context, q Query) (string, error)
}

// ManimLocator searches the renderer's media tree in a fixed order and moves
// the first match to <PublicDir>/<task>.mp4. A miss returns
// domain.ErrArtifactMissing.
type ManimLocator struct {
	publicDir string
	maxDepth  int
	logger    zerolog.Logger
}

func NewManimLocator(publicDir string, logger zerolog.Logger) (*ManimLocator, error) {
	abs, err := filepath.Abs(publicDir)
	if err != nil {
		return nil, fmt.Errorf("locator: resolve public dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("locator: ensure public dir: %w", err)
	}
	return &ManimLocator{
		publicDir: abs,
		maxDepth:  defaultWalkDepth,
		logger:    logger.With().Str("component", "artifact_locator").Logger(),
	}, nil
}

// PublicDir returns the flat directory videos are published into.
func (l *ManimLocator) PublicDir() string { return l.publicDir }

// Target is the published path for a task.
func (l *ManimLocator) Target(taskID string) string {
	return filepath.Join(l.publicDir, taskID+".mp4")
}

func (l *ManimLocator) Locate(ctx context.Context, q Query) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := l.Target(q.TaskID)
	qualityDir := filepath.Join(q.MediaRoot, "videos", q.ScriptStem, infra.QualityDirs[q.Quality])

	strategies := []struct {
		name  string
		paths func() []string
	}{
		{"output_name", func() []string {
			return []string{filepath.Join(qualityDir, q.OutputName), filepath.Join(q.MediaRoot, q.OutputName)}
		}},
		{"scene_name", func() []string {
			return []string{filepath.Join(qualityDir, q.Scene+".mp4")}
		}},
		{"quality_dir", func() []string { return mp4sIn(qualityDir) }},
		{"walk", func() []string { return l.walk(q.MediaRoot, q.ScriptStem) }},
	}

	for _, s := range strategies {
		for _, candidate := range s.paths() {
			if samePath(candidate, target) || !isFile(candidate) {
				continue
			}
			if err := moveFile(candidate, target); err != nil {
				return "", fmt.Errorf("publish video: %w", err)
			}
			l.logger.Debug().Str("strategy", s.name).Str("from", candidate).Str("task_id", q.TaskID).Msg("video located")
			return target, nil
		}
	}
	return "", domain.ErrArtifactMissing
}

// Sweep removes the renderer's per-script leftovers. Failures are logged only.
func (l *ManimLocator) Sweep(mediaRoot, stem string) {
	if stem == "" || strings.ContainsAny(stem, `/\`) {
		return
	}
	for _, dir := range []string{
		filepath.Join(mediaRoot, "videos", stem),
		filepath.Join(mediaRoot, "images", stem),
	} {
		if err := os.RemoveAll(dir); err != nil {
			l.logger.Warn().Err(err).Str("dir", dir).Msg("sweep media leftovers failed")
		}
	}
}

// walk returns the first mp4 whose path below root mentions stem, skipping
// partial movie fragments and directories deeper than maxDepth.
func (l *ManimLocator) walk(root, stem string) []string {
	if stem == "" {
		return nil
	}
	var found []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "partial_movie_files" || strings.Count(rel, string(filepath.Separator)) >= l.maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".mp4") && strings.Contains(filepath.Dir(rel), stem) {
			found = append(found, path)
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func mp4sIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".mp4") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// moveFile renames src to dst, falling back to copy and remove when the two
// live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var _ Locator = (*ManimLocator)(nil)
