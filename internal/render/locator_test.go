package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visdom/internal/domain"
)

func writeVideo(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newLocatorFixture(t *testing.T) (*ManimLocator, Query) {
	t.Helper()
	root := t.TempDir()
	loc, err := NewManimLocator(filepath.Join(root, "public"), zerolog.Nop())
	require.NoError(t, err)
	return loc, Query{
		MediaRoot:  filepath.Join(root, "media"),
		TaskID:     "task1",
		ScriptStem: "gen_task1_1",
		OutputName: "task1.mp4",
		Scene:      "GenScene",
		Quality:    "l",
	}
}

func TestLocateStrategies(t *testing.T) {
	tests := []struct {
		name   string
		create string
	}{
		{name: "explicit output name nested", create: "videos/gen_task1_1/480p15/task1.mp4"},
		{name: "explicit output name at media root", create: "task1.mp4"},
		{name: "default scene name", create: "videos/gen_task1_1/480p15/GenScene.mp4"},
		{name: "renamed file in quality dir", create: "videos/gen_task1_1/480p15/Other.mp4"},
		{name: "walk finds other quality", create: "videos/gen_task1_1/720p30/GenScene.mp4"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			loc, q := newLocatorFixture(t)
			src := filepath.Join(q.MediaRoot, filepath.FromSlash(tc.create))
			writeVideo(t, src, "video")

			got, err := loc.Locate(context.Background(), q)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(loc.PublicDir(), "task1.mp4"), got)

			data, err := os.ReadFile(got)
			require.NoError(t, err)
			assert.Equal(t, "video", string(data))
			_, err = os.Stat(src)
			assert.True(t, os.IsNotExist(err), "source should be moved, not copied")
		})
	}
}

func TestLocateStrategyOrder(t *testing.T) {
	loc, q := newLocatorFixture(t)
	qualityDir := filepath.Join(q.MediaRoot, "videos", q.ScriptStem, "480p15")
	writeVideo(t, filepath.Join(qualityDir, "GenScene.mp4"), "scene")
	writeVideo(t, filepath.Join(qualityDir, "task1.mp4"), "named")

	got, err := loc.Locate(context.Background(), q)
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "named", string(data))
}

func TestLocateIsMove(t *testing.T) {
	loc, q := newLocatorFixture(t)
	writeVideo(t, filepath.Join(q.MediaRoot, "videos", q.ScriptStem, "480p15", "GenScene.mp4"), "video")

	_, err := loc.Locate(context.Background(), q)
	require.NoError(t, err)

	_, err = loc.Locate(context.Background(), q)
	assert.True(t, errors.Is(err, domain.ErrArtifactMissing), "second locate should not find the moved video, got %v", err)
}

func TestLocateNotFound(t *testing.T) {
	loc, q := newLocatorFixture(t)
	writeVideo(t, filepath.Join(q.MediaRoot, "videos", "gen_other_1", "480p15", "GenScene.mp4"), "other task")
	writeVideo(t, filepath.Join(q.MediaRoot, "videos", q.ScriptStem, "480p15", "partial_movie_files", "GenScene", "0001.mp4"), "fragment")

	_, err := loc.Locate(context.Background(), q)
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)
}

func TestLocateIgnoresPublishedTarget(t *testing.T) {
	root := t.TempDir()
	loc, err := NewManimLocator(root, zerolog.Nop())
	require.NoError(t, err)
	writeVideo(t, filepath.Join(root, "task1.mp4"), "already published")

	_, err = loc.Locate(context.Background(), Query{
		MediaRoot:  root,
		TaskID:     "task1",
		ScriptStem: "gen_task1_1",
		OutputName: "task1.mp4",
		Scene:      "GenScene",
		Quality:    "l",
	})
	assert.ErrorIs(t, err, domain.ErrArtifactMissing)
}

func TestSweepRemovesLeftovers(t *testing.T) {
	loc, q := newLocatorFixture(t)
	leftover := filepath.Join(q.MediaRoot, "videos", q.ScriptStem, "480p15", "partial_movie_files", "x.mp4")
	writeVideo(t, leftover, "x")
	keep := filepath.Join(q.MediaRoot, "videos", "gen_other_1", "480p15", "GenScene.mp4")
	writeVideo(t, keep, "y")

	loc.Sweep(q.MediaRoot, q.ScriptStem)

	_, err := os.Stat(filepath.Join(q.MediaRoot, "videos", q.ScriptStem))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err)

	loc.Sweep(q.MediaRoot, "../escape")
}

func TestGuard(t *testing.T) {
	guard := NewGuard()
	tests := []struct {
		name    string
		script  string
		literal string
	}{
		{name: "clean", script: "from manim import *\nclass GenScene(Scene):\n    pass\n"},
		{name: "import os", script: "import os\n", literal: "import os"},
		{name: "subprocess", script: "import subprocess\n", literal: "import subprocess"},
		{name: "shutil anywhere", script: "x = 'shutil'", literal: "shutil"},
		{name: "rm", script: "# rm -rf /", literal: "rm -rf"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := guard.Check(tc.script)
			if tc.literal == "" {
				assert.NoError(t, err)
				return
			}
			var ge *GuardError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tc.literal, ge.Literal)
			assert.ErrorIs(t, err, domain.ErrGuardRejected)
		})
	}
}
