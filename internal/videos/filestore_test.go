package videos

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/server/internal/models"
)

func newVideo(id, folder string) *models.Video {
	finished := time.Date(2024, 1, 2, 10, 0, 5, 0, time.UTC)
	return &models.Video{
		VideoRecord: models.VideoRecord{
			ID:        id,
			Folder:    folder,
			Format:    models.FormatAVI,
			Region:    models.Region{Width: 1920, Height: 1200},
			CreatedAt: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		},
		SessionMetadata: models.SessionMetadata{
			Project: "acme",
			Status:  models.StatusPass,
			Meta:    map[string]string{"user": "bob", "password": "secret"},
			Logs:    []models.LogEntry{{Time: finished, Level: "INFO", Message: "clicked"}},
		},
		FinishedAt:      &finished,
		DurationSeconds: 5,
	}
}

func TestFileStore_SaveFind(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	v := newVideo("v1", "acme/login/v1")
	require.NoError(t, s.Save(ctx, v))
	assert.FileExists(t, filepath.Join(root, "acme", "login", "v1", "v1.json"))

	got, err := s.FindByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, v.Region, got.Region)
	assert.Equal(t, "secret", got.Meta["password"])
	assert.Len(t, got.Logs, 1)

	_, err = s.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SaveIsUpsert(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	v := newVideo("v1", "a/v1")
	require.NoError(t, s.Save(ctx, v))
	v.Status = models.StatusFail
	v.Folder = "b/v1"
	require.NoError(t, s.Save(ctx, v))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusFail, list[0].Status)
	assert.NoDirExists(t, filepath.Join(s.Root(), "a"))
}

func TestFileStore_ListSeesOtherWriters(t *testing.T) {
	root := t.TempDir()
	s1, err := NewFileStore(root, nil)
	require.NoError(t, err)
	s2, err := NewFileStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s1.Save(ctx, newVideo("v1", "p/v1")))
	require.NoError(t, s1.Save(ctx, newVideo("v2", "p/v2")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".tmp"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".tmp", "x.json"), []byte(`{"id":"hidden"}`), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(root, "p", "junk.json"), []byte(`not json`), 0o640))

	list, err := s2.List(ctx)
	require.NoError(t, err)
	ids := []string{}
	for _, v := range list {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{"v1", "v2"}, ids)

	got, err := s2.FindByID(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, "p/v2", got.Folder)
}

func TestFileStore_DeleteIdempotentAndPrunes(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newVideo("v1", "acme/feature/v1")))
	require.NoError(t, s.Delete(ctx, "v1"))
	assert.NoDirExists(t, filepath.Join(root, "acme"))
	assert.DirExists(t, root)

	_, err = s.FindByID(ctx, "v1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "v1"))
	assert.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestFileStore_SaveRejectsEmptyID(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Save(context.Background(), &models.Video{}), ErrStoreIO)
}

func TestFileStore_IgnoresSessionSidecars(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newVideo("v1", "acme/v1")))
	tmp := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0o750))
	sidecar := `{"id":"s9","state":"recording","record":{"id":"s9","folder":"acme","format":"avi"},"temp_path":"tmp/s9.avi"}`
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "s9"+SessionSidecarSuffix), []byte(sidecar), 0o640))

	fresh, err := NewFileStore(root, nil)
	require.NoError(t, err)
	list, err := fresh.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "v1", list[0].ID)

	_, err = fresh.FindByID(ctx, "s9")
	assert.ErrorIs(t, err, ErrNotFound)
}
