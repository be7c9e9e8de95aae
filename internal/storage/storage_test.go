package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/scenetag/internal/config"
	"github.com/Faultbox/scenetag/internal/errs"
)

func TestFileStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "annotations")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Load(ctx, "room.ply")
	assert.True(t, errors.Is(err, errs.ErrResourceNotFound))

	require.NoError(t, s.Save(ctx, "room.ply", []byte(`[{"description":"a"}]`)))
	require.NoError(t, s.Save(ctx, "room.ply", []byte(`[]`)))

	data, err := s.Load(ctx, "room.ply")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	path, err := s.Path("room.ply")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "room_annotations.json"), path)

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "room_annotations.json", entries[0].Name())
}

func TestFileStore_Rejects(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Save(ctx, "room.ply", []byte("{not json"))
	assert.True(t, errors.Is(err, errs.ErrValidation))

	for _, name := range []string{"", "..", "."} {
		_, err := s.Path(name)
		assert.Truef(t, errors.Is(err, errs.ErrValidation), "name %q", name)
	}

	for _, name := range []string{"../../etc/room.ply", "/etc/room.ply", `scans\room.ply`, "scans/.ply"} {
		_, err := s.Path(name)
		assert.Truef(t, errors.Is(err, errs.ErrValidation), "name %q", name)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.Save(cancelled, "room.ply", []byte("[]")))

	_, err = NewFileStore("")
	assert.Error(t, err)
}

func TestFileStore_NestedNames(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "scans/room.ply", []byte(`["scans"]`)))
	require.NoError(t, s.Save(ctx, "other/room.ply", []byte(`["other"]`)))
	require.NoError(t, s.Save(ctx, "room.ply", []byte(`["top"]`)))

	for name, want := range map[string]string{
		"scans/room.ply": `["scans"]`,
		"other/room.ply": `["other"]`,
		"room.ply":       `["top"]`,
	} {
		data, err := s.Load(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, string(data), name)
	}

	path, err := s.Path("scans/room.ply")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scans%2Froom_annotations.json"), path)
}

func TestFileStore_FileMode(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "room.ply", []byte(`[]`)))

	path, err := s.Path("room.ply")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Data.AnnotationsDir = t.TempDir()

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	assert.NoError(t, s.Close())

	cfg.Annotations.Backend = "postgres"
	cfg.Annotations.PostgresDSN = ""
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Annotations.Backend = "s3"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("SCENETAG_TEST_DSN")
	if dsn == "" {
		t.Skip("SCENETAG_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	mesh := "test_" + filepath.Base(t.TempDir()) + ".ply"
	_, err = s.Load(ctx, mesh)
	assert.True(t, errors.Is(err, errs.ErrResourceNotFound))

	require.NoError(t, s.Save(ctx, mesh, []byte(`[{"description": "a"}]`)))
	require.NoError(t, s.Save(ctx, mesh, []byte(`[]`)))

	data, err := s.Load(ctx, mesh)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	_, err = s.DB.ExecContext(ctx, `delete from annotations where mesh=$1`, mesh)
	require.NoError(t, err)
}
