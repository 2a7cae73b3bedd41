// ABOUTME: Tests for the raw artifact store
// ABOUTME: Covers inline vs file-backed placement, content addressing, and integrity checks
package rawstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/util"
)

type memRecorder struct {
	rows []*models.RawArtifact
}

func (m *memRecorder) Create(_ context.Context, a *models.RawArtifact) error {
	m.rows = append(m.rows, a)
	return nil
}

func readAll(t *testing.T, s *Store, a *models.RawArtifact) string {
	t.Helper()
	rc, err := s.Open(context.Background(), a)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestPutInline(t *testing.T) {
	s, err := New(t.TempDir(), 64)
	require.NoError(t, err)
	rec := &memRecorder{}

	a, err := s.Put(context.Background(), rec, "b1", strings.NewReader("[]"), "small.json", "chatgpt")
	require.NoError(t, err)
	assert.False(t, a.IsFileBacked())
	assert.Equal(t, int64(2), a.ByteLength)
	assert.Equal(t, util.HashString("[]"), a.ContentHash)
	assert.Equal(t, "[]", readAll(t, s, a))
	assert.Len(t, rec.rows, 1)
	require.NoError(t, s.Verify(context.Background(), a))
}

func TestPutFileBackedReusesContent(t *testing.T) {
	s, err := New(t.TempDir(), 8)
	require.NoError(t, err)
	rec := &memRecorder{}
	body := strings.Repeat("conversation ", 10)

	first, err := s.Put(context.Background(), rec, "b1", strings.NewReader(body), "a.json", "claude")
	require.NoError(t, err)
	second, err := s.Put(context.Background(), rec, "b2", strings.NewReader(body), "a.json", "claude")
	require.NoError(t, err)

	assert.True(t, first.IsFileBacked())
	assert.Equal(t, first.FilePath, second.FilePath)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Contains(t, first.FilePath, first.ContentHash[:2])
	assert.Equal(t, body, readAll(t, s, second))
	assert.Len(t, rec.rows, 2)
}

func TestVerifyDetectsTampering(t *testing.T) {
	s, err := New(t.TempDir(), 1)
	require.NoError(t, err)

	a, err := s.Put(context.Background(), &memRecorder{}, "b1", strings.NewReader("original"), "a.json", "chatgpt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.FilePath, []byte("tampered"), 0600))

	err = s.Verify(context.Background(), a)
	assert.True(t, errors.Is(err, ErrIntegrity))
}

func TestPutHonorsCancellation(t *testing.T) {
	s, err := New(t.TempDir(), 64)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &memRecorder{}
	_, err = s.Put(ctx, rec, "b1", strings.NewReader("data"), "a.json", "chatgpt")
	assert.Error(t, err)
	assert.Empty(t, rec.rows)
}

func TestRemoveRefusesOutsidePaths(t *testing.T) {
	s, err := New(t.TempDir(), 1)
	require.NoError(t, err)

	assert.Error(t, s.Remove("/etc/passwd"))

	a, err := s.Put(context.Background(), &memRecorder{}, "b1", strings.NewReader("bytes"), "a.json", "chatgpt")
	require.NoError(t, err)
	require.NoError(t, s.Remove(a.FilePath))
	_, err = os.Stat(a.FilePath)
	assert.True(t, os.IsNotExist(err))
}
