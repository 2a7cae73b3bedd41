// ABOUTME: Content-addressed storage for uploaded export files
// ABOUTME: Small artifacts live inline in the database, large ones under <data>/raw/<hh>/<hash>
package rawstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/util"
)

// ErrIntegrity is returned when stored bytes no longer match the recorded hash
var ErrIntegrity = errors.New("artifact content does not match recorded hash")

// Recorder persists artifact rows
type Recorder interface {
	Create(ctx context.Context, a *models.RawArtifact) error
}

// Store writes raw artifacts to disk or inline
type Store struct {
	root            string
	inlineThreshold int64
}

// New creates a Store rooted at dir; artifacts smaller than inlineThreshold bytes are kept inline
func New(dir string, inlineThreshold int64) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create raw store: %w", err)
	}
	return &Store{root: dir, inlineThreshold: inlineThreshold}, nil
}

// Root returns the directory holding file-backed artifacts
func (s *Store) Root() string {
	return s.root
}

// Put streams r into the store and records a new artifact row through rec.
// Identical content reuses the existing file, but the row is always new.
func (s *Store) Put(ctx context.Context, rec Recorder, batchID string, r io.Reader, name, declaredType string) (*models.RawArtifact, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hasher := util.NewHasher()
	head := &capped{limit: s.inlineThreshold}
	n, err := io.Copy(io.MultiWriter(tmp, hasher, head), &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", name, err)
	}

	a := &models.RawArtifact{
		ID:           uuid.New().String(),
		BatchID:      batchID,
		Name:         name,
		DeclaredType: declaredType,
		ByteLength:   n,
		ContentHash:  util.HexSum(hasher),
		CreatedAt:    time.Now().UTC(),
	}

	if n < s.inlineThreshold {
		a.Inline = head.buf.Bytes()
	} else {
		path, err := s.promote(tmpPath, a.ContentHash)
		if err != nil {
			return nil, err
		}
		a.FilePath = path
	}

	if err := rec.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to record artifact %s: %w", name, err)
	}
	return a, nil
}

func (s *Store) pathFor(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// promote moves a staged file to its content address unless it is already there
func (s *Store) promote(tmpPath, hash string) (string, error) {
	dst := s.pathFor(hash)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return dst, nil
}

// Open returns the artifact bytes, preferring the file over the inline copy
func (s *Store) Open(ctx context.Context, a *models.RawArtifact) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.IsFileBacked() {
		f, err := os.Open(a.FilePath) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact %s: %w", a.ID, err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(a.Inline)), nil
}

// Verify recomputes the artifact hash and byte length
func (s *Store) Verify(ctx context.Context, a *models.RawArtifact) error {
	rc, err := s.Open(ctx, a)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	hasher := util.NewHasher()
	n, err := io.Copy(hasher, &ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", a.ID, err)
	}
	if n != a.ByteLength || util.HexSum(hasher) != a.ContentHash {
		return fmt.Errorf("%w: %s", ErrIntegrity, a.ID)
	}
	return nil
}

// Remove deletes a file-backed artifact's file. Paths outside the store are refused.
func (s *Store) Remove(path string) error {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s outside raw store", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// capped buffers at most limit bytes and silently drops the rest
type capped struct {
	buf   bytes.Buffer
	limit int64
}

func (c *capped) Write(p []byte) (int, error) {
	room := c.limit - int64(c.buf.Len())
	if room > 0 {
		if int64(len(p)) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
