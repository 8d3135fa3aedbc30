package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/iuran/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("blobstore",
	fx.Provide(NewFromConfig),
)

var (
	ErrNotFound  = errors.New("blob_not_found")
	ErrInvalidID = errors.New("invalid_blob_id")
)

// Store keeps opaque payloads addressed by generated ids.
type Store interface {
	Put(ctx context.Context, contentType string, r io.Reader) (string, error)
	URLFor(ctx context.Context, blobID string) (string, error)
	Open(ctx context.Context, blobID string) (io.ReadCloser, string, error)
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// FS writes blobs under a directory; URLs are built from a public base that
// is expected to serve that directory.
type FS struct {
	dir     string
	baseURL string
	log     *zap.Logger
}

func NewFromConfig(cfg config.Config, log *zap.Logger) (Store, error) {
	return NewFS(cfg.Blob.Dir, cfg.Blob.PublicBaseURL, log)
}

func NewFS(dir, baseURL string, log *zap.Logger) (*FS, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("blob dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FS{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.Named("blobstore"),
	}, nil
}

func (s *FS) Put(ctx context.Context, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString() + extensions[strings.ToLower(strings.TrimSpace(contentType))]
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, id)); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}

	s.log.Debug("blob stored", zap.String("blob_id", id))
	return id, nil
}

func (s *FS) URLFor(_ context.Context, blobID string) (string, error) {
	if err := validateID(blobID); err != nil {
		return "", err
	}
	return s.baseURL + "/" + blobID, nil
}

func (s *FS) Open(_ context.Context, blobID string) (io.ReadCloser, string, error) {
	if err := validateID(blobID); err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(s.dir, blobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	contentType := contentTypes[filepath.Ext(blobID)]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

func validateID(blobID string) error {
	id := strings.TrimSuffix(blobID, filepath.Ext(blobID))
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}
