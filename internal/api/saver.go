package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"media-toolkit/internal/domain"
)

const maxNameAttempts = 1000

// PayloadSaver performs the save-as-file effect for embedded payloads.
type PayloadSaver interface {
	Save(ctx context.Context, name, contentType string, body io.Reader) (domain.Payload, error)
}

// DirSaver writes payloads into a directory, never overwriting existing files.
type DirSaver struct {
	dir      string
	mkdirAll func(path string, perm os.FileMode) error
	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)
	remove   func(name string) error
}

// NewDirSaver creates a saver rooted at dir.
func NewDirSaver(dir string) *DirSaver {
	return &DirSaver{
		dir:      dir,
		mkdirAll: os.MkdirAll,
		openFile: os.OpenFile,
		remove:   os.Remove,
	}
}

// Dir returns the target directory.
func (s *DirSaver) Dir() string {
	return s.dir
}

// Save copies body into a new file named after name. When the name is taken
// a numeric suffix is added: "clip (1).mp4", "clip (2).mp4", and so on.
func (s *DirSaver) Save(ctx context.Context, name, contentType string, body io.Reader) (domain.Payload, error) {
	if strings.TrimSpace(s.dir) == "" {
		return domain.Payload{}, errors.New("download directory is not configured")
	}
	if err := s.mkdirAll(s.dir, 0o755); err != nil {
		return domain.Payload{}, fmt.Errorf("create download directory: %w", err)
	}

	file, err := s.create(filepath.Base(name))
	if err != nil {
		return domain.Payload{}, err
	}
	path := file.Name()

	written, copyErr := io.Copy(file, ctxReader{ctx: ctx, r: body})
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = s.remove(path)
		if copyErr != nil {
			return domain.Payload{}, fmt.Errorf("write payload: %w", copyErr)
		}
		return domain.Payload{}, fmt.Errorf("close payload: %w", closeErr)
	}

	return domain.Payload{
		Filename:    filepath.Base(path),
		Path:        path,
		ContentType: contentType,
		Size:        written,
	}, nil
}

// create opens the first free candidate name exclusively.
func (s *DirSaver) create(name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		file, err := s.openFile(filepath.Join(s.dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create payload file: %w", err)
		}
	}
	return nil, fmt.Errorf("no free file name for %s in %s", name, s.dir)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
