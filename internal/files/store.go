// Package files implements the opaque blob store backing uploads: each
// stored file is keyed by a generated name, the original name is kept only
// as an extension hint.
package files

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNotExist = errors.New("file does not exist")

// Config defines fields used for parsing from environment variables
type Config struct {
	Dir string `env:"UPLOAD_DIR" envDefault:"uploads"`
}

// Store writes uploaded blobs into a single flat directory
type Store struct {
	logger *zap.SugaredLogger
	dir    string
}

func New(logger *zap.SugaredLogger, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		dir:    dir,
	}, nil
}

// Save stores the contents of r under a generated unique name, preserving
// the extension of the client-provided name, and returns the stored name.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	stored := uuid.NewString() + filepath.Ext(name)

	f, err := os.OpenFile(filepath.Join(s.dir, stored), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", err
	}

	s.logger.Debugf("Stored file (%s) as %s", name, stored)

	return stored, nil
}

// Open returns the stored file for reading. Names carrying path separators
// are rejected so clients cannot escape the upload directory.
func (s *Store) Open(name string) (io.ReadSeekCloser, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, ErrNotExist
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, err
	}

	return f, nil
}
