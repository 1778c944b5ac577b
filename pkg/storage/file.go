package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/HatiCode/shedcast/pkg/models"
)

const modelFileExt = ".model"

// FileStore keeps one codec blob per scope in a directory.
//
// Save writes to a temporary file in the same directory and renames it over
// <dir>/<scope>.model, so readers see either the previous file or the new
// one. A per-scope lock additionally orders Save against Load within the
// process.
type FileStore struct {
	dir   string
	codec models.Codec

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex
}

// NewFileStore creates the directory if needed and returns a store rooted at it.
// A nil codec uses models.BlobCodec.
func NewFileStore(dir string, codec models.Codec) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("model directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	if codec == nil {
		codec = models.BlobCodec{}
	}

	return &FileStore{
		dir:   dir,
		codec: codec,
		locks: make(map[string]*sync.RWMutex),
	}, nil
}

func (s *FileStore) lockFor(scope string) *sync.RWMutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[scope]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[scope] = l
	}
	return l
}

func (s *FileStore) path(scope string) string {
	return filepath.Join(s.dir, scope+modelFileExt)
}

// Save encodes the model and atomically replaces the scope's file.
func (s *FileStore) Save(ctx context.Context, model models.TrainedModel) error {
	if err := ValidateScope(model.Scope); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.codec.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	l := s.lockFor(model.Scope)
	l.Lock()
	defer l.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+model.Scope+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write model file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(model.Scope)); err != nil {
		return fmt.Errorf("replace model file: %w", err)
	}
	return nil
}

// Load reads and decodes the scope's file. A missing file is not an error.
func (s *FileStore) Load(ctx context.Context, scope string) (models.TrainedModel, bool, error) {
	if err := ValidateScope(scope); err != nil {
		return models.TrainedModel{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return models.TrainedModel{}, false, err
	}

	l := s.lockFor(scope)
	l.RLock()
	data, err := os.ReadFile(s.path(scope))
	l.RUnlock()

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.TrainedModel{}, false, nil
		}
		return models.TrainedModel{}, false, fmt.Errorf("read model file: %w", err)
	}

	model, err := s.codec.Unmarshal(data)
	if err != nil {
		return models.TrainedModel{}, false, fmt.Errorf("failed to unmarshal model %q: %w", scope, err)
	}
	return model, true, nil
}

// Dir returns the directory models are written to.
func (s *FileStore) Dir() string {
	return s.dir
}
