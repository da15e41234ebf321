package checkpoint

import (
	"context"
	"sync"

	"github.com/BearBump/BostaSync/internal/models"
	"github.com/BearBump/BostaSync/internal/storage/atomicfile"
	"github.com/pkg/errors"
)

const DefaultPath = "sync_state.json"

// FileStore keeps the resume state in one JSON document. The document is read
// once on Load; every Update rewrites it atomically.
type FileStore struct {
	path string

	mu     sync.Mutex
	state  models.ResumeState
	loaded bool
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (models.ResumeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.state, nil
	}

	unlock, err := atomicfile.Lock(ctx, s.path)
	if err != nil {
		return models.ResumeState{}, err
	}
	defer unlock()

	var st models.ResumeState
	if _, err := atomicfile.ReadJSON(s.path, &st); err != nil {
		return models.ResumeState{}, errors.Wrap(err, "load checkpoint")
	}
	s.state = st
	s.loaded = true
	return st, nil
}

// Update applies fn to the current state and persists the result. The
// in-memory copy only changes when the write succeeds.
func (s *FileStore) Update(ctx context.Context, fn func(st *models.ResumeState)) (models.ResumeState, error) {
	if _, err := s.Load(ctx); err != nil {
		return models.ResumeState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	fn(&next)

	unlock, err := atomicfile.Lock(ctx, s.path)
	if err != nil {
		return s.state, err
	}
	defer unlock()

	if err := atomicfile.WriteJSON(s.path, next); err != nil {
		return s.state, errors.Wrap(err, "save checkpoint")
	}
	s.state = next
	return next, nil
}

// Snapshot returns the last loaded or written state without touching disk.
func (s *FileStore) Snapshot() models.ResumeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
