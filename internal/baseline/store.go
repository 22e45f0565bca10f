// Package baseline persists the last tree state known to be in sync between
// the working document and the remote tracker. A baseline is committed exactly
// once per successful sync; committing unchanged content is a benign no-op.
package baseline

import (
	"errors"
	"sync"

	"github.com/agentworkforce/trackfile/internal/tracker"
)

var (
	ErrNoBaseline   = errors.New("no baseline")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the abstract snapshot interface: get the last snapshot for a key,
// put a new one. The persistence mechanism behind it is swappable.
type Store interface {
	Read(key string) (*tracker.Node, error)
	Commit(key string, tree *tracker.Node, message string) error
	Close() error
}

type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: map[string][]byte{}}
}

func (s *MemoryStore) Read(key string) (*tracker.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.snapshots[key]
	if !ok {
		return nil, ErrNoBaseline
	}
	return tracker.DecodeDocument(data)
}

func (s *MemoryStore) Commit(key string, tree *tracker.Node, message string) error {
	if tree == nil {
		return ErrInvalidInput
	}
	_ = message
	data, err := tracker.EncodeDocument(tree)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = data
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
