package baseline

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/agentworkforce/trackfile/internal/tracker"
)

const gitAuthorName = "trackfile"
const gitAuthorEmail = "trackfile@localhost"

// GitStore keeps baseline snapshots as files in a single git repository, one
// commit per successful sync. The commit history doubles as a sync audit log.
type GitStore struct {
	dir string
	mu  sync.Mutex
}

func NewGitStore(dir string) (*GitStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	return &GitStore{dir: filepath.Clean(dir)}, nil
}

func (s *GitStore) Read(key string) (*tracker.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNoBaseline
		}
		return nil, fmt.Errorf("open baseline repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, ErrNoBaseline
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	file, err := commitObj.File(snapshotFileName(key))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, ErrNoBaseline
		}
		return nil, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	return tracker.DecodeDocument(data)
}

func (s *GitStore) Commit(key string, tree *tracker.Node, message string) error {
	if tree == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openOrInit()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	data, err := tracker.EncodeDocument(tree)
	if err != nil {
		return err
	}
	name := snapshotFileName(key)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(name); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		// Unchanged content: committing again would be an empty commit.
		return nil
	}

	if message == "" {
		message = "Update baseline"
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  gitAuthorName,
			Email: gitAuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *GitStore) Close() error {
	return nil
}

func (s *GitStore) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open baseline repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create baseline dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init baseline repo: %w", err)
	}
	return repo, nil
}

// snapshotFileName maps an arbitrary baseline key (usually a document path)
// onto a stable file name inside the repo.
func snapshotFileName(key string) string {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(strings.TrimSpace(key)))
	return fmt.Sprintf("baseline_%x.json", hasher.Sum64())
}
