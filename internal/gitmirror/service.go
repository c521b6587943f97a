// Package gitmirror keeps a per-project git repository mirroring accepted
// checkpoints. Every version that enters a project's history becomes one
// commit on main, which gives an inspectable audit trail beyond the 50
// versions the store retains.
package gitmirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"inkwell/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const contentFile = "content.md"

// CommitInfo describes one mirrored checkpoint.
type CommitInfo struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// MirrorVersion commits one accepted checkpoint to the project's mirror,
// initializing the repository on first use.
func (s *Service) MirrorVersion(projectID string, v store.ProjectVersion) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(projectID)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	path := filepath.Join(s.repoPath(projectID), contentFile)
	if err := os.WriteFile(path, []byte(v.Content), 0o644); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return fmt.Errorf("git add content: %w", err)
	}

	message := fmt.Sprintf("Checkpoint %s (%s)", v.ID, v.Reason)
	// Dedup upstream means identical content never arrives twice, but an
	// empty first version still needs AllowEmptyCommits.
	_, err = worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "Inkwell",
			Email: "inkwell@localhost",
			When:  v.CreatedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// History lists mirrored checkpoints, newest first.
func (s *Service) History(projectID string, limit int) ([]CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, CommitInfo{
			Hash:      commitObj.Hash.String()[:7],
			Message:   commitObj.Message,
			CreatedAt: commitObj.Author.When.UTC().Format("2006-01-02T15:04:05Z"),
		})
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// RemoveProject deletes the project's mirror entirely.
func (s *Service) RemoveProject(projectID string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(s.repoPath(projectID)); err != nil {
		return fmt.Errorf("remove mirror: %w", err)
	}
	return nil
}

func (s *Service) ensureRepo(projectID string) (*git.Repository, error) {
	path := s.repoPath(projectID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}
