// Package artifact tracks job output files until they are downloaded or
// expire, and sweeps the shared temp root for anything left behind.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/core"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultRetentionWindow is how long an unclaimed file may sit in the temp root.
const DefaultRetentionWindow = 300 * time.Second

var (
	// ErrArtifactExists is returned when a live artifact is already registered for a path.
	ErrArtifactExists = errors.New("artifact already registered for path")
	// ErrArtifactMissing is returned when registering a path that does not exist.
	ErrArtifactMissing = errors.New("artifact file does not exist")
)

// Artifact is one produced file owned by the Store.
type Artifact struct {
	Path     string
	MimeType string
	Size     int64
	// Workspace is the job directory removed together with the file. Empty
	// when the file does not live in a workspace under the temp root.
	Workspace         string
	ProducedAt        time.Time
	RetentionDeadline time.Time
}

// Expired reports whether the artifact's deadline has passed at now.
func (a Artifact) Expired(now time.Time) bool {
	return now.After(a.RetentionDeadline)
}

// Store is the registry of live artifacts. It is safe for concurrent use.
type Store struct {
	root   string
	window time.Duration
	log    *logger.Logger

	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// NewStore creates a Store sweeping root with the given retention window. A
// zero window selects DefaultRetentionWindow.
func NewStore(root string, window time.Duration, log *logger.Logger) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root %q: %w", root, err)
	}

	if window <= 0 {
		window = DefaultRetentionWindow
	}

	return &Store{
		root:      absRoot,
		window:    window,
		log:       log,
		artifacts: make(map[string]*Artifact),
	}, nil
}

// Window returns the retention window applied by Sweep.
func (s *Store) Window() time.Duration {
	return s.window
}

// Register records path as a live artifact expiring ttl from now. When
// mimeType is empty it is detected from the file content.
func (s *Store) Register(path, mimeType string, ttl time.Duration) (Artifact, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Artifact{}, core.NewResourceError("failed to resolve artifact path", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, core.NewResourceError("failed to register artifact",
				fmt.Errorf("%w: %s", ErrArtifactMissing, absPath))
		}

		return Artifact{}, core.NewResourceError("failed to stat artifact", err)
	}

	if mimeType == "" {
		mimeType = detectMimeType(absPath)
	}

	now := time.Now()
	artifact := &Artifact{
		Path:              absPath,
		MimeType:          mimeType,
		Size:              info.Size(),
		Workspace:         s.workspaceFor(absPath),
		ProducedAt:        now,
		RetentionDeadline: now.Add(ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.artifacts[absPath]
	if found && !existing.Expired(now) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrArtifactExists, absPath)
	}

	s.artifacts[absPath] = artifact

	return *artifact, nil
}

// Get returns the live artifact registered for path.
func (s *Store) Get(path string) (Artifact, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Artifact{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, found := s.artifacts[absPath]
	if !found {
		return Artifact{}, false
	}

	return *artifact, true
}

// List returns a snapshot of registered artifacts, oldest first.
func (s *Store) List() []Artifact {
	s.mu.RLock()

	artifacts := make([]Artifact, 0, len(s.artifacts))
	for _, artifact := range s.artifacts {
		artifacts = append(artifacts, *artifact)
	}

	s.mu.RUnlock()

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ProducedAt.Before(artifacts[j].ProducedAt)
	})

	return artifacts
}

// Len returns the number of registered artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.artifacts)
}

// Release deletes the artifact at path now, together with its workspace, and
// unregisters it. Releasing an unknown or already-deleted path succeeds.
func (s *Store) Release(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve artifact path %q: %w", path, err)
	}

	s.mu.Lock()
	artifact, found := s.artifacts[absPath]
	delete(s.artifacts, absPath)
	s.mu.Unlock()

	if !found {
		artifact = &Artifact{Path: absPath, Workspace: s.workspaceFor(absPath)}
	}

	_, err = removeArtifact(*artifact)

	return err
}

func (s *Store) unregister(path string) {
	s.mu.Lock()
	delete(s.artifacts, path)
	s.mu.Unlock()
}

// workspaceFor returns the job directory directly under the root that
// contains path, or "" for paths outside a job directory.
func (s *Store) workspaceFor(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}

	first, _, nested := strings.Cut(rel, string(filepath.Separator))
	if !nested {
		return ""
	}

	return filepath.Join(s.root, first)
}

// removeArtifact deletes the file and its workspace and returns the bytes freed.
func removeArtifact(artifact Artifact) (int64, error) {
	var size int64

	info, err := os.Stat(artifact.Path)
	if err == nil {
		size = info.Size()
	}

	err = os.Remove(artifact.Path)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to remove artifact %s: %w", artifact.Path, err)
	}

	if artifact.Workspace != "" {
		err = os.RemoveAll(artifact.Workspace)
		if err != nil {
			return size, fmt.Errorf("failed to remove workspace %s: %w", artifact.Workspace, err)
		}
	}

	return size, nil
}

func detectMimeType(path string) string {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}

	return detected.String()
}
