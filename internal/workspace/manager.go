// Package workspace allocates an isolated scratch directory for each job and
// removes it when the job no longer needs it.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/core"
	"github.com/gofrs/flock"
)

// LockFileName is the marker a running job holds inside its workspace. The
// sweeper never touches a workspace whose lock is held.
const LockFileName = ".lock"

const (
	inputDirName    = "input"
	outputDirName   = "output"
	dirPermissions  = 0o750
	filePermissions = 0o600
)

var (
	// ErrInvalidJobID is returned for job ids that are not a single path element.
	ErrInvalidJobID = errors.New("job id must be a single path element")
	// ErrWorkspaceLocked is returned when the in-progress marker cannot be taken.
	ErrWorkspaceLocked = errors.New("workspace lock is held by another process")
)

// Manager creates workspaces under a shared temp root.
type Manager struct {
	root string
	log  *logger.Logger
}

// NewManager creates the temp root if needed and returns a Manager for it.
func NewManager(root string, log *logger.Logger) (*Manager, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve temp root %q: %w", root, err)
	}

	err = os.MkdirAll(absRoot, dirPermissions)
	if err != nil {
		return nil, core.NewResourceError("failed to create temp root", err)
	}

	return &Manager{root: absRoot, log: log}, nil
}

// Root returns the absolute temp root.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates the workspace for jobID. The directory must not already
// exist; callers pass a fresh random id per job, so a collision indicates a
// bug rather than bad luck. The returned workspace holds its in-progress lock
// until Finish or Release.
func (m *Manager) Acquire(jobID string) (*Workspace, error) {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return nil, core.NewResourceError("invalid workspace id", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID))
	}

	path := filepath.Join(m.root, jobID)

	err := os.Mkdir(path, dirPermissions)
	if err != nil {
		return nil, core.NewResourceError("failed to create workspace", err)
	}

	workspace := &Workspace{
		ID:   jobID,
		Path: path,
		lock: flock.New(filepath.Join(path, LockFileName)),
	}

	err = workspace.prepare()
	if err != nil {
		_ = os.RemoveAll(path)

		return nil, err
	}

	return workspace, nil
}

// Release removes the workspace. It is safe to call more than once.
func (m *Manager) Release(workspace *Workspace) error {
	if workspace == nil {
		return nil
	}

	err := workspace.Release()
	if err != nil {
		m.log.Warn("Failed to release workspace %s: %v", workspace.Path, err)

		return err
	}

	return nil
}

// Workspace is one job's scratch directory.
type Workspace struct {
	ID   string
	Path string

	mu          sync.Mutex
	inputFiles  []string
	outputFiles []string
	lock        *flock.Flock
}

func (w *Workspace) prepare() error {
	for _, dir := range []string{w.InputDir(), w.OutputDir()} {
		err := os.Mkdir(dir, dirPermissions)
		if err != nil {
			return core.NewResourceError("failed to create workspace directory", err)
		}
	}

	locked, err := w.lock.TryLock()
	if err != nil {
		return core.NewResourceError("failed to lock workspace", err)
	}

	if !locked {
		return core.NewResourceError("failed to lock workspace", ErrWorkspaceLocked)
	}

	return nil
}

// InputDir is where staged inputs are written.
func (w *Workspace) InputDir() string {
	return filepath.Join(w.Path, inputDirName)
}

// OutputDir is where engines write their results.
func (w *Workspace) OutputDir() string {
	return filepath.Join(w.Path, outputDirName)
}

// StageInput copies src into the input directory under a sanitised version
// of name and returns the absolute path.
func (w *Workspace) StageInput(name string, src io.Reader) (string, error) {
	path := filepath.Join(w.InputDir(), SanitizeFilename(name))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions)
	if err != nil {
		return "", core.NewResourceError("failed to create staged input", err)
	}

	_, copyErr := io.Copy(file, src)
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)

		return "", core.NewResourceError("failed to write staged input", errors.Join(copyErr, closeErr))
	}

	w.mu.Lock()
	w.inputFiles = append(w.inputFiles, path)
	w.mu.Unlock()

	return path, nil
}

// OutputPath reserves a path in the output directory for an engine result.
func (w *Workspace) OutputPath(name string) string {
	path := filepath.Join(w.OutputDir(), SanitizeFilename(name))

	w.mu.Lock()
	w.outputFiles = append(w.outputFiles, path)
	w.mu.Unlock()

	return path
}

// InputFiles returns the staged input paths in staging order.
func (w *Workspace) InputFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]string(nil), w.inputFiles...)
}

// OutputFiles returns the reserved output paths in reservation order.
func (w *Workspace) OutputFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]string(nil), w.outputFiles...)
}

// RemoveInputs deletes every staged input.
func (w *Workspace) RemoveInputs() error {
	err := os.RemoveAll(w.InputDir())
	if err != nil {
		return core.NewResourceError("failed to remove staged inputs", err)
	}

	w.mu.Lock()
	w.inputFiles = nil
	w.mu.Unlock()

	return nil
}

// Finish drops the in-progress marker once the job has stopped writing. From
// then on the workspace ages like any other file under the temp root.
func (w *Workspace) Finish() error {
	err := w.lock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to unlock workspace %s: %w", w.Path, err)
	}

	return nil
}

// Release finishes the workspace and removes it recursively. Removing an
// already-removed workspace succeeds.
func (w *Workspace) Release() error {
	finishErr := w.Finish()

	err := os.RemoveAll(w.Path)
	if err != nil {
		return core.NewResourceError("failed to remove workspace", err)
	}

	return finishErr
}
