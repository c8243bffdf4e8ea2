package artifact

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/media-service/internal/workspace"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
)

// RemovedFile describes one file deleted (or, in a preview, due for deletion).
type RemovedFile struct {
	Path string
	Size int64
	Age  time.Duration
}

// CleanupError records a path that could not be removed.
type CleanupError struct {
	Path  string
	Error string
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Removed        []RemovedFile
	RemovedDirs    []string
	Skipped        []string
	Errors         []CleanupError
	BytesReclaimed int64
}

func (r *SweepReport) addError(path string, err error) {
	r.Errors = append(r.Errors, CleanupError{Path: path, Error: err.Error()})
}

// Sweep deletes expired registered artifacts and every file under the root
// whose modification time is older than the retention window, registered or
// not. Workspaces whose in-progress lock is held are skipped entirely.
// Failures are collected in the report and never abort the sweep.
func (s *Store) Sweep(now time.Time) SweepReport {
	report := s.sweep(now, false)
	s.logReport(report)

	return report
}

// Preview reports what Sweep would delete at now without deleting anything.
func (s *Store) Preview(now time.Time) SweepReport {
	return s.sweep(now, true)
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("Retention sweeper started: root=%s window=%s interval=%s", s.root, s.window, interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Retention sweeper stopped")

			return
		case tick := <-ticker.C:
			s.Sweep(tick)
		}
	}
}

func (s *Store) sweep(now time.Time, dryRun bool) SweepReport {
	var report SweepReport

	s.sweepRegistry(now, dryRun, &report)

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			report.addError(s.root, err)
		}

		return report
	}

	cutoff := now.Add(-s.window)

	for _, entry := range entries {
		path := filepath.Join(s.root, entry.Name())

		if entry.IsDir() {
			s.sweepWorkspace(path, now, cutoff, dryRun, &report)

			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			if !errors.Is(infoErr, fs.ErrNotExist) {
				report.addError(path, infoErr)
			}

			continue
		}

		if info.ModTime().Before(cutoff) {
			s.removeFile(path, info, now, dryRun, &report)
		}
	}

	return report
}

// sweepRegistry deletes artifacts whose own deadline has passed.
func (s *Store) sweepRegistry(now time.Time, dryRun bool, report *SweepReport) {
	var expired []Artifact

	s.mu.Lock()

	for path, artifact := range s.artifacts {
		if artifact.Expired(now) {
			expired = append(expired, *artifact)

			if !dryRun {
				delete(s.artifacts, path)
			}
		}
	}

	s.mu.Unlock()

	for _, artifact := range expired {
		age := now.Sub(artifact.ProducedAt)

		if dryRun {
			report.Removed = append(report.Removed, RemovedFile{Path: artifact.Path, Size: artifact.Size, Age: age})

			continue
		}

		size, err := removeArtifact(artifact)
		if err != nil {
			report.addError(artifact.Path, err)

			continue
		}

		report.Removed = append(report.Removed, RemovedFile{Path: artifact.Path, Size: size, Age: age})
		report.BytesReclaimed += size

		if artifact.Workspace != "" {
			report.RemovedDirs = append(report.RemovedDirs, artifact.Workspace)
		}
	}
}

// sweepWorkspace removes aged files inside one job directory, and the
// directory itself once nothing is left in it. A directory modified within
// the window is still being set up or was only just finished, so it is left
// alone even if its lock is free.
func (s *Store) sweepWorkspace(dir string, now, cutoff time.Time, dryRun bool, report *SweepReport) {
	dirInfo, err := os.Stat(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			report.addError(dir, err)
		}

		return
	}

	if !dirInfo.ModTime().Before(cutoff) {
		return
	}

	lockPath := filepath.Join(dir, workspace.LockFileName)
	lock := flock.New(lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		report.addError(lockPath, err)

		return
	}

	if !locked {
		report.Skipped = append(report.Skipped, dir)

		return
	}

	defer func() {
		_ = lock.Unlock()
	}()

	remaining := 0

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				report.addError(path, err)
			}

			return nil
		}

		if entry.IsDir() || path == lockPath {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				report.addError(path, err)
			}

			return nil
		}

		if !info.ModTime().Before(cutoff) {
			remaining++

			return nil
		}

		if !s.removeFile(path, info, now, dryRun, report) {
			remaining++
		}

		return nil
	})
	if walkErr != nil {
		report.addError(dir, walkErr)

		return
	}

	if remaining > 0 {
		return
	}

	if !dryRun {
		err = os.RemoveAll(dir)
		if err != nil {
			report.addError(dir, err)

			return
		}
	}

	report.RemovedDirs = append(report.RemovedDirs, dir)
}

// removeFile deletes one aged file and drops any registry entry for it.
func (s *Store) removeFile(path string, info fs.FileInfo, now time.Time, dryRun bool, report *SweepReport) bool {
	removed := RemovedFile{Path: path, Size: info.Size(), Age: now.Sub(info.ModTime())}

	if dryRun {
		report.Removed = append(report.Removed, removed)

		return true
	}

	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		report.addError(path, err)

		return false
	}

	s.unregister(path)

	report.Removed = append(report.Removed, removed)
	report.BytesReclaimed += removed.Size

	return true
}

func (s *Store) logReport(report SweepReport) {
	for _, cleanupErr := range report.Errors {
		s.log.Warn("Sweep could not remove %s: %s", cleanupErr.Path, cleanupErr.Error)
	}

	if len(report.Removed) == 0 && len(report.RemovedDirs) == 0 && len(report.Errors) == 0 {
		return
	}

	s.log.Info("Sweep removed %d files and %d workspaces (%s), skipped %d active, %d errors",
		len(report.Removed), len(report.RemovedDirs), humanize.Bytes(uint64(report.BytesReclaimed)),
		len(report.Skipped), len(report.Errors))
}
