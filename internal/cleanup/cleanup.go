// Package cleanup removes a run's transient state from the execution host.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

// WorkingState lists what a run left on the host.
type WorkingState struct {
	// Dirs are removed recursively (the run workspace).
	Dirs []string
	// Files are removed individually (reports written outside the workspace).
	Files []string
	// EmptyDirs are long-lived directories whose contents are removed but
	// which are themselves kept (the toolkit's shared log directory).
	EmptyDirs []string
}

// Failure is one path that could not be removed
type Failure struct {
	Path string
	Err  error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Summary reports what a cleanup did
type Summary struct {
	Removed  int
	Failures []Failure
}

// Cleaner removes working state. It has no failure mode of its own: every
// problem is logged and returned in the Summary.
type Cleaner struct {
	Logger *log.Logger
	// OnFailure is called once per path that could not be removed.
	OnFailure func(Failure)
}

// Cleanup removes everything in state. It ignores ctx cancellation so that
// a cancelled run still leaves the host clean.
func (c *Cleaner) Cleanup(ctx context.Context, state WorkingState) Summary {
	_, span := telemetry.StartStageSpan(context.WithoutCancel(ctx), "cleanup")
	defer span.End()

	var s Summary
	for _, dir := range state.Dirs {
		c.remove(&s, dir, os.RemoveAll)
	}
	for _, file := range state.Files {
		c.remove(&s, file, removeFile)
	}
	for _, dir := range state.EmptyDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				c.fail(&s, Failure{Path: dir, Err: err})
			}
			continue
		}
		for _, e := range entries {
			c.remove(&s, filepath.Join(dir, e.Name()), os.RemoveAll)
		}
	}

	if len(s.Failures) > 0 {
		telemetry.RecordError(span, fmt.Errorf("%d paths not removed", len(s.Failures)))
	} else {
		telemetry.RecordSuccess(span)
	}
	c.logger().Info("cleanup finished", "removed", s.Removed, "failures", len(s.Failures))
	return s
}

func (c *Cleaner) remove(s *Summary, path string, rm func(string) error) {
	if path == "" || path == "/" {
		c.fail(s, Failure{Path: path, Err: fmt.Errorf("refusing to remove")})
		return
	}
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return
	}
	if err := rm(path); err != nil {
		c.fail(s, Failure{Path: path, Err: err})
		return
	}
	s.Removed++
}

func (c *Cleaner) fail(s *Summary, f Failure) {
	s.Failures = append(s.Failures, f)
	c.logger().Warn("cleanup failed", "path", f.Path, "error", f.Err)
	if c.OnFailure != nil {
		c.OnFailure(f)
	}
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (c *Cleaner) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Discard()
}
