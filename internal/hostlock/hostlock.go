// Package hostlock gives a benchmark run exclusive ownership of the host.
//
// Ownership is an advisory flock(2) on a well-known file. The kernel drops
// the lock when the holder exits, so a crashed run never wedges the host.
// Build/test runs hold the same lock in shared mode: any number of them may
// share the host, but never with a benchmark.
package hostlock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/log"
)

// DefaultPollInterval is how often a waiting run retries the lock
const DefaultPollInterval = 5 * time.Second

// Owner describes the run holding the host
type Owner struct {
	RunID    string    `json:"run_id"`
	PR       string    `json:"pr"`
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Since    time.Time `json:"since"`
}

// Release gives up ownership. It is safe to call more than once.
type Release func() error

// Lock is a host-wide reader/writer lock backed by a file.
type Lock struct {
	Path         string
	PollInterval time.Duration
	Logger       *log.Logger
}

// New creates a lock on path
func New(path string, poll time.Duration, logger *log.Logger) *Lock {
	return &Lock{Path: path, PollInterval: poll, Logger: logger}
}

// Acquire blocks until the host is owned exclusively by the caller or ctx is
// done. The current holder, if any, is logged while waiting.
func (l *Lock) Acquire(ctx context.Context, owner Owner) (Release, error) {
	return l.acquire(ctx, owner, false)
}

// AcquireShared blocks until no exclusive holder remains. Shared holders are
// not recorded as the lock owner.
func (l *Lock) AcquireShared(ctx context.Context, owner Owner) (Release, error) {
	return l.acquire(ctx, owner, true)
}

func (l *Lock) acquire(ctx context.Context, owner Owner, shared bool) (Release, error) {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeHostLockFailed, "failed to create lock directory", err)
	}
	f, err := os.OpenFile(l.Path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeHostLockFailed, "failed to open lock file "+l.Path, err)
	}

	poll := l.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	logged := false
	for {
		err := tryLock(f, shared)
		if err == nil {
			break
		}
		if err != errLocked {
			f.Close()
			return nil, errors.Wrap(errors.ErrCodeHostLockFailed, "failed to lock "+l.Path, err)
		}
		if !logged {
			holder, _ := readOwner(f)
			l.logger().Info("waiting for host", "lock", l.Path, "shared", shared, "holder_run", holder.RunID, "holder_pr", holder.PR, "held_since", holder.Since)
			logged = true
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, errors.Wrap(errors.ErrCodeHostLockFailed, "gave up waiting for host", ctx.Err())
		case <-ticker.C:
		}
	}

	if !shared {
		if owner.PID == 0 {
			owner.PID = os.Getpid()
		}
		if owner.Hostname == "" {
			owner.Hostname, _ = os.Hostname()
		}
		if owner.Since.IsZero() {
			owner.Since = time.Now().UTC()
		}
		if err := writeOwner(f, owner); err != nil {
			l.logger().Warn("failed to record lock holder", "lock", l.Path, "error", err)
		}
	}
	l.logger().Info("host acquired", "lock", l.Path, "shared", shared, "run_id", owner.RunID)

	var once sync.Once
	var releaseErr error
	return func() error {
		once.Do(func() {
			if !shared {
				_ = f.Truncate(0)
			}
			if err := unlock(f); err != nil {
				releaseErr = errors.Wrap(errors.ErrCodeHostLockFailed, "failed to unlock "+l.Path, err)
			}
			if err := f.Close(); err != nil && releaseErr == nil {
				releaseErr = err
			}
			l.logger().Info("host released", "lock", l.Path, "shared", shared)
		})
		return releaseErr
	}, nil
}

// Holder returns the recorded owner of the lock, if any
func (l *Lock) Holder() (Owner, bool) {
	f, err := os.Open(l.Path)
	if err != nil {
		return Owner{}, false
	}
	defer f.Close()
	o, err := readOwner(f)
	return o, err == nil && o.RunID != ""
}

func readOwner(f *os.File) (Owner, error) {
	var o Owner
	data, err := os.ReadFile(f.Name())
	if err != nil {
		return o, err
	}
	if len(data) == 0 {
		return o, fmt.Errorf("no holder recorded")
	}
	return o, json.Unmarshal(data, &o)
}

func writeOwner(f *os.File, o Owner) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

func (l *Lock) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Discard()
}
