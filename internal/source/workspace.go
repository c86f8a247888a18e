package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
)

// Workspace is the per-run directory namespace. Every slot of a run lives
// under Root, and no two runs share a Root.
type Workspace struct {
	root string
}

// NewWorkspace creates <base>/<runID>. It fails if the directory already
// exists, which would mean two runs share a namespace.
func NewWorkspace(base, runID string) (*Workspace, error) {
	if runID == "" {
		return nil, errors.New(errors.ErrCodeAcquireWorkspace, "run id is required for a workspace")
	}
	if err := os.MkdirAll(base, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAcquireWorkspace, "failed to create workspace base "+base, err)
	}
	root := filepath.Join(base, runID)
	if err := os.Mkdir(root, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAcquireWorkspace, "failed to create run workspace "+root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAcquireWorkspace, "failed to resolve run workspace", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute run directory
func (w *Workspace) Root() string { return w.root }

// Dir returns the directory a slot is materialized into
func (w *Workspace) Dir(slot domain.Slot) string {
	return filepath.Join(w.root, "src", string(slot))
}

// LogDir returns the directory for step logs and audit manifests
func (w *Workspace) LogDir() string {
	return filepath.Join(w.root, "logs")
}

// Path returns a file path directly under the run directory
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.root, name)
}

func (w *Workspace) String() string {
	return fmt.Sprintf("workspace(%s)", w.root)
}
