package manifest

import (
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
)

// DependencySpec says where a binding declares its core dependency
type DependencySpec struct {
	// Manifest is the manifest path relative to the binding checkout.
	Manifest string
	// Dependency is the dependency key, e.g. "mmtk".
	Dependency string
	// CrateDir is the crate directory relative to the core checkout. Empty
	// means the checkout root.
	CrateDir string
}

// Patch describes an applied override
type Patch struct {
	Manifest   string
	Dependency string
	Path       string
	Changed    bool
}

// ApplyOverride rewrites the binding manifest in place so that the core
// dependency resolves to core's directory. Applying it again for the same
// core is a no-op.
func ApplyOverride(binding, core domain.MaterializedSource, spec DependencySpec) (Patch, error) {
	if !binding.Slot.IsBinding() {
		return Patch{}, errors.NewOverrideShapeError(binding.Dir, spec.Dependency, "slot "+binding.Slot.String()+" is not a binding")
	}

	manifestPath := filepath.Join(binding.Dir, spec.Manifest)
	target, err := filepath.Abs(filepath.Join(core.Dir, spec.CrateDir))
	if err != nil {
		return Patch{}, errors.Wrap(errors.ErrCodeOverrideManifestRead, "failed to resolve core path", err)
	}

	info, err := os.Stat(manifestPath)
	if err != nil {
		return Patch{}, errors.Wrap(errors.ErrCodeOverrideManifestRead, "failed to read "+manifestPath, err)
	}
	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return Patch{}, errors.Wrap(errors.ErrCodeOverrideManifestRead, "failed to read "+manifestPath, err)
	}

	out, changed, err := Rewrite(content, spec.Manifest, spec.Dependency, target)
	if err != nil {
		return Patch{}, err
	}

	patch := Patch{Manifest: manifestPath, Dependency: spec.Dependency, Path: target, Changed: changed}
	if !changed {
		return patch, nil
	}
	if err := os.WriteFile(manifestPath, out, info.Mode().Perm()); err != nil {
		return Patch{}, errors.Wrap(errors.ErrCodeOverrideWrite, "failed to write "+manifestPath, err)
	}
	return patch, nil
}
