package bench

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exec"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/objstore"
)

// Asset is one workload input the toolkit expects at Dest
type Asset struct {
	Source string // local file, local directory, or s3://bucket/key
	Dest   string // relative to the toolkit dir unless absolute
}

// Downloader fetches objects from a store
type Downloader interface {
	Download(ctx context.Context, bucket, key, dest string) error
}

// Stager copies workload assets into the toolkit tree. A file asset whose
// destination already has the same content is left alone, so a long-lived
// host does not re-copy large archives on every run.
type Stager struct {
	ToolkitDir string
	S3         Downloader // required only for s3:// sources
	Logger     *log.Logger
}

// Stage places every asset and returns the destination paths
func (s *Stager) Stage(ctx context.Context, assets []Asset) ([]string, error) {
	staged := make([]string, 0, len(assets))
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return staged, err
		}
		dest := a.Dest
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(s.ToolkitDir, dest)
		}

		var err error
		if objstore.IsURL(a.Source) {
			err = s.fetch(ctx, a.Source, dest)
		} else {
			err = s.copyLocal(a.Source, dest)
		}
		if err != nil {
			return staged, errors.Wrap(errors.ErrCodeBenchStageAssets, fmt.Sprintf("failed to stage %s", a.Source), err).
				WithSuggestion("Check bench.assets in the configuration and that the source is readable from the host")
		}
		s.logger().Debug("staged workload asset", "source", a.Source, "dest", dest)
		staged = append(staged, dest)
	}
	return staged, nil
}

func (s *Stager) fetch(ctx context.Context, source, dest string) error {
	if s.S3 == nil {
		return fmt.Errorf("no object store configured for %s", source)
	}
	bucket, key, err := objstore.ParseURL(source)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		// Objects are immutable by key; a present destination is current.
		return nil
	}
	return s.S3.Download(ctx, bucket, key, dest)
}

func (s *Stager) copyLocal(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFileIfChanged(source, dest, info.Mode().Perm())
	}
	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0750)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFileIfChanged(path, target, fi.Mode().Perm())
	})
}

func copyFileIfChanged(src, dest string, perm fs.FileMode) error {
	if _, err := os.Stat(dest); err == nil {
		a, errA := exec.HashFile(src)
		b, errB := exec.HashFile(dest)
		if errA == nil && errB == nil && a == b {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".stage-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (s *Stager) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Discard()
}
