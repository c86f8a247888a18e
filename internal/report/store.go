package report

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/revcompare/internal/exec"
	"github.com/felixgeelhaar/revcompare/internal/objstore"
)

// Artifact is a stored file
type Artifact struct {
	Name     string
	Location string
	Digest   string
	Files    int
}

// ArtifactStore persists a local file or directory under a key
type ArtifactStore interface {
	Store(ctx context.Context, key, localPath string) (Artifact, error)
}

// FSStore keeps artifacts under a directory on the host
type FSStore struct {
	Dir string
}

// Store copies localPath to Dir/key
func (s FSStore) Store(ctx context.Context, key, localPath string) (Artifact, error) {
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	art := Artifact{Name: path.Base(key), Location: dest}

	err := walkFiles(localPath, func(file, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := dest
		if rel != "" {
			target = filepath.Join(dest, rel)
		}
		if err := copyFile(file, target); err != nil {
			return err
		}
		art.Files++
		return nil
	})
	if err != nil {
		return art, err
	}
	art.Digest = digestOf(localPath)
	return art, nil
}

// S3Store uploads artifacts to a bucket
type S3Store struct {
	Client *objstore.Client
	Bucket string
	Prefix string
}

// Store uploads localPath, one object per file for directories
func (s S3Store) Store(ctx context.Context, key, localPath string) (Artifact, error) {
	objectKey := strings.TrimPrefix(path.Join(s.Prefix, key), "/")
	art := Artifact{Name: path.Base(key), Location: fmt.Sprintf("s3://%s/%s", s.Bucket, objectKey)}

	err := walkFiles(localPath, func(file, rel string) error {
		k := objectKey
		if rel != "" {
			k = path.Join(objectKey, filepath.ToSlash(rel))
		}
		if err := s.Client.Upload(ctx, s.Bucket, k, file, contentType(file)); err != nil {
			return err
		}
		art.Files++
		return nil
	})
	if err != nil {
		return art, err
	}
	art.Digest = digestOf(localPath)
	return art, nil
}

// walkFiles calls fn for localPath itself when it is a file, or for every
// regular file below it with its relative path.
func walkFiles(localPath string, fn func(file, rel string) error) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fn(localPath, "")
	}
	return filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		return fn(p, rel)
	})
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// digestOf hashes single files; directories have no single digest
func digestOf(p string) string {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return ""
	}
	d, err := exec.HashFile(p)
	if err != nil {
		return ""
	}
	return d
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".log", ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
