package exec

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// CreateManifest creates the audit record for a finished step
func CreateManifest(runID, runner string, step Step, result *Result) *RunManifest {
	m := &RunManifest{
		Timestamp:    time.Now().UTC(),
		RunID:        runID,
		StepID:       step.ID,
		Runner:       runner,
		Command:      step.Cmd,
		Workdir:      step.Workdir,
		Env:          step.Env,
		InputHashes:  make(map[string]string),
		OutputHashes: make(map[string]string),
	}
	if runner == RunnerDocker {
		m.Image = step.Image
	}
	if result != nil {
		m.ExitCode = result.ExitCode
		m.TimedOut = result.TimedOut
		m.Duration = result.Duration.String()
	}
	return m
}

// SaveManifest writes a run manifest to dir and returns its path
func SaveManifest(manifest *RunManifest, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json",
		manifest.Timestamp.Format("20060102_150405"),
		manifest.StepID)
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// HashFile computes the BLAKE3 digest of a file
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return fmt.Sprintf("blake3:%x", hasher.Sum(nil)), nil
}

// AddInputHash records the digest of an input file
func (m *RunManifest) AddInputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	m.InputHashes[name] = hash
	return nil
}

// AddOutputHash records the digest of an output file
func (m *RunManifest) AddOutputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	m.OutputHashes[name] = hash
	return nil
}
