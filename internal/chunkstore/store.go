// Package chunkstore persists synthesized audio chunks per job and builds the
// final concatenated artifact.
package chunkstore

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrChunkNotFound is returned when no chunk exists at the requested index.
var ErrChunkNotFound = errors.New("chunk not found")

// ErrArtifactNotFound is returned when a job has no concatenated artifact.
var ErrArtifactNotFound = errors.New("artifact not found")

const (
	artifactName = "narration.audio"
	sourceName   = "source.bin"
)

// Store keeps each job's chunks in its own directory under root. Chunks are
// produced strictly sequentially by the pipeline, so per-file atomic writes
// are the only concurrency control needed.
type Store struct {
	root string
	log  *slog.Logger
}

func New(root string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk store root: %w", err)
	}
	return &Store{root: root, log: log.With(slog.String("component", "chunk-store"))}, nil
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) chunkPath(jobID string, index int) string {
	return filepath.Join(s.jobDir(jobID), fmt.Sprintf("chunk_%05d.audio", index))
}

// ArtifactPath returns where the concatenated narration for a job lives.
func (s *Store) ArtifactPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), artifactName)
}

// SaveSource stores the uploaded source document for the job's lifetime.
func (s *Store) SaveSource(jobID string, data []byte) (string, error) {
	if err := os.MkdirAll(s.jobDir(jobID), 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	path := filepath.Join(s.jobDir(jobID), sourceName)
	if err := atomicWrite(path, data); err != nil {
		return "", fmt.Errorf("save source: %w", err)
	}
	return path, nil
}

// Save writes one chunk's audio bytes. The write is idempotent: a prior chunk
// at the same index is overwritten.
func (s *Store) Save(jobID string, index int, data []byte) error {
	if index < 0 {
		return fmt.Errorf("chunk index must be >= 0, got %d", index)
	}
	if err := os.MkdirAll(s.jobDir(jobID), 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	if err := atomicWrite(s.chunkPath(jobID, index), data); err != nil {
		return fmt.Errorf("save chunk %d: %w", index, err)
	}
	return nil
}

// Read returns the audio bytes for one chunk.
func (s *Store) Read(jobID string, index int) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(jobID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("job %s chunk %d: %w", jobID, index, ErrChunkNotFound)
		}
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return data, nil
}

// ReadArtifact returns the concatenated narration bytes.
func (s *Store) ReadArtifact(jobID string) ([]byte, error) {
	data, err := os.ReadFile(s.ArtifactPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Concatenate joins chunks 0..total-1 in index order into the job artifact
// and returns its path. All chunks share one codec, so raw byte concatenation
// yields a playable file; when the chunks are RIFF/WAV a remux pass rewrites
// the artifact as a single well-formed WAV so container metadata is accurate.
// The remux is best-effort and its failure never fails the call.
func (s *Store) Concatenate(jobID string, total int) (string, error) {
	if total <= 0 {
		return "", fmt.Errorf("total chunks must be positive, got %d", total)
	}

	path := s.ArtifactPath(jobID)
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	allWAV := true
	for i := 0; i < total; i++ {
		data, err := s.Read(jobID, i)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return "", err
		}
		if !bytes.HasPrefix(data, []byte("RIFF")) {
			allWAV = false
		}
		if _, err := out.Write(data); err != nil {
			out.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("write artifact: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}

	if allWAV {
		if err := s.remuxWAV(jobID, total, path); err != nil {
			s.log.Warn("wav remux failed, keeping raw concatenation",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}
	return path, nil
}

// Cleanup removes all stored data for one job. Failures are logged, not
// raised: storage is transient and reclaimed eventually regardless.
func (s *Store) Cleanup(jobID string) {
	if err := os.RemoveAll(s.jobDir(jobID)); err != nil {
		s.log.Warn("chunk cleanup failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

// CleanupAll removes every job's stored data.
func (s *Store) CleanupAll() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.Warn("chunk store cleanup failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			s.Cleanup(e.Name())
		}
	}
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
