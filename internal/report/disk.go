package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/deixis/runbox/internal/pipeline"
)

// DiskStore writes each result as <dir>/<runID>.json. With an empty Dir a
// temporary directory is created on first use.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore returns a DiskStore rooted at dir, or at a lazily created
// temporary directory when dir is empty.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes result atomically.
func (s *DiskStore) Save(_ context.Context, result *pipeline.Result) error {
	if err := checkID(result.RunID); err != nil {
		return err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling result %s: %w", result.RunID, err)
	}

	tmp, err := os.CreateTemp(dir, "."+result.RunID+"-*")
	if err != nil {
		return fmt.Errorf("writing result %s: %w", result.RunID, err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing result %s: %w", result.RunID, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, result.RunID+".json")); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing result %s: %w", result.RunID, err)
	}
	return nil
}

// Load reads the result for runID.
func (s *DiskStore) Load(_ context.Context, runID string) (*pipeline.Result, error) {
	if err := checkID(runID); err != nil {
		return nil, err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, runID+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading result %s: %w", runID, err)
	}
	var result pipeline.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling result %s: %w", runID, err)
	}
	return &result, nil
}

// Dir returns the directory results are written to, creating it if needed.
func (s *DiskStore) Dir() (string, error) { return s.ensureDir() }

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating result directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "runbox-results-*")
	if err != nil {
		return "", fmt.Errorf("creating result directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
