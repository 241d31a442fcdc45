package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

// DefaultHistory is how many results a FileStore keeps
const DefaultHistory = 50

type fileStoreData struct {
	FTP     int              `json:"ftp,omitempty"`
	Results []ftp.TestResult `json:"results"`
}

// FileStore keeps the FTP and the most recent results in one JSON document
type FileStore struct {
	filePath string
	history  int
	logger   *log.Logger

	mu   sync.Mutex
	data fileStoreData
}

var _ ResultStore = (*FileStore)(nil)

// DefaultFilePath is ~/.ftp-test/results.json, or ./.ftp-test when there is no
// home directory
func DefaultFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".ftp-test", "results.json")
}

// NewFileStore opens the document at filePath. A missing file is an empty store;
// an unreadable one is an error.
func NewFileStore(filePath string, history int, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		panic("FileStore: logger cannot be nil")
	}
	if history <= 0 {
		history = DefaultHistory
	}
	s := &FileStore{filePath: filePath, history: history, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveResult records result, replacing an earlier copy with the same ID
func (s *FileStore) SaveResult(_ context.Context, result ftp.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.data.Results {
		if s.data.Results[i].ID == result.ID {
			s.data.Results[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Results = append(s.data.Results, result)
	}
	if over := len(s.data.Results) - s.history; over > 0 {
		s.data.Results = append([]ftp.TestResult(nil), s.data.Results[over:]...)
	}

	s.logger.Printf("FileStore: save result %s (ftp=%d, partial=%t)", result.ID, result.FTP, result.Partial)
	return s.save()
}

func (s *FileStore) SaveFTP(_ context.Context, ftpWatts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.FTP = ftpWatts
	s.logger.Printf("FileStore: save ftp %d", ftpWatts)
	return s.save()
}

// LoadFTP returns the stored FTP, if one was ever saved
func (s *FileStore) LoadFTP() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.FTP, s.data.FTP > 0
}

// History returns the stored results, oldest first
func (s *FileStore) History() []ftp.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ftp.TestResult(nil), s.data.Results...)
}

// Latest returns the most recent result
func (s *FileStore) Latest() (ftp.TestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data.Results) == 0 {
		return ftp.TestResult{}, ErrNoResult
	}
	return s.data.Results[len(s.data.Results)-1], nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Printf("FileStore: load %s (no existing file)", s.filePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.filePath, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("parsing %s: %w", s.filePath, err)
	}
	s.logger.Printf("FileStore: load %s -> ftp=%d, %d results", s.filePath, s.data.FTP, len(s.data.Results))
	return nil
}

func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	if err := os.WriteFile(s.filePath, raw, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", s.filePath, err)
	}
	return nil
}
