package terminal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
)

// Record is the persisted metadata of a session. Process handles are never
// persisted; a record read back after a restart always reports EXITED.
type Record struct {
	ID        string    `yaml:"id" json:"id"`
	Cwd       string    `yaml:"cwd" json:"cwd"`
	Command   string    `yaml:"command,omitempty" json:"command,omitempty"`
	Shell     string    `yaml:"shell,omitempty" json:"shell,omitempty"`
	Mode      Mode      `yaml:"mode" json:"mode"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	Status    Status    `yaml:"status" json:"status"`
}

// Store persists session metadata across restarts.
type Store interface {
	Load() ([]Record, error)
	Save(rec Record) error
	Remove(id string) error
	Reset() error
}

// FileStore keeps records in a single YAML document, rewritten atomically
// on every change.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

type storeFile struct {
	Sessions []Record `yaml:"sessions"`
}

// NewFileStore opens the store at path, reading any existing document.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, records: make(map[string]Record)}
	recs, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s, nil
}

func (s *FileStore) read() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store: %w", err)
	}
	var doc storeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse session store %s: %w", s.path, err)
	}
	return doc.Sessions, nil
}

// Load returns every record, oldest first.
func (s *FileStore) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(), nil
}

// Save inserts or replaces rec.
func (s *FileStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return s.flush()
}

// Remove deletes the record for id, if any.
func (s *FileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	return s.flush()
}

// Reset drops every record.
func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	return s.flush()
}

func (s *FileStore) sorted() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *FileStore) flush() error {
	data, err := yaml.Marshal(storeFile{Sessions: s.sorted()})
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session store: %w", err)
	}
	return nil
}
