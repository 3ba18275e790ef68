package custom

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Snapshotter keeps a copy of a file before it is overwritten.
type Snapshotter interface {
	Snapshot(kind, src string) (string, error)
}

// Store persists Records as a YAML document.
type Store struct {
	Path   string
	Backup Snapshotter
}

// NewStore creates a Store for the document at path.
func NewStore(path string, backup Snapshotter) *Store {
	return &Store{Path: path, Backup: backup}
}

// Load reads the document. A missing or unreadable document yields an empty
// set of records; it never fails the caller.
func (s *Store) Load() Records {
	records, err := s.read()
	if err != nil {
		logrus.WithFields(logrus.Fields{"error": err, "file": s.Path}).
			Warn("Failed to load custom DNS records, ignoring them")
		return Records{}
	}
	return records
}

// read parses the document, dropping invalid entries. A missing document is
// an empty one.
func (s *Store) read() (Records, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Records{}, nil
		}
		return nil, fmt.Errorf("failed to read custom DNS records: %w", err)
	}
	var records Records
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse custom DNS records: %w", err)
	}
	if records == nil {
		records = Records{}
	}
	for _, msg := range records.DropInvalid() {
		logrus.WithFields(logrus.Fields{"file": s.Path, "entry": msg}).
			Warn("Ignoring invalid custom DNS record")
	}
	return records, nil
}

// Save writes records, keeping a backup of the previous document.
func (s *Store) Save(records Records) error {
	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal custom DNS records: %w", err)
	}
	if s.Backup != nil {
		if _, err := s.Backup.Snapshot("custom", s.Path); err != nil {
			return fmt.Errorf("failed to back up custom DNS records: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, data, 0644); err != nil {
		return fmt.Errorf("failed to write custom DNS records: %w", err)
	}
	logrus.WithFields(logrus.Fields{"file": s.Path, "names": len(records)}).
		Info("Custom DNS records saved")
	return nil
}

// Update loads the document, applies fn and saves the result when fn reports
// a change. A document that exists but cannot be read or parsed is an error,
// so an edit never replaces it with an empty set.
func (s *Store) Update(fn func(Records) (bool, error)) (bool, error) {
	records, err := s.read()
	if err != nil {
		return false, err
	}
	changed, err := fn(records)
	if err != nil || !changed {
		return false, err
	}
	if err := s.Save(records); err != nil {
		return false, err
	}
	return true, nil
}
