package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ReadFileIfExists returns the content of path and whether it exists. A
// missing file is not an error.
func ReadFileIfExists(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), true, nil
}

// WriteFile writes content to path, creating the parent directory.
func WriteFile(path, content string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteFileIfChanged writes content to path unless the file already holds
// exactly that content. It reports whether a write happened; a missing file
// always counts as changed.
func WriteFileIfChanged(path, content string, perm os.FileMode) (bool, error) {
	current, exists, err := ReadFileIfExists(path)
	if err != nil {
		return false, err
	}
	if exists && current == content {
		logrus.WithFields(logrus.Fields{"file": path}).Debug("File unchanged")
		return false, nil
	}
	if err := WriteFile(path, content, perm); err != nil {
		return false, err
	}
	logrus.WithFields(logrus.Fields{"file": path}).Info("File written")
	return true, nil
}
