package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// BackupService keeps rotated copies of files before they are overwritten.
type BackupService struct {
	BackupDir  string
	MaxBackups int
	Now        func() time.Time
}

// NewBackupService initializes a BackupService rooted at backupDir.
func NewBackupService(backupDir string, maxBackups int) *BackupService {
	return &BackupService{
		BackupDir:  backupDir,
		MaxBackups: maxBackups,
		Now:        time.Now,
	}
}

// Snapshot copies src into BackupDir/<kind>/ as <kind>_<timestamp><ext> and
// rotates old copies. A missing src is not an error: there is nothing to keep.
func (b *BackupService) Snapshot(kind, src string) (string, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", nil
	}

	dir := filepath.Join(b.BackupDir, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logrus.WithFields(logrus.Fields{"error": err, "dir": dir}).
			Error("Failed to create backup directory")
		return "", err
	}

	name := fmt.Sprintf("%s_%s%s", kind, b.Now().Format("20060102T150405.000000000"), filepath.Ext(src))
	dest := filepath.Join(dir, name)
	if err := copyFile(src, dest); err != nil {
		logrus.WithFields(logrus.Fields{"source": src, "dest": dest, "error": err}).
			Error("Error backing up file")
		return "", err
	}

	if err := b.rotateBackups(dir, kind+"_", b.MaxBackups); err != nil {
		logrus.WithFields(logrus.Fields{"error": err, "dir": dir}).Error("Error rotating backups")
	}

	logrus.WithFields(logrus.Fields{"backup_name": name, "source": src}).
		Info("Backup completed successfully")
	return name, nil
}

// Restore copies the named backup of kind back over dest.
func (b *BackupService) Restore(kind, dest, backupName string) error {
	if backupName != filepath.Base(backupName) || !strings.HasPrefix(backupName, kind+"_") {
		return fmt.Errorf("invalid backup name %q", backupName)
	}
	src := filepath.Join(b.BackupDir, kind, backupName)
	if _, err := os.Stat(src); err != nil {
		logrus.WithFields(logrus.Fields{"file": src, "error": err}).
			Warn("Specified backup does not exist")
		return err
	}
	if err := copyFile(src, dest); err != nil {
		logrus.WithFields(logrus.Fields{"source": src, "dest": dest, "error": err}).
			Error("Error restoring from backup")
		return err
	}

	logrus.WithFields(logrus.Fields{"backup": backupName, "dest": dest}).
		Info("Restore from backup completed successfully")
	return nil
}

// Latest finds the newest backup of kind.
func (b *BackupService) Latest(kind string) (string, error) {
	backups, err := b.list(filepath.Join(b.BackupDir, kind), kind+"_")
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("no available backups of %s", kind)
	}
	return backups[0].Name(), nil
}

// list returns backups newest first. Names embed the timestamp, so name order
// is creation order even when mtimes collide.
func (b *BackupService) list(dir, prefix string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var backups []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, entry)
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Name() > backups[j].Name()
	})
	return backups, nil
}

// rotateBackups removes old backups exceeding the limit.
func (b *BackupService) rotateBackups(dir, prefix string, max int) error {
	backups, err := b.list(dir, prefix)
	if err != nil {
		return err
	}

	for i, file := range backups {
		if i < max {
			continue
		}
		if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
			logrus.WithFields(logrus.Fields{"file": file.Name(), "error": err}).
				Error("Error removing old backup")
		} else {
			logrus.WithFields(logrus.Fields{"file": file.Name()}).
				Info("Old backup removed")
		}
	}
	return nil
}

// copyFile is a helper to copy src to dest.
func copyFile(src, dest string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err = io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dest, fi.Mode())
}
