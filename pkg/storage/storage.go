package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"dockwarden/pkg/container"

	"github.com/sirupsen/logrus"
)

const (
	inventoryFile = "inventory.json"
	statusFile    = "status.json"
	inspectFile   = "inspect.json"
	backupPrefix  = "backup-"

	// timestampLayout sorts lexically in chronological order
	timestampLayout = "20060102T150405.000000000Z"
)

// BackupRecord is a timestamped copy of a container's inspection data taken
// before a destructive operation. It is never modified once written.
type BackupRecord struct {
	Timestamp time.Time                 `json:"timestamp"`
	Reason    string                    `json:"reason"`
	Record    container.ContainerRecord `json:"record"`
	Inspect   json.RawMessage           `json:"inspect,omitempty"`
}

// BackupInfo describes a stored backup file
type BackupInfo struct {
	Container string    `json:"container"`
	File      string    `json:"file"`
	Timestamp time.Time `json:"timestamp"`
}

// Storage handles the inventory file and the backup directory
type Storage struct {
	dataDir string
	mutex   sync.RWMutex
	logger  *logrus.Logger
}

// NewStorage creates a new storage instance
func NewStorage(dataDir string, logger *logrus.Logger) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("data dizini oluşturulamadı: %w", err)
	}

	dirs := []string{"backups", "deployments"}
	for _, dir := range dirs {
		dirPath := filepath.Join(dataDir, dir)
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return nil, fmt.Errorf("alt dizin oluşturulamadı (%s): %w", dir, err)
		}
	}

	return &Storage{
		dataDir: dataDir,
		logger:  logger,
	}, nil
}

// DataDir returns the root of the storage
func (s *Storage) DataDir() string {
	return s.dataDir
}

// InventoryPath returns the path of the inventory file
func (s *Storage) InventoryPath() string {
	return filepath.Join(s.dataDir, inventoryFile)
}

// SaveInventory replaces the inventory file atomically
func (s *Storage) SaveInventory(records []container.ContainerRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if records == nil {
		records = []container.ContainerRecord{}
	}
	if err := writeJSONAtomic(s.InventoryPath(), records); err != nil {
		return fmt.Errorf("inventory kaydedilemedi: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"count": len(records),
		"file":  s.InventoryPath(),
	}).Debug("Inventory kaydedildi")

	return nil
}

// LoadInventory reads the inventory file. A missing or malformed file yields
// an empty inventory.
func (s *Storage) LoadInventory() []container.ContainerRecord {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	records, err := LoadInventoryFile(s.InventoryPath())
	if err != nil {
		s.logger.WithError(err).WithField("file", s.InventoryPath()).Warn("Inventory okunamadı, boş liste kullanılıyor")
	}
	return records
}

// LoadInventoryFile reads an inventory file. It always returns a usable,
// possibly empty, list; the error only reports why the list is empty.
func LoadInventoryFile(path string) ([]container.ContainerRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []container.ContainerRecord{}, nil
		}
		return []container.ContainerRecord{}, fmt.Errorf("inventory okunamadı: %w", err)
	}

	var records []container.ContainerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return []container.ContainerRecord{}, fmt.Errorf("inventory parse edilemedi: %w", err)
	}
	if records == nil {
		records = []container.ContainerRecord{}
	}
	return records, nil
}

// SaveStatus atomically writes the latest computed update statuses
func (s *Storage) SaveStatus(v any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := writeJSONAtomic(filepath.Join(s.dataDir, statusFile), v); err != nil {
		return fmt.Errorf("durum kaydedilemedi: %w", err)
	}
	return nil
}

// LoadStatus reads the status file into v. A missing file leaves v untouched.
func (s *Storage) LoadStatus(v any) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dataDir, statusFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("durum okunamadı: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("durum parse edilemedi: %w", err)
	}
	return nil
}

// SaveInspectDump writes the raw inspection document of a container into its
// backup directory, replacing the previous dump.
func (s *Storage) SaveInspectDump(name string, raw []byte) error {
	dir, err := s.containerDir(name)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("backup dizini oluşturulamadı: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, inspectFile), raw); err != nil {
		return fmt.Errorf("inspect dökümü kaydedilemedi (%s): %w", name, err)
	}
	return nil
}

// SaveBackup writes a new timestamped backup of a container. Existing backups
// are never overwritten.
func (s *Storage) SaveBackup(rec container.ContainerRecord, raw []byte, reason string) (BackupInfo, error) {
	dir, err := s.containerDir(rec.Name)
	if err != nil {
		return BackupInfo{}, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return BackupInfo{}, fmt.Errorf("backup dizini oluşturulamadı: %w", err)
	}

	backup := BackupRecord{
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Record:    rec,
	}
	if len(raw) > 0 && json.Valid(raw) {
		backup.Inspect = json.RawMessage(raw)
	}

	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return BackupInfo{}, fmt.Errorf("backup serialize edilemedi: %w", err)
	}

	var (
		f    *os.File
		path string
	)
	for attempt := 0; ; attempt++ {
		name := backupPrefix + backup.Timestamp.Format(timestampLayout) + ".json"
		if attempt > 0 {
			name = fmt.Sprintf("%s%s-%d.json", backupPrefix, backup.Timestamp.Format(timestampLayout), attempt)
		}
		path = filepath.Join(dir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !os.IsExist(err) || attempt >= 10 {
			return BackupInfo{}, fmt.Errorf("backup dosyası oluşturulamadı: %w", err)
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return BackupInfo{}, fmt.Errorf("backup yazılamadı: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return BackupInfo{}, fmt.Errorf("backup yazılamadı: %w", err)
	}
	if err := f.Close(); err != nil {
		return BackupInfo{}, fmt.Errorf("backup yazılamadı: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"container": rec.Name,
		"file":      path,
		"reason":    reason,
	}).Debug("Backup kaydedildi")

	return BackupInfo{Container: rec.Name, File: path, Timestamp: backup.Timestamp}, nil
}

// ListBackups lists the timestamped backups of a container, oldest first
func (s *Storage) ListBackups(name string) ([]BackupInfo, error) {
	dir, err := s.containerDir(name)
	if err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, fmt.Errorf("backup dizini okunamadı: %w", err)
	}

	backups := []BackupInfo{}
	for _, entry := range entries {
		fn := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fn, backupPrefix) || filepath.Ext(fn) != ".json" {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(fn, backupPrefix), ".json")
		if i := strings.LastIndex(stamp, "-"); i > 0 {
			stamp = stamp[:i]
		}
		ts, err := time.Parse(timestampLayout, stamp)
		if err != nil {
			s.logger.WithError(err).WithField("file", fn).Warn("Backup dosya adı çözümlenemedi")
			continue
		}
		backups = append(backups, BackupInfo{
			Container: name,
			File:      filepath.Join(dir, fn),
			Timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].File < backups[j].File
	})
	return backups, nil
}

// LoadBackup reads a backup file written by SaveBackup
func (s *Storage) LoadBackup(path string) (BackupRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return BackupRecord{}, fmt.Errorf("backup okunamadı: %w", err)
	}
	var backup BackupRecord
	if err := json.Unmarshal(data, &backup); err != nil {
		return BackupRecord{}, fmt.Errorf("backup parse edilemedi: %w", err)
	}
	return backup, nil
}

// GetStats returns storage statistics
func (s *Storage) GetStats() (map[string]int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := make(map[string]int)

	containerDirs, err := os.ReadDir(filepath.Join(s.dataDir, "backups"))
	if err != nil {
		return nil, fmt.Errorf("backups dizini okunamadı: %w", err)
	}
	backupCount := 0
	for _, dir := range containerDirs {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dataDir, "backups", dir.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if strings.HasPrefix(f.Name(), backupPrefix) {
				backupCount++
			}
		}
	}
	stats["containers"] = len(containerDirs)
	stats["backups"] = backupCount

	deployments, err := s.ListDeploymentBackups()
	if err != nil {
		return nil, err
	}
	stats["deployments"] = len(deployments)

	return stats, nil
}

func (s *Storage) containerDir(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("geçersiz container adı: %q", name)
	}
	return filepath.Join(s.dataDir, "backups", name), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize edilemedi: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data into a temporary file next to path and renames
// it over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Join(err, fmt.Errorf("%s yerine yazılamadı", path))
	}
	return nil
}
