package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	deploymentFile = "deployment.json"
	latestFile     = "latest"
)

// DeploymentBackup is a snapshot of the updater's own deployment taken before
// a release.
type DeploymentBackup struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	ContainerName  string          `json:"container_name"`
	ContainerID    string          `json:"container_id,omitempty"`
	Inspect        json.RawMessage `json:"inspect,omitempty"`
	ComposeFile    string          `json:"compose_file,omitempty"`
	ComposeContent []byte          `json:"compose_content,omitempty"`
	ImageRef       string          `json:"image_ref"`
	ImageID        string          `json:"image_id,omitempty"`
	RepoDigests    []string        `json:"repo_digests,omitempty"`
}

// NewDeploymentBackupID returns the timestamp key of a backup taken at t
func NewDeploymentBackupID(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// SaveDeploymentBackup stores a deployment backup and marks it as the latest
func (s *Storage) SaveDeploymentBackup(backup DeploymentBackup) error {
	if backup.ID == "" {
		backup.ID = NewDeploymentBackupID(backup.CreatedAt)
	}
	dir, err := s.deploymentDir(backup.ID)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("deployment backup zaten mevcut: %s", backup.ID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("deployment backup dizini oluşturulamadı: %w", err)
	}

	if err := writeJSONAtomic(filepath.Join(dir, deploymentFile), backup); err != nil {
		return fmt.Errorf("deployment backup kaydedilemedi: %w", err)
	}
	if len(backup.ComposeContent) > 0 && backup.ComposeFile != "" {
		if err := WriteFileAtomic(filepath.Join(dir, filepath.Base(backup.ComposeFile)), backup.ComposeContent); err != nil {
			return fmt.Errorf("compose dosyası yedeklenemedi: %w", err)
		}
	}
	if err := WriteFileAtomic(filepath.Join(s.dataDir, "deployments", latestFile), []byte(backup.ID+"\n")); err != nil {
		return fmt.Errorf("son backup işaretlenemedi: %w", err)
	}

	s.logger.WithField("backup_id", backup.ID).Debug("Deployment backup kaydedildi")
	return nil
}

// LoadDeploymentBackup loads a deployment backup by ID
func (s *Storage) LoadDeploymentBackup(id string) (DeploymentBackup, error) {
	dir, err := s.deploymentDir(id)
	if err != nil {
		return DeploymentBackup{}, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, err := os.ReadFile(filepath.Join(dir, deploymentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return DeploymentBackup{}, fmt.Errorf("deployment backup bulunamadı: %s", id)
		}
		return DeploymentBackup{}, fmt.Errorf("deployment backup okunamadı: %w", err)
	}

	var backup DeploymentBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		return DeploymentBackup{}, fmt.Errorf("deployment backup parse edilemedi: %w", err)
	}
	return backup, nil
}

// LatestDeploymentBackup loads the backup most recently marked as latest
func (s *Storage) LatestDeploymentBackup() (DeploymentBackup, error) {
	s.mutex.RLock()
	data, err := os.ReadFile(filepath.Join(s.dataDir, "deployments", latestFile))
	s.mutex.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return DeploymentBackup{}, fmt.Errorf("hiç deployment backup yok")
		}
		return DeploymentBackup{}, fmt.Errorf("son backup okunamadı: %w", err)
	}
	return s.LoadDeploymentBackup(strings.TrimSpace(string(data)))
}

// ListDeploymentBackups lists the IDs of all deployment backups, oldest first
func (s *Storage) ListDeploymentBackups() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "deployments"))
	if err != nil {
		return nil, fmt.Errorf("deployments dizini okunamadı: %w", err)
	}
	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Storage) deploymentDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("geçersiz backup kimliği: %q", id)
	}
	return filepath.Join(s.dataDir, "deployments", id), nil
}
