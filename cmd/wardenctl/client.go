package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/detector"
	"dockwarden/pkg/scheduler"
	"dockwarden/pkg/storage"
)

// containerInfo is a monitored container as the server reports it
type containerInfo struct {
	container.ContainerRecord
	Status *detector.UpdateStatus `json:"update_status,omitempty"`
}

// updates can take as long as an image pull plus a container restart
var httpClient = &http.Client{Timeout: 10 * time.Minute}

// HTTP client functions

func listContainers() ([]containerInfo, error) {
	var containers []containerInfo
	if err := getJSON("/containers", &containers); err != nil {
		return nil, err
	}
	return containers, nil
}

func getContainer(name string) (*containerInfo, error) {
	var c containerInfo
	if err := getJSON("/containers/"+url.PathEscape(name), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func listBackups(name string) ([]storage.BackupInfo, error) {
	var backups []storage.BackupInfo
	if err := getJSON("/containers/"+url.PathEscape(name)+"/backups", &backups); err != nil {
		return nil, err
	}
	return backups, nil
}

func updateContainer(name string) (*scheduler.ContainerReport, error) {
	resp, err := httpClient.Post(serverURL+"/containers/"+url.PathEscape(name)+"/update", "application/json", bytes.NewBufferString("{}"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var report scheduler.ContainerReport
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func trigger() error {
	resp, err := httpClient.Post(serverURL+"/trigger", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func getStatus() (*scheduler.State, error) {
	var state scheduler.State
	if err := getJSON("/status", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func getStats() (map[string]int, error) {
	stats := map[string]int{}
	if err := getJSON("/stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func getJSON(path string, v any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
