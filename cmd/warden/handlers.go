package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"dockwarden/pkg/container"
	"dockwarden/pkg/detector"
	"dockwarden/pkg/scheduler"

	"github.com/gorilla/mux"
)

// containerView is a monitored container with its latest update status
type containerView struct {
	container.ContainerRecord
	Status *detector.UpdateStatus `json:"update_status,omitempty"`
}

// healthHandler handles health check requests
func (s *WardenServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status":  "healthy",
		"service": "dockwarden",
	}

	writeJSON(w, http.StatusOK, response)
}

// listContainersHandler lists the monitored containers. Before the first
// cycle the inventory file of the previous run is served.
func (s *WardenServer) listContainersHandler(w http.ResponseWriter, r *http.Request) {
	records := s.scheduler.Snapshot().Containers
	if records == nil {
		records = s.storage.LoadInventory()
	}

	views := make([]containerView, 0, len(records))
	for _, rec := range records {
		views = append(views, s.view(rec))
	}

	writeJSON(w, http.StatusOK, views)
}

// getContainerHandler returns one monitored container
func (s *WardenServer) getContainerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rec, ok := s.scheduler.Snapshot().Find(name)
	if !ok {
		http.Error(w, "Container bulunamadı", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, s.view(rec))
}

// listBackupsHandler lists the pre-update backups of a container
func (s *WardenServer) listBackupsHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	backups, err := s.storage.ListBackups(name)
	if err != nil {
		s.logger.WithError(err).WithField("container", name).Error("Backup listesi alınamadı")
		http.Error(w, "Backup listesi alınamadı", http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("latest") == "true" {
		if len(backups) == 0 {
			http.Error(w, "Backup bulunamadı", http.StatusNotFound)
			return
		}
		backup, err := s.storage.LoadBackup(backups[len(backups)-1].File)
		if err != nil {
			s.logger.WithError(err).WithField("container", name).Error("Backup okunamadı")
			http.Error(w, "Backup okunamadı", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, backup)
		return
	}

	writeJSON(w, http.StatusOK, backups)
}

// updateContainerHandler updates one container on demand
func (s *WardenServer) updateContainerHandler(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, mux.Vars(r)["name"], scheduler.Hint{})
}

// webhookHandler handles registry push notifications. The body names the
// pushed repository and tag; an empty body is accepted.
func (s *WardenServer) webhookHandler(w http.ResponseWriter, r *http.Request) {
	var hint scheduler.Hint
	if err := json.NewDecoder(r.Body).Decode(&hint); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Geçersiz JSON formatı", http.StatusBadRequest)
		return
	}

	s.update(w, r, mux.Vars(r)["name"], hint)
}

func (s *WardenServer) update(w http.ResponseWriter, r *http.Request, name string, hint scheduler.Hint) {
	if name == "" {
		http.Error(w, "Container adı boş olamaz", http.StatusBadRequest)
		return
	}

	// a recreation must not be abandoned half way when the client goes away
	ctx := context.WithoutCancel(r.Context())

	report, err := s.scheduler.UpdateContainer(ctx, name, hint)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, scheduler.ErrNotEligible):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, scheduler.ErrHintMismatch):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.WithError(err).WithField("container", name).Error("Container güncellenemedi")
			http.Error(w, "Container güncellenemedi", http.StatusInternalServerError)
		}
		return
	}

	code := http.StatusOK
	if report.Action == scheduler.ActionFailed {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, report)
}

// triggerHandler wakes the update loop
func (s *WardenServer) triggerHandler(w http.ResponseWriter, r *http.Request) {
	s.scheduler.RunNow()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Güncelleme döngüsü tetiklendi",
	})
}

// statusHandler returns the latest statuses and cycle report. Before the
// first cycle the persisted state of the previous run is served.
func (s *WardenServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	state := s.scheduler.State()
	if state.LastReport == nil {
		var persisted scheduler.State
		if err := s.storage.LoadStatus(&persisted); err == nil {
			state = persisted
		}
	}

	writeJSON(w, http.StatusOK, state)
}

// statsHandler returns storage statistics
func (s *WardenServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetStats()
	if err != nil {
		s.logger.WithError(err).Error("İstatistikler alınamadı")
		http.Error(w, "İstatistikler alınamadı", http.StatusInternalServerError)
		return
	}
	stats["monitored"] = len(s.scheduler.Snapshot().Containers)

	writeJSON(w, http.StatusOK, stats)
}

func (s *WardenServer) view(rec container.ContainerRecord) containerView {
	v := containerView{ContainerRecord: rec}
	if status, ok := s.scheduler.Status(rec.Name); ok {
		v.Status = &status
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
