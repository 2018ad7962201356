package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/storage"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/sirupsen/logrus"
)

// Snapshot is a complete inventory of the eligible containers at one point in
// time. It is passed by value; nothing mutates a snapshot once built.
type Snapshot struct {
	BuiltAt    time.Time                   `json:"built_at"`
	Containers []container.ContainerRecord `json:"containers"`
}

// Find returns the record of a container by name or ID
func (s Snapshot) Find(nameOrID string) (container.ContainerRecord, bool) {
	nameOrID = strings.TrimPrefix(nameOrID, "/")
	for _, rec := range s.Containers {
		if rec.Name == nameOrID || rec.ID == nameOrID {
			return rec, true
		}
	}
	for _, rec := range s.Containers {
		if len(nameOrID) >= 12 && strings.HasPrefix(rec.ID, nameOrID) {
			return rec, true
		}
	}
	return container.ContainerRecord{}, false
}

// Source lists and inspects containers
type Source interface {
	ListRunning(ctx context.Context) ([]dockercontainer.Summary, error)
	Inspect(ctx context.Context, nameOrID string) (container.ContainerRecord, []byte, error)
}

// Store persists the snapshot and the per-container inspection dumps
type Store interface {
	SaveInventory(records []container.ContainerRecord) error
	SaveInspectDump(name string, raw []byte) error
}

// SelfMatcher recognises the updater's own container
type SelfMatcher interface {
	IsSelf(id string) bool
}

// Builder builds inventory snapshots
type Builder struct {
	source Source
	store  Store
	self   SelfMatcher
	logger *logrus.Logger
}

// NewBuilder creates a new inventory builder
func NewBuilder(source Source, store Store, self SelfMatcher, logger *logrus.Logger) *Builder {
	return &Builder{
		source: source,
		store:  store,
		self:   self,
		logger: logger,
	}
}

// Build inspects every running container, keeps the eligible ones, dumps their
// inspection data and atomically replaces the inventory file.
func (b *Builder) Build(ctx context.Context) (Snapshot, error) {
	summaries, err := b.source.ListRunning(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("inventory oluşturulamadı: %w", err)
	}

	snapshot := Snapshot{
		BuiltAt:    time.Now().UTC(),
		Containers: make([]container.ContainerRecord, 0, len(summaries)),
	}

	for _, summary := range summaries {
		if b.self != nil && b.self.IsSelf(summary.ID) {
			b.logger.WithField("container_id", container.ShortID(summary.ID)).Debug("Kendi container'ı inventory dışında bırakıldı")
			continue
		}
		if !IsEligible(summary.Labels) {
			continue
		}

		rec, raw, err := b.source.Inspect(ctx, summary.ID)
		if err != nil {
			b.logger.WithError(err).WithField("container_id", container.ShortID(summary.ID)).Warn("Container incelenemedi, atlanıyor")
			continue
		}
		// labels and state are re-checked on the inspected data, the list
		// may be stale by now
		if !rec.Running() || !IsEligible(rec.Labels) {
			continue
		}

		if err := b.store.SaveInspectDump(rec.Name, raw); err != nil {
			b.logger.WithError(err).WithField("container", rec.Name).Warn("Inspect dökümü kaydedilemedi")
		}

		snapshot.Containers = append(snapshot.Containers, rec)
	}

	sort.Slice(snapshot.Containers, func(i, j int) bool {
		return snapshot.Containers[i].Name < snapshot.Containers[j].Name
	})

	if err := b.store.SaveInventory(snapshot.Containers); err != nil {
		return Snapshot{}, err
	}

	b.logger.WithFields(logrus.Fields{
		"eligible": len(snapshot.Containers),
		"running":  len(summaries),
	}).Info("Inventory oluşturuldu")

	return snapshot, nil
}

// Load reads a persisted inventory. A missing or malformed file yields an
// empty snapshot.
func Load(path string) Snapshot {
	records, _ := storage.LoadInventoryFile(path)
	return Snapshot{Containers: records}
}
