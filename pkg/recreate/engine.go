package recreate

import (
	"context"
	"errors"
	"fmt"

	"dockwarden/pkg/container"
	"dockwarden/pkg/detector"
	"dockwarden/pkg/storage"

	"github.com/sirupsen/logrus"
)

// Labels selecting how an available update is handled
const (
	LabelUpdateApproach           = "update-approach"
	LabelNamespacedUpdateApproach = "dockwarden.update-approach"

	ApproachNotify = "notify"
)

var (
	// ErrNotEligible is returned when a container does not meet the
	// preconditions of a recreation
	ErrNotEligible = errors.New("container güncellemeye uygun değil")

	// ErrNoSelfUpdater is returned when the own container is targeted but
	// no self-update handler is configured
	ErrNoSelfUpdater = errors.New("kendi container'ı için self-update tanımlı değil")
)

// Step names one step of a recreation
type Step string

const (
	StepBackup     Step = "backup"
	StepSynthesize Step = "synthesize"
	StepStop       Step = "stop"
	StepRemove     Step = "remove"
	StepCreate     Step = "create"
	StepStart      Step = "start"
	StepHandoff    Step = "handoff"
)

// Severity grades a step failure
type Severity int

const (
	// SeverityTransient failures leave the container as it was, or in a
	// state that needs no operator action. The next cycle retries.
	SeverityTransient Severity = iota
	// SeverityFatal failures leave the container absent. They are never
	// retried automatically.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "transient"
}

// StepError is the failure of one recreation step
type StepError struct {
	Container   string
	Step        Step
	Severity    Severity
	ContainerID string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s adımı başarısız: %v", e.Container, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a fatal step failure
func IsFatal(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr) && stepErr.Severity == SeverityFatal
}

// Approach returns the update approach requested by a container's labels
func Approach(rec container.ContainerRecord) string {
	if v := rec.Label(LabelNamespacedUpdateApproach); v != "" {
		return v
	}
	return rec.Label(LabelUpdateApproach)
}

// NotifyOnly reports whether updates of a container are only announced
func NotifyOnly(rec container.ContainerRecord) bool {
	return Approach(rec) == ApproachNotify
}

// Eligible checks the preconditions of a recreation
func Eligible(rec container.ContainerRecord, status detector.UpdateStatus) error {
	switch {
	case status.LocallyBuilt:
		return fmt.Errorf("%w: yerel image", ErrNotEligible)
	case status.Undetermined():
		return fmt.Errorf("%w: güncelleme durumu belirlenemedi", ErrNotEligible)
	case !status.UpdateAvailable:
		return fmt.Errorf("%w: image güncel", ErrNotEligible)
	case NotifyOnly(rec):
		return fmt.Errorf("%w: sadece bildirim", ErrNotEligible)
	}
	return nil
}

// Manager is the subset of container operations a recreation uses
type Manager interface {
	Inspect(ctx context.Context, nameOrID string) (container.ContainerRecord, []byte, error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Create(ctx context.Context, spec container.ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
	ListImages(ctx context.Context) ([]string, error)
	RemoveImage(ctx context.Context, imageID string) error
}

// BackupStore persists pre-update backups
type BackupStore interface {
	SaveBackup(rec container.ContainerRecord, raw []byte, reason string) (storage.BackupInfo, error)
}

// SelfMatcher recognises the updater's own container
type SelfMatcher interface {
	IsSelf(id string) bool
}

// SelfUpdater replaces the updater's own container out of process
type SelfUpdater interface {
	Handle(ctx context.Context, rec container.ContainerRecord, image string) error
}

// Options configures an Engine
type Options struct {
	Cleanup bool
	Self    SelfMatcher
	Updater SelfUpdater
}

// Result describes a completed recreation
type Result struct {
	Container  string             `json:"container"`
	Image      string             `json:"image"`
	OldID      string             `json:"old_id"`
	NewID      string             `json:"new_id,omitempty"`
	OldImageID string             `json:"old_image_id"`
	NewImageID string             `json:"new_image_id"`
	Backup     storage.BackupInfo `json:"backup"`
	SelfUpdate bool               `json:"self_update,omitempty"`
	Cleaned    bool               `json:"cleaned,omitempty"`
}

// Engine replaces containers with equivalent ones running a newer image
type Engine struct {
	manager Manager
	store   BackupStore
	self    SelfMatcher
	updater SelfUpdater
	cleanup bool
	logger  *logrus.Logger
}

// NewEngine creates a new recreation engine
func NewEngine(manager Manager, store BackupStore, opts Options, logger *logrus.Logger) *Engine {
	return &Engine{
		manager: manager,
		store:   store,
		self:    opts.Self,
		updater: opts.Updater,
		cleanup: opts.Cleanup,
		logger:  logger,
	}
}

// Recreate replaces the container of rec with one running the image status
// resolved. A failing step aborts the remaining steps and is returned as a
// *StepError.
func (e *Engine) Recreate(ctx context.Context, rec container.ContainerRecord, status detector.UpdateStatus) (Result, error) {
	if err := Eligible(rec, status); err != nil {
		return Result{}, err
	}

	result := Result{
		Container:  rec.Name,
		Image:      rec.Image,
		OldID:      rec.ID,
		OldImageID: rec.ImageID,
		NewImageID: *status.LatestImageID,
	}

	log := e.logger.WithFields(logrus.Fields{
		"container":    rec.Name,
		"container_id": rec.ShortID(),
		"image":        rec.Image,
	})

	// 1. backup, from a fresh inspection so a container another trigger
	// already replaced is never touched
	current, raw, err := e.manager.Inspect(ctx, rec.ID)
	if container.IsNotFound(err) {
		return result, fmt.Errorf("%w: container artık mevcut değil", ErrNotEligible)
	}
	if err != nil {
		return result, e.fail(log, rec, StepBackup, SeverityTransient, "", err)
	}
	if current.ImageID == result.NewImageID {
		return result, fmt.Errorf("%w: image zaten güncel", ErrNotEligible)
	}

	backup, err := e.store.SaveBackup(current, raw, "update")
	if err != nil {
		return result, e.fail(log, rec, StepBackup, SeverityTransient, "", err)
	}
	result.Backup = backup
	log.WithField("backup", backup.File).Info("Yedek alındı")

	if e.self != nil && e.self.IsSelf(rec.ID) {
		result.SelfUpdate = true
		if e.updater == nil {
			return result, e.fail(log, rec, StepHandoff, SeverityTransient, "", ErrNoSelfUpdater)
		}
		log.Info("Kendi container'ı hedeflendi, self-update başlatılıyor")
		if err := e.updater.Handle(ctx, current, rec.Image); err != nil {
			return result, e.fail(log, rec, StepHandoff, SeverityTransient, "", err)
		}
		return result, nil
	}

	// 2. synthesize; a record that cannot be reproduced leaves the
	// container running
	spec := Synthesize(current, rec.Image)
	if err := spec.Validate(); err != nil {
		return result, e.fail(log, rec, StepSynthesize, SeverityTransient, "", err)
	}

	// 3. stop
	if err := e.manager.Stop(ctx, rec.ID); err != nil {
		return result, e.fail(log, rec, StepStop, SeverityTransient, "", err)
	}

	// 4. remove
	if err := e.manager.Remove(ctx, rec.ID); err != nil {
		return result, e.fail(log, rec, StepRemove, SeverityFatal, "", err)
	}

	// 5. create
	newID, err := e.manager.Create(ctx, spec)
	if err != nil {
		return result, e.fail(log, rec, StepCreate, SeverityFatal, newID, err)
	}
	result.NewID = newID

	// 6. start; a created but stopped container is left for inspection
	if err := e.manager.Start(ctx, newID); err != nil {
		return result, e.fail(log, rec, StepStart, SeverityTransient, newID, err)
	}

	log.WithFields(logrus.Fields{
		"new_container_id": container.ShortID(newID),
		"old_image_id":     container.ShortID(result.OldImageID),
		"new_image_id":     container.ShortID(result.NewImageID),
	}).Info("Container güncellendi")

	// 7. cleanup
	if e.cleanup {
		result.Cleaned = e.removeOldImage(ctx, log, result.OldImageID, result.NewImageID)
	}

	return result, nil
}

func (e *Engine) removeOldImage(ctx context.Context, log *logrus.Entry, oldID, newID string) bool {
	if oldID == "" || oldID == newID {
		return false
	}

	images, err := e.manager.ListImages(ctx)
	if err != nil {
		log.WithError(err).Warn("Eski image temizlenemedi")
		return false
	}
	found := false
	for _, id := range images {
		if id == oldID {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if err := e.manager.RemoveImage(ctx, oldID); err != nil {
		log.WithError(err).WithField("image_id", container.ShortID(oldID)).Warn("Eski image temizlenemedi")
		return false
	}
	return true
}

func (e *Engine) fail(log *logrus.Entry, rec container.ContainerRecord, step Step, severity Severity, newID string, err error) error {
	stepErr := &StepError{
		Container:   rec.Name,
		Step:        step,
		Severity:    severity,
		ContainerID: newID,
		Err:         err,
	}

	entry := log.WithError(err).WithFields(logrus.Fields{
		"step":     string(step),
		"severity": severity.String(),
	})
	if newID != "" {
		entry = entry.WithField("new_container_id", container.ShortID(newID))
	}

	if severity == SeverityFatal {
		entry.Error("Güncelleme yarıda kaldı, container ayakta değil; elle müdahale gerekiyor")
	} else {
		entry.Warn("Güncelleme adımı başarısız, container atlanıyor")
	}
	return stepErr
}
