// Package release deploys new versions of the updater's own container with
// a backup taken first and an automatic rollback when the new version does
// not become healthy.
package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/deployspec"
	"dockwarden/pkg/selfupdate"
	"dockwarden/pkg/storage"

	"github.com/docker/docker/api/types/image"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Phase is a state of a release
type Phase string

const (
	PhaseIdle                   Phase = "idle"
	PhaseBackingUp              Phase = "backing-up"
	PhaseDeploying              Phase = "deploying"
	PhaseHealthChecking         Phase = "health-checking"
	PhaseHealthy                Phase = "healthy"
	PhaseRollingBack            Phase = "rolling-back"
	PhaseRollbackHealthChecking Phase = "rollback-health-checking"
	PhaseRolledBack             Phase = "rolled-back"
	PhaseFailed                 Phase = "failed"
)

var (
	// ErrBackupFailed is returned when no backup could be taken; nothing was
	// changed in that case
	ErrBackupFailed = errors.New("deployment yedeği alınamadı")
	// ErrRolledBack is returned when a release was reverted to its backup
	ErrRolledBack = errors.New("yeni sürüm sağlıksız, önceki sürüme dönüldü")
	// ErrDualFailure is returned when both the release and its rollback
	// failed. It needs manual intervention and is never retried.
	ErrDualFailure = errors.New("yeni sürüm ve geri dönüş başarısız, elle müdahale gerekiyor")
)

var transitions = map[Phase][]Phase{
	PhaseIdle:                   {PhaseBackingUp, PhaseRollingBack},
	PhaseBackingUp:              {PhaseDeploying, PhaseFailed},
	PhaseDeploying:              {PhaseHealthChecking, PhaseRollingBack},
	PhaseHealthChecking:         {PhaseHealthy, PhaseRollingBack},
	PhaseRollingBack:            {PhaseRollbackHealthChecking, PhaseFailed},
	PhaseRollbackHealthChecking: {PhaseRolledBack, PhaseFailed},
}

// Transition is one recorded phase change
type Transition struct {
	From    Phase     `json:"from"`
	To      Phase     `json:"to"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
}

// Release is one run of the controller
type Release struct {
	ID       string       `json:"id"`
	Image    string       `json:"image,omitempty"`
	Phase    Phase        `json:"phase"`
	BackupID string       `json:"backup_id,omitempty"`
	History  []Transition `json:"history"`
	Error    string       `json:"error,omitempty"`
}

// Engine is the subset of container operations a release uses
type Engine interface {
	Inspect(ctx context.Context, nameOrID string) (container.ContainerRecord, []byte, error)
	ImageInspect(ctx context.Context, ref string) (image.InspectResponse, error)
	Pull(ctx context.Context, ref string) (string, error)
	State(ctx context.Context, nameOrID string) (exists bool, running bool, id string, err error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	Create(ctx context.Context, spec container.ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
}

// BackupStore persists deployment backups
type BackupStore interface {
	SaveDeploymentBackup(backup storage.DeploymentBackup) error
	LoadDeploymentBackup(id string) (storage.DeploymentBackup, error)
	LatestDeploymentBackup() (storage.DeploymentBackup, error)
}

// Options configures a Controller
type Options struct {
	Container string
	Deploy    selfupdate.DeployOptions
}

// Controller runs releases of the updater's own deployment
type Controller struct {
	engine Engine
	store  BackupStore
	health HealthChecker
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	mutex sync.Mutex
}

// NewController creates a new release controller
func NewController(engine Engine, store BackupStore, health HealthChecker, opts Options, logger *logrus.Logger) *Controller {
	if opts.Container == "" {
		opts.Container = opts.Deploy.Fallback.Name
	}
	return &Controller{
		engine: engine,
		store:  store,
		health: health,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Backup takes a deployment backup of the running container and marks it as
// the latest one.
func (c *Controller) Backup(ctx context.Context) (storage.DeploymentBackup, error) {
	rec, raw, err := c.engine.Inspect(ctx, c.opts.Container)
	if err != nil {
		return storage.DeploymentBackup{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	now := c.now().UTC()
	backup := storage.DeploymentBackup{
		ID:            storage.NewDeploymentBackupID(now),
		CreatedAt:     now,
		ContainerName: rec.Name,
		ContainerID:   rec.ID,
		Inspect:       raw,
		ImageRef:      rec.Image,
		ImageID:       rec.ImageID,
	}

	if c.opts.Deploy.UsesCompose() {
		content, err := deployspec.Raw(c.opts.Deploy.ComposeFile)
		if err != nil {
			return storage.DeploymentBackup{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
		}
		backup.ComposeFile = c.opts.Deploy.ComposeFile
		backup.ComposeContent = content
	}

	if img, err := c.engine.ImageInspect(ctx, rec.ImageID); err == nil {
		backup.RepoDigests = img.RepoDigests
	} else {
		c.logger.WithError(err).Warn("Image bilgisi alınamadı")
	}

	if err := c.store.SaveDeploymentBackup(backup); err != nil {
		return storage.DeploymentBackup{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	c.logger.WithFields(logrus.Fields{
		"backup_id": backup.ID,
		"image":     backup.ImageRef,
		"image_id":  container.ShortID(backup.ImageID),
	}).Info("Deployment yedeği alındı")

	return backup, nil
}

// Deploy releases image, or the image of the deployment spec when empty.
// An unhealthy release is rolled back to the backup taken before it.
func (c *Controller) Deploy(ctx context.Context, image string) (*Release, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	r := c.newRelease(image)

	c.transition(r, PhaseBackingUp, "")
	backup, err := c.Backup(ctx)
	if err != nil {
		c.fail(r, PhaseFailed, err)
		return r, err
	}
	r.BackupID = backup.ID

	c.transition(r, PhaseDeploying, "")
	if err := c.deploy(ctx, image); err != nil {
		return r, c.rollback(ctx, r, backup, err)
	}

	c.transition(r, PhaseHealthChecking, "")
	if err := c.health.Check(ctx); err != nil {
		return r, c.rollback(ctx, r, backup, err)
	}

	c.transition(r, PhaseHealthy, "")
	return r, nil
}

// Rollback restores a backup, the latest when id is empty, without a
// preceding release.
func (c *Controller) Rollback(ctx context.Context, id string) (*Release, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var (
		backup storage.DeploymentBackup
		err    error
	)
	if id == "" {
		backup, err = c.store.LatestDeploymentBackup()
	} else {
		backup, err = c.store.LoadDeploymentBackup(id)
	}
	if err != nil {
		return nil, err
	}

	r := c.newRelease("")
	r.BackupID = backup.ID
	if err := c.rollback(ctx, r, backup, nil); err != nil && !errors.Is(err, ErrRolledBack) {
		return r, err
	}
	return r, nil
}

func (c *Controller) rollback(ctx context.Context, r *Release, backup storage.DeploymentBackup, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
		c.logger.WithError(cause).WithField("release_id", r.ID).Warn("Yeni sürüm sağlıksız, geri dönülüyor")
	}
	c.transition(r, PhaseRollingBack, msg)

	if err := c.restore(ctx, backup); err != nil {
		return c.dualFailure(r, cause, err)
	}

	c.transition(r, PhaseRollbackHealthChecking, "")
	if err := c.health.Check(ctx); err != nil {
		return c.dualFailure(r, cause, err)
	}

	c.transition(r, PhaseRolledBack, "")
	if cause == nil {
		return nil
	}
	r.Error = cause.Error()
	return fmt.Errorf("%w: %v", ErrRolledBack, cause)
}

func (c *Controller) restore(ctx context.Context, backup storage.DeploymentBackup) error {
	if backup.ComposeFile != "" && len(backup.ComposeContent) > 0 {
		if err := deployspec.WriteRaw(backup.ComposeFile, backup.ComposeContent); err != nil {
			return err
		}
	}

	pinned := backup.ImageID
	if pinned == "" {
		pinned = backup.ImageRef
	}
	return c.deploy(ctx, pinned)
}

// deploy replaces the running container with one built from the deployment
// spec, optionally overriding its image
func (c *Controller) deploy(ctx context.Context, image string) error {
	var previousEnv []string
	exists, _, id, err := c.engine.State(ctx, c.opts.Container)
	if err != nil {
		return err
	}
	if exists {
		if prev, _, err := c.engine.Inspect(ctx, id); err == nil {
			previousEnv = prev.Env
		}
	}

	spec, err := c.opts.Deploy.Spec(ctx, image, previousEnv)
	if err != nil {
		return err
	}

	if !strings.HasPrefix(spec.Image, "sha256:") {
		if _, err := c.engine.Pull(ctx, spec.Image); err != nil {
			return err
		}
	}

	if exists {
		if err := c.engine.Stop(ctx, id); err != nil && !container.IsNotFound(err) {
			return err
		}
		if err := c.engine.Remove(ctx, id); err != nil && !container.IsNotFound(err) {
			return err
		}
	}

	newID, err := c.engine.Create(ctx, spec)
	if err != nil {
		return err
	}
	return c.engine.Start(ctx, newID)
}

func (c *Controller) newRelease(image string) *Release {
	return &Release{
		ID:    uuid.NewString(),
		Image: image,
		Phase: PhaseIdle,
	}
}

func (c *Controller) dualFailure(r *Release, cause, err error) error {
	c.fail(r, PhaseFailed, err)
	c.logger.WithError(err).WithFields(logrus.Fields{
		"release_id": r.ID,
		"backup_id":  r.BackupID,
		"severity":   "fatal",
	}).Error("Geri dönüş başarısız, elle müdahale gerekiyor")
	if cause != nil {
		return fmt.Errorf("%w: %v; geri dönüş: %v", ErrDualFailure, cause, err)
	}
	return fmt.Errorf("%w: %v", ErrDualFailure, err)
}

func (c *Controller) fail(r *Release, to Phase, err error) {
	r.Error = err.Error()
	c.transition(r, to, err.Error())
}

func (c *Controller) transition(r *Release, to Phase, msg string) {
	if !allowed(r.Phase, to) {
		// programming error; record it but keep going
		c.logger.WithFields(logrus.Fields{
			"from": string(r.Phase),
			"to":   string(to),
		}).Error("Geçersiz release durumu geçişi")
	}
	r.History = append(r.History, Transition{
		From:    r.Phase,
		To:      to,
		At:      c.now().UTC(),
		Message: msg,
	})
	r.Phase = to

	c.logger.WithFields(logrus.Fields{
		"release_id": r.ID,
		"phase":      string(to),
	}).Info("Release durumu değişti")
}

func allowed(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a phase ends a release
func (p Phase) Terminal() bool {
	switch p {
	case PhaseHealthy, PhaseRolledBack, PhaseFailed:
		return true
	}
	return false
}
