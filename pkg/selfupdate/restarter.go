package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dockwarden/pkg/container"

	"github.com/sirupsen/logrus"
)

// Engine is the subset of container operations the restart worker uses
type Engine interface {
	Inspect(ctx context.Context, nameOrID string) (container.ContainerRecord, []byte, error)
	State(ctx context.Context, nameOrID string) (exists bool, running bool, id string, err error)
	Remove(ctx context.Context, containerID string) error
	Create(ctx context.Context, spec container.ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
}

// RestartOptions configures a Restarter
type RestartOptions struct {
	Target     string
	Image      string
	Generation string
	Delay      time.Duration
	// StopWait bounds the wait for the target to stop on its own. The
	// target is force removed afterwards.
	StopWait     time.Duration
	PollInterval time.Duration
	Deploy       DeployOptions
}

// Restarter is the body of the deferred self-restart worker
type Restarter struct {
	engine  Engine
	handoff *HandoffStore
	opts    RestartOptions
	logger  *logrus.Logger
}

// NewRestarter creates a new restart worker
func NewRestarter(engine Engine, handoff *HandoffStore, opts RestartOptions, logger *logrus.Logger) *Restarter {
	if opts.StopWait <= 0 {
		opts.StopWait = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Restarter{
		engine:  engine,
		handoff: handoff,
		opts:    opts,
		logger:  logger,
	}
}

// Run waits for the old updater to exit, removes its container and starts the
// replacement. It returns the ID of the new container.
func (r *Restarter) Run(ctx context.Context) (string, error) {
	if r.opts.Target == "" {
		return "", errors.New("hedef container belirtilmedi")
	}

	log := r.logger.WithFields(logrus.Fields{
		"target":     container.ShortID(r.opts.Target),
		"image":      r.opts.Image,
		"generation": r.opts.Generation,
	})

	if err := sleep(ctx, r.opts.Delay); err != nil {
		return "", err
	}

	var previousEnv []string
	prev, _, err := r.engine.Inspect(ctx, r.opts.Target)
	switch {
	case err == nil:
		previousEnv = prev.Env
	case container.IsNotFound(err):
		log.Warn("Hedef container zaten yok")
	default:
		return "", err
	}

	spec, err := r.opts.Deploy.Spec(ctx, r.opts.Image, previousEnv)
	if err != nil {
		return "", fmt.Errorf("yeni container yapılandırması çözümlenemedi: %w", err)
	}

	if prev.ID != "" {
		if err := r.waitStopped(ctx); err != nil {
			log.WithError(err).Warn("Hedef container kendiliğinden durmadı, zorla siliniyor")
		}
		if err := r.engine.Remove(ctx, prev.ID); err != nil && !container.IsNotFound(err) {
			log.WithError(err).WithField("severity", "fatal").Error("Eski container silinemedi")
			return "", err
		}
	}

	id, err := r.engine.Create(ctx, spec)
	if err != nil {
		log.WithError(err).WithField("severity", "fatal").Error("Yeni container oluşturulamadı")
		return id, err
	}
	if err := r.engine.Start(ctx, id); err != nil {
		log.WithError(err).WithField("container_id", container.ShortID(id)).Warn("Yeni container başlatılamadı")
		return id, err
	}

	if err := r.handoff.Clear(r.opts.Generation); err != nil {
		log.WithError(err).Warn("Handoff temizlenemedi")
	}

	log.WithField("container_id", container.ShortID(id)).Info("Updater yeni image ile yeniden başlatıldı")
	return id, nil
}

func (r *Restarter) waitStopped(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StopWait)
	defer cancel()

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		exists, running, _, err := r.engine.State(ctx, r.opts.Target)
		if err == nil && (!exists || !running) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
