// Package watchdog keeps the updater's own container alive from a separate
// process.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/selfupdate"

	"github.com/sirupsen/logrus"
)

// State is the observed state of the watched container
type State string

const (
	Present State = "present"
	Absent  State = "absent"
)

// Engine is the subset of container operations the watchdog uses
type Engine interface {
	State(ctx context.Context, nameOrID string) (exists bool, running bool, id string, err error)
	Inspect(ctx context.Context, nameOrID string) (container.ContainerRecord, []byte, error)
	Start(ctx context.Context, containerID string) error
	Pull(ctx context.Context, ref string) (string, error)
	Remove(ctx context.Context, containerID string) error
	Create(ctx context.Context, spec container.ContainerSpec) (string, error)
}

// Handoffs reports a running self-update
type Handoffs interface {
	Active() (selfupdate.Handoff, bool)
}

// Options configures a Watchdog
type Options struct {
	Container string
	Image     string
	Interval  time.Duration
	Deploy    selfupdate.DeployOptions
}

// Watchdog polls for the updater's container and brings it back when it is
// gone. It neither backs off nor gives up.
type Watchdog struct {
	engine   Engine
	handoffs Handoffs
	opts     Options
	logger   *logrus.Logger
}

// New creates a new watchdog
func New(engine Engine, handoffs Handoffs, opts Options, logger *logrus.Logger) *Watchdog {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Watchdog{
		engine:   engine,
		handoffs: handoffs,
		opts:     opts,
		logger:   logger,
	}
}

// Check reports whether the watched container is running
func (w *Watchdog) Check(ctx context.Context) (State, error) {
	_, running, _, err := w.engine.State(ctx, w.opts.Container)
	if err != nil {
		return Absent, err
	}
	if running {
		return Present, nil
	}
	return Absent, nil
}

// Run polls until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.WithFields(logrus.Fields{
		"container": w.opts.Container,
		"interval":  w.opts.Interval.String(),
	}).Info("Watchdog başlatıldı")

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil {
			w.logger.WithError(err).Error("Updater geri getirilemedi")
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Watchdog durduruldu")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one poll and recovers the container when it is absent
func (w *Watchdog) Tick(ctx context.Context) error {
	state, err := w.Check(ctx)
	if err != nil {
		return fmt.Errorf("container durumu alınamadı: %w", err)
	}
	if state == Present {
		return nil
	}

	if w.handoffs != nil {
		if h, ok := w.handoffs.Active(); ok {
			w.logger.WithFields(logrus.Fields{
				"generation": h.Generation,
				"expires_at": h.ExpiresAt,
			}).Info("Self-update sürüyor, watchdog bekliyor")
			return nil
		}
	}

	w.logger.WithField("container", w.opts.Container).Warn("Updater çalışmıyor")
	return w.Recover(ctx)
}

// Recover starts the existing container or, failing that, redeploys it
func (w *Watchdog) Recover(ctx context.Context) error {
	exists, _, id, err := w.engine.State(ctx, w.opts.Container)
	if err != nil {
		return err
	}

	if exists {
		startErr := w.engine.Start(ctx, id)
		if startErr == nil {
			w.logger.WithField("container_id", container.ShortID(id)).Info("Mevcut container yeniden başlatıldı")
			return nil
		}
		w.logger.WithError(startErr).Warn("Mevcut container başlatılamadı, yeniden kuruluyor")
	}

	if w.opts.Image != "" {
		if _, err := w.engine.Pull(ctx, w.opts.Image); err != nil {
			w.logger.WithError(err).WithField("image", w.opts.Image).Warn("Image çekilemedi, yereldeki image kullanılacak")
		}
	}

	var previousEnv []string
	if exists {
		if prev, _, err := w.engine.Inspect(ctx, id); err == nil {
			previousEnv = prev.Env
		}
		if err := w.engine.Remove(ctx, id); err != nil && !container.IsNotFound(err) {
			return fmt.Errorf("eski container silinemedi: %w", err)
		}
	}

	spec, err := w.opts.Deploy.Spec(ctx, w.opts.Image, previousEnv)
	if err != nil {
		return err
	}
	newID, err := w.engine.Create(ctx, spec)
	if err != nil {
		return err
	}
	if err := w.engine.Start(ctx, newID); err != nil {
		return err
	}

	w.logger.WithField("container_id", container.ShortID(newID)).Info("Updater yeniden kuruldu")
	return nil
}
