package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"dockwarden/pkg/container"

	"github.com/sirupsen/logrus"
)

// LabelWorker marks the helper containers of a self-update
const LabelWorker = "dockwarden.self-restart"

// ErrHandoffActive is returned while a restart worker already owns the
// replacement of the own container
var ErrHandoffActive = errors.New("self-update zaten sürüyor")

// Spawner creates and starts containers
type Spawner interface {
	Create(ctx context.Context, spec container.ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
}

// HandlerOptions configures a Handler
type HandlerOptions struct {
	// Delay is the grace period the worker waits for the updater to exit
	Delay time.Duration
	// TTL bounds how long the worker owns the handoff
	TTL time.Duration
	// Binary is the updater executable inside the new image
	Binary string
	// Exit terminates the process; os.Exit when nil
	Exit func(code int)
}

// Handler replaces the updater's own container through a detached worker
// container started from the new image.
type Handler struct {
	spawner Spawner
	handoff *HandoffStore
	opts    HandlerOptions
	logger  *logrus.Logger
}

// NewHandler creates a new self-update handler
func NewHandler(spawner Spawner, handoff *HandoffStore, opts HandlerOptions, logger *logrus.Logger) *Handler {
	if opts.Delay <= 0 {
		opts.Delay = 10 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = opts.Delay + 5*time.Minute
	}
	if opts.Binary == "" {
		opts.Binary = "warden"
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &Handler{
		spawner: spawner,
		handoff: handoff,
		opts:    opts,
		logger:  logger,
	}
}

// Handle schedules the replacement of rec, the own container, with one
// running image and terminates the current process. It refuses with
// ErrHandoffActive while a fresh handoff for rec exists.
func (h *Handler) Handle(ctx context.Context, rec container.ContainerRecord, image string) error {
	if active, ok := h.handoff.Active(); ok && active.Target == rec.ID {
		h.logger.WithFields(logrus.Fields{
			"generation": active.Generation,
			"expires_at": active.ExpiresAt,
		}).Info("Self-restart worker zaten çalışıyor, yenisi başlatılmıyor")
		return fmt.Errorf("%w (generation %s)", ErrHandoffActive, active.Generation)
	}

	handoff, err := h.handoff.Begin(rec.ID, image, h.opts.TTL)
	if err != nil {
		return err
	}

	worker := h.WorkerSpec(rec, image, handoff.Generation)
	id, err := h.spawner.Create(ctx, worker)
	if err == nil {
		err = h.spawner.Start(ctx, id)
	}
	if err != nil {
		if clearErr := h.handoff.Clear(handoff.Generation); clearErr != nil {
			h.logger.WithError(clearErr).Warn("Handoff temizlenemedi")
		}
		return fmt.Errorf("self-restart worker başlatılamadı: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"worker_id":  container.ShortID(id),
		"generation": handoff.Generation,
		"image":      image,
		"delay":      h.opts.Delay.String(),
	}).Info("Self-restart worker başlatıldı, süreç sonlandırılıyor")

	h.opts.Exit(0)
	return nil
}

// WorkerSpec returns the helper container that performs the restart. It runs
// the new image with the own container's mounts and environment so it sees
// the same engine socket, data directory and compose file.
func (h *Handler) WorkerSpec(rec container.ContainerRecord, image, generation string) container.ContainerSpec {
	short := generation
	if len(short) > 8 {
		short = short[:8]
	}

	return container.ContainerSpec{
		Name:       rec.Name + "-restart-" + short,
		Image:      image,
		Entrypoint: []string{h.opts.Binary},
		Cmd: []string{
			"self-restart",
			"--target", rec.ID,
			"--image", image,
			"--delay", h.opts.Delay.String(),
			"--generation", generation,
		},
		Env:     append([]string(nil), rec.Env...),
		Volumes: append([]container.VolumeMount(nil), rec.Volumes...),
		Labels: map[string]string{
			LabelWorker: rec.Name,
		},
		AutoRemove: true,
	}
}
