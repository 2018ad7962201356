package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/sirupsen/logrus"
)

// Options tunes the bounded waits of the Manager
type Options struct {
	StopTimeout  time.Duration
	PullTimeout  time.Duration
	RegistryUser string
	RegistryPass string
}

// Manager handles container operations
type Manager struct {
	engine       EngineAPI
	logger       *logrus.Logger
	stopTimeout  time.Duration
	pullTimeout  time.Duration
	registryAuth string
}

// NewManager creates a new container manager
func NewManager(engine EngineAPI, opts Options, logger *logrus.Logger) (*Manager, error) {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 5 * time.Minute
	}

	m := &Manager{
		engine:      engine,
		logger:      logger,
		stopTimeout: opts.StopTimeout,
		pullTimeout: opts.PullTimeout,
	}

	if opts.RegistryUser != "" || opts.RegistryPass != "" {
		auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
			Username: opts.RegistryUser,
			Password: opts.RegistryPass,
		})
		if err != nil {
			return nil, fmt.Errorf("registry kimlik bilgisi kodlanamadı: %w", err)
		}
		m.registryAuth = auth
	}

	return m, nil
}

// ListRunning lists the running containers
func (m *Manager) ListRunning(ctx context.Context) ([]container.Summary, error) {
	containers, err := m.engine.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("status", "running")),
	})
	if err != nil {
		return nil, fmt.Errorf("container listesi alınamadı: %w", err)
	}
	return containers, nil
}

// Inspect returns the record of a container together with the raw inspection
// document the engine returned.
func (m *Manager) Inspect(ctx context.Context, nameOrID string) (ContainerRecord, []byte, error) {
	insp, raw, err := m.engine.ContainerInspectWithRaw(ctx, nameOrID, false)
	if err != nil {
		return ContainerRecord{}, nil, fmt.Errorf("container bulunamadı (%s): %w", nameOrID, err)
	}
	rec, err := RecordFromInspect(insp)
	if err != nil {
		return ContainerRecord{}, nil, err
	}
	return rec, raw, nil
}

// State reports whether a container exists and whether it is running
func (m *Manager) State(ctx context.Context, nameOrID string) (exists bool, running bool, id string, err error) {
	insp, _, err := m.engine.ContainerInspectWithRaw(ctx, nameOrID, false)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, false, "", nil
		}
		return false, false, "", fmt.Errorf("container durumu alınamadı (%s): %w", nameOrID, err)
	}
	if insp.ContainerJSONBase == nil {
		return true, false, "", nil
	}
	running = insp.State != nil && insp.State.Running
	return true, running, insp.ID, nil
}

// Pull pulls ref, waits for the pull to complete and returns the image ID the
// reference resolves to afterwards.
func (m *Manager) Pull(ctx context.Context, ref string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.pullTimeout)
	defer cancel()

	m.logger.WithField("image", ref).Debug("Image çekiliyor")

	reader, err := m.engine.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: m.registryAuth})
	if err != nil {
		return "", fmt.Errorf("image çekilemedi (%s): %w", ref, err)
	}
	defer reader.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return "", fmt.Errorf("image çekilemedi (%s): %w", ref, err)
	}

	return m.ImageID(ctx, ref)
}

// ImageID resolves an image reference to the local image ID
func (m *Manager) ImageID(ctx context.Context, ref string) (string, error) {
	inspect, err := m.engine.ImageInspect(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("image bulunamadı (%s): %w", ref, err)
	}
	return inspect.ID, nil
}

// ImageInspect returns the engine's metadata of an image
func (m *Manager) ImageInspect(ctx context.Context, ref string) (image.InspectResponse, error) {
	inspect, err := m.engine.ImageInspect(ctx, ref)
	if err != nil {
		return image.InspectResponse{}, fmt.Errorf("image bulunamadı (%s): %w", ref, err)
	}
	return inspect, nil
}

// ListImages lists the IDs of all local images
func (m *Manager) ListImages(ctx context.Context) ([]string, error) {
	images, err := m.engine.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("image listesi alınamadı: %w", err)
	}
	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoveImage removes an image by ID
func (m *Manager) RemoveImage(ctx context.Context, imageID string) error {
	if _, err := m.engine.ImageRemove(ctx, imageID, image.RemoveOptions{PruneChildren: true}); err != nil {
		return fmt.Errorf("image silinemedi (%s): %w", ShortID(strings.TrimPrefix(imageID, "sha256:")), err)
	}

	m.logger.WithField("image_id", imageID).Info("Eski image silindi")
	return nil
}

// Create creates a new container from spec and attaches its secondary
// networks. On a network error the returned ID still names the created
// container.
func (m *Manager) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("container spec geçersiz: %w", err)
	}

	cc, err := spec.Build()
	if err != nil {
		return "", fmt.Errorf("container spec geçersiz: %w", err)
	}

	resp, err := m.engine.ContainerCreate(ctx, cc.Config, cc.HostConfig, cc.Networking, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("docker container oluşturulamadı: %w", err)
	}

	names := make([]string, 0, len(cc.Connect))
	for name := range cc.Connect {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.engine.NetworkConnect(ctx, name, resp.ID, cc.Connect[name]); err != nil {
			return resp.ID, fmt.Errorf("container network'e bağlanamadı (%s): %w", name, err)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"container_id": ShortID(resp.ID),
		"name":         spec.Name,
		"image":        spec.Image,
	}).Info("Container oluşturuldu")

	return resp.ID, nil
}

// Start starts a container
func (m *Manager) Start(ctx context.Context, containerID string) error {
	err := m.engine.ContainerStart(ctx, containerID, container.StartOptions{})
	if err != nil {
		return fmt.Errorf("container başlatılamadı: %w", err)
	}

	m.logger.WithField("container_id", ShortID(containerID)).Info("Container başlatıldı")
	return nil
}

// Stop stops a container, waiting at most the configured stop timeout
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	timeout := int(m.stopTimeout.Seconds())
	err := m.engine.ContainerStop(ctx, containerID, container.StopOptions{
		Timeout: &timeout,
	})
	if err != nil {
		return fmt.Errorf("container durdurulamadı: %w", err)
	}

	m.logger.WithField("container_id", ShortID(containerID)).Info("Container durduruldu")
	return nil
}

// Remove removes a container. Volumes are never removed.
func (m *Manager) Remove(ctx context.Context, containerID string) error {
	err := m.engine.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: false,
		Force:         true,
	})
	if err != nil {
		return fmt.Errorf("container silinemedi: %w", err)
	}

	m.logger.WithField("container_id", ShortID(containerID)).Info("Container silindi")
	return nil
}

// IsNotFound reports whether err was caused by a missing engine object
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// PullFailureReason classifies a pull error into a short reason
func PullFailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errdefs.IsNotFound(err):
		return "not-found"
	case errdefs.IsUnauthorized(err), errdefs.IsPermissionDenied(err):
		return "auth-denied"
	case errdefs.IsDeadlineExceeded(err), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
