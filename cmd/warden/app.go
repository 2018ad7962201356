package main

import (
	"context"
	"fmt"
	"os"

	"dockwarden/pkg/config"
	"dockwarden/pkg/container"
	"dockwarden/pkg/detector"
	"dockwarden/pkg/inventory"
	"dockwarden/pkg/metrics"
	"dockwarden/pkg/notify"
	"dockwarden/pkg/recreate"
	"dockwarden/pkg/release"
	"dockwarden/pkg/scheduler"
	"dockwarden/pkg/selfupdate"
	"dockwarden/pkg/storage"

	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// infra holds the engine connection and the on-disk state shared by every
// subcommand
type infra struct {
	config   *config.Config
	logger   *logrus.Logger
	engine   *client.Client
	manager  *container.Manager
	storage  *storage.Storage
	handoffs *selfupdate.HandoffStore
}

func newInfra(cfg *config.Config, logger *logrus.Logger) (*infra, error) {
	engine, err := container.NewEngine(cfg.Docker.Host)
	if err != nil {
		return nil, err
	}

	manager, err := container.NewManager(engine, container.Options{
		StopTimeout:  cfg.Docker.StopTimeout,
		PullTimeout:  cfg.Docker.PullTimeout,
		RegistryUser: cfg.Docker.RegistryUser,
		RegistryPass: cfg.Docker.RegistryPassword,
	}, logger)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("container manager oluşturulamadı: %w", err)
	}

	store, err := storage.NewStorage(cfg.Storage.DataDir, logger)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("storage oluşturulamadı: %w", err)
	}

	return &infra{
		config:   cfg,
		logger:   logger,
		engine:   engine,
		manager:  manager,
		storage:  store,
		handoffs: selfupdate.NewHandoffStore(cfg.Storage.DataDir),
	}, nil
}

func (i *infra) Close() error {
	return i.engine.Close()
}

// deployOptions describes how the updater's own container is deployed
func (i *infra) deployOptions() selfupdate.DeployOptions {
	cfg := i.config
	return selfupdate.DeployOptions{
		ComposeFile: cfg.Self.ComposeFile,
		Service:     cfg.Self.Service,
		Fallback: selfupdate.FallbackSpec{
			Name:         cfg.Self.ContainerName,
			Image:        cfg.Self.Image,
			Socket:       cfg.Self.Socket,
			DataVolume:   cfg.Self.DataVolume,
			DataDir:      cfg.Storage.DataDir,
			Port:         cfg.Self.Port,
			ProtectedEnv: cfg.Self.ProtectedEnv,
		},
	}
}

func (i *infra) releaseController() *release.Controller {
	cfg := i.config
	health := release.HTTPHealthCheck{
		URL:      cfg.Self.HealthURL,
		Attempts: cfg.Self.HealthAttempts,
		Interval: cfg.Self.HealthInterval,
		Logger:   i.logger,
	}
	return release.NewController(i.manager, i.storage, health, release.Options{
		Container: cfg.Self.ContainerName,
		Deploy:    i.deployOptions(),
	}, i.logger)
}

// identity resolves the updater's own container. The configured name and the
// host name only identify it when the process runs inside a container.
func (i *infra) identity(ctx context.Context) selfupdate.Identity {
	src := selfupdate.DefaultIdentitySources("")
	if _, err := os.Stat("/.dockerenv"); err == nil {
		src.ContainerName = i.config.Self.ContainerName
	} else {
		src.Hostname = nil
	}
	return selfupdate.ResolveIdentity(ctx, i.manager, src, i.logger)
}

// app is the fully wired update pipeline
type app struct {
	*infra
	self      selfupdate.Identity
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	base, err := newInfra(cfg, logger)
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, base)
	if err != nil {
		base.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, base *infra) (*app, error) {
	cfg, logger := base.config, base.logger
	self := base.identity(ctx)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("metrikler kaydedilemedi: %w", err)
	}

	notifier, err := notify.New(notify.Options{
		Enabled:   cfg.Notify.Enabled,
		Transport: cfg.Notify.Transport,
		URL:       cfg.Notify.URL,
		Recipient: cfg.Notify.Recipient,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("bildirim yöntemi oluşturulamadı: %w", err)
	}

	handler := selfupdate.NewHandler(base.manager, base.handoffs, selfupdate.HandlerOptions{
		Delay: cfg.Self.RestartDelay,
	}, logger)

	engine := recreate.NewEngine(base.manager, base.storage, recreate.Options{
		Cleanup: cfg.Update.Cleanup,
		Self:    self,
		Updater: handler,
	}, logger)

	classifier, err := detector.ClassifierByName(cfg.Update.Classifier)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.NewScheduler(scheduler.Deps{
		Inventory: inventory.NewBuilder(base.manager, base.storage, self, logger),
		Inspector: base.manager,
		Checker:   detector.NewDetector(base.manager, classifier, logger),
		Recreator: engine,
		Notifier:  notifier,
		Store:     base.storage,
		Metrics:   m,
	}, scheduler.Options{
		Interval:  cfg.Update.IntervalDuration(),
		Schedule:  cfg.Update.Schedule,
		SelfID:    self.ID,
		Recipient: cfg.Notify.Recipient,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		infra:     base,
		self:      self,
		metrics:   m,
		scheduler: sched,
	}, nil
}
