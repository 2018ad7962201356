package selfupdate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/container/containertest"
	"dockwarden/pkg/selfupdate"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restartFixture struct {
	engine   *containertest.Engine
	manager  *container.Manager
	handoffs *selfupdate.HandoffStore
}

func newRestartFixture(t *testing.T) restartFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	engine := containertest.NewEngine()
	engine.AddContainer(containertest.Container{
		ID:      selfID,
		Name:    "dockwarden",
		Image:   "dockwarden:1",
		ImageID: "sha256:dw1",
		Running: true,
		Env:     []string{"DOCKWARDEN_NOTIFY_URL=https://hooks.example.com/x", "PATH=/usr/bin"},
	})
	engine.AddImage("dockwarden:2", "sha256:dw2")
	manager, err := container.NewManager(engine, container.Options{}, logger)
	require.NoError(t, err)

	return restartFixture{
		engine:   engine,
		manager:  manager,
		handoffs: selfupdate.NewHandoffStore(t.TempDir()),
	}
}

func (f restartFixture) restarter(t *testing.T, generation string) *selfupdate.Restarter {
	logger, _ := test.NewNullLogger()
	return selfupdate.NewRestarter(f.manager, f.handoffs, selfupdate.RestartOptions{
		Target:       selfID,
		Image:        "dockwarden:2",
		Generation:   generation,
		StopWait:     50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Deploy: selfupdate.DeployOptions{
			Fallback: selfupdate.FallbackSpec{
				Name:         "dockwarden",
				Image:        "dockwarden:latest",
				Socket:       "/var/run/docker.sock",
				DataVolume:   "dockwarden-data",
				DataDir:      "/var/lib/dockwarden",
				Port:         8080,
				ProtectedEnv: []string{"DOCKWARDEN_NOTIFY_URL"},
			},
		},
	}, logger)
}

func TestRestarterReplacesStoppedUpdater(t *testing.T) {
	f := newRestartFixture(t)
	handoff, err := f.handoffs.Begin(selfID, "dockwarden:2", time.Minute)
	require.NoError(t, err)
	f.engine.StopContainer(selfID)

	id, err := f.restarter(t, handoff.Generation).Run(context.Background())
	require.NoError(t, err)

	_, ok := f.engine.Lookup(selfID)
	assert.False(t, ok)

	rec, _, err := f.manager.Inspect(context.Background(), "dockwarden")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.True(t, rec.Running())
	assert.Equal(t, "dockwarden:2", rec.Image)
	assert.Equal(t, []string{"DOCKWARDEN_NOTIFY_URL=https://hooks.example.com/x"}, rec.Env)
	assert.Equal(t, []container.PortBinding{{HostPort: "8080"}}, rec.Ports["8080/tcp"])
	assert.Equal(t, "unless-stopped", rec.RestartPolicy.Name)

	_, ok = f.handoffs.Current()
	assert.False(t, ok, "the worker clears its handoff")
}

func TestRestarterForceRemovesLingeringUpdater(t *testing.T) {
	f := newRestartFixture(t)

	_, err := f.restarter(t, "").Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"remove " + selfID}, f.engine.CallsOf("remove"))
	assert.Len(t, f.engine.CallsOf("start"), 1)
}

func TestRestarterTargetAlreadyGone(t *testing.T) {
	f := newRestartFixture(t)
	f.engine.RemoveContainer(selfID)

	_, err := f.restarter(t, "").Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.engine.CallsOf("remove"))
	rec, _, err := f.manager.Inspect(context.Background(), "dockwarden")
	require.NoError(t, err)
	assert.Empty(t, rec.Env, "no previous environment to carry over")
}

func TestRestarterCreateFailureKeepsHandoff(t *testing.T) {
	f := newRestartFixture(t)
	handoff, err := f.handoffs.Begin(selfID, "dockwarden:2", time.Minute)
	require.NoError(t, err)
	f.engine.StopContainer(selfID)
	f.engine.Fail("create", errors.New("no space left on device"))

	_, err = f.restarter(t, handoff.Generation).Run(context.Background())
	require.Error(t, err)

	_, ok := f.handoffs.Active()
	assert.True(t, ok, "the watchdog stands down until the handoff expires")
}

func TestRestarterRequiresTarget(t *testing.T) {
	f := newRestartFixture(t)
	logger, _ := test.NewNullLogger()

	_, err := selfupdate.NewRestarter(f.manager, f.handoffs, selfupdate.RestartOptions{}, logger).Run(context.Background())
	assert.Error(t, err)
	assert.Empty(t, f.engine.Calls())
}

func TestRestarterHonoursCancellation(t *testing.T) {
	f := newRestartFixture(t)
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := selfupdate.NewRestarter(f.manager, f.handoffs, selfupdate.RestartOptions{
		Target: selfID,
		Delay:  time.Hour,
	}, logger).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.engine.Calls())
}
