package watchdog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/container/containertest"
	"dockwarden/pkg/selfupdate"
	"dockwarden/pkg/watchdog"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine   *containertest.Engine
	manager  *container.Manager
	handoffs *selfupdate.HandoffStore
	watchdog *watchdog.Watchdog
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	engine := containertest.NewEngine()
	engine.AddImage("dockwarden:latest", "sha256:dw")
	manager, err := container.NewManager(engine, container.Options{}, logger)
	require.NoError(t, err)
	handoffs := selfupdate.NewHandoffStore(t.TempDir())

	w := watchdog.New(manager, handoffs, watchdog.Options{
		Container: "dockwarden",
		Image:     "dockwarden:latest",
		Interval:  10 * time.Millisecond,
		Deploy: selfupdate.DeployOptions{
			Fallback: selfupdate.FallbackSpec{
				Name:         "dockwarden",
				Image:        "dockwarden:latest",
				ProtectedEnv: []string{"DOCKWARDEN_TOKEN"},
			},
		},
	}, logger)

	return fixture{engine: engine, manager: manager, handoffs: handoffs, watchdog: w}
}

const updaterID = "d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0"

func (f fixture) addUpdater(running bool) {
	f.engine.AddContainer(containertest.Container{
		ID:      updaterID,
		Name:    "dockwarden",
		Image:   "dockwarden:latest",
		ImageID: "sha256:dw",
		Running: running,
		Env:     []string{"DOCKWARDEN_TOKEN=t0ken", "HOME=/root"},
	})
}

func TestTickLeavesRunningUpdaterAlone(t *testing.T) {
	f := newFixture(t)
	f.addUpdater(true)

	state, err := f.watchdog.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, watchdog.Present, state)

	require.NoError(t, f.watchdog.Tick(context.Background()))
	assert.Empty(t, f.engine.CallsOf("start"))
	assert.Empty(t, f.engine.CallsOf("create"))
}

func TestTickStartsStoppedUpdater(t *testing.T) {
	f := newFixture(t)
	f.addUpdater(false)

	require.NoError(t, f.watchdog.Tick(context.Background()))

	assert.Len(t, f.engine.CallsOf("start"), 1)
	assert.Empty(t, f.engine.CallsOf("create"))
	state, err := f.watchdog.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, watchdog.Present, state)
}

func TestTickRedeploysMissingUpdater(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.watchdog.Tick(context.Background()))

	assert.Equal(t, []string{"pull dockwarden:latest"}, f.engine.CallsOf("pull"))
	assert.Equal(t, []string{"create dockwarden"}, f.engine.CallsOf("create"))
	rec, _, err := f.manager.Inspect(context.Background(), "dockwarden")
	require.NoError(t, err)
	assert.True(t, rec.Running())
	assert.Equal(t, "unless-stopped", rec.RestartPolicy.Name)
}

func TestTickRedeploysUnstartableUpdater(t *testing.T) {
	f := newFixture(t)
	f.addUpdater(false)
	f.engine.Fail("start:"+updaterID, errors.New("broken mount"))

	err := f.watchdog.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"remove " + updaterID}, f.engine.CallsOf("remove"))
	rec, _, err := f.manager.Inspect(context.Background(), "dockwarden")
	require.NoError(t, err)
	assert.True(t, rec.Running())
	assert.Equal(t, []string{"DOCKWARDEN_TOKEN=t0ken"}, rec.Env, "protected settings survive the redeploy")
}

func TestTickStandsDownDuringHandoff(t *testing.T) {
	f := newFixture(t)
	_, err := f.handoffs.Begin("abc", "dockwarden:2", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.watchdog.Tick(context.Background()))
	assert.Empty(t, f.engine.CallsOf("start"))
	assert.Empty(t, f.engine.CallsOf("create"))
}

func TestTickResumesAfterExpiredHandoff(t *testing.T) {
	f := newFixture(t)
	_, err := f.handoffs.Begin("abc", "dockwarden:2", -time.Second)
	require.NoError(t, err)

	require.NoError(t, f.watchdog.Tick(context.Background()))
	assert.Len(t, f.engine.CallsOf("create"), 1)
}

func TestTickEngineFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.Fail("inspect", errors.New("engine unavailable"))

	assert.Error(t, f.watchdog.Tick(context.Background()))
	assert.Empty(t, f.engine.CallsOf("create"))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.addUpdater(true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.NoError(t, f.watchdog.Run(ctx))
	assert.GreaterOrEqual(t, len(f.engine.CallsOf("inspect")), 2, "polls repeatedly")
}
