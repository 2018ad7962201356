package selfupdate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/container/containertest"
	"dockwarden/pkg/selfupdate"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	engine   *containertest.Engine
	handoffs *selfupdate.HandoffStore
	handler  *selfupdate.Handler
	exits    *[]int
}

func newHandlerFixture(t *testing.T) handlerFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	engine := containertest.NewEngine()
	engine.AddImage("dockwarden:2", "sha256:dw2")
	manager, err := container.NewManager(engine, container.Options{}, logger)
	require.NoError(t, err)

	exits := &[]int{}
	handoffs := selfupdate.NewHandoffStore(t.TempDir())
	handler := selfupdate.NewHandler(manager, handoffs, selfupdate.HandlerOptions{
		Delay: 3 * time.Second,
		Exit:  func(code int) { *exits = append(*exits, code) },
	}, logger)

	return handlerFixture{engine: engine, handoffs: handoffs, handler: handler, exits: exits}
}

func ownRecord() container.ContainerRecord {
	return container.ContainerRecord{
		ID:    selfID,
		Name:  "dockwarden",
		Image: "dockwarden:1",
		Env:   []string{"DOCKWARDEN_SCHEDULE=@hourly"},
		Volumes: []container.VolumeMount{
			{Type: "bind", Source: "/var/run/docker.sock", Destination: "/var/run/docker.sock"},
		},
	}
}

func TestHandlerWorkerSpec(t *testing.T) {
	f := newHandlerFixture(t)

	spec := f.handler.WorkerSpec(ownRecord(), "dockwarden:2", "0123456789abcdef")

	assert.Equal(t, "dockwarden-restart-01234567", spec.Name)
	assert.Equal(t, "dockwarden:2", spec.Image)
	assert.Equal(t, []string{"warden"}, spec.Entrypoint)
	assert.Equal(t, []string{
		"self-restart",
		"--target", selfID,
		"--image", "dockwarden:2",
		"--delay", "3s",
		"--generation", "0123456789abcdef",
	}, spec.Cmd)
	assert.Equal(t, ownRecord().Env, spec.Env)
	assert.Equal(t, ownRecord().Volumes, spec.Volumes)
	assert.Equal(t, "dockwarden", spec.Labels[selfupdate.LabelWorker])
	assert.True(t, spec.AutoRemove)
	assert.NoError(t, spec.Validate())
}

func TestHandlerStartsWorkerAndExits(t *testing.T) {
	f := newHandlerFixture(t)

	require.NoError(t, f.handler.Handle(context.Background(), ownRecord(), "dockwarden:2"))

	handoff, ok := f.handoffs.Active()
	require.True(t, ok)
	assert.Equal(t, selfID, handoff.Target)
	assert.Equal(t, "dockwarden:2", handoff.Image)

	creates := f.engine.CallsOf("create")
	require.Len(t, creates, 1)
	name := strings.TrimPrefix(creates[0], "create ")
	worker, ok := f.engine.Lookup(name)
	require.True(t, ok)
	assert.True(t, worker.State.Running)
	assert.True(t, worker.HostConfig.AutoRemove)
	assert.Contains(t, worker.Config.Cmd, handoff.Generation)

	assert.Equal(t, []int{0}, *f.exits)
}

func TestHandlerWorkerFailureClearsHandoff(t *testing.T) {
	f := newHandlerFixture(t)
	f.engine.Fail("start", errors.New("engine busy"))

	err := f.handler.Handle(context.Background(), ownRecord(), "dockwarden:2")
	require.Error(t, err)

	_, ok := f.handoffs.Current()
	assert.False(t, ok)
	assert.Empty(t, *f.exits, "the process keeps running when no worker took over")
}

func TestHandlerKeepsRunningHandoff(t *testing.T) {
	f := newHandlerFixture(t)
	require.NoError(t, f.handler.Handle(context.Background(), ownRecord(), "dockwarden:2"))
	first, ok := f.handoffs.Active()
	require.True(t, ok)

	err := f.handler.Handle(context.Background(), ownRecord(), "dockwarden:2")
	require.ErrorIs(t, err, selfupdate.ErrHandoffActive)

	assert.Len(t, f.engine.CallsOf("create"), 1, "no second worker")
	current, ok := f.handoffs.Active()
	require.True(t, ok)
	assert.Equal(t, first.Generation, current.Generation)
	assert.Equal(t, []int{0}, *f.exits)
}

func TestHandlerIgnoresHandoffOfOtherTarget(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.handoffs.Begin("another-container", "dockwarden:2", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.handler.Handle(context.Background(), ownRecord(), "dockwarden:2"))
	current, ok := f.handoffs.Active()
	require.True(t, ok)
	assert.Equal(t, selfID, current.Target)
}
