package container_test

import (
	"context"
	"errors"
	"testing"

	"dockwarden/pkg/container"
	"dockwarden/pkg/container/containertest"

	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*container.Manager, *containertest.Engine) {
	t.Helper()
	engine := containertest.NewEngine()
	logger, _ := test.NewNullLogger()
	m, err := container.NewManager(engine, container.Options{}, logger)
	require.NoError(t, err)
	return m, engine
}

func TestManagerCreateConnectsSecondaryNetworks(t *testing.T) {
	m, engine := newManager(t)
	engine.AddImage("app:1", "sha256:app1")

	id, err := m.Create(context.Background(), container.ContainerSpec{
		Name:        "app",
		Image:       "app:1",
		NetworkMode: "frontend",
		Networks: map[string]container.NetworkAttachment{
			"frontend": {},
			"backend":  {Aliases: []string{"api"}},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"connect backend"}, engine.CallsOf("connect"))

	rec, _, err := m.Inspect(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, []string{"backend", "frontend"}, container.SortedNames(rec.Networks))
}

func TestManagerCreateRejectsInvalidSpec(t *testing.T) {
	m, engine := newManager(t)

	_, err := m.Create(context.Background(), container.ContainerSpec{Name: "broken"})
	require.Error(t, err)
	assert.Empty(t, engine.CallsOf("create"))
}

func TestManagerState(t *testing.T) {
	m, engine := newManager(t)
	engine.AddContainer(containertest.Container{Name: "db", Image: "postgres:16", ImageID: "sha256:pg", Running: true})

	exists, running, id, err := m.State(context.Background(), "db")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, running)
	assert.NotEmpty(t, id)

	exists, running, _, err = m.State(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, running)
}

func TestManagerInspectNotFound(t *testing.T) {
	m, _ := newManager(t)

	_, _, err := m.Inspect(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, container.IsNotFound(err))
}

func TestManagerPullResolvesImageID(t *testing.T) {
	m, engine := newManager(t)
	engine.AddImage("nginx:1.25", "sha256:old")
	engine.SetPullResult("nginx:1.25", "sha256:new")

	id, err := m.Pull(context.Background(), "nginx:1.25")
	require.NoError(t, err)
	assert.Equal(t, "sha256:new", id)
}

func TestManagerPullFailure(t *testing.T) {
	m, engine := newManager(t)
	engine.Fail("pull", errors.New("registry unreachable"))

	_, err := m.Pull(context.Background(), "nginx:1.25")
	require.Error(t, err)
	assert.Equal(t, "error", container.PullFailureReason(err))
}

func TestManagerRemoveImageInUse(t *testing.T) {
	m, engine := newManager(t)
	engine.AddContainer(containertest.Container{Name: "web", Image: "nginx:1.25", ImageID: "sha256:web", Running: true})

	err := m.RemoveImage(context.Background(), "sha256:web")
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}

func TestManagerRemoveKeepsVolumes(t *testing.T) {
	m, engine := newManager(t)
	engine.AddContainer(containertest.Container{ID: "0123456789abcdef", Name: "web", Image: "nginx", ImageID: "sha256:web"})

	require.NoError(t, m.Remove(context.Background(), "0123456789abcdef"))
	assert.Empty(t, engine.CallsOf("remove-volumes"))
	_, ok := engine.Lookup("web")
	assert.False(t, ok)
}
