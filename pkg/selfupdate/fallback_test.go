package selfupdate_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dockwarden/pkg/container"
	"dockwarden/pkg/selfupdate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectedEnv(t *testing.T) {
	env := []string{"A=1", "SECRET=s3cr3t", "B=", "SECRET_2=x=y"}

	assert.Equal(t, []string{"SECRET=s3cr3t", "SECRET_2=x=y"}, selfupdate.ProtectedEnv(env, []string{"SECRET", "SECRET_2"}))
	assert.Equal(t, []string{"B="}, selfupdate.ProtectedEnv(env, []string{"B"}))
	assert.Nil(t, selfupdate.ProtectedEnv(env, nil))
	assert.Nil(t, selfupdate.ProtectedEnv(nil, []string{"A"}))
}

func TestFallbackBuild(t *testing.T) {
	f := selfupdate.FallbackSpec{
		Name:       "dockwarden",
		Image:      "dockwarden:latest",
		Socket:     "/var/run/docker.sock",
		DataVolume: "dockwarden-data",
		DataDir:    "/var/lib/dockwarden",
		Port:       8080,
	}

	spec := f.Build("", nil)
	assert.Equal(t, "dockwarden", spec.Name)
	assert.Equal(t, "dockwarden:latest", spec.Image)
	assert.Equal(t, []container.VolumeMount{
		{Type: "bind", Source: "/var/run/docker.sock", Destination: "/var/run/docker.sock"},
		{Type: "volume", Source: "dockwarden-data", Destination: "/var/lib/dockwarden"},
	}, spec.Volumes)
	assert.Equal(t, map[string][]container.PortBinding{"8080/tcp": {{HostPort: "8080"}}}, spec.Ports)
	assert.Equal(t, "unless-stopped", spec.RestartPolicy.Name)
	assert.NoError(t, spec.Validate())

	assert.Equal(t, "dockwarden:2", f.Build("dockwarden:2", nil).Image)

	f.Port = 0
	f.DataVolume = ""
	spec = f.Build("", nil)
	assert.Nil(t, spec.Ports)
	assert.Len(t, spec.Volumes, 1)
}

func TestDeployOptionsFallback(t *testing.T) {
	opts := selfupdate.DeployOptions{
		ComposeFile: filepath.Join(t.TempDir(), "missing.yaml"),
		Fallback:    selfupdate.FallbackSpec{Name: "dockwarden", Image: "dockwarden:latest", ProtectedEnv: []string{"TOKEN"}},
	}
	assert.False(t, opts.UsesCompose())

	spec, err := opts.Spec(context.Background(), "", []string{"TOKEN=abc", "OTHER=1"})
	require.NoError(t, err)
	assert.Equal(t, "dockwarden:latest", spec.Image)
	assert.Equal(t, []string{"TOKEN=abc"}, spec.Env)

	_, err = selfupdate.DeployOptions{}.Spec(context.Background(), "", nil)
	assert.Error(t, err, "a fallback without name and image is unusable")
}

func TestDeployOptionsCompose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  warden:
    image: dockwarden:1
    ports:
      - "8080:8080"
`), 0644))

	opts := selfupdate.DeployOptions{
		ComposeFile: path,
		Fallback:    selfupdate.FallbackSpec{Name: "dockwarden"},
	}
	require.True(t, opts.UsesCompose())

	spec, err := opts.Spec(context.Background(), "dockwarden:2", nil)
	require.NoError(t, err)
	assert.Equal(t, "dockwarden:2", spec.Image, "the target image overrides the compose image")
	assert.Equal(t, "dockwarden", spec.Name, "the fallback name is used without container_name")

	spec, err = opts.Spec(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "dockwarden:1", spec.Image)

	opts.Fallback.Name = ""
	_, err = opts.Spec(context.Background(), "", nil)
	assert.Error(t, err)
}
