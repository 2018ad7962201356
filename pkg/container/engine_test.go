package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineHonoursDockerHost(t *testing.T) {
	t.Setenv("DOCKER_HOST", "tcp://10.0.0.1:2375")
	t.Setenv("DOCKER_TLS_VERIFY", "")
	t.Setenv("DOCKER_CERT_PATH", "")

	cli, err := NewEngine("")
	require.NoError(t, err)
	defer cli.Close()
	assert.Equal(t, "tcp://10.0.0.1:2375", cli.DaemonHost())

	override, err := NewEngine("unix:///run/user/1000/docker.sock")
	require.NoError(t, err)
	defer override.Close()
	assert.Equal(t, "unix:///run/user/1000/docker.sock", override.DaemonHost())
}
