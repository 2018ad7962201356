package container

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFromInspect(t *testing.T) {
	insp := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:      "0123456789abcdef0123",
			Name:    "/web",
			Image:   "sha256:aaa",
			Created: "2024-05-01T10:00:00.5Z",
			State:   &container.State{Status: "running", Running: true},
			HostConfig: &container.HostConfig{
				NetworkMode:   "frontend",
				RestartPolicy: container.RestartPolicy{Name: "on-failure", MaximumRetryCount: 5},
				PortBindings: nat.PortMap{
					"80/tcp":  {{HostPort: "8080"}},
					"443/tcp": {{}},
				},
				CapAdd:    []string{"NET_ADMIN"},
				LogConfig: container.LogConfig{Type: "json-file"},
				Mounts: []mount.Mount{
					{Type: mount.TypeTmpfs, Target: "/run", TmpfsOptions: &mount.TmpfsOptions{SizeBytes: 1 << 20}},
				},
				Tmpfs: map[string]string{"/tmp": "size=16m"},
			},
		},
		Config: &container.Config{
			Image:        "nginx:1.25",
			Labels:       map[string]string{"autoupdate": "true"},
			Env:          []string{"A=1"},
			Cmd:          []string{"nginx", "-g", "daemon off;"},
			ExposedPorts: nat.PortSet{"80/tcp": {}, "9000/tcp": {}},
		},
		Mounts: []container.MountPoint{
			{Type: mount.TypeVolume, Name: "web-data", Source: "/var/lib/docker/volumes/web-data/_data", Destination: "/data", RW: true},
			{Type: mount.TypeBind, Source: "/etc/web", Destination: "/config", RW: false},
			{Type: mount.TypeTmpfs, Destination: "/run", RW: true},
			{Type: mount.TypeTmpfs, Destination: "/tmp", RW: true},
		},
		NetworkSettings: &container.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"frontend": {
					IPAMConfig: &network.EndpointIPAMConfig{IPv4Address: "172.20.0.5"},
					Aliases:    []string{"web", "0123456789ab"},
				},
			},
		},
	}

	rec, err := RecordFromInspect(insp)
	require.NoError(t, err)

	assert.Equal(t, "web", rec.Name)
	assert.Equal(t, "nginx:1.25", rec.Image)
	assert.Equal(t, "sha256:aaa", rec.ImageID)
	assert.True(t, rec.Running())
	assert.Equal(t, "0123456789ab", rec.ShortID())
	assert.Equal(t, "true", rec.Label("autoupdate"))
	assert.False(t, rec.Created.IsZero())

	assert.Equal(t, []PortBinding{{HostPort: "8080"}}, rec.Ports["80/tcp"])
	assert.Equal(t, []PortBinding{{}}, rec.Ports["443/tcp"], "published on an engine chosen port")
	assert.Contains(t, rec.Ports, "9000/tcp")
	assert.Nil(t, rec.Ports["9000/tcp"], "exposed only")

	require.Len(t, rec.Volumes, 3, "--tmpfs mounts are kept in the host extras")
	assert.Equal(t, VolumeMount{Type: "volume", Source: "web-data", Destination: "/data"}, rec.Volumes[0])
	assert.Equal(t, "ro", rec.Volumes[1].Mode)
	assert.Equal(t, VolumeMount{Type: "tmpfs", Destination: "/run", TmpfsSize: 1 << 20}, rec.Volumes[2])
	assert.Equal(t, map[string]string{"/tmp": "size=16m"}, rec.HostExtras.Tmpfs)

	assert.Equal(t, RestartPolicy{Name: "on-failure", MaximumRetryCount: 5}, rec.RestartPolicy)
	assert.Equal(t, "frontend", rec.NetworkMode)
	assert.Equal(t, "172.20.0.5", rec.Networks["frontend"].IPv4Address)
	assert.Equal(t, []string{"NET_ADMIN"}, rec.HostExtras.CapAdd)
}

func TestRecordFromInspectMissingBase(t *testing.T) {
	_, err := RecordFromInspect(container.InspectResponse{})
	assert.Error(t, err)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "0123456789ab", ShortID("0123456789abcdef"))
}
