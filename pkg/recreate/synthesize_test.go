package recreate

import (
	"testing"

	"dockwarden/pkg/container"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeKeepsConfiguration(t *testing.T) {
	rec := container.ContainerRecord{
		ID:         "9f8e7d6c5b4a9f8e7d6c5b4a",
		Name:       "web",
		Image:      "nginx:1.25",
		Env:        []string{"A=1"},
		Cmd:        []string{"nginx", "-g", "daemon off;"},
		Entrypoint: []string{"/docker-entrypoint.sh"},
		Labels:     map[string]string{"auto-update": "true"},
		Ports: map[string][]container.PortBinding{
			"80/tcp":  {{HostPort: "8080"}, {}},
			"443/tcp": nil,
		},
		Volumes: []container.VolumeMount{
			{Type: "volume", Source: "web-data", Destination: "/data"},
			{Type: "bind", Source: "/etc/nginx", Destination: "/etc/nginx", Mode: "ro"},
		},
		NetworkMode:   "frontend",
		RestartPolicy: container.RestartPolicy{Name: "always", MaximumRetryCount: 3},
	}

	spec := Synthesize(rec, "nginx:1.26")

	assert.Equal(t, "web", spec.Name)
	assert.Equal(t, "nginx:1.26", spec.Image)
	assert.Equal(t, rec.Env, spec.Env)
	assert.Equal(t, rec.Cmd, spec.Cmd)
	assert.Equal(t, rec.Entrypoint, spec.Entrypoint)
	assert.Equal(t, rec.Labels, spec.Labels)
	assert.Equal(t, []container.PortBinding{{HostPort: "8080"}, {}}, spec.Ports["80/tcp"])
	assert.Contains(t, spec.Ports, "443/tcp")
	assert.Nil(t, spec.Ports["443/tcp"])
	assert.Equal(t, rec.Volumes, spec.Volumes)
	assert.Equal(t, "frontend", spec.NetworkMode)
	assert.Equal(t, container.RestartPolicy{Name: "always"}, spec.RestartPolicy)

	// the record is not aliased by the spec
	spec.Env[0] = "A=2"
	spec.Labels["auto-update"] = "false"
	assert.Equal(t, "A=1", rec.Env[0])
	assert.Equal(t, "true", rec.Labels["auto-update"])
}

func TestSynthesizeNetworks(t *testing.T) {
	id := "9f8e7d6c5b4a9f8e7d6c5b4a3f2e1d0c"

	tests := []struct {
		name     string
		mode     string
		networks map[string]container.NetworkAttachment
		wantMode string
		want     map[string]container.NetworkAttachment
	}{
		{
			name: "engine aliases dropped",
			mode: "frontend",
			networks: map[string]container.NetworkAttachment{
				"frontend": {Aliases: []string{"web", id[:12]}, IPv4Address: "172.20.0.5"},
			},
			wantMode: "frontend",
			want: map[string]container.NetworkAttachment{
				"frontend": {Aliases: []string{"web"}, IPv4Address: "172.20.0.5"},
			},
		},
		{
			name: "bridge skipped next to user networks",
			mode: "bridge",
			networks: map[string]container.NetworkAttachment{
				"bridge":  {},
				"backend": {},
			},
			wantMode: "",
			want: map[string]container.NetworkAttachment{
				"backend": {},
			},
		},
		{
			name: "bridge only",
			mode: "bridge",
			networks: map[string]container.NetworkAttachment{
				"bridge": {},
			},
			wantMode: "bridge",
			want: map[string]container.NetworkAttachment{
				"bridge": {},
			},
		},
		{
			name:     "host mode",
			mode:     "host",
			networks: map[string]container.NetworkAttachment{"host": {}},
			wantMode: "host",
			want:     map[string]container.NetworkAttachment{"host": {}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := Synthesize(container.ContainerRecord{
				ID: id, Name: "web", NetworkMode: tt.mode, Networks: tt.networks,
			}, "nginx:1.26")

			assert.Equal(t, tt.wantMode, spec.NetworkMode)
			assert.Equal(t, tt.want, spec.Networks)
		})
	}
}

func TestSynthesizeRestartPolicy(t *testing.T) {
	spec := Synthesize(container.ContainerRecord{
		Name:          "worker",
		RestartPolicy: container.RestartPolicy{Name: "on-failure", MaximumRetryCount: 5},
	}, "worker:2")
	assert.Equal(t, 5, spec.RestartPolicy.MaximumRetryCount)

	spec = Synthesize(container.ContainerRecord{Name: "worker"}, "worker:2")
	assert.Equal(t, container.RestartPolicy{}, spec.RestartPolicy)
}

func TestSynthesizeHostExtras(t *testing.T) {
	rec := container.ContainerRecord{
		Name: "dns",
		HostExtras: container.HostExtras{
			Privileged: true,
			CapAdd:     []string{"NET_ADMIN"},
			DNS:        []string{"1.1.1.1"},
			ExtraHosts: []string{"db:10.0.0.2"},
			LogDriver:  "json-file",
			LogOptions: map[string]string{"max-size": "10m"},
		},
	}

	spec := Synthesize(rec, "pihole:2024")
	assert.True(t, spec.HostExtras.Privileged)
	assert.Equal(t, []string{"NET_ADMIN"}, spec.HostExtras.CapAdd)
	assert.Equal(t, []string{"1.1.1.1"}, spec.HostExtras.DNS)
	assert.Equal(t, []string{"db:10.0.0.2"}, spec.HostExtras.ExtraHosts)
	assert.Empty(t, spec.HostExtras.LogDriver, "default log driver is left to the engine")
	assert.Nil(t, spec.HostExtras.LogOptions)

	rec.HostExtras.LogDriver = "syslog"
	spec = Synthesize(rec, "pihole:2024")
	assert.Equal(t, "syslog", spec.HostExtras.LogDriver)
	assert.Equal(t, map[string]string{"max-size": "10m"}, spec.HostExtras.LogOptions)
}

func TestSynthesizePublishedPortsAndTmpfs(t *testing.T) {
	rec := container.ContainerRecord{
		Name: "web",
		Ports: map[string][]container.PortBinding{
			"80/tcp":   {{}},
			"9000/tcp": nil,
		},
		Volumes: []container.VolumeMount{
			{Type: container.MountTypeTmpfs, Destination: "/run", TmpfsSize: 1 << 20},
		},
		HostExtras: container.HostExtras{Tmpfs: map[string]string{"/tmp": "size=16m"}},
	}

	spec := Synthesize(rec, "nginx:1.26")
	require.NoError(t, spec.Validate())

	cc, err := spec.Build()
	require.NoError(t, err)
	assert.Equal(t, []nat.PortBinding{{}}, cc.HostConfig.PortBindings["80/tcp"], "engine picks the host port again")
	_, published := cc.HostConfig.PortBindings["9000/tcp"]
	assert.False(t, published)
	assert.Contains(t, cc.Config.ExposedPorts, nat.Port("9000/tcp"))

	require.Len(t, cc.HostConfig.Mounts, 1)
	assert.Equal(t, mount.TypeTmpfs, cc.HostConfig.Mounts[0].Type)
	assert.Equal(t, "/run", cc.HostConfig.Mounts[0].Target)
	assert.Equal(t, int64(1<<20), cc.HostConfig.Mounts[0].TmpfsOptions.SizeBytes)
	assert.Empty(t, cc.HostConfig.Binds)
	assert.Equal(t, map[string]string{"/tmp": "size=16m"}, cc.HostConfig.Tmpfs)
}
