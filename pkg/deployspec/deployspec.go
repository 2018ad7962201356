// Package deployspec reads the declarative deployment of the updater's own
// container from a compose file.
package deployspec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"dockwarden/pkg/container"
	"dockwarden/pkg/storage"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"
)

// ErrNoService is returned when the compose file lacks the requested service
var ErrNoService = errors.New("compose dosyasında servis bulunamadı")

// Load parses the compose file at path and converts one of its services into
// container creation parameters. An empty service name selects the only
// service of the file. The name stays empty unless the service sets
// container_name.
func Load(ctx context.Context, path, service string) (container.ContainerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return container.ContainerSpec{}, fmt.Errorf("compose dosyası okunamadı: %w", err)
	}
	return Parse(ctx, data, filepath.Dir(path), service)
}

// Parse converts a service of an in-memory compose document
func Parse(ctx context.Context, data []byte, workingDir, service string) (container.ContainerSpec, error) {
	absDir, err := filepath.Abs(workingDir)
	if err != nil {
		return container.ContainerSpec{}, err
	}

	details := compose.ConfigDetails{
		WorkingDir: absDir,
		ConfigFiles: []compose.ConfigFile{
			{Filename: filepath.Join(absDir, "compose.yaml"), Content: data},
		},
		Environment: environment(),
	}

	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(projectName(absDir), true)
	})
	if err != nil {
		return container.ContainerSpec{}, fmt.Errorf("compose dosyası ayrıştırılamadı: %w", err)
	}

	svc, err := pickService(project, service)
	if err != nil {
		return container.ContainerSpec{}, err
	}

	spec := FromService(svc)
	spec.Networks = engineNetworkNames(project, spec.Networks)
	spec.Volumes = engineVolumeNames(project, spec.Volumes)
	return spec, nil
}

// engineVolumeNames replaces the compose keys of named volumes with the
// project scoped names the engine knows them by.
func engineVolumeNames(project *compose.Project, volumes []container.VolumeMount) []container.VolumeMount {
	for i, v := range volumes {
		if v.Type != compose.VolumeTypeVolume {
			continue
		}
		if cfg, ok := project.Volumes[v.Source]; ok && cfg.Name != "" {
			volumes[i].Source = cfg.Name
		}
	}
	return volumes
}

// engineNetworkNames replaces the compose network keys with the names the
// networks carry on the engine, "<project>_default" for the default network.
func engineNetworkNames(project *compose.Project, networks map[string]container.NetworkAttachment) map[string]container.NetworkAttachment {
	if len(networks) == 0 {
		return networks
	}
	out := make(map[string]container.NetworkAttachment, len(networks))
	for key, att := range networks {
		name := key
		if cfg, ok := project.Networks[key]; ok && cfg.Name != "" {
			name = cfg.Name
		}
		out[name] = att
	}
	return out
}

// Raw returns the unparsed content of the compose file
func Raw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compose dosyası okunamadı: %w", err)
	}
	return data, nil
}

// WriteRaw restores a compose file from a backed up copy
func WriteRaw(path string, data []byte) error {
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("compose dosyası yazılamadı: %w", err)
	}
	return nil
}

func pickService(project *compose.Project, name string) (compose.ServiceConfig, error) {
	if name != "" {
		svc, ok := project.Services[name]
		if !ok {
			return compose.ServiceConfig{}, fmt.Errorf("%w: %s", ErrNoService, name)
		}
		return svc, nil
	}
	if len(project.Services) != 1 {
		return compose.ServiceConfig{}, fmt.Errorf("%w: %d servis var, servis adı belirtilmeli", ErrNoService, len(project.Services))
	}
	for _, svc := range project.Services {
		return svc, nil
	}
	return compose.ServiceConfig{}, ErrNoService
}

// FromService converts a compose service into creation parameters
func FromService(svc compose.ServiceConfig) container.ContainerSpec {
	spec := container.ContainerSpec{
		Name:        svc.ContainerName,
		Image:       svc.Image,
		Cmd:         copyStrings(svc.Command),
		Entrypoint:  copyStrings(svc.Entrypoint),
		Env:         environmentList(svc.Environment),
		NetworkMode: svc.NetworkMode,
		RestartPolicy: container.RestartPolicy{
			Name: restartPolicy(svc.Restart),
		},
		HostExtras: container.HostExtras{
			Privileged: svc.Privileged,
			CapAdd:     copyStrings(svc.CapAdd),
			CapDrop:    copyStrings(svc.CapDrop),
			DNS:        copyStrings(svc.DNS),
			DNSSearch:  copyStrings(svc.DNSSearch),
			ExtraHosts: extraHosts(svc.ExtraHosts),
		},
	}
	if strings.HasPrefix(svc.Restart, "on-failure:") {
		if n, err := strconv.Atoi(strings.TrimPrefix(svc.Restart, "on-failure:")); err == nil {
			spec.RestartPolicy.MaximumRetryCount = n
		}
	}

	if len(svc.Labels) > 0 {
		spec.Labels = make(map[string]string, len(svc.Labels))
		for k, v := range svc.Labels {
			spec.Labels[k] = v
		}
	}

	if len(svc.Ports) > 0 {
		spec.Ports = make(map[string][]container.PortBinding, len(svc.Ports))
		for _, p := range svc.Ports {
			protocol := strings.ToLower(p.Protocol)
			if protocol == "" {
				protocol = "tcp"
			}
			key := fmt.Sprintf("%d/%s", p.Target, protocol)
			// a port without published side is still published, on a host
			// port the engine picks
			spec.Ports[key] = append(spec.Ports[key], container.PortBinding{
				HostIP:   p.HostIP,
				HostPort: p.Published,
			})
		}
	}

	for _, v := range svc.Volumes {
		if v.Target == "" {
			continue
		}
		mount := container.VolumeMount{
			Type:        v.Type,
			Source:      v.Source,
			Destination: v.Target,
		}
		switch v.Type {
		case compose.VolumeTypeTmpfs:
			mount.Source = ""
			if v.Tmpfs != nil {
				mount.TmpfsSize = int64(v.Tmpfs.Size)
			}
		case compose.VolumeTypeBind, compose.VolumeTypeVolume:
		default:
			continue
		}
		if v.ReadOnly {
			mount.Mode = "ro"
		}
		spec.Volumes = append(spec.Volumes, mount)
	}

	if len(svc.Tmpfs) > 0 {
		spec.HostExtras.Tmpfs = make(map[string]string, len(svc.Tmpfs))
		for _, entry := range svc.Tmpfs {
			dest, opts, _ := strings.Cut(entry, ":")
			spec.HostExtras.Tmpfs[dest] = opts
		}
	}

	if len(svc.Networks) > 0 {
		spec.Networks = make(map[string]container.NetworkAttachment, len(svc.Networks))
		for name, cfg := range svc.Networks {
			att := container.NetworkAttachment{}
			if cfg != nil {
				att.IPv4Address = cfg.Ipv4Address
				att.IPv6Address = cfg.Ipv6Address
				att.Aliases = copyStrings(cfg.Aliases)
			}
			spec.Networks[name] = att
		}
	}

	if svc.Logging != nil && svc.Logging.Driver != "" {
		spec.HostExtras.LogDriver = svc.Logging.Driver
		if len(svc.Logging.Options) > 0 {
			spec.HostExtras.LogOptions = make(map[string]string, len(svc.Logging.Options))
			for k, v := range svc.Logging.Options {
				spec.HostExtras.LogOptions[k] = v
			}
		}
	}

	return spec
}

func restartPolicy(restart string) string {
	if i := strings.Index(restart, ":"); i >= 0 {
		return restart[:i]
	}
	return restart
}

func environmentList(env compose.MappingWithEquals) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := env[k]; v != nil {
			out = append(out, k+"="+*v)
		}
	}
	return out
}

func extraHosts(hosts compose.HostsList) []string {
	if len(hosts) == 0 {
		return nil
	}
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		for _, ip := range hosts[name] {
			out = append(out, name+":"+ip)
		}
	}
	return out
}

func environment() compose.Mapping {
	env := compose.Mapping{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func projectName(dir string) string {
	name := loader.NormalizeProjectName(filepath.Base(dir))
	if name == "" {
		return "warden"
	}
	return name
}

func copyStrings[T ~[]string](in T) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}
