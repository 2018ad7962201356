package container

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// ContainerSpec is the typed parameter set a container is created from
type ContainerSpec struct {
	Name          string                       `json:"name"`
	Image         string                       `json:"image"`
	Cmd           []string                     `json:"cmd,omitempty"`
	Entrypoint    []string                     `json:"entrypoint,omitempty"`
	Env           []string                     `json:"env,omitempty"`
	Labels        map[string]string            `json:"labels,omitempty"`
	Ports         map[string][]PortBinding     `json:"ports,omitempty"`
	Volumes       []VolumeMount                `json:"volumes,omitempty"`
	NetworkMode   string                       `json:"network_mode,omitempty"`
	Networks      map[string]NetworkAttachment `json:"networks,omitempty"`
	RestartPolicy RestartPolicy                `json:"restart_policy"`
	HostExtras    HostExtras                   `json:"host_extras"`
	AutoRemove    bool                         `json:"auto_remove,omitempty"`
}

// CreateConfig is a ContainerSpec translated into engine API structures.
// Connect lists the networks that have to be attached after creation.
type CreateConfig struct {
	Config     *container.Config
	HostConfig *container.HostConfig
	Networking *network.NetworkingConfig
	Connect    map[string]*network.EndpointSettings
}

var validRestartPolicies = map[string]bool{
	"":               true,
	"no":             true,
	"always":         true,
	"unless-stopped": true,
	"on-failure":     true,
}

// Validate checks the spec before it is submitted to the engine
func (s ContainerSpec) Validate() error {
	var errs []error

	if strings.TrimSpace(s.Image) == "" {
		errs = append(errs, errors.New("image boş olamaz"))
	}

	for key := range s.Ports {
		if _, err := parsePort(key); err != nil {
			errs = append(errs, err)
		}
	}

	for i, v := range s.Volumes {
		if v.Destination == "" {
			errs = append(errs, fmt.Errorf("volume %d: hedef dizin boş olamaz", i))
		}
		switch v.Type {
		case MountTypeTmpfs:
			if v.Source != "" {
				errs = append(errs, fmt.Errorf("volume %d: tmpfs kaynak alamaz", i))
			}
		case MountTypeVolume:
		case "", MountTypeBind:
			if v.Source == "" {
				errs = append(errs, fmt.Errorf("volume %d: kaynak boş olamaz", i))
			}
		default:
			errs = append(errs, fmt.Errorf("volume %d: desteklenmeyen mount tipi: %s", i, v.Type))
		}
	}

	for _, e := range s.Env {
		if strings.HasPrefix(e, "=") || e == "" {
			errs = append(errs, fmt.Errorf("geçersiz ortam değişkeni: %q", e))
		}
	}

	for name := range s.Networks {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("network adı boş olamaz"))
		}
	}

	if !validRestartPolicies[s.RestartPolicy.Name] {
		errs = append(errs, fmt.Errorf("geçersiz restart policy: %s", s.RestartPolicy.Name))
	}
	if s.RestartPolicy.MaximumRetryCount < 0 {
		errs = append(errs, errors.New("restart policy tekrar sayısı negatif olamaz"))
	}
	if s.RestartPolicy.MaximumRetryCount > 0 && s.RestartPolicy.Name != "on-failure" {
		errs = append(errs, fmt.Errorf("tekrar sayısı sadece on-failure ile kullanılabilir (policy: %s)", s.RestartPolicy.Name))
	}

	return errors.Join(errs...)
}

// PrimaryNetwork returns the network the container is created in. Remaining
// networks are connected afterwards.
func (s ContainerSpec) PrimaryNetwork() string {
	if s.NetworkMode != "" {
		if _, ok := s.Networks[s.NetworkMode]; ok {
			return s.NetworkMode
		}
		if len(s.Networks) == 0 {
			return s.NetworkMode
		}
	}
	names := s.networkNames()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func (s ContainerSpec) networkNames() []string {
	names := make([]string, 0, len(s.Networks))
	for name := range s.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build translates the spec into engine API structures. It does not validate;
// callers are expected to call Validate first.
func (s ContainerSpec) Build() (CreateConfig, error) {
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for key, bindings := range s.Ports {
		port, err := parsePort(key)
		if err != nil {
			return CreateConfig{}, err
		}
		exposedPorts[port] = struct{}{}
		if len(bindings) == 0 {
			continue
		}
		for _, b := range bindings {
			portBindings[port] = append(portBindings[port], nat.PortBinding{
				HostIP:   b.HostIP,
				HostPort: b.HostPort,
			})
		}
	}

	config := &container.Config{
		Image:  s.Image,
		Env:    s.Env,
		Labels: s.Labels,
	}
	if len(exposedPorts) > 0 {
		config.ExposedPorts = exposedPorts
	}
	if len(s.Cmd) > 0 {
		config.Cmd = s.Cmd
	}
	if len(s.Entrypoint) > 0 {
		config.Entrypoint = s.Entrypoint
	}

	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{
			Name:              container.RestartPolicyMode(s.RestartPolicy.Name),
			MaximumRetryCount: s.RestartPolicy.MaximumRetryCount,
		},
		Privileged: s.HostExtras.Privileged,
		AutoRemove: s.AutoRemove,
	}
	if len(portBindings) > 0 {
		hostConfig.PortBindings = portBindings
	}
	for _, v := range s.Volumes {
		switch {
		case v.Type == MountTypeTmpfs:
			m := mount.Mount{
				Type:     mount.TypeTmpfs,
				Target:   v.Destination,
				ReadOnly: v.ReadOnly(),
			}
			if v.TmpfsSize > 0 {
				m.TmpfsOptions = &mount.TmpfsOptions{SizeBytes: v.TmpfsSize}
			}
			hostConfig.Mounts = append(hostConfig.Mounts, m)
		case v.Source == "":
			if config.Volumes == nil {
				config.Volumes = map[string]struct{}{}
			}
			config.Volumes[v.Destination] = struct{}{}
		default:
			hostConfig.Binds = append(hostConfig.Binds, v.Bind())
		}
	}
	if len(s.HostExtras.Tmpfs) > 0 {
		hostConfig.Tmpfs = s.HostExtras.Tmpfs
	}
	if len(s.HostExtras.CapAdd) > 0 {
		hostConfig.CapAdd = s.HostExtras.CapAdd
	}
	if len(s.HostExtras.CapDrop) > 0 {
		hostConfig.CapDrop = s.HostExtras.CapDrop
	}
	if len(s.HostExtras.DNS) > 0 {
		hostConfig.DNS = s.HostExtras.DNS
	}
	if len(s.HostExtras.DNSSearch) > 0 {
		hostConfig.DNSSearch = s.HostExtras.DNSSearch
	}
	if len(s.HostExtras.ExtraHosts) > 0 {
		hostConfig.ExtraHosts = s.HostExtras.ExtraHosts
	}
	if s.HostExtras.LogDriver != "" {
		hostConfig.LogConfig = container.LogConfig{
			Type:   s.HostExtras.LogDriver,
			Config: s.HostExtras.LogOptions,
		}
	}

	cc := CreateConfig{
		Config:     config,
		HostConfig: hostConfig,
		Networking: &network.NetworkingConfig{},
		Connect:    map[string]*network.EndpointSettings{},
	}

	primary := s.PrimaryNetwork()
	if primary != "" {
		hostConfig.NetworkMode = container.NetworkMode(primary)
	}
	for _, name := range s.networkNames() {
		ep := endpointSettings(s.Networks[name])
		if name == primary {
			cc.Networking.EndpointsConfig = map[string]*network.EndpointSettings{name: ep}
			continue
		}
		cc.Connect[name] = ep
	}

	return cc, nil
}

// Bind renders the mount in the engine's source:destination[:mode] form
func (v VolumeMount) Bind() string {
	bind := v.Source + ":" + v.Destination
	if v.Mode != "" {
		bind += ":" + v.Mode
	}
	return bind
}

func endpointSettings(att NetworkAttachment) *network.EndpointSettings {
	ep := &network.EndpointSettings{}
	if len(att.Aliases) > 0 {
		ep.Aliases = att.Aliases
	}
	if att.IPv4Address != "" || att.IPv6Address != "" {
		ep.IPAMConfig = &network.EndpointIPAMConfig{
			IPv4Address: att.IPv4Address,
			IPv6Address: att.IPv6Address,
		}
	}
	return ep
}

// parsePort parses a "port/proto" key, defaulting the protocol to tcp
func parsePort(key string) (nat.Port, error) {
	portStr, protocol := key, "tcp"
	if strings.Contains(key, "/") {
		parts := strings.SplitN(key, "/", 2)
		portStr, protocol = parts[0], parts[1]
	}
	port, err := nat.NewPort(protocol, portStr)
	if err != nil {
		return "", fmt.Errorf("geçersiz port: %s", key)
	}
	return port, nil
}
