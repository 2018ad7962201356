package recreate

import (
	"strings"

	"dockwarden/pkg/container"
)

const (
	defaultBridge    = "bridge"
	defaultLogDriver = "json-file"
)

// Synthesize derives the creation parameters of a replacement container from
// the record of the container it replaces, bound to image. The result only
// carries host level settings that deviate from the engine defaults.
func Synthesize(rec container.ContainerRecord, image string) container.ContainerSpec {
	spec := container.ContainerSpec{
		Name:        rec.Name,
		Image:       image,
		Cmd:         cloneStrings(rec.Cmd),
		Entrypoint:  cloneStrings(rec.Entrypoint),
		Env:         cloneStrings(rec.Env),
		Labels:      cloneLabels(rec.Labels),
		NetworkMode: rec.NetworkMode,
	}

	if len(rec.Ports) > 0 {
		spec.Ports = make(map[string][]container.PortBinding, len(rec.Ports))
		// empty bindings stay: the engine picks the host port again, while
		// a port without bindings is only exposed
		for port, bindings := range rec.Ports {
			if len(bindings) == 0 {
				spec.Ports[port] = nil
				continue
			}
			spec.Ports[port] = append([]container.PortBinding(nil), bindings...)
		}
	}

	if len(rec.Volumes) > 0 {
		spec.Volumes = append([]container.VolumeMount(nil), rec.Volumes...)
	}

	if len(rec.Networks) > 0 {
		spec.Networks = make(map[string]container.NetworkAttachment, len(rec.Networks))
		for name, att := range rec.Networks {
			if name == defaultBridge && len(rec.Networks) > 1 {
				continue
			}
			spec.Networks[name] = container.NetworkAttachment{
				IPv4Address: att.IPv4Address,
				IPv6Address: att.IPv6Address,
				Aliases:     userAliases(rec, att.Aliases),
			}
		}
		if _, kept := spec.Networks[spec.NetworkMode]; !kept && isBridgeMode(spec.NetworkMode) && len(spec.Networks) > 0 {
			spec.NetworkMode = ""
		}
	}

	spec.RestartPolicy = container.RestartPolicy{Name: rec.RestartPolicy.Name}
	if rec.RestartPolicy.Name == "on-failure" {
		spec.RestartPolicy.MaximumRetryCount = rec.RestartPolicy.MaximumRetryCount
	}

	spec.HostExtras = hostExtras(rec.HostExtras)

	return spec
}

func hostExtras(in container.HostExtras) container.HostExtras {
	out := container.HostExtras{
		Privileged: in.Privileged,
		CapAdd:     cloneStrings(in.CapAdd),
		CapDrop:    cloneStrings(in.CapDrop),
		DNS:        cloneStrings(in.DNS),
		DNSSearch:  cloneStrings(in.DNSSearch),
		ExtraHosts: cloneStrings(in.ExtraHosts),
		Tmpfs:      cloneLabels(in.Tmpfs),
	}
	if in.LogDriver != "" && in.LogDriver != defaultLogDriver {
		out.LogDriver = in.LogDriver
		out.LogOptions = cloneLabels(in.LogOptions)
	}
	return out
}

func isBridgeMode(mode string) bool {
	return mode == "" || mode == "default" || mode == defaultBridge
}

// userAliases drops the aliases the engine derived from the old container ID
func userAliases(rec container.ContainerRecord, aliases []string) []string {
	var out []string
	for _, alias := range aliases {
		if len(alias) >= 12 && strings.HasPrefix(rec.ID, alias) {
			continue
		}
		out = append(out, alias)
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
