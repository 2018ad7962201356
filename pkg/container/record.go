package container

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
)

// RecordFromInspect converts an engine inspection document into a
// ContainerRecord.
func RecordFromInspect(insp container.InspectResponse) (ContainerRecord, error) {
	if insp.ContainerJSONBase == nil {
		return ContainerRecord{}, errors.New("container inspect verisi eksik")
	}

	rec := ContainerRecord{
		ID:      insp.ID,
		Name:    strings.TrimPrefix(insp.Name, "/"),
		ImageID: insp.Image,
	}
	rec.Created, _ = time.Parse(time.RFC3339Nano, insp.Created)

	if insp.State != nil {
		rec.State = string(insp.State.Status)
		if rec.State == "" && insp.State.Running {
			rec.State = "running"
		}
	}

	if cfg := insp.Config; cfg != nil {
		rec.Image = cfg.Image
		rec.Labels = copyMap(cfg.Labels)
		rec.Env = copySlice(cfg.Env)
		rec.Cmd = copySlice(cfg.Cmd)
		rec.Entrypoint = copySlice(cfg.Entrypoint)
		for port := range cfg.ExposedPorts {
			if rec.Ports == nil {
				rec.Ports = map[string][]PortBinding{}
			}
			rec.Ports[string(port)] = nil
		}
	}

	if hc := insp.HostConfig; hc != nil {
		rec.NetworkMode = string(hc.NetworkMode)
		rec.RestartPolicy = RestartPolicy{
			Name:              string(hc.RestartPolicy.Name),
			MaximumRetryCount: hc.RestartPolicy.MaximumRetryCount,
		}
		for port, bindings := range hc.PortBindings {
			if rec.Ports == nil {
				rec.Ports = map[string][]PortBinding{}
			}
			// an empty binding is a publish on an engine chosen host port
			var out []PortBinding
			for _, b := range bindings {
				out = append(out, PortBinding{HostIP: b.HostIP, HostPort: b.HostPort})
			}
			rec.Ports[string(port)] = out
		}
		rec.HostExtras = HostExtras{
			Privileged: hc.Privileged,
			CapAdd:     copySlice(hc.CapAdd),
			CapDrop:    copySlice(hc.CapDrop),
			DNS:        copySlice(hc.DNS),
			DNSSearch:  copySlice(hc.DNSSearch),
			ExtraHosts: copySlice(hc.ExtraHosts),
			LogDriver:  hc.LogConfig.Type,
			LogOptions: copyMap(hc.LogConfig.Config),
			Tmpfs:      copyMap(hc.Tmpfs),
		}
	}

	for _, mp := range insp.Mounts {
		if mp.Type == mount.TypeTmpfs && insp.HostConfig != nil {
			if _, ok := insp.HostConfig.Tmpfs[mp.Destination]; ok {
				continue
			}
		}
		v := volumeFromMountPoint(mp)
		if mp.Type == mount.TypeTmpfs {
			v.TmpfsSize = tmpfsSize(insp.HostConfig, mp.Destination)
		}
		rec.Volumes = append(rec.Volumes, v)
	}

	if ns := insp.NetworkSettings; ns != nil {
		for name, ep := range ns.Networks {
			if rec.Networks == nil {
				rec.Networks = map[string]NetworkAttachment{}
			}
			att := NetworkAttachment{}
			if ep != nil {
				if ep.IPAMConfig != nil {
					att.IPv4Address = ep.IPAMConfig.IPv4Address
					att.IPv6Address = ep.IPAMConfig.IPv6Address
				}
				att.Aliases = copySlice(ep.Aliases)
			}
			rec.Networks[name] = att
		}
	}

	return rec, nil
}

// volumeFromMountPoint keeps named volumes referenced by name so that the
// replacement container is attached to the same volume.
func volumeFromMountPoint(mp container.MountPoint) VolumeMount {
	v := VolumeMount{
		Type:        string(mp.Type),
		Source:      mp.Source,
		Destination: mp.Destination,
		Mode:        mp.Mode,
	}
	switch {
	case mp.Type == mount.TypeVolume && mp.Name != "":
		v.Source = mp.Name
	case mp.Type == mount.TypeTmpfs:
		v.Source = ""
	}
	if !mp.RW && !strings.Contains(v.Mode, "ro") {
		if v.Mode == "" {
			v.Mode = "ro"
		} else {
			v.Mode += ",ro"
		}
	}
	return v
}

func tmpfsSize(hc *container.HostConfig, destination string) int64 {
	if hc == nil {
		return 0
	}
	for _, m := range hc.Mounts {
		if m.Type == mount.TypeTmpfs && m.Target == destination && m.TmpfsOptions != nil {
			return m.TmpfsOptions.SizeBytes
		}
	}
	return 0
}

// SortedNames returns the sorted keys of a network attachment map
func SortedNames(networks map[string]NetworkAttachment) []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copySlice[T ~[]string](in T) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
