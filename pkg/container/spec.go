package container

import (
	"strings"
	"time"
)

// ContainerRecord is the full-fidelity inventory entry of an update-eligible container
type ContainerRecord struct {
	ID            string                       `json:"id"`
	Name          string                       `json:"name"`
	Image         string                       `json:"image"`
	ImageID       string                       `json:"image_id"`
	State         string                       `json:"state"`
	Created       time.Time                    `json:"created"`
	Labels        map[string]string            `json:"labels,omitempty"`
	Ports         map[string][]PortBinding     `json:"ports,omitempty"`
	Volumes       []VolumeMount                `json:"volumes,omitempty"`
	Env           []string                     `json:"env,omitempty"`
	Cmd           []string                     `json:"cmd,omitempty"`
	Entrypoint    []string                     `json:"entrypoint,omitempty"`
	NetworkMode   string                       `json:"network_mode,omitempty"`
	Networks      map[string]NetworkAttachment `json:"networks,omitempty"`
	RestartPolicy RestartPolicy                `json:"restart_policy"`
	HostExtras    HostExtras                   `json:"host_extras"`
}

// PortBinding is one host side binding of a container port. A binding with
// neither HostIP nor HostPort publishes the port on a host port the engine
// picks; a port without any binding is only exposed.
type PortBinding struct {
	HostIP   string `json:"host_ip,omitempty"`
	HostPort string `json:"host_port,omitempty"`
}

// Mount types a VolumeMount can carry. An empty type is treated as a bind
// or named volume depending on the source.
const (
	MountTypeBind   = "bind"
	MountTypeVolume = "volume"
	MountTypeTmpfs  = "tmpfs"
)

// VolumeMount defines a volume mount. A volume without source is anonymous;
// a tmpfs mount never has one.
type VolumeMount struct {
	Type        string `json:"type,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode,omitempty"`
	TmpfsSize   int64  `json:"tmpfs_size,omitempty"`
}

// ReadOnly reports whether the mode carries the ro flag
func (v VolumeMount) ReadOnly() bool {
	for _, opt := range strings.Split(v.Mode, ",") {
		if opt == "ro" {
			return true
		}
	}
	return false
}

// NetworkAttachment describes the attachment of a container to one network
type NetworkAttachment struct {
	IPv4Address string   `json:"ipv4_address,omitempty"`
	IPv6Address string   `json:"ipv6_address,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// RestartPolicy mirrors the engine restart policy
type RestartPolicy struct {
	Name              string `json:"name"`
	MaximumRetryCount int    `json:"maximum_retry_count,omitempty"`
}

// HostExtras holds host level settings that are only reproduced when they
// deviate from the engine defaults.
type HostExtras struct {
	Privileged bool              `json:"privileged,omitempty"`
	CapAdd     []string          `json:"cap_add,omitempty"`
	CapDrop    []string          `json:"cap_drop,omitempty"`
	DNS        []string          `json:"dns,omitempty"`
	DNSSearch  []string          `json:"dns_search,omitempty"`
	ExtraHosts []string          `json:"extra_hosts,omitempty"`
	LogDriver  string            `json:"log_driver,omitempty"`
	LogOptions map[string]string `json:"log_options,omitempty"`
	// Tmpfs holds --tmpfs mounts, destination to mount options
	Tmpfs map[string]string `json:"tmpfs,omitempty"`
}

// Running reports whether the record was taken from a running container
func (r ContainerRecord) Running() bool {
	return r.State == "running"
}

// Label returns the value of a label, or the empty string
func (r ContainerRecord) Label(key string) string {
	if r.Labels == nil {
		return ""
	}
	return r.Labels[key]
}

// ShortID returns the first twelve characters of the container ID
func (r ContainerRecord) ShortID() string {
	return ShortID(r.ID)
}

// ShortID truncates an engine ID the way the docker CLI does
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
