// Package containertest provides an in-memory container engine implementing
// container.EngineAPI for tests. Only the operations the updater uses are
// modelled: containers can be listed, inspected, created, started, stopped
// and removed, images can be pulled, inspected, listed and removed.
package containertest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Engine is a mock engine. Operations can be made to fail by registering an
// error with Fail; every call is recorded and can be retrieved with Calls.
type Engine struct {
	mux        sync.Mutex
	containers map[string]*container.InspectResponse
	names      map[string]string // name -> ID
	images     map[string]string // reference -> image ID
	pulls      map[string]string // reference -> image ID the reference resolves to after a pull
	failures   map[string]error  // "op" or "op:target" -> error
	calls      []string
	seq        int
}

// NewEngine returns an empty mock engine.
func NewEngine() *Engine {
	return &Engine{
		containers: map[string]*container.InspectResponse{},
		names:      map[string]string{},
		images:     map[string]string{},
		pulls:      map[string]string{},
		failures:   map[string]error{},
	}
}

// Container describes a mock container to be added to the engine.
type Container struct {
	ID         string
	Name       string
	Image      string
	ImageID    string
	Running    bool
	Labels     map[string]string
	Env        []string
	Cmd        []string
	Entrypoint []string
	HostConfig *container.HostConfig
	Networks   map[string]*network.EndpointSettings
	Mounts     []container.MountPoint
}

// AddContainer adds a mock container and makes its image known locally.
func (e *Engine) AddContainer(c Container) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if c.ID == "" {
		c.ID = e.nextID()
	}
	hc := c.HostConfig
	if hc == nil {
		hc = &container.HostConfig{}
	}
	status := "exited"
	if c.Running {
		status = "running"
	}
	insp := &container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:         c.ID,
			Name:       "/" + c.Name,
			Image:      c.ImageID,
			Created:    time.Now().UTC().Format(time.RFC3339Nano),
			State:      &container.State{Status: "exited", Running: c.Running},
			HostConfig: hc,
		},
		Config: &container.Config{
			Image:      c.Image,
			Labels:     c.Labels,
			Env:        c.Env,
			Cmd:        c.Cmd,
			Entrypoint: c.Entrypoint,
		},
		Mounts: c.Mounts,
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{Ports: hc.PortBindings},
			Networks:            c.Networks,
		},
	}
	if status == "running" {
		insp.State.Status = "running"
	}
	e.containers[c.ID] = insp
	e.names[c.Name] = c.ID
	if c.Image != "" && c.ImageID != "" {
		if _, ok := e.images[c.Image]; !ok {
			e.images[c.Image] = c.ImageID
		}
	}
}

// AddImage registers a local image under a reference.
func (e *Engine) AddImage(ref, id string) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.images[ref] = id
}

// SetPullResult makes a pull of ref resolve the reference to imageID.
func (e *Engine) SetPullResult(ref, imageID string) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.pulls[ref] = imageID
}

// Fail makes the operation op fail with err. op is either a bare operation
// name such as "stop", or "stop:<name-or-id>" to fail for one target only.
// A nil err clears the failure.
func (e *Engine) Fail(op string, err error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

// Calls returns the recorded operations in "op target" form.
func (e *Engine) Calls() []string {
	e.mux.Lock()
	defer e.mux.Unlock()
	return append([]string(nil), e.calls...)
}

// CallsOf returns the recorded calls of a single operation.
func (e *Engine) CallsOf(op string) []string {
	var out []string
	for _, c := range e.Calls() {
		if strings.HasPrefix(c, op+" ") {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the inspection data of a container by name or ID.
func (e *Engine) Lookup(nameOrID string) (container.InspectResponse, bool) {
	e.mux.Lock()
	defer e.mux.Unlock()
	c, ok := e.lookup(nameOrID)
	if !ok {
		return container.InspectResponse{}, false
	}
	return *c, true
}

// StopContainer stops a container behind the updater's back.
func (e *Engine) StopContainer(nameOrID string) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if c, ok := e.lookup(nameOrID); ok {
		c.State.Running = false
		c.State.Status = "exited"
	}
}

// RemoveContainer removes a container behind the updater's back.
func (e *Engine) RemoveContainer(nameOrID string) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if c, ok := e.lookup(nameOrID); ok {
		delete(e.names, strings.TrimPrefix(c.Name, "/"))
		delete(e.containers, c.ID)
	}
}

func (e *Engine) nextID() string {
	e.seq++
	return fmt.Sprintf("%064x", e.seq)
}

func (e *Engine) lookup(nameOrID string) (*container.InspectResponse, bool) {
	if c, ok := e.containers[nameOrID]; ok {
		return c, true
	}
	if id, ok := e.names[strings.TrimPrefix(nameOrID, "/")]; ok {
		c, ok := e.containers[id]
		return c, ok
	}
	for id, c := range e.containers {
		if len(nameOrID) >= 12 && strings.HasPrefix(id, nameOrID) {
			return c, true
		}
	}
	return nil, false
}

// record logs a call and returns the failure registered for it, if any.
func (e *Engine) record(op, target string) error {
	e.calls = append(e.calls, op+" "+target)
	if err, ok := e.failures[op+":"+target]; ok {
		return err
	}
	if c, ok := e.lookup(target); ok {
		if err, ok := e.failures[op+":"+strings.TrimPrefix(c.Name, "/")]; ok {
			return err
		}
	}
	return e.failures[op]
}

func notFound(what string) error {
	return fmt.Errorf("no such %s: %w", what, errdefs.ErrNotFound)
}

// ContainerList lists running containers.
func (e *Engine) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("list", ""); err != nil {
		return nil, err
	}
	var out []container.Summary
	for _, c := range e.containers {
		if !c.State.Running && !options.All {
			continue
		}
		s := container.Summary{
			ID:      c.ID,
			Names:   []string{c.Name},
			Image:   c.Config.Image,
			ImageID: c.Image,
			Labels:  c.Config.Labels,
			State:   "exited",
		}
		if c.State.Running {
			s.State = "running"
		}
		out = append(out, s)
	}
	return out, nil
}

// ContainerInspectWithRaw returns a copy of the container's inspection data.
func (e *Engine) ContainerInspectWithRaw(ctx context.Context, containerID string, getSize bool) (container.InspectResponse, []byte, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("inspect", containerID); err != nil {
		return container.InspectResponse{}, nil, err
	}
	c, ok := e.lookup(containerID)
	if !ok {
		return container.InspectResponse{}, nil, notFound("container: " + containerID)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return container.InspectResponse{}, nil, err
	}
	var cp container.InspectResponse
	if err := json.Unmarshal(raw, &cp); err != nil {
		return container.InspectResponse{}, nil, err
	}
	return cp, raw, nil
}

// ContainerCreate creates a stopped container.
func (e *Engine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("create", containerName); err != nil {
		return container.CreateResponse{}, err
	}
	if _, ok := e.names[containerName]; ok && containerName != "" {
		return container.CreateResponse{}, fmt.Errorf("container name %q in use: %w", containerName, errdefs.ErrConflict)
	}
	imageID, ok := e.images[config.Image]
	if !ok {
		if strings.HasPrefix(config.Image, "sha256:") {
			imageID = config.Image
		} else {
			return container.CreateResponse{}, notFound("image: " + config.Image)
		}
	}
	if hostConfig == nil {
		hostConfig = &container.HostConfig{}
	}
	id := e.nextID()
	if containerName == "" {
		containerName = "c" + id[len(id)-6:]
	}
	networks := map[string]*network.EndpointSettings{}
	if networkingConfig != nil {
		for name, ep := range networkingConfig.EndpointsConfig {
			networks[name] = ep
		}
	}
	if len(networks) == 0 && hostConfig.NetworkMode != "" {
		networks[string(hostConfig.NetworkMode)] = &network.EndpointSettings{}
	}
	var mounts []container.MountPoint
	for _, bind := range hostConfig.Binds {
		mounts = append(mounts, mountPointFromBind(bind))
	}
	for _, m := range hostConfig.Mounts {
		mounts = append(mounts, container.MountPoint{Type: m.Type, Source: m.Source, Destination: m.Target, RW: !m.ReadOnly})
	}
	for dest := range config.Volumes {
		name := fmt.Sprintf("%s-anon%d", id[:12], len(mounts))
		mounts = append(mounts, container.MountPoint{
			Type:        mount.TypeVolume,
			Name:        name,
			Source:      "/var/lib/docker/volumes/" + name + "/_data",
			Destination: dest,
			RW:          true,
		})
	}
	e.containers[id] = &container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:         id,
			Name:       "/" + containerName,
			Image:      imageID,
			Created:    time.Now().UTC().Format(time.RFC3339Nano),
			State:      &container.State{Status: "created"},
			HostConfig: hostConfig,
		},
		Config: config,
		Mounts: mounts,
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{Ports: hostConfig.PortBindings},
			Networks:            networks,
		},
	}
	e.names[containerName] = id
	return container.CreateResponse{ID: id}, nil
}

func mountPointFromBind(bind string) container.MountPoint {
	parts := strings.Split(bind, ":")
	mp := container.MountPoint{Type: mount.TypeBind, RW: true}
	if len(parts) > 0 {
		mp.Source = parts[0]
	}
	if len(parts) > 1 {
		mp.Destination = parts[1]
	}
	if len(parts) > 2 {
		mp.Mode = parts[2]
		if strings.Contains(mp.Mode, "ro") {
			mp.RW = false
		}
	}
	if !strings.HasPrefix(mp.Source, "/") {
		mp.Type = mount.TypeVolume
		mp.Name = mp.Source
		mp.Source = "/var/lib/docker/volumes/" + mp.Name + "/_data"
	}
	return mp
}

// ContainerStart starts a container.
func (e *Engine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("start", containerID); err != nil {
		return err
	}
	c, ok := e.lookup(containerID)
	if !ok {
		return notFound("container: " + containerID)
	}
	c.State.Running = true
	c.State.Status = "running"
	return nil
}

// ContainerStop stops a container.
func (e *Engine) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("stop", containerID); err != nil {
		return err
	}
	c, ok := e.lookup(containerID)
	if !ok {
		return notFound("container: " + containerID)
	}
	c.State.Running = false
	c.State.Status = "exited"
	return nil
}

// ContainerRemove removes a container.
func (e *Engine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("remove", containerID); err != nil {
		return err
	}
	c, ok := e.lookup(containerID)
	if !ok {
		return notFound("container: " + containerID)
	}
	if options.RemoveVolumes {
		e.calls = append(e.calls, "remove-volumes "+containerID)
	}
	delete(e.names, strings.TrimPrefix(c.Name, "/"))
	delete(e.containers, c.ID)
	return nil
}

// NetworkConnect attaches a container to a further network.
func (e *Engine) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("connect", networkID); err != nil {
		return err
	}
	c, ok := e.lookup(containerID)
	if !ok {
		return notFound("container: " + containerID)
	}
	if c.NetworkSettings.Networks == nil {
		c.NetworkSettings.Networks = map[string]*network.EndpointSettings{}
	}
	if config == nil {
		config = &network.EndpointSettings{}
	}
	c.NetworkSettings.Networks[networkID] = config
	return nil
}

// ImagePull resolves ref to the image ID registered with SetPullResult, or
// keeps the current local image.
func (e *Engine) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("pull", refStr); err != nil {
		return nil, err
	}
	if id, ok := e.pulls[refStr]; ok {
		e.images[refStr] = id
	} else if _, ok := e.images[refStr]; !ok {
		return nil, notFound("image: " + refStr)
	}
	return io.NopCloser(strings.NewReader(`{"status":"Pull complete"}` + "\n")), nil
}

// ImageInspect returns the ID a reference or image ID resolves to.
func (e *Engine) ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("image-inspect", imageID); err != nil {
		return image.InspectResponse{}, err
	}
	if id, ok := e.images[imageID]; ok {
		return image.InspectResponse{ID: id, RepoTags: []string{imageID}}, nil
	}
	for ref, id := range e.images {
		if id == imageID {
			return image.InspectResponse{ID: id, RepoTags: []string{ref}}, nil
		}
	}
	return image.InspectResponse{}, notFound("image: " + imageID)
}

// ImageList lists the distinct local image IDs.
func (e *Engine) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("image-list", ""); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []image.Summary
	for _, id := range e.images {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, image.Summary{ID: id})
	}
	for _, c := range e.containers {
		if !seen[c.Image] && c.Image != "" {
			seen[c.Image] = true
			out = append(out, image.Summary{ID: c.Image})
		}
	}
	return out, nil
}

// ImageRemove removes an image unless a container still uses it.
func (e *Engine) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if err := e.record("image-remove", imageID); err != nil {
		return nil, err
	}
	for _, c := range e.containers {
		if c.Image == imageID {
			return nil, fmt.Errorf("image %s is being used by container %s: %w", imageID, c.ID, errdefs.ErrConflict)
		}
	}
	found := false
	for ref, id := range e.images {
		if id == imageID {
			delete(e.images, ref)
			found = true
		}
	}
	if !found {
		return nil, notFound("image: " + imageID)
	}
	return []image.DeleteResponse{{Deleted: imageID}}, nil
}
