package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dockwarden/pkg/container"
	"dockwarden/pkg/deployspec"
)

// FallbackSpec is the fixed configuration the updater is redeployed with when
// no compose file is available.
type FallbackSpec struct {
	Name         string
	Image        string
	Socket       string
	DataVolume   string
	DataDir      string
	Port         int
	ProtectedEnv []string
}

// Build renders the fallback container for image. Environment entries listed
// in ProtectedEnv are carried over from previousEnv.
func (f FallbackSpec) Build(image string, previousEnv []string) container.ContainerSpec {
	if image == "" {
		image = f.Image
	}

	spec := container.ContainerSpec{
		Name:  f.Name,
		Image: image,
		Env:   ProtectedEnv(previousEnv, f.ProtectedEnv),
		Labels: map[string]string{
			"dockwarden.role": "updater",
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	if f.Socket != "" {
		spec.Volumes = append(spec.Volumes, container.VolumeMount{
			Type:        "bind",
			Source:      f.Socket,
			Destination: f.Socket,
		})
	}
	if f.DataVolume != "" && f.DataDir != "" {
		spec.Volumes = append(spec.Volumes, container.VolumeMount{
			Type:        "volume",
			Source:      f.DataVolume,
			Destination: f.DataDir,
		})
	}
	if f.Port > 0 {
		port := strconv.Itoa(f.Port)
		spec.Ports = map[string][]container.PortBinding{
			port + "/tcp": {{HostPort: port}},
		}
	}

	return spec
}

// ProtectedEnv selects the entries of env whose names are listed in names
func ProtectedEnv(env []string, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var out []string
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if wanted[name] {
			out = append(out, kv)
		}
	}
	return out
}

// DeployOptions selects how the updater's own container is (re)deployed
type DeployOptions struct {
	ComposeFile string
	Service     string
	Fallback    FallbackSpec
}

// UsesCompose reports whether a readable compose file is configured
func (o DeployOptions) UsesCompose() bool {
	if o.ComposeFile == "" {
		return false
	}
	_, err := os.Stat(o.ComposeFile)
	return err == nil
}

// Spec resolves the creation parameters of the updater's container. A
// non-empty image overrides the image of the compose service.
func (o DeployOptions) Spec(ctx context.Context, image string, previousEnv []string) (container.ContainerSpec, error) {
	if !o.UsesCompose() {
		spec := o.Fallback.Build(image, previousEnv)
		if spec.Name == "" || spec.Image == "" {
			return container.ContainerSpec{}, errors.New("yedek yapılandırmada container adı ve image gerekli")
		}
		return spec, nil
	}

	spec, err := deployspec.Load(ctx, o.ComposeFile, o.Service)
	if err != nil {
		return container.ContainerSpec{}, err
	}
	if image != "" {
		spec.Image = image
	}
	if spec.Name == "" {
		spec.Name = o.Fallback.Name
	}
	if spec.Name == "" {
		return container.ContainerSpec{}, fmt.Errorf("compose servisi için container adı belirlenemedi: %s", o.ComposeFile)
	}
	return spec, nil
}
