package selfupdate

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strings"

	"dockwarden/pkg/container"

	"github.com/sirupsen/logrus"
)

// Identity names the container the updater itself runs in. The zero value
// means the updater does not run in a container of this engine.
type Identity struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Inspector looks up containers by name or ID
type Inspector interface {
	Inspect(ctx context.Context, nameOrID string) (container.ContainerRecord, []byte, error)
}

var (
	mountinfoIDRegexp = regexp.MustCompile(`/containers/([0-9a-f]{64})/`)
	cgroupIDRegexp    = regexp.MustCompile(`(?:docker[-/]|/)([0-9a-f]{64})(?:\.scope)?$`)
)

// Known reports whether the updater's own container has been identified
func (i Identity) Known() bool {
	return i.ID != ""
}

// IsSelf reports whether id names the updater's own container. IDs are
// compared by value, tolerating abbreviated IDs on either side.
func (i Identity) IsSelf(id string) bool {
	if i.ID == "" || id == "" {
		return false
	}
	if i.ID == id {
		return true
	}
	short, long := i.ID, id
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= 12 && strings.HasPrefix(long, short)
}

// IdentitySources are the places the own container ID is looked up in
type IdentitySources struct {
	MountInfo     string
	CGroup        string
	ContainerName string
	Hostname      func() (string, error)
}

// DefaultIdentitySources reads the current process' proc files and host name
func DefaultIdentitySources(containerName string) IdentitySources {
	return IdentitySources{
		MountInfo:     "/proc/self/mountinfo",
		CGroup:        "/proc/self/cgroup",
		ContainerName: containerName,
		Hostname:      os.Hostname,
	}
}

// ResolveIdentity determines the engine ID of the container the process runs
// in. The container runtime's bind mounts and cgroup path carry the full ID;
// a configured container name and the host name are only used when neither
// does. Failing lookups result in an unknown identity, not an error.
func ResolveIdentity(ctx context.Context, inspector Inspector, src IdentitySources, logger *logrus.Logger) Identity {
	candidates := []string{}
	if id := scanFile(src.MountInfo, mountinfoIDRegexp); id != "" {
		candidates = append(candidates, id)
	}
	if id := scanFile(src.CGroup, cgroupIDRegexp); id != "" {
		candidates = append(candidates, id)
	}
	if src.ContainerName != "" {
		candidates = append(candidates, src.ContainerName)
	}
	if src.Hostname != nil {
		if hn, err := src.Hostname(); err == nil && hn != "" {
			candidates = append(candidates, hn)
		}
	}

	for _, candidate := range candidates {
		rec, _, err := inspector.Inspect(ctx, candidate)
		if err != nil {
			logger.WithError(err).WithField("candidate", candidate).Debug("Kendi container'ı bu adayla bulunamadı")
			continue
		}
		id := Identity{ID: rec.ID, Name: rec.Name}
		logger.WithFields(logrus.Fields{
			"container_id": rec.ShortID(),
			"name":         rec.Name,
		}).Info("Kendi container kimliği belirlendi")
		return id
	}

	logger.Info("Kendi container'ı bulunamadı, container dışında çalışılıyor")
	return Identity{}
}

func scanFile(path string, re *regexp.Regexp) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := re.FindStringSubmatch(scanner.Text()); m != nil {
			return m[1]
		}
	}
	return ""
}
