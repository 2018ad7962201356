package detector_test

import (
	"context"
	"fmt"
	"testing"

	"dockwarden/pkg/container"
	"dockwarden/pkg/container/containertest"
	"dockwarden/pkg/detector"
	"dockwarden/pkg/inventory"

	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector(t *testing.T) (*detector.Detector, *containertest.Engine) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	engine := containertest.NewEngine()
	manager, err := container.NewManager(engine, container.Options{}, logger)
	require.NoError(t, err)
	return detector.NewDetector(manager, nil, logger), engine
}

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		ref        string
		reference  bool
		repository bool
	}{
		{"nginx:1.25", false, false},
		{"nginx", false, false},
		{"myproject_web", true, true},
		{"myproject-web:latest", true, true},
		{"library/my-app:1", false, false},
		{"registry.example.com:5000/team/my_app:2", false, false},
		{"ghcr.io/org/app@sha256:abcd", false, false},
		{"my-app@sha256:abcd", true, true},
		{"nginx:1.25-alpine", true, false},
		{"my_app:1.0-beta", true, true},
		{"redis:7@sha256:ab-cd", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			c := detector.HeuristicClassifier{}
			assert.Equal(t, tt.reference, c.IsLocallyBuilt(tt.ref))
			// pure: same answer on every call
			assert.Equal(t, tt.reference, c.IsLocallyBuilt(tt.ref))
			assert.Equal(t, tt.repository, detector.RepositoryClassifier.IsLocallyBuilt(tt.ref))
		})
	}
}

func TestClassifierByName(t *testing.T) {
	c, err := detector.ClassifierByName("")
	require.NoError(t, err)
	assert.True(t, c.IsLocallyBuilt("nginx:1.25-alpine"))

	c, err = detector.ClassifierByName(detector.ClassifierRepository)
	require.NoError(t, err)
	assert.False(t, c.IsLocallyBuilt("nginx:1.25-alpine"))

	_, err = detector.ClassifierByName("magic")
	assert.Error(t, err)
}

func TestRepository(t *testing.T) {
	assert.Equal(t, "nginx", detector.Repository("nginx:1.25"))
	assert.Equal(t, "nginx", detector.Repository("nginx"))
	assert.Equal(t, "localhost:5000/app", detector.Repository("localhost:5000/app"))
	assert.Equal(t, "localhost:5000/app", detector.Repository("localhost:5000/app:2"))
	assert.Equal(t, "ghcr.io/org/app", detector.Repository("ghcr.io/org/app:1@sha256:abcd"))
}

func TestCheckUpdateAvailable(t *testing.T) {
	d, engine := newDetector(t)
	engine.AddImage("nginx:1.25", "sha256:old")
	engine.SetPullResult("nginx:1.25", "sha256:new")

	status := d.Check(context.Background(), container.ContainerRecord{
		ID: "abc", Name: "web", Image: "nginx:1.25", ImageID: "sha256:old",
	})

	assert.True(t, status.UpdateAvailable)
	require.NotNil(t, status.LatestImageID)
	assert.Equal(t, "sha256:new", *status.LatestImageID)
	assert.False(t, status.Undetermined())
	assert.Equal(t, []string{"pull nginx:1.25"}, engine.CallsOf("pull"))
}

func TestCheckCurrent(t *testing.T) {
	d, engine := newDetector(t)
	engine.AddImage("nginx:1.25", "sha256:same")

	status := d.Check(context.Background(), container.ContainerRecord{
		Name: "web", Image: "nginx:1.25", ImageID: "sha256:same",
	})

	assert.False(t, status.UpdateAvailable)
	assert.Empty(t, status.Error)
}

func TestCheckLocallyBuiltNeverPulls(t *testing.T) {
	d, engine := newDetector(t)

	status := d.Check(context.Background(), container.ContainerRecord{
		Name: "web", Image: "myproject_web", ImageID: "sha256:local",
	})

	assert.True(t, status.LocallyBuilt)
	assert.False(t, status.UpdateAvailable)
	require.NotNil(t, status.LatestImageID)
	assert.Equal(t, "sha256:local", *status.LatestImageID)
	assert.Empty(t, engine.CallsOf("pull"))
}

func TestCheckLabelOverridesClassifier(t *testing.T) {
	d, engine := newDetector(t)
	engine.AddImage("my-registry-app:1", "sha256:one")

	d.Check(context.Background(), container.ContainerRecord{
		Name: "app", Image: "my-registry-app:1", ImageID: "sha256:one",
		Labels: map[string]string{detector.LabelLocalImage: "false"},
	})
	assert.Len(t, engine.CallsOf("pull"), 1)

	status := d.Check(context.Background(), container.ContainerRecord{
		Name: "nginx", Image: "nginx:1.25", ImageID: "sha256:ng",
		Labels: map[string]string{detector.LabelLocalImage: "true"},
	})
	assert.True(t, status.LocallyBuilt)
	assert.Len(t, engine.CallsOf("pull"), 1)
}

func TestCheckPullFailureIsUndetermined(t *testing.T) {
	d, engine := newDetector(t)
	engine.Fail("pull", fmt.Errorf("manifest unknown: %w", errdefs.ErrNotFound))

	status := d.Check(context.Background(), container.ContainerRecord{
		Name: "web", Image: "nginx:9.99", ImageID: "sha256:old",
	})

	assert.True(t, status.Undetermined())
	assert.False(t, status.UpdateAvailable)
	assert.Nil(t, status.LatestImageID)
	assert.Equal(t, "not-found", status.Reason)
	assert.NotEmpty(t, status.Error)
}

func TestCheckAllKeepsOrder(t *testing.T) {
	d, engine := newDetector(t)
	engine.AddImage("nginx:1.25", "sha256:ng")
	engine.AddImage("redis:7", "sha256:rd")

	statuses := d.CheckAll(context.Background(), inventory.Snapshot{Containers: []container.ContainerRecord{
		{Name: "web", Image: "nginx:1.25", ImageID: "sha256:ng"},
		{Name: "cache", Image: "redis:7", ImageID: "sha256:old"},
	}})

	require.Len(t, statuses, 2)
	assert.Equal(t, "web", statuses[0].Container)
	assert.False(t, statuses[0].UpdateAvailable)
	assert.Equal(t, "cache", statuses[1].Container)
	assert.True(t, statuses[1].UpdateAvailable)
}
