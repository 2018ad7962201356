package detector

import (
	"context"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/inventory"

	"github.com/sirupsen/logrus"
)

// UpdateStatus is the freshness of one container's image. It is recomputed
// every cycle and never merged with an earlier status.
type UpdateStatus struct {
	Container       string    `json:"container"`
	ContainerID     string    `json:"container_id"`
	Image           string    `json:"image"`
	CurrentImageID  string    `json:"current_image_id"`
	LatestImageID   *string   `json:"latest_image_id"`
	UpdateAvailable bool      `json:"update_available"`
	LocallyBuilt    bool      `json:"locally_built"`
	Error           string    `json:"error,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Undetermined reports whether the check could not tell if an update exists
func (s UpdateStatus) Undetermined() bool {
	return s.Error != "" && s.LatestImageID == nil
}

// ImagePuller pulls an image and returns the ID the reference resolves to
type ImagePuller interface {
	Pull(ctx context.Context, ref string) (string, error)
}

// Detector checks containers for newer images
type Detector struct {
	images     ImagePuller
	classifier Classifier
	logger     *logrus.Logger
	now        func() time.Time
}

// NewDetector creates a new update detector. A nil classifier selects the
// HeuristicClassifier.
func NewDetector(images ImagePuller, classifier Classifier, logger *logrus.Logger) *Detector {
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	return &Detector{
		images:     images,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// IsLocallyBuilt classifies the image of a container, honouring the
// LabelLocalImage override.
func (d *Detector) IsLocallyBuilt(rec container.ContainerRecord) bool {
	switch rec.Label(LabelLocalImage) {
	case "true":
		return true
	case "false":
		return false
	}
	return d.classifier.IsLocallyBuilt(rec.Image)
}

// Check determines whether a newer image exists for a container. Pull
// failures result in an undetermined status, never in an error.
func (d *Detector) Check(ctx context.Context, rec container.ContainerRecord) UpdateStatus {
	status := UpdateStatus{
		Container:      rec.Name,
		ContainerID:    rec.ID,
		Image:          rec.Image,
		CurrentImageID: rec.ImageID,
		CheckedAt:      d.now().UTC(),
	}

	fields := logrus.Fields{
		"container": rec.Name,
		"image":     rec.Image,
	}

	if d.IsLocallyBuilt(rec) {
		status.LocallyBuilt = true
		current := rec.ImageID
		status.LatestImageID = &current
		d.logger.WithFields(fields).Debug("Yerel image, çekilmeden güncel sayılıyor")
		return status
	}

	latest, err := d.images.Pull(ctx, rec.Image)
	if err != nil {
		status.Error = err.Error()
		status.Reason = container.PullFailureReason(err)
		d.logger.WithFields(fields).WithError(err).WithField("reason", status.Reason).Warn("Güncelleme durumu belirlenemedi")
		return status
	}

	status.LatestImageID = &latest
	status.UpdateAvailable = latest != rec.ImageID

	d.logger.WithFields(fields).WithFields(logrus.Fields{
		"current_image_id": container.ShortID(rec.ImageID),
		"latest_image_id":  container.ShortID(latest),
		"update_available": status.UpdateAvailable,
	}).Debug("Image kontrol edildi")

	return status
}

// CheckAll checks every container of a snapshot in order
func (d *Detector) CheckAll(ctx context.Context, snapshot inventory.Snapshot) []UpdateStatus {
	statuses := make([]UpdateStatus, 0, len(snapshot.Containers))
	for _, rec := range snapshot.Containers {
		statuses = append(statuses, d.Check(ctx, rec))
	}
	return statuses
}
