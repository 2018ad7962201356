package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/detector"
	"dockwarden/pkg/inventory"
	"dockwarden/pkg/metrics"
	"dockwarden/pkg/notify"
	"dockwarden/pkg/recreate"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Actions taken for a container during a cycle
const (
	ActionCurrent  = "current"
	ActionLocal    = "local"
	ActionUnknown  = "undetermined"
	ActionNotified = "notified"
	ActionUpdated  = "updated"
	ActionSelf     = "self-update"
	ActionSkipped  = "skipped"
	ActionFailed   = "failed"
)

var (
	// ErrNotFound is returned for a manual update of an unknown container
	ErrNotFound = errors.New("container bulunamadı")
	// ErrNotEligible is returned for a manual update of a container that
	// carries no eligibility label or is not running
	ErrNotEligible = errors.New("container otomatik güncellemeye kayıtlı değil")
	// ErrHintMismatch is returned when a webhook names another repository
	ErrHintMismatch = errors.New("webhook deposu container image'ı ile uyuşmuyor")
)

// InventoryBuilder builds inventory snapshots
type InventoryBuilder interface {
	Build(ctx context.Context) (inventory.Snapshot, error)
}

// Inspector looks up single containers
type Inspector interface {
	Inspect(ctx context.Context, nameOrID string) (container.ContainerRecord, []byte, error)
}

// Checker determines the update status of a container
type Checker interface {
	Check(ctx context.Context, rec container.ContainerRecord) detector.UpdateStatus
}

// Recreator replaces a container with one running a newer image
type Recreator interface {
	Recreate(ctx context.Context, rec container.ContainerRecord, status detector.UpdateStatus) (recreate.Result, error)
}

// StatusStore persists the latest update statuses
type StatusStore interface {
	SaveStatus(v any) error
}

// Deps are the collaborators of a Scheduler
type Deps struct {
	Inventory InventoryBuilder
	Inspector Inspector
	Checker   Checker
	Recreator Recreator
	Notifier  notify.Notifier
	Store     StatusStore
	Metrics   *metrics.Metrics
}

// Options configures a Scheduler
type Options struct {
	Interval time.Duration
	// Schedule is an optional standard cron expression replacing Interval
	Schedule string
	// SelfID is the engine ID of the updater's own container; it is checked
	// last in every cycle when it carries an eligibility label
	SelfID    string
	Recipient string
}

// Hint carries the image a webhook announced
type Hint struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

// ContainerReport is the outcome for one container
type ContainerReport struct {
	Container string                `json:"container"`
	Action    string                `json:"action"`
	Status    detector.UpdateStatus `json:"status"`
	NewID     string                `json:"new_id,omitempty"`
	Error     string                `json:"error,omitempty"`
	Fatal     bool                  `json:"fatal,omitempty"`
}

// CycleReport summarises one cycle
type CycleReport struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Containers []ContainerReport `json:"containers"`
	Updated    int               `json:"updated"`
	Notified   int               `json:"notified"`
	Failed     int               `json:"failed"`
	Rebuilt    bool              `json:"rebuilt"`
	Error      string            `json:"error,omitempty"`
}

// State is what the scheduler persists and exposes after each cycle
type State struct {
	Statuses   map[string]detector.UpdateStatus `json:"statuses"`
	LastReport *CycleReport                     `json:"last_report,omitempty"`
}

// Scheduler runs update cycles sequentially and serves on-demand updates
type Scheduler struct {
	deps     Deps
	opts     Options
	schedule cron.Schedule
	wake     chan struct{}
	locks    *keyedMutex
	cycleMu  sync.Mutex
	logger   *logrus.Logger

	mutex    sync.RWMutex
	snapshot inventory.Snapshot
	statuses map[string]detector.UpdateStatus
	report   *CycleReport
}

// NewScheduler creates a new scheduler
func NewScheduler(deps Deps, opts Options, logger *logrus.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(logger)
	}

	s := &Scheduler{
		deps:     deps,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		locks:    newKeyedMutex(),
		logger:   logger,
		statuses: make(map[string]detector.UpdateStatus),
	}

	if opts.Schedule != "" {
		schedule, err := cron.ParseStandard(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("geçersiz zamanlama (%s): %w", opts.Schedule, err)
		}
		s.schedule = schedule
	}

	return s, nil
}

// RunNow wakes the loop from its sleep. Signals received while a cycle runs
// only shorten the following sleep; they never queue.
func (s *Scheduler) RunNow() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes cycles until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"interval": s.opts.Interval.String(),
		"schedule": s.opts.Schedule,
	}).Info("Güncelleme döngüsü başlatıldı")

	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.logger.WithError(err).Error("Güncelleme döngüsü başarısız")
		}

		wait := s.nextWait(time.Now())
		timer := time.NewTimer(wait)
		s.logger.WithField("next_in", wait.Round(time.Second).String()).Debug("Sonraki döngü bekleniyor")

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Güncelleme döngüsü durduruldu")
			return nil
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
			s.logger.Info("Anında çalıştırma isteği alındı")
		}
	}
}

func (s *Scheduler) nextWait(now time.Time) time.Duration {
	if s.schedule != nil {
		if d := s.schedule.Next(now).Sub(now); d > 0 {
			return d
		}
	}
	return s.opts.Interval
}

// RunCycle builds the inventory, checks every container and updates or
// announces the ones with newer images, one container at a time.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	report := CycleReport{StartedAt: time.Now().UTC()}

	snapshot, err := s.deps.Inventory.Build(ctx)
	if err != nil {
		report.FinishedAt = time.Now().UTC()
		report.Error = err.Error()
		s.finish(report, nil)
		return report, err
	}
	s.setSnapshot(snapshot)

	statuses := make(map[string]detector.UpdateStatus, len(snapshot.Containers))
	for _, rec := range snapshot.Containers {
		if ctx.Err() != nil {
			break
		}
		cr := s.process(ctx, rec)
		statuses[rec.Name] = cr.Status
		report.add(cr)
	}

	if report.Updated > 0 {
		rebuilt, err := s.deps.Inventory.Build(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Inventory yeniden oluşturulamadı")
		} else {
			s.setSnapshot(rebuilt)
			report.Rebuilt = true
		}
	}

	report.FinishedAt = time.Now().UTC()
	s.finish(report, statuses)
	s.deps.Metrics.RecordCycle(report.FinishedAt.Sub(report.StartedAt), len(snapshot.Containers), report.FinishedAt)

	s.logger.WithFields(logrus.Fields{
		"containers": len(snapshot.Containers),
		"updated":    report.Updated,
		"notified":   report.Notified,
		"failed":     report.Failed,
		"duration":   report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
	}).Info("Güncelleme döngüsü tamamlandı")

	// the own container goes last; its update ends this process
	s.checkSelf(ctx)

	return report, nil
}

func (s *Scheduler) checkSelf(ctx context.Context) {
	if s.opts.SelfID == "" || s.deps.Inspector == nil || ctx.Err() != nil {
		return
	}
	rec, _, err := s.deps.Inspector.Inspect(ctx, s.opts.SelfID)
	if err != nil || !inventory.IsEligible(rec.Labels) {
		return
	}
	cr := s.process(ctx, rec)
	s.recordStatus(rec.Name, cr.Status)
}

// UpdateContainer runs the update path for a single container on demand. The
// container must be running and carry an eligibility label.
func (s *Scheduler) UpdateContainer(ctx context.Context, name string, hint Hint) (ContainerReport, error) {
	if s.deps.Inspector == nil {
		return ContainerReport{}, errors.New("inspector tanımlı değil")
	}

	rec, _, err := s.deps.Inspector.Inspect(ctx, name)
	if err != nil {
		if container.IsNotFound(err) {
			return ContainerReport{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return ContainerReport{}, err
	}
	if !rec.Running() || !inventory.IsEligible(rec.Labels) {
		return ContainerReport{}, fmt.Errorf("%w: %s", ErrNotEligible, name)
	}
	if hint.Repository != "" && detector.Repository(hint.Repository) != detector.Repository(rec.Image) {
		return ContainerReport{}, fmt.Errorf("%w: %s != %s", ErrHintMismatch, hint.Repository, rec.Image)
	}

	s.logger.WithFields(logrus.Fields{
		"container":  rec.Name,
		"repository": hint.Repository,
		"tag":        hint.Tag,
	}).Info("Manuel güncelleme istendi")

	cr := s.process(ctx, rec)
	s.recordStatus(rec.Name, cr.Status)

	if cr.Action == ActionUpdated {
		if snapshot, err := s.deps.Inventory.Build(ctx); err != nil {
			s.logger.WithError(err).Warn("Inventory yeniden oluşturulamadı")
		} else {
			s.setSnapshot(snapshot)
		}
	}

	return cr, nil
}

// process checks one container and updates or announces it. Scheduled and
// on-demand runs for the same container never overlap.
func (s *Scheduler) process(ctx context.Context, rec container.ContainerRecord) ContainerReport {
	unlock := s.locks.Lock(rec.Name)
	defer unlock()

	status := s.deps.Checker.Check(ctx, rec)
	cr := ContainerReport{Container: rec.Name, Status: status}

	log := s.logger.WithFields(logrus.Fields{
		"container": rec.Name,
		"image":     rec.Image,
	})

	switch {
	case status.LocallyBuilt:
		cr.Action = ActionLocal
		s.deps.Metrics.RecordCheck("local")
		return cr
	case status.Undetermined():
		cr.Action = ActionUnknown
		cr.Error = status.Error
		s.deps.Metrics.RecordCheck("failed")
		return cr
	case !status.UpdateAvailable:
		cr.Action = ActionCurrent
		s.deps.Metrics.RecordCheck("current")
		return cr
	}
	s.deps.Metrics.RecordCheck("updated")

	if recreate.NotifyOnly(rec) {
		cr.Action = ActionNotified
		n := notify.Notification{
			Event:            notify.EventUpdateAvailable,
			Container:        rec.Name,
			ContainerID:      rec.ID,
			CurrentImage:     rec.Image,
			CandidateImage:   rec.Image,
			CurrentImageID:   rec.ImageID,
			CandidateImageID: *status.LatestImageID,
			Recipient:        s.opts.Recipient,
			Timestamp:        time.Now().UTC(),
		}
		if err := s.deps.Notifier.Notify(ctx, n); err != nil {
			log.WithError(err).Warn("Bildirim gönderilemedi")
			cr.Error = err.Error()
			s.deps.Metrics.RecordNotification("failed")
		} else {
			s.deps.Metrics.RecordNotification("sent")
		}
		return cr
	}

	result, err := s.deps.Recreator.Recreate(ctx, rec, status)
	switch {
	case err == nil && result.SelfUpdate:
		cr.Action = ActionSelf
		s.deps.Metrics.RecordUpdate("self")
	case err == nil:
		cr.Action = ActionUpdated
		cr.NewID = result.NewID
		s.deps.Metrics.RecordUpdate("success")
	case errors.Is(err, recreate.ErrNotEligible):
		cr.Action = ActionSkipped
		cr.Error = err.Error()
		log.WithError(err).Info("Güncelleme atlandı")
		s.deps.Metrics.RecordUpdate("skipped")
	default:
		cr.Action = ActionFailed
		cr.Error = err.Error()
		cr.Fatal = recreate.IsFatal(err)
		if cr.Fatal {
			s.deps.Metrics.RecordUpdate("fatal")
		} else {
			s.deps.Metrics.RecordUpdate("failed")
		}
	}
	return cr
}

func (r *CycleReport) add(cr ContainerReport) {
	r.Containers = append(r.Containers, cr)
	switch cr.Action {
	case ActionUpdated, ActionSelf:
		r.Updated++
	case ActionNotified:
		r.Notified++
	case ActionFailed:
		r.Failed++
	}
}

func (s *Scheduler) setSnapshot(snapshot inventory.Snapshot) {
	s.mutex.Lock()
	s.snapshot = snapshot
	s.mutex.Unlock()
}

func (s *Scheduler) recordStatus(name string, status detector.UpdateStatus) {
	s.mutex.Lock()
	s.statuses[name] = status
	state := s.stateLocked()
	s.mutex.Unlock()
	s.persist(state)
}

// finish replaces the statuses with those of a completed cycle; statuses
// are never merged across cycles
func (s *Scheduler) finish(report CycleReport, statuses map[string]detector.UpdateStatus) {
	s.mutex.Lock()
	if statuses != nil {
		s.statuses = statuses
	}
	s.report = &report
	state := s.stateLocked()
	s.mutex.Unlock()
	s.persist(state)
}

func (s *Scheduler) stateLocked() State {
	statuses := make(map[string]detector.UpdateStatus, len(s.statuses))
	for k, v := range s.statuses {
		statuses[k] = v
	}
	return State{Statuses: statuses, LastReport: s.report}
}

func (s *Scheduler) persist(state State) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SaveStatus(state); err != nil {
		s.logger.WithError(err).Warn("Durum dosyası kaydedilemedi")
	}
}

// Snapshot returns the most recent inventory snapshot
func (s *Scheduler) Snapshot() inventory.Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.snapshot
}

// State returns the latest statuses and cycle report
func (s *Scheduler) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.stateLocked()
}

// Status returns the latest status of a container
func (s *Scheduler) Status(name string) (detector.UpdateStatus, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	status, ok := s.statuses[name]
	return status, ok
}
