package selfupdate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dockwarden/pkg/storage"

	"github.com/google/uuid"
)

const handoffFile = "handoff.json"

// Handoff marks the replacement of the own container as owned by the deferred
// restart worker. While it is fresh no other component restarts the updater.
type Handoff struct {
	Generation string    `json:"generation"`
	Target     string    `json:"target"`
	Image      string    `json:"image"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Fresh reports whether the handoff is still owned by its worker at now
func (h Handoff) Fresh(now time.Time) bool {
	return h.Generation != "" && now.Before(h.ExpiresAt)
}

// HandoffStore keeps the handoff marker in the data directory
type HandoffStore struct {
	path  string
	mutex sync.Mutex
	now   func() time.Time
}

// NewHandoffStore creates a handoff store below dataDir
func NewHandoffStore(dataDir string) *HandoffStore {
	return &HandoffStore{
		path: filepath.Join(dataDir, handoffFile),
		now:  time.Now,
	}
}

// Begin writes a new handoff generation valid for ttl
func (s *HandoffStore) Begin(target, image string, ttl time.Duration) (Handoff, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now().UTC()
	h := Handoff{
		Generation: uuid.NewString(),
		Target:     target,
		Image:      image,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return Handoff{}, err
	}
	if err := storage.WriteFileAtomic(s.path, data); err != nil {
		return Handoff{}, fmt.Errorf("handoff yazılamadı: %w", err)
	}
	return h, nil
}

// Current returns the stored handoff, if any
func (s *HandoffStore) Current() (Handoff, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Handoff{}, false
	}
	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return Handoff{}, false
	}
	return h, true
}

// Active returns the stored handoff if it has not expired yet
func (s *HandoffStore) Active() (Handoff, bool) {
	h, ok := s.Current()
	if !ok || !h.Fresh(s.now()) {
		return Handoff{}, false
	}
	return h, true
}

// Clear removes the marker of generation. A marker of another generation is
// left alone; an empty generation clears any marker.
func (s *HandoffStore) Clear(generation string) error {
	if generation != "" {
		if h, ok := s.Current(); ok && h.Generation != generation {
			return nil
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("handoff silinemedi: %w", err)
	}
	return nil
}
