// Package notify delivers update notifications for containers that only want
// to be told about new images.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// EventUpdateAvailable is emitted for notify-only containers with a newer image
const EventUpdateAvailable = "update-available"

// Notification is the payload handed to the delivery transport
type Notification struct {
	Event            string    `json:"event"`
	Container        string    `json:"container"`
	ContainerID      string    `json:"container_id"`
	CurrentImage     string    `json:"current_image"`
	CandidateImage   string    `json:"candidate_image"`
	CurrentImageID   string    `json:"current_image_id"`
	CandidateImageID string    `json:"candidate_image_id"`
	Recipient        string    `json:"recipient,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a notifier that logs every notification
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.WithFields(logrus.Fields{
		"event":              n.Event,
		"container":          n.Container,
		"current_image":      n.CurrentImage,
		"candidate_image":    n.CandidateImage,
		"candidate_image_id": n.CandidateImageID,
		"recipient":          n.Recipient,
	}).Info("Yeni image mevcut")
	return nil
}

// WebhookOptions configures a WebhookNotifier
type WebhookOptions struct {
	URL        string
	Timeout    time.Duration
	MaxElapsed time.Duration
	Client     *http.Client
	NewBackOff func() backoff.BackOff
}

// WebhookNotifier posts notifications as JSON, retrying transient failures
type WebhookNotifier struct {
	url        string
	client     *http.Client
	newBackOff func() backoff.BackOff
	logger     *logrus.Logger
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(opts WebhookOptions, logger *logrus.Logger) (*WebhookNotifier, error) {
	if opts.URL == "" {
		return nil, errors.New("webhook URL boş olamaz")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = time.Minute
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.NewBackOff == nil {
		maxElapsed := opts.MaxElapsed
		opts.NewBackOff = func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(500*time.Millisecond),
				backoff.WithMaxInterval(10*time.Second),
				backoff.WithMaxElapsedTime(maxElapsed),
			)
		}
	}
	return &WebhookNotifier{
		url:        opts.URL,
		client:     opts.Client,
		newBackOff: opts.NewBackOff,
		logger:     logger,
	}, nil
}

// Notify implements Notifier
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook yanıtı: %s", resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("webhook yanıtı: %s", resp.Status))
		}
	}

	notifyErr := func(err error, next time.Duration) {
		w.logger.WithError(err).WithField("retry_in", next.String()).Debug("Bildirim gönderilemedi, tekrar denenecek")
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(w.newBackOff(), ctx), notifyErr); err != nil {
		return fmt.Errorf("bildirim gönderilemedi: %w", err)
	}

	w.logger.WithField("container", n.Container).Debug("Bildirim gönderildi")
	return nil
}

// Multi fans a notification out to several notifiers. Every notifier is
// called; the errors are joined.
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification
type Discard struct{}

// Notify implements Notifier
func (Discard) Notify(context.Context, Notification) error { return nil }

// Options selects and configures the notification transport
type Options struct {
	Enabled   bool
	Transport string
	URL       string
	Recipient string
}

// New builds the notifier for opts. Notifications are always logged; the
// webhook transport additionally posts them. Email delivery is handled
// outside the updater, so the email transport only logs.
func New(opts Options, logger *logrus.Logger) (Notifier, error) {
	if !opts.Enabled {
		return Discard{}, nil
	}

	log := NewLogNotifier(logger)
	switch opts.Transport {
	case "", "log":
		return log, nil
	case "webhook":
		wh, err := NewWebhookNotifier(WebhookOptions{URL: opts.URL}, logger)
		if err != nil {
			return nil, err
		}
		return Multi{log, wh}, nil
	case "email":
		logger.WithField("recipient", opts.Recipient).Warn("E-posta gönderimi harici bileşene ait, bildirimler sadece loglanacak")
		return log, nil
	default:
		return nil, fmt.Errorf("bilinmeyen bildirim yöntemi: %s", opts.Transport)
	}
}
