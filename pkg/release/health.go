package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// HealthChecker decides whether a deployment is healthy
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HTTPHealthCheck polls a liveness URL. Any 2xx response is healthy.
type HTTPHealthCheck struct {
	URL      string
	Attempts int
	Interval time.Duration
	Client   *http.Client
	Logger   *logrus.Logger
}

// Check implements HealthChecker. It gives up after Attempts requests.
func (h HTTPHealthCheck) Check(ctx context.Context) error {
	if h.URL == "" {
		return errors.New("sağlık kontrolü adresi tanımlı değil")
	}
	attempts := h.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	try := 0
	attempt := func() error {
		try++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("sağlık kontrolü yanıtı: %s", resp.Status)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(h.Interval), uint64(attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(attempt, policy, func(err error, _ time.Duration) {
		if h.Logger != nil {
			h.Logger.WithError(err).WithFields(logrus.Fields{
				"attempt":  try,
				"attempts": attempts,
			}).Debug("Sağlık kontrolü başarısız")
		}
	})
	if err != nil {
		return fmt.Errorf("%d denemede sağlıklı yanıt alınamadı: %w", try, err)
	}
	return nil
}
