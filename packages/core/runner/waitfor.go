package runner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// WaitConfig describes a readiness probe run before comparing.
type WaitConfig struct {
	URL string
	// Status is the expected status code; 0 accepts any response below 500.
	Status   int
	Timeout  time.Duration
	Interval time.Duration
}

// WaitForService polls cfg.URL until it answers as expected or the
// timeout passes.
func WaitForService(ctx context.Context, cfg WaitConfig, logger *log.Logger) error {
	if cfg.URL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	logger.Infof("waiting for %s (timeout: %v, interval: %v)", cfg.URL, cfg.Timeout, cfg.Interval)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client := &http.Client{
		Timeout: 5 * time.Second, // Per-request timeout
	}

	var lastErr error
	var lastStatus int

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
		if err != nil {
			return fmt.Errorf("invalid wait-for URL: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastStatus = resp.StatusCode
			resp.Body.Close()
			if ready(cfg.Status, resp.StatusCode) {
				logger.Infof("service %s is ready (status: %d)", cfg.URL, resp.StatusCode)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("service %s not ready after %v: %v", cfg.URL, cfg.Timeout, lastErr)
			}
			return fmt.Errorf("service %s not ready after %v: got status %d", cfg.URL, cfg.Timeout, lastStatus)
		case <-time.After(cfg.Interval):
		}
	}
}

func ready(expected, got int) bool {
	if expected == 0 {
		return got > 0 && got < 500
	}
	return got == expected
}
