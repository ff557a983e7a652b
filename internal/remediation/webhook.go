// Package remediation notifies the external remediation workflow when a
// change fails the IPE pre-check. The trigger is fire-and-forget from the
// pipeline's point of view: delivery is retried in the background and a final
// failure is logged, not surfaced.
package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"changegate/internal/domain"
)

// Trigger surfaces IPE failures to the remediation workflow.
type Trigger interface {
	Trigger(ctx context.Context, id domain.ChangeID, details map[string]string)
}

// Webhook posts IPE failure payloads to the remediation workflow endpoint.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type payload struct {
	ChangeID string            `json:"change_id"`
	Kind     string            `json:"kind"`
	Details  map[string]string `json:"details,omitempty"`
}

// Trigger delivers asynchronously with exponential backoff. The calling
// pipeline run is never blocked or failed by delivery problems.
func (w *Webhook) Trigger(ctx context.Context, id domain.ChangeID, details map[string]string) {
	body, err := json.Marshal(payload{
		ChangeID: string(id),
		Kind:     "ipe_failed",
		Details:  details,
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "marshal remediation payload", "change_id", id, "error", err)
		return
	}

	go func() {
		// Detach from the run's context; a cancelled batch should not
		// swallow an already-owed notification.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		err := backoff.Retry(func() error {
			return w.post(ctx, body)
		}, policy)
		if err != nil {
			w.logger.ErrorContext(ctx, "remediation trigger delivery failed",
				"change_id", id,
				"error", err,
			)
		}
	}()
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("remediation endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("remediation endpoint rejected payload: %d", resp.StatusCode))
	}
	return nil
}

// Noop is used when no remediation endpoint is configured.
type Noop struct{}

func (Noop) Trigger(context.Context, domain.ChangeID, map[string]string) {}
