// Package webhook posts outbound notifications. Both webhooks are best
// effort: failures are logged by callers and never block or fail the
// owning operation.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// requestTimeout bounds every webhook POST; a hung endpoint must not
// stall message processing.
const requestTimeout = 10 * time.Second

// Notifier sends completion and expiration webhooks. An empty URL
// disables the corresponding notification; that is logged once at
// construction time.
type Notifier struct {
	client        *http.Client
	completionURL string
	expirationURL string
}

// NewNotifier builds a Notifier for the configured URLs.
func NewNotifier(completionURL, expirationURL string) *Notifier {
	if completionURL == "" {
		log.Warn().Msg("completion webhook URL not set; completion notifications disabled")
	}
	if expirationURL == "" {
		log.Warn().Msg("expiration webhook URL not set; expiration notifications disabled")
	}
	return &Notifier{
		client:        &http.Client{Timeout: requestTimeout},
		completionURL: completionURL,
		expirationURL: expirationURL,
	}
}

// CompletionEnabled reports whether a completion URL is configured.
func (n *Notifier) CompletionEnabled() bool { return n.completionURL != "" }

// ExpirationEnabled reports whether an expiration URL is configured.
func (n *Notifier) ExpirationEnabled() bool { return n.expirationURL != "" }

// SendCompletion notifies that every field of a form was uploaded.
func (n *Notifier) SendCompletion(ctx context.Context, formURL string) error {
	return n.post(ctx, n.completionURL, map[string]string{"formURL": formURL})
}

// SendExpiration notifies that an upload-free form expired and was
// deleted.
func (n *Notifier) SendExpiration(ctx context.Context, ownerID, subID string) error {
	return n.post(ctx, n.expirationURL, map[string]string{"ownerId": ownerID, "subId": subID})
}

func (n *Notifier) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook %s returned %s", url, resp.Status)
	}
	return nil
}
