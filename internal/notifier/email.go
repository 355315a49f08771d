package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultEmailAPIURL is the Resend-compatible send endpoint.
const DefaultEmailAPIURL = "https://api.resend.com/emails"

// EmailAPI sends mail through a Resend-style HTTP API.
type EmailAPI struct {
	log    zerolog.Logger
	client *http.Client
	apiURL string
	apiKey string
	from   string
}

// NewEmailAPI creates an email transport. An empty apiURL falls back to
// DefaultEmailAPIURL.
func NewEmailAPI(log zerolog.Logger, apiURL, apiKey, from string) *EmailAPI {
	if apiURL == "" {
		apiURL = DefaultEmailAPIURL
	}
	return &EmailAPI{
		log:    log.With().Str("component", "email").Logger(),
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
	}
}

// SendEmail implements EmailTransport.
func (e *EmailAPI) SendEmail(ctx context.Context, to, subject, htmlBody string) bool {
	payload := map[string]string{
		"from":    e.from,
		"to":      to,
		"subject": subject,
		"html":    htmlBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to marshal email payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(body))
	if err != nil {
		e.log.Error().Err(err).Msg("failed to create email request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Error().Err(err).Msg("email request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		e.log.Error().Int("status", resp.StatusCode).Msg("email API error")
		return false
	}
	return true
}
