package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTelegramAPIURL is the Telegram Bot API base.
const DefaultTelegramAPIURL = "https://api.telegram.org"

// TelegramBot sends messages through the Telegram Bot API.
type TelegramBot struct {
	log      zerolog.Logger
	client   *http.Client
	apiURL   string
	botToken string
	chatID   string
}

// NewTelegramBot creates a Telegram transport. An empty apiURL falls back to
// DefaultTelegramAPIURL.
func NewTelegramBot(log zerolog.Logger, apiURL, botToken, chatID string) *TelegramBot {
	if apiURL == "" {
		apiURL = DefaultTelegramAPIURL
	}
	return &TelegramBot{
		log:      log.With().Str("component", "telegram").Logger(),
		client:   &http.Client{Timeout: 10 * time.Second},
		apiURL:   apiURL,
		botToken: botToken,
		chatID:   chatID,
	}
}

// SendTelegram implements TelegramTransport.
func (t *TelegramBot) SendTelegram(ctx context.Context, text string) bool {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to marshal telegram payload")
		return false
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.log.Error().Err(err).Msg("failed to create telegram request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Error().Err(err).Msg("telegram request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		t.log.Error().Int("status", resp.StatusCode).Msg("telegram API error")
		return false
	}
	return true
}
