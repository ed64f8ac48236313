package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// TelegramSender delivers notifications through the Bot API sendMessage call.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a TelegramSender for token and chatID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return newTelegramSender("https://api.telegram.org", token, chatID)
}

func newTelegramSender(baseURL, token, chatID string) *TelegramSender {
	return &TelegramSender{
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts title in bold followed by message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, t.client, t.endpoint, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
