package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const telegramAPI = "https://api.telegram.org"

var ErrNotConfigured = errors.New("telegram not configured")

// Telegram posts alert text to one chat through the Bot API. It satisfies
// Sender.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewTelegram returns a sender for chatID. A nil client gets a 10s timeout.
func NewTelegram(token, chatID string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Telegram{token: token, chatID: chatID, apiBase: telegramAPI, client: client}
}

func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, msg string) error {
	if !t.Enabled() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: msg, DisableWebPagePreview: true})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.client.Do(req)
	if err != nil {
		// the URL carries the token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram sendMessage: %w", uerr.Err)
		}
		return err
	}
	defer res.Body.Close()

	var br botResponse
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if jerr := json.Unmarshal(raw, &br); jerr != nil {
		br.Description = string(raw)
	}
	if res.StatusCode >= 300 || !br.OK {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, br.Description)
	}
	return nil
}
