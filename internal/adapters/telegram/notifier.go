// Package telegram sends fire-and-forget notifications through the Telegram
// Bot API. Failures are logged and never abort a trading action.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quadbot/internal/ports"
)

const (
	apiBase        = "https://api.telegram.org"
	requestTimeout = 10 * time.Second
)

// Notifier implements ports.Notifier over the Telegram sendMessage endpoint.
// A Notifier with an empty token is a silent no-op, so the bot can run
// without Telegram configured.
type Notifier struct {
	token  string
	chatID string
	client *http.Client
	logger ports.Logger
}

// New creates a Telegram notifier. Token and chat ID may be empty to disable
// notifications entirely.
func New(token, chatID string, logger ports.Logger) *Notifier {
	return &Notifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

func (n *Notifier) enabled() bool {
	return n.token != "" && n.chatID != ""
}

func (n *Notifier) send(ctx context.Context, text string) {
	if !n.enabled() {
		return
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", apiBase, n.token)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		n.logger.Warn(ctx, "telegram request build failed", map[string]interface{}{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn(ctx, "telegram send failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.logger.Warn(ctx, "telegram send rejected", map[string]interface{}{
			"status": resp.StatusCode, "body": string(body),
		})
	}
}

// Notify sends a plain event message.
func (n *Notifier) Notify(ctx context.Context, text string) {
	n.send(ctx, text)
}

// NotifyEntry reports a position entry or add-on.
func (n *Notifier) NotifyEntry(ctx context.Context, text string) {
	n.send(ctx, "[ENTRY] "+text)
}

// NotifyExit reports a position close.
func (n *Notifier) NotifyExit(ctx context.Context, text string) {
	n.send(ctx, "[EXIT] "+text)
}

// NotifyWarning reports a non-fatal problem.
func (n *Notifier) NotifyWarning(ctx context.Context, text string) {
	n.send(ctx, "[WARN] "+text)
}
