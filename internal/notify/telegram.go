package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"
)

// DefaultTemplate is rendered with the {tenant}, {name}, {namespace}, {step}
// and {error} placeholders.
const DefaultTemplate = "[tenant-platform] Provisioning failed\nTenant: {tenant} ({name})\nNamespace: {namespace}\nStep: {step}\nError: {error}"

const DefaultTelegramAPI = "https://api.telegram.org"

// Event describes a provisioning run that was aborted.
type Event struct {
	TenantID   string
	TenantName string
	Namespace  string
	Step       string
	Err        error
}

// Notifier delivers operator-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Render fills template with the fields of e.
func Render(template string, e Event) string {
	errText := ""
	if e.Err != nil {
		errText = e.Err.Error()
	}
	return fasttemplate.ExecuteString(template, "{", "}", map[string]interface{}{
		"tenant":    e.TenantID,
		"name":      e.TenantName,
		"namespace": e.Namespace,
		"step":      e.Step,
		"error":     errText,
	})
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIBase  string
	Template string
	Timeout  time.Duration
}

// Telegram posts events to a chat through the Telegram bot API.
type Telegram struct {
	botToken string
	chatID   int64
	apiBase  string
	template string
	client   *http.Client
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram bot token or chat ID is not set")
	}

	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat ID: %w", err)
	}

	t := &Telegram{
		botToken: cfg.BotToken,
		chatID:   chatID,
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		template: cfg.Template,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	if t.apiBase == "" {
		t.apiBase = DefaultTelegramAPI
	}
	if t.template == "" {
		t.template = DefaultTemplate
	}
	if cfg.Timeout <= 0 {
		t.client.Timeout = 5 * time.Second
	}
	return t, nil
}

func (t *Telegram) Notify(ctx context.Context, e Event) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(t.chatID, 10))
	// No parse_mode: Telegram's Markdown parser rejects messages with []()<>.
	form.Set("text", Render(t.template, e))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build Telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Telegram notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("telegram API returned non-2xx: status=%s body=%s", resp.Status, string(body))
	}

	return nil
}
