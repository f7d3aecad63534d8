package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPIURL is the Telegram Bot API base.
const DefaultTelegramAPIURL = "https://api.telegram.org"

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIURL   string // defaults to DefaultTelegramAPIURL
	Timeout  time.Duration
}

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg    TelegramConfig
	client *http.Client
	now    func() time.Time
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultTelegramAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return &TelegramAlerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

// telegramMessage represents the Telegram API message format.
type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// telegramResponse represents the Telegram API response.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return t.send(ctx, t.formatMessage(severity, message, fields...))
}

// SendSummary sends a formatted run summary.
func (t *TelegramAlerter) SendSummary(ctx context.Context, s RunSummary) error {
	return t.send(ctx, "<b>Run Summary</b>\n"+html.EscapeString(FormatFields(s.Fields()...)))
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(respBody, &telegramResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	return nil
}

// formatMessage renders an alert as Telegram HTML. The event tag, when
// present, is lifted into the header.
func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>[%s]</b>", severity.Emoji(), severity.String())
	if event, ok := eventOf(fields); ok {
		fmt.Fprintf(&sb, " <code>%s</code>", html.EscapeString(string(event)))
		fields = fields[2:]
	}
	sb.WriteString("\n")
	sb.WriteString(html.EscapeString(message))

	if details := FormatFields(fields...); details != "" {
		sb.WriteString("\n\n<b>Details:</b>\n")
		sb.WriteString(html.EscapeString(details))
	}

	fmt.Fprintf(&sb, "\n\n<i>%s</i>", t.now().Format("2006-01-02 15:04:05 MST"))
	return sb.String()
}
