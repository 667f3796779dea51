package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetalert/internal/config"
	"fleetalert/internal/domain"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// ChannelSender sends one outbound notification to one channel.
// Params: context and notification payload.
// Returns: transport error when send fails.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, notification domain.Notification) error
}

// Dispatcher delivers lifecycle notifications with per-channel retries.
// Params: sender list and retry policies.
// Returns: send helper for the manager layer.
type Dispatcher struct {
	senders []ChannelSender
	retries map[string]config.NotifyRetry
	logger  *slog.Logger
}

// NewDispatcher builds a notification dispatcher from enabled channels.
// Params: notify config and logger.
// Returns: configured dispatcher; has no senders when all channels are off.
func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger) *Dispatcher {
	dispatcher := &Dispatcher{
		retries: make(map[string]config.NotifyRetry),
		logger:  logger,
	}
	if cfg.Telegram.Enabled {
		sender := NewTelegramSender(cfg.Telegram)
		dispatcher.senders = append(dispatcher.senders, sender)
		dispatcher.retries[sender.Channel()] = cfg.Telegram.Retry
	}
	if cfg.Webhook.Enabled {
		sender := NewWebhookSender(cfg.Webhook)
		dispatcher.senders = append(dispatcher.senders, sender)
		dispatcher.retries[sender.Channel()] = cfg.Webhook.Retry
	}
	return dispatcher
}

// Channels returns configured channel names in sender order.
// Params: none.
// Returns: channel keys.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.senders))
	for _, sender := range d.senders {
		out = append(out, sender.Channel())
	}
	return out
}

// Notify sends one notification to every configured channel.
// Params: context and notification payload.
// Returns: joined error over failed channels; nil when all succeed.
func (d *Dispatcher) Notify(ctx context.Context, notification domain.Notification) error {
	if notification.Message == "" {
		notification.Message = FormatMessage(notification)
	}

	var errs []error
	for _, sender := range d.senders {
		if err := d.sendWithRetry(ctx, sender, notification, d.retries[sender.Channel()]); err != nil {
			if d.logger != nil {
				d.logger.Error("notification delivery failed",
					"channel", sender.Channel(),
					"alert_id", notification.AlertID,
					"event", string(notification.Event),
					"error", err.Error())
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendWithRetry sends one notification with channel-specific retry policy.
// Params: sender, payload, and retry policy for the sender channel.
// Returns: final error after retries are exhausted.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, notification domain.Notification, retry config.NotifyRetry) error {
	if !retry.Enabled {
		return sender.Send(ctx, notification)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	for {
		attempt++
		err := sender.Send(ctx, notification)
		if err == nil {
			stopTimer()
			if attempt > 1 && d.logger != nil {
				d.logger.Info("notification send recovered after retries", "channel", sender.Channel(), "attempt", attempt)
			}
			return nil
		}
		if d.logger != nil {
			d.logger.Warn("notification send attempt failed", "channel", sender.Channel(), "attempt", attempt, "error", err.Error())
		}

		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			stopTimer()
			return fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			stopTimer()
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			stopTimer()
			return ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// FormatMessage renders the default human-readable notification text.
// Params: notification payload.
// Returns: one-line summary for chat channels.
func FormatMessage(notification domain.Notification) string {
	var builder strings.Builder
	switch notification.Event {
	case domain.EventEscalated:
		builder.WriteString("Alert escalated")
	case domain.EventAutoClosed:
		builder.WriteString("Alert auto-closed")
	case domain.EventResolved:
		builder.WriteString("Alert resolved")
	default:
		builder.WriteString("Alert created")
	}
	builder.WriteString(": ")
	builder.WriteString(string(notification.AlertType))
	builder.WriteString(" [")
	builder.WriteString(string(notification.Severity))
	builder.WriteString("] alert ")
	builder.WriteString(notification.AlertID)
	if notification.DriverID != "" {
		builder.WriteString(" driver=")
		builder.WriteString(notification.DriverID)
	}
	if notification.VehicleID != "" {
		builder.WriteString(" vehicle=")
		builder.WriteString(notification.VehicleID)
	}
	if notification.Reason != "" {
		builder.WriteString(": ")
		builder.WriteString(notification.Reason)
	}
	return builder.String()
}

// TelegramSender sends notifications to the Telegram Bot API.
// Params: bot token, chat id, and base URL.
// Returns: Telegram channel sender.
type TelegramSender struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSender creates a Telegram sender with an HTTP client.
// Params: Telegram notifier config.
// Returns: initialized sender.
func NewTelegramSender(cfg config.TelegramNotifier) *TelegramSender {
	sender := &TelegramSender{
		chatID: normalizeChatID(cfg.ChatID),
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = errors.New("telegram bot token is required")
		return sender
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sender.initErr = errors.New("telegram chat_id is required")
		return sender
	}

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
	}
	if strings.TrimSpace(cfg.APIBase) != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")))
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sender
	}
	sender.client = botClient
	return sender
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *TelegramSender) Channel() string {
	return "telegram"
}

// Send posts one notification message to the Telegram chat.
// Params: context and notification payload.
// Returns: transport or HTTP error.
func (s *TelegramSender) Send(ctx context.Context, notification domain.Notification) error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.client == nil {
		return errors.New("telegram client is not initialized")
	}

	request := &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      notification.Message,
		ParseMode: tgmodels.ParseModeHTML,
	}
	sent, err := s.client.SendMessage(ctx, request)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// WebhookSender posts the notification payload to a configured HTTP endpoint.
// Params: endpoint URL, method, timeout, and headers.
// Returns: generic HTTP sender.
type WebhookSender struct {
	cfg    config.WebhookNotifier
	client *http.Client
}

// NewWebhookSender creates a generic HTTP sender.
// Params: webhook notifier config.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookNotifier) *WebhookSender {
	return &WebhookSender{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *WebhookSender) Channel() string {
	return "webhook"
}

// Send delivers the JSON payload to the configured HTTP endpoint.
// Params: context and notification payload.
// Returns: transport or HTTP error.
func (s *WebhookSender) Send(ctx context.Context, notification domain.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("webhook", response)
	}
	return nil
}

// unexpectedHTTPStatusError formats a non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
