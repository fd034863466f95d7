package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tgqqbridge/internal/constants"
	apperrors "tgqqbridge/internal/errors"
	"tgqqbridge/internal/models"
	"tgqqbridge/internal/privacy"

	"github.com/sirupsen/logrus"
)

const longPollTimeoutSec = 30

// Client talks to the Telegram Bot API over HTTPS. It implements the
// platform adapter contract: outbound sends plus a long-polled inbound
// event stream.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logrus.Logger
	events  chan models.Event
	offset  int64
}

func NewClient(cfg models.TelegramConfig, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		// Long polling holds the connection open for longPollTimeoutSec.
		httpClient = &http.Client{Timeout: (longPollTimeoutSec + 15) * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Client{
		baseURL: fmt.Sprintf("%s/bot%s", baseURL, cfg.BotToken),
		token:   cfg.BotToken,
		client:  httpClient,
		logger:  logger,
		events:  make(chan models.Event, 64),
	}
}

func (c *Client) Platform() models.Platform {
	return models.PlatformTelegram
}

// Events yields inbound messages and edits. Closed when StartPolling returns.
func (c *Client) Events() <-chan models.Event {
	return c.events
}

// Send posts a text message and returns the assigned message id.
func (c *Client) Send(ctx context.Context, chatID, text string) (string, error) {
	var sent APIMessage
	err := c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text}, &sent)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// Delete removes a previously sent message. The Bot API only allows this
// within 48 hours of posting.
func (c *Client) Delete(ctx context.Context, chatID, destID string) error {
	messageID, err := strconv.ParseInt(destID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", destID, err)
	}
	return c.call(ctx, "deleteMessage", deleteMessageRequest{ChatID: chatID, MessageID: messageID}, nil)
}

// StartPolling runs the getUpdates loop until the context is cancelled.
// Poll failures are logged and retried after a reconnect delay.
func (c *Client) StartPolling(ctx context.Context) {
	defer close(c.events)

	c.logger.Info("Starting Telegram update polling")

	for {
		if ctx.Err() != nil {
			c.logger.Info("Telegram polling stopped")
			return
		}

		updates, err := c.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Telegram polling stopped")
				return
			}
			c.logger.WithError(err).Error("Failed to poll Telegram updates")
			select {
			case <-ctx.Done():
				return
			case <-time.After(constants.DefaultGatewayReconnectSec * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= c.offset {
				c.offset = update.UpdateID + 1
			}
			event := toEvent(update)
			if event == nil {
				continue
			}
			select {
			case c.events <- *event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) getUpdates(ctx context.Context) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         c.offset,
		Timeout:        longPollTimeoutSec,
		AllowedUpdates: []string{"message", "edited_message"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call posts one Bot API method and decodes its envelope. API-level
// failures are classified by error_code so the caller can tell transient
// from permanent.
func (c *Client) call(ctx context.Context, method string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/%s", c.baseURL, method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport errors embed the request URL, which carries the token.
		return apperrors.WrapRetryable(privacy.RedactError(err, c.token),
			apperrors.ErrCodeNetwork, fmt.Sprintf("telegram %s request failed", method))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeNetwork, fmt.Sprintf("failed to read %s response", method))
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if !envelope.OK {
		status := envelope.ErrorCode
		if status == 0 {
			status = resp.StatusCode
		}
		appErr := apperrors.FromHTTPStatus(apperrors.ErrCodeTelegramAPI, status,
			fmt.Errorf("telegram %s: %s", method, envelope.Description))
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			appErr = appErr.WithContext("retry_after", envelope.Parameters.RetryAfter)
		}
		return appErr
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func toEvent(update Update) *models.Event {
	switch {
	case update.Message != nil:
		msg := normalize(update.Message)
		return &models.Event{
			Type:     models.EventMessage,
			Message:  msg,
			Platform: models.PlatformTelegram,
			ChatID:   msg.ChatID,
		}
	case update.EditedMessage != nil:
		msg := normalize(update.EditedMessage)
		return &models.Event{
			Type:     models.EventEdit,
			Message:  msg,
			Platform: models.PlatformTelegram,
			ChatID:   msg.ChatID,
		}
	default:
		return nil
	}
}

// normalize converts a Bot API message into the platform-agnostic form.
// Media messages keep their caption as the body.
func normalize(m *APIMessage) *models.Message {
	msg := &models.Message{
		ID:        strconv.FormatInt(m.MessageID, 10),
		Platform:  models.PlatformTelegram,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Sender:    displayName(m.From),
		Body:      m.Text,
		Kind:      models.KindText,
		Timestamp: time.Unix(m.Date, 0),
	}

	switch {
	case len(m.Photo) > 0:
		msg.Kind = models.KindPhoto
		msg.Body = m.Caption
	case m.Video != nil:
		msg.Kind = models.KindVideo
		msg.Body = m.Caption
	case m.Voice != nil:
		msg.Kind = models.KindVoice
		msg.Body = m.Caption
	case m.Audio != nil:
		msg.Kind = models.KindAudio
		msg.Body = m.Caption
	case m.Document != nil:
		msg.Kind = models.KindDocument
		msg.Body = m.Caption
	}

	if m.ReplyToMessage != nil {
		msg.ReplyTo = &models.MessageRef{
			Platform: models.PlatformTelegram,
			ID:       strconv.FormatInt(m.ReplyToMessage.MessageID, 10),
			Sender:   displayName(m.ReplyToMessage.From),
		}
	}

	return msg
}

func displayName(u *User) string {
	if u == nil {
		return "unknown"
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return name
}
