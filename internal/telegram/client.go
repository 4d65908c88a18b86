// Package telegram is the chat transport: it delivers operator messages and
// feeds inbound updates to a handler.
package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// API is the subset of *tgbotapi.BotAPI the client uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler consumes inbound text messages.
type Handler interface {
	HandleMessage(ctx context.Context, chatID int64, text string)
}

// Config tunes polling.
type Config struct {
	ChatID             int64
	PollTimeoutSeconds int
	Workers            int
}

// Client wraps the Bot API.
type Client struct {
	api    API
	cfg    Config
	logger *zap.Logger
}

// New authenticates with token and returns a client bound to cfg.ChatID.
func New(token string, cfg Config, logger *zap.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	c := NewWithAPI(api, cfg, logger)
	c.logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return c, nil
}

// NewWithAPI builds a client over an existing API implementation.
func NewWithAPI(api API, cfg Config, logger *zap.Logger) *Client {
	if cfg.PollTimeoutSeconds <= 0 {
		cfg.PollTimeoutSeconds = 30
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// Send delivers text to the operator chat.
func (c *Client) Send(ctx context.Context, text string) error {
	_, err := c.Reply(ctx, c.cfg.ChatID, text)
	return err
}

// Reply posts text to chatID and returns the new message id.
func (c *Client) Reply(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text of a message the bot sent earlier.
func (c *Client) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.DisableWebPagePreview = true
	if _, err := c.api.Send(edit); err != nil {
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}
	return nil
}

// busyReply answers the operator when every command worker is occupied.
const busyReply = "⏳ Still working on earlier commands, try again in a moment."

// Run long-polls for updates and dispatches each message to h on a bounded
// worker pool until ctx is done. Pending updates from before startup are
// dropped. The update loop never waits for a worker: when the pool is full
// the message is answered with a busy reply instead.
func (c *Client) Run(ctx context.Context, h Handler) error {
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		c.logger.Warn("could not clear pending updates", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.cfg.PollTimeoutSeconds
	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	defer func() {
		if err := g.Wait(); err != nil {
			c.logger.Error("command worker failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			msg := update.Message
			if msg == nil || msg.Chat == nil {
				continue
			}
			chatID, text := msg.Chat.ID, msg.Text
			started := g.TryGo(func() error {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("command handler panicked", zap.Any("panic", r), zap.Int64("chat_id", chatID))
					}
				}()
				h.HandleMessage(ctx, chatID, text)
				return nil
			})
			if !started {
				c.rejectBusy(ctx, chatID, text)
			}
		}
	}
}

func (c *Client) rejectBusy(ctx context.Context, chatID int64, text string) {
	c.logger.Warn("command workers busy, message rejected",
		zap.Int64("chat_id", chatID), zap.Int("workers", c.cfg.Workers))
	// Only the operator hears about it; other chats are dropped silently.
	if chatID != c.cfg.ChatID {
		return
	}
	if _, err := c.Reply(ctx, chatID, busyReply); err != nil {
		c.logger.Warn("could not send busy reply", zap.Error(err), zap.String("command", text))
	}
}
