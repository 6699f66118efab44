package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harunnryd/hibiki/internal/config"
	"github.com/harunnryd/hibiki/internal/errors"
)

type TelegramAdapter struct {
	token         string
	updateTimeout int
	bridge        *Bridge
	bot           *tgbotapi.BotAPI
	updates       tgbotapi.UpdatesChannel
}

func NewTelegramAdapter(token string, bridge *Bridge, updateTimeout int) *TelegramAdapter {
	if updateTimeout <= 0 {
		updateTimeout = config.DefaultTelegramUpdateTimeout
	}
	return &TelegramAdapter{
		token:         token,
		updateTimeout: updateTimeout,
		bridge:        bridge,
	}
}

func (t *TelegramAdapter) Name() string {
	return "telegram"
}

func (t *TelegramAdapter) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}

	slog.Info("Telegram adapter started", "user", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.updateTimeout

	t.updates = t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-t.updates:
				t.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (t *TelegramAdapter) Stop(ctx context.Context) error {
	return nil
}

func (t *TelegramAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	msg := update.Message
	chatID := fmt.Sprintf("%d", msg.Chat.ID)

	reply, err := t.bridge.HandleMessage(ctx, t.Name(), chatID, msg.Text)
	if err != nil {
		slog.Error("Failed to handle Telegram message", "chat_id", chatID, "error", err)
		reply = "Sorry, something went wrong while answering. Please try again."
	}
	if reply == "" {
		return
	}

	if err := t.Send(ctx, chatID, reply); err != nil {
		slog.Error("Failed to reply on Telegram", "chat_id", chatID, "error", err)
	}
}

// Send sends a reply back to Telegram.
func (t *TelegramAdapter) Send(ctx context.Context, destination string, content string) error {
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return errors.InvalidInput("invalid telegram chat ID: " + err.Error())
	}

	msg := tgbotapi.NewMessage(chatID, content)
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}

	slog.Debug("Telegram message sent", "chat_id", destination)
	return nil
}

func (t *TelegramAdapter) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}

	if _, err := t.bot.GetMe(); err != nil {
		return errors.Transient("Telegram connection failed: " + err.Error())
	}

	return nil
}
