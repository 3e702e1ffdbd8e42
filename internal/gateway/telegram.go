package gateway

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/dealdesk/internal/observability"
	"go.uber.org/zap"
)

// telegramLimit is Telegram's maximum message length.
const telegramLimit = 4096

type TelegramGateway struct {
	Bot    *tgbotapi.BotAPI
	Turns  TurnHandler
	Logger *observability.Logger
}

func NewTelegramGateway(token string, turns TurnHandler, logger *observability.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logger.Info("telegram gateway authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:    bot,
		Turns:  turns,
		Logger: logger,
	}, nil
}

// TelegramSessionID maps a chat to its session.
func TelegramSessionID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			tg.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			chatID := update.Message.Chat.ID
			tg.Logger.Info("telegram message",
				zap.Int64("chat_id", chatID),
				zap.String("from", update.Message.From.UserName))

			reply := converse(ctx, tg.Turns, tg.Logger, TelegramSessionID(chatID), update.Message.Text)
			if reply == "" {
				continue
			}
			if err := tg.Send(strconv.FormatInt(chatID, 10), reply); err != nil {
				tg.Logger.Error("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
			}
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	for _, part := range chunk(text, telegramLimit) {
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return err
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
