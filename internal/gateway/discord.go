package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rahul/dealdesk/internal/observability"
	"go.uber.org/zap"
)

// discordLimit is Discord's maximum message length.
const discordLimit = 2000

type DiscordGateway struct {
	Session *discordgo.Session
	Turns   TurnHandler
	Logger  *observability.Logger
}

func NewDiscordGateway(token string, turns TurnHandler, logger *observability.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

	return &DiscordGateway{Session: s, Turns: turns, Logger: logger}, nil
}

// DiscordSessionID maps a channel to its session.
func DiscordSessionID(channelID string) string {
	return "discord:" + channelID
}

// Start opens the websocket and serves messages until ctx is done.
func (dg *DiscordGateway) Start(ctx context.Context) error {
	remove := dg.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		dg.Logger.Info("discord message",
			zap.String("channel_id", m.ChannelID),
			zap.String("from", m.Author.Username))

		reply := converse(ctx, dg.Turns, dg.Logger, DiscordSessionID(m.ChannelID), m.Content)
		if reply == "" {
			return
		}
		if err := dg.Send(m.ChannelID, reply); err != nil {
			dg.Logger.Error("discord send failed", zap.String("channel_id", m.ChannelID), zap.Error(err))
		}
	})
	defer remove()

	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	dg.Logger.Info("discord gateway connected")

	<-ctx.Done()
	return dg.Stop()
}

func (dg *DiscordGateway) Send(channelID string, text string) error {
	for _, part := range chunk(text, discordLimit) {
		if _, err := dg.Session.ChannelMessageSend(channelID, part); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) Stop() error {
	return dg.Session.Close()
}
