package main

import (
	"context"
	"errors"
	"testing"

	"github.com/rahul/dealdesk/internal/gateway"
	"github.com/rahul/dealdesk/internal/observability"
	"github.com/rahul/dealdesk/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type idleMessenger struct{ name string }

func (m *idleMessenger) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (m *idleMessenger) Send(string, string) error { return nil }
func (m *idleMessenger) Stop() error                { return nil }

func stubMessengers(t *testing.T, telegram, discord messengerFactory) {
	t.Helper()
	prevTG, prevDC := newTelegram, newDiscord
	newTelegram, newDiscord = telegram, discord
	t.Cleanup(func() { newTelegram, newDiscord = prevTG, prevDC })
}

func serveConfig() *config.Config {
	return &config.Config{Gateways: map[string]config.GatewayConfig{
		config.GatewayHTTP:     {Enabled: true, ListenAddr: "127.0.0.1:0"},
		config.GatewayTelegram: {Enabled: true, Token: "tg"},
		config.GatewayDiscord:  {Enabled: true, Token: "dc"},
	}}
}

func TestServe_GatewayFailureStartsNothing(t *testing.T) {
	defer goleak.VerifyNone(t)
	opened := 0
	stubMessengers(t,
		func(string, gateway.TurnHandler, *observability.Logger) (gateway.Messenger, error) {
			opened++
			return &idleMessenger{name: "telegram"}, nil
		},
		func(string, gateway.TurnHandler, *observability.Logger) (gateway.Messenger, error) {
			return nil, errors.New("401 unauthorized")
		},
	)
	a := &app{cfg: serveConfig(), logger: observability.NewNopLogger()}

	err := a.serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord gateway: 401 unauthorized")
	assert.Equal(t, 1, opened)
}

func TestMessengers_OnlyEnabledGateways(t *testing.T) {
	var tokens []string
	open := func(token string, _ gateway.TurnHandler, _ *observability.Logger) (gateway.Messenger, error) {
		tokens = append(tokens, token)
		return &idleMessenger{name: token}, nil
	}
	stubMessengers(t, open, open)

	cfg := serveConfig()
	cfg.Gateways[config.GatewayDiscord] = config.GatewayConfig{Enabled: false, Token: "dc"}
	a := &app{cfg: cfg, logger: observability.NewNopLogger()}

	ms, err := a.messengers()
	require.NoError(t, err)
	assert.Len(t, ms, 1)
	assert.Equal(t, []string{"tg"}, tokens)
}
