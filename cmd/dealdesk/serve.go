package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rahul/dealdesk/internal/agent"
	"github.com/rahul/dealdesk/internal/gateway"
	"github.com/rahul/dealdesk/internal/observability"
	"github.com/rahul/dealdesk/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP Turn API, enabled chat gateways and the session janitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

type messengerFactory func(token string, turns gateway.TurnHandler, logger *observability.Logger) (gateway.Messenger, error)

var (
	newTelegram messengerFactory = func(token string, turns gateway.TurnHandler, logger *observability.Logger) (gateway.Messenger, error) {
		return gateway.NewTelegramGateway(token, turns, logger)
	}
	newDiscord messengerFactory = func(token string, turns gateway.TurnHandler, logger *observability.Logger) (gateway.Messenger, error) {
		return gateway.NewDiscordGateway(token, turns, logger)
	}
)

// messengers connects every enabled chat gateway.
func (a *app) messengers() ([]gateway.Messenger, error) {
	var out []gateway.Messenger
	for _, gw := range []struct {
		name string
		open messengerFactory
	}{
		{config.GatewayTelegram, newTelegram},
		{config.GatewayDiscord, newDiscord},
	} {
		gc, ok := a.cfg.Gateway(gw.name)
		if !ok {
			continue
		}
		m, err := gw.open(gc.Token, a.orchestrator, a.logger)
		if err != nil {
			return nil, fmt.Errorf("%s gateway: %w", gw.name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *app) serve(ctx context.Context) error {
	// Gateways connect before any goroutine starts.
	messengers, err := a.messengers()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	janitor := agent.NewJanitor(a.sessions, a.cfg.Memory.Retention, a.cfg.Memory.JanitorInterval, a.logger)
	g.Go(func() error {
		janitor.Start(ctx)
		return nil
	})

	if hc, ok := a.cfg.Gateway(config.GatewayHTTP); ok {
		srv := gateway.NewHTTPServer(a.orchestrator, a.metrics.Handler(), a.logger)
		g.Go(func() error { return srv.Serve(ctx, hc.ListenAddr) })
	}

	for _, m := range messengers {
		g.Go(func() error { return m.Start(ctx) })
	}

	if err := g.Wait(); err != nil {
		a.logger.Error("server stopped", zap.Error(err))
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
