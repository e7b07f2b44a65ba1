package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/staybook/internal/session"
	"github.com/example/staybook/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServerCmd() *cobra.Command {
	var (
		migrateUp bool
		idleTTL   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the booking JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, openOpts{ledger: true, migrate: migrateUp, backends: true})
			if err != nil {
				return err
			}
			defer a.Close()

			hashKey, blockKey, err := a.cfg.CookieKeys()
			if err != nil {
				return err
			}

			sessions := session.NewRegistry(a.newSession, idleTTL, a.log)
			var history web.History
			if a.ledger != nil {
				history = a.ledger
			}
			ws := web.NewServer(sessions, a.engine(), history, hashKey, blockKey, a.log)

			// backends close only after both have returned, so cancelled payments
			// still reach the ledger and notifiers
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := sessions.Run(gctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return web.Start(gctx, a.cfg.ListenAddr, ws.Routes(), a.log)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().DurationVar(&idleTTL, "session-ttl", 30*time.Minute, "drop booking sessions idle for this long")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
