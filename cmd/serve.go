package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/internal/api"
	"github.com/impetus-mx/storefront-api/internal/catalog"
	"github.com/impetus-mx/storefront-api/internal/quote"
	"github.com/impetus-mx/storefront-api/internal/resilience"
	"github.com/impetus-mx/storefront-api/internal/shipping"
	"github.com/impetus-mx/storefront-api/pkg/skydropx"
	"github.com/impetus-mx/storefront-api/pkg/stripe"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storefront HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cat, err := catalog.Load()
		if err != nil {
			return err
		}

		orders, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer orders.Close()

		if err := orders.Migrate(ctx); err != nil {
			return err
		}

		carrier := skydropx.NewClient(
			skydropx.Credentials{
				ClientID:     cfg.Skydropx.ClientID,
				ClientSecret: cfg.Skydropx.ClientSecret,
			},
			skydropx.WithBaseURL(cfg.Skydropx.BaseURL),
			skydropx.WithRateLimit(cfg.Skydropx.RateLimitRPS),
		)

		quotes := quote.NewStore(cfg.SigningSecret())
		defer quotes.Close()

		// Shipment bookings go through a breaker so repeated webhook
		// retries against a failing carrier back off.
		booking := resilience.NewGuardedCarrier(carrier, resilience.NewBreaker(5, 30*time.Second))

		server := api.NewServer(
			cfg,
			cat,
			shipping.NewQuoter(carrier),
			quotes,
			stripe.NewClient(cfg.Stripe.SecretKey),
			booking,
			orders,
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store_driver", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
