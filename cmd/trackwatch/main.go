// trackwatch follows one order's status over the ordertrackd socket and
// prints every update, reconnecting with backoff when the connection drops.
//
// Usage:
//
//	trackwatch --url ws://localhost:8080/ws --order ORD-1 --subscriber alice --token <token>
//
// The token can also be supplied with ORDERTRACK_TOKEN.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/order-tracker/internal/connection"
	"github.com/rickgao/order-tracker/internal/logging"
	"github.com/rickgao/order-tracker/internal/model"
)

var (
	socketURL   string
	orderRef    string
	subscriber  string
	token       string
	maxAttempts int
	verbose     bool
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:           "trackwatch",
	Short:         "Watch an order's status over the notification socket",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWatch,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&socketURL, "url", "ws://localhost:8080/ws", "socket endpoint")
	flags.StringVar(&orderRef, "order", "", "order reference to follow")
	flags.StringVar(&subscriber, "subscriber", "", "subscriber id the token was issued for")
	flags.StringVar(&token, "token", os.Getenv("ORDERTRACK_TOKEN"), "session token")
	flags.IntVar(&maxAttempts, "max-attempts", 5, "consecutive reconnect attempts before giving up")
	flags.BoolVarP(&verbose, "verbose", "v", false, "print full event JSON")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	_ = rootCmd.MarkFlagRequired("order")
	_ = rootCmd.MarkFlagRequired("subscriber")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(logLevel, "text", os.Stderr)
	if err != nil {
		return err
	}
	if token == "" {
		return errors.New("a session token is required (--token or ORDERTRACK_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	gaveUp := make(chan error, 1)
	finish := func(err error) {
		select {
		case gaveUp <- err:
		default:
		}
	}

	notifier := connection.NotifierFuncs{
		StateChange: func(from, to connection.State) {
			logger.Info("connection state", "from", from, "to", to)
		},
		Status: func(ev model.Event) {
			if verbose {
				data, _ := json.MarshalIndent(ev, "", "  ")
				fmt.Fprintf(out, "%s\n", data)
				return
			}
			fmt.Fprintf(out, "%s  %s  %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.OrderRef, ev.Status)
		},
		Error: func(err error) {
			logger.Warn("server error", "error", err)
			var serr *connection.ServerError
			if errors.As(err, &serr) && serr.Denied() {
				finish(err)
			}
		},
		GiveUp: finish,
	}

	cfg := connection.DefaultConfig()
	cfg.OrderRef = orderRef
	cfg.Credentials = model.Credentials{SubscriberID: subscriber, Token: token}
	cfg.MaxAttempts = maxAttempts

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = socketURL

	ctrl := connection.NewController(cfg,
		connection.NewWebSocketDialer(clientCfg, logger),
		connection.WithNotifier(notifier),
		connection.WithLogger(logger),
	)
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Stop()

	logger.Info("watching order", "order_ref", orderRef, "url", socketURL)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		return nil
	case err := <-gaveUp:
		return fmt.Errorf("stopped watching %s: %w", orderRef, err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
