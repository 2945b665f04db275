package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"servchat/internal/client"
)

var (
	serverURL string
	token     string
	verbose   bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "servchat",
	Short: "Command-line client for the ServChat portal",
	Long: `servchat signs in to a ServChat server and follows sector chats,
direct conversations and presence from the terminal.

The token printed by "servchat login" can be passed with --token or the
SERVCHAT_TOKEN environment variable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SERVCHAT_SERVER", "http://localhost:3000"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SERVCHAT_TOKEN"), "bearer token from servchat login")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(loginCmd, chatCmd, dmCmd, presenceCmd, unreadCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// session builds a client from the global flags and resolves the signed-in
// user.
func session(ctx context.Context) (*client.Client, error) {
	if token == "" {
		return nil, errors.New("no token: run servchat login or pass --token")
	}
	c, err := client.New(client.Config{BaseURL: serverURL, Token: token, Logger: logger})
	if err != nil {
		return nil, err
	}
	if _, _, err := c.Me(ctx); err != nil {
		return nil, fmt.Errorf("token rejected: %w", err)
	}
	return c, nil
}
