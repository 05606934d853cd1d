package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	logx "github.com/stockbroker-core/server/pkg/logger"
)

func main() {
	// Load .env file; real environment variables take precedence
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var conversationID string

	root := &cobra.Command{
		Use:          "stockbroker",
		Short:        "Conversational stockbroker agent",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&conversationID, "conversation", "c", "", "conversation id (a new one is generated when empty)")

	root.AddCommand(
		newAskCmd(&conversationID),
		newChatCmd(&conversationID),
		newResetCmd(&conversationID),
	)
	return root
}
