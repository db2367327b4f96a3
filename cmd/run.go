package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mvalgard/threadkeeper/threadkeeper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(
			context.Background(),
			os.Interrupt,
			syscall.SIGTERM,
		)
		defer stop()

		tk, err := threadkeeper.New(ctx, config)
		if err != nil {
			return fmt.Errorf("error initializing: %w", err)
		}
		return tk.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
