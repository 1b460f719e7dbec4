package main

import (
	"context"
	"embed"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/healthchat/pkg/config"
	"github.com/go-go-golems/healthchat/pkg/logging"
)

//go:embed static/*
var staticFS embed.FS

var rootCmd = &cobra.Command{
	Use:           "healthchat",
	Short:         "healthchat is a health assistant chat that streams answers from Gemini",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.BindCommandFlags(cmd); err != nil {
			return err
		}
		if err := config.ReadConfig(viper.GetViper(), config.AppName, viper.GetString("config")); err != nil {
			return err
		}
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		return logging.InitLoggerFromViper()
	},
}

func main() {
	err := config.InitViper(config.AppName, rootCmd)
	cobra.CheckErr(err)
	err = logging.InitLogger(logging.DefaultSettings())
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		newServeCommand(),
		newChatCommand(),
		newAskCommand(),
		newPrintSettingsCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
