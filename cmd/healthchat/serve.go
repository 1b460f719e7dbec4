package main

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/healthchat/pkg/config"
	"github.com/go-go-golems/healthchat/pkg/events"
	"github.com/go-go-golems/healthchat/pkg/redisstream"
	"github.com/go-go-golems/healthchat/pkg/webchat"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser chat with websocket streaming",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v := viper.GetViper()

			eng, err := buildEngine(ctx, config.GenerationFromViper(v), false)
			if err != nil {
				return err
			}
			defer func() { _ = eng.close() }()

			pb, err := buildPromptBuilder(config.PromptFromViper(v))
			if err != nil {
				return err
			}

			bus, err := redisstream.BuildBus(redisstream.FromViper(v), events.NewWatermillLogger(log.Logger))
			if err != nil {
				return errors.Wrap(err, "build event bus")
			}

			srv, err := webchat.NewServer(ctx, webchat.FromViper(v), bus,
				webchat.WithStaticFS(staticFS),
				webchat.WithPromptBuilder(pb),
				webchat.WithGenerator(eng),
				webchat.WithSecrets(eng.secrets...),
			)
			if err != nil {
				_ = bus.Close()
				return err
			}
			return srv.Run(ctx)
		},
	}
	config.AddGenerationFlags(cmd.Flags())
	config.AddPromptFlags(cmd.Flags())
	webchat.AddFlags(cmd.Flags())
	redisstream.AddFlags(cmd.Flags())
	return cmd
}
