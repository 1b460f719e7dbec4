package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/healthchat/pkg/config"
	"github.com/go-go-golems/healthchat/pkg/logging"
	"github.com/go-go-golems/healthchat/pkg/redisstream"
	"github.com/go-go-golems/healthchat/pkg/webchat"
)

type printedGeneration struct {
	config.GenerationSettings `yaml:",inline"`
	KeySource                 string `yaml:"api-key-source,omitempty"`
}

type printedSettings struct {
	Generation printedGeneration     `yaml:"generation"`
	Prompt     config.PromptSettings `yaml:"prompt"`
	Web        webchat.Settings      `yaml:"web"`
	Redis      redisstream.Settings  `yaml:"redis"`
	Logging    logging.Settings      `yaml:"logging"`
}

func newPrintSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print-settings",
		Short: "Print the resolved settings as YAML, with the API key masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			gs := config.GenerationFromViper(v)

			pg := printedGeneration{GenerationSettings: gs}
			if gs.NeedsAPIKey() {
				key, src, err := config.DefaultKeyResolver(false).Resolve(gs)
				if err == nil {
					pg.APIKey = key
					pg.KeySource = string(src)
				}
			}
			pg.APIKey = config.MaskSecret(pg.APIKey)

			return config.PrintSettings(cmd.OutOrStdout(), printedSettings{
				Generation: pg,
				Prompt:     config.PromptFromViper(v),
				Web:        webchat.FromViper(v),
				Redis:      redisstream.FromViper(v),
				Logging:    logging.FromViper(v),
			})
		},
	}
	config.AddGenerationFlags(cmd.Flags())
	config.AddPromptFlags(cmd.Flags())
	webchat.AddFlags(cmd.Flags())
	redisstream.AddFlags(cmd.Flags())
	return cmd
}
