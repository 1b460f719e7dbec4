package main

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/healthchat/pkg/chatrunner"
	"github.com/go-go-golems/healthchat/pkg/config"
	"github.com/go-go-golems/healthchat/pkg/events"
	"github.com/go-go-golems/healthchat/pkg/logging"
	"github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/healthchat/pkg/redisstream"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [question...]",
		Short: "Chat in the terminal",
		Long: "Open the terminal chat. With a question, the first answer is printed " +
			"and you are asked whether to continue in the chat window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v := viper.GetViper()

			// the TUI owns the terminal, logs only go to a file
			if err := logging.SilenceConsole(logging.FromViper(v)); err != nil {
				return err
			}

			eng, err := buildEngine(ctx, config.GenerationFromViper(v), stdinIsTerminal())
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
			defer func() { _ = bus.Close() }()

			b := chatrunner.NewChatBuilder().
				WithContext(ctx).
				WithConversationID(v.GetString("conv-id")).
				WithPromptBuilder(pb).
				WithGenerator(eng).
				WithSecrets(eng.secrets...).
				WithBus(bus)

			if path := v.GetString("turns-db"); path != "" {
				store, err := openTurnsDB(path)
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				b = b.WithTurnStore(store)
			}

			if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
				b = b.WithMode(chatrunner.RunModeInteractive).WithQuery(q)
			}

			cs, err := b.Build()
			if err != nil {
				return err
			}
			return cs.Run()
		},
	}
	config.AddGenerationFlags(cmd.Flags())
	config.AddPromptFlags(cmd.Flags())
	redisstream.AddFlags(cmd.Flags())
	cmd.Flags().String("conv-id", "", "Conversation id (default: random)")
	cmd.Flags().String("turns-db", "", "SQLite file to record committed turns in")
	return cmd
}

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a single question and print the streamed answer",
		Long:  "Ask a single question. Without arguments the question is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v := viper.GetViper()

			q := strings.Join(args, " ")
			if q == "" && !stdinIsTerminal() {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "read question from stdin")
				}
				q = string(b)
			}
			if strings.TrimSpace(q) == "" {
				return errors.New("no question given")
			}

			eng, err := buildEngine(ctx, config.GenerationFromViper(v), stdinIsTerminal())
			if err != nil {
				return err
			}
			defer func() { _ = eng.close() }()

			pb, err := buildPromptBuilder(config.PromptFromViper(v))
			if err != nil {
				return err
			}

			b := chatrunner.NewChatBuilder().
				WithContext(ctx).
				WithPromptBuilder(pb).
				WithGenerator(eng).
				WithSecrets(eng.secrets...).
				WithMode(chatrunner.RunModeBlocking).
				WithQuery(q).
				WithOutputWriter(cmd.OutOrStdout())
			if plain, _ := cmd.Flags().GetBool("plain"); plain {
				b = b.WithMarkdown(false)
			}

			cs, err := b.Build()
			if err != nil {
				return err
			}
			return cs.Run()
		},
	}
	config.AddGenerationFlags(cmd.Flags())
	config.AddPromptFlags(cmd.Flags())
	cmd.Flags().Bool("plain", false, "Stream raw text instead of rendering markdown at the end")
	return cmd
}

func openTurnsDB(path string) (*chatstore.SQLiteTurnStore, error) {
	dsn, err := chatstore.SQLiteTurnDSNForFile(path)
	if err != nil {
		return nil, err
	}
	store, err := chatstore.NewSQLiteTurnStore(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open turns db %s", path)
	}
	return store, nil
}
