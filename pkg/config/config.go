// Package config wires cobra flags, environment variables and the optional
// config file into viper, and resolves the Gemini API key.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/healthchat/pkg/generation"
	"github.com/go-go-golems/healthchat/pkg/logging"
)

const (
	AppName            = "healthchat"
	DefaultSecretsFile = ".streamlit/secrets.toml"

	EngineGemini = "gemini"
	EngineEcho   = "echo"
)

// InitViper registers the persistent flags shared by every command and sets
// up environment lookups: --api-key is also read from HEALTHCHAT_API_KEY.
func InitViper(appName string, rootCmd *cobra.Command) error {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to config file (default: $HOME/."+appName+"/config.yaml or ./config.yaml)")
	logging.AddFlags(pf)

	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pf); err != nil {
		return errors.Wrap(err, "bind persistent flags")
	}
	return nil
}

// ReadConfig loads path, or searches the default locations when path is
// empty. A missing default config file is not an error.
func ReadConfig(v *viper.Viper, appName, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+appName))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	log.Debug().Str("config_path", v.ConfigFileUsed()).Msg("using config file")
	return nil
}

// BindCommandFlags makes the flags of the running command visible through
// the global viper.
func BindCommandFlags(cmd *cobra.Command) error {
	return errors.Wrap(viper.BindPFlags(cmd.Flags()), "bind command flags")
}

// GenerationSettings selects and configures the answer engine.
type GenerationSettings struct {
	Engine      string `mapstructure:"engine" yaml:"engine"`
	Model       string `mapstructure:"model" yaml:"model"`
	APIKey      string `mapstructure:"api-key" yaml:"api-key"`
	SecretsFile string `mapstructure:"secrets-file" yaml:"secrets-file"`
	EchoDelayMs int    `mapstructure:"echo-delay-ms" yaml:"echo-delay-ms"`
}

func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Engine:      EngineGemini,
		Model:       generation.DefaultModel,
		SecretsFile: DefaultSecretsFile,
		EchoDelayMs: 40,
	}
}

func AddGenerationFlags(fs *pflag.FlagSet) {
	d := DefaultGenerationSettings()
	fs.String("engine", d.Engine, "Answer engine (gemini, echo)")
	fs.String("model", d.Model, "Gemini model name")
	fs.String("api-key", "", "Google API key (also HEALTHCHAT_API_KEY or GOOGLE_API_KEY)")
	fs.String("secrets-file", d.SecretsFile, "TOML secrets file holding GOOGLE_API_KEY")
	fs.Int("echo-delay-ms", d.EchoDelayMs, "Delay between words of the echo engine")
}

func GenerationFromViper(v *viper.Viper) GenerationSettings {
	return GenerationSettings{
		Engine:      strings.ToLower(strings.TrimSpace(v.GetString("engine"))),
		Model:       v.GetString("model"),
		APIKey:      v.GetString("api-key"),
		SecretsFile: v.GetString("secrets-file"),
		EchoDelayMs: v.GetInt("echo-delay-ms"),
	}
}

// NeedsAPIKey reports whether the engine talks to the hosted API.
func (s GenerationSettings) NeedsAPIKey() bool { return s.Engine != EngineEcho }

func (s GenerationSettings) Validate() error {
	switch s.Engine {
	case EngineGemini, EngineEcho:
		return nil
	default:
		return errors.Errorf("unknown engine %q (want %s or %s)", s.Engine, EngineGemini, EngineEcho)
	}
}

// PromptSettings overrides the parts of the wrapped prompt.
type PromptSettings struct {
	Persona      string `mapstructure:"persona" yaml:"persona,omitempty"`
	Disclaimer   string `mapstructure:"disclaimer" yaml:"disclaimer,omitempty"`
	TemplateFile string `mapstructure:"prompt-template" yaml:"prompt-template,omitempty"`
}

func AddPromptFlags(fs *pflag.FlagSet) {
	fs.String("persona", "", "Override the assistant persona line")
	fs.String("disclaimer", "", "Override the disclaimer rule")
	fs.String("prompt-template", "", "Path to a text/template file for the wrapped prompt")
}

func PromptFromViper(v *viper.Viper) PromptSettings {
	return PromptSettings{
		Persona:      v.GetString("persona"),
		Disclaimer:   v.GetString("disclaimer"),
		TemplateFile: v.GetString("prompt-template"),
	}
}
