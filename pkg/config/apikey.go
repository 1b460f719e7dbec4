package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SecretsKey is the name of the key in the environment and in the secrets file.
const SecretsKey = "GOOGLE_API_KEY"

var ErrMissingAPIKey = errors.New("missing Google API key: set --api-key, HEALTHCHAT_API_KEY, GOOGLE_API_KEY or " + SecretsKey + " in the secrets file")

type KeySource string

const (
	SourceFlag    KeySource = "flag"
	SourceEnv     KeySource = "env"
	SourceSecrets KeySource = "secrets-file"
	SourcePrompt  KeySource = "prompt"
)

// KeyResolver looks up the API key. Prompt is optional; without it a key
// that cannot be found is an error.
type KeyResolver struct {
	Getenv func(string) string
	Prompt func() (string, error)
}

func DefaultKeyResolver(interactive bool) KeyResolver {
	r := KeyResolver{Getenv: os.Getenv}
	if interactive {
		r.Prompt = PromptAPIKey
	}
	return r
}

// Resolve tries the configured key (flag, HEALTHCHAT_API_KEY, config file),
// then GOOGLE_API_KEY, then the secrets file, then the prompt.
func (r KeyResolver) Resolve(s GenerationSettings) (string, KeySource, error) {
	if k := strings.TrimSpace(s.APIKey); k != "" {
		return k, SourceFlag, nil
	}
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if k := strings.TrimSpace(getenv(SecretsKey)); k != "" {
		return k, SourceEnv, nil
	}
	if s.SecretsFile != "" {
		k, err := ReadSecretsFile(s.SecretsFile)
		if err != nil {
			return "", "", err
		}
		if k != "" {
			return k, SourceSecrets, nil
		}
	}
	if r.Prompt != nil {
		k, err := r.Prompt()
		if err != nil {
			return "", "", errors.Wrap(err, "prompt for API key")
		}
		if k = strings.TrimSpace(k); k != "" {
			return k, SourcePrompt, nil
		}
	}
	return "", "", ErrMissingAPIKey
}

// ReadSecretsFile returns the GOOGLE_API_KEY entry of a TOML secrets file.
// A missing file yields an empty key.
func ReadSecretsFile(path string) (string, error) {
	var secrets map[string]any
	if _, err := toml.DecodeFile(path, &secrets); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("path", path).Msg("secrets file not found")
			return "", nil
		}
		return "", errors.Wrapf(err, "read secrets file %s", path)
	}
	v, ok := secrets[SecretsKey]
	if !ok {
		return "", nil
	}
	k, ok := v.(string)
	if !ok {
		return "", errors.Errorf("secrets file %s: %s is not a string", path, SecretsKey)
	}
	return strings.TrimSpace(k), nil
}

// PromptAPIKey asks for the key on the terminal without echoing it.
func PromptAPIKey() (string, error) {
	var key string
	err := huh.NewInput().
		Title("Google API key").
		Description("Used for this session only; it is not saved.").
		EchoMode(huh.EchoModePassword).
		Value(&key).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("the key cannot be empty")
			}
			return nil
		}).
		Run()
	if err != nil {
		return "", err
	}
	return key, nil
}

// MaskSecret hides a secret in printed settings.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	return "XXX*****XXX"
}
