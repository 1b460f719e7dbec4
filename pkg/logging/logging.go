// Package logging configures the global zerolog logger from command line
// flags and config.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Settings struct {
	Level      string `mapstructure:"log-level" yaml:"log-level"`
	Format     string `mapstructure:"log-format" yaml:"log-format"`
	File       string `mapstructure:"log-file" yaml:"log-file"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`
}

func DefaultSettings() Settings {
	return Settings{Level: "info", Format: "text"}
}

func AddFlags(fs *pflag.FlagSet) {
	d := DefaultSettings()
	fs.String("log-level", d.Level, "Log level (trace, debug, info, warn, error, fatal)")
	fs.String("log-format", d.Format, "Log format (text, json)")
	fs.String("log-file", "", "Log file (default: stderr)")
	fs.Bool("with-caller", false, "Log caller")
}

func FromViper(v *viper.Viper) Settings {
	return Settings{
		Level:      v.GetString("log-level"),
		Format:     v.GetString("log-format"),
		File:       v.GetString("log-file"),
		WithCaller: v.GetBool("with-caller"),
	}
}

// InitLogger replaces the global logger. Without a log file, output goes to
// stderr, colored when stderr is a terminal.
func InitLogger(s Settings) error {
	logger, err := NewLogger(s, os.Stderr)
	if err != nil {
		return err
	}
	log.Logger = logger
	zerolog.SetGlobalLevel(logger.GetLevel())
	return nil
}

// InitLoggerFromViper reads the logging flags from the global viper.
func InitLoggerFromViper() error {
	return InitLogger(FromViper(viper.GetViper()))
}

// NewLogger builds a logger writing to s.File, or to stderr when no file is
// set.
func NewLogger(s Settings, stderr io.Writer) (zerolog.Logger, error) {
	levelName := strings.TrimSpace(s.Level)
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "invalid log level %q", s.Level)
	}

	var out io.Writer
	tty := false
	if s.File != "" {
		out = &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	} else {
		out = stderr
		if f, ok := stderr.(*os.File); ok {
			tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}

	switch strings.ToLower(strings.TrimSpace(s.Format)) {
	case "", "text":
		out = zerolog.ConsoleWriter{Out: out, NoColor: !tty, TimeFormat: time.Kitchen}
	case "json":
	default:
		return zerolog.Nop(), errors.Errorf("invalid log format %q", s.Format)
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}

// SilenceConsole drops log output for full screen UIs unless a log file is
// configured, since stderr lines would tear the screen.
func SilenceConsole(s Settings) error {
	if s.File != "" {
		return InitLogger(s)
	}
	log.Logger = zerolog.Nop()
	return nil
}
