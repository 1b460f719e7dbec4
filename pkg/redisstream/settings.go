package redisstream

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `mapstructure:"redis-enabled" yaml:"redis-enabled"`
	Addr     string `mapstructure:"redis-addr" yaml:"redis-addr"`
	Group    string `mapstructure:"redis-group" yaml:"redis-group"`
	Consumer string `mapstructure:"redis-consumer" yaml:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "chat-ui",
		Consumer: "ui-1",
	}
}

// AddFlags registers the redis flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := DefaultSettings()
	fs.Bool("redis-enabled", d.Enabled, "Enable Redis Streams transport for events")
	fs.String("redis-addr", d.Addr, "Redis address host:port")
	fs.String("redis-group", d.Group, "Redis consumer group")
	fs.String("redis-consumer", d.Consumer, "Redis consumer name")
}

// FromViper reads the settings registered by AddFlags.
func FromViper(v *viper.Viper) Settings {
	return Settings{
		Enabled:  v.GetBool("redis-enabled"),
		Addr:     v.GetString("redis-addr"),
		Group:    v.GetString("redis-group"),
		Consumer: v.GetString("redis-consumer"),
	}
}
