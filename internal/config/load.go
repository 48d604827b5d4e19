// ABOUTME: Viper-backed options loader for the roomtone CLI
// ABOUTME: Precedence is flags over ROOMTONE_* environment over roomtone.yaml over defaults
package config

import (
	"github.com/spf13/viper"
)

// Options are the runtime settings shared by the CLI commands.
type Options struct {
	Port      int    `mapstructure:"port"`
	Name      string `mapstructure:"name"`
	Device    string `mapstructure:"device"`
	URL       string `mapstructure:"url"`
	Advertise bool   `mapstructure:"advertise"`
	NoAudio   bool   `mapstructure:"no_audio"`
	Debug     bool   `mapstructure:"debug"`
}

// DefaultOptions returns the built-in settings.
func DefaultOptions() *Options {
	return &Options{
		Port:      DefaultPort,
		Name:      "roomtone",
		Advertise: true,
	}
}

// Load reads roomtone.yaml and ROOMTONE_* environment variables over
// the defaults. cfgFile overrides the search path when non-empty.
func Load(cfgFile string) (*Options, error) {
	opts := DefaultOptions()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("roomtone")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/roomtone")
	}

	// Unmarshal only sees keys viper knows about; registering the
	// defaults lets ROOMTONE_* variables apply without a config file.
	viper.SetDefault("port", opts.Port)
	viper.SetDefault("name", opts.Name)
	viper.SetDefault("device", opts.Device)
	viper.SetDefault("url", opts.URL)
	viper.SetDefault("advertise", opts.Advertise)
	viper.SetDefault("no_audio", opts.NoAudio)
	viper.SetDefault("debug", opts.Debug)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ROOMTONE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(opts); err != nil {
		return nil, err
	}

	return opts, nil
}
