package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "DUET"
	defaultHTTPAddress  = "0.0.0.0:9005"
	defaultDatabasePath = "duet.db"
	defaultAudioDir     = "audio_uploads"
	defaultLogLevel     = "info"
)

// defaultAudioExtensions mirrors the formats browsers commonly record.
var defaultAudioExtensions = []string{"webm", "mp3", "ogg", "wav", "m4a"}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	AudioDir        string
	AudioExtensions []string
	LogLevel        string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("audio.dir", defaultAudioDir)
	configViper.SetDefault("audio.extensions", defaultAudioExtensions)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		AudioDir:        configViper.GetString("audio.dir"),
		AudioExtensions: configViper.GetStringSlice("audio.extensions"),
		LogLevel:        configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AudioDir) == "" {
		return fmt.Errorf("audio.dir is required")
	}
	if len(c.AudioExtensions) == 0 {
		return fmt.Errorf("audio.extensions is required")
	}
	return nil
}
