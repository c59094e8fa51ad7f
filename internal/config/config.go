// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName       = "crashguard"
	ConfigType    = "yaml"
	EnvPrefix     = "CRASHGUARD"
	DefaultConfig = `# Crash Guard Configuration

# Termination
exit_code: 1            # Process exit status after an uncaught panic (1-125)
traceback: "all"        # Runtime traceback level: none, single, all, system, crash
crash_output: ""        # File that also receives runtime fatal errors ("" to disable)

# Presentation before exit
present: "console"      # none, console, notify
notify_url: ""          # Shoutrrr URL used when present is "notify" (e.g. slack://token@channel)
notify_title: ""        # Notification title ("" uses the host name)
notify_timeout: 5s      # Longest wait for the notification service

# Logging
log_format: "text"      # text or json
debug: false            # Enable debug output
`
)

// Presentation modes.
const (
	PresentNone    = "none"
	PresentConsole = "console"
	PresentNotify  = "notify"
)

// Settings holds all application configuration
type Settings struct {
	// Termination
	ExitCode    int    `mapstructure:"exit_code" yaml:"exit_code"`
	Traceback   string `mapstructure:"traceback" yaml:"traceback"`
	CrashOutput string `mapstructure:"crash_output" yaml:"crash_output"`

	// Presentation
	Present       string        `mapstructure:"present" yaml:"present"`
	NotifyURL     string        `mapstructure:"notify_url" yaml:"notify_url"`
	NotifyTitle   string        `mapstructure:"notify_title" yaml:"notify_title"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout" yaml:"notify_timeout"`

	// Logging
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	Debug     bool   `mapstructure:"debug" yaml:"debug"`
}

// Init initializes Viper with defaults, environment and config file.
// Config file search order: current directory, then ~/.config/crashguard/
func Init() error {
	viper.SetDefault("exit_code", 1)
	viper.SetDefault("traceback", "all")
	viper.SetDefault("crash_output", "")
	viper.SetDefault("present", PresentConsole)
	viper.SetDefault("notify_url", "")
	viper.SetDefault("notify_title", "")
	viper.SetDefault("notify_timeout", 5*time.Second)
	viper.SetDefault("log_format", "text")
	viper.SetDefault("debug", false)

	// CRASHGUARD_NOTIFY_URL etc.
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Shells reserve 126 and above.
	if s.ExitCode < 1 || s.ExitCode > 125 {
		errs = append(errs, fmt.Errorf("exit_code must be between 1 and 125, got %d", s.ExitCode))
	}

	validTracebacks := map[string]bool{
		"none":   true,
		"single": true,
		"all":    true,
		"system": true,
		"crash":  true,
	}
	if !validTracebacks[s.Traceback] {
		errs = append(errs, fmt.Errorf("traceback must be one of none, single, all, system, crash, got %q", s.Traceback))
	}

	switch s.Present {
	case PresentNone, PresentConsole:
	case PresentNotify:
		if strings.TrimSpace(s.NotifyURL) == "" {
			errs = append(errs, errors.New("notify_url is required when present is \"notify\""))
		}
	default:
		errs = append(errs, fmt.Errorf("present must be one of none, console, notify, got %q", s.Present))
	}
	if s.NotifyTimeout < 0 || s.NotifyTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("notify_timeout must be between 0s and 1m, got %s", s.NotifyTimeout))
	}

	if s.LogFormat != "text" && s.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", s.LogFormat))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
