package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "tripstream.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/tripstream"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/tripstream/config.yaml)
// 3. Project config (tripstream.yaml in current or parent directories)
// 4. Environment variables for credentials
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	// Load project config
	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overlays credential environment variables onto the config.
// Environment always wins so deployments never need secrets in files.
func (l *Loader) applyEnv(config *Config) {
	envKeys := []struct {
		name string
		dst  *ProviderConfig
	}{
		{"TRIPSTREAM_WEATHER_API_KEY", &config.Providers.Weather},
		{"TRIPSTREAM_FLIGHTS_API_KEY", &config.Providers.Flights},
		{"TRIPSTREAM_HOTELS_API_KEY", &config.Providers.Hotels},
		{"TRIPSTREAM_TRANSIT_API_KEY", &config.Providers.Transit},
		{"TRIPSTREAM_IMAGES_API_KEY", &config.Providers.Images},
	}
	for _, e := range envKeys {
		if v := os.Getenv(e.name); v != "" {
			e.dst.APIKey = v
			e.dst.Enabled = true
		}
	}
	if v := os.Getenv("TRIPSTREAM_LLM_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}
	if v := os.Getenv("TRIPSTREAM_NATS_URL"); v != "" {
		config.NATS.URL = v
	}
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user-level config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(UserConfigDir, UserConfigFile)
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for a project config in the current directory
// and its parents, stopping at the filesystem root.
func (l *Loader) findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
