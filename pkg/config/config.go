package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Update   UpdateConfig   `mapstructure:"update"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Self     SelfConfig     `mapstructure:"self"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DockerConfig holds Docker configuration
type DockerConfig struct {
	Host             string        `mapstructure:"host"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	PullTimeout      time.Duration `mapstructure:"pull_timeout"`
	RegistryUser     string        `mapstructure:"registry_user"`
	RegistryPassword string        `mapstructure:"registry_password"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UpdateConfig holds the update loop configuration
type UpdateConfig struct {
	// Interval between cycles, in seconds
	Interval int    `mapstructure:"interval"`
	Schedule string `mapstructure:"schedule"`
	Cleanup  bool   `mapstructure:"cleanup"`
	// Classifier selects the local image heuristic: "reference" inspects
	// the whole image reference, "repository" ignores tag and digest
	Classifier string `mapstructure:"classifier"`
}

// NotifyConfig holds notification configuration
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Transport string `mapstructure:"transport"`
	URL       string `mapstructure:"url"`
	Recipient string `mapstructure:"recipient"`
}

// SelfConfig describes the updater's own deployment
type SelfConfig struct {
	ContainerName  string        `mapstructure:"container_name"`
	Image          string        `mapstructure:"image"`
	ComposeFile    string        `mapstructure:"compose_file"`
	Service        string        `mapstructure:"service"`
	HealthURL      string        `mapstructure:"health_url"`
	HealthAttempts int           `mapstructure:"health_attempts"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"`
	ProtectedEnv   []string      `mapstructure:"protected_env"`
	Port           int           `mapstructure:"port"`
	Socket         string        `mapstructure:"socket"`
	DataVolume     string        `mapstructure:"data_volume"`
}

// WatchdogConfig holds watchdog configuration
type WatchdogConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// IntervalDuration returns the update interval as a duration
func (u UpdateConfig) IntervalDuration() time.Duration {
	return time.Duration(u.Interval) * time.Second
}

// Address returns the listen address of the API
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Docker: DockerConfig{
			StopTimeout: 30 * time.Second,
			PullTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Update: UpdateConfig{
			Interval:   300,
			Classifier: "reference",
		},
		Notify: NotifyConfig{
			Transport: "log",
		},
		Self: SelfConfig{
			ContainerName:  "dockwarden",
			Image:          "dockwarden:latest",
			HealthURL:      "http://localhost:8080/health",
			HealthAttempts: 10,
			HealthInterval: 3 * time.Second,
			RestartDelay:   10 * time.Second,
			ProtectedEnv: []string{
				"WARDEN_DOCKER_REGISTRY_USER",
				"WARDEN_DOCKER_REGISTRY_PASSWORD",
				"WARDEN_NOTIFY_URL",
				"WARDEN_NOTIFY_RECIPIENT",
			},
			Port:       8080,
			Socket:     "/var/run/docker.sock",
			DataVolume: "dockwarden-data",
		},
		Watchdog: WatchdogConfig{
			Interval: 30 * time.Second,
		},
	}
}

// Load loads configuration from file and environment variables. Environment
// variables carry the WARDEN_ prefix, with dots replaced by underscores
// (WARDEN_UPDATE_INTERVAL).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("warden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.warden")
	}

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("config dosyası okunamadı: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("config parse edilemedi: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("config doğrulanamadı: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// that appear in no config file
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("docker.host", d.Docker.Host)
	v.SetDefault("docker.stop_timeout", d.Docker.StopTimeout)
	v.SetDefault("docker.pull_timeout", d.Docker.PullTimeout)
	v.SetDefault("docker.registry_user", d.Docker.RegistryUser)
	v.SetDefault("docker.registry_password", d.Docker.RegistryPassword)

	v.SetDefault("storage.data_dir", d.Storage.DataDir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("update.interval", d.Update.Interval)
	v.SetDefault("update.schedule", d.Update.Schedule)
	v.SetDefault("update.cleanup", d.Update.Cleanup)
	v.SetDefault("update.classifier", d.Update.Classifier)

	v.SetDefault("notify.enabled", d.Notify.Enabled)
	v.SetDefault("notify.transport", d.Notify.Transport)
	v.SetDefault("notify.url", d.Notify.URL)
	v.SetDefault("notify.recipient", d.Notify.Recipient)

	v.SetDefault("self.container_name", d.Self.ContainerName)
	v.SetDefault("self.image", d.Self.Image)
	v.SetDefault("self.compose_file", d.Self.ComposeFile)
	v.SetDefault("self.service", d.Self.Service)
	v.SetDefault("self.health_url", d.Self.HealthURL)
	v.SetDefault("self.health_attempts", d.Self.HealthAttempts)
	v.SetDefault("self.health_interval", d.Self.HealthInterval)
	v.SetDefault("self.restart_delay", d.Self.RestartDelay)
	v.SetDefault("self.protected_env", d.Self.ProtectedEnv)
	v.SetDefault("self.port", d.Self.Port)
	v.SetDefault("self.socket", d.Self.Socket)
	v.SetDefault("self.data_volume", d.Self.DataVolume)

	v.SetDefault("watchdog.interval", d.Watchdog.Interval)
}

// Validate checks the configuration and creates the data directory
func Validate(config *Config) error {
	if err := os.MkdirAll(config.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("data dizini oluşturulamadı: %w", err)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLevels[config.Logging.Level] {
		return fmt.Errorf("geçersiz log seviyesi: %s", config.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[config.Logging.Format] {
		return fmt.Errorf("geçersiz log formatı: %s", config.Logging.Format)
	}

	if config.Update.Interval <= 0 {
		return fmt.Errorf("güncelleme aralığı pozitif olmalı: %d", config.Update.Interval)
	}
	if config.Update.Schedule != "" {
		if _, err := cron.ParseStandard(config.Update.Schedule); err != nil {
			return fmt.Errorf("geçersiz zamanlama: %w", err)
		}
	}
	validClassifiers := map[string]bool{
		"":           true,
		"reference":  true,
		"repository": true,
	}
	if !validClassifiers[config.Update.Classifier] {
		return fmt.Errorf("geçersiz image sınıflandırıcısı: %s", config.Update.Classifier)
	}
	if config.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog aralığı pozitif olmalı: %s", config.Watchdog.Interval)
	}
	if config.Docker.StopTimeout <= 0 || config.Docker.PullTimeout <= 0 {
		return errors.New("docker zaman aşımları pozitif olmalı")
	}

	validTransports := map[string]bool{
		"":        true,
		"log":     true,
		"webhook": true,
		"email":   true,
	}
	if !validTransports[config.Notify.Transport] {
		return fmt.Errorf("geçersiz bildirim yöntemi: %s", config.Notify.Transport)
	}
	if config.Notify.Enabled && config.Notify.Transport == "webhook" && config.Notify.URL == "" {
		return fmt.Errorf("webhook bildirimi için notify.url gerekli")
	}

	return nil
}
