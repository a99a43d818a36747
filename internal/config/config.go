// Package config loads tasbridge.cfg.json through viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/framestep/tasbridge/internal/hotkey"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

// FileName is looked up in the config directory.
const FileName = "tasbridge.cfg.json"

// ErrNotFound is returned by Load when there is no config file. Defaults are
// still in effect.
var ErrNotFound = errors.New("config file not found")

// PlaybackConfig holds the playback speeds and the script played on start.
type PlaybackConfig struct {
	FastForwardSpeed float64 `json:"fastForwardSpeed" mapstructure:"fastForwardSpeed"`
	SlowForwardSpeed float64 `json:"slowForwardSpeed" mapstructure:"slowForwardSpeed"`
	FPS              int     `json:"fps" mapstructure:"fps"`
	ScriptPath       string  `json:"scriptPath" mapstructure:"scriptPath"`
	Level            string  `json:"level" mapstructure:"level"`
}

// StudioConfig holds the synchronization channel settings.
type StudioConfig struct {
	Address             string        `json:"address" mapstructure:"address"`
	RequestTimeout      time.Duration `json:"requestTimeout" mapstructure:"requestTimeout"`
	AutoCompleteTimeout time.Duration `json:"autoCompleteTimeout" mapstructure:"autoCompleteTimeout"`
}

// URL is the websocket URL the editor dials.
func (c StudioConfig) URL() string {
	return "ws://" + c.Address + "/studio"
}

// HistoryConfig holds run history storage settings.
type HistoryConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Driver        string        `json:"driver" mapstructure:"driver"`
	DSN           string        `json:"dsn" mapstructure:"dsn"`
	Path          string        `json:"path" mapstructure:"path"`
	DumpPath      string        `json:"dumpPath" mapstructure:"dumpPath"`
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
}

// InfluxConfig holds telemetry settings.
type InfluxConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	URL         string `json:"url" mapstructure:"url"`
	Token       string `json:"token" mapstructure:"token"`
	Org         string `json:"org" mapstructure:"org"`
	BackupPath  string `json:"backupPath" mapstructure:"backupPath"`
	SampleEvery int    `json:"sampleEvery" mapstructure:"sampleEvery"`
}

// GraylogConfig holds the GELF sink settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./taslogs")

	viper.SetDefault("playback.fastForwardSpeed", 10.0)
	viper.SetDefault("playback.slowForwardSpeed", 0.1)
	viper.SetDefault("playback.fps", 60)
	viper.SetDefault("playback.scriptPath", "")
	viper.SetDefault("playback.level", "1A")

	viper.SetDefault("studio.address", "127.0.0.1:32270")
	viper.SetDefault("studio.requestTimeout", "1s")
	viper.SetDefault("studio.autoCompleteTimeout", "15s")

	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.driver", "sqlite")
	viper.SetDefault("history.dsn", "host=localhost port=5432 user=postgres password=postgres dbname=tasbridge sslmode=disable")
	viper.SetDefault("history.path", "./taslogs/history.db")
	viper.SetDefault("history.dumpPath", "")
	viper.SetDefault("history.flushInterval", "2s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "tasbridge")
	viper.SetDefault("influx.backupPath", "./taslogs/telemetry.lp.gz")
	viper.SetDefault("influx.sampleEvery", 60)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "tasbridge")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load sets the defaults and reads FileName from configDir. When the file
// does not exist the defaults stay in effect and ErrNotFound is returned.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", ErrNotFound)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		FastForwardSpeed: viper.GetFloat64("playback.fastForwardSpeed"),
		SlowForwardSpeed: viper.GetFloat64("playback.slowForwardSpeed"),
		FPS:              viper.GetInt("playback.fps"),
		ScriptPath:       viper.GetString("playback.scriptPath"),
		Level:            viper.GetString("playback.level"),
	}
}

func GetStudioConfig() StudioConfig {
	return StudioConfig{
		Address:             viper.GetString("studio.address"),
		RequestTimeout:      viper.GetDuration("studio.requestTimeout"),
		AutoCompleteTimeout: viper.GetDuration("studio.autoCompleteTimeout"),
	}
}

func GetHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:       viper.GetBool("history.enabled"),
		Driver:        viper.GetString("history.driver"),
		DSN:           viper.GetString("history.dsn"),
		Path:          viper.GetString("history.path"),
		DumpPath:      viper.GetString("history.dumpPath"),
		FlushInterval: viper.GetDuration("history.flushInterval"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:     viper.GetBool("influx.enabled"),
		URL:         viper.GetString("influx.url"),
		Token:       viper.GetString("influx.token"),
		Org:         viper.GetString("influx.org"),
		BackupPath:  viper.GetString("influx.backupPath"),
		SampleEvery: viper.GetInt("influx.sampleEvery"),
	}
}

func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetBindings returns the configured hotkey bindings layered over the defaults.
func GetBindings() (studioproto.Bindings, error) {
	raw := viper.GetStringMapStringSlice("bindings")
	if len(raw) == 0 {
		return hotkey.DefaultBindings(), nil
	}
	b, err := hotkey.ParseBindings(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid bindings: %w", err)
	}
	return b, nil
}
