// Package conf loads and exposes the runtime configuration for the
// transcription service: chunking, retry, provider credentials and limits,
// stores, queue, and janitor tunables.
package conf

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"

	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/logging"
)

// LogConfig defines rotation for the main log file.
type LogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxsizemb"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAgeDays int    `yaml:"maxagedays"`
}

// MainSettings holds application-level settings.
type MainSettings struct {
	Name string    `yaml:"name"`
	Log  LogConfig `yaml:"log"`
}

// ChunkingSettings controls how long recordings are split before transcription.
type ChunkingSettings struct {
	MaxChunkDuration           float64 `yaml:"maxchunkduration"`           // seconds
	OverlapDuration            float64 `yaml:"overlapduration"`            // seconds
	OverlapSimilarityThreshold float64 `yaml:"overlapsimilaritythreshold"` // 0 means default
	ContextSegments            int     `yaml:"contextsegments"`
	SilenceSplit               bool    `yaml:"silencesplit"`
	MinSilenceDuration         float64 `yaml:"minsilenceduration"` // seconds
	SilenceThresholdDb         int     `yaml:"silencethresholddb"`
}

// RetrySettings defines the provider-call retry policy.
type RetrySettings struct {
	MaxRetries      int     `yaml:"maxretries"`
	BaseDelay       float64 `yaml:"basedelay"` // seconds
	MaxDelay        float64 `yaml:"maxdelay"`  // seconds
	ExponentialBase float64 `yaml:"exponentialbase"`
	JitterMax       float64 `yaml:"jittermax"` // seconds
}

// ProviderSettings holds credentials and limits for one STT vendor.
type ProviderSettings struct {
	Enabled        bool    `yaml:"enabled"`
	APIKey         string  `yaml:"apikey"`
	BaseURL        string  `yaml:"baseurl"`
	Model          string  `yaml:"model"`
	RPM            int     `yaml:"rpm"`
	TimeoutSeconds int     `yaml:"timeoutseconds"`
	MaxTokens      int     `yaml:"maxtokens"`   // gemini only
	Temperature    float64 `yaml:"temperature"` // gemini only
}

// ProvidersSettings groups the built-in vendor adapters.
type ProvidersSettings struct {
	Default    string           `yaml:"default"`
	Gemini     ProviderSettings `yaml:"gemini"`
	Whisper    ProviderSettings `yaml:"whisper"`
	ElevenLabs ProviderSettings `yaml:"elevenlabs"`
	HiSpeech   ProviderSettings `yaml:"hispeech"`
	WavAm      ProviderSettings `yaml:"wavam"`
}

// UploadSettings bounds what callers may submit.
type UploadSettings struct {
	MaxSizeMB    int      `yaml:"maxsizemb"`
	AudioFormats []string `yaml:"audioformats"`
	VideoFormats []string `yaml:"videoformats"`
}

// ScratchSettings controls the per-job temp workspace.
type ScratchSettings struct {
	Dir           string  `yaml:"dir"`
	MinFreeFactor float64 `yaml:"minfreefactor"` // required free space as multiple of input size
}

// SQLiteSettings for the embedded job store.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MySQLSettings for the shared job store.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// JobStoreSettings selects the relational backend.
type JobStoreSettings struct {
	Debug  bool           `yaml:"debug"`
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// DiskStoreSettings for the local-filesystem object store.
type DiskStoreSettings struct {
	Path string `yaml:"path"`
}

// SFTPStoreSettings for the SFTP-backed object store.
type SFTPStoreSettings struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	KeyFile  string `yaml:"keyfile"`
	BasePath string `yaml:"basepath"`
}

// FTPStoreSettings for the FTP-backed object store.
type FTPStoreSettings struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	BasePath string `yaml:"basepath"`
}

// ObjectStoreSettings selects where job blobs live.
type ObjectStoreSettings struct {
	Backend string            `yaml:"backend"` // disk | sftp | ftp
	Disk    DiskStoreSettings `yaml:"disk"`
	SFTP    SFTPStoreSettings `yaml:"sftp"`
	FTP     FTPStoreSettings  `yaml:"ftp"`
}

// QueueSettings for the Redis-backed task queue.
type QueueSettings struct {
	Addr               string `yaml:"addr"`
	Password           string `yaml:"password"`
	DB                 int    `yaml:"db"`
	TranscriptionQueue string `yaml:"transcriptionqueue"`
	WebhookQueue       string `yaml:"webhookqueue"`
	Concurrency        int    `yaml:"concurrency"`
	VisibilitySeconds  int    `yaml:"visibilityseconds"`
}

// JanitorSettings for stale-job recovery and retention eviction.
type JanitorSettings struct {
	StaleMinutes  int `yaml:"staleminutes"`
	RetentionDays int `yaml:"retentiondays"` // <= 0 disables eviction
}

// WebhookSettings for completion callbacks.
type WebhookSettings struct {
	MaxAttempts    int `yaml:"maxattempts"`
	TimeoutSeconds int `yaml:"timeoutseconds"`
}

// NotifySettings for operator push notifications (shoutrrr URLs).
type NotifySettings struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"`
}

// HTTPSettings for the operational health/metrics endpoint.
type HTTPSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SentrySettings for optional error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Settings is the root configuration object.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main        MainSettings        `yaml:"main"`
	Chunking    ChunkingSettings    `yaml:"chunking"`
	Retry       RetrySettings       `yaml:"retry"`
	Providers   ProvidersSettings   `yaml:"providers"`
	Upload      UploadSettings      `yaml:"upload"`
	Scratch     ScratchSettings     `yaml:"scratch"`
	JobStore    JobStoreSettings    `yaml:"jobstore"`
	ObjectStore ObjectStoreSettings `yaml:"objectstore"`
	Queue       QueueSettings       `yaml:"queue"`
	Janitor     JanitorSettings     `yaml:"janitor"`
	Webhook     WebhookSettings     `yaml:"webhook"`
	Notify      NotifySettings      `yaml:"notify"`
	HTTP        HTTPSettings        `yaml:"http"`
	Sentry      SentrySettings      `yaml:"sentry"`
}

// Provider returns the settings block for a named provider, nil if unknown.
func (s *Settings) Provider(name string) *ProviderSettings {
	switch name {
	case "gemini":
		return &s.Providers.Gemini
	case "whisper":
		return &s.Providers.Whisper
	case "elevenlabs":
		return &s.Providers.ElevenLabs
	case "hispeech":
		return &s.Providers.HiSpeech
	case "wavam":
		return &s.Providers.WavAm
	default:
		return nil
	}
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	// Push rotation settings to the logging package so file loggers rotate
	// the way the operator configured.
	logging.SetRotation(logging.RotationSettings{
		MaxSizeMB:  settings.Main.Log.MaxSizeMB,
		MaxBackups: settings.Main.Log.MaxBackups,
		MaxAgeDays: settings.Main.Log.MaxAgeDays,
	})

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("HYESCRIBE")
	viper.AutomaticEnv()

	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file is fine for containerized deployments, env and
			// defaults carry the day.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetSettings returns the current settings instance without lazy loading.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				logging.Fatal("Error loading settings", "error", err)
			}
		}
	})
	return GetSettings()
}

// UpdateSettings replaces the current settings instance. Used by tests and
// by the support command when loading a sanitized copy.
func UpdateSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	once.Do(func() {})
	settingsInstance = s
}
