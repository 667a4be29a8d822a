package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Settings struct {
	Scan  ScanConfig  `mapstructure:"scan"`
	Store StoreConfig `mapstructure:"store"`
	Paths PathsConfig `mapstructure:"paths"`
	Admin AdminConfig `mapstructure:"admin"`
	Intel IntelConfig `mapstructure:"intel"`
	Log   LogConfig   `mapstructure:"log"`
}

type ScanConfig struct {
	IntervalMinutes       int `mapstructure:"interval_minutes"`
	Concurrency           int `mapstructure:"concurrency"`
	ColdStartCap          int `mapstructure:"cold_start_cap"`
	AgeWindowDays         int `mapstructure:"age_window_days"`
	CompactionDays        int `mapstructure:"compaction_days"`
	HistorySize           int `mapstructure:"history_size"`
	BypassCap             int `mapstructure:"bypass_cap"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	PolitenessSeconds     int `mapstructure:"politeness_seconds"`
}

type StoreConfig struct {
	Type     string `mapstructure:"type"` // "file" (default), "valkey" or "memory"
	Dir      string `mapstructure:"dir"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	Key      string `mapstructure:"key"`
}

type PathsConfig struct {
	Sources string `mapstructure:"sources"`
	Tenants string `mapstructure:"tenants"`
}

type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

type IntelConfig struct {
	NVDEnabled bool   `mapstructure:"nvd_enabled"`
	NVDAPIKey  string `mapstructure:"nvd_api_key"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads settings from path, when given, and INTEL_* environment
// variables on top of the defaults.
func Load(path string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.interval_minutes", 30)
	v.SetDefault("scan.concurrency", 5)
	v.SetDefault("scan.cold_start_cap", 3)
	v.SetDefault("scan.age_window_days", 7)
	v.SetDefault("scan.compaction_days", 7)
	v.SetDefault("scan.history_size", 2000)
	v.SetDefault("scan.bypass_cap", 1)
	v.SetDefault("scan.request_timeout_seconds", 30)
	v.SetDefault("scan.politeness_seconds", 2)
	v.SetDefault("store.type", "file")
	v.SetDefault("store.dir", "data")
	v.SetDefault("store.address", "localhost:6379")
	v.SetDefault("store.password", "")
	v.SetDefault("store.key", "intel")
	v.SetDefault("paths.sources", "config/sources.yaml")
	v.SetDefault("paths.tenants", "config/tenants.yaml")
	v.SetDefault("admin.addr", ":9090")
	v.SetDefault("intel.nvd_enabled", true)
	v.SetDefault("intel.nvd_api_key", "")
	v.SetDefault("log.level", "info")
}

// Validate enforces positive tunables and a known store type.
func (s Settings) Validate() error {
	var errs []error
	positive := map[string]int{
		"scan.interval_minutes":        s.Scan.IntervalMinutes,
		"scan.concurrency":             s.Scan.Concurrency,
		"scan.cold_start_cap":          s.Scan.ColdStartCap,
		"scan.age_window_days":         s.Scan.AgeWindowDays,
		"scan.compaction_days":         s.Scan.CompactionDays,
		"scan.history_size":            s.Scan.HistorySize,
		"scan.bypass_cap":              s.Scan.BypassCap,
		"scan.request_timeout_seconds": s.Scan.RequestTimeoutSeconds,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	if s.Scan.PolitenessSeconds < 0 {
		errs = append(errs, fmt.Errorf("scan.politeness_seconds must be >= 0"))
	}
	switch s.Store.Type {
	case "file":
		if s.Store.Dir == "" {
			errs = append(errs, fmt.Errorf("store.dir must be set for the file store"))
		}
	case "valkey":
		if s.Store.Address == "" {
			errs = append(errs, fmt.Errorf("store.address must be set for the valkey store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not one of file, valkey, memory", s.Store.Type))
	}
	return errors.Join(errs...)
}

func (s ScanConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s ScanConfig) AgeWindow() time.Duration {
	return time.Duration(s.AgeWindowDays) * 24 * time.Hour
}

func (s ScanConfig) CompactionInterval() time.Duration {
	return time.Duration(s.CompactionDays) * 24 * time.Hour
}

func (s ScanConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

func (s ScanConfig) Politeness() time.Duration {
	return time.Duration(s.PolitenessSeconds) * time.Second
}
