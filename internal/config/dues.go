package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DuesConfig holds the tunables that operators adjust without a redeploy.
type DuesConfig struct {
	Report  ReportConfig  `mapstructure:"report"`
	Pending PendingConfig `mapstructure:"pending"`
	Export  ExportConfig  `mapstructure:"export"`
	Proof   ProofConfig   `mapstructure:"proof"`
}

type ReportConfig struct {
	MaxRecords int `mapstructure:"maxRecords"`
}

type PendingConfig struct {
	MaxRecords int `mapstructure:"maxRecords"`
}

type ExportConfig struct {
	Delimiter string `mapstructure:"delimiter"`
}

type ProofConfig struct {
	MaxBytes     int64    `mapstructure:"maxBytes"`
	AllowedTypes []string `mapstructure:"allowedTypes"`
}

func DefaultDuesConfig() DuesConfig {
	return DuesConfig{
		Report:  ReportConfig{MaxRecords: 5000},
		Pending: PendingConfig{MaxRecords: 500},
		Export:  ExportConfig{Delimiter: ","},
		Proof: ProofConfig{
			MaxBytes: 5 << 20,
			AllowedTypes: []string{
				"image/jpeg",
				"image/png",
				"image/webp",
				"application/pdf",
			},
		},
	}
}

type DuesConfigHolder struct {
	current atomic.Value // holds DuesConfig
}

// NewStaticDuesConfigHolder returns a holder that never reloads.
func NewStaticDuesConfigHolder(cfg DuesConfig) *DuesConfigHolder {
	holder := &DuesConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewDuesConfigHolder() (*DuesConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dues")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/iuran/config")
	v.AddConfigPath("/etc/iuran")
	v.AddConfigPath(".")

	v.SetEnvPrefix("IURAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDuesConfig()
	v.SetDefault("dues.report.maxRecords", defaults.Report.MaxRecords)
	v.SetDefault("dues.pending.maxRecords", defaults.Pending.MaxRecords)
	v.SetDefault("dues.export.delimiter", defaults.Export.Delimiter)
	v.SetDefault("dues.proof.maxBytes", defaults.Proof.MaxBytes)
	v.SetDefault("dues.proof.allowedTypes", defaults.Proof.AllowedTypes)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg DuesConfig
	if err := v.UnmarshalKey("dues", &cfg); err != nil {
		return nil, err
	}
	if err := validateDuesConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticDuesConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DuesConfig
		if err := v.UnmarshalKey("dues", &updated); err != nil {
			log.Printf("[dues-config] reload failed: %v", err)
			return
		}
		if err := validateDuesConfig(updated); err != nil {
			log.Printf("[dues-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[dues-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *DuesConfigHolder) Get() DuesConfig {
	if h == nil {
		return DefaultDuesConfig()
	}
	cfg, ok := h.current.Load().(DuesConfig)
	if !ok {
		return DefaultDuesConfig()
	}
	return cfg
}

func validateDuesConfig(cfg DuesConfig) error {
	if cfg.Report.MaxRecords <= 0 {
		return errors.New("dues.report.maxRecords must be positive")
	}
	if cfg.Pending.MaxRecords <= 0 {
		return errors.New("dues.pending.maxRecords must be positive")
	}
	if len([]rune(cfg.Export.Delimiter)) != 1 {
		return errors.New("dues.export.delimiter must be a single character")
	}
	if cfg.Proof.MaxBytes <= 0 {
		return errors.New("dues.proof.maxBytes must be positive")
	}
	return nil
}
