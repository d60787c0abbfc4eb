package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultSavePath            = "data"
	DefaultCatalogPath         = "catalog.db" // Relative to SavePath if not absolute
	DefaultSearchIndexPath     = "catalog.bleve"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultAPIBaseURL          = "https://api.scryfall.com"
	DefaultAPIDelayMs          = 100
	DefaultAPIClientTimeoutSec = 120
	DefaultMaxRetries          = 3
	DefaultInitialRetryDelayMs = 1000

	// Catalog specific defaults
	DefaultCatalogBulkType     = "default_cards"
	DefaultCatalogMaxAgeHours  = 23
	DefaultCatalogSearchIndex  = true
	DefaultCatalogKeepHistory  = 2

	// Build specific defaults
	DefaultBuildConcurrency = 8
	DefaultBuildSheetCols   = 10
	DefaultBuildSheetRows   = 7
	DefaultBuildBackURL     = "https://ttsmagic.cards/files/card_data/backing.jpg"
	DefaultBuildFilesURL    = "http://localhost:8080/files/"
)

// Config holds the application's configuration settings.
type Config struct {
	SavePath            string        `mapstructure:"savepath"`
	CatalogPath         string        `mapstructure:"catalogpath"`
	SearchIndexPath     string        `mapstructure:"searchindexpath"`
	LogLevel            string        `mapstructure:"loglevel"`
	LogFormat           string        `mapstructure:"logformat"`
	APIBaseURL          string        `mapstructure:"apibaseurl"`
	LogAPIRequests      bool          `mapstructure:"logapirequests"`
	APIDelayMs          int           `mapstructure:"apidelayms"`
	APIClientTimeoutSec int           `mapstructure:"apiclienttimeoutsec"`
	MaxRetries          int           `mapstructure:"maxretries"`
	InitialRetryDelayMs int           `mapstructure:"initialretrydelayms"`
	Catalog             CatalogConfig `mapstructure:"catalog"`
	Build               BuildConfig   `mapstructure:"build"`
}

// CatalogConfig holds settings specific to the card catalog.
type CatalogConfig struct {
	BulkType    string `mapstructure:"bulktype"`
	MaxAgeHours int    `mapstructure:"maxagehours"`
	SearchIndex bool   `mapstructure:"searchindex"`
	KeepHistory int    `mapstructure:"keephistory"`
}

// BuildConfig holds settings specific to deck builds.
type BuildConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	SheetCols   int    `mapstructure:"sheetcols"`
	SheetRows   int    `mapstructure:"sheetrows"`
	BackURL     string `mapstructure:"backurl"`
	FilesURL    string `mapstructure:"filesurl"`
}

// SetViperDefaults configures Viper with the application's default values.
func SetViperDefaults(v *viper.Viper) {
	v.SetDefault("savepath", DefaultSavePath)
	v.SetDefault("catalogpath", DefaultCatalogPath)
	v.SetDefault("searchindexpath", DefaultSearchIndexPath)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("apibaseurl", DefaultAPIBaseURL)
	v.SetDefault("logapirequests", false)
	v.SetDefault("apidelayms", DefaultAPIDelayMs)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("maxretries", DefaultMaxRetries)
	v.SetDefault("initialretrydelayms", DefaultInitialRetryDelayMs)

	v.SetDefault("catalog.bulktype", DefaultCatalogBulkType)
	v.SetDefault("catalog.maxagehours", DefaultCatalogMaxAgeHours)
	v.SetDefault("catalog.searchindex", DefaultCatalogSearchIndex)
	v.SetDefault("catalog.keephistory", DefaultCatalogKeepHistory)

	v.SetDefault("build.concurrency", DefaultBuildConcurrency)
	v.SetDefault("build.sheetcols", DefaultBuildSheetCols)
	v.SetDefault("build.sheetrows", DefaultBuildSheetRows)
	v.SetDefault("build.backurl", DefaultBuildBackURL)
	v.SetDefault("build.filesurl", DefaultBuildFilesURL)
}

// Load reads the configuration from the given file (or the standard search
// paths when cfgFile is empty), applies env overrides, and unmarshals into a
// Config struct.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetViperDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "ttsdeck"))
		}
	}

	v.SetEnvPrefix("TTSDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debug("No config file found, using defaults and flags")
		} else {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		log.Infof("Using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.applyPathDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyPathDefaults makes the store paths absolute relative to SavePath.
func (c *Config) applyPathDefaults() {
	if c.CatalogPath != "" && !filepath.IsAbs(c.CatalogPath) {
		c.CatalogPath = filepath.Join(c.SavePath, c.CatalogPath)
	}
	if c.SearchIndexPath != "" && !filepath.IsAbs(c.SearchIndexPath) {
		c.SearchIndexPath = filepath.Join(c.SavePath, c.SearchIndexPath)
	}
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.SavePath == "" {
		return fmt.Errorf("savepath must not be empty")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("apibaseurl must not be empty")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("maxretries must be at least 1, got %d", c.MaxRetries)
	}
	if c.Build.Concurrency < 1 {
		return fmt.Errorf("build.concurrency must be at least 1, got %d", c.Build.Concurrency)
	}
	if c.Build.SheetCols < 2 || c.Build.SheetRows < 2 {
		return fmt.Errorf("build sheet grid must be at least 2x2, got %dx%d", c.Build.SheetCols, c.Build.SheetRows)
	}
	// TTS caps custom decks at 10x7 per sheet image.
	if c.Build.SheetCols > 10 || c.Build.SheetRows > 7 {
		return fmt.Errorf("build sheet grid must be at most 10x7, got %dx%d", c.Build.SheetCols, c.Build.SheetRows)
	}
	return nil
}

// AssetsPath returns the root directory of the card image cache.
func (c Config) AssetsPath() string {
	return filepath.Join(c.SavePath, "cards")
}

// DecksPath returns the root directory for rendered deck output.
func (c Config) DecksPath() string {
	return filepath.Join(c.SavePath, "decks")
}
