package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/catalogsync/backend/internal/usecase"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Eligibility EligibilityConfig `mapstructure:"eligibility"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Taxonomy    TaxonomyConfig    `mapstructure:"taxonomy"`
	Cache       CacheConfig       `mapstructure:"cache"`
	History     HistoryConfig     `mapstructure:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Report      ReportConfig      `mapstructure:"report"`
	DryRun      bool              `mapstructure:"dry_run"`
}

// EligibilityConfig holds the feed filter criteria. Prices are decimal strings.
type EligibilityConfig struct {
	PriceMin            string   `mapstructure:"price_min" validate:"omitempty,numeric"`
	PriceMax            string   `mapstructure:"price_max" validate:"omitempty,numeric"`
	AcceptableLines     []string `mapstructure:"acceptable_lines"`
	ExclusionSubstrings []string `mapstructure:"exclusion_substrings"`
}

// BatchConfig holds batching and pacing configuration
type BatchConfig struct {
	Size          int           `mapstructure:"size" validate:"gt=0"`
	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"gt=0"`
	WindowDelay   time.Duration `mapstructure:"window_delay" validate:"gte=0"`
	EnableUpdates bool          `mapstructure:"enable_updates"`
}

// FeedConfig describes the feed file
type FeedConfig struct {
	Path      string              `mapstructure:"path"`
	Format    string              `mapstructure:"format" validate:"omitempty,oneof=csv xlsx"`
	Sheet     string              `mapstructure:"sheet"`
	Delimiter string              `mapstructure:"delimiter"`
	Columns   map[string][]string `mapstructure:"columns"`
}

// CatalogConfig holds remote catalog API configuration
type CatalogConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
	AccessToken       string        `mapstructure:"access_token"`
	TokenHeader       string        `mapstructure:"token_header"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gt=0"`
	PageSize          int           `mapstructure:"page_size" validate:"gt=0,lte=250"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures" validate:"gt=0"`
}

// TaxonomyConfig overrides the built-in vocabulary when Vocabulary is non-empty
type TaxonomyConfig struct {
	DefaultCategory string                    `mapstructure:"default_category" validate:"required"`
	Vocabulary      []usecase.VocabularyEntry `mapstructure:"vocabulary"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	Type        string        `mapstructure:"type" validate:"oneof=memory redis"`
	RedisURL    string        `mapstructure:"redis_url" validate:"required_if=Type redis"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl" validate:"gte=0"`
	LockTTL     time.Duration `mapstructure:"lock_ttl" validate:"gte=0"`
}

// HistoryConfig locates the run history database
type HistoryConfig struct {
	Path string `mapstructure:"path" validate:"required"`
	// Retention prunes runs older than this after each sync; zero keeps everything
	Retention time.Duration `mapstructure:"retention" validate:"gte=0"`
}

// MetricsConfig controls where a sync run publishes its metrics. The CLI
// pushes to a Pushgateway when PushgatewayURL is set; the stats server always
// serves /metrics.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job" validate:"required"`
}

// ServerConfig holds stats server configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port" validate:"required"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ReportConfig controls run report detail
type ReportConfig struct {
	ErrorSampleSize int `mapstructure:"error_sample_size" validate:"gt=0"`
}

// Load loads configuration from .env, environment variables and config files
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file; an empty path searches the default locations
func LoadFile(path string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/catalogsync/")
	}

	v.SetEnvPrefix("CATALOGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads ./.env into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading .env: %w", err)
	}
	return nil
}

// setDefaults registers every key so environment variables can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("dry_run", false)

	v.SetDefault("eligibility.price_min", "0")
	v.SetDefault("eligibility.price_max", "")
	v.SetDefault("eligibility.acceptable_lines", []string{})
	v.SetDefault("eligibility.exclusion_substrings", []string{})

	v.SetDefault("batch.size", 10)
	v.SetDefault("batch.max_concurrent", 3)
	v.SetDefault("batch.window_delay", "1s")
	v.SetDefault("batch.enable_updates", true)

	v.SetDefault("feed.path", "")
	v.SetDefault("feed.format", "")
	v.SetDefault("feed.sheet", "")
	v.SetDefault("feed.delimiter", "")

	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.access_token", "")
	v.SetDefault("catalog.token_header", "X-Access-Token")
	v.SetDefault("catalog.requests_per_second", 2.0)
	v.SetDefault("catalog.burst", 4)
	v.SetDefault("catalog.page_size", 250)
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.breaker_failures", 5)

	v.SetDefault("taxonomy.default_category", usecase.DefaultCategory)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.snapshot_ttl", "15m")
	v.SetDefault("cache.lock_ttl", "1h")

	v.SetDefault("history.path", "catalogsync.db")
	v.SetDefault("history.retention", "0s")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "catalogsync")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("report.error_sample_size", 20)
}

var validate10 = validator.New(validator.WithRequiredStructEnabled())

// validate checks struct tags plus the cross-field price rule
func validate(config *Config) error {
	if err := validate10.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	if config.Eligibility.PriceMin != "" && config.Eligibility.PriceMax != "" {
		lo, _ := decimal.NewFromString(config.Eligibility.PriceMin)
		hi, _ := decimal.NewFromString(config.Eligibility.PriceMax)
		if lo.GreaterThan(hi) {
			return fmt.Errorf("%w: eligibility.price_min %s exceeds price_max %s", domain.ErrInvalidConfig, lo, hi)
		}
	}

	for i, e := range config.Taxonomy.Vocabulary {
		if strings.TrimSpace(e.Keyword) == "" || strings.TrimSpace(e.Category) == "" {
			return fmt.Errorf("%w: taxonomy.vocabulary[%d] needs keyword and category", domain.ErrInvalidConfig, i)
		}
	}

	return nil
}

// ValidateSync checks the settings only a sync run needs
func (c *Config) ValidateSync() error {
	var missing []string
	if c.Catalog.BaseURL == "" {
		missing = append(missing, "catalog.base_url (CATALOGSYNC_CATALOG_BASE_URL)")
	}
	if c.Catalog.AccessToken == "" {
		missing = append(missing, "catalog.access_token (CATALOGSYNC_CATALOG_ACCESS_TOKEN)")
	}
	if c.Eligibility.PriceMax == "" {
		missing = append(missing, "eligibility.price_max (CATALOGSYNC_ELIGIBILITY_PRICE_MAX)")
	}
	if c.Feed.Path == "" {
		missing = append(missing, "feed.path (CATALOGSYNC_FEED_PATH)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Criteria converts the eligibility section
func (c *Config) Criteria() (domain.EligibilityCriteria, error) {
	criteria := domain.EligibilityCriteria{
		AcceptableLines:     c.Eligibility.AcceptableLines,
		ExclusionSubstrings: c.Eligibility.ExclusionSubstrings,
	}
	var err error
	if c.Eligibility.PriceMin != "" {
		if criteria.PriceMin, err = decimal.NewFromString(c.Eligibility.PriceMin); err != nil {
			return criteria, fmt.Errorf("%w: eligibility.price_min: %v", domain.ErrInvalidConfig, err)
		}
	}
	if criteria.PriceMax, err = decimal.NewFromString(c.Eligibility.PriceMax); err != nil {
		return criteria, fmt.Errorf("%w: eligibility.price_max: %v", domain.ErrInvalidConfig, err)
	}
	return criteria, nil
}

// SyncServiceConfig converts the run settings for the sync service
func (c *Config) SyncServiceConfig() (usecase.SyncServiceConfig, error) {
	criteria, err := c.Criteria()
	if err != nil {
		return usecase.SyncServiceConfig{}, err
	}
	return usecase.SyncServiceConfig{
		Criteria: criteria,
		Batch: usecase.BatchConfig{
			BatchSize:            c.Batch.Size,
			MaxConcurrentBatches: c.Batch.MaxConcurrent,
			WindowDelay:          c.Batch.WindowDelay,
			DryRun:               c.DryRun,
		},
		EnableUpdates:   c.Batch.EnableUpdates,
		SnapshotTTL:     c.Cache.SnapshotTTL,
		LockTTL:         c.Cache.LockTTL,
		ErrorSampleSize: c.Report.ErrorSampleSize,
	}, nil
}

// Vocabulary builds the taxonomy vocabulary, falling back to the built-in entries
func (c *Config) Vocabulary() (*usecase.Vocabulary, error) {
	entries := c.Taxonomy.Vocabulary
	if len(entries) == 0 {
		entries = usecase.DefaultVocabularyEntries()
	}
	return usecase.NewVocabulary(c.Taxonomy.DefaultCategory, entries)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
