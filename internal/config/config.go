// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	PNCP      PNCPConfig      `mapstructure:"pncp"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Items     ItemsConfig     `mapstructure:"items"`
	Transform TransformConfig `mapstructure:"transform"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_life_minutes"`
}

// PNCPConfig points at the upstream API.
type PNCPConfig struct {
	ListURL        string `mapstructure:"list_url"`
	ItemsBase      string `mapstructure:"items_base"`
	UserAgent      string `mapstructure:"user_agent"`
	PageSize       int    `mapstructure:"page_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CrawlConfig governs the watermark crawler.
type CrawlConfig struct {
	Categories      []int             `mapstructure:"categories"`
	CategoryLabels  map[string]string `mapstructure:"category_labels"`
	LookbackDays    int               `mapstructure:"lookback_days"`
	PageWorkers     int               `mapstructure:"page_workers"`
	CategoryWorkers int               `mapstructure:"category_workers"`
	PageDelayMs     int               `mapstructure:"page_delay_ms"`
}

// ItemsConfig governs the sub-item collector.
type ItemsConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	Workers     int `mapstructure:"workers"`
	PageDelayMs int `mapstructure:"page_delay_ms"`
	MaxNotices  int `mapstructure:"max_notices"`
}

// TransformConfig governs the normalization pipeline.
type TransformConfig struct {
	NoticeBatchSize int `mapstructure:"notice_batch_size"`
	ItemBatchSize   int `mapstructure:"item_batch_size"`
	Workers         int `mapstructure:"workers"`
}

// NotifyConfig governs the matching/notification run.
type NotifyConfig struct {
	MaxNotices        int    `mapstructure:"max_notices"`
	MaxItemsPerNotice int    `mapstructure:"max_items_per_notice"`
	PublishedStatus   string `mapstructure:"published_status"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PNCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_life_minutes", 30)
	// The update feed, not the publication feed: a notice reappears there on
	// every status or closing-date change, which the silver upsert depends on.
	v.SetDefault("pncp.list_url", "https://pncp.gov.br/api/consulta/v1/contratacoes/atualizacao")
	v.SetDefault("pncp.items_base", "https://pncp.gov.br/api/pncp/v1")
	v.SetDefault("pncp.user_agent", "pncp-harvester/1.0")
	v.SetDefault("pncp.page_size", 50)
	v.SetDefault("pncp.timeout_seconds", 30)
	v.SetDefault("crawl.categories", []int{6, 8, 9})
	v.SetDefault("crawl.category_labels", map[string]string{
		"6": "Pregão - Eletrônico",
		"8": "Dispensa",
		"9": "Inexigibilidade",
	})
	v.SetDefault("crawl.lookback_days", 7)
	v.SetDefault("crawl.page_workers", 5)
	v.SetDefault("crawl.category_workers", 3)
	v.SetDefault("crawl.page_delay_ms", 200)
	v.SetDefault("items.batch_size", 100)
	v.SetDefault("items.workers", 5)
	v.SetDefault("items.page_delay_ms", 100)
	v.SetDefault("items.max_notices", 0)
	v.SetDefault("transform.notice_batch_size", 500)
	v.SetDefault("transform.item_batch_size", 2000)
	v.SetDefault("transform.workers", 4)
	v.SetDefault("notify.max_notices", 50)
	v.SetDefault("notify.max_items_per_notice", 3)
	v.SetDefault("notify.published_status", "Divulgada no PNCP")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if len(c.Crawl.Categories) == 0 {
		return fmt.Errorf("crawl.categories must not be empty")
	}
	if c.PNCP.PageSize <= 0 || c.PNCP.PageSize > 500 {
		return fmt.Errorf("pncp.page_size must be in (0, 500]")
	}
	if c.PNCP.TimeoutSeconds <= 0 {
		return fmt.Errorf("pncp.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Labels converts the string-keyed category label map into modality codes.
// Unparseable keys are dropped.
func (c CrawlConfig) Labels() map[int]string {
	out := make(map[int]string, len(c.CategoryLabels))
	for k, label := range c.CategoryLabels {
		var code int
		if _, err := fmt.Sscanf(k, "%d", &code); err == nil {
			out[code] = label
		}
	}
	return out
}

// Lookback returns the crawl window fallback as a duration.
func (c CrawlConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// PageDelay returns the polite inter-page delay.
func (c CrawlConfig) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMs) * time.Millisecond
}

// PageDelay returns the polite inter-page delay for item pages.
func (c ItemsConfig) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMs) * time.Millisecond
}

// Timeout returns the upstream HTTP timeout.
func (c PNCPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxConnLifetime returns the pool connection lifetime.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifeMins) * time.Minute
}
