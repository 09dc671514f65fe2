// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Search  SearchConfig  `mapstructure:"search"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// LLMConfig holds the provider endpoint and the per-role model assignments.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`

	Models struct {
		Search     string `mapstructure:"search"`
		Chat       string `mapstructure:"chat"`
		Refinement string `mapstructure:"refinement"`
		Evaluation string `mapstructure:"evaluation"`
	} `mapstructure:"models"`

	PriceTablePath string `mapstructure:"price_table_path"`

	CallTimeout      int `mapstructure:"call_timeout"`      // milliseconds, single provider call
	MaxRetries       int `mapstructure:"max_retries"`       // total provider attempts per call
	RepairRetries    int `mapstructure:"repair_retries"`    // schema repair budget
	MaxConcurrent    int `mapstructure:"max_concurrent"`    // global in-flight cap
	RequestsPerMin   int `mapstructure:"requests_per_min"`  // per-model token bucket
	AnalystWorkers   int `mapstructure:"analyst_workers"`   // dimension fan-out bound
	CandidateTimeout int `mapstructure:"candidate_timeout"` // milliseconds, one candidate evaluation
	ActionTimeout    int `mapstructure:"action_timeout"`    // milliseconds, whole run/refine action
}

// SearchConfig bounds the discovery pipeline.
type SearchConfig struct {
	Ceiling     int `mapstructure:"ceiling"`      // milliseconds, hard stop
	Watchdog    int `mapstructure:"watchdog"`     // milliseconds, no-progress abort
	MaxResults  int `mapstructure:"max_results"`  // candidates returned per search
	WebSeeds    int `mapstructure:"web_seeds"`    // names requested from the discovery call
	CuratedOnly bool `mapstructure:"curated_only"` // skip web discovery entirely
}

// CatalogConfig selects the curated company source.
type CatalogConfig struct {
	CSVPath  string         `mapstructure:"csv_path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// Enabled reports whether a Postgres source is configured at all.
func (p PostgresConfig) Enabled() bool {
	return p.Host != "" && p.Database != ""
}

// SessionConfig controls session lifetime and the optional Redis backend.
type SessionConfig struct {
	TTL           int         `mapstructure:"ttl"`            // milliseconds
	SweepInterval int         `mapstructure:"sweep_interval"` // milliseconds
	HistoryDepth  int         `mapstructure:"history_depth"`  // retained results per session
	SnapshotDepth int         `mapstructure:"snapshot_depth"` // undo ring size
	Redis         RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
