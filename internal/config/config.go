package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN             string `yaml:"dsn" validate:"required"`
	UpsertChunkSize int    `yaml:"upsertChunkSize"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" validate:"required"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// UpstreamConfig points at the appraisal district's endpoints. BaseURL is
// the public search UI (used by the DOM fallback and token capture),
// APIURL the JSON search service.
type UpstreamConfig struct {
	BaseURL string `yaml:"baseURL" validate:"required,url"`
	APIURL  string `yaml:"apiURL" validate:"required,url"`
	Year    string `yaml:"year" validate:"required"`
}

type ScraperConfig struct {
	TimeoutMs        int   `yaml:"timeoutMs"`
	MaxAttempts      int   `yaml:"maxAttempts"`
	RetryBaseDelayMs int   `yaml:"retryBaseDelayMs"`
	PageSizes        []int `yaml:"pageSizes" validate:"omitempty,dive,gt=0"`
	MaxPages         int   `yaml:"maxPages"`
	DOMRowLimit      int   `yaml:"domRowLimit"`
	RespectRobots    bool  `yaml:"respectRobots"`
	// BrowserURL is a remote devtools URL for rod; empty launches a
	// local browser.
	BrowserURL       string `yaml:"browserURL"`
	SnapshotMaxBytes int    `yaml:"snapshotMaxBytes"`
}

type TokenConfig struct {
	// Value seeds the provider with a static token (operator-supplied or
	// from a secret mount). Empty means the first job capture must win one.
	Value                  string `yaml:"value"`
	AutoRefresh            bool   `yaml:"autoRefresh"`
	RefreshIntervalMinutes int    `yaml:"refreshIntervalMinutes"`
}

type QueueConfig struct {
	VisibilityTimeoutMs int `yaml:"visibilityTimeoutMs"`
	PollIntervalMs      int `yaml:"pollIntervalMs"`
	MaxAttempts         int `yaml:"maxAttempts"`
	RetryBaseDelayMs    int `yaml:"retryBaseDelayMs"`
	RemoveOnComplete    int `yaml:"removeOnComplete"`
	RemoveOnFail        int `yaml:"removeOnFail"`
}

type WorkerConfig struct {
	Concurrency     int `yaml:"concurrency"`
	ShutdownGraceMs int `yaml:"shutdownGraceMs"`
}

type DriverConfig struct {
	TargetProperties      int `yaml:"targetProperties" validate:"omitempty,gt=0"`
	BatchSize             int `yaml:"batchSize"`
	DelayBetweenBatchesMs int `yaml:"delayBetweenBatchesMs"`
	CheckIntervalMs       int `yaml:"checkIntervalMs"`
	QueueRefillThreshold  int `yaml:"queueRefillThreshold"`
	// FreshStart drops leftover pending jobs from a previous run instead
	// of resuming them.
	FreshStart bool `yaml:"freshStart"`
	Priority   int  `yaml:"priority"`
}

type GeneratorConfig struct {
	OptimizationInterval   int `yaml:"optimizationInterval"`
	RefreshIntervalMinutes int `yaml:"refreshIntervalMinutes"`
	// MaxAttemptsFactor bounds candidate draws per batch at size*factor.
	MaxAttemptsFactor int `yaml:"maxAttemptsFactor"`
}

type OptimizerConfig struct {
	MinEfficiency      float64 `yaml:"minEfficiency"`
	MinSuccessRate     float64 `yaml:"minSuccessRate" validate:"omitempty,gte=0,lte=1"`
	RecentDays         int     `yaml:"recentDays"`
	HighPerformerLimit int     `yaml:"highPerformerLimit"`
	SuggestionLimit    int     `yaml:"suggestionLimit"`
}

// RetentionConfig controls clearing of bulky failure snapshots from old
// job rows. Rows themselves are never deleted; term history needs them.
type RetentionConfig struct {
	Enabled              bool `yaml:"enabled"`
	SweepIntervalMinutes int  `yaml:"sweepIntervalMinutes"`
	SnapshotDays         int  `yaml:"snapshotDays"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Token     TokenConfig     `yaml:"token"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Driver    DriverConfig    `yaml:"driver"`
	Generator GeneratorConfig `yaml:"generator"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	return &cfg
}
