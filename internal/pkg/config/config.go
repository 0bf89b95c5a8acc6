package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is one of auto, json or text. auto picks text on a terminal.
	LogFormat string `env:"LOG_FORMAT" envDefault:"auto"`

	LogPath       string `env:"RECON_LOG_PATH" envDefault:"logs-storage/all-time.log"`
	OutputPath    string `env:"RECON_OUTPUT_PATH" envDefault:"results/cards-info.csv"`
	RevisedPath   string `env:"RECON_REVISED_PATH" envDefault:"results/cards-info-revised.csv"`
	AttemptsPath  string `env:"RECON_ATTEMPTS_PATH" envDefault:"results/payment-attempts.csv"`
	LedgerPath    string `env:"RECON_LEDGER_PATH"`
	LedgerColumn  string `env:"RECON_LEDGER_COLUMN" envDefault:"Account"`
	RulesPath     string `env:"RECON_RULES_PATH"`
	ProgressEvery int    `env:"RECON_PROGRESS_EVERY" envDefault:"100000"`
	MaxLineSize   int    `env:"RECON_MAX_LINE_BYTES" envDefault:"4194304"`

	BatchConcurrency int `env:"BATCH_CONCURRENCY" envDefault:"20"`

	// QueryRate limits external queries per second. 0 means unlimited.
	QueryRate     float64       `env:"BATCH_QUERY_RATE" envDefault:"0"`
	QueryBurst    int           `env:"BATCH_QUERY_BURST" envDefault:"20"`
	QueryTimeout  time.Duration `env:"BATCH_QUERY_TIMEOUT" envDefault:"2m"`
	SearchBackend string        `env:"BATCH_SEARCH" envDefault:"grep"`
	GrepPath      string        `env:"BATCH_GREP_PATH" envDefault:"grep"`

	// CheckpointStore is one of none, journal, redis or badger.
	CheckpointStore string `env:"CHECKPOINT_STORE" envDefault:"none"`
	CheckpointDir   string `env:"CHECKPOINT_DIR" envDefault:"checkpoints"`
	CheckpointKey   string `env:"CHECKPOINT_KEY" envDefault:"cardrecon:verify"`
	JournalSegment  int64  `env:"CHECKPOINT_SEGMENT_SIZE_BYTES" envDefault:"10485760"`
	JournalMaxDisk  int64  `env:"CHECKPOINT_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"`
	RedisAddr       string `env:"REDIS_ADDR" envDefault:"redis://localhost:6379/0"`

	// DBDriver is postgres or sqlite. Empty disables the database sink.
	DBDriver    string        `env:"DB_DRIVER"`
	DBDSN       string        `env:"DB_DSN"`
	SinkRetries int           `env:"DB_SINK_RETRIES" envDefault:"3"`
	SinkBackoff time.Duration `env:"DB_SINK_BACKOFF" envDefault:"1s"`

	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
