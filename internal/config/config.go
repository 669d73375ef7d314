package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration loaded from env / config file.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Fingerprint   FingerprintConfig   `mapstructure:"fingerprint"`
	Video         VideoConfig         `mapstructure:"video"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Bolt          BoltConfig          `mapstructure:"bolt"`
	Storage       StorageConfig       `mapstructure:"storage"`
	S3            S3Config            `mapstructure:"s3"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Env         string `mapstructure:"env"`  // development | production
	Port        int    `mapstructure:"port"` // HTTP API port
	Version     string `mapstructure:"version"`
	OutputsDir  string `mapstructure:"outputs_dir"` // forensic, clean and reconstructed artifacts
	UploadDir   string `mapstructure:"upload_dir"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

type FingerprintConfig struct {
	Algorithm string `mapstructure:"algorithm"`  // sha256 | blake3
	BlockSize int    `mapstructure:"block_size"` // tile edge in pixels
}

type VideoConfig struct {
	// Keep every Nth decoded frame.
	SampleInterval int    `mapstructure:"sample_interval"`
	FPS            int    `mapstructure:"fps"`
	FFmpegPath     string `mapstructure:"ffmpeg_path"`
}

type RegistryConfig struct {
	Backend string `mapstructure:"backend"` // "file", "bolt", "postgres"
	Path    string `mapstructure:"path"`
	// OnCorrupt is "fail" or "reset".
	OnCorrupt string `mapstructure:"on_corrupt"`
}

type LedgerConfig struct {
	Backend string `mapstructure:"backend"` // "file", "bolt", "postgres"
	Path    string `mapstructure:"path"`
}

// BoltConfig is shared by the registry and ledger when either uses bolt;
// a bolt file can only be opened once per process.
type BoltConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Backend    string `mapstructure:"backend"`     // "s3", "fs", "multi"
	FSRoot     string `mapstructure:"fs_root"`     // Root directory for block files
	FramesRoot string `mapstructure:"frames_root"` // Root directory for sampled video frames
	// Compression is "none", "zstd" or "lz4".
	Compression string `mapstructure:"compression"`
	// EncryptionKey is a hex AES-256 key; empty disables at-rest encryption.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// S3Config holds credentials for an S3-compatible provider.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// ForcePathStyle must be true for Garage / MinIO
	ForcePathStyle bool `mapstructure:"force_path_style"`
	// StorageClass e.g. STANDARD, REDUCED_REDUNDANCY
	StorageClass string `mapstructure:"storage_class"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	// Max concurrent workers processing queued tasks
	Concurrency int `mapstructure:"concurrency"`
	// How often the ledger audit task is scheduled; 0 disables it.
	ValidateInterval time.Duration `mapstructure:"validate_interval"`
}

type AuthConfig struct {
	JWTSecret     string         `mapstructure:"jwt_secret"`
	JWTExpiration time.Duration  `mapstructure:"jwt_expiration"`
	APIKeys       []APIKeyConfig `mapstructure:"api_keys"`
}

// APIKeyConfig binds a bcrypt-hashed API key to the owner it authenticates.
type APIKeyConfig struct {
	Owner  string `mapstructure:"owner"`
	Prefix string `mapstructure:"prefix"`
	Hash   string `mapstructure:"hash"`
}

type NotificationsConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

// Load reads configuration from environment variables and optional config file.
// Environment variable prefix: CHAINVERIFY_
// Example: CHAINVERIFY_APP_PORT=8080.
func Load() (*Config, error) {
	v := viper.New()

	// ---------- defaults ----------
	v.SetDefault("app.name", "chainverify")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.outputs_dir", "./outputs")
	v.SetDefault("app.upload_dir", "./data/uploads")
	v.SetDefault("app.max_upload_mb", 256)

	v.SetDefault("fingerprint.algorithm", "sha256")
	v.SetDefault("fingerprint.block_size", 32)

	v.SetDefault("video.sample_interval", 5)
	v.SetDefault("video.fps", 6)
	v.SetDefault("video.ffmpeg_path", "ffmpeg")

	v.SetDefault("registry.backend", "file")
	v.SetDefault("registry.path", "./data/registry.json")
	v.SetDefault("registry.on_corrupt", "fail")

	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "./data/ledger.json")

	v.SetDefault("bolt.path", "./data/chainverify.db")
	v.SetDefault("bolt.timeout", "1s")

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.fs_root", "./data/blocks")
	v.SetDefault("storage.frames_root", "./data/frames")
	v.SetDefault("storage.compression", "none")
	v.SetDefault("storage.encryption_key", "")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", true)
	v.SetDefault("s3.storage_class", "STANDARD")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.validate_interval", "1h")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiration", "24h")

	v.SetDefault("notifications.slack_webhook_url", "")

	// ---------- config file (optional) ----------
	v.SetConfigName("chainverify")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/chainverify")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	// ---------- env vars ----------
	v.SetEnvPrefix("CHAINVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Fingerprint.BlockSize <= 0 {
		return fmt.Errorf("config: fingerprint.block_size must be positive, got %d", c.Fingerprint.BlockSize)
	}
	if c.Video.SampleInterval <= 0 {
		return fmt.Errorf("config: video.sample_interval must be positive, got %d", c.Video.SampleInterval)
	}
	if c.Video.FPS <= 0 {
		return fmt.Errorf("config: video.fps must be positive, got %d", c.Video.FPS)
	}
	switch c.Registry.OnCorrupt {
	case "fail", "reset":
	default:
		return fmt.Errorf("config: registry.on_corrupt must be fail or reset, got %q", c.Registry.OnCorrupt)
	}
	return nil
}
