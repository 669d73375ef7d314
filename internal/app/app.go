// Package app assembles the configured backends into a seal.Service. It is
// shared by the api, worker and CLI binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/db"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/kms"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/ledger"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/notifications"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/seal"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/storage"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/video"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Service  *seal.Service
	Registry registry.Store
	Ledger   *ledger.Ledger
	Blocks   storage.Backend
	// DB is nil unless a postgres backend is configured.
	DB *db.DB

	bolt *bolt.DB
}

// Build opens every configured backend. Close releases them.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	alg, err := fingerprint.ParseAlgorithm(cfg.Fingerprint.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	if cfg.Registry.Backend == "bolt" || cfg.Ledger.Backend == "bolt" {
		if a.bolt, err = openBolt(cfg.Bolt); err != nil {
			return nil, err
		}
	}
	if cfg.Registry.Backend == "postgres" || cfg.Ledger.Backend == "postgres" {
		if a.DB, err = db.Connect(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := a.DB.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	if a.Registry, err = a.buildRegistry(); err != nil {
		return nil, err
	}
	store, err := a.buildLedgerStore()
	if err != nil {
		return nil, err
	}
	a.Ledger = ledger.New(store, log)

	if a.Blocks, err = BuildBlockStore(ctx, cfg.Storage, cfg.S3); err != nil {
		return nil, err
	}

	codecs := video.NewCodecs(cfg.Video.FFmpegPath)
	a.Service = seal.New(seal.Deps{
		Registry:  a.Registry,
		Ledger:    a.Ledger,
		Blocks:    a.Blocks,
		Extractor: &video.Extractor{Codecs: codecs, Root: cfg.Storage.FramesRoot, Interval: cfg.Video.SampleInterval, Algorithm: alg},
		Assembler: &video.Assembler{Codecs: codecs},
		Notifier:  BuildNotifier(cfg.Notifications, log),
		Log:       log,
	}, seal.Options{
		Algorithm:      alg,
		BlockSize:      cfg.Fingerprint.BlockSize,
		SampleInterval: cfg.Video.SampleInterval,
		FPS:            cfg.Video.FPS,
		OutputsDir:     cfg.App.OutputsDir,
	})

	log.Info("backends ready",
		zap.String("registry", cfg.Registry.Backend),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("provider", a.Blocks.Provider()),
		zap.String("algorithm", string(alg)))
	return a, nil
}

func openBolt(cfg config.BoltConfig) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("app: mkdir: %w", err)
	}
	bdb, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("app: open bolt %s: %w", cfg.Path, err)
	}
	return bdb, nil
}

func (a *App) buildRegistry() (registry.Store, error) {
	cfg := a.Config.Registry
	switch cfg.Backend {
	case "file":
		return registry.NewFileStore(cfg.Path, registry.CorruptPolicy(cfg.OnCorrupt), a.Log), nil
	case "bolt":
		return registry.NewBoltStore(a.bolt)
	case "postgres":
		return a.DB.Records, nil
	default:
		return nil, fmt.Errorf("app: unknown registry backend %q", cfg.Backend)
	}
}

func (a *App) buildLedgerStore() (ledger.Store, error) {
	cfg := a.Config.Ledger
	switch cfg.Backend {
	case "file":
		return ledger.NewFileStore(cfg.Path), nil
	case "bolt":
		return ledger.NewBoltStore(a.bolt)
	case "postgres":
		return a.DB.Ledger, nil
	default:
		return nil, fmt.Errorf("app: unknown ledger backend %q", cfg.Backend)
	}
}

// BuildBlockStore returns the configured block backend, wrapped in the
// compression / encryption envelope when either is enabled.
func BuildBlockStore(ctx context.Context, cfg config.StorageConfig, s3cfg config.S3Config) (storage.Backend, error) {
	var backend storage.Backend
	switch cfg.Backend {
	case "fs":
		fs, err := storage.NewFSStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		backend = fs
	case "s3":
		s3, err := storage.NewS3Store(ctx, s3cfg, "s3")
		if err != nil {
			return nil, err
		}
		backend = s3
	case "multi":
		s3, err := storage.NewS3Store(ctx, s3cfg, "s3")
		if err != nil {
			return nil, err
		}
		fs, err := storage.NewFSStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		backend = storage.NewMultiStore(s3, fs)
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", cfg.Backend)
	}

	compression, err := storage.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	var enc *kms.Encryptor
	if cfg.EncryptionKey != "" {
		if enc, err = kms.New(cfg.EncryptionKey); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	if compression == storage.CompressionNone && enc == nil {
		return backend, nil
	}
	return storage.NewCodecStore(backend, storage.NewCodec(compression, enc)), nil
}

// BuildNotifier always logs alerts and also posts them to Slack when a
// webhook is configured.
func BuildNotifier(cfg config.NotificationsConfig, log *zap.Logger) notifications.Notifier {
	out := notifications.Fanout{&notifications.ConsoleNotifier{Log: log}}
	if cfg.SlackWebhookURL != "" {
		out = append(out, notifications.NewSlackNotifier(cfg.SlackWebhookURL))
	}
	return out
}

// Ping checks the external dependencies in use. The map is keyed by
// dependency name; a nil value means healthy.
func (a *App) Ping(ctx context.Context) map[string]error {
	deps := map[string]error{}
	if a.DB != nil {
		deps["postgres"] = a.DB.Pool.Ping(ctx)
	}
	if a.bolt != nil {
		deps["bolt"] = a.bolt.View(func(*bolt.Tx) error { return nil })
	}
	_, err := a.Blocks.Exists(ctx, "00")
	deps["blocks"] = err
	return deps
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.bolt != nil {
		if err := a.bolt.Close(); err != nil {
			a.Log.Warn("close bolt", zap.Error(err))
		}
	}
	_ = a.Log.Sync()
}
