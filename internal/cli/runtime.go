package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bursadev/bursa/internal/config"
	"github.com/bursadev/bursa/internal/keystore"
	"github.com/bursadev/bursa/internal/log"
	"github.com/bursadev/bursa/internal/storage"
)

// runtime is the opened application stack shared by the commands that
// need a live database handle.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	engine *storage.Engine

	logCloser func() error
}

func openRuntime(globals *globalFlags) (*runtime, error) {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return nil, err
	}

	opts := log.Options{Level: cfg.Logging.Level}
	if cfg.Logging.File != "" {
		opts.Rotation = &log.RotationConfig{
			File:      cfg.Logging.File,
			MaxSizeMB: cfg.Logging.MaxSizeMB,
			MaxFiles:  cfg.Logging.MaxFiles,
		}
	}
	logger, logCloser, err := log.New(opts)
	if err != nil {
		return nil, err
	}

	ks, err := keystore.NewFileKeystore(cfg.KeystoreDir())
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	passphrase, err := keystore.GetOrCreatePassphrase(ks)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("obtain database passphrase: %w", err)
	}

	engine, err := storage.Open(cfg.LedgerPath(), passphrase,
		storage.WithBusyTimeout(time.Duration(cfg.Storage.BusyTimeoutMS)*time.Millisecond))
	passphrase.Destroy()
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	logger.Info("ledger opened", slog.String("path", cfg.LedgerPath()), slog.String("ledger_id", engine.LedgerID()))
	return &runtime{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		logCloser: logCloser.Close,
	}, nil
}

func (r *runtime) Close() error {
	err := r.engine.Close()
	if cerr := r.logCloser(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
