// Package runlog ships a stage's accumulated log file to the archive.
package runlog

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-archive/internal/tracker"
)

// Config names the local log file and the archive object that receives it.
type Config struct {
	File        string
	ObjectKey   string
	ContentType string
}

// Upload flushes logger and writes the whole log file to cfg.ObjectKey,
// replacing the previous upload. An empty File or ObjectKey disables it.
func Upload(ctx context.Context, store tracker.ArchiveStore, cfg Config, logger *zap.Logger) error {
	if cfg.File == "" || cfg.ObjectKey == "" {
		return nil
	}
	if logger != nil {
		_ = logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	}
	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	if _, err := store.PutObject(ctx, cfg.ObjectKey, contentType, data); err != nil {
		return fmt.Errorf("upload log file: %w", err)
	}
	return nil
}
