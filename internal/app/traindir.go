package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/vk/odtrain/internal/ctxlog"
)

// resetTrainDir removes dir and everything below it. A missing dir is not an
// error.
func resetTrainDir(ctx context.Context, dir string) error {
	logger := ctxlog.FromContext(ctx)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("Nothing to reset.", "train_dir", dir)
		return nil
	}
	logger.Info("Resetting train_dir.", "train_dir", dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("reset train_dir: %w", err)
	}
	return nil
}
