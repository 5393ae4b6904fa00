package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"membersonly-live/internal/config"
	"membersonly-live/internal/logging"
)

// WatchCredentials reloads the credentials file into store whenever another
// process rewrites it, so a sign-in from elsewhere rotates the stream token.
// It blocks until ctx is done.
func WatchCredentials(ctx context.Context, path string, store *Store, logger *logging.Logger) error {
	if logger == nil {
		panic("auth.WatchCredentials: logger must not be nil")
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize credentials watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic rewrites replace the file inode.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch credentials directory %s: %w", dir, err)
	}
	logger.Debug("watching credentials file", logging.Field("path", path))

	for {
		select {
		case <-ctx.Done():
			logger.Debug("stopping credentials watcher: context canceled")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			handleCredentialsEvent(event, path, store, logger)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credentials watcher error", logging.Field("error", watchErr))
		}
	}
}

func handleCredentialsEvent(event fsnotify.Event, path string, store *Store, logger *logging.Logger) {
	if filepath.Clean(event.Name) != path {
		return
	}
	logger.Debugf("credentials event: op=%s path=%s", event.Op.String(), event.Name)
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	creds, err := config.LoadCredentials(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to reload credentials", logging.Field("error", err))
		}
		return
	}
	if creds.AccessToken == "" {
		store.ClearCredentials()
		return
	}
	store.SetTokens(creds.AccessToken, creds.RefreshToken)
}
