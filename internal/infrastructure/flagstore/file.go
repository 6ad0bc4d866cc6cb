package flagstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileFlag persists the broadcast switch in a one-byte file ("1" or "0") so
// external tooling can flip it and a restart keeps the last state. A missing
// file reads as off.
type FileFlag struct {
	path string
	log  *zap.SugaredLogger
}

func NewFileFlag(path string, logger *zap.SugaredLogger) *FileFlag {
	return &FileFlag{path: filepath.Clean(path), log: logger}
}

func (f *FileFlag) Get(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flag file: %w", err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

func (f *FileFlag) Set(ctx context.Context, on bool) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create flag directory: %w", err)
	}
	content := "0"
	if on {
		content = "1"
	}
	// Write-then-rename so watchers never observe a half-written file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write flag file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace flag file: %w", err)
	}
	return nil
}

// Watch emits the flag value whenever the file changes on disk. The parent
// directory is watched rather than the file itself: editors and Set replace
// the file by rename, which drops a watch placed on the old inode.
func (f *FileFlag) Watch(ctx context.Context) (<-chan bool, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create flag directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch flag directory: %w", err)
	}

	ch := make(chan bool, 1)
	last, _ := f.Get(ctx)

	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				value, err := f.Get(ctx)
				if err != nil {
					f.log.Warnw("failed to re-read flag file", "path", f.path, "error", err)
					continue
				}
				if value == last {
					continue
				}
				last = value
				notify(ch, value)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Warnw("flag watcher error", "path", f.path, "error", err)
			}
		}
	}()

	return ch, nil
}
