package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch processes the files already waiting in the inbox, then every SQL file
// created or written there until ctx is cancelled. onResult, if non-nil, is
// called once per processed file from the watching goroutine.
func (p *Pipeline) Watch(ctx context.Context, onResult func(FileResult)) error {
	if err := p.EnsureDirs(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	inbox := p.dir(InboxDir)
	if err := watcher.Add(inbox); err != nil {
		return fmt.Errorf("watching %s: %w", inbox, err)
	}
	p.logger.Info("watching inbox", "dir", inbox)

	report, err := p.ProcessInbox(ctx)
	if err != nil {
		return err
	}
	if onResult != nil {
		for _, res := range report.Files {
			onResult(res)
		}
	}

	// Writes arrive in bursts; a file is processed once it has been quiet
	// for the debounce interval.
	ready := make(chan string)
	timers := map[string]*time.Timer{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isSQLFile(event.Name) {
				continue
			}
			name := filepath.Base(event.Name)
			if t, ok := timers[name]; ok {
				t.Stop()
			}
			timers[name] = time.AfterFunc(p.debounce, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			delete(timers, name)
			if _, err := os.Stat(filepath.Join(inbox, name)); err != nil {
				continue
			}
			res := p.ProcessFile(ctx, name)
			if onResult != nil {
				onResult(res)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", "error", err)
		}
	}
}
