package server

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig starts an fsnotify watcher on the directory holding ConfPath.
// When the file is written or replaced it is reloaded and applied; a file
// that fails to parse leaves the running config alone. The returned
// function stops the watcher.
func (g *Game) WatchConfig() (func(), error) {
	if g.ConfPath == "" {
		return nil, fmt.Errorf("server: no config path to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: config watcher: %w", err)
	}

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(g.ConfPath)
	name := filepath.Base(g.ConfPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("server: watch %s: %w", dir, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Base(event.Name) != name {
					continue
				}
				gc, err := LoadGameConf(g.ConfPath)
				if err != nil {
					log.Printf("server: config reload failed, keeping current settings: %v", err)
					continue
				}
				log.Printf("server: config file changed: %s", g.ConfPath)
				g.ApplyGameConf(gc)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("server: config watcher error: %v", err)
			}
		}
	}()

	log.Printf("server: watching %s for changes", g.ConfPath)
	return func() { watcher.Close() }, nil
}
