package sandbox

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 2 * time.Second

// watchWorkspaceActivity watches root for filesystem writes and calls touch
// (debounced) on each burst, so a sandbox running a long build with no PTY
// or exec traffic still counts as active for the idle reaper. Returns a stop
// func; watch failures are logged and degrade to a no-op stop, since activity
// tracking is best-effort and must never block sandbox creation.
func watchWorkspaceActivity(root string, touch func()) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Str("workspace", root).Msg("failed to start workspace activity watcher")
		return func() {}
	}

	addDirs(watcher, root)

	done := make(chan struct{})
	go func() {
		var pending bool
		timer := time.NewTimer(time.Hour)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = watcher.Add(ev.Name)
					}
				}
				if !pending {
					pending = true
					timer.Reset(watchDebounce)
				}
			case <-timer.C:
				pending = false
				touch()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}
}

func addDirs(watcher *fsnotify.Watcher, root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == ".git" && path != root {
			return filepath.SkipDir
		}
		_ = watcher.Add(path)
		return nil
	})
}
