package config

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Compiler holds the currently-active Compiled configuration behind an
// atomic pointer and optionally keeps it fresh by watching a directory of
// YAML files. Readers call Current() for the duration of one request; the
// returned snapshot is never mutated in place.
type Compiler struct {
	dir     string
	current atomic.Pointer[Compiled]
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCompiler performs the initial load from dir and returns a Compiler
// ready to serve Current() immediately.
func NewCompiler(dir string, logger *zap.Logger) (*Compiler, error) {
	compiled, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}

	c := &Compiler{dir: dir, logger: logger, done: make(chan struct{})}
	c.current.Store(compiled)
	return c, nil
}

// Current returns the most recently compiled configuration. Safe for
// concurrent use; never blocks.
func (c *Compiler) Current() *Compiled {
	return c.current.Load()
}

// Reload recompiles dir and, on success, atomically swaps the active
// configuration. On failure the previous configuration remains active and
// the error is returned, so a bad reload never produces a partial tree.
func (c *Compiler) Reload() error {
	compiled, err := LoadDir(c.dir)
	if err != nil {
		return err
	}
	c.current.Store(compiled)
	return nil
}

// WatchAndReload starts watching c.dir for filesystem events and calls
// Reload whenever the directory changes, debounced by settle to coalesce
// bursts of writes into a single recompile. It returns once the watcher is
// established; Stop tears it down.
func (c *Compiler) WatchAndReload(settle time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return err
	}
	c.watcher = watcher

	go c.watchLoop(settle)
	return nil
}

func (c *Compiler) watchLoop(settle time.Duration) {
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(settle, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(settle)
			}
		case <-pending:
			if err := c.Reload(); err != nil {
				c.logger.Error("config reload failed, keeping previous configuration", zap.Error(err))
			} else {
				c.logger.Info("config reloaded", zap.String("dir", c.dir))
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("config watcher error", zap.Error(err))
		case <-c.done:
			return
		}
	}
}

// Stop tears down the filesystem watcher, if one is running.
func (c *Compiler) Stop() {
	if c.watcher != nil {
		close(c.done)
		c.watcher.Close()
	}
}
