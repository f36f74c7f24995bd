// Package watch regenerates wiring when source files change.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/conduit-lang/autowire/internal/logging"
)

// DefaultDebounce is the quiet period before a batch of changes is delivered
const DefaultDebounce = 100 * time.Millisecond

// Options configures a FileWatcher
type Options struct {
	// Root is watched recursively. Directories created later are added.
	Root string
	// Suffixes limits events to source files, e.g. ".go". Empty matches all.
	Suffixes []string
	// Exclude holds doublestar globs, matched like the scanner matches them.
	Exclude []string
	// Ignore lists absolute paths never reported, such as the generated file.
	Ignore   []string
	Debounce time.Duration
}

// FileWatcher monitors file system changes and triggers callbacks
type FileWatcher struct {
	opts      Options
	root      string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	logger    *zap.Logger
	ignored   map[string]struct{}

	dirsMu sync.Mutex
	dirs   map[string]struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileWatcher creates a new file watcher instance. onChange receives the
// sorted set of paths that changed during one debounce window.
func NewFileWatcher(opts Options, logger *zap.Logger, onChange func([]string)) (*FileWatcher, error) {
	logger = logging.OrNop(logger)
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", opts.Root, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	fw := &FileWatcher{
		opts:      opts,
		root:      root,
		watcher:   watcher,
		debouncer: NewDebouncer(opts.Debounce),
		logger:    logger,
		ignored:   make(map[string]struct{}, len(opts.Ignore)),
		dirs:      make(map[string]struct{}),
		stopChan:  make(chan struct{}),
	}
	for _, path := range opts.Ignore {
		if abs, err := filepath.Abs(path); err == nil {
			fw.ignored[abs] = struct{}{}
		}
	}

	fw.debouncer.SetCallback(onChange)
	return fw, nil
}

// Start watches every directory under the root and begins delivering events
func (fw *FileWatcher) Start() error {
	if err := fw.addTree(fw.root); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.watch()

	return nil
}

// Stop stops the file watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopChan)
		fw.wg.Wait()
		fw.debouncer.Stop()
		err = fw.watcher.Close()
	})
	return err
}

// Dirs returns the watched directories, sorted
func (fw *FileWatcher) Dirs() []string {
	fw.dirsMu.Lock()
	defer fw.dirsMu.Unlock()

	dirs := make([]string, 0, len(fw.dirs))
	for dir := range fw.dirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// watch is the main event loop
func (fw *FileWatcher) watch() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watch error", zap.Error(err))

		case <-fw.stopChan:
			return
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if fw.shouldIgnore(event.Name) {
		return
	}

	// A removed or renamed directory takes its files out of the tree.
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && fw.forgetDir(event.Name) {
		fw.logger.Debug("directory removed", zap.String("dir", event.Name))
		fw.debouncer.Add(event.Name)
		return
	}

	if event.Op&fsnotify.Create != 0 && isDir(event.Name) {
		if err := fw.addTree(event.Name); err != nil {
			fw.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
		}
		return
	}

	if !fw.matchesPattern(event.Name) {
		return
	}

	fw.logger.Debug("file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
	fw.debouncer.Add(event.Name)
}

// addTree watches dir and every directory below it
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != fw.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		fw.dirsMu.Lock()
		_, watched := fw.dirs[path]
		fw.dirsMu.Unlock()
		if watched {
			return nil
		}

		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}

		fw.dirsMu.Lock()
		fw.dirs[path] = struct{}{}
		fw.dirsMu.Unlock()

		fw.logger.Debug("watching directory", zap.String("dir", path))
		return nil
	})
}

func (fw *FileWatcher) forgetDir(path string) bool {
	fw.dirsMu.Lock()
	defer fw.dirsMu.Unlock()

	if _, ok := fw.dirs[path]; !ok {
		return false
	}
	prefix := path + string(filepath.Separator)
	for dir := range fw.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(fw.dirs, dir)
		}
	}
	return true
}

// shouldIgnore checks if a file path should be ignored
func (fw *FileWatcher) shouldIgnore(path string) bool {
	if _, ok := fw.ignored[path]; ok {
		return true
	}

	// Ignore hidden files and editor temp files
	baseName := filepath.Base(path)
	if strings.HasPrefix(baseName, ".") || strings.HasSuffix(baseName, "~") {
		return true
	}

	rel, err := filepath.Rel(fw.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range fw.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, baseName); ok {
				return true
			}
		}
	}

	return false
}

// matchesPattern checks if a file has one of the watched suffixes
func (fw *FileWatcher) matchesPattern(path string) bool {
	if len(fw.opts.Suffixes) == 0 {
		return true
	}

	for _, suffix := range fw.opts.Suffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}

	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Debouncer collects file changes and triggers callbacks after a delay
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	files    map[string]struct{}
	mutex    sync.Mutex
	callback func([]string)
	stopped  bool
}

// NewDebouncer creates a new debouncer instance
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		files:    make(map[string]struct{}),
	}
}

// Add adds a file to the pending batch and restarts the quiet period
func (d *Debouncer) Add(file string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.stopped {
		return
	}

	d.files[file] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.duration, d.flush)
}

// flush hands the accumulated files to the callback, outside the lock so a
// slow callback never blocks Add.
func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.files) == 0 || d.stopped {
		d.mutex.Unlock()
		return
	}

	files := make([]string, 0, len(d.files))
	for file := range d.files {
		files = append(files, file)
	}
	sort.Strings(files)

	d.files = make(map[string]struct{})
	callback := d.callback
	d.mutex.Unlock()

	if callback != nil {
		callback(files)
	}
}

// SetCallback sets the callback function
func (d *Debouncer) SetCallback(callback func([]string)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.callback = callback
}

// Stop drops pending files and cancels the timer
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.stopped = true
	d.files = make(map[string]struct{})
}
