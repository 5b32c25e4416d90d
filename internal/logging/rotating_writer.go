package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes is the size at which a day's log file rolls over.
const DefaultMaxBytes = int64(300 * 1024 * 1024)

// New returns a component logger writing to w with the gateway's standard
// "[component] " prefix and microsecond timestamps.
func New(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}

// Options tunes a RotatingWriter.
type Options struct {
	MaxBytes   int64 // roll over within a day once exceeded; <=0 selects DefaultMaxBytes
	MaxBackups int   // keep at most this many dated files; <=0 keeps everything
}

// RotatingWriter writes to files that rotate daily and when exceeding max size.
//
// Files are named <prefix>-YYYY-MM-DD[-N]<ext> next to BasePath, e.g.
// logs/gatewayd.log -> logs/gatewayd-2025-10-26.log, logs/gatewayd-2025-10-26-2.log.
// BasePath itself is kept as a symlink to the active file.
type RotatingWriter struct {
	BasePath string
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	curDate  string // YYYY-MM-DD
	curIndex int    // 1-based index for same-day rollover
	file     *os.File
	size     int64
}

// NewRotatingWriter creates a rotating writer using basePath as the logical
// log file. A basePath of "-" discards file output.
func NewRotatingWriter(basePath string, opts Options) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	rw := &RotatingWriter{BasePath: basePath, opts: opts, now: time.Now}
	if err := rw.rotateIfNeeded(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfNeeded(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotateIfNeeded switches files on a new UTC day or when incoming would push
// the current file past MaxBytes. A non-empty file is never left empty-handed:
// a single oversized write still goes to a fresh file.
func (w *RotatingWriter) rotateIfNeeded(incoming int64) error {
	today := w.now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.curDate != today:
		w.curDate = today
		w.curIndex = 1
	case w.size > 0 && w.size+incoming > w.opts.MaxBytes:
		w.curIndex++
	default:
		return nil
	}
	if err := w.openCurrent(); err != nil {
		return err
	}
	w.prune()
	return nil
}

func (w *RotatingWriter) layout() (dir, base, ext string) {
	dir, name := filepath.Split(w.BasePath)
	if dir == "" {
		dir = "."
	}
	ext = filepath.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	return dir, base, ext
}

func (w *RotatingWriter) openCurrent() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir, base, ext := w.layout()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	filename := fmt.Sprintf("%s-%s%s", base, w.curDate, ext)
	if w.curIndex > 1 {
		filename = fmt.Sprintf("%s-%s-%d%s", base, w.curDate, w.curIndex, ext)
	}
	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	w.file = f
	w.size = size
	w.updatePointer(path)
	return nil
}

// prune removes the oldest dated files beyond MaxBackups.
func (w *RotatingWriter) prune() {
	if w.opts.MaxBackups <= 0 {
		return
	}
	dir, base, ext := w.layout()
	matches, err := filepath.Glob(filepath.Join(dir, base+"-????-??-??*"+ext))
	if err != nil || len(matches) <= w.opts.MaxBackups {
		return
	}
	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		if st, err := os.Stat(m); err == nil {
			entries = append(entries, entry{path: m, mod: st.ModTime()})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mod.Equal(entries[j].mod) {
			return entries[i].path < entries[j].path
		}
		return entries[i].mod.Before(entries[j].mod)
	})
	active := w.file.Name()
	for i := 0; i < len(entries)-w.opts.MaxBackups; i++ {
		if entries[i].path != active {
			_ = os.Remove(entries[i].path)
		}
	}
}

func (w *RotatingWriter) updatePointer(target string) {
	base := strings.TrimSpace(w.BasePath)
	if base == "" || base == "-" {
		return
	}
	if info, err := os.Lstat(base); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, derr := os.Readlink(base); derr == nil && dest == target {
				return
			}
		}
		_ = os.Remove(base)
	}
	// symlink, else hard link, else a pointer note
	if err := os.Symlink(target, base); err == nil {
		return
	}
	if err := os.Link(target, base); err == nil {
		return
	}
	if f, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		defer f.Close()
		_, _ = fmt.Fprintf(f, "current log file: %s\n", target)
	}
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
