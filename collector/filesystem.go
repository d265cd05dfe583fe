package collector

import (
	"context"
	"encoding/json"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nkbud/terraform-index/core"
)

// FilesystemConfig configures a Filesystem collector.
type FilesystemConfig struct {
	// WatchDirectory is the directory scanned for .tfstate files. It is
	// created on Start if it does not exist.
	WatchDirectory string

	// PollInterval is the delay between scans. Defaults to 5s.
	PollInterval time.Duration

	// Recursive scans subdirectories as well.
	Recursive bool

	Logger *slog.Logger
}

// Filesystem collects Terraform state files from a local directory by
// polling. A file is re-delivered only when its modification time changes.
type Filesystem struct {
	cfg  FilesystemConfig
	seen map[string]struct{}

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

var _ Collector = (*Filesystem)(nil)

// NewFilesystem creates a filesystem collector for the given directory.
func NewFilesystem(cfg FilesystemConfig) *Filesystem {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Filesystem{
		cfg:  cfg,
		seen: make(map[string]struct{}),
	}
}

func (c *Filesystem) Name() string { return "filesystem" }

// Start ensures the watch directory exists.
func (c *Filesystem) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if err := os.MkdirAll(c.cfg.WatchDirectory, 0755); err != nil {
		return err
	}
	c.done = make(chan struct{})
	c.running = true
	return nil
}

// Stop ends the collect loop. Idempotent.
func (c *Filesystem) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	close(c.done)
	c.running = false
	return nil
}

// Collect scans the watch directory on each poll cycle and yields state files
// that have not been seen at their current modification time.
func (c *Filesystem) Collect(ctx context.Context) iter.Seq[*core.RawRecord] {
	return func(yield func(*core.RawRecord) bool) {
		for {
			if !c.scan(yield) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

// scan walks the directory once. Returns false when the consumer stopped
// taking records.
func (c *Filesystem) scan(yield func(*core.RawRecord) bool) bool {
	stopped := false

	err := filepath.WalkDir(c.cfg.WatchDirectory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.cfg.Logger.Warn("error scanning directory", "path", path, "err", err)
			return nil
		}
		if d.IsDir() {
			if !c.cfg.Recursive && path != c.cfg.WatchDirectory {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".tfstate") {
			return nil
		}

		rec := c.processFile(path)
		if rec == nil {
			return nil
		}
		if !yield(rec) {
			stopped = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		c.cfg.Logger.Error("error walking watch directory", "dir", c.cfg.WatchDirectory, "err", err)
	}
	return !stopped
}

// processFile reads one candidate. Any failure is logged and skipped; it
// never aborts the scan for sibling files.
func (c *Filesystem) processFile(path string) *core.RawRecord {
	info, err := os.Stat(path)
	if err != nil {
		c.cfg.Logger.Warn("error stating state file", "path", path, "err", err)
		return nil
	}

	fp := core.Fingerprint(path, info.ModTime().UTC().Format(time.RFC3339Nano))
	if _, ok := c.seen[fp]; ok {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.cfg.Logger.Warn("error reading state file", "path", path, "err", err)
		return nil
	}

	var content map[string]any
	if err := json.Unmarshal(data, &content); err != nil {
		c.cfg.Logger.Warn("skipping malformed state file", "path", path, "err", err)
		return nil
	}

	c.seen[fp] = struct{}{}

	return &core.RawRecord{
		Content: content,
		Metadata: core.SourceMetadata{
			SourceType:   core.SourceFilesystem,
			Path:         path,
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
			CollectedAt:  time.Now().UTC(),
		},
	}
}
