// Package cleanup runs periodic housekeeping for a long-lived execstream
// process: rotated log files, idle rate limiter keys and disk usage.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/HyphaGroup/execstream/internal/logger"
)

// Pruner forgets per-key state unused for longer than maxAge
type Pruner interface {
	Cleanup(maxAge time.Duration) int
}

// Cleaner performs periodic resource cleanup.
type Cleaner struct {
	logDir       string
	dataDir      string
	interval     time.Duration
	logRetention time.Duration
	limiter      Pruner
	limiterIdle  time.Duration
	diskWarn     float64
	diskError    float64
	now          func() time.Time
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Config holds cleanup configuration.
type Config struct {
	LogDir           string
	DataDir          string        // disk usage is checked here
	Interval         time.Duration // How often to run cleanup
	LogRetention     time.Duration // How long to keep dated log files
	Limiter          Pruner        // optional
	LimiterIdle      time.Duration // Drop limiter keys idle this long
	DiskWarnPercent  float64       // Warn at this disk usage percentage
	DiskErrorPercent float64       // Error at this disk usage percentage
}

// Result reports what one pass removed
type Result struct {
	LogsRemoved     int
	LimitersRemoved int
	DiskUsedPercent float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(logDir, dataDir string) Config {
	return Config{
		LogDir:           logDir,
		DataDir:          dataDir,
		Interval:         5 * time.Minute,
		LogRetention:     14 * 24 * time.Hour,
		LimiterIdle:      10 * time.Minute,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}
}

// New creates a new Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	return &Cleaner{
		logDir:       cfg.LogDir,
		dataDir:      cfg.DataDir,
		interval:     cfg.Interval,
		logRetention: cfg.LogRetention,
		limiter:      cfg.Limiter,
		limiterIdle:  cfg.LimiterIdle,
		diskWarn:     cfg.DiskWarnPercent,
		diskError:    cfg.DiskErrorPercent,
		now:          time.Now,
	}
}

// Start begins the periodic cleanup loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.RunOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce()
			}
		}
	}()

	logger.Slog().Debug("cleanup started", "interval", c.interval, "log_retention", c.logRetention)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		c.cancel = nil
	}
}

// RunOnce performs all cleanup tasks.
func (c *Cleaner) RunOnce() Result {
	var res Result
	res.LogsRemoved = c.cleanupLogs()
	if c.limiter != nil && c.limiterIdle > 0 {
		res.LimitersRemoved = c.limiter.Cleanup(c.limiterIdle)
	}
	res.DiskUsedPercent = c.checkDiskUsage()
	return res
}

// cleanupLogs removes dated execstream-*.log files older than retention.
// The file named for today is never removed.
func (c *Cleaner) cleanupLogs() int {
	if c.logDir == "" || c.logRetention <= 0 {
		return 0
	}
	entries, err := os.ReadDir(c.logDir)
	if err != nil {
		return 0
	}

	now := c.now()
	today := "execstream-" + now.Format("2006-01-02") + ".log"
	cutoff := now.Add(-c.logRetention)
	removed := 0

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == today || !strings.HasPrefix(name, "execstream-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		date, err := time.ParseInLocation("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, "execstream-"), ".log"), now.Location())
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.logDir, name)); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logger.Slog().Info("removed old log files", "count", removed, "dir", c.logDir)
	}
	return removed
}

// checkDiskUsage logs when the data directory's filesystem fills up
func (c *Cleaner) checkDiskUsage() float64 {
	if c.dataDir == "" {
		return 0
	}
	_, _, usedPercent, err := DiskUsage(c.dataDir)
	if err != nil {
		return 0
	}

	if usedPercent >= c.diskError {
		logger.Slog().Error("disk almost full", "used_percent", usedPercent, "dir", c.dataDir)
	} else if usedPercent >= c.diskWarn {
		logger.Slog().Warn("disk usage high", "used_percent", usedPercent, "dir", c.dataDir)
	}
	return usedPercent
}

// DiskUsage returns usage stats for the filesystem holding dir.
func DiskUsage(dir string) (usedBytes, totalBytes uint64, usedPercent float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(dir, &stat); err != nil {
		return
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	usedBytes = totalBytes - freeBytes
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}
	return
}
