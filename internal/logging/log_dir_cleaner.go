package logging

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

var logDirCleanerCancel context.CancelFunc

// logDirBudget trims rotated authflow logs until the directory fits maxBytes.
// The active log file is never removed.
type logDirBudget struct {
	dir      string
	maxBytes int64
	active   string
}

type rotatedLog struct {
	path    string
	size    int64
	modTime time.Time
}

func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, activePath string) {
	stopLogDirCleanerLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}
	budget := logDirBudget{
		dir:      filepath.Clean(dir),
		maxBytes: int64(maxTotalSizeMB) << 20,
	}
	if p := strings.TrimSpace(activePath); p != "" {
		budget.active = filepath.Clean(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logDirCleanerCancel = cancel
	go budget.run(ctx)
}

func stopLogDirCleanerLocked() {
	if logDirCleanerCancel != nil {
		logDirCleanerCancel()
		logDirCleanerCancel = nil
	}
}

func (b logDirBudget) run(ctx context.Context) {
	ticker := time.NewTicker(logDirCleanerInterval)
	defer ticker.Stop()

	for {
		removed, err := b.enforce()
		if err != nil {
			log.WithError(err).Warn("logging: log directory budget check failed")
		} else if removed > 0 {
			log.Debugf("logging: removed %d rotated log file(s)", removed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// enforce deletes the oldest log files first and reports how many were removed.
func (b logDirBudget) enforce() (int, error) {
	if b.maxBytes <= 0 || b.dir == "" {
		return 0, nil
	}
	files, total, err := b.scan()
	if err != nil || total <= b.maxBytes {
		return 0, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	removed := 0
	for _, f := range files {
		if total <= b.maxBytes {
			break
		}
		if f.path == b.active {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: cannot remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

func (b logDirBudget) scan() ([]rotatedLog, int64, error) {
	entries, err := os.ReadDir(b.dir)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var (
		files []rotatedLog
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, rotatedLog{
			path:    filepath.Join(b.dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	return files, total, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
