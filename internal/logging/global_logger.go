// Package logging configures the shared logrus logger used by every authflow package,
// including the single-line formatter, rotating file output and Gin middleware.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// LogFormatter renders one line per entry.
// Format: [2026-10-18 20:14:04] [a1b2c3d4] [info ] [reconciler.go:88] callback processed provider=google mode=login
type LogFormatter struct{}

// logFieldOrder lists the fields printed first, in this order. Other fields follow sorted
// by name.
var logFieldOrder = []string{"provider", "mode", "outcome", "destination", "minutes_left", "status", "kind", "error"}

// secretFields are masked wherever they appear.
var secretFields = map[string]struct{}{
	"code": {}, "state": {}, "token": {}, "access_token": {}, "code_verifier": {},
}

// Format renders a single log entry.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}
	level := entry.Level.String()
	if entry.Level == log.WarnLevel {
		level = "warn"
	}

	_, _ = fmt.Fprintf(buffer, "[%s] [%s] [%-5s] ", entry.Time.Format("2006-01-02 15:04:05"), reqID, level)
	if entry.Caller != nil {
		_, _ = fmt.Fprintf(buffer, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	writeFields(buffer, entry.Data)
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

func writeFields(buffer *bytes.Buffer, data log.Fields) {
	if len(data) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(logFieldOrder))
	for _, k := range logFieldOrder {
		seen[k] = struct{}{}
		if v, ok := data[k]; ok {
			writeField(buffer, k, v)
		}
	}
	rest := make([]string, 0, len(data))
	for k := range data {
		if _, ok := seen[k]; !ok && k != "request_id" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		writeField(buffer, k, data[k])
	}
}

func writeField(buffer *bytes.Buffer, key string, value any) {
	if _, secret := secretFields[key]; secret {
		value = util.MaskToken(fmt.Sprint(value))
	}
	_, _ = fmt.Fprintf(buffer, " %s=%v", key, value)
}

// SetupBaseLogger configures the shared logrus instance and Gin writers.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.StandardLogger().Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ResolveLogDirectory determines the directory used for application logs.
func ResolveLogDirectory(cfg *config.Config) string {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	if cfg != nil && cfg.Storage.Type == "file" {
		if storagePath, err := util.ResolvePath(cfg.Storage.Path); err == nil && storagePath != "" {
			return filepath.Join(filepath.Dir(storagePath), "logs")
		}
	}
	return "logs"
}

// ConfigureLogOutput switches the global log destination between a rotating file and stdout.
// When LogsMaxTotalSizeMB > 0, a background cleaner keeps the log directory under that size.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()
	util.SetLogLevel(cfg)

	writerMu.Lock()
	defer writerMu.Unlock()

	logDir := ResolveLogDirectory(cfg)

	protectedPath := ""
	maxTotal := 0
	if cfg != nil {
		maxTotal = cfg.LogsMaxTotalSizeMB
	}
	if cfg != nil && cfg.LoggingToFile {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		if logWriter != nil {
			_ = logWriter.Close()
		}
		protectedPath = filepath.Join(logDir, "authflow.log")
		logWriter = &lumberjack.Logger{
			Filename:   protectedPath,
			MaxSize:    10,
			MaxBackups: 0,
			MaxAge:     0,
			Compress:   false,
		}
		log.SetOutput(logWriter)
	} else {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
	}

	configureLogDirCleanerLocked(logDir, maxTotal, protectedPath)
	return nil
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	stopLogDirCleanerLocked()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}
