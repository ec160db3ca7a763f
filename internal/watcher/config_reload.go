// config_reload.go implements debounced configuration hot reload.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/util"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		w.logger().Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])

	w.configMu.RLock()
	currentHash := w.lastConfigHash
	w.configMu.RUnlock()
	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}
	w.logger().Info("config file changed, reloading")
	if w.reloadConfig() {
		w.configMu.Lock()
		w.lastConfigHash = newHash
		w.configMu.Unlock()
	}
}

func (w *Watcher) reloadConfig() bool {
	newConfig, errLoad := config.LoadConfig(w.configPath)
	if errLoad != nil {
		w.logger().Errorf("failed to reload config: %v", errLoad)
		return false
	}
	if errValidate := newConfig.Validate(); errValidate != nil {
		w.logger().Errorf("reloaded config is invalid, keeping the previous one: %v", errValidate)
		return false
	}

	w.configMu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.configMu.Unlock()

	util.SetLogLevel(newConfig)
	if oldConfig != nil {
		details := changeDetails(oldConfig, newConfig)
		if len(details) == 0 {
			log.Debugf("no material config field changes detected")
		}
		for _, d := range details {
			log.Infof("config change: %s", d)
		}
		for _, d := range restartOnlyChanges(oldConfig, newConfig) {
			log.Warnf("config change needs a restart to take effect: %s", d)
		}
	}

	if w.reloadCallback != nil {
		w.reloadCallback(oldConfig, newConfig)
	}
	return true
}

// changeDetails lists the changes a running agent applies without a restart.
func changeDetails(oldCfg, newCfg *config.Config) []string {
	var details []string
	if oldCfg.Debug != newCfg.Debug {
		details = append(details, fmt.Sprintf("debug: %t -> %t", oldCfg.Debug, newCfg.Debug))
	}
	if oldCfg.LoggingToFile != newCfg.LoggingToFile {
		details = append(details, fmt.Sprintf("logging-to-file: %t -> %t", oldCfg.LoggingToFile, newCfg.LoggingToFile))
	}
	if oldCfg.LogsMaxTotalSizeMB != newCfg.LogsMaxTotalSizeMB {
		details = append(details, fmt.Sprintf("logs-max-total-size-mb: %d -> %d", oldCfg.LogsMaxTotalSizeMB, newCfg.LogsMaxTotalSizeMB))
	}
	if oldCfg.Refresh.Interval != newCfg.Refresh.Interval {
		details = append(details, fmt.Sprintf("refresh.interval: %s -> %s", oldCfg.Refresh.Interval, newCfg.Refresh.Interval))
	}
	if oldCfg.Refresh.Threshold != newCfg.Refresh.Threshold {
		details = append(details, fmt.Sprintf("refresh.threshold: %s -> %s", oldCfg.Refresh.Threshold, newCfg.Refresh.Threshold))
	}
	return details
}

func restartOnlyChanges(oldCfg, newCfg *config.Config) []string {
	var details []string
	if oldCfg.Host != newCfg.Host || oldCfg.Port != newCfg.Port {
		details = append(details, "host/port")
	}
	if oldCfg.APIBaseURL != newCfg.APIBaseURL {
		details = append(details, "api-base-url")
	}
	if oldCfg.Storage != newCfg.Storage {
		details = append(details, "storage")
	}
	if oldCfg.InsecureSkipStateCheck != newCfg.InsecureSkipStateCheck {
		details = append(details, "insecure-skip-state-check")
	}
	return details
}
