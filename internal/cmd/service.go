package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/growgrammers/authflow/internal/watcher"
	"github.com/growgrammers/authflow/sdk/authflow"
	log "github.com/sirupsen/logrus"
)

// StartService serves the loopback pages until ctx is cancelled. When configPath is set
// the configuration file is watched and reloaded in place.
func StartService(ctx context.Context, agent *authflow.Agent, configPath string) error {
	if err := agent.Server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Infof("authflow listening on http://%s", agent.Server.Addr())

	if configPath != "" {
		w, errWatcher := watcher.NewWatcher(configPath, agent.ApplyConfig)
		if errWatcher != nil {
			log.WithError(errWatcher).Warn("config hot reload disabled")
		} else {
			w.SetConfig(agent.Config)
			if errStart := w.Start(ctx); errStart != nil {
				_ = w.Stop()
				log.WithError(errStart).Warn("config hot reload disabled")
			} else {
				defer func() {
					if errStop := w.Stop(); errStop != nil {
						log.WithError(errStop).Debug("failed to stop config watcher")
					}
				}()
			}
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-agent.Server.Errors():
		log.WithError(serveErr).Error("server stopped unexpectedly")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := agent.Server.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	return serveErr
}
