package authflow

import (
	"github.com/growgrammers/authflow/internal/auth/callback"
	"github.com/growgrammers/authflow/internal/auth/session"
	"github.com/growgrammers/authflow/internal/auth/status"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/storage"
)

type Config = config.Config
type StorageConfig = config.StorageConfig
type RefreshConfig = config.RefreshConfig
type CallbackConfig = config.CallbackConfig
type OAuthClientConfig = config.OAuthClientConfig

type Storage = storage.Storage
type Backend = session.Backend

type Status = status.Status
type Outcome = callback.Outcome
type OutcomeKind = callback.OutcomeKind

type Session = authcore.Session
type UserInfo = authcore.UserInfo
type Failure = authcore.Failure

func LoadConfig(configFile string) (*Config, error) { return config.LoadConfig(configFile) }

func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	return config.LoadConfigOptional(configFile, optional)
}

// NewMemoryStorage returns a process-local storage, useful for tests and one-shot tools.
func NewMemoryStorage() Storage { return storage.NewMemoryStorage() }
