// Package authflow is the embeddable entry point of the agent. A Builder assembles the
// storage, the auth-core client, the session context, the email flow and the loopback
// server from one configuration, so host programs never import internal packages.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/growgrammers/authflow/internal/api"
	"github.com/growgrammers/authflow/internal/auth/email"
	"github.com/growgrammers/authflow/internal/auth/nav"
	"github.com/growgrammers/authflow/internal/auth/session"
	"github.com/growgrammers/authflow/internal/authcore"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/logging"
	"github.com/growgrammers/authflow/internal/storage"
	log "github.com/sirupsen/logrus"
)

// ErrMissingConfig is returned by Build when neither a configuration nor a path was given.
var ErrMissingConfig = errors.New("authflow: configuration is required")

// Builder constructs an Agent with customizable dependencies.
type Builder struct {
	// cfg holds the agent configuration.
	cfg *config.Config

	// configPath is the configuration file, used when cfg is nil and for reload watching.
	configPath string

	store      Storage
	backend    Backend
	navigator  Navigator
	httpClient *http.Client
}

// NewBuilder creates a Builder with default dependencies left unset.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the configuration instance used by the agent.
func (b *Builder) WithConfig(cfg *Config) *Builder {
	b.cfg = cfg
	return b
}

// WithConfigPath sets the configuration file path. It is loaded by Build when no
// configuration instance was given.
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path
	return b
}

// WithStorage overrides the storage selected by the configuration. The agent takes
// ownership of it.
func (b *Builder) WithStorage(s Storage) *Builder {
	b.store = s
	return b
}

// WithBackend replaces the auth-core HTTP client, typically with a test double.
func (b *Builder) WithBackend(backend Backend) *Builder {
	b.backend = backend
	return b
}

// WithNavigator receives navigation requests not tied to an HTTP response.
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithHTTPClient sets the HTTP client of the default auth-core client.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// Build validates the configuration and wires the agent. Nothing is started: call
// Agent.Init and, to serve the loopback pages, Agent.Server.Start.
func (b *Builder) Build(ctx context.Context) (*Agent, error) {
	cfg := b.cfg
	if cfg == nil {
		if b.configPath == "" {
			return nil, ErrMissingConfig
		}
		loaded, errLoad := config.LoadConfig(b.configPath)
		if errLoad != nil {
			return nil, errLoad
		}
		cfg = loaded
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	agent := &Agent{Config: cfg, ConfigPath: b.configPath}

	store := b.store
	if store == nil {
		created, errStore := storage.New(ctx, cfg.Storage)
		if errStore != nil {
			return nil, fmt.Errorf("authflow: open storage: %w", errStore)
		}
		store = created
	}

	backend := b.backend
	if backend == nil {
		opts := []authcore.Option{authcore.WithCookieStore(store)}
		if b.httpClient != nil {
			opts = append(opts, authcore.WithHTTPClient(b.httpClient))
		}
		client, errClient := authcore.NewClient(cfg, opts...)
		if errClient != nil {
			if b.store == nil {
				_ = store.Close()
			}
			return nil, errClient
		}
		agent.Client = client
		backend = client
	}

	var sessOpts []session.Option
	if b.navigator != nil {
		sessOpts = append(sessOpts, session.WithNavigator(b.navigator))
	}
	agent.Session = session.New(cfg, store, backend, sessOpts...)
	if agent.Client != nil {
		agent.Client.SetPreflight(agent.Session.Coordinator(), agent.Session)
	}
	agent.Email = email.NewFlow(backend, agent.Session)
	agent.Server = api.NewServer(cfg, agent.Session, agent.Email)

	log.WithFields(log.Fields{
		"storage": cfg.Storage.Type,
		"api":     cfg.APIBaseURL,
	}).Debug("authflow agent built")
	return agent, nil
}

// Agent is a wired authentication agent.
type Agent struct {
	Config     *Config
	ConfigPath string
	Session    *session.Context
	Email      *email.Flow
	Server     *api.Server
	// Client is the default auth-core client; nil when a backend was injected.
	Client *authcore.Client
}

// Init checks storage, resumes an interrupted callback and starts token refresh.
func (a *Agent) Init(ctx context.Context) error {
	return a.Session.Init(ctx)
}

// Status reports the current authentication status.
func (a *Agent) Status(ctx context.Context) Status {
	return a.Session.Status(ctx)
}

// ApplyConfig takes over the settings that change without a restart. It is the reload
// callback handed to the config watcher.
func (a *Agent) ApplyConfig(_, updated *Config) {
	if updated == nil {
		return
	}
	if err := logging.ConfigureLogOutput(updated); err != nil {
		log.WithError(err).Error("failed to apply log output settings")
	}
	a.Session.Coordinator().SetTiming(updated.Refresh.Interval, updated.Refresh.Threshold)
}

// Close stops the server if it runs and releases the session.
func (a *Agent) Close(ctx context.Context) error {
	var errStop error
	if a.Server != nil {
		errStop = a.Server.Stop(ctx)
	}
	a.Session.Dispose()
	return errStop
}

// Navigator is re-exported so embedders can observe forced navigation.
type Navigator = nav.Navigator
