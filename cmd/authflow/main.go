// Package main provides the entry point of the authflow agent. It serves the loopback
// login pages, or runs a single login, logout, status or refresh command and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/growgrammers/authflow/internal/auth/oauthstate"
	"github.com/growgrammers/authflow/internal/buildinfo"
	"github.com/growgrammers/authflow/internal/cmd"
	"github.com/growgrammers/authflow/internal/config"
	"github.com/growgrammers/authflow/internal/logging"
	"github.com/growgrammers/authflow/internal/misc"
	"github.com/growgrammers/authflow/internal/provider"
	"github.com/growgrammers/authflow/sdk/authflow"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var initConfig bool
	var loginWith string
	var linkWith string
	var emailAddress string
	var logout bool
	var status bool
	var refresh bool
	var whoami bool
	var noBrowser bool
	var timeout time.Duration
	var showVersion bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&initConfig, "init-config", false, "Write config.example.yaml to the config path and exit")
	flag.StringVar(&loginWith, "login", "", "Sign in with `provider` (google, kakao, naver or email)")
	flag.StringVar(&linkWith, "link", "", "Link `provider` to the signed-in account")
	flag.StringVar(&emailAddress, "email", "", "Email `address` for -login email")
	flag.BoolVar(&logout, "logout", false, "Sign out and remove local credentials")
	flag.BoolVar(&status, "status", false, "Print the authentication status as JSON")
	flag.BoolVar(&refresh, "refresh", false, "Refresh the access token now")
	flag.BoolVar(&whoami, "whoami", false, "Print the signed-in user")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.DurationVar(&timeout, "timeout", cmd.DefaultLoginTimeout, "How long to wait for the provider callback")
	flag.BoolVar(&showVersion, "version", false, "Print version information")

	flag.CommandLine.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "Usage of %s\n", os.Args[0])
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			s := fmt.Sprintf("  -%s", f.Name)
			name, unquoteUsage := flag.UnquoteUsage(f)
			if name != "" {
				s += " " + name
			}
			if len(s) <= 4 {
				s += "	"
			} else {
				s += "\n    "
			}
			if unquoteUsage != "" {
				s += unquoteUsage
			}
			if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
				s += fmt.Sprintf(" (default %s)", f.DefValue)
			}
			_, _ = fmt.Fprint(out, s+"\n")
		})
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("authflow Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return 0
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return 1
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
	}
	if initConfig {
		if errCopy := misc.CopyConfigTemplate(filepath.Join(wd, "config.example.yaml"), configPath); errCopy != nil {
			log.Errorf("failed to write config: %v", errCopy)
			return 1
		}
		fmt.Printf("Configuration written to %s\n", configPath)
		return 0
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := authflow.NewBuilder().WithConfig(cfg).WithConfigPath(configPath).Build(ctx)
	if err != nil {
		log.Errorf("failed to start authflow: %v", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = agent.Close(closeCtx)
	}()
	if err = agent.Init(ctx); err != nil {
		log.Errorf("failed to initialize session: %v", err)
		return 1
	}

	options := &cmd.LoginOptions{NoBrowser: noBrowser, Timeout: timeout}
	switch {
	case loginWith != "":
		p, errParse := provider.ParseMethod(loginWith)
		if errParse != nil {
			log.Error(errParse)
			return 2
		}
		if p == provider.Email {
			err = cmd.DoEmailLogin(ctx, agent, emailAddress, options)
		} else {
			err = cmd.DoOAuthLogin(ctx, agent, p, oauthstate.ModeLogin, options)
		}
	case linkWith != "":
		p, errParse := provider.Parse(linkWith)
		if errParse != nil {
			log.Error(errParse)
			return 2
		}
		err = cmd.DoOAuthLogin(ctx, agent, p, oauthstate.ModeLink, options)
	case logout:
		err = cmd.DoLogout(ctx, agent, os.Stdout)
	case status:
		err = cmd.DoStatus(ctx, agent, os.Stdout)
	case refresh:
		err = cmd.DoRefresh(ctx, agent, os.Stdout)
	case whoami:
		err = cmd.DoWhoAmI(ctx, agent, os.Stdout, true)
	default:
		fmt.Printf("authflow Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		err = cmd.StartService(ctx, agent, configPath)
	}
	if err != nil {
		log.Error(err)
		return 1
	}
	return 0
}
