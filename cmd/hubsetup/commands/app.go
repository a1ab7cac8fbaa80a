package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hubsetup/pkg/auth"
	"github.com/openfroyo/hubsetup/pkg/config"
	"github.com/openfroyo/hubsetup/pkg/datahub"
	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/httpclient"
	"github.com/openfroyo/hubsetup/pkg/platform"
	"github.com/openfroyo/hubsetup/pkg/state"
	"github.com/openfroyo/hubsetup/pkg/steps"
	"github.com/openfroyo/hubsetup/pkg/stores"
	"github.com/openfroyo/hubsetup/pkg/telemetry"
)

// serviceVersion is reported in traces. It is set by newRootCommand.
var serviceVersion = "dev"

// app holds everything a command needs for one invocation.
type app struct {
	file     *config.File
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	store    *state.Store
	settings *config.Settings
	prompter config.Prompter
	registry *engine.Registry
	engine   *engine.Engine

	journalDB *stores.SQLiteStore
	journal   *stores.Journal
}

type appOptions struct {
	// interactive prompts for missing settings.
	interactive bool

	// journal opens the run journal when the config enables it.
	journal bool
}

// loadTelemetry reads --config and starts logging, metrics and tracing.
func loadTelemetry(cmd *cobra.Command) (*config.File, *telemetry.Telemetry, error) {
	file, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}

	tcfg := file.Telemetry("hubsetup", serviceVersion)
	if lvl := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); lvl != "" {
		tcfg.Logging.Level = lvl
	}
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	var logOut = cmd.ErrOrStderr()
	if tcfg.Logging.Output != "" && tcfg.Logging.Output != "stderr" {
		logOut = nil
	}
	tel, err := telemetry.NewTelemetry(tcfg, logOut)
	if err != nil {
		return nil, nil, engine.NewConfigurationError("failed to initialize telemetry", err)
	}
	return file, tel, nil
}

// openApp loads the configuration and state and wires the step catalogue.
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	file, tel, err := loadTelemetry(cmd)
	if err != nil {
		return nil, err
	}
	// API wrappers find the tracer and logger through the command context.
	cmd.SetContext(tel.WithContext(cmd.Context()))
	a := &app{
		file:     file,
		tel:      tel,
		logger:   tel.Logger,
		prompter: newPrompter(cmd),
	}

	a.store, err = state.LoadOrCreate(stateFile)
	if err != nil {
		a.close(cmd.Context())
		return nil, err
	}
	a.logger.WithField("state_file", stateFile).Debug("State loaded")

	a.settings, err = config.Load(config.LoadOptions{
		StateConfig: a.store.Config(),
		Prompter:    a.prompter,
		Interactive: opts.interactive,
	})
	if err != nil {
		a.close(cmd.Context())
		return nil, err
	}

	deps := a.stepDeps()
	a.registry, err = steps.NewRegistry(deps)
	if err != nil {
		a.close(cmd.Context())
		return nil, err
	}

	if opts.journal && file.Journal.Enabled {
		if err := a.openJournal(cmd.Context()); err != nil {
			a.logger.WithError(err).Warn("Run journal unavailable, continuing without it")
		}
	}

	engineOpts := engine.Options{
		Logger:  a.logger,
		Metrics: tel.Metrics,
		Tracer:  tel.Tracer,
	}
	if a.journal != nil {
		engineOpts.Recorder = a.journal
	}
	a.engine = engine.New(a.registry, a.store, engineOpts)
	return a, nil
}

// stepDeps builds the API wrappers. Without platform credentials the wrappers
// are left nil and steps that need them fail with a configuration error.
func (a *app) stepDeps() steps.Deps {
	deps := steps.Deps{
		Prompter: a.prompter,
		Logger:   a.logger,
	}
	if !a.settings.HasCredentials() || a.settings.AccountID == "" {
		return deps
	}

	clientOpts := a.file.ClientOptions()
	clientOpts.Logger = a.logger
	clientOpts.Metrics = a.tel.Metrics
	clientOpts.Tracer = a.tel.Tracer

	platformOpts := clientOpts
	platformOpts.Authorization = httpclient.NewBoomiToken(a.settings.User, a.settings.Token)
	client := httpclient.New(platformOpts)

	store := a.store
	settings := a.settings
	negotiator := auth.New(auth.Options{
		Credentials: func() auth.Credentials {
			creds := settings.Credentials()
			if creds.HubUser == "" {
				creds.HubUser = store.ConfigString(state.ConfigDataHubUser)
			}
			if creds.HubToken == "" {
				creds.HubToken = store.ConfigString(state.ConfigDataHubToken)
			}
			return creds
		},
		ProbeTarget: func() (string, bool) {
			return datahub.ProbeURL(store)
		},
		ConfirmedStatuses: a.file.Auth.ConfirmedStatuses,
		ProbeTimeout:      a.file.Auth.ProbeTimeout,
		ClientOptions:     clientOpts,
		Logger:            a.logger,
		Metrics:           a.tel.Metrics,
	})

	deps.Negotiator = negotiator
	deps.Platform = platform.New(client, platform.Options{
		BaseURL:   a.settings.PlatformBaseURL(),
		AccountID: a.settings.AccountID,
		Logger:    a.logger,
	})
	deps.DataHub = datahub.New(client, datahub.Options{
		BaseURL:    a.settings.DataHubBaseURL(),
		Tenant:     store,
		Negotiator: negotiator,
		Logger:     a.logger,
		Metrics:    a.tel.Metrics,
	})
	return deps
}

func (a *app) openJournal(ctx context.Context) error {
	db, err := stores.Open(ctx, journalPath(a.file))
	if err != nil {
		return err
	}
	a.journalDB = db
	a.journal = stores.NewJournal(db)
	return nil
}

// journalPath resolves a relative journal path against the state file directory.
func journalPath(file *config.File) string {
	path := file.Journal.Path
	if path == "" {
		path = config.DefaultJournalPath
	}
	if path == stores.MemoryPath || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(stateFile), path)
}

// close flushes telemetry and closes the journal. Errors are logged.
func (a *app) close(ctx context.Context) {
	if a.journalDB != nil {
		if err := a.journalDB.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close run journal")
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.WithError(err).Warn("Failed to flush telemetry")
		}
	}
}

// newPrompter prompts on the real terminal unless the command's input was
// redirected.
func newPrompter(cmd *cobra.Command) config.Prompter {
	if in := cmd.InOrStdin(); in != os.Stdin {
		return config.NewPrompter(in, cmd.ErrOrStderr())
	}
	return config.NewTerminalPrompter()
}
