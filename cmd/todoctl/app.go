package main

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tyemirov/todoctl/internal/session"
	"github.com/tyemirov/todoctl/internal/tasks"
)

const sessionEndedNotice = "session ended; run `todoctl login`"

// application bundles the collaborators a client command needs.
type application struct {
	config  ClientConfig
	logger  *zap.Logger
	client  *session.Client
	tasks   *tasks.Service
	out     io.Writer
	closers []io.Closer

	registry *prometheus.Registry
}

func newLogger(verbose bool) (*zap.Logger, error) {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		loggerConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	loggerConfig.OutputPaths = []string{"stderr"}
	loggerConfig.ErrorOutputPaths = []string{"stderr"}
	return loggerConfig.Build()
}

func openApplication(command *cobra.Command) (*application, error) {
	clientConfig, err := clientConfigFrom(command)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(clientConfig.Verbose)
	if err != nil {
		return nil, err
	}
	if dirErr := ensureStoreDirectory(clientConfig.CredentialStore); dirErr != nil {
		return nil, fmt.Errorf("credential_store.prepare_directory: %w", dirErr)
	}
	store, storeLabel, err := session.OpenCredentialStore(commandContext(command), clientConfig.CredentialStore)
	if err != nil {
		return nil, err
	}
	logger.Debug("credential store opened", zap.String("backend", storeLabel))

	registry := prometheus.NewRegistry()
	metrics, err := session.NewPrometheusMetrics(registry)
	if err != nil {
		closeQuietly(store)
		return nil, err
	}

	errOut := command.ErrOrStderr()
	client, err := session.New(session.Config{
		BaseURL:        clientConfig.APIURL,
		Store:          store,
		Logger:         logger,
		Metrics:        metrics,
		RefreshTimeout: clientConfig.RefreshTimeout,
		RequestTimeout: clientConfig.RequestTimeout,
		OnSessionEnded: func(session.SessionEndedEvent) {
			fmt.Fprintln(errOut, sessionEndedNotice)
		},
	})
	if err != nil {
		closeQuietly(store)
		return nil, err
	}

	app := &application{
		config: clientConfig,
		logger: logger,
		client: client,
		tasks:    tasks.NewService(client, logger),
		out:      command.OutOrStdout(),
		registry: registry,
	}
	if closer, ok := store.(io.Closer); ok {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

func (app *application) Close() {
	if app.config.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(app.config.MetricsFile, app.registry); err != nil {
			app.logger.Warn("metrics file not written",
				zap.String("code", "cli.metrics_file.write_failed"),
				zap.String("path", app.config.MetricsFile),
				zap.Error(err))
		}
	}
	for _, closer := range app.closers {
		closeQuietly(closer)
	}
	_ = app.logger.Sync()
}

func closeQuietly(value any) {
	if closer, ok := value.(io.Closer); ok {
		_ = closer.Close()
	}
}

// withApplication adapts a client command body into a cobra RunE.
func withApplication(run func(command *cobra.Command, arguments []string, app *application) error) func(*cobra.Command, []string) error {
	return func(command *cobra.Command, arguments []string) error {
		app, err := openApplication(command)
		if err != nil {
			return err
		}
		defer app.Close()
		return run(command, arguments, app)
	}
}
