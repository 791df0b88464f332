package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/todoctl/internal/devapi"
)

const defaultAPIURL = "http://127.0.0.1:8000/api/"

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "todoctl",
		Short:             "Task manager client with bearer sessions that renew themselves",
		SilenceUsage:      true,
		PersistentPreRunE: readConfigFile,
	}

	rootCmd.PersistentFlags().String("api_url", defaultAPIURL, "Task API root URL")
	rootCmd.PersistentFlags().String("credential_store", defaultCredentialStoreURL(), "Credential store URL (memory://, sqlite://path, postgres://..., redis://...)")
	rootCmd.PersistentFlags().Duration("refresh_timeout", 10*time.Second, "Upper bound for a single credential refresh")
	rootCmd.PersistentFlags().Duration("request_timeout", 30*time.Second, "Upper bound for a single API request")
	rootCmd.PersistentFlags().String("metrics_file", "", "Write this run's session metrics to a file in Prometheus text format")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().String("config", "", "Optional config file (yaml, toml, or json)")

	_ = viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api_url"))
	_ = viper.BindPFlag("credential_store", rootCmd.PersistentFlags().Lookup("credential_store"))
	_ = viper.BindPFlag("refresh_timeout", rootCmd.PersistentFlags().Lookup("refresh_timeout"))
	_ = viper.BindPFlag("request_timeout", rootCmd.PersistentFlags().Lookup("request_timeout"))
	_ = viper.BindPFlag("metrics_file", rootCmd.PersistentFlags().Lookup("metrics_file"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	viper.SetEnvPrefix("TODOCTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newStatusCommand(),
		newRegisterCommand(),
		newTasksCommand(),
		newCategoriesCommand(),
		newStatsCommand(),
		newServeDevCommand(),
	)
	return rootCmd
}

func newServeDevCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "serve-dev",
		Short:   "Run an in-memory task API for local development",
		Args:    cobra.NoArgs,
		PreRunE: prepareDevServerConfig,
		RunE:    runServeDev,
	}

	command.Flags().String("listen_addr", ":8000", "HTTP listen address")
	command.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	command.Flags().Duration("access_ttl", 5*time.Minute, "Access token lifetime")
	command.Flags().Duration("refresh_ttl", 24*time.Hour, "Refresh token lifetime")
	command.Flags().Bool("rotate_refresh", false, "Issue a new refresh token on every refresh")
	command.Flags().Bool("enable_cors", false, "Enable CORS for browser clients")
	command.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	command.Flags().String("demo_user", "", "Username of an account created at startup")
	command.Flags().String("demo_password", "", "Password of the startup account")

	_ = viper.BindPFlag("listen_addr", command.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", command.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("access_ttl", command.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", command.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("rotate_refresh", command.Flags().Lookup("rotate_refresh"))
	_ = viper.BindPFlag("enable_cors", command.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", command.Flags().Lookup("cors_allowed_origins"))
	_ = viper.BindPFlag("demo_user", command.Flags().Lookup("demo_user"))
	_ = viper.BindPFlag("demo_password", command.Flags().Lookup("demo_password"))

	return command
}

// buildDevServer constructs the dev API and seeds the demo account when configured.
func buildDevServer(ctx context.Context, devServerConfig DevServerConfig, logger *zap.Logger) (*devapi.Server, error) {
	server, err := devapi.NewServer(devapi.Options{
		Config: devServerConfig.API,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if devServerConfig.DemoUser == "" {
		return server, nil
	}
	if _, registerErr := server.Users().Register(ctx, devapi.Registration{
		Username:  devServerConfig.DemoUser,
		Password:  devServerConfig.DemoPassword,
		FirstName: devServerConfig.DemoUser,
	}); registerErr != nil {
		return nil, fmt.Errorf("serve_dev.demo_user: %w", registerErr)
	}
	logger.Info("demo account ready", zap.String("username", devServerConfig.DemoUser))
	return server, nil
}

func runServeDev(command *cobra.Command, arguments []string) error {
	devServerConfig, err := devServerConfigFrom(command)
	if err != nil {
		return err
	}
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	api, err := buildDevServer(commandContext(command), devServerConfig, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              devServerConfig.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", devServerConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
