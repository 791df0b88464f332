package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tyemirov/todoctl/internal/devapi"
)

const (
	configCodeMissingAPIURL          = "config.missing_api_url"
	configCodeInvalidAPIURL          = "config.invalid_api_url"
	configCodeMissingCredentialStore = "config.missing_credential_store"
	configCodeInvalidRefreshTimeout  = "config.invalid_refresh_timeout"
	configCodeInvalidRequestTimeout  = "config.invalid_request_timeout"
	configCodeMissingJWTSigningKey   = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL       = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL      = "config.invalid_refresh_ttl"
	configCodeMissingCORSOrigins     = "config.missing_cors_allowed_origins"
	configCodeIncompleteDemoUser     = "config.incomplete_demo_user"
	configCodeUninitializedConfig    = "config.uninitialized_config"
	configCodeReadConfigFile         = "config.read_config_file"
)

type contextKey string

const (
	clientConfigContextKey    contextKey = "clientConfig"
	devServerConfigContextKey contextKey = "devServerConfig"
)

// ClientConfig holds everything the API-facing commands need.
type ClientConfig struct {
	APIURL          string
	CredentialStore string
	RefreshTimeout  time.Duration
	RequestTimeout  time.Duration
	// MetricsFile receives the run's session counters in Prometheus text format.
	MetricsFile     string
	Verbose         bool
}

// DevServerConfig holds the serve-dev settings.
type DevServerConfig struct {
	ListenAddr   string
	API          devapi.Config
	DemoUser     string
	DemoPassword string
	Verbose      bool
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig validates the client settings held by viper.
func LoadClientConfig() (ClientConfig, error) {
	apiURL := strings.TrimSpace(viper.GetString("api_url"))
	if apiURL == "" {
		return ClientConfig{}, configError(configCodeMissingAPIURL, "api_url must be provided")
	}
	parsed, parseErr := url.Parse(apiURL)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ClientConfig{}, configError(configCodeInvalidAPIURL, "api_url must be an absolute http(s) URL")
	}

	credentialStore := strings.TrimSpace(viper.GetString("credential_store"))
	if credentialStore == "" {
		return ClientConfig{}, configError(configCodeMissingCredentialStore, "credential_store must be provided")
	}

	refreshTimeout := viper.GetDuration("refresh_timeout")
	if refreshTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidRefreshTimeout, "refresh_timeout must be greater than zero")
	}
	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidRequestTimeout, "request_timeout must be greater than zero")
	}

	return ClientConfig{
		APIURL:          apiURL,
		CredentialStore: credentialStore,
		RefreshTimeout:  refreshTimeout,
		RequestTimeout:  requestTimeout,
		MetricsFile:     strings.TrimSpace(viper.GetString("metrics_file")),
		Verbose:         viper.GetBool("verbose"),
	}, nil
}

// LoadDevServerConfig validates the serve-dev settings held by viper.
func LoadDevServerConfig() (DevServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return DevServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}
	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return DevServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}
	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return DevServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return DevServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}
	demoUser := strings.TrimSpace(viper.GetString("demo_user"))
	demoPassword := viper.GetString("demo_password")
	if (demoUser == "") != (demoPassword == "") {
		return DevServerConfig{}, configError(configCodeIncompleteDemoUser, "demo_user and demo_password must be provided together")
	}
	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = ":8000"
	}

	return DevServerConfig{
		ListenAddr: listenAddr,
		API: devapi.Config{
			SigningKey:         []byte(jwtSigningKey),
			AccessTTL:          accessTTL,
			RefreshTTL:         refreshTTL,
			RotateRefresh:      viper.GetBool("rotate_refresh"),
			EnableCORS:         enableCORS,
			CORSAllowedOrigins: corsAllowedOrigins,
		},
		DemoUser:     demoUser,
		DemoPassword: demoPassword,
		Verbose:      viper.GetBool("verbose"),
	}, nil
}

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), clientConfigContextKey, clientConfig))
	return nil
}

func prepareDevServerConfig(command *cobra.Command, arguments []string) error {
	devServerConfig, loadErr := LoadDevServerConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), devServerConfigContextKey, devServerConfig))
	return nil
}

func clientConfigFrom(command *cobra.Command) (ClientConfig, error) {
	clientConfig, ok := commandContext(command).Value(clientConfigContextKey).(ClientConfig)
	if !ok {
		return ClientConfig{}, configError(configCodeUninitializedConfig, "client configuration not prepared; PreRunE must execute before RunE")
	}
	return clientConfig, nil
}

func devServerConfigFrom(command *cobra.Command) (DevServerConfig, error) {
	devServerConfig, ok := commandContext(command).Value(devServerConfigContextKey).(DevServerConfig)
	if !ok {
		return DevServerConfig{}, configError(configCodeUninitializedConfig, "dev server configuration not prepared; PreRunE must execute before RunE")
	}
	return devServerConfig, nil
}

func commandContext(command *cobra.Command) context.Context {
	if existing := command.Context(); existing != nil {
		return existing
	}
	return context.Background()
}

func readConfigFile(command *cobra.Command, arguments []string) error {
	configPath := viper.GetString("config")
	if configPath == "" {
		return nil
	}
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		return configError(configCodeReadConfigFile, err.Error())
	}
	return nil
}

// defaultCredentialStoreURL points at a sqlite file in the user's config directory.
func defaultCredentialStoreURL() string {
	configDir, err := os.UserConfigDir()
	if err != nil || configDir == "" {
		return "memory://"
	}
	return "sqlite://" + filepath.ToSlash(filepath.Join(configDir, "todoctl", "credentials.db"))
}

// ensureStoreDirectory creates the parent directory of a sqlite credential file.
func ensureStoreDirectory(storeURL string) error {
	parsed, err := url.Parse(storeURL)
	if err != nil {
		return nil
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "sqlite" && scheme != "sqlite3" {
		return nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
