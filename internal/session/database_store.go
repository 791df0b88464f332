package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("credential_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("credential_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("credential_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("credential_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("credential_store.unsupported_no_scheme")
)

// DatabaseCredentialStore persists the credential pair as two key/value rows using GORM.
type DatabaseCredentialStore struct {
	db          *gorm.DB
	driverLabel string
}

type credentialRecord struct {
	Key           string `gorm:"column:entry_key;primaryKey"`
	Value         string `gorm:"column:entry_value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (credentialRecord) TableName() string {
	return "client_credentials"
}

// NewDatabaseCredentialStore opens the database named by databaseURL
// (postgres:// or sqlite://) and migrates the credential table.
func NewDatabaseCredentialStore(ctx context.Context, databaseURL string) (*DatabaseCredentialStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("credential_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("credential_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credential_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseCredentialStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseCredentialStore) Driver() string {
	return store.driverLabel
}

// Load reads both rows; absent rows yield empty fields.
func (store *DatabaseCredentialStore) Load(ctx context.Context) (Credentials, error) {
	var records []credentialRecord
	err := store.db.WithContext(ctx).
		Where("entry_key IN ?", []string{AccessTokenKey, RefreshTokenKey}).
		Find(&records).Error
	if err != nil {
		return Credentials{}, fmt.Errorf("credential_store.load.%s: %w", store.driverLabel, err)
	}
	var credentials Credentials
	for _, record := range records {
		switch record.Key {
		case AccessTokenKey:
			credentials.AccessToken = record.Value
		case RefreshTokenKey:
			credentials.RefreshToken = record.Value
		}
	}
	return credentials, nil
}

// Save upserts both rows inside one transaction.
func (store *DatabaseCredentialStore) Save(ctx context.Context, credentials Credentials) error {
	if !credentials.HasAccess() {
		return fmt.Errorf("credential_store.save.%s: %w", store.driverLabel, ErrEmptyAccessToken)
	}
	nowUnix := time.Now().UTC().Unix()
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		upsert := transaction.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_unix"}),
		})
		if err := upsert.Create(&credentialRecord{Key: AccessTokenKey, Value: credentials.AccessToken, UpdatedAtUnix: nowUnix}).Error; err != nil {
			return err
		}
		if !credentials.HasRefresh() {
			return transaction.Where("entry_key = ?", RefreshTokenKey).Delete(&credentialRecord{}).Error
		}
		return upsert.Create(&credentialRecord{Key: RefreshTokenKey, Value: credentials.RefreshToken, UpdatedAtUnix: nowUnix}).Error
	})
	if err != nil {
		return fmt.Errorf("credential_store.save.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Clear deletes both rows. Deleting absent rows is not an error.
func (store *DatabaseCredentialStore) Clear(ctx context.Context) error {
	err := store.db.WithContext(ctx).
		Where("entry_key IN ?", []string{AccessTokenKey, RefreshTokenKey}).
		Delete(&credentialRecord{}).Error
	if err != nil {
		return fmt.Errorf("credential_store.clear.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *DatabaseCredentialStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("credential_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("credential_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("credential_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("credential_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
