package app

import (
	"context"
	"fmt"

	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/storage"
	"agent-triggers/internal/storage/sqlstore"
)

func (app *App) initializeStorage(ctx context.Context) error {
	cipher, err := storage.NewSecretCipher(app.Config.ConfigEncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize secret encryption: %w", err)
	}
	if cipher.Enabled() {
		app.Logger.Info("Webhook secret encryption enabled")
	} else {
		app.Logger.Warn("CONFIG_ENCRYPTION_KEY not set, webhook secrets are stored in plaintext")
	}

	var dbConfig sqlstore.Config
	switch app.Config.DatabaseType {
	case "postgres":
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
		dbConfig = sqlstore.Config{Dialect: sqlstore.DialectPostgres, DSN: app.Config.PostgresDSN(), MaxOpenConns: 20}
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
		dbConfig = sqlstore.Config{Dialect: sqlstore.DialectSQLite, DSN: app.Config.DatabasePath}
	}

	store, err := sqlstore.Open(ctx, dbConfig, cipher, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.onClose(store.Close)

	// Run database migrations
	if err := sqlstore.NewMigrationManager(store, app.Logger).RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	app.Store = store
	return nil
}
