package database

import (
	"fmt"
	"strings"

	"inventorybot/internal/config"
	"inventorybot/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector picks the gorm dialector for a DATABASE_URL
func Dialector(databaseURL string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://")), nil
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return postgres.Open(databaseURL), nil
	case strings.HasPrefix(databaseURL, "mysql://"):
		return mysql.Open(MySQLDSN(strings.TrimPrefix(databaseURL, "mysql://"))), nil
	default:
		return nil, fmt.Errorf("unsupported database URL format: %s", redact(databaseURL))
	}
}

// MySQLDSN makes sure UPDATE reports matched rows instead of changed rows,
// otherwise re-uploading an identical row would look like "no match" and insert a duplicate.
func MySQLDSN(dsn string) string {
	if strings.Contains(dsn, "clientFoundRows=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "clientFoundRows=true"
	if !strings.Contains(dsn, "parseTime=") {
		dsn += "&parseTime=true"
	}
	if !strings.Contains(dsn, "charset=") {
		dsn += "&charset=utf8mb4"
	}
	return dsn
}

// Open connects to the configured database, configures the pool and pings it
func Open(opts config.DatabaseOptions, log *logrus.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(opts.URL)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Warn)
	if log != nil && log.IsLevelEnabled(logrus.DebugLevel) {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if log != nil {
		log.WithFields(logrus.Fields{
			"max_open":     opts.MaxOpenConns,
			"max_idle":     opts.MaxIdleConns,
			"max_lifetime": opts.ConnMaxLifetime,
		}).Info("Database connection pool configured")
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

// AutoMigrate creates the bot-owned tables. Inventory tables are never migrated.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.IngestionRun{}, &models.ScheduledJob{})
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func redact(databaseURL string) string {
	if i := strings.Index(databaseURL, "@"); i >= 0 {
		if j := strings.Index(databaseURL, "://"); j >= 0 && j < i {
			return databaseURL[:j+3] + "***" + databaseURL[i:]
		}
	}
	return databaseURL
}
