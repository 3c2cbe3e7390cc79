// File: internal/repository/db.go
package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/iyunix/go-localchat/internal/domain"
)

// Logger is the logging surface repositories write technical detail to.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Options controls how the database handle is opened.
type Options struct {
	Driver       string // "sqlite" or "postgres"
	DSN          string
	Debug        bool
	MaxOpenConns int
}

// Open returns a gorm handle for the configured driver.
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "localchat.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if opts.DSN == "" {
			return nil, errors.New("postgres driver requires a DSN")
		}
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	level := gormlogger.Silent
	if opts.Debug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	} else if strings.ToLower(opts.Driver) != "postgres" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table the application uses.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Project{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Document{},
		&domain.DocumentChunk{},
	)
	return errors.Wrap(err, "auto migrate")
}
