package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and migrates the chat hub
// tables. driver is one of sqlite, postgres, mysql.
func Open(driver, dsn string) (*gorm.DB, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", driver)
	}

	if driver == "sqlite" {
		// sqlite allows a single writer; serialize through one connection.
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, errors.Wrap(err, "get sql.DB")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// AutoMigrate creates or updates the chat hub tables.
func AutoMigrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&ChatHubSession{},
		&ChatHubMessage{},
		&ChatHubAgent{},
		&Credential{},
		&CredentialLink{},
		&Workflow{},
	)
	return errors.Wrap(err, "auto migrate")
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		cfg, err := mysqlDriver.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "parse mysql dsn")
		}
		// Timestamps must come back as time.Time.
		cfg.ParseTime = true
		return mysql.Open(cfg.FormatDSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
