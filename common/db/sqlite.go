package db

import (
	"fmt"
	"strings"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite opens a pure-Go SQLite database through gorm.
// ":memory:" gives an isolated database pinned to one connection.
func OpenSQLite(path string, log *logger.Logger) (*gorm.DB, error) {
	dsn := path
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite serializes writers; one connection keeps :memory: databases shared
	sqlDB.SetMaxOpenConns(1)

	if log != nil {
		log.Info("sqlite opened", "path", path)
	}
	return gdb, nil
}
