package db

import (
	"fmt"
	"net"
	"strconv"

	sqldriver "github.com/go-sql-driver/mysql"
	"github.com/zulandar/costdesk/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN. An empty database selects no schema, which is what
// CREATE DATABASE needs.
func DSN(host string, port int, user, password, database string) string {
	c := sqldriver.NewConfig()
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.User = user
	c.Passwd = password
	c.DBName = database
	c.ParseTime = true
	return c.FormatDSN()
}

// Open connects to the registry database described by cfg and migrates it.
func Open(cfg config.RegistryConfig) (*gorm.DB, error) {
	var (
		gdb *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		gdb, err = ConnectSQLite(cfg.Path)
	case "mysql":
		admin, aerr := ConnectAdmin(cfg.Host, cfg.Port, cfg.User, cfg.Password)
		if aerr != nil {
			return nil, aerr
		}
		if cerr := CreateDatabase(admin, cfg.Database); cerr != nil {
			return nil, cerr
		}
		closeDB(admin)
		gdb, err = Connect(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Connect opens a GORM connection to a MySQL database.
func Connect(host string, port int, user, password, database string) (*gorm.DB, error) {
	dsn := DSN(host, port, user, password, database)
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return gdb, nil
}

// ConnectAdmin opens a GORM connection to the MySQL server without selecting
// a specific database, used for CREATE DATABASE operations.
func ConnectAdmin(host string, port int, user, password string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(DSN(host, port, user, password, "")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", host, port, err)
	}
	return gdb, nil
}

// ConnectSQLite opens a sqlite database. An in-memory database is pinned to a
// single connection, since every new connection would see an empty schema.
func ConnectSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return nil
}

func closeDB(gdb *gorm.DB) {
	_ = Close(gdb)
}
