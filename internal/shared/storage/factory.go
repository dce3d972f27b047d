package storage

import (
	"fmt"
	"strings"

	postgresdriver "testforge/internal/shared/storage/driver/postgres"
	sqlitedriver "testforge/internal/shared/storage/driver/sqlite"
	"testforge/internal/shared/storage/repository"
)

// NewSQLiteStore 创建 SQLite 持久化存储（开发环境与测试默认）
func NewSQLiteStore(dsn string) (PersistentStore, error) {
	dialect := sqlitedriver.NewDialect()
	db, err := sqlitedriver.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return repository.NewStore(db, dialect), nil
}

// NewPostgresStore 创建 PostgreSQL 持久化存储（生产环境）
func NewPostgresStore(dsn string) (PersistentStore, error) {
	dialect := postgresdriver.NewDialect()
	db, err := postgresdriver.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return repository.NewStore(db, dialect), nil
}

// NewPersistentStoreFromDSN 根据 DSN 前缀选择驱动
//
// postgres://... 或 postgresql://... -> PostgreSQL
// 其余 -> SQLite（文件路径或 file: DSN）
func NewPersistentStoreFromDSN(dsn string) (PersistentStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(dsn)
	}
	return NewSQLiteStore(dsn)
}
